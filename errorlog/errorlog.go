// Package errorlog records processing and delivery failures in an append-only
// JSON-lines file, one document per failure, for offline inspection and replay
// bookkeeping.
package errorlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/relex/gotils/logger"
	promexporter "github.com/relex/gotils/promexporter/promext"

	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
)

const (
	// ClassTransformFailure marks records or batches the transformer could not process
	ClassTransformFailure = "transform"

	// ClassDeliveryFailure marks chunks given up on after delivery attempts
	ClassDeliveryFailure = "delivery"
)

// Entry is one failure record
type Entry struct {
	Time      time.Time `json:"time"`
	ChunkID   string    `json:"chunkId"`   // backup object holding the failed payload, if one was written
	Class     string    `json:"class"`     // ClassTransformFailure or ClassDeliveryFailure
	LogGroup  string    `json:"logGroup"`  // source log group
	LogStream string    `json:"logStream"` // source log stream
	Message   string    `json:"message"`   // failure reason
}

// Config defines the error log location
type Config struct {
	Path string `yaml:"path"` // error log file, created on first open
}

// VerifyConfig verifies error log config
func (cfg *Config) VerifyConfig() error {
	if cfg.Path == "" {
		return fmt.Errorf(".path is unspecified")
	}
	return nil
}

// Log is an append-only failure log shared by all delivery workers
type Log struct {
	logger        logger.Logger
	writeLock     sync.Mutex
	file          *os.File
	appendedTotal *promexporter.RWCounterVec // by class
}

// NewLog opens or creates the error log file for appending
func NewLog(parentLogger logger.Logger, cfg Config, metricFactory *base.MetricFactory) (*Log, error) {
	file, oerr := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if oerr != nil {
		return nil, fmt.Errorf("failed to open error log '%s': %w", cfg.Path, oerr)
	}
	return &Log{
		logger:        parentLogger.WithField(defs.LabelComponent, "ErrorLog"),
		file:          file,
		appendedTotal: metricFactory.AddOrGetCounterVec("errorlog_entries_total", "Numbers of error log entries appended by class", []string{"class"}, nil),
	}, nil
}

// Append writes one entry as a JSON line; entries from concurrent workers never interleave
func (log *Log) Append(entry Entry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	line, merr := json.Marshal(entry)
	if merr != nil {
		return merr
	}
	line = append(line, '\n')

	log.writeLock.Lock()
	defer log.writeLock.Unlock()
	if log.file == nil {
		return fmt.Errorf("error log is closed")
	}
	if _, werr := log.file.Write(line); werr != nil {
		return fmt.Errorf("failed to append error log: %w", werr)
	}
	log.appendedTotal.WithLabelValues(entry.Class).Inc()
	return nil
}

// Close flushes and closes the underlying file; Append fails afterwards
func (log *Log) Close() {
	log.writeLock.Lock()
	defer log.writeLock.Unlock()
	if log.file == nil {
		return
	}
	if err := log.file.Close(); err != nil {
		log.logger.Errorf("failed to close error log: %s", err.Error())
	}
	log.file = nil
}
