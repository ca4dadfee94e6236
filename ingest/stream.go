// Package ingest provides the partitioned append log buffering batches between
// the subscription filters (producers) and the delivery workers (the single
// logical consumer group).
//
// Partitions are created on demand the first time a key is appended, mimicking
// on-demand capacity mode: there is no fixed partition count to manage. Each
// partition has exactly one reader, so intra-partition order is kept without
// locking; there is no ordering across partitions.
package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync"
	"github.com/relex/gotils/logger"
	promexporter "github.com/relex/gotils/promexporter/promext"

	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
)

// Entry is one appended batch: the raw envelope payload plus the routing metadata
// extracted at subscription time
//
// Raw is kept unmodified so the transformer receives exactly what the source produced
type Entry struct {
	Key       string    // partition key, one per source log stream
	LogGroup  string    // source log group, for backup metadata
	LogStream string    // source log stream, for backup metadata
	NumEvents int       // numbers of log events inside Raw, for statistics
	Raw       []byte    // unmodified envelope payload
	Arrived   time.Time // append time, drives retention
}

// Expired tells whether the entry has outlived the retention window at the given time
func (entry Entry) Expired(now time.Time, retention time.Duration) bool {
	return now.Sub(entry.Arrived) > retention
}

// WorkerLauncher starts the delivery worker for a newly created partition
//
// The worker must drain the input channel and call onStopped at the end; the channel is closed on shutdown
type WorkerLauncher func(parentLogger logger.Logger, key string, input <-chan Entry, onStopped func())

// Config for the ingest stream
type Config struct {
	PartitionQueueSize int           `yaml:"partitionQueueSize"` // pending batches per partition, 0 = defs default
	Retention          time.Duration `yaml:"retention"`          // how long unconsumed batches stay deliverable, 0 = defs default
}

// VerifyConfig verifies ingest stream config
func (cfg *Config) VerifyConfig() error {
	if cfg.PartitionQueueSize < 0 {
		return fmt.Errorf(".partitionQueueSize must not be negative: %d", cfg.PartitionQueueSize)
	}
	if cfg.Retention < 0 {
		return fmt.Errorf(".retention must not be negative: %s", cfg.Retention)
	}
	return nil
}

// QueueSizeOrDefault returns the configured per-partition queue size or the package default
func (cfg *Config) QueueSizeOrDefault() int {
	if cfg.PartitionQueueSize > 0 {
		return cfg.PartitionQueueSize
	}
	return defs.IngestPartitionQueueSize
}

// RetentionOrDefault returns the configured retention window or the package default
func (cfg *Config) RetentionOrDefault() time.Duration {
	if cfg.Retention > 0 {
		return cfg.Retention
	}
	return defs.IngestRetentionWindow
}

type partition struct {
	key   string
	input chan Entry
}

// Stream is the partitioned append log between subscription filters and delivery workers
type Stream struct {
	logger        logger.Logger
	partitions    *xsync.MapOf[*partition]
	launch        WorkerLauncher
	queueCapacity int
	retention     time.Duration
	workerCounter sync.WaitGroup
	stateLock     sync.RWMutex // guards closed against partition creation during shutdown
	closed        bool
	metrics       streamMetrics
}

type streamMetrics struct {
	partitions           promexporter.RWGauge
	appendedBatchesTotal promexporter.RWCounter
	appendedEventsTotal  promexporter.RWCounter
	overflowDroppedTotal promexporter.RWCounter
	rejectedBatchesTotal promexporter.RWCounter
}

// NewStream creates a Stream; launch is invoked once per new partition to start its delivery worker
func NewStream(parentLogger logger.Logger, cfg Config, metricFactory *base.MetricFactory, launch WorkerLauncher) *Stream {
	slogger := parentLogger.WithField(defs.LabelComponent, "IngestStream")
	return &Stream{
		logger:        slogger,
		partitions:    xsync.NewMapOf[*partition](),
		launch:        launch,
		queueCapacity: cfg.QueueSizeOrDefault(),
		retention:     cfg.RetentionOrDefault(),
		metrics: streamMetrics{
			partitions:           metricFactory.AddOrGetGauge("ingest_partitions", "Numbers of live partitions", nil, nil),
			appendedBatchesTotal: metricFactory.AddOrGetCounter("ingest_appended_batches_total", "Numbers of batches appended", nil, nil),
			appendedEventsTotal:  metricFactory.AddOrGetCounter("ingest_appended_events_total", "Numbers of log events appended", nil, nil),
			overflowDroppedTotal: metricFactory.AddOrGetCounter("ingest_overflow_dropped_total", "Numbers of batches dropped due to partition queue overflow", nil, nil),
			rejectedBatchesTotal: metricFactory.AddOrGetCounter("ingest_rejected_batches_total", "Numbers of batches rejected after shutdown", nil, nil),
		},
	}
}

// Retention returns the retention window applied to appended entries
func (stream *Stream) Retention() time.Duration {
	return stream.retention
}

// Append appends a batch to the partition given by entry.Key, creating the partition
// and launching its delivery worker on first use
//
// Append never blocks: a full partition queue drops its oldest pending batch to make
// room, the same way records aging out of the retention window are lost
func (stream *Stream) Append(entry Entry) bool {
	stream.stateLock.RLock()
	defer stream.stateLock.RUnlock()
	if stream.closed {
		stream.metrics.rejectedBatchesTotal.Inc()
		return false
	}

	part := stream.getOrCreatePartition(entry.Key)
	for {
		select {
		case part.input <- entry:
			stream.metrics.appendedBatchesTotal.Inc()
			stream.metrics.appendedEventsTotal.Add(uint64(entry.NumEvents))
			return true
		default:
		}
		// full: evict the oldest pending batch and try again
		select {
		case dropped := <-part.input:
			stream.metrics.overflowDroppedTotal.Inc()
			stream.logger.Warnf("partition queue overflow, drop oldest batch: key=%s events=%d", dropped.Key, dropped.NumEvents)
		default:
		}
	}
}

// Shutdown closes all partitions and waits for the delivery workers to finish
func (stream *Stream) Shutdown() {
	stream.stateLock.Lock()
	stream.closed = true
	stream.stateLock.Unlock()

	numPartitions := 0
	stream.partitions.Range(func(_ string, part *partition) bool {
		close(part.input)
		numPartitions++
		return true
	})
	stream.logger.Infof("shutting down delivery workers count=%d", numPartitions)
	stream.workerCounter.Wait()
	stream.logger.Info("shut down all delivery workers")
}

func (stream *Stream) getOrCreatePartition(key string) *partition {
	if existing, ok := stream.partitions.Load(key); ok {
		return existing
	}

	created := &partition{
		key:   key,
		input: make(chan Entry, stream.queueCapacity),
	}
	actual, loaded := stream.partitions.LoadOrStore(key, created)
	if loaded {
		return actual // lost the race, another producer created it
	}

	stream.metrics.partitions.Inc()
	stream.workerCounter.Add(1)
	workerLogger := stream.logger.WithField(defs.LabelName, key)
	workerLogger.Infof("new partition queueCapacity=%d", stream.queueCapacity)
	stream.launch(workerLogger, key, created.input, stream.workerCounter.Done)
	return created
}
