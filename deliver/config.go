package deliver

import (
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/relex/loghose/defs"
)

// Config defines chunking and retry behavior shared by all delivery workers
type Config struct {
	FlushInterval   time.Duration     `yaml:"flushInterval"`   // max delay before an open chunk is sent, 0 = defs default
	ChunkMaxRecords int               `yaml:"chunkMaxRecords"` // max records per chunk, 0 = defs default
	ChunkMaxSize    datasize.ByteSize `yaml:"chunkMaxSize"`    // max uncompressed bytes per chunk, 0 = defs default
	MaxAttempts     int               `yaml:"maxAttempts"`     // send attempts before a chunk goes to backup, 0 = defs default
}

// VerifyConfig verifies delivery config
func (cfg *Config) VerifyConfig() error {
	if cfg.FlushInterval < 0 {
		return fmt.Errorf(".flushInterval must not be negative: %s", cfg.FlushInterval)
	}
	if cfg.ChunkMaxRecords < 0 {
		return fmt.Errorf(".chunkMaxRecords must not be negative: %d", cfg.ChunkMaxRecords)
	}
	if cfg.MaxAttempts < 0 {
		return fmt.Errorf(".maxAttempts must not be negative: %d", cfg.MaxAttempts)
	}
	return nil
}

// FlushIntervalOrDefault returns the configured flush interval or the package default
func (cfg *Config) FlushIntervalOrDefault() time.Duration {
	if cfg.FlushInterval > 0 {
		return cfg.FlushInterval
	}
	return defs.DeliveryFlushInterval
}

// MaxRecordsOrDefault returns the configured chunk record limit or the package default
func (cfg *Config) MaxRecordsOrDefault() int {
	if cfg.ChunkMaxRecords > 0 {
		return cfg.ChunkMaxRecords
	}
	return defs.DeliveryChunkMaxRecords
}

// MaxSizeOrDefault returns the configured chunk size limit or the package default
func (cfg *Config) MaxSizeOrDefault() int {
	if cfg.ChunkMaxSize > 0 {
		return int(cfg.ChunkMaxSize.Bytes())
	}
	return defs.DeliveryChunkMaxSizeBytes
}

// MaxAttemptsOrDefault returns the configured attempt limit or the package default
func (cfg *Config) MaxAttemptsOrDefault() int {
	if cfg.MaxAttempts > 0 {
		return cfg.MaxAttempts
	}
	return defs.ForwarderMaxAttempts
}
