package defs

import (
	"time"
)

var (
	// IngestPartitionQueueSize defines how many pending batches one partition of the ingest stream may hold
	//
	// When the limit is reached, the oldest queued batch is dropped to make room, as an aged-out record would be
	IngestPartitionQueueSize = 1000

	// IngestRetentionWindow defines how long an appended batch stays deliverable
	//
	// Batches older than the window when the delivery worker picks them up are dropped and counted, never forwarded
	IngestRetentionWindow = 24 * time.Hour

	// DeliveryFlushInterval defines how often a delivery worker flushes its open chunk if no size threshold is hit
	//
	// The value is the latency floor between ingestion and delivery for low-volume partitions
	DeliveryFlushInterval = 5 * time.Second

	// DeliveryChunkMaxRecords defines the max numbers of delivery records packed into one chunk
	DeliveryChunkMaxRecords = 1000

	// DeliveryChunkMaxSizeBytes defines the max uncompressed data size of one chunk
	//
	// The value must stay under the maximum request body acceptable by the event collector
	DeliveryChunkMaxSizeBytes = 2 * 1024 * 1024

	// IntermediateChannelTimeout defines the timeout of intermediate channel reads and writes
	//
	// There is no recovery without data loss and it should be treated as a bug if such timeout happens at runtime
	IntermediateChannelTimeout = 60 * time.Second

	// InputShutdownTimeout is how long the HTTP input waits for in-flight requests during shutdown
	InputShutdownTimeout = 30 * time.Second
)

var (
	// ForwarderMaxAttempts is the total numbers of send attempts per chunk before it goes to the backup store
	ForwarderMaxAttempts = 5

	// ForwarderInitialRetryInterval is the first delay between send attempts; later delays grow exponentially
	ForwarderInitialRetryInterval = 1 * time.Second

	// ForwarderMaxRetryInterval caps the delay between send attempts
	ForwarderMaxRetryInterval = 60 * time.Second

	// ForwarderHTTPTimeout is for one entire request to the event collector, including connection and TLS handshake
	ForwarderHTTPTimeout = 30 * time.Second
)

// For testing and experiments
const (
	TestReadTimeout = 5 * time.Second
)

// EnableTestMode turns on test mode with very short timeout and minimal retry delay
func EnableTestMode() {
	DeliveryFlushInterval = 100 * time.Millisecond
	ForwarderInitialRetryInterval = 10 * time.Millisecond
	ForwarderMaxRetryInterval = 50 * time.Millisecond
	ForwarderHTTPTimeout = 3 * time.Second
}
