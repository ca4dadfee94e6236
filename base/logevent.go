package base

import (
	"github.com/relex/loghose/defs"
)

// LogEvent is one log record as emitted by a log source, immutable once created
//
// Timestamp is epoch milliseconds, matching the CloudWatch subscription envelope
type LogEvent struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// EventBatch is the decoded CloudWatch subscription envelope: an ordered list of log events
// from one log stream plus routing metadata
//
// The order of Events is the order of emission within the source log stream and must be preserved
// through the whole pipeline
type EventBatch struct {
	MessageType         string     `json:"messageType"`
	Owner               string     `json:"owner"`
	LogGroup            string     `json:"logGroup"`
	LogStream           string     `json:"logStream"`
	SubscriptionFilters []string   `json:"subscriptionFilters"`
	Events              []LogEvent `json:"logEvents"`
}

// IsControl tells whether the batch is a destination probe rather than log data
func (batch *EventBatch) IsControl() bool {
	return batch.MessageType == defs.MessageTypeControl
}

// PartitionKey returns the ingest stream partition key for this batch
//
// All batches of one log stream map to the same key so intra-stream ordering is kept
func (batch *EventBatch) PartitionKey() string {
	return batch.LogGroup + "/" + batch.LogStream
}
