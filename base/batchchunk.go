package base

import (
	"fmt"
)

// BatchChunk represents a batch of delivery records serialized and ready for transport or backup as its own unit
//
// The ID embeds a zero-padded nanosecond timestamp and a sequence number, so lexical order equals
// creation order and the ID can double as a backup filename
type BatchChunk struct {
	ID         string // Unique ID of this chunk, may be used as filename
	Data       []byte // Actual data of this chunk, gzip'ed NDJSON of delivery records unless noted otherwise
	NumRecords int    // Numbers of delivery records inside Data
	Saved      bool   // true if persisted in the backup store already
}

func (chunk BatchChunk) String() string {
	switch {
	case chunk.Data == nil && chunk.Saved:
		return fmt.Sprintf("id=%s unloaded", chunk.ID)
	case chunk.Saved:
		return fmt.Sprintf("id=%s len=%d saved", chunk.ID, len(chunk.Data))
	default:
		return fmt.Sprintf("id=%s len=%d", chunk.ID, len(chunk.Data))
	}
}
