// Package deliver runs the per-partition delivery workers: transforming
// buffered batches, packing records into compressed chunks and forwarding them
// to the destination with bounded retries. Chunks that cannot be delivered end
// up in the backup store with a matching error log entry.
package deliver

import (
	"fmt"
	"sync"
	"time"

	"github.com/relex/loghose/defs"
)

// ChunkIDGenerator creates unique ordered chunk IDs, usable as backup filenames
//
// An ID consists of a nanosecond timestamp and a sequence number incremented
// until the time changes, so IDs sort by creation order
type ChunkIDGenerator struct {
	sync.Mutex
	epochNano int64
	sequence  int32
}

// NewChunkIDGenerator creates a ChunkIDGenerator
func NewChunkIDGenerator() *ChunkIDGenerator {
	return &ChunkIDGenerator{
		Mutex:     sync.Mutex{},
		epochNano: 0,
		sequence:  0,
	}
}

// Generate returns the next chunk ID
func (generator *ChunkIDGenerator) Generate() string {
	generator.Lock()
	nextTimestamp := time.Now().UnixNano()
	if nextTimestamp > generator.epochNano {
		generator.epochNano = nextTimestamp
		generator.sequence = 0
	} else {
		generator.sequence++
	}
	nextSequence := generator.sequence
	generator.Unlock()
	return fmt.Sprintf("%019d-%08d"+defs.ChunkIDSuffix, nextTimestamp, nextSequence)
}
