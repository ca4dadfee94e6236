package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/stretchr/testify/assert"

	"github.com/relex/loghose/base"
)

func newTestEntry(key string, seq byte) Entry {
	return Entry{
		Key:       key,
		LogGroup:  "/test/group",
		LogStream: key,
		NumEvents: 1,
		Raw:       []byte{seq},
		Arrived:   time.Now(),
	}
}

func TestStreamLaunchesWorkerPerPartition(t *testing.T) {
	collected := make(map[string][]Entry)
	collectLock := &sync.Mutex{}

	launch := func(_ logger.Logger, key string, input <-chan Entry, onStopped func()) {
		go func() {
			defer onStopped()
			for entry := range input {
				collectLock.Lock()
				collected[key] = append(collected[key], entry)
				collectLock.Unlock()
			}
		}()
	}

	mfactory := base.NewMetricFactory("test_ingest_multi_", nil, nil)
	stream := NewStream(logger.Root(), Config{PartitionQueueSize: 10}, mfactory, launch)

	assert.True(t, stream.Append(newTestEntry("group/stream-a", 1)))
	assert.True(t, stream.Append(newTestEntry("group/stream-b", 2)))
	assert.True(t, stream.Append(newTestEntry("group/stream-a", 3)))
	stream.Shutdown()

	assert.Equal(t, 2, len(collected))
	assert.Equal(t, 2, len(collected["group/stream-a"]))
	assert.Equal(t, 1, len(collected["group/stream-b"]))
}

func TestStreamKeepsPartitionOrder(t *testing.T) {
	received := make([]byte, 0, 100)
	doneSignal := make(chan struct{})

	launch := func(_ logger.Logger, _ string, input <-chan Entry, onStopped func()) {
		go func() {
			defer onStopped()
			defer close(doneSignal)
			for entry := range input {
				received = append(received, entry.Raw[0])
			}
		}()
	}

	mfactory := base.NewMetricFactory("test_ingest_order_", nil, nil)
	stream := NewStream(logger.Root(), Config{PartitionQueueSize: 200}, mfactory, launch)
	for i := 0; i < 100; i++ {
		stream.Append(newTestEntry("group/stream", byte(i)))
	}
	stream.Shutdown()
	<-doneSignal

	assert.Equal(t, 100, len(received))
	for i := 1; i < len(received); i++ {
		assert.Less(t, received[i-1], received[i])
	}
}

func TestStreamDropsOldestOnOverflow(t *testing.T) {
	releaseWorker := make(chan struct{})
	received := make([]byte, 0, 10)
	doneSignal := make(chan struct{})

	launch := func(_ logger.Logger, _ string, input <-chan Entry, onStopped func()) {
		go func() {
			defer onStopped()
			defer close(doneSignal)
			<-releaseWorker
			for entry := range input {
				received = append(received, entry.Raw[0])
			}
		}()
	}

	mfactory := base.NewMetricFactory("test_ingest_overflow_", nil, nil)
	stream := NewStream(logger.Root(), Config{PartitionQueueSize: 2}, mfactory, launch)
	stream.Append(newTestEntry("group/stream", 1))
	stream.Append(newTestEntry("group/stream", 2))
	stream.Append(newTestEntry("group/stream", 3)) // evicts 1
	close(releaseWorker)
	stream.Shutdown()
	<-doneSignal

	assert.Equal(t, []byte{2, 3}, received)
}

func TestStreamRejectsAfterShutdown(t *testing.T) {
	launch := func(_ logger.Logger, _ string, input <-chan Entry, onStopped func()) {
		go func() {
			defer onStopped()
			for range input {
			}
		}()
	}
	mfactory := base.NewMetricFactory("test_ingest_closed_", nil, nil)
	stream := NewStream(logger.Root(), Config{}, mfactory, launch)
	stream.Append(newTestEntry("group/stream", 1))
	stream.Shutdown()
	assert.False(t, stream.Append(newTestEntry("group/stream", 2)))
}

func TestEntryExpired(t *testing.T) {
	entry := newTestEntry("group/stream", 1)
	assert.False(t, entry.Expired(time.Now(), time.Hour))
	assert.True(t, entry.Expired(time.Now().Add(2*time.Hour), time.Hour))
}
