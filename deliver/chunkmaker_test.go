package deliver

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/relex/gotils/logger"
	"github.com/stretchr/testify/assert"

	"github.com/relex/loghose/defs"
)

func gunzipChunk(t *testing.T, data []byte) string {
	reader, gerr := gzip.NewReader(bytes.NewReader(data))
	assert.NoError(t, gerr)
	plain, rerr := io.ReadAll(reader)
	assert.NoError(t, rerr)
	return string(plain)
}

func TestChunkMakerPacksRecords(t *testing.T) {
	maker := NewChunkMaker(logger.Root(), Config{ChunkMaxRecords: 10})

	assert.Nil(t, maker.WriteRecord([]byte(`{"event":"one"}`)))
	assert.Nil(t, maker.WriteRecord([]byte(`{"event":"two"}`)))
	assert.Equal(t, 2, maker.PendingRecords())

	chunk := maker.FlushChunk()
	assert.NotNil(t, chunk)
	assert.Equal(t, 2, chunk.NumRecords)
	assert.False(t, chunk.Saved)
	assert.True(t, strings.HasSuffix(chunk.ID, defs.ChunkIDSuffix))
	assert.Equal(t, "{\"event\":\"one\"}\n{\"event\":\"two\"}\n", gunzipChunk(t, chunk.Data))

	assert.Nil(t, maker.FlushChunk()) // nothing pending
}

func TestChunkMakerRecordLimit(t *testing.T) {
	maker := NewChunkMaker(logger.Root(), Config{ChunkMaxRecords: 2})

	assert.Nil(t, maker.WriteRecord([]byte("a")))
	assert.Nil(t, maker.WriteRecord([]byte("b")))
	overflowed := maker.WriteRecord([]byte("c"))
	assert.NotNil(t, overflowed)
	assert.Equal(t, 2, overflowed.NumRecords)
	assert.Equal(t, "a\nb\n", gunzipChunk(t, overflowed.Data))

	last := maker.FlushChunk()
	assert.Equal(t, 1, last.NumRecords)
	assert.Equal(t, "c\n", gunzipChunk(t, last.Data))
	assert.Less(t, overflowed.ID, last.ID)
}

func TestChunkMakerSizeLimit(t *testing.T) {
	maker := NewChunkMaker(logger.Root(), Config{ChunkMaxRecords: 1000, ChunkMaxSize: 100})

	big := []byte(strings.Repeat("x", 60))
	assert.Nil(t, maker.WriteRecord(big))
	overflowed := maker.WriteRecord(big)
	assert.NotNil(t, overflowed)
	assert.Equal(t, 1, overflowed.NumRecords)
}

func TestChunkIDGeneratorOrdered(t *testing.T) {
	gen := NewChunkIDGenerator()
	previous := ""
	for i := 0; i < 1000; i++ {
		id := gen.Generate()
		assert.Greater(t, id, previous)
		previous = id
	}
}
