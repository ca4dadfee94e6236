package deliver

import (
	"bytes"

	"github.com/klauspost/compress/gzip"
	"github.com/relex/gotils/logger"

	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
	"github.com/relex/loghose/util"
)

const gzipCompressionLevel = gzip.BestSpeed

// ChunkMaker packs serialized records into gzip-compressed chunks, one per
// worker; not safe for concurrent use
//
// Records are written as newline-delimited JSON so the chunk body is a valid
// collector request as-is. A record never spans two chunks and never appears
// in two chunks.
type ChunkMaker struct {
	logger           logger.Logger
	currentChunk     *openChunk
	reusedGzipBuffer *bytes.Buffer // output of the gzip writer, reset per chunk
	chunkIDGenerator *ChunkIDGenerator
	maxRecords       int
	maxDataBytes     int
}

type openChunk struct {
	gzipWriter     *gzip.Writer
	id             string
	numRecords     int
	numStreamBytes int // uncompressed length of written records
}

// NewChunkMaker creates a ChunkMaker with the configured chunk limits
func NewChunkMaker(parentLogger logger.Logger, cfg Config) *ChunkMaker {
	return &ChunkMaker{
		logger:           parentLogger.WithField(defs.LabelPart, "ChunkMaker"),
		currentChunk:     nil,
		reusedGzipBuffer: bytes.NewBuffer(make([]byte, 0, 256*1024)),
		chunkIDGenerator: NewChunkIDGenerator(),
		maxRecords:       cfg.MaxRecordsOrDefault(),
		maxDataBytes:     cfg.MaxSizeOrDefault(),
	}
}

// WriteRecord adds one record to the open chunk, starting a new one if needed
//
// Returns the previous chunk when the record would overflow it, nil otherwise
func (maker *ChunkMaker) WriteRecord(record []byte) *base.BatchChunk {
	var previousChunk *base.BatchChunk
	if maker.currentChunk != nil &&
		(maker.currentChunk.numRecords >= maker.maxRecords || maker.currentChunk.numStreamBytes+len(record)+1 > maker.maxDataBytes) {
		previousChunk = maker.FlushChunk()
	}
	maker.ensureOpenChunk()
	if _, err := maker.currentChunk.gzipWriter.Write(record); err != nil {
		maker.logger.Errorf("error writing to gzip writer: %s", err.Error())
	}
	if _, err := maker.currentChunk.gzipWriter.Write([]byte{'\n'}); err != nil {
		maker.logger.Errorf("error writing to gzip writer: %s", err.Error())
	}
	maker.currentChunk.numRecords++
	maker.currentChunk.numStreamBytes += len(record) + 1
	return previousChunk
}

// FlushChunk closes and returns the open chunk, nil when empty
func (maker *ChunkMaker) FlushChunk() *base.BatchChunk {
	if maker.currentChunk == nil {
		return nil
	}
	finished := *maker.currentChunk
	maker.currentChunk = nil
	if err := finished.gzipWriter.Close(); err != nil {
		maker.logger.Errorf("failed to close gzip writer: %s", err.Error())
	}
	chunk := &base.BatchChunk{
		ID:         finished.id,
		Data:       util.CopyByteSlice(maker.reusedGzipBuffer.Bytes()),
		NumRecords: finished.numRecords,
		Saved:      false,
	}
	maker.reusedGzipBuffer.Reset()
	return chunk
}

// PendingRecords returns the numbers of records in the open chunk
func (maker *ChunkMaker) PendingRecords() int {
	if maker.currentChunk == nil {
		return 0
	}
	return maker.currentChunk.numRecords
}

func (maker *ChunkMaker) ensureOpenChunk() {
	if maker.currentChunk != nil {
		return
	}
	writer, err := gzip.NewWriterLevel(maker.reusedGzipBuffer, gzipCompressionLevel)
	if err != nil {
		maker.logger.Panicf("failed to create gzip writer: %s", err.Error())
	}
	maker.currentChunk = &openChunk{
		gzipWriter:     writer,
		id:             maker.chunkIDGenerator.Generate(),
		numRecords:     0,
		numStreamBytes: 0,
	}
}
