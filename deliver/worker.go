package deliver

import (
	"time"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	promexporter "github.com/relex/gotils/promexporter/promext"

	"github.com/relex/loghose/backup"
	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
	"github.com/relex/loghose/errorlog"
	"github.com/relex/loghose/ingest"
	"github.com/relex/loghose/util"
)

// WorkerFactory creates the delivery worker for each new ingest stream
// partition; its LaunchWorker matches ingest.WorkerLauncher
type WorkerFactory struct {
	cfg           Config
	retention     time.Duration
	transformer   base.BatchTransformer
	sink          base.ChunkSink
	store         *backup.Store
	errLog        *errorlog.Log
	aborted       channels.Awaitable
	metricFactory *base.MetricFactory
	metrics       workerMetrics
}

type workerMetrics struct {
	consumedBatchesTotal promexporter.RWCounter
	expiredBatchesTotal  promexporter.RWCounter
	batchOutcomesTotal   *promexporter.RWCounterVec
	failedRecordsTotal   promexporter.RWCounter
	droppedRecordsTotal  promexporter.RWCounter
	flushedChunksTotal   promexporter.RWCounter
}

// NewWorkerFactory creates a WorkerFactory; aborted is signaled to cut retry
// waits short during shutdown
func NewWorkerFactory(cfg Config, retention time.Duration, metricFactory *base.MetricFactory,
	transformer base.BatchTransformer, sink base.ChunkSink, store *backup.Store, errLog *errorlog.Log,
	aborted channels.Awaitable) *WorkerFactory {

	return &WorkerFactory{
		cfg:           cfg,
		retention:     retention,
		transformer:   transformer,
		sink:          sink,
		store:         store,
		errLog:        errLog,
		aborted:       aborted,
		metricFactory: metricFactory,
		metrics: workerMetrics{
			consumedBatchesTotal: metricFactory.AddOrGetCounter("worker_consumed_batches_total", "Numbers of batches consumed from the ingest stream", nil, nil),
			expiredBatchesTotal:  metricFactory.AddOrGetCounter("worker_expired_batches_total", "Numbers of batches dropped for outliving the retention window", nil, nil),
			batchOutcomesTotal:   metricFactory.AddOrGetCounterVec("worker_batch_outcomes_total", "Numbers of batches by transform outcome", []string{"outcome"}, nil),
			failedRecordsTotal:   metricFactory.AddOrGetCounter("worker_failed_records_total", "Numbers of records failed to transform", nil, nil),
			droppedRecordsTotal:  metricFactory.AddOrGetCounter("worker_dropped_records_total", "Numbers of records dropped on purpose", nil, nil),
			flushedChunksTotal:   metricFactory.AddOrGetCounter("worker_flushed_chunks_total", "Numbers of chunks flushed for forwarding", nil, nil),
		},
	}
}

// LaunchWorker starts a delivery worker on the partition's input channel
func (factory *WorkerFactory) LaunchWorker(parentLogger logger.Logger, key string, input <-chan ingest.Entry, onStopped func()) {
	worker := &Worker{
		logger:        parentLogger.WithField(defs.LabelComponent, "DeliveryWorker"),
		input:         input,
		onStopped:     onStopped,
		stopped:       channels.NewSignalAwaitable(),
		retention:     factory.retention,
		flushInterval: factory.cfg.FlushIntervalOrDefault(),
		transformer:   factory.transformer,
		chunkMaker:    NewChunkMaker(parentLogger, factory.cfg),
		forwarder:     NewForwarder(parentLogger, factory.cfg, factory.metricFactory, factory.sink, factory.store, factory.errLog, factory.aborted),
		failureIDs:    NewChunkIDGenerator(),
		store:         factory.store,
		errLog:        factory.errLog,
		metrics:       factory.metrics,
	}
	worker.Launch()
}

// Worker drains one partition of the ingest stream: transform, pack, forward
//
// The worker stops when its input channel is closed, after flushing and
// forwarding whatever is pending
type Worker struct {
	logger        logger.Logger
	input         <-chan ingest.Entry
	onStopped     func()
	stopped       *channels.SignalAwaitable
	retention     time.Duration
	flushInterval time.Duration
	transformer   base.BatchTransformer
	chunkMaker    *ChunkMaker
	forwarder     *Forwarder
	failureIDs    *ChunkIDGenerator // IDs for backed-up raw payloads, outside chunk numbering
	store         *backup.Store
	errLog        *errorlog.Log
	metrics       workerMetrics
	openSource    ChunkSource // source of the oldest batch in the open chunk
}

// Launch starts the Worker
func (worker *Worker) Launch() {
	go worker.run()
}

// Stopped returns an Awaitable signaled after the final flush
func (worker *Worker) Stopped() channels.Awaitable {
	return worker.stopped
}

func (worker *Worker) run() {
	defer worker.stopped.Signal()
	defer worker.onStopped()
	worker.logger.Infof("started")

	flushTimer := time.NewTimer(worker.flushInterval)
	defer flushTimer.Stop()
	for {
		select {
		case entry, ok := <-worker.input:
			if !ok {
				worker.flushAndForward()
				worker.logger.Infof("stopped")
				return
			}
			worker.processEntry(entry)
		case <-flushTimer.C:
			worker.flushAndForward()
		}
		if worker.chunkMaker.PendingRecords() == 0 {
			util.ResetTimer(flushTimer, worker.flushInterval)
		}
	}
}

func (worker *Worker) processEntry(entry ingest.Entry) {
	worker.metrics.consumedBatchesTotal.Inc()
	if entry.Expired(time.Now(), worker.retention) {
		worker.metrics.expiredBatchesTotal.Inc()
		worker.logger.Warnf("drop expired batch: key=%s events=%d age=%s", entry.Key, entry.NumEvents, time.Since(entry.Arrived))
		return
	}

	result, terr := worker.transformer.TransformBatch(entry.Raw)
	if terr != nil {
		worker.metrics.batchOutcomesTotal.WithLabelValues(base.OutcomeFailed.String()).Inc()
		worker.backUpRaw(entry, entry.NumEvents, terr.Error())
		return
	}

	numOk := 0
	numFailed := 0
	firstReason := ""
	for _, record := range result.Records {
		switch record.Status {
		case base.StatusOk:
			numOk++
			worker.writeRecord(entry, record.Data)
		case base.StatusDropped:
			worker.metrics.droppedRecordsTotal.Inc()
		case base.StatusProcessingFailed:
			numFailed++
			if firstReason == "" {
				firstReason = record.Reason
			}
		}
	}
	worker.metrics.batchOutcomesTotal.WithLabelValues(batchOutcome(numOk, numFailed).String()).Inc()
	if numFailed > 0 {
		worker.metrics.failedRecordsTotal.Add(uint64(numFailed))
		worker.backUpRaw(entry, numFailed, firstReason)
	}
}

// batchOutcome classifies a transformed batch; delivered here means accepted
// into the delivery path, not yet acknowledged by the destination
func batchOutcome(numOk int, numFailed int) base.DeliveryOutcome {
	switch {
	case numFailed == 0:
		return base.OutcomeDelivered
	case numOk > 0:
		return base.OutcomePartial
	default:
		return base.OutcomeFailed
	}
}

func (worker *Worker) writeRecord(entry ingest.Entry, data []byte) {
	if worker.chunkMaker.PendingRecords() == 0 {
		worker.openSource = ChunkSource{LogGroup: entry.LogGroup, LogStream: entry.LogStream, Arrived: entry.Arrived}
	}
	if previousChunk := worker.chunkMaker.WriteRecord(data); previousChunk != nil {
		source := worker.openSource
		worker.openSource = ChunkSource{LogGroup: entry.LogGroup, LogStream: entry.LogStream, Arrived: entry.Arrived}
		worker.forwardChunk(previousChunk, source)
	}
}

func (worker *Worker) flushAndForward() {
	chunk := worker.chunkMaker.FlushChunk()
	if chunk == nil {
		return
	}
	worker.forwardChunk(chunk, worker.openSource)
}

func (worker *Worker) forwardChunk(chunk *base.BatchChunk, source ChunkSource) {
	worker.metrics.flushedChunksTotal.Inc()
	worker.forwarder.Forward(*chunk, source)
}

// backUpRaw persists the unmodified envelope payload of a batch whose records
// could not all be transformed, so nothing is lost even when undeliverable
func (worker *Worker) backUpRaw(entry ingest.Entry, numRecords int, reason string) {
	chunkID := worker.failureIDs.Generate()
	if perr := worker.store.Persist(backup.Meta{
		ChunkID:    chunkID,
		LogGroup:   entry.LogGroup,
		LogStream:  entry.LogStream,
		NumRecords: numRecords,
		Arrived:    entry.Arrived,
		Reason:     reason,
	}, entry.Raw); perr != nil {
		worker.logger.Errorf("failed to back up raw batch key=%s: %s", entry.Key, perr.Error())
	}
	if aerr := worker.errLog.Append(errorlog.Entry{
		ChunkID:   chunkID,
		Class:     errorlog.ClassTransformFailure,
		LogGroup:  entry.LogGroup,
		LogStream: entry.LogStream,
		Message:   reason,
	}); aerr != nil {
		worker.logger.Errorf("failed to record transform failure key=%s: %s", entry.Key, aerr.Error())
	}
}
