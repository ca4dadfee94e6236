package deliver

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	promexporter "github.com/relex/gotils/promexporter/promext"

	"github.com/relex/loghose/backup"
	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
	"github.com/relex/loghose/errorlog"
)

// deliveryState tracks one chunk through the forwarder
type deliveryState int

const (
	statePending deliveryState = iota
	stateRetrying
	stateDelivered
	stateBackedUp
)

// ChunkSource identifies where a chunk's records came from, for backup metadata
// and error records
type ChunkSource struct {
	LogGroup  string
	LogStream string
	Arrived   time.Time // ingest time of the oldest batch inside the chunk
}

// Forwarder sends chunks to the destination with exponential backoff, giving up
// to the backup store after the attempt budget or on a permanent rejection
//
// One Forwarder belongs to one delivery worker; all its chunks come from the
// same source log stream
type Forwarder struct {
	logger      logger.Logger
	sink        base.ChunkSink
	store       *backup.Store
	errLog      *errorlog.Log
	maxAttempts int
	aborted     channels.Awaitable // signaled to give up retry waits on shutdown
	metrics     forwarderMetrics
}

type forwarderMetrics struct {
	deliveredChunksTotal  promexporter.RWCounter
	deliveredRecordsTotal promexporter.RWCounter
	retriesTotal          promexporter.RWCounter
	backedUpChunksTotal   promexporter.RWCounter
}

// NewForwarder creates a Forwarder for one delivery worker
func NewForwarder(parentLogger logger.Logger, cfg Config, metricFactory *base.MetricFactory, sink base.ChunkSink,
	store *backup.Store, errLog *errorlog.Log, aborted channels.Awaitable) *Forwarder {

	return &Forwarder{
		logger:      parentLogger.WithField(defs.LabelPart, "Forwarder"),
		sink:        sink,
		store:       store,
		errLog:      errLog,
		maxAttempts: cfg.MaxAttemptsOrDefault(),
		aborted:     aborted,
		metrics: forwarderMetrics{
			deliveredChunksTotal:  metricFactory.AddOrGetCounter("forwarder_delivered_chunks_total", "Numbers of chunks delivered", nil, nil),
			deliveredRecordsTotal: metricFactory.AddOrGetCounter("forwarder_delivered_records_total", "Numbers of records delivered", nil, nil),
			retriesTotal:          metricFactory.AddOrGetCounter("forwarder_retries_total", "Numbers of send retries", nil, nil),
			backedUpChunksTotal:   metricFactory.AddOrGetCounter("forwarder_backedup_chunks_total", "Numbers of chunks given up and backed up", nil, nil),
		},
	}
}

// Forward attempts to deliver one chunk, blocking through retries
//
// Returns OutcomeDelivered on success and OutcomeFailed after the chunk has
// been handed to the backup store; a chunk is never silently lost
func (fwd *Forwarder) Forward(chunk base.BatchChunk, source ChunkSource) base.DeliveryOutcome {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = defs.ForwarderInitialRetryInterval
	boff.MaxInterval = defs.ForwarderMaxRetryInterval
	boff.MaxElapsedTime = 0

	state := statePending
	var lastErr error
	for attempt := 1; attempt <= fwd.maxAttempts; attempt++ {
		lastErr = fwd.sink.SendChunk(chunk)
		if lastErr == nil {
			state = stateDelivered
			break
		}

		var permanentErr base.PermanentError
		if errors.As(lastErr, &permanentErr) && permanentErr.Permanent() {
			fwd.logger.Warnf("destination rejected chunk %s: %s", chunk.String(), lastErr.Error())
			break
		}
		if attempt == fwd.maxAttempts {
			break
		}

		state = stateRetrying
		fwd.metrics.retriesTotal.Inc()
		delay := boff.NextBackOff()
		fwd.logger.Warnf("failed to send chunk %s (attempt %d/%d), retry in %s: %s",
			chunk.String(), attempt, fwd.maxAttempts, delay, lastErr.Error())
		if fwd.aborted.Wait(delay) {
			fwd.logger.Infof("stop requested during retry of chunk %s", chunk.String())
			break
		}
	}

	if state == stateDelivered {
		fwd.metrics.deliveredChunksTotal.Inc()
		fwd.metrics.deliveredRecordsTotal.Add(uint64(chunk.NumRecords))
		return base.OutcomeDelivered
	}
	fwd.backUp(chunk, source, lastErr)
	return base.OutcomeFailed
}

// backUp persists a given-up chunk and records the failure; errors here are
// logged but not propagated as there is no further fallback
func (fwd *Forwarder) backUp(chunk base.BatchChunk, source ChunkSource, cause error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	if perr := fwd.store.Persist(backup.Meta{
		ChunkID:    chunk.ID,
		LogGroup:   source.LogGroup,
		LogStream:  source.LogStream,
		NumRecords: chunk.NumRecords,
		Arrived:    source.Arrived,
		Reason:     reason,
	}, chunk.Data); perr != nil {
		fwd.logger.Errorf("failed to back up chunk %s: %s", chunk.String(), perr.Error())
	}
	if aerr := fwd.errLog.Append(errorlog.Entry{
		ChunkID:   chunk.ID,
		Class:     errorlog.ClassDeliveryFailure,
		LogGroup:  source.LogGroup,
		LogStream: source.LogStream,
		Message:   reason,
	}); aerr != nil {
		fwd.logger.Errorf("failed to record delivery failure of chunk %s: %s", chunk.String(), aerr.Error())
	}
	fwd.metrics.backedUpChunksTotal.Inc()
}
