// Package transform turns raw envelope payloads into per-event delivery records.
//
// Every log event becomes exactly one record; events are never merged or
// re-batched, so record order inside a batch follows event order in the
// envelope. A failing event marks only its own record as failed and the rest of
// the batch proceeds.
package transform

import (
	"fmt"

	"github.com/relex/gotils/logger"
	promexporter "github.com/relex/gotils/promexporter/promext"

	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
	"github.com/relex/loghose/envelope"
)

// EnvelopeTransform decodes envelope payloads and serializes each event with the
// configured RecordSerializer, e.g. the Splunk HEC event serializer
type EnvelopeTransform struct {
	logger     logger.Logger
	serializer base.RecordSerializer
	metrics    transformMetrics
}

type transformMetrics struct {
	recordsTotal *promexporter.RWCounterVec // by record status
	batchesTotal promexporter.RWCounter
	errorsTotal  promexporter.RWCounter
}

// NewEnvelopeTransform creates an EnvelopeTransform on top of the given serializer
func NewEnvelopeTransform(parentLogger logger.Logger, metricFactory *base.MetricFactory, serializer base.RecordSerializer) *EnvelopeTransform {
	return &EnvelopeTransform{
		logger:     parentLogger.WithField(defs.LabelComponent, "EnvelopeTransform"),
		serializer: serializer,
		metrics: transformMetrics{
			recordsTotal: metricFactory.AddOrGetCounterVec("transform_records_total", "Numbers of transformed records by status", []string{"status"}, nil),
			batchesTotal: metricFactory.AddOrGetCounter("transform_batches_total", "Numbers of transformed batches", nil, nil),
			errorsTotal:  metricFactory.AddOrGetCounter("transform_errors_total", "Numbers of batches failed to decode", nil, nil),
		},
	}
}

// TransformBatch decodes the raw payload and transforms every event into a record
//
// A decode failure fails the whole batch since individual events cannot be
// recovered from an unreadable payload. Control messages yield all-dropped
// results so upstream can acknowledge them.
func (t *EnvelopeTransform) TransformBatch(raw []byte) (base.TransformResult, error) {
	batch, derr := envelope.Decode(raw)
	if derr != nil {
		t.metrics.errorsTotal.Inc()
		return base.TransformResult{}, fmt.Errorf("undecodable payload: %w", derr)
	}
	t.metrics.batchesTotal.Inc()

	records := make([]base.TransformedRecord, len(batch.Events))
	for i, event := range batch.Events {
		if batch.IsControl() {
			records[i] = base.TransformedRecord{RecordID: event.ID, Status: base.StatusDropped, Reason: "control message"}
			continue
		}
		data, serr := t.serializer.SerializeRecord(batch, event)
		if serr != nil {
			t.logger.Warnf("failed to serialize event id=%s group=%s stream=%s: %s",
				event.ID, batch.LogGroup, batch.LogStream, serr.Error())
			records[i] = base.TransformedRecord{RecordID: event.ID, Status: base.StatusProcessingFailed, Reason: serr.Error()}
			continue
		}
		records[i] = base.TransformedRecord{RecordID: event.ID, Status: base.StatusOk, Data: data}
	}

	result := base.TransformResult{Records: records}
	for _, status := range []base.RecordStatus{base.StatusOk, base.StatusDropped, base.StatusProcessingFailed} {
		if count := result.CountByStatus(status); count > 0 {
			t.metrics.recordsTotal.WithLabelValues(status.String()).Add(uint64(count))
		}
	}
	return result, nil
}
