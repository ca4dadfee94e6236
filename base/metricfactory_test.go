package base

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relex/loghose/util"
)

func TestMetricFactory(t *testing.T) {
	mfactory := NewMetricFactory("testloghose_", []string{"test"}, []string{"TestMetricFactory"})
	mfactory.AddOrGetCounter("batches_total", "Help batches_total", []string{"input"}, []string{"http"}).Add(3)
	mfactory.AddOrGetCounter("batches_total", "Help batches_total", []string{"input"}, []string{"http"}).Add(4)
	recordsVec := mfactory.AddOrGetCounterVec("records_total", "Help records_total", []string{"status"}, nil)
	recordsVec.WithLabelValues("Ok").Add(5)
	assert.Equal(t, 5.0, util.SumMetricValues(recordsVec))
	subfactory := mfactory.NewSubFactory("delivery_", []string{"stage"}, []string{"forward"})
	subfactory.AddOrGetGauge("pending_chunks", "Help pending_chunks", []string{"queue"}, []string{"memory"}).Add(13)
	subfactory.AddOrGetGaugeVec("chunk_bytes", "Help chunk_bytes", []string{"state"}, nil).WithLabelValues("open").Add(14)
	subfactory.AddOrGetGaugeVec("chunk_bytes", "Help chunk_bytes", []string{"state"}, nil).WithLabelValues("open").Add(1)
	subfactory.AddOrGetGaugeVec("chunk_bytes", "Help chunk_bytes", []string{"state"}, nil).WithLabelValues("closed").Add(16)
	metrics, merr := mfactory.DumpMetrics(true)
	assert.Nil(t, merr)
	assert.Equal(t, `testloghose_batches_total{input="http",test="TestMetricFactory"} 7
testloghose_delivery_chunk_bytes{stage="forward",state="closed",test="TestMetricFactory"} 16
testloghose_delivery_chunk_bytes{stage="forward",state="open",test="TestMetricFactory"} 15
testloghose_delivery_pending_chunks{queue="memory",stage="forward",test="TestMetricFactory"} 13
testloghose_records_total{status="Ok",test="TestMetricFactory"} 5
`, metrics)
}
