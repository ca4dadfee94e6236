package deliver

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/stretchr/testify/assert"

	"github.com/relex/loghose/backup"
	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
	"github.com/relex/loghose/errorlog"
)

func init() {
	defs.EnableTestMode()
}

// scriptedSink fails a fixed count of times before succeeding
type scriptedSink struct {
	failures  int
	permanent bool
	sent      []base.BatchChunk
}

type permanentSinkError struct{ msg string }

func (e *permanentSinkError) Error() string   { return e.msg }
func (e *permanentSinkError) Permanent() bool { return true }

func (sink *scriptedSink) SendChunk(chunk base.BatchChunk) error {
	if sink.failures > 0 {
		sink.failures--
		if sink.permanent {
			return &permanentSinkError{msg: "rejected"}
		}
		return fmt.Errorf("connection refused")
	}
	sink.sent = append(sink.sent, chunk)
	return nil
}

type forwarderFixture struct {
	forwarder *Forwarder
	sink      *scriptedSink
	store     *backup.Store
	errLog    *errorlog.Log
}

func newForwarderFixture(t *testing.T, prefix string, sink *scriptedSink, maxAttempts int) *forwarderFixture {
	mfactory := base.NewMetricFactory(prefix, nil, nil)
	store, serr := backup.NewStore(logger.Root(), backup.Config{Dir: t.TempDir()}, mfactory)
	assert.NoError(t, serr)
	errLog, eerr := errorlog.NewLog(logger.Root(), errorlog.Config{Path: filepath.Join(t.TempDir(), "errors.jsonl")}, mfactory)
	assert.NoError(t, eerr)
	fwd := NewForwarder(logger.Root(), Config{MaxAttempts: maxAttempts}, mfactory, sink, store, errLog, channels.NewSignalAwaitable())
	return &forwarderFixture{forwarder: fwd, sink: sink, store: store, errLog: errLog}
}

func testSource() ChunkSource {
	return ChunkSource{LogGroup: "/ecs/app", LogStream: "app/web/1", Arrived: time.Now()}
}

func testChunk(id string) base.BatchChunk {
	return base.BatchChunk{ID: id, Data: []byte("payload"), NumRecords: 2}
}

func TestForwarderDeliversFirstTry(t *testing.T) {
	fix := newForwarderFixture(t, "test_forwarder_ok_", &scriptedSink{}, 3)
	defer fix.store.Close()
	defer fix.errLog.Close()

	outcome := fix.forwarder.Forward(testChunk("0000000000000000001-00000000.hec"), testSource())
	assert.Equal(t, base.OutcomeDelivered, outcome)
	assert.Equal(t, 1, len(fix.sink.sent))

	metaList, _ := fix.store.Scan()
	assert.Equal(t, 0, len(metaList))
}

func TestForwarderRetriesTransientFailure(t *testing.T) {
	sink := &scriptedSink{failures: 2}
	fix := newForwarderFixture(t, "test_forwarder_retry_", sink, 5)
	defer fix.store.Close()
	defer fix.errLog.Close()

	outcome := fix.forwarder.Forward(testChunk("0000000000000000002-00000000.hec"), testSource())
	assert.Equal(t, base.OutcomeDelivered, outcome)
	assert.Equal(t, 1, len(sink.sent))
	assert.Equal(t, 0, sink.failures)
}

func TestForwarderBacksUpAfterBudget(t *testing.T) {
	sink := &scriptedSink{failures: 100}
	fix := newForwarderFixture(t, "test_forwarder_budget_", sink, 3)
	defer fix.store.Close()
	defer fix.errLog.Close()

	chunk := testChunk("0000000000000000003-00000000.hec")
	outcome := fix.forwarder.Forward(chunk, testSource())
	assert.Equal(t, base.OutcomeFailed, outcome)
	assert.Equal(t, 97, sink.failures) // exactly maxAttempts sends

	meta, data, lerr := fix.store.Load(chunk.ID)
	assert.NoError(t, lerr)
	assert.Equal(t, chunk.Data, data)
	assert.Equal(t, "/ecs/app", meta.LogGroup)
	assert.Equal(t, 2, meta.NumRecords)
	assert.Contains(t, meta.Reason, "connection refused")
}

func TestForwarderPermanentErrorSkipsRetries(t *testing.T) {
	sink := &scriptedSink{failures: 100, permanent: true}
	fix := newForwarderFixture(t, "test_forwarder_permanent_", sink, 5)
	defer fix.store.Close()
	defer fix.errLog.Close()

	chunk := testChunk("0000000000000000004-00000000.hec")
	outcome := fix.forwarder.Forward(chunk, testSource())
	assert.Equal(t, base.OutcomeFailed, outcome)
	assert.Equal(t, 99, sink.failures) // one single attempt

	meta, _, lerr := fix.store.Load(chunk.ID)
	assert.NoError(t, lerr)
	assert.Contains(t, meta.Reason, "rejected")
}

func TestForwarderAbortedDuringRetry(t *testing.T) {
	sink := &scriptedSink{failures: 100}
	mfactory := base.NewMetricFactory("test_forwarder_abort_", nil, nil)
	store, _ := backup.NewStore(logger.Root(), backup.Config{Dir: t.TempDir()}, mfactory)
	defer store.Close()
	errLog, _ := errorlog.NewLog(logger.Root(), errorlog.Config{Path: filepath.Join(t.TempDir(), "errors.jsonl")}, mfactory)
	defer errLog.Close()

	aborted := channels.NewSignalAwaitable()
	aborted.Signal()
	fwd := NewForwarder(logger.Root(), Config{MaxAttempts: 5}, mfactory, sink, store, errLog, aborted)

	chunk := testChunk("0000000000000000005-00000000.hec")
	outcome := fwd.Forward(chunk, testSource())
	assert.Equal(t, base.OutcomeFailed, outcome)
	assert.Equal(t, 99, sink.failures) // gave up after the first attempt

	_, data, lerr := store.Load(chunk.ID)
	assert.NoError(t, lerr)
	assert.Equal(t, chunk.Data, data)
}
