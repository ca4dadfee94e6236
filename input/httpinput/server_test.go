package httpinput

import (
	"bytes"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/stretchr/testify/assert"

	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
	"github.com/relex/loghose/envelope"
	"github.com/relex/loghose/ingest"
	"github.com/relex/loghose/subscription"
)

type serverFixture struct {
	server    *Server
	collected *[]ingest.Entry
	stream    *ingest.Stream
}

func launchTestServer(t *testing.T, prefix string, accessKey string) *serverFixture {
	collected := &[]ingest.Entry{}
	launch := func(_ logger.Logger, _ string, input <-chan ingest.Entry, onStopped func()) {
		go func() {
			defer onStopped()
			for entry := range input {
				*collected = append(*collected, entry)
			}
		}()
	}
	mfactory := base.NewMetricFactory(prefix, nil, nil)
	stream := ingest.NewStream(logger.Root(), ingest.Config{PartitionQueueSize: 100}, mfactory, launch)
	dispatcher := subscription.NewDispatcher(logger.Root(), []subscription.FilterConfig{
		{Name: "everything", LogGroup: "*"},
	}, mfactory, stream)

	server, serr := NewServer(logger.Root(), Config{Address: "localhost:0", AccessKey: accessKey}, mfactory, dispatcher)
	assert.NoError(t, serr)
	server.Launch()
	return &serverFixture{server: server, collected: collected, stream: stream}
}

func (fixture *serverFixture) finish() {
	fixture.server.Shutdown()
	fixture.stream.Shutdown()
}

func (fixture *serverFixture) postEnvelope(t *testing.T, body []byte, accessKey string) *http.Response {
	url := fmt.Sprintf("http://%s/envelope", fixture.server.Addr())
	request, rerr := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	assert.NoError(t, rerr)
	if accessKey != "" {
		request.Header.Set(accessKeyHeader, accessKey)
	}
	response, perr := http.DefaultClient.Do(request)
	assert.NoError(t, perr)
	return response
}

func newEnvelopePayload(t *testing.T, compress bool) []byte {
	payload, err := envelope.Encode(&base.EventBatch{
		MessageType: defs.MessageTypeData,
		Owner:       "123456789012",
		LogGroup:    "/ecs/app",
		LogStream:   "app/web/1",
		Events: []base.LogEvent{
			{ID: "1", Timestamp: time.Now().UnixMilli(), Message: "hello"},
		},
	}, compress)
	assert.NoError(t, err)
	return payload
}

func TestServerAcceptsCompressedEnvelope(t *testing.T) {
	fixture := launchTestServer(t, "test_input_gzip_", "")
	response := fixture.postEnvelope(t, newEnvelopePayload(t, true), "")
	assert.Equal(t, http.StatusOK, response.StatusCode)
	_ = response.Body.Close()
	fixture.finish()

	assert.Equal(t, 1, len(*fixture.collected))
	assert.Equal(t, "/ecs/app/app/web/1", (*fixture.collected)[0].Key)
}

func TestServerAcceptsPlainEnvelope(t *testing.T) {
	fixture := launchTestServer(t, "test_input_plain_", "")
	response := fixture.postEnvelope(t, newEnvelopePayload(t, false), "")
	assert.Equal(t, http.StatusOK, response.StatusCode)
	_ = response.Body.Close()
	fixture.finish()

	assert.Equal(t, 1, len(*fixture.collected))
}

func TestServerRejectsMalformedEnvelope(t *testing.T) {
	fixture := launchTestServer(t, "test_input_malformed_", "")
	response := fixture.postEnvelope(t, []byte("not an envelope"), "")
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	_ = response.Body.Close()
	fixture.finish()

	assert.Equal(t, 0, len(*fixture.collected))
}

func TestServerChecksAccessKey(t *testing.T) {
	fixture := launchTestServer(t, "test_input_auth_", "topsecret")

	denied := fixture.postEnvelope(t, newEnvelopePayload(t, true), "")
	assert.Equal(t, http.StatusUnauthorized, denied.StatusCode)
	_ = denied.Body.Close()

	wrongKey := fixture.postEnvelope(t, newEnvelopePayload(t, true), "wrong")
	assert.Equal(t, http.StatusUnauthorized, wrongKey.StatusCode)
	_ = wrongKey.Body.Close()

	allowed := fixture.postEnvelope(t, newEnvelopePayload(t, true), "topsecret")
	assert.Equal(t, http.StatusOK, allowed.StatusCode)
	_ = allowed.Body.Close()
	fixture.finish()

	assert.Equal(t, 1, len(*fixture.collected))
}

func TestServerHealth(t *testing.T) {
	fixture := launchTestServer(t, "test_input_health_", "anykey")
	response, err := http.Get(fmt.Sprintf("http://%s/health", fixture.server.Addr()))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	_ = response.Body.Close()
	fixture.finish()
}

func TestConfigVerify(t *testing.T) {
	assert.NoError(t, (&Config{Address: "localhost:8070"}).VerifyConfig())
	assert.Error(t, (&Config{}).VerifyConfig())
	assert.Error(t, (&Config{Address: "no-port"}).VerifyConfig())
}
