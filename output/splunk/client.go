package splunk

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/relex/gotils/logger"
	promexporter "github.com/relex/gotils/promexporter/promext"

	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
)

const collectorEventPath = "/services/collector/event"

// maxErrorBodyLen caps collector error bodies kept for logs and error records
const maxErrorBodyLen = 1024

// StatusError is a collector response with a non-2xx status code
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector returned status %d: %s", e.Code, e.Body)
}

// Permanent implements base.PermanentError
//
// Client errors never heal by retrying, except timeout (408) and throttling (429)
func (e *StatusError) Permanent() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

// Client forwards chunks to one HEC endpoint; safe for use by multiple workers
type Client struct {
	logger  logger.Logger
	url     string
	token   string
	client  *http.Client
	metrics clientMetrics
}

type clientMetrics struct {
	requestsTotal      promexporter.RWCounter
	networkErrorsTotal promexporter.RWCounter
	statusTotal        *promexporter.RWCounterVec // by status code
	sentBytesTotal     promexporter.RWCounter
}

// NewClient creates a Client; the config must have passed VerifyConfig
func NewClient(parentLogger logger.Logger, cfg Config, metricFactory *base.MetricFactory) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.AllowInsecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // test endpoints only, guarded by VerifyConfig
	}
	return &Client{
		logger: parentLogger.WithFields(logger.Fields{
			defs.LabelComponent: "SplunkClient",
			defs.LabelRemote:    cfg.URL,
		}),
		url:   strings.TrimSuffix(cfg.URL, "/") + collectorEventPath,
		token: cfg.Token,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.TimeoutOrDefault(),
		},
		metrics: clientMetrics{
			requestsTotal:      metricFactory.AddOrGetCounter("splunk_requests_total", "Numbers of collector requests attempted", nil, nil),
			networkErrorsTotal: metricFactory.AddOrGetCounter("splunk_network_errors_total", "Numbers of collector requests failed before a response", nil, nil),
			statusTotal:        metricFactory.AddOrGetCounterVec("splunk_responses_total", "Numbers of collector responses by status code", []string{"status"}, nil),
			sentBytesTotal:     metricFactory.AddOrGetCounter("splunk_sent_bytes_total", "Numbers of compressed payload bytes sent", nil, nil),
		},
	}
}

// SendChunk implements base.ChunkSink: one POST per chunk, no retry at this level
//
// Network failures and 5xx come back as transient errors; 4xx (bar 408 and 429)
// as *StatusError with Permanent() true
func (c *Client) SendChunk(chunk base.BatchChunk) error {
	request, rerr := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(chunk.Data))
	if rerr != nil {
		return rerr
	}
	request.Header.Set("Authorization", "Splunk "+c.token)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Content-Encoding", "gzip")

	c.metrics.requestsTotal.Inc()
	response, serr := c.client.Do(request)
	if serr != nil {
		c.metrics.networkErrorsTotal.Inc()
		return fmt.Errorf("failed to reach collector: %w", serr)
	}
	defer response.Body.Close()

	c.metrics.statusTotal.WithLabelValues(fmt.Sprintf("%d", response.StatusCode)).Inc()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyLen))
		return &StatusError{Code: response.StatusCode, Body: string(body)}
	}

	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, response.Body)
	c.metrics.sentBytesTotal.Add(uint64(len(chunk.Data)))
	return nil
}
