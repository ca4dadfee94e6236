// Package subscription routes incoming envelope batches into the ingest stream.
//
// A subscription filter names the log groups and streams it covers with glob
// patterns; a batch is appended once if any filter matches and counted as
// unmatched otherwise. Control messages are acknowledged without routing.
package subscription

import (
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/relex/gotils/logger"
	promexporter "github.com/relex/gotils/promexporter/promext"

	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
	"github.com/relex/loghose/ingest"
)

// FilterConfig defines one subscription filter
type FilterConfig struct {
	Name      string `yaml:"name"`
	LogGroup  string `yaml:"logGroup"`  // glob pattern on the source log group
	LogStream string `yaml:"logStream"` // glob pattern on the source log stream, empty matches all
}

// VerifyConfig verifies filter config
func (cfg *FilterConfig) VerifyConfig() error {
	if cfg.Name == "" {
		return fmt.Errorf(".name is unspecified")
	}
	if cfg.LogGroup == "" {
		return fmt.Errorf(".logGroup is unspecified for filter '%s'", cfg.Name)
	}
	if _, err := glob.Compile(cfg.LogGroup); err != nil {
		return fmt.Errorf(".logGroup for filter '%s' is not a valid pattern: %w", cfg.Name, err)
	}
	if cfg.LogStream != "" {
		if _, err := glob.Compile(cfg.LogStream); err != nil {
			return fmt.Errorf(".logStream for filter '%s' is not a valid pattern: %w", cfg.Name, err)
		}
	}
	return nil
}

// Filter is a compiled subscription filter
type Filter struct {
	name      string
	logGroup  glob.Glob
	logStream glob.Glob // nil matches all streams
}

// NewFilter compiles a filter from its config; the config must have passed VerifyConfig
func NewFilter(cfg FilterConfig) *Filter {
	f := &Filter{
		name:     cfg.Name,
		logGroup: glob.MustCompile(cfg.LogGroup),
	}
	if cfg.LogStream != "" {
		f.logStream = glob.MustCompile(cfg.LogStream)
	}
	return f
}

// Name returns the configured filter name, carried in delivered records for traceability
func (f *Filter) Name() string {
	return f.name
}

// Match tells whether the filter covers the batch's source log group and stream
func (f *Filter) Match(batch *base.EventBatch) bool {
	if !f.logGroup.Match(batch.LogGroup) {
		return false
	}
	if f.logStream != nil && !f.logStream.Match(batch.LogStream) {
		return false
	}
	return true
}

// Dispatcher matches batches against all subscription filters and appends matched
// ones to the ingest stream
type Dispatcher struct {
	logger  logger.Logger
	filters []*Filter
	stream  *ingest.Stream
	metrics dispatcherMetrics
}

type dispatcherMetrics struct {
	matchedBatchesTotal   *promexporter.RWCounterVec // by filter name
	unmatchedBatchesTotal promexporter.RWCounter
	controlBatchesTotal   promexporter.RWCounter
}

// NewDispatcher creates a Dispatcher from verified filter configs
func NewDispatcher(parentLogger logger.Logger, configs []FilterConfig, metricFactory *base.MetricFactory, stream *ingest.Stream) *Dispatcher {
	filters := make([]*Filter, len(configs))
	for i, cfg := range configs {
		filters[i] = NewFilter(cfg)
	}
	return &Dispatcher{
		logger:  parentLogger.WithField(defs.LabelComponent, "Dispatcher"),
		filters: filters,
		stream:  stream,
		metrics: dispatcherMetrics{
			matchedBatchesTotal:   metricFactory.AddOrGetCounterVec("subscription_matched_batches_total", "Numbers of batches matched by subscription filters", []string{defs.LabelName}, nil),
			unmatchedBatchesTotal: metricFactory.AddOrGetCounter("subscription_unmatched_batches_total", "Numbers of batches matched by no subscription filter", nil, nil),
			controlBatchesTotal:   metricFactory.AddOrGetCounter("subscription_control_batches_total", "Numbers of control messages acknowledged", nil, nil),
		},
	}
}

// Dispatch routes a decoded batch and its raw payload
//
// Returns the names of subscription filters that matched, empty when nothing did.
// Control messages always return nil and are never appended.
func (d *Dispatcher) Dispatch(batch *base.EventBatch, raw []byte, arrived time.Time) []string {
	if batch.IsControl() {
		d.metrics.controlBatchesTotal.Inc()
		return nil
	}

	matched := make([]string, 0, 1)
	for _, f := range d.filters {
		if f.Match(batch) {
			matched = append(matched, f.name)
		}
	}
	if len(matched) == 0 {
		d.metrics.unmatchedBatchesTotal.Inc()
		d.logger.Infof("no subscription filter for batch: group=%s stream=%s events=%d",
			batch.LogGroup, batch.LogStream, len(batch.Events))
		return matched
	}

	for _, name := range matched {
		d.metrics.matchedBatchesTotal.WithLabelValues(name).Inc()
	}
	d.stream.Append(ingest.Entry{
		Key:       batch.PartitionKey(),
		LogGroup:  batch.LogGroup,
		LogStream: batch.LogStream,
		NumEvents: len(batch.Events),
		Raw:       raw,
		Arrived:   arrived,
	})
	return matched
}
