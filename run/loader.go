package run

import (
	"fmt"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"

	"github.com/relex/loghose/backup"
	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
	"github.com/relex/loghose/deliver"
	"github.com/relex/loghose/errorlog"
	"github.com/relex/loghose/ingest"
	"github.com/relex/loghose/input/httpinput"
	"github.com/relex/loghose/output/splunk"
	"github.com/relex/loghose/subscription"
	"github.com/relex/loghose/transform"
)

// Loader assembles the whole pipeline from a verified config
//
// Build order is destination-first so every stage's downstream exists before
// the stage can produce: backup/error log, collector client, transformer,
// delivery workers, ingest stream, dispatcher, HTTP input
type Loader struct {
	logger        logger.Logger
	cfg           *Config
	metricFactory *base.MetricFactory
	store         *backup.Store
	errLog        *errorlog.Log
	aborted       *channels.SignalAwaitable
	stream        *ingest.Stream
	server        *httpinput.Server
}

// NewLoaderFromConfigFile creates a Loader with everything constructed but the HTTP input not yet serving
func NewLoaderFromConfigFile(filepath string, metricPrefix string) (*Loader, error) {
	cfg, cerr := LoadConfigFile(filepath)
	if cerr != nil {
		return nil, fmt.Errorf("failed to load config file '%s': %w", filepath, cerr)
	}
	return NewLoader(cfg, metricPrefix)
}

// NewLoader creates a Loader from a verified config
func NewLoader(cfg *Config, metricPrefix string) (*Loader, error) {
	rootLogger := logger.Root()
	metricFactory := base.NewMetricFactory(metricPrefix, nil, nil)

	errLog, eerr := errorlog.NewLog(rootLogger, cfg.ErrorLog, metricFactory)
	if eerr != nil {
		return nil, fmt.Errorf("errorLog: %w", eerr)
	}
	store, serr := backup.NewStore(rootLogger, cfg.Backup, metricFactory)
	if serr != nil {
		errLog.Close()
		return nil, fmt.Errorf("backup: %w", serr)
	}

	client := splunk.NewClient(rootLogger, cfg.Output, metricFactory)
	serializer := splunk.NewEventSerializer(cfg.Output)
	transformer := transform.NewEnvelopeTransform(rootLogger, metricFactory, serializer)

	aborted := channels.NewSignalAwaitable()
	workerFactory := deliver.NewWorkerFactory(cfg.Delivery, cfg.Ingest.RetentionOrDefault(), metricFactory,
		transformer, client, store, errLog, aborted)
	stream := ingest.NewStream(rootLogger, cfg.Ingest, metricFactory, workerFactory.LaunchWorker)
	dispatcher := subscription.NewDispatcher(rootLogger, cfg.Subscriptions, metricFactory, stream)

	server, herr := httpinput.NewServer(rootLogger, cfg.Input, metricFactory, dispatcher)
	if herr != nil {
		store.Close()
		errLog.Close()
		return nil, fmt.Errorf("input: %w", herr)
	}

	return &Loader{
		logger:        rootLogger.WithField(defs.LabelComponent, "Loader"),
		cfg:           cfg,
		metricFactory: metricFactory,
		store:         store,
		errLog:        errLog,
		aborted:       aborted,
		stream:        stream,
		server:        server,
	}, nil
}

// Launch starts accepting envelopes
func (loader *Loader) Launch() {
	loader.server.Launch()
}

// Server returns the HTTP input, e.g. for its bound address
func (loader *Loader) Server() *httpinput.Server {
	return loader.server
}

// MetricFactory returns the root metric factory, for test inspection
func (loader *Loader) MetricFactory() *base.MetricFactory {
	return loader.metricFactory
}

// Shutdown stops the pipeline front to back
//
// The input stops first so nothing new arrives; retry waits are then cut short
// so queued chunks either deliver on their next attempt or go to the backup
// store, and the stream drains its workers before the failure outputs close
func (loader *Loader) Shutdown() {
	loader.logger.Info("shutting down")
	loader.server.Shutdown()
	loader.aborted.Signal()
	loader.stream.Shutdown()
	loader.store.Close()
	loader.errLog.Close()
	loader.logger.Info("shut down")
}
