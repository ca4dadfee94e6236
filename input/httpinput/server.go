// Package httpinput receives subscription envelopes over HTTP: one POST per
// batch, body either gzip-compressed or plain JSON, told apart by content
// detection rather than headers. Accepted batches go through the subscription
// dispatcher; the response is sent only after the batch is in the ingest
// stream, so 200 means accepted for delivery.
package httpinput

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relex/gotils/logger"
	promexporter "github.com/relex/gotils/promexporter/promext"

	"github.com/relex/loghose/base"
	"github.com/relex/loghose/defs"
	"github.com/relex/loghose/envelope"
	"github.com/relex/loghose/subscription"
)

const accessKeyHeader = "X-Access-Key"

// maxEnvelopeBytes caps the request body; a CloudWatch batch stays well under this
const maxEnvelopeBytes = 8 * 1024 * 1024

// Config defines the HTTP listener
type Config struct {
	Address   string `yaml:"address"`   // listen address, e.g. localhost:8070; empty port picks a free one
	AccessKey string `yaml:"accessKey"` // shared key required in the X-Access-Key header, empty disables the check
}

// VerifyConfig verifies HTTP input config
func (cfg *Config) VerifyConfig() error {
	if cfg.Address == "" {
		return fmt.Errorf(".address is unspecified")
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return fmt.Errorf(".address is invalid: %w", err)
	}
	return nil
}

// Server is the HTTP ingestion endpoint
type Server struct {
	logger     logger.Logger
	accessKey  string
	dispatcher *subscription.Dispatcher
	listener   net.Listener
	server     *http.Server
	metrics    serverMetrics
}

type serverMetrics struct {
	acceptedTotal     promexporter.RWCounter
	rejectedTotal     promexporter.RWCounter
	unauthorizedTotal promexporter.RWCounter
}

// NewServer creates a Server bound to the configured address; call Launch to start serving
func NewServer(parentLogger logger.Logger, cfg Config, metricFactory *base.MetricFactory, dispatcher *subscription.Dispatcher) (*Server, error) {
	listener, lerr := net.Listen("tcp", cfg.Address)
	if lerr != nil {
		return nil, fmt.Errorf("failed to listen on '%s': %w", cfg.Address, lerr)
	}

	server := &Server{
		logger:     parentLogger.WithField(defs.LabelComponent, "HTTPInput"),
		accessKey:  cfg.AccessKey,
		dispatcher: dispatcher,
		listener:   listener,
		metrics: serverMetrics{
			acceptedTotal:     metricFactory.AddOrGetCounter("input_accepted_requests_total", "Numbers of accepted envelope requests", nil, nil),
			rejectedTotal:     metricFactory.AddOrGetCounter("input_rejected_requests_total", "Numbers of malformed envelope requests", nil, nil),
			unauthorizedTotal: metricFactory.AddOrGetCounter("input_unauthorized_requests_total", "Numbers of requests with a missing or wrong access key", nil, nil),
		},
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", server.handleHealth)
	router.POST("/envelope", server.handleEnvelope)
	server.server = &http.Server{Handler: router}
	return server, nil
}

// Addr returns the bound listen address, including the picked port
func (server *Server) Addr() net.Addr {
	return server.listener.Addr()
}

// Launch starts serving in the background
func (server *Server) Launch() {
	go func() {
		server.logger.Infof("listening on %s", server.Addr())
		if err := server.server.Serve(server.listener); err != nil && err != http.ErrServerClosed {
			server.logger.Errorf("server failed: %s", err.Error())
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones up to the given timeout
func (server *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), defs.InputShutdownTimeout)
	defer cancel()
	if err := server.server.Shutdown(ctx); err != nil {
		server.logger.Errorf("failed to shut down cleanly: %s", err.Error())
	}
	server.logger.Info("stopped")
}

func (server *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) handleEnvelope(c *gin.Context) {
	if server.accessKey != "" && c.GetHeader(accessKeyHeader) != server.accessKey {
		server.metrics.unauthorizedTotal.Inc()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid access key"})
		return
	}

	raw, rerr := io.ReadAll(io.LimitReader(c.Request.Body, maxEnvelopeBytes+1))
	if rerr != nil {
		server.metrics.rejectedTotal.Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": rerr.Error()})
		return
	}
	if len(raw) > maxEnvelopeBytes {
		server.metrics.rejectedTotal.Inc()
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "envelope too large"})
		return
	}

	batch, derr := envelope.Decode(raw)
	if derr != nil {
		server.metrics.rejectedTotal.Inc()
		server.logger.Warnf("rejected envelope from %s: %s", c.ClientIP(), derr.Error())
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": derr.Error()})
		return
	}

	matched := server.dispatcher.Dispatch(batch, raw, time.Now())
	server.metrics.acceptedTotal.Inc()
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().UnixMilli(),
		"matched":   matched,
	})
}
