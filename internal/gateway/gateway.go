// Package gateway is a streaming reverse proxy that captures upstream traffic.
//
// DESIGN: The gateway forwards every request to the configured upstream and
// streams the response back unchanged. When debug logging is enabled the
// request body and the full response body are copied to disk by the capture
// package. Capture never changes what the client receives.
//
// FILES:
//   - gateway.go:    Gateway lifecycle, routes, helpers
//   - proxy.go:      Forwarding and response streaming
//   - middleware.go: Request logging and panic recovery
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/capture-gateway/internal/capture"
	"github.com/compresr/capture-gateway/internal/config"
	"github.com/compresr/capture-gateway/internal/monitoring"
)

// Header names.
const (
	HeaderRequestID = "X-Request-ID"
)

// MaxRequestBodySize bounds request bodies read into memory (50MB).
const MaxRequestBodySize = 50 << 20

// Gateway is the capture proxy.
type Gateway struct {
	config        *config.Config
	client        *http.Client
	capture       *capture.Writer
	logger        *monitoring.Logger
	requestLogger *monitoring.RequestLogger
	metrics       *monitoring.MetricsCollector
	alerts        *monitoring.AlertManager
	server        *http.Server
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the client used for upstream requests.
func WithHTTPClient(c *http.Client) Option { return func(g *Gateway) { g.client = c } }

// WithCaptureWriter replaces the default capture writer.
func WithCaptureWriter(w *capture.Writer) Option { return func(g *Gateway) { g.capture = w } }

// WithLogger sets the operator logger.
func WithLogger(l *monitoring.Logger) Option { return func(g *Gateway) { g.logger = l } }

// WithMetrics sets the metrics collector shared with the capture writer.
func WithMetrics(mc *monitoring.MetricsCollector) Option { return func(g *Gateway) { g.metrics = mc } }

// New creates a gateway from configuration.
func New(cfg *config.Config, opts ...Option) *Gateway {
	g := &Gateway{config: cfg}
	for _, opt := range opts {
		opt(g)
	}

	if g.logger == nil {
		g.logger = monitoring.New(monitoring.LoggerConfigFrom(cfg.Monitoring))
	}
	if g.metrics == nil {
		g.metrics = monitoring.NewMetricsCollector()
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: cfg.Upstream.Timeout}
	}
	if g.capture == nil {
		g.capture = capture.NewWriter(
			capture.WithLogger(g.logger.Zerolog()),
			capture.WithMetrics(g.metrics),
		)
	}
	g.requestLogger = monitoring.NewRequestLogger(g.logger)
	g.alerts = monitoring.NewAlertManager(g.logger, 0)

	return g
}

// Handler returns the HTTP handler with middleware applied.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)
	mux.HandleFunc("/", g.handleProxy)

	return g.panicRecovery(g.loggingMiddleware(mux))
}

// Start listens on the configured port. It blocks until the server stops.
func (g *Gateway) Start() error {
	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", g.config.Server.Port),
		Handler:           g.Handler(),
		ReadHeaderTimeout: g.config.Server.ReadTimeout,
		ReadTimeout:       g.config.Server.ReadTimeout,
		WriteTimeout:      g.config.Server.WriteTimeout,
	}

	log.Info().
		Int("port", g.config.Server.Port).
		Str("upstream", g.config.Upstream.BaseURL).
		Bool("debug_logging", g.config.DebugLogging.Enabled).
		Msg("gateway listening")

	return g.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// Metrics returns the gateway's metrics collector.
func (g *Gateway) Metrics() *monitoring.MetricsCollector { return g.metrics }

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.metrics.Stats())
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write JSON response")
	}
}

// writeError writes an error in the shape LLM clients expect.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	g.writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"type":    "gateway_error",
			"message": msg,
		},
	})
}
