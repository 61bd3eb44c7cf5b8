// Package observability wires the engine's three cross-cutting concerns
// from spec.md §6.4's event log requirement: structured logging correlated
// by a correlation id carried in a context, span tracing, and a set of
// Prometheus collectors served over HTTP.
package observability

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig parametrizes logger construction.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Development switches to console encoding and caller/stack annotations
	// suited for local runs, matching zap's own Development/Production split.
	Development bool
}

// NewLogger builds the process-wide zap.Logger, JSON-encoded in production
// (matching the teacher's field-based logging.Fields.ToZap() convention)
// or console-encoded for local development.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

// NewLogrLogger adapts logger to logr.Logger via go-logr/zapr, for any
// collaborator expecting the controller-runtime style logging interface
// rather than zap's concrete type.
func NewLogrLogger(logger *zap.Logger) logr.Logger {
	return zapr.NewLogger(logger)
}

type correlationIDKey struct{}

// WithCorrelationID attaches id to ctx so it can be read back by
// CorrelationID. Nothing in the engine copies it into queue payloads or
// handler logs.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID reads back the id WithCorrelationID attached, or "" if
// none was set.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

const tracerName = "github.com/jordigilh/kubernaut-workflow-engine"

// StartSpan starts a span named operation under the global tracer
// provider. With no exporter configured, spans are no-ops; wiring an
// actual OTLP exporter is a deployment concern the engine's code does not
// hardcode, matching spec.md's non-prescriptive event-log requirement.
func StartSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, operation)
}

// Metrics holds the engine's Prometheus collectors for queue depth, breaker
// state, step latency and boundary events, exposed through Handler. No
// package in this repository writes to them.
type Metrics struct {
	Registry     *prometheus.Registry
	QueueDepth   *prometheus.GaugeVec
	BreakerState *prometheus.GaugeVec
	StepLatency  *prometheus.HistogramVec
	EventsTotal  *prometheus.CounterVec
}

// NewMetrics constructs and registers the engine's collectors on a fresh
// registry (rather than the global default, so tests can assert against
// an isolated instance).
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wfengine_queue_depth",
			Help: "Number of jobs currently in each task queue list.",
		}, []string{"list"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wfengine_breaker_state",
			Help: "Circuit breaker state per collaborator: 0=closed, 1=half_open, 2=open.",
		}, []string{"collaborator"}),
		StepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wfengine_step_duration_seconds",
			Help:    "Step handler execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler", "outcome"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wfengine_events_total",
			Help: "Count of boundary events emitted, by event name.",
		}, []string{"event_name"}),
	}
	m.Registry.MustRegister(m.QueueDepth, m.BreakerState, m.StepLatency, m.EventsTotal)
	return m
}

// Handler exposes the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
