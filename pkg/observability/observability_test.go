package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_DefaultsToInfo(t *testing.T) {
	logger, err := NewLogger(LogConfig{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "not-a-level"})
	assert.Error(t, err)
}

func TestCorrelationID_RoundTrips(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "corr-123")
	assert.Equal(t, "corr-123", CorrelationID(ctx))
}

func TestCorrelationID_EmptyWhenUnset(t *testing.T) {
	assert.Equal(t, "", CorrelationID(context.Background()))
}

func TestStartSpan_ReturnsUsableContextAndSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test-op")
	defer span.End()
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestMetrics_HandlerServesPrometheusFormat(t *testing.T) {
	m := NewMetrics()
	m.EventsTotal.WithLabelValues("workflow.composed").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "wfengine_events_total")
}
