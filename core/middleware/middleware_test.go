package middleware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/confbus/confbus/codec"
	"github.com/confbus/confbus/core/middleware"
)

func testEnvelope() *codec.Envelope {
	return &codec.Envelope{
		CorrelationID: "corr-1",
		ServiceName:   "svcX",
		Kind:          codec.KindConfigResponse,
	}
}

func TestRecoveryConvertsPanicToError(t *testing.T) {
	obs, logs := observer.New(zapcore.ErrorLevel)
	handler := middleware.Recovery(zap.New(obs))(func(ctx context.Context, env *codec.Envelope) error {
		panic("boom")
	})

	err := handler(context.Background(), testEnvelope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "panic recovered in handler", logs.All()[0].Message)
}

func TestRecoveryPassesThrough(t *testing.T) {
	handler := middleware.Recovery(nil)(func(ctx context.Context, env *codec.Envelope) error {
		return nil
	})
	assert.NoError(t, handler(context.Background(), testEnvelope()))
}

func TestLoggingRecordsFailure(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	wantErr := errors.New("handler failed")
	handler := middleware.Logging(zap.New(obs))(func(ctx context.Context, env *codec.Envelope) error {
		return wantErr
	})

	err := handler(context.Background(), testEnvelope())
	assert.ErrorIs(t, err, wantErr)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "corr-1", entry.ContextMap()["correlation_id"])
}

func TestLoggingRecordsSuccess(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	handler := middleware.Logging(zap.New(obs))(func(ctx context.Context, env *codec.Envelope) error {
		return nil
	})

	require.NoError(t, handler(context.Background(), testEnvelope()))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
}

type recordingCollector struct {
	kind     string
	duration time.Duration
	err      error
	calls    int
}

func (r *recordingCollector) EnvelopeProcessed(kind string, duration time.Duration, err error) {
	r.kind = kind
	r.duration = duration
	r.err = err
	r.calls++
}

func TestMetricsReportsOutcome(t *testing.T) {
	collector := &recordingCollector{}
	wantErr := errors.New("nope")
	handler := middleware.Metrics(collector)(func(ctx context.Context, env *codec.Envelope) error {
		return wantErr
	})

	_ = handler(context.Background(), testEnvelope())
	assert.Equal(t, 1, collector.calls)
	assert.Equal(t, codec.KindConfigResponse, collector.kind)
	assert.ErrorIs(t, collector.err, wantErr)
}
