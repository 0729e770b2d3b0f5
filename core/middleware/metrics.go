package middleware

import (
	"context"
	"time"

	"github.com/confbus/confbus/codec"
	"github.com/confbus/confbus/core"
)

// MetricsCollector is the interface metrics backends must implement. It keeps
// the middleware decoupled from any specific metrics library; package metrics
// provides a Prometheus implementation.
type MetricsCollector interface {
	// EnvelopeProcessed records one handled envelope. kind is the envelope
	// kind, duration is processing time, and err is nil on success.
	EnvelopeProcessed(kind string, duration time.Duration, err error)
}

// Metrics returns middleware that reports processing metrics to the collector.
func Metrics(collector MetricsCollector) core.Middleware {
	return func(next core.EnvelopeHandler) core.EnvelopeHandler {
		return func(ctx context.Context, env *codec.Envelope) error {
			start := time.Now()
			err := next(ctx, env)
			collector.EnvelopeProcessed(env.Kind, time.Since(start), err)
			return err
		}
	}
}
