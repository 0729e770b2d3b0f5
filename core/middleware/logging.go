package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/confbus/confbus/codec"
	"github.com/confbus/confbus/core"
)

// Logging returns middleware that logs envelope processing duration and
// outcome.
func Logging(log *zap.Logger) core.Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next core.EnvelopeHandler) core.EnvelopeHandler {
		return func(ctx context.Context, env *codec.Envelope) error {
			start := time.Now()
			err := next(ctx, env)
			fields := []zap.Field{
				zap.String("kind", env.Kind),
				zap.String("correlation_id", env.CorrelationID),
				zap.String("service", env.ServiceName),
				zap.Duration("elapsed", time.Since(start)),
			}
			if err != nil {
				log.Error("envelope handling failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("envelope handled", fields...)
			}
			return err
		}
	}
}
