package middleware

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/confbus/confbus/codec"
	"github.com/confbus/confbus/core"
)

// Recovery returns middleware that recovers from panics in handlers, logs the
// stack trace, and converts the panic into an error so the consumer loop
// keeps running.
func Recovery(log *zap.Logger) core.Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next core.EnvelopeHandler) core.EnvelopeHandler {
		return func(ctx context.Context, env *codec.Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					log.Error("panic recovered in handler",
						zap.Any("panic", r),
						zap.String("correlation_id", env.CorrelationID),
						zap.ByteString("stack", buf[:n]))
					err = fmt.Errorf("confbus: panic recovered: %v", r)
				}
			}()
			return next(ctx, env)
		}
	}
}
