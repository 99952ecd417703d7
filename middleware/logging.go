package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"predict-rpc/message"
)

// Logging logs one entry per call with its duration and outcome.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Uint64("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Failed() {
				logger.Warn("call failed", append(fields,
					zap.String("kind", string(resp.Kind)),
					zap.String("error", resp.Message))...)
				return resp
			}
			logger.Info("call", fields...)
			return resp
		}
	}
}

// Trace logs the raw request payload at debug level.
func Trace(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if ce := logger.Check(zap.DebugLevel, "request"); ce != nil {
				ce.Write(
					zap.Uint64("id", req.ID),
					zap.ByteString("payload", req.Payload),
					zap.Duration("queued", time.Since(req.Arrived)),
				)
			}
			return next(ctx, req)
		}
	}
}
