package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"predict-rpc/message"
)

// RateLimit rejects calls beyond r per second (with the given burst) using a
// token bucket shared by all callers. Rejected calls get a RateLimited
// response and never reach the handler.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.Fail(message.ErrorRateLimited, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
