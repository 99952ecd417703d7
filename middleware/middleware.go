// Package middleware wraps the dispatch of a single call.
//
// Middlewares compose as an onion: Chain(a, b)(h) runs a, then b, then h,
// and unwinds in reverse order.
package middleware

import (
	"context"

	"predict-rpc/message"
)

// HandlerFunc serves one call and always returns a response.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. The first argument is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
