// Package dispatch turns a raw Predict request into a response by decoding
// the payload, invoking the handler and encoding the result.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"predict-rpc/handler"
	"predict-rpc/message"
	"predict-rpc/middleware"
	"predict-rpc/payload"
)

// Dispatcher runs one handler behind the middleware chain.
type Dispatcher struct {
	handler handler.Handler
	logger  *zap.Logger
	mws     []middleware.Middleware
	chain   middleware.HandlerFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger; the dispatcher names it "dispatch".
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMiddleware adds middlewares around every call, outermost first. The
// trace middleware always runs innermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(d *Dispatcher) { d.mws = append(d.mws, mws...) }
}

// New returns a Dispatcher for h.
func New(h handler.Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{handler: h, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatch")

	mws := append(d.mws, middleware.Trace(d.logger))
	d.chain = middleware.Chain(mws...)(d.dispatch)
	return d
}

// OnCall serves one request. It never panics and always returns a response.
func (d *Dispatcher) OnCall(ctx context.Context, req *message.Request) *message.Response {
	return d.chain(ctx, req)
}

func (d *Dispatcher) dispatch(ctx context.Context, req *message.Request) (resp *message.Response) {
	if req.Method != message.MethodPredict {
		return message.Fail(message.ErrorUnknownMethod, "unknown method %q", req.Method)
	}

	in, err := payload.Decode(req.Payload)
	if err != nil {
		return message.Fail(message.ErrorMalformedPayload, "%v", err)
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", zap.Uint64("id", req.ID), zap.Any("panic", r))
			resp = message.Fail(message.ErrorHandler, "handler panic: %v", r)
		}
	}()

	out, err := d.handler.Handle(ctx, in)
	if err != nil {
		var herr *handler.Error
		if !errors.As(err, &herr) {
			herr = &handler.Error{Message: err.Error(), Err: err}
		}
		d.logger.Debug("handler error", zap.Uint64("id", req.ID), zap.Error(err))
		return message.Fail(message.ErrorHandler, "%s", herr.Message)
	}

	encoded, err := payload.Encode(out)
	if err != nil {
		return message.Fail(message.ErrorHandler, "%s", fmt.Errorf("encode result: %w", err))
	}
	return message.OK(encoded)
}
