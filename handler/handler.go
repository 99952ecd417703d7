// Package handler defines the pluggable computation behind Predict.
//
// A Handler maps a decoded payload to a result. Implementations must not
// mutate their input and must be safe to call from many goroutines at once;
// the server adds no locking around them. Handlers that wait on I/O or
// timers should do so inside scheduler.Suspend (or scheduler.Sleep) so that
// the cooperative model can run other calls meanwhile.
package handler

import (
	"context"
	"fmt"
	"time"

	"predict-rpc/payload"
	"predict-rpc/scheduler"
)

// Handler computes the result of one Predict call.
type Handler interface {
	Handle(ctx context.Context, in payload.Value) (payload.Value, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, in payload.Value) (payload.Value, error)

func (f HandlerFunc) Handle(ctx context.Context, in payload.Value) (payload.Value, error) {
	return f(ctx, in)
}

// Error is a handler failure. Its message is returned to the caller.
type Error struct {
	Message string
	Err     error // optional cause, not sent to the caller
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error. A %w verb in format sets the cause.
func Errorf(format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Message: err.Error(), Err: unwrapOne(err)}
}

func unwrapOne(err error) error {
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return u.Unwrap()
	}
	return nil
}

// Echo returns {"received": <input>, "message": message}.
func Echo(message string) Handler {
	return HandlerFunc(func(_ context.Context, in payload.Value) (payload.Value, error) {
		return payload.Map(map[string]payload.Value{
			"received": in,
			"message":  payload.String(message),
		}), nil
	})
}

// Static ignores its input and returns {"message": message}.
func Static(message string) Handler {
	return HandlerFunc(func(context.Context, payload.Value) (payload.Value, error) {
		return payload.Map(map[string]payload.Value{
			"message": payload.String(message),
		}), nil
	})
}

// Delay waits d at a suspension point, then calls next.
func Delay(d time.Duration, next Handler) Handler {
	return HandlerFunc(func(ctx context.Context, in payload.Value) (payload.Value, error) {
		if err := scheduler.Sleep(ctx, d); err != nil {
			return payload.Value{}, &Error{Message: "delay interrupted", Err: err}
		}
		return next.Handle(ctx, in)
	})
}

// DefaultMessage is the message used by the built-in handlers when none is
// configured.
const DefaultMessage = "Hello from predict-rpc server!"

// Lookup builds a built-in handler by name: "echo" or "static".
func Lookup(name, message string) (Handler, error) {
	if message == "" {
		message = DefaultMessage
	}
	switch name {
	case "echo", "":
		return Echo(message), nil
	case "static":
		return Static(message), nil
	default:
		return nil, fmt.Errorf("unknown handler %q (expected echo or static)", name)
	}
}
