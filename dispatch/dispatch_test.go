package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"predict-rpc/handler"
	"predict-rpc/message"
	"predict-rpc/middleware"
	"predict-rpc/payload"
)

func call(d *Dispatcher, method, body string) *message.Response {
	return d.OnCall(context.Background(), &message.Request{ID: 1, Method: method, Payload: []byte(body)})
}

func TestOnCallEcho(t *testing.T) {
	d := New(handler.Echo("hello"), WithLogger(zaptest.NewLogger(t)))

	resp := call(d, message.MethodPredict, `{"x":1}`)
	if resp.Failed() {
		t.Fatalf("unexpected failure: %v", resp.Err())
	}
	if want := `{"message":"hello","received":{"x":1}}`; string(resp.Payload) != want {
		t.Fatalf("got %s, want %s", resp.Payload, want)
	}
}

func TestOnCallMalformedSkipsHandler(t *testing.T) {
	var calls atomic.Int32
	h := handler.HandlerFunc(func(ctx context.Context, in payload.Value) (payload.Value, error) {
		calls.Add(1)
		return in, nil
	})
	d := New(h)

	for _, body := range []string{"not-json", "", `{"a":`, `1 2`} {
		resp := call(d, message.MethodPredict, body)
		if resp.Kind != message.ErrorMalformedPayload {
			t.Fatalf("body %q: expect MalformedPayload, got %+v", body, resp)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("handler invoked %d times for malformed payloads", calls.Load())
	}

	if resp := call(d, message.MethodPredict, `[1,2]`); resp.Failed() || string(resp.Payload) != `[1,2]` {
		t.Fatalf("valid call after malformed ones failed: %+v", resp)
	}
}

func TestOnCallHandlerErrors(t *testing.T) {
	cases := []struct {
		name string
		h    handler.HandlerFunc
		want string
	}{
		{
			name: "handler error",
			h: func(context.Context, payload.Value) (payload.Value, error) {
				return payload.Value{}, handler.Errorf("model not loaded")
			},
			want: "model not loaded",
		},
		{
			name: "plain error",
			h: func(context.Context, payload.Value) (payload.Value, error) {
				return payload.Value{}, errors.New("disk on fire")
			},
			want: "disk on fire",
		},
		{
			name: "panic",
			h: func(context.Context, payload.Value) (payload.Value, error) {
				panic("division by zero")
			},
			want: "division by zero",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := New(tc.h, WithLogger(zaptest.NewLogger(t)))
			resp := call(d, message.MethodPredict, `{}`)
			if resp.Kind != message.ErrorHandler {
				t.Fatalf("expect HandlerError, got %+v", resp)
			}
			if !strings.Contains(resp.Message, tc.want) {
				t.Fatalf("expect message to contain %q, got %q", tc.want, resp.Message)
			}
		})
	}
}

func TestOnCallUnknownMethod(t *testing.T) {
	d := New(handler.Static("x"))
	resp := call(d, "Arith.Add", `{}`)
	if resp.Kind != message.ErrorUnknownMethod {
		t.Fatalf("expect UnknownMethod, got %+v", resp)
	}
}

func TestOnCallIdempotent(t *testing.T) {
	d := New(handler.Echo("m"))
	first := call(d, message.MethodPredict, `{"b":[1,2.50,"x"],"a":null}`)
	for i := 0; i < 5; i++ {
		again := call(d, message.MethodPredict, `{"b":[1,2.50,"x"],"a":null}`)
		if string(again.Payload) != string(first.Payload) {
			t.Fatalf("call %d differs: %s vs %s", i, again.Payload, first.Payload)
		}
	}
}

func TestWithMiddleware(t *testing.T) {
	d := New(handler.Static("x"), WithMiddleware(middleware.RateLimit(1, 1)))

	if resp := call(d, message.MethodPredict, `{}`); resp.Failed() {
		t.Fatalf("first call should pass: %+v", resp)
	}
	if resp := call(d, message.MethodPredict, `{}`); resp.Kind != message.ErrorRateLimited {
		t.Fatalf("second call should be rate limited: %+v", resp)
	}
}
