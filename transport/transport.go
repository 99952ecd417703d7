// Package transport defines the contract between the server lifecycle and the
// wire protocols that carry Predict calls.
//
// A ServerTransport owns everything between the listener and a
// *message.Request: accepting connections, reading calls, and writing back
// whatever the CallHandler returns. It never interprets payloads.
//
//	listener ──Accept──→ ServerTransport ──Call(req)──→ CallHandler (server)
//	                            ←──────── *message.Response ─────┘
//
// Three transports implement it, in subpackages:
//
//	grpcx    gRPC service proxy.ProxyService/Predict (default)
//	frame    framed TCP with multiplexed connections and heartbeats
//	jsonrpc  JSON-RPC 2.0 over HTTP POST /rpc
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"predict-rpc/message"
)

// Transport names used in configuration.
const (
	GRPC    = "grpc"
	Frame   = "frame"
	JSONRPC = "jsonrpc"
)

// ErrClosed is returned by a client used after Close.
var ErrClosed = errors.New("transport: client closed")

// CallHandler serves one decoded call. It must return a non-nil response.
type CallHandler interface {
	Call(ctx context.Context, req *message.Request) *message.Response
}

// ServerTransport serves calls from a bound listener.
type ServerTransport interface {
	Name() string

	// Serve blocks serving lis until GracefulStop or Stop. It returns nil
	// after a requested stop and an error if serving failed for any other
	// reason.
	Serve(lis net.Listener, h CallHandler) error

	// GracefulStop stops accepting new calls and waits for in-flight ones
	// until ctx ends. It returns ctx.Err() if calls were still running.
	GracefulStop(ctx context.Context) error

	// Stop closes every connection immediately. Pending responses are
	// dropped.
	Stop()
}

// Client issues Predict calls over one transport.
//
// Predict returns the result payload, a *message.CallError when the server
// rejected or failed the call, or any other error when the call could not
// be delivered.
type Client interface {
	Predict(ctx context.Context, payload []byte) ([]byte, error)
	Close() error
}

// ValidateName reports whether name is a known transport.
func ValidateName(name string) error {
	switch name {
	case GRPC, Frame, JSONRPC:
		return nil
	default:
		return fmt.Errorf("transport: unknown transport %q (expected %s, %s or %s)", name, GRPC, Frame, JSONRPC)
	}
}
