// Package client calls Predict on a running server over any transport.
package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"predict-rpc/codec"
	"predict-rpc/payload"
	"predict-rpc/registry"
	"predict-rpc/transport"
	"predict-rpc/transport/frame"
	"predict-rpc/transport/grpcx"
	"predict-rpc/transport/jsonrpc"
)

// Client is a connection to one Predict server.
type Client struct {
	conn      transport.Client
	addr      string
	transport string
}

type options struct {
	transport string
	codec     codec.CodecType
	logger    *zap.Logger
}

// Option configures Dial and DialService.
type Option func(*options)

// WithTransport selects the transport by name. Default: grpc.
func WithTransport(name string) Option {
	return func(o *options) { o.transport = name }
}

// WithCodec selects the envelope codec of the frame transport.
func WithCodec(ct codec.CodecType) Option {
	return func(o *options) { o.codec = ct }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{transport: transport.GRPC, codec: codec.CodecTypeJSON, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Dial connects to the server at addr (host:port).
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	return dial(ctx, addr, buildOptions(opts))
}

func dial(ctx context.Context, addr string, o options) (*Client, error) {
	if err := transport.ValidateName(o.transport); err != nil {
		return nil, err
	}

	var (
		conn transport.Client
		err  error
	)
	switch o.transport {
	case transport.Frame:
		conn, err = frame.Dial(ctx, addr, frame.WithCodec(o.codec), frame.WithClientLogger(o.logger))
	case transport.JSONRPC:
		conn = jsonrpc.Dial(addr, nil)
	default:
		conn, err = grpcx.Dial(addr)
	}
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, addr: addr, transport: o.transport}, nil
}

// DialService discovers service in reg and connects to its first instance.
// The instance's advertised transport applies unless opts set another.
func DialService(ctx context.Context, reg registry.Registry, service string, opts ...Option) (*Client, error) {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("client: service %q: %w", service, registry.ErrNoInstances)
	}
	inst := instances[0]

	o := options{transport: inst.Transport, codec: codec.CodecTypeJSON, logger: zap.NewNop()}
	if o.transport == "" {
		o.transport = transport.GRPC
	}
	for _, opt := range opts {
		opt(&o)
	}
	return dial(ctx, inst.Addr, o)
}

// Predict sends raw JSON text and returns the raw result. Server-produced
// failures are *message.CallError.
func (c *Client) Predict(ctx context.Context, raw []byte) ([]byte, error) {
	return c.conn.Predict(ctx, raw)
}

// PredictValue encodes in, calls Predict and decodes the result.
func (c *Client) PredictValue(ctx context.Context, in payload.Value) (payload.Value, error) {
	raw, err := payload.Encode(in)
	if err != nil {
		return payload.Value{}, err
	}
	out, err := c.conn.Predict(ctx, raw)
	if err != nil {
		return payload.Value{}, err
	}
	return payload.Decode(out)
}

func (c *Client) Addr() string { return c.addr }

func (c *Client) Transport() string { return c.transport }

func (c *Client) Close() error { return c.conn.Close() }
