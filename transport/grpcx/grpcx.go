// Package grpcx serves Predict as the unary gRPC method
// proxy.ProxyService/Predict.
//
// Request and response messages are google.protobuf.StringValue, whose only
// field (1, string) matches the PredictRequest{json_request = 1} and
// PredictResponse{json_response = 1} messages of existing proxy clients
// byte for byte. A failed call ends with a gRPC status and the error kind in
// the "predict-error-kind" trailer, so clients can tell a server-produced
// failure from a broken connection.
package grpcx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"predict-rpc/message"
	"predict-rpc/transport"
)

const (
	ServiceName   = "proxy.ProxyService"
	PredictMethod = "/" + ServiceName + "/" + message.MethodPredict

	// ErrorKindKey is the trailer carrying the message.ErrorKind of a failed call.
	ErrorKindKey = "predict-error-kind"
)

type predictServer interface {
	Predict(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*predictServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: message.MethodPredict, Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proxy.proto",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(predictServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PredictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(predictServer).Predict(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var kindCodes = map[message.ErrorKind]codes.Code{
	message.ErrorMalformedPayload: codes.InvalidArgument,
	message.ErrorHandler:          codes.Internal,
	message.ErrorUnavailable:      codes.Unavailable,
	message.ErrorRateLimited:      codes.ResourceExhausted,
	message.ErrorUnknownMethod:    codes.Unimplemented,
}

// Code maps an error kind to its gRPC status code.
func Code(kind message.ErrorKind) codes.Code {
	if c, ok := kindCodes[kind]; ok {
		return c
	}
	return codes.Unknown
}

// service adapts a transport.CallHandler to predictServer.
type service struct {
	h   transport.CallHandler
	ids atomic.Uint64
}

func (s *service) Predict(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	req := &message.Request{
		ID:      s.ids.Add(1),
		Method:  message.MethodPredict,
		Payload: []byte(in.GetValue()),
		Arrived: time.Now(),
	}

	resp := s.h.Call(ctx, req)
	if resp.Failed() {
		// The status below is what the caller sees if the trailer is lost.
		_ = grpc.SetTrailer(ctx, metadata.Pairs(ErrorKindKey, string(resp.Kind)))
		return nil, status.Error(Code(resp.Kind), resp.Message)
	}
	return wrapperspb.String(string(resp.Payload)), nil
}

// Server is the gRPC ServerTransport.
type Server struct {
	srv    *grpc.Server
	logger *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer builds a gRPC transport. grpcOpts are passed to grpc.NewServer.
func NewServer(opts []Option, grpcOpts ...grpc.ServerOption) *Server {
	s := &Server{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("grpc")
	s.srv = grpc.NewServer(grpcOpts...)
	return s
}

func (s *Server) Name() string { return transport.GRPC }

func (s *Server) Serve(lis net.Listener, h transport.CallHandler) error {
	s.srv.RegisterService(&serviceDesc, &service{h: h})
	s.logger.Debug("serving", zap.String("service", ServiceName), zap.Stringer("addr", lis.Addr()))

	err := s.srv.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *Server) GracefulStop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Stop() { s.srv.Stop() }

// Client calls Predict on a gRPC server.
type Client struct {
	conn *grpc.ClientConn
}

var _ transport.Client = (*Client)(nil)

// Dial creates a client for addr. The connection is established lazily on
// the first call. Plaintext credentials are used unless opts override them.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Predict(ctx context.Context, payload []byte) ([]byte, error) {
	out := new(wrapperspb.StringValue)
	var trailer metadata.MD

	err := c.conn.Invoke(ctx, PredictMethod, wrapperspb.String(string(payload)), out, grpc.Trailer(&trailer))
	if err != nil {
		if kinds := trailer.Get(ErrorKindKey); len(kinds) > 0 {
			return nil, &message.CallError{
				Kind:    message.ErrorKind(kinds[0]),
				Message: status.Convert(err).Message(),
			}
		}
		return nil, fmt.Errorf("grpc: predict: %w", err)
	}
	return []byte(out.GetValue()), nil
}

func (c *Client) Close() error { return c.conn.Close() }
