// Package jsonrpc serves Predict as JSON-RPC 2.0 over HTTP.
//
//	POST /rpc
//	{"jsonrpc":"2.0","method":"Proxy.Predict","params":{"payload":"{\"x\":1}"},"id":1}
//
// The payload travels as JSON text inside a string, exactly as in the gRPC
// transport. A failed call is a JSON-RPC error whose data member holds the
// message.ErrorKind.
package jsonrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"

	"predict-rpc/message"
	"predict-rpc/transport"
)

const (
	Path        = "/rpc"
	ServiceName = "Proxy"
	Method      = ServiceName + "." + message.MethodPredict
)

// PredictArgs carries the raw JSON payload as a string.
type PredictArgs struct {
	Payload string `json:"payload"`
}

type PredictReply struct {
	Payload string `json:"payload"`
}

// Service is the receiver registered with the gorilla RPC server.
type Service struct {
	h   transport.CallHandler
	ids atomic.Uint64
}

func (s *Service) Predict(r *http.Request, args *PredictArgs, reply *PredictReply) error {
	req := &message.Request{
		ID:      s.ids.Add(1),
		Method:  message.MethodPredict,
		Payload: []byte(args.Payload),
		Arrived: time.Now(),
	}

	resp := s.h.Call(r.Context(), req)
	if resp.Failed() {
		return &json2.Error{Code: json2.E_SERVER, Message: resp.Message, Data: string(resp.Kind)}
	}
	reply.Payload = string(resp.Payload)
	return nil
}

// Server is the JSON-RPC ServerTransport.
type Server struct {
	http   *http.Server
	logger *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer builds a JSON-RPC transport.
func NewServer(opts ...Option) *Server {
	s := &Server{
		logger: zap.NewNop(),
		http:   &http.Server{ReadHeaderTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("jsonrpc")
	s.http.ErrorLog = zap.NewStdLog(s.logger)
	return s
}

func (s *Server) Name() string { return transport.JSONRPC }

func (s *Server) Serve(lis net.Listener, h transport.CallHandler) error {
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json2.NewCodec(), "application/json")
	if err := rpcServer.RegisterService(&Service{h: h}, ServiceName); err != nil {
		return fmt.Errorf("jsonrpc: register service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(Path, rpcServer)
	s.http.Handler = mux

	s.logger.Debug("serving", zap.String("path", Path), zap.Stringer("addr", lis.Addr()))
	err := s.http.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// GracefulStop closes the listener and idle connections, then waits for
// active requests until ctx ends.
func (s *Server) GracefulStop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) Stop() { s.http.Close() }

// Client calls Predict on a JSON-RPC server.
type Client struct {
	url  string
	http *http.Client
}

var _ transport.Client = (*Client)(nil)

// Dial returns a client for the server at addr (host:port). No connection
// is made until the first call.
func Dial(addr string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{}}
	}
	return &Client{url: "http://" + addr + Path, http: httpClient}
}

func (c *Client) Predict(ctx context.Context, payload []byte) ([]byte, error) {
	body, err := json2.EncodeClientRequest(Method, &PredictArgs{Payload: string(payload)})
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: predict: %w", err)
	}
	defer cleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("jsonrpc: received status code %d", resp.StatusCode)
	}

	var reply PredictReply
	if err := json2.DecodeClientResponse(resp.Body, &reply); err != nil {
		var rpcErr *json2.Error
		if errors.As(err, &rpcErr) {
			if kind, ok := rpcErr.Data.(string); ok && kind != "" {
				return nil, &message.CallError{Kind: message.ErrorKind(kind), Message: rpcErr.Message}
			}
		}
		return nil, fmt.Errorf("jsonrpc: decode response: %w", err)
	}
	return []byte(reply.Payload), nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// cleanlyCloseBody drains the body so the connection can be reused.
func cleanlyCloseBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
