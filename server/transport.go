package server

import (
	"go.uber.org/zap"

	"predict-rpc/transport"
	"predict-rpc/transport/frame"
	"predict-rpc/transport/grpcx"
	"predict-rpc/transport/jsonrpc"
)

// NewTransport builds the server side of the named transport. A nil logger
// discards output.
func NewTransport(name string, logger *zap.Logger) (transport.ServerTransport, error) {
	if err := transport.ValidateName(name); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case transport.Frame:
		return frame.NewServer(frame.WithLogger(logger)), nil
	case transport.JSONRPC:
		return jsonrpc.NewServer(jsonrpc.WithLogger(logger)), nil
	default:
		return grpcx.NewServer([]grpcx.Option{grpcx.WithLogger(logger)}), nil
	}
}
