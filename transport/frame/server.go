// Package frame implements the framed TCP transport.
//
// Every connection is read by a single goroutine (frame boundaries must be
// parsed sequentially) and every request frame is served in its own
// goroutine, so a slow call never blocks the calls behind it on the same
// connection. Responses carry the request's sequence number and are written
// under a per-connection lock:
//
//	conn ──ReadFrame──→ seq=1 ──go──→ Call ──┐
//	     ──ReadFrame──→ seq=2 ──go──→ Call ──┼──writeMu──→ conn
//	     ──ReadFrame──→ heartbeat (dropped)  │
//	                    seq=3 ──go──→ Call ──┘
package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"predict-rpc/codec"
	"predict-rpc/message"
	"predict-rpc/protocol"
	"predict-rpc/transport"
)

// Server is the server side of the frame transport.
type Server struct {
	logger *zap.Logger

	// mu guards draining and lis. wg.Add only happens under mu.RLock with
	// draining false, so Wait never races an Add.
	mu       sync.RWMutex
	draining bool
	lis      net.Listener
	wg       sync.WaitGroup

	conns  *xsync.MapOf[uint64, *serverConn]
	connID atomic.Uint64
	callID atomic.Uint64
}

type serverConn struct {
	id      uint64
	nc      net.Conn
	writeMu sync.Mutex
	ctx     context.Context // cancelled when the connection goes away
	cancel  context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer returns a Server that is ready to Serve.
func NewServer(opts ...Option) *Server {
	s := &Server{
		logger: zap.NewNop(),
		conns:  xsync.NewMapOf[uint64, *serverConn](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("frame")
	return s
}

func (s *Server) Name() string { return transport.Frame }

func (s *Server) Serve(lis net.Listener, h transport.CallHandler) error {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		lis.Close()
		return nil
	}
	s.lis = lis
	s.mu.Unlock()

	for {
		nc, err := lis.Accept()
		if err != nil {
			if s.isDraining() {
				return nil
			}
			return fmt.Errorf("frame: accept: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		c := &serverConn{id: s.connID.Add(1), nc: nc, ctx: ctx, cancel: cancel}
		if !s.addConn(c) {
			cancel()
			nc.Close()
			return nil
		}
		go s.serveConn(c, h)
	}
}

// addConn stores c unless draining began. A conn accepted concurrently with
// beginDrain is refused here, since closeConns may already have run.
func (s *Server) addConn(c *serverConn) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draining {
		return false
	}
	s.conns.Store(c.id, c)
	return true
}

func (s *Server) isDraining() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draining
}

// track registers one in-flight call, or reports false once draining began.
func (s *Server) track() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draining {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) serveConn(c *serverConn, h transport.CallHandler) {
	defer s.dropConn(c)

	for {
		header, body, err := protocol.ReadFrame(c.nc)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection closed", zap.Uint64("conn", c.id), zap.Error(err))
			}
			return
		}

		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if header.MsgType != protocol.MsgTypeRequest {
			s.logger.Debug("unexpected frame", zap.Uint64("conn", c.id), zap.Uint8("msgType", byte(header.MsgType)))
			continue
		}

		arrived := time.Now()
		if !s.track() {
			s.reply(c, header, message.MethodPredict,
				message.Fail(message.ErrorUnavailable, "server is shutting down"))
			continue
		}
		go func() {
			defer s.wg.Done()
			s.handleRequest(c, h, header, body, arrived)
		}()
	}
}

func (s *Server) handleRequest(c *serverConn, h transport.CallHandler, header protocol.Header, body []byte, arrived time.Time) {
	cdc, err := codec.GetCodec(codec.CodecType(header.CodecType))
	if err != nil {
		s.reply(c, header, "", message.Fail(message.ErrorMalformedPayload, "%v", err))
		return
	}

	var env message.Envelope
	if err := cdc.Decode(body, &env); err != nil {
		s.reply(c, header, "", message.Fail(message.ErrorMalformedPayload, "decode envelope: %v", err))
		return
	}

	req := env.ToRequest(s.callID.Add(1), arrived)
	resp := h.Call(c.ctx, req)
	s.reply(c, header, env.Method, resp)
}

// reply writes resp with the request's sequence number and codec.
func (s *Server) reply(c *serverConn, reqHeader protocol.Header, method string, resp *message.Response) {
	cdc, err := codec.GetCodec(codec.CodecType(reqHeader.CodecType))
	if err != nil {
		cdc = codec.JSONCodec{}
	}
	body, err := cdc.Encode(message.ResponseEnvelope(method, resp))
	if err != nil {
		s.logger.Error("encode response", zap.Uint32("seq", reqHeader.Seq), zap.Error(err))
		return
	}

	header := protocol.Header{
		CodecType: byte(cdc.Type()),
		MsgType:   protocol.MsgTypeResponse,
		Seq:       reqHeader.Seq,
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WriteFrame(c.nc, header, body); err != nil {
		s.logger.Debug("write response", zap.Uint64("conn", c.id), zap.Uint32("seq", reqHeader.Seq), zap.Error(err))
	}
}

func (s *Server) dropConn(c *serverConn) {
	c.cancel()
	c.nc.Close()
	s.conns.Delete(c.id)
}

func (s *Server) closeConns() {
	s.conns.Range(func(_ uint64, c *serverConn) bool {
		s.dropConn(c)
		return true
	})
}

// beginDrain stops accepting connections and calls.
func (s *Server) beginDrain() {
	s.mu.Lock()
	s.draining = true
	lis := s.lis
	s.mu.Unlock()

	if lis != nil {
		lis.Close()
	}
}

func (s *Server) GracefulStop(ctx context.Context) error {
	s.beginDrain()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.closeConns()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Stop() {
	s.beginDrain()
	s.closeConns()
}
