package frame

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"predict-rpc/codec"
	"predict-rpc/message"
	"predict-rpc/protocol"
	"predict-rpc/transport"
)

// DefaultHeartbeat is the interval between heartbeat frames.
const DefaultHeartbeat = 30 * time.Second

// Client multiplexes concurrent Predict calls over one TCP connection.
//
// Each call gets its own sequence number and waits on its own channel; a
// single recvLoop goroutine reads responses in whatever order the server
// writes them and routes each one by sequence number:
//
//	goroutine-1 ──send(seq=1)──┐
//	goroutine-2 ──send(seq=2)──┼──→ single TCP conn ──→ server
//	goroutine-3 ──send(seq=3)──┘
//
//	recvLoop: ←── response(seq=2) → pending[2] → goroutine-2 wakes up
type Client struct {
	conn    net.Conn
	codec   codec.Codec
	logger  *zap.Logger
	seq     uint32 // guarded by sending
	sending sync.Mutex
	pending *xsync.MapOf[uint32, chan reply]

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error // set before closed is closed
}

type reply struct {
	env *message.Envelope
	err error
}

type clientOptions struct {
	codec     codec.CodecType
	heartbeat time.Duration
	logger    *zap.Logger
}

// ClientOption configures Dial and NewClient.
type ClientOption func(*clientOptions)

// WithCodec selects the envelope codec. Default: JSON.
func WithCodec(ct codec.CodecType) ClientOption {
	return func(o *clientOptions) { o.codec = ct }
}

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.heartbeat = d }
}

func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = logger }
}

// Dial connects to a frame server at addr.
func Dial(ctx context.Context, addr string, opts ...ClientOption) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("frame: dial %s: %w", addr, err)
	}
	c, err := NewClient(conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient takes ownership of conn and starts its receive and heartbeat
// loops.
func NewClient(conn net.Conn, opts ...ClientOption) (*Client, error) {
	o := clientOptions{codec: codec.CodecTypeJSON, heartbeat: DefaultHeartbeat, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	cdc, err := codec.GetCodec(o.codec)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:    conn,
		codec:   cdc,
		logger:  o.logger.Named("frame-client"),
		pending: xsync.NewMapOf[uint32, chan reply](),
		closed:  make(chan struct{}),
	}
	go c.recvLoop()
	if o.heartbeat > 0 {
		go c.heartbeatLoop(o.heartbeat)
	}
	return c, nil
}

var _ transport.Client = (*Client)(nil)

func (c *Client) Predict(ctx context.Context, payload []byte) ([]byte, error) {
	seq, ch, err := c.send(&message.Envelope{Method: message.MethodPredict, Payload: payload})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		resp := r.env.Response()
		if resp.Failed() {
			return nil, resp.Err()
		}
		return resp.Payload, nil
	case <-ctx.Done():
		c.pending.Delete(seq)
		return nil, ctx.Err()
	}
}

// send encodes env and writes it as one request frame. The response channel
// is registered before the write so recvLoop can never miss it.
func (c *Client) send(env *message.Envelope) (uint32, <-chan reply, error) {
	body, err := c.codec.Encode(env)
	if err != nil {
		return 0, nil, err
	}

	c.sending.Lock()
	defer c.sending.Unlock()

	c.seq++
	seq := c.seq

	ch := make(chan reply, 1)
	c.pending.Store(seq, ch)

	// recvLoop may have failed every pending call just before Store.
	if c.isClosed() {
		if _, ok := c.pending.LoadAndDelete(seq); ok {
			return 0, nil, c.closeErr
		}
		return seq, ch, nil
	}

	header := protocol.Header{
		CodecType: byte(c.codec.Type()),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}
	if err := protocol.WriteFrame(c.conn, header, body); err != nil {
		c.pending.Delete(seq)
		return 0, nil, fmt.Errorf("frame: send: %w", err)
	}
	return seq, ch, nil
}

func (c *Client) recvLoop() {
	for {
		header, body, err := protocol.ReadFrame(c.conn)
		if err != nil {
			c.shutdown(fmt.Errorf("frame: connection lost: %w", err))
			c.failPending()
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		ch, ok := c.pending.LoadAndDelete(header.Seq)
		if !ok {
			// Caller gave up on this call.
			continue
		}

		var r reply
		cdc, err := codec.GetCodec(codec.CodecType(header.CodecType))
		if err == nil {
			r.env = new(message.Envelope)
			err = cdc.Decode(body, r.env)
		}
		if err != nil {
			r.err = fmt.Errorf("frame: decode response: %w", err)
		}
		ch <- r
	}
}

// failPending hands the close error to every waiting caller.
func (c *Client) failPending() {
	c.pending.Range(func(seq uint32, _ chan reply) bool {
		if ch, ok := c.pending.LoadAndDelete(seq); ok {
			ch <- reply{err: c.closeErr}
		}
		return true
	})
}

func (c *Client) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
		}

		c.sending.Lock()
		err := protocol.WriteFrame(c.conn, protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil)
		c.sending.Unlock()
		if err != nil {
			c.logger.Debug("heartbeat failed", zap.Error(err))
			return
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close closes the connection. Calls still waiting fail with
// transport.ErrClosed.
func (c *Client) Close() error {
	c.shutdown(transport.ErrClosed)
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
