package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"predict-rpc/codec"
	"predict-rpc/message"
	"predict-rpc/protocol"
	"predict-rpc/transport"
)

// echoCalls answers every call with its own payload, after an optional delay.
type echoCalls struct {
	delay time.Duration
}

func (e echoCalls) Call(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(e.delay)
	if string(req.Payload) == "fail" {
		return message.Fail(message.ErrorHandler, "asked to fail")
	}
	return message.OK(req.Payload)
}

func startServer(t *testing.T, h transport.CallHandler) (*Server, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(WithLogger(zaptest.NewLogger(t, zaptest.Level(zapcore.WarnLevel))))
	go srv.Serve(lis, h)
	t.Cleanup(srv.Stop)
	return srv, lis.Addr().String()
}

func dial(t *testing.T, addr string, opts ...ClientOption) *Client {
	t.Helper()
	c, err := Dial(context.Background(), addr, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientSerial(t *testing.T) {
	_, addr := startServer(t, echoCalls{})

	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		c := dial(t, addr, WithCodec(ct))
		for i := 0; i < 3; i++ {
			body := fmt.Sprintf(`{"i":%d}`, i)
			got, err := c.Predict(context.Background(), []byte(body))
			if err != nil {
				t.Fatalf("%s: %v", ct, err)
			}
			if string(got) != body {
				t.Fatalf("%s: expect %s, got %s", ct, body, got)
			}
		}
	}
}

func TestClientConcurrent(t *testing.T) {
	_, addr := startServer(t, echoCalls{delay: 20 * time.Millisecond})
	c := dial(t, addr)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`[%d]`, i)
			got, err := c.Predict(context.Background(), []byte(body))
			if err != nil {
				errs <- err
				return
			}
			if string(got) != body {
				errs <- fmt.Errorf("call %d got %s", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClientCallError(t *testing.T) {
	_, addr := startServer(t, echoCalls{})
	c := dial(t, addr)

	_, err := c.Predict(context.Background(), []byte("fail"))
	var callErr *message.CallError
	if !errors.As(err, &callErr) || callErr.Kind != message.ErrorHandler {
		t.Fatalf("expect HandlerError CallError, got %v", err)
	}
}

func TestServerIgnoresHeartbeat(t *testing.T) {
	_, addr := startServer(t, echoCalls{})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteFrame(conn, protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil); err != nil {
		t.Fatal(err)
	}
	c, err := NewClient(conn, WithHeartbeat(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	time.Sleep(50 * time.Millisecond)
	if _, err := c.Predict(context.Background(), []byte(`1`)); err != nil {
		t.Fatalf("call after heartbeats failed: %v", err)
	}
}

func TestGracefulStopWaitsForCalls(t *testing.T) {
	srv, addr := startServer(t, echoCalls{delay: 100 * time.Millisecond})
	c := dial(t, addr)

	result := make(chan error, 1)
	go func() {
		_, err := c.Predict(context.Background(), []byte(`{}`))
		result <- err
	}()
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.GracefulStop(ctx); err != nil {
		t.Fatalf("GracefulStop: %v", err)
	}
	if err := <-result; err != nil {
		t.Fatalf("in-flight call failed: %v", err)
	}

	// The server closed the connection after draining.
	if _, err := c.Predict(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expect error after server stopped")
	} else if errors.As(err, new(*message.CallError)) {
		t.Fatalf("expect connection-level error, got CallError %v", err)
	}
}

func TestGracefulStopTimeout(t *testing.T) {
	srv, addr := startServer(t, echoCalls{delay: 500 * time.Millisecond})
	c := dial(t, addr)

	go c.Predict(context.Background(), []byte(`{}`))
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := srv.GracefulStop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline exceeded, got %v", err)
	}
	srv.Stop()
}

func TestPredictRespectsContext(t *testing.T) {
	_, addr := startServer(t, echoCalls{delay: 200 * time.Millisecond})
	c := dial(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Predict(ctx, []byte(`{}`)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline exceeded, got %v", err)
	}
}

func TestClosedClient(t *testing.T) {
	_, addr := startServer(t, echoCalls{})
	c := dial(t, addr)
	c.Close()

	// Wait for recvLoop to observe the close.
	<-c.closed
	if _, err := c.Predict(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expect error on closed client")
	}
}

// slowListener hands out queued conns even after Close, like an Accept that
// returned just as the listener was being closed.
type slowListener struct {
	conns     chan net.Conn
	accepting chan struct{}
	once      sync.Once
}

func (l *slowListener) Accept() (net.Conn, error) {
	l.once.Do(func() { close(l.accepting) })
	if c, ok := <-l.conns; ok {
		return c, nil
	}
	return nil, net.ErrClosed
}

func (l *slowListener) Close() error { return nil }

func (l *slowListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestConnAcceptedDuringStopIsClosed(t *testing.T) {
	lis := &slowListener{conns: make(chan net.Conn, 1), accepting: make(chan struct{})}
	srv := NewServer(WithLogger(zaptest.NewLogger(t, zaptest.Level(zapcore.WarnLevel))))

	served := make(chan error, 1)
	go func() { served <- srv.Serve(lis, echoCalls{}) }()
	<-lis.accepting

	srv.Stop()

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	lis.conns <- serverSide
	close(lis.conns)

	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	clientSide.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := clientSide.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expect the late conn to be closed, got %v", err)
	}
}
