// Package server runs a Predict endpoint: it owns the listener, the
// transport, the concurrency model and the lifecycle tying them together.
//
// Lifecycle:
//
//	Created ──Start──→ Starting ──bind ok──→ Running ──Shutdown/signal──→ Draining ──→ Stopped
//	                       └──────bind failed──────────────────────────────────────────┘
//
// Request processing pipeline:
//
//	transport ──Call(req)──→ Server.Call ──(Running?)──→ Scheduler.Run
//	  → Logging → Metrics → [user middleware] → Trace → decode → Handler → encode
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"predict-rpc/dispatch"
	"predict-rpc/handler"
	"predict-rpc/message"
	"predict-rpc/middleware"
	"predict-rpc/registry"
	"predict-rpc/scheduler"
	"predict-rpc/transport"
	"predict-rpc/transport/grpcx"
)

// State is a server lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultGracePeriod bounds how long Shutdown waits for in-flight calls when
// triggered by a signal.
const DefaultGracePeriod = 5 * time.Second

var (
	ErrBind           = errors.New("server: bind failed")
	ErrAlreadyStarted = errors.New("server: already started")
	ErrNotRunning     = errors.New("server: not running")
	ErrDrainTimeout   = errors.New("server: grace period expired with calls in flight")
)

// BindError reports that the listening endpoint could not be bound.
// errors.Is(err, ErrBind) holds for every BindError.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("server: bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() []error { return []error{ErrBind, e.Err} }

// Server serves Predict calls. Build it with New, then Start it.
type Server struct {
	state atomic.Int32

	logger     *zap.Logger
	dispatcher *dispatch.Dispatcher
	sched      scheduler.Scheduler
	transport  transport.ServerTransport
	grace      time.Duration
	metrics    *metrics.Set

	registry  registry.Registry
	service   string
	advertise string
	ttl       time.Duration

	metricsAddr string
	metricsSrv  *http.Server

	mu  sync.Mutex // guards lis
	lis net.Listener

	serveErr    chan error
	done        chan struct{} // closed on entering Stopped
	shutdownErr error         // written before done is closed
}

// New builds a server around h. Unless overridden by options it serves gRPC
// on a worker pool of scheduler.DefaultWorkers workers.
func New(h handler.Handler, opts ...Option) (*Server, error) {
	o := options{
		logger:  zap.NewNop(),
		model:   scheduler.ModelPool,
		workers: scheduler.DefaultWorkers,
		grace:   DefaultGracePeriod,
		service: registry.DefaultService,
		ttl:     registry.DefaultTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		logger:      o.logger.Named("server"),
		grace:       o.grace,
		metrics:     metrics.NewSet(),
		registry:    o.registry,
		service:     o.service,
		advertise:   o.advertise,
		ttl:         o.ttl,
		metricsAddr: o.metricsAddr,
		serveErr:    make(chan error, 1),
		done:        make(chan struct{}),
	}

	s.sched = o.sched
	if s.sched == nil {
		sched, err := scheduler.New(o.model, o.workers, scheduler.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		s.sched = sched
	}

	s.transport = o.transport
	if s.transport == nil {
		s.transport = grpcx.NewServer([]grpcx.Option{grpcx.WithLogger(o.logger)})
	}

	mws := []middleware.Middleware{
		middleware.Logging(s.logger.Named("call")),
		middleware.Metrics(s.metrics),
	}
	s.dispatcher = dispatch.New(h,
		dispatch.WithLogger(o.logger),
		dispatch.WithMiddleware(append(mws, o.middlewares...)...),
	)

	s.registerGauges()
	return s, nil
}

func (s *Server) State() State { return State(s.state.Load()) }

func (s *Server) setState(st State) { s.state.Store(int32(st)) }

// Addr returns the bound address, or "" before a successful Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Metrics returns the server's metric set.
func (s *Server) Metrics() *metrics.Set { return s.metrics }

// Done is closed once the server reaches Stopped.
func (s *Server) Done() <-chan struct{} { return s.done }

// Start binds endpoint (host:port) and begins serving in the background.
func (s *Server) Start(endpoint string) error {
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return ErrAlreadyStarted
	}

	lis, err := net.Listen("tcp", endpoint)
	if err != nil {
		s.abortStart()
		return &BindError{Addr: endpoint, Err: err}
	}

	if s.metricsAddr != "" {
		if err := s.startMetrics(); err != nil {
			lis.Close()
			s.abortStart()
			return err
		}
	}

	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	s.logger.Info("starting",
		zap.String("transport", s.transport.Name()),
		zap.String("model", string(s.sched.Model())),
		zap.String("addr", lis.Addr().String()))

	s.setState(StateRunning)
	go func() {
		if err := s.transport.Serve(lis, s); err != nil {
			s.serveErr <- err
		}
	}()

	if s.registry != nil {
		s.announce()
	}
	return nil
}

func (s *Server) abortStart() {
	s.sched.Close()
	s.setState(StateStopped)
	close(s.done)
}

// announce registers the server. A registry failure is logged and serving
// continues.
func (s *Server) announce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inst := registry.Instance{
		Addr:      s.advertiseAddr(),
		Transport: s.transport.Name(),
		Model:     string(s.sched.Model()),
	}
	if err := s.registry.Register(ctx, s.service, inst, s.ttl); err != nil {
		s.logger.Warn("registry announce failed", zap.String("service", s.service), zap.Error(err))
	}
}

func (s *Server) advertiseAddr() string {
	if s.advertise != "" {
		return s.advertise
	}
	return s.Addr()
}

// Call implements transport.CallHandler.
func (s *Server) Call(ctx context.Context, req *message.Request) *message.Response {
	if st := s.State(); st != StateRunning {
		return message.Fail(message.ErrorUnavailable, "server is %s", st)
	}

	var resp *message.Response
	err := s.sched.Run(ctx, func(ctx context.Context) {
		resp = s.dispatcher.OnCall(ctx, req)
	})
	if err != nil {
		s.logger.Debug("call not completed", zap.Uint64("id", req.ID), zap.Error(err))
		return message.Fail(message.ErrorUnavailable, "%v", err)
	}
	return resp
}

// AwaitTermination blocks until the server stops. SIGINT, SIGTERM, the end
// of ctx and an unexpected transport failure all trigger Shutdown with the
// configured grace period first.
func (s *Server) AwaitTermination(ctx context.Context) error {
	if s.State() == StateCreated {
		return ErrNotRunning
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-s.done:
		return s.shutdownErr
	case err := <-s.serveErr:
		s.logger.Error("transport failed", zap.String("transport", s.transport.Name()), zap.Error(err))
		if serr := s.Shutdown(s.grace); serr != nil && !errors.Is(serr, ErrDrainTimeout) {
			s.logger.Warn("shutdown after transport failure", zap.Error(serr))
		}
		return fmt.Errorf("server: %s transport: %w", s.transport.Name(), err)
	case <-sigCtx.Done():
		if ctx.Err() == nil {
			s.logger.Info("signal received, shutting down", zap.Duration("grace", s.grace))
		}
		return s.Shutdown(s.grace)
	}
}

// Shutdown stops accepting calls, waits up to grace for in-flight calls and
// then force-closes the transport. grace <= 0 closes it at once. It returns
// ErrDrainTimeout if calls were abandoned; the server is Stopped either way.
// Concurrent calls wait for the first one to finish and return its result.
func (s *Server) Shutdown(grace time.Duration) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		switch s.State() {
		case StateDraining:
			<-s.done
			return s.shutdownErr
		case StateStopped:
			return s.shutdownErr
		default:
			return ErrNotRunning
		}
	}
	s.logger.Info("draining", zap.Duration("grace", grace), zap.Int("inflight", s.sched.InFlight()))

	if s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.registry.Deregister(ctx, s.service, s.advertiseAddr()); err != nil {
			s.logger.Warn("registry withdraw failed", zap.Error(err))
		}
		cancel()
	}

	var err error
	if grace <= 0 {
		if n := s.sched.InFlight(); n > 0 {
			s.logger.Warn("no grace period, abandoning in-flight calls", zap.Int("inflight", n))
			err = ErrDrainTimeout
		}
		s.transport.Stop()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if gerr := s.transport.GracefulStop(ctx); gerr != nil {
			s.transport.Stop()
			s.logger.Warn("drain timeout, abandoning in-flight calls",
				zap.Duration("grace", grace), zap.Int("inflight", s.sched.InFlight()))
			err = ErrDrainTimeout
		}
	}

	s.sched.Close()
	if s.metricsSrv != nil {
		s.metricsSrv.Close()
	}

	s.shutdownErr = err
	s.setState(StateStopped)
	close(s.done)
	s.logger.Info("stopped")
	return err
}
