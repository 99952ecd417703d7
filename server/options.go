package server

import (
	"time"

	"go.uber.org/zap"

	"predict-rpc/middleware"
	"predict-rpc/registry"
	"predict-rpc/scheduler"
	"predict-rpc/transport"
)

type options struct {
	logger      *zap.Logger
	model       scheduler.Model
	workers     int
	sched       scheduler.Scheduler
	transport   transport.ServerTransport
	grace       time.Duration
	middlewares []middleware.Middleware
	registry    registry.Registry
	service     string
	advertise   string
	ttl         time.Duration
	metricsAddr string
}

// Option configures a Server built by New.
type Option func(*options)

// WithLogger sets the logger shared by the server, its scheduler and its
// middlewares.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithModel selects the concurrency model. workers sizes the worker pool
// and is ignored by the cooperative model.
func WithModel(model scheduler.Model, workers int) Option {
	return func(o *options) {
		o.model = model
		o.workers = workers
	}
}

// WithScheduler uses sched instead of building one. The server closes it on
// shutdown.
func WithScheduler(sched scheduler.Scheduler) Option {
	return func(o *options) { o.sched = sched }
}

// WithTransport serves over t instead of the default gRPC transport.
func WithTransport(t transport.ServerTransport) Option {
	return func(o *options) { o.transport = t }
}

// WithGrace sets the grace period used by AwaitTermination.
func WithGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.grace = d
		}
	}
}

// WithMiddleware adds middlewares inside the built-in logging and metrics
// middlewares.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithRegistry announces the server under service once running and
// withdraws it on shutdown. advertise is the address clients should dial;
// empty means the bound address.
func WithRegistry(reg registry.Registry, service, advertise string, ttl time.Duration) Option {
	return func(o *options) {
		o.registry = reg
		if service != "" {
			o.service = service
		}
		o.advertise = advertise
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithMetricsAddr serves GET /metrics on addr for the server's lifetime.
func WithMetricsAddr(addr string) Option {
	return func(o *options) { o.metricsAddr = addr }
}
