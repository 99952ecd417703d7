package serve

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	cmdUtil "predict-rpc/cmd/util"
	"predict-rpc/config"
	"predict-rpc/handler"
	"predict-rpc/middleware"
	"predict-rpc/registry"
	"predict-rpc/scheduler"
	"predict-rpc/server"
)

var (
	serveConfig *config.ServerConfig
	ServeCmd    = &cobra.Command{
		Use:   "serve",
		Short: "Start the Predict server",
		Long: `Start the Predict server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is PREDICT_<flag> (e.g. PREDICT_PORT=50051, PREDICT_LOG_LEVEL=debug).

The server runs until SIGINT or SIGTERM, then stops accepting calls and waits up to --grace for in-flight calls.`,
		Args:    cobra.NoArgs,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	flags := ServeCmd.PersistentFlags()

	key := config.KeyPort
	flags.Int(key, 0, cmdUtil.WrapString("Port to listen on (required)"))

	key = config.KeyHost
	flags.String(key, "localhost", cmdUtil.WrapString("Host or interface to bind"))

	key = config.KeyModel
	flags.String(key, string(scheduler.ModelPool), cmdUtil.WrapString("Concurrency model: pool (bounded worker pool) or cooperative (single event loop, calls interleave while suspended)"))

	key = config.KeyWorkers
	flags.Int(key, scheduler.DefaultWorkers, cmdUtil.WrapString("Number of workers of the pool model"))

	key = config.KeyGrace
	flags.Duration(key, server.DefaultGracePeriod, cmdUtil.WrapString("How long shutdown waits for in-flight calls before abandoning them"))

	key = config.KeyTransport
	flags.String(key, "grpc", cmdUtil.WrapString("Wire protocol: grpc, frame (framed TCP) or jsonrpc (JSON-RPC 2.0 over HTTP)"))

	key = config.KeyHandler
	flags.String(key, "echo", cmdUtil.WrapString("Built-in handler: echo returns the input and a message, static returns only the message"))

	key = config.KeyMessage
	flags.String(key, handler.DefaultMessage, cmdUtil.WrapString("Message included in every result"))

	key = config.KeyDelay
	flags.Duration(key, 0, cmdUtil.WrapString("Artificial latency added to every call, e.g. 100ms. The delay suspends the call, so the cooperative model keeps serving others meanwhile"))

	key = config.KeyLogLevel
	flags.String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = config.KeyEtcdEndpoints
	flags.String(key, "", cmdUtil.WrapString("Comma-separated etcd endpoints. When set the server announces itself for discovery"))

	key = config.KeyService
	flags.String(key, registry.DefaultService, cmdUtil.WrapString("Service name used in the registry"))

	key = config.KeyAdvertiseAddr
	flags.String(key, "", cmdUtil.WrapString("Address announced in the registry (defaults to the bound address)"))

	key = config.KeyRegistryTTL
	flags.Duration(key, registry.DefaultTTL, cmdUtil.WrapString("TTL of the registry lease, renewed while the server runs"))

	key = config.KeyMetricsAddr
	flags.String(key, "", cmdUtil.WrapString("Address serving Prometheus metrics on /metrics (e.g. :9090), disabled when empty"))

	key = config.KeyRateLimit
	flags.Float64(key, 0, cmdUtil.WrapString("Maximum calls per second, 0 disables rate limiting"))

	key = config.KeyRateBurst
	flags.Int(key, 10, cmdUtil.WrapString("Burst size of the rate limiter"))
}

// processConfig reads flags and environment into serveConfig
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	c, err := config.LoadServerConfig(viper.GetViper())
	if err != nil {
		return err
	}
	serveConfig = c
	return nil
}

// run starts the server and blocks until it has stopped
func run(cmd *cobra.Command, _ []string) error {
	c := serveConfig

	logger, err := config.NewLogger(c.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Sugar().Info(c.String())

	h, err := handler.Lookup(c.Handler, c.Message)
	if err != nil {
		return err
	}
	if c.Delay > 0 {
		h = handler.Delay(c.Delay, h)
	}

	model, err := scheduler.ParseModel(c.Model)
	if err != nil {
		return err
	}
	t, err := server.NewTransport(c.Transport, logger)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithModel(model, c.Workers),
		server.WithTransport(t),
		server.WithGrace(c.Grace),
		server.WithMetricsAddr(c.MetricsAddr),
	}
	if c.RateLimit > 0 {
		opts = append(opts, server.WithMiddleware(middleware.RateLimit(c.RateLimit, c.RateBurst)))
	}
	if len(c.EtcdEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(c.EtcdEndpoints, logger)
		if err != nil {
			return err
		}
		defer reg.Close()
		opts = append(opts, server.WithRegistry(reg, c.Service, c.AdvertiseAddr, c.RegistryTTL))
	}

	srv, err := server.New(h, opts...)
	if err != nil {
		return err
	}
	if err := srv.Start(c.Endpoint()); err != nil {
		return err
	}

	start := time.Now()
	err = srv.AwaitTermination(cmd.Context())
	if errors.Is(err, server.ErrDrainTimeout) {
		logger.Warn("in-flight calls abandoned at shutdown", zap.Duration("grace", c.Grace))
		return nil
	}
	if err == nil {
		logger.Info("server exited", zap.Duration("uptime", time.Since(start)))
	}
	return err
}
