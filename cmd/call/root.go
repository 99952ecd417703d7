package call

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"predict-rpc/client"
	"predict-rpc/cmd/util"
	"predict-rpc/config"
	"predict-rpc/registry"
)

var (
	callConfig *config.ClientConfig
	CallCmd    = &cobra.Command{
		Use:   "call [payload]",
		Short: "Send one Predict call and print the result",
		Long: `Send one Predict call and print the JSON result on stdout. The payload is JSON text; "-" reads it from stdin.

The server is either given directly with --addr or discovered through etcd (--etcd-endpoints, --service). Server-side failures are printed as <kind>: <message> and exit with status 1.`,
		Example: `  predictd call --addr localhost:50051 '{"features":[1,2,3]}'
  echo '[1,2]' | predictd call --addr localhost:7000 --transport frame --codec binary -`,
		Args:    cobra.ExactArgs(1),
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	flags := CallCmd.PersistentFlags()

	key := config.KeyAddr
	flags.String(key, "", util.WrapString("host:port of the server"))

	key = config.KeyEtcdEndpoints
	flags.String(key, "", util.WrapString("Comma-separated etcd endpoints used to discover the server when --addr is not set"))

	key = config.KeyService
	flags.String(key, registry.DefaultService, util.WrapString("Service name to discover"))

	key = config.KeyTransport
	flags.String(key, "", util.WrapString("Wire protocol: grpc, frame or jsonrpc. Defaults to grpc, or to the transport announced in the registry"))

	key = config.KeyCodec
	flags.String(key, "json", util.WrapString("Envelope codec of the frame transport (json, binary)"))

	key = config.KeyTimeout
	flags.Duration(key, 10*time.Second, util.WrapString("Timeout of the whole call including connecting"))

	key = config.KeyLogLevel
	flags.String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	c, err := config.LoadClientConfig(viper.GetViper())
	if err != nil {
		return err
	}
	callConfig = c
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	c := callConfig

	in := []byte(args[0])
	if args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		in = []byte(strings.TrimSpace(string(b)))
	}

	logger, err := config.NewLogger(c.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), c.Timeout)
	defer cancel()

	opts := []client.Option{client.WithCodec(c.Codec), client.WithLogger(logger)}
	if c.Transport != "" {
		opts = append(opts, client.WithTransport(c.Transport))
	}

	var cli *client.Client
	if c.Addr != "" {
		cli, err = client.Dial(ctx, c.Addr, opts...)
	} else {
		reg, rerr := registry.NewEtcdRegistry(c.EtcdEndpoints, logger)
		if rerr != nil {
			return rerr
		}
		defer reg.Close()
		cli, err = client.DialService(ctx, reg, c.Service, opts...)
	}
	if err != nil {
		return err
	}
	defer cli.Close()

	out, err := cli.Predict(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
