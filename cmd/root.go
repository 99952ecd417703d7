package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"predict-rpc/cmd/call"
	"predict-rpc/cmd/serve"
	"predict-rpc/cmd/util"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "predictd",
		Short: "single-method prediction RPC server",
		Long: fmt.Sprintf(`predictd (v%s)

A small RPC server exposing one Predict method that takes and returns JSON
text, served over gRPC, a framed TCP protocol or JSON-RPC over HTTP with a
worker-pool or cooperative concurrency model.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of predictd",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "predictd v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(call.CallCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. It is called once by main.main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
