package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"assistgate/internal/config"
	"assistgate/pkg/logging/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "assistgate",
		Short:         "Session-aware request gateway with a query cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ASSISTGATE_CONFIG"), "path to YAML config file")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(
		newServeCmd(load),
		newAskCmd(load),
		newConfigCmd(load),
	)
	return root
}

type configLoader func() (*config.Config, error)

// newLogger builds the process logger from the log section and installs it
// as the default.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	opts := logging.OptionsFromEnv()
	if cfg.Log.Level != "" {
		opts.Level = cfg.Log.Level
	}
	opts.Development = opts.Development || cfg.Log.Development

	logger, err := logging.NewLogger(opts)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}
