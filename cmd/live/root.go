package main

import (
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-live/internal/config"
	"github.com/teslashibe/go-live/internal/log"
)

// Shared CLI flags
var (
	cfgFile  string
	logLevel string
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "live",
		Short:         "Live voice sessions with Gemini",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.AddCommand(runCmd())
	cmd.AddCommand(devicesCmd())
	return cmd
}

// loadConfig resolves the config file and environment, then sets up logging.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log.Setup(log.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, nil
}
