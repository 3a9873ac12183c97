package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rhuss/sktools/pkg/config"
	"github.com/rhuss/sktools/pkg/debug"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "sktools",
	Short:         "Sandboxed Python execution for LLM tool hosts",
	Long:          "Runs model-generated Python in a provisioned sandbox after a syntactic safety check,\ninstalling third-party dependencies on the fly, and returns a textual report.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (trace, debug, info, warn, error)")
}

// loadConfig loads the configuration and installs the default logger.
// Logs go to stderr so stdout stays free for reports and MCP stdio.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	debug.Configure(cfg.Logging.Debug)
	return cfg, logger, nil
}

func newLogger(lc config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: debug.ParseLevel(lc.Level)}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
