package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rhuss/sktools/pkg/tools/mcp"
	transporthttp "github.com/rhuss/sktools/pkg/transport/http"
)

var servePort int

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves POST /v1/execute and /v1/analyze, the execution history, MCP over streamable HTTP,\nPrometheus metrics and health probes. Shuts down gracefully on SIGINT or SIGTERM.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close(logger)

	authn, limiter := buildAuth(cfg.Auth, logger)
	handlers := transporthttp.Handlers{
		Tools:         a.registry,
		Store:         a.store,
		InFlight:      a.inflight,
		SandboxState:  func() string { return a.engine.Sandbox().State().String() },
		Authenticator: authn,
		RateLimiter:   limiter,
		Logger:        logger,
	}
	if cfg.Observability.Metrics.Enabled {
		handlers.MetricsPath = cfg.Observability.Metrics.Path
	}
	if cfg.MCP.Enabled {
		srv, err := mcp.New(a.registry, mcp.Config{Version: version, Tools: cfg.MCP.Tools, Logger: logger})
		if err != nil {
			return err
		}
		handlers.MCP = srv.Handler()
		handlers.MCPPath = cfg.MCP.Path
	}

	srv := transporthttp.NewServer(transporthttp.NewHandler(handlers), transporthttp.ServerConfig{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Logger:       logger,
	})
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// signalContext cancels on SIGINT or SIGTERM and tells the user on stderr.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nShutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
