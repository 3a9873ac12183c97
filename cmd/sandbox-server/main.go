// Command sandbox-server runs inside agent-sandbox pods and executes Python
// scripts for sktools instances in remote mode. It provisions one isolated
// environment at startup, installs the requirements each request names and
// runs every script as a child process in its own working directory.
//
// Configuration:
//
//	SANDBOX_PORT           - Listen port (default: 8080)
//	SANDBOX_MAX_CONCURRENT - Max concurrent executions (default: 3)
//	SANDBOX_PYTHON         - Host interpreter (default: python3)
//	SANDBOX_ISOLATED       - Create a virtual environment (default: true)
//	SANDBOX_NETWORKING     - Allow package installs (default: true)
//	SANDBOX_MAX_OUTPUT     - Default per-stream output limit (default: 4000)
//	SANDBOX_LOG_FORMAT     - "text" or "json" (default: json)
//	SANDBOX_LOG_LEVEL      - trace, debug, info, warn or error (default: info)
//	SKTOOLS_DEBUG          - Debug categories, e.g. "deps,runner"
package main

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rhuss/sktools/pkg/debug"
	"github.com/rhuss/sktools/pkg/pyexec/deps"
	"github.com/rhuss/sktools/pkg/pyexec/safety"
	"github.com/rhuss/sktools/pkg/pyexec/sandbox"
	sktransport "github.com/rhuss/sktools/pkg/transport"
	httptransport "github.com/rhuss/sktools/pkg/transport/http"
)

func main() {
	port := envOr("SANDBOX_PORT", "8080")
	maxConcurrent := envOrInt("SANDBOX_MAX_CONCURRENT", 3)
	python := envOr("SANDBOX_PYTHON", "python3")
	isolated := envOrBool("SANDBOX_ISOLATED", true)
	networking := envOrBool("SANDBOX_NETWORKING", true)
	maxOutput := envOrInt("SANDBOX_MAX_OUTPUT", 4000)

	opts := &slog.HandlerOptions{Level: debug.ParseLevel(os.Getenv("SANDBOX_LOG_LEVEL"))}
	var logger *slog.Logger
	if envOr("SANDBOX_LOG_FORMAT", "json") == "text" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	slog.SetDefault(logger)

	if _, err := exec.LookPath(python); err != nil {
		logger.Error("python interpreter not found", "python", python, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sb, err := sandbox.Provision(ctx, sandbox.Options{
		Isolated:   isolated,
		HostPython: python,
		UpgradePip: isolated,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("provisioning sandbox failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := sb.Cleanup(); err != nil {
			logger.Warn("removing sandbox failed", "error", err)
		}
	}()

	resolver := deps.New(deps.Config{
		Policy:    safety.NewPolicy(safety.DefaultRestricted, networking),
		Installer: sb,
		Lock:      sb.InstallLock(),
		Logger:    logger,
	})

	srv := newServer(serverConfig{
		WorkDir:        sb.Dir(),
		Python:         sb.Python(),
		State:          sb.State().String(),
		RuntimeVersion: runtimeVersion(sb.Python()),
		MaxConcurrent:  maxConcurrent,
		MaxOutput:      maxOutput,
		Installer:      resolver,
		Logger:         logger,
	})

	handler := sktransport.Chain(
		sktransport.Recovery(logger),
		sktransport.RequestID(),
		sktransport.Logging(logger),
	)(srv.routes())

	httpSrv := httptransport.NewServer(handler, httptransport.ServerConfig{
		Addr:         ":" + port,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		Logger:       logger,
	})
	logger.Info("sandbox server starting", "port", port, "python", sb.Python(), "state", sb.State().String(), "max_concurrent", maxConcurrent)
	if err := httpSrv.ListenAndServe(ctx); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// runtimeVersion returns the first line of "python --version".
func runtimeVersion(python string) string {
	out, err := exec.Command(python, "--version").CombinedOutput()
	if err != nil {
		return "unknown"
	}
	v, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return v
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func envOrBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return b
}
