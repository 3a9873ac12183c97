package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rhuss/sktools/pkg/debug"
	"github.com/rhuss/sktools/pkg/pyexec/deps"
	"github.com/rhuss/sktools/pkg/pyexec/runner"
	"github.com/rhuss/sktools/pkg/pyexec/runner/remote"
	"github.com/rhuss/sktools/pkg/transport"
)

const (
	defaultTimeoutSeconds = 30
	maxTimeoutSeconds     = 600
	maxRequestBytes       = 10 << 20
	outputDirName         = "output"
)

// installer installs a requirement list into the shared environment.
type installer interface {
	InstallPackages(ctx context.Context, names []string) *deps.Set
}

type serverConfig struct {
	WorkDir        string
	Python         string
	State          string
	RuntimeVersion string
	MaxConcurrent  int
	MaxOutput      int
	Installer      installer

	// NewRunner builds the runner for one request. Nil means a
	// runner.SubprocessRunner.
	NewRunner func(python, dir string, limit time.Duration, maxOutput int) runner.Runner

	Logger *slog.Logger
}

type sandboxServer struct {
	cfg         serverConfig
	currentLoad atomic.Int32
	startTime   time.Time
	logger      *slog.Logger
}

func newServer(cfg serverConfig) *sandboxServer {
	if cfg.NewRunner == nil {
		cfg.NewRunner = func(python, dir string, limit time.Duration, maxOutput int) runner.Runner {
			return &runner.SubprocessRunner{Python: python, Dir: dir, Limit: limit, MaxOutput: maxOutput, Logger: cfg.Logger}
		}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &sandboxServer{cfg: cfg, startTime: time.Now(), logger: cfg.Logger}
}

func (s *sandboxServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *sandboxServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	current := s.currentLoad.Add(1)
	defer s.currentLoad.Add(-1)
	if int(current) > s.cfg.MaxConcurrent {
		transport.WriteError(w, &transport.APIError{
			Type:    transport.ErrorTypeTooManyRequests,
			Message: fmt.Sprintf("at capacity (%d/%d concurrent executions)", current, s.cfg.MaxConcurrent),
		})
		return
	}

	var req remote.ExecuteRequest
	if apiErr := transport.DecodeJSON(w, r, maxRequestBytes, &req); apiErr != nil {
		transport.WriteError(w, apiErr)
		return
	}
	if req.Code == "" {
		transport.WriteError(w, transport.InvalidRequest("code", "code is required"))
		return
	}
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = defaultTimeoutSeconds
	}
	req.TimeoutSeconds = min(req.TimeoutSeconds, maxTimeoutSeconds)
	if req.MaxOutput <= 0 {
		req.MaxOutput = s.cfg.MaxOutput
	}
	if req.RequestID == "" {
		req.RequestID = transport.RequestIDFromContext(r.Context())
	}
	logger := s.logger.With("request_id", req.RequestID)
	debug.Log(debug.Sandbox, "execute request",
		"request_id", req.RequestID,
		"code", debug.Preview(req.Code, 120),
		"timeout", req.TimeoutSeconds,
		"requirements", len(req.Requirements),
		"files", len(req.Files))

	workDir, err := os.MkdirTemp(s.cfg.WorkDir, "exec-*")
	if err != nil {
		logger.Error("creating work dir failed", "error", err)
		transport.WriteError(w, transport.ServerError("failed to create work directory"))
		return
	}
	defer os.RemoveAll(workDir)

	outputDir := filepath.Join(workDir, outputDirName)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		logger.Error("creating output dir failed", "error", err)
		transport.WriteError(w, transport.ServerError("failed to create output directory"))
		return
	}
	for name, b64 := range req.Files {
		content, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			transport.WriteError(w, transport.InvalidRequest("files", fmt.Sprintf("file %q is not valid base64", name)))
			return
		}
		// Base only: no path traversal out of the work dir.
		if err := os.WriteFile(filepath.Join(workDir, filepath.Base(name)), content, 0o644); err != nil {
			logger.Error("writing input file failed", "file", name, "error", err)
			transport.WriteError(w, transport.ServerError("failed to write input files"))
			return
		}
	}

	var installLog string
	if len(req.Requirements) > 0 && s.cfg.Installer != nil {
		set := s.cfg.Installer.InstallPackages(r.Context(), req.Requirements)
		installLog = set.Log()
		logger.Info("requirements processed",
			"installed", len(set.Names(deps.OutcomeInstalled)),
			"failed", len(set.Names(deps.OutcomeFailed)))
	}

	scriptPath := filepath.Join(workDir, "script.py")
	if err := os.WriteFile(scriptPath, []byte(req.Code), 0o600); err != nil {
		logger.Error("writing script failed", "error", err)
		transport.WriteError(w, transport.ServerError("failed to write script"))
		return
	}

	limit := time.Duration(req.TimeoutSeconds) * time.Second
	run := s.cfg.NewRunner(s.cfg.Python, workDir, limit, req.MaxOutput)
	res, err := run.Run(r.Context(), runner.Script{
		RequestID: req.RequestID,
		Path:      scriptPath,
		Source:    req.Code,
	})
	if err != nil {
		logger.Error("running script failed", "error", err)
		transport.WriteError(w, transport.ServerError("failed to run script"))
		return
	}

	status := remote.StatusSuccess
	switch {
	case res.TimedOut:
		status = remote.StatusTimeout
	case !res.Success:
		status = remote.StatusError
	}
	files := collectOutputFiles(outputDir)
	logger.Info("execute complete",
		"status", status,
		"exit_code", res.ExitCode,
		"duration_ms", res.Duration.Milliseconds(),
		"stdout_len", len(res.Stdout),
		"files_produced", len(files))

	transport.WriteJSON(w, http.StatusOK, remote.ExecuteResponse{
		Status:          status,
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		ExitCode:        res.ExitCode,
		TimedOut:        res.TimedOut,
		ExecutionTimeMs: res.Duration.Milliseconds(),
		InstallLog:      installLog,
		FilesProduced:   files,
	})
}

// collectOutputFiles reads the files a script left in its output directory,
// base64 encoded. Subdirectories are ignored.
func collectOutputFiles(outputDir string) map[string]string {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil
	}
	var files map[string]string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outputDir, entry.Name()))
		if err != nil {
			continue
		}
		if files == nil {
			files = make(map[string]string, len(entries))
		}
		files[entry.Name()] = base64.StdEncoding.EncodeToString(content)
	}
	return files
}

type healthResponse struct {
	Status         string `json:"status"`
	Sandbox        string `json:"sandbox"`
	RuntimeVersion string `json:"runtime_version"`
	Capacity       int    `json:"capacity"`
	CurrentLoad    int    `json:"current_load"`
	UptimeSecs     int64  `json:"uptime_seconds"`
}

func (s *sandboxServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Sandbox:        s.cfg.State,
		RuntimeVersion: s.cfg.RuntimeVersion,
		Capacity:       s.cfg.MaxConcurrent,
		CurrentLoad:    int(s.currentLoad.Load()),
		UptimeSecs:     int64(time.Since(s.startTime).Seconds()),
	})
}
