// Package sandbox provisions the per-engine working area scripts run in:
// a temporary directory and, when isolation is requested, a virtual
// environment that inherits the host's site packages.
//
// Provisioning never fails the caller once the directory exists. A broken
// virtual environment degrades to a pre-existing fallback environment or
// disables isolation, and that downgrade is permanent for the Sandbox.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrProvisioning is returned when the sandbox directory cannot be created.
var ErrProvisioning = errors.New("sandbox provisioning failed")

// DirPrefix prefixes every sandbox directory name.
const DirPrefix = "sk_python_executor_"

// DefaultBootstrapURL is where get-pip.py is fetched from when a fresh
// environment has no package manager.
const DefaultBootstrapURL = "https://bootstrap.pypa.io/get-pip.py"

// FallbackEnvVar names the variable that overrides the fallback environment.
const FallbackEnvVar = "SKTOOLS_FALLBACK_VENV"

// Step timeouts.
const (
	venvTimeout      = 60 * time.Second
	pipCheckTimeout  = 10 * time.Second
	downloadTimeout  = 30 * time.Second
	bootstrapTimeout = 60 * time.Second
	upgradeTimeout   = 60 * time.Second
	importTimeout    = 10 * time.Second
)

// State is the provisioning state of a Sandbox.
type State int

const (
	Uninitialized State = iota
	Ready
	Degraded
	Disabled
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Disabled:
		return "disabled"
	default:
		return "uninitialized"
	}
}

// CommandFunc builds the commands the sandbox runs. It has the signature of
// exec.CommandContext, which is the default.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Options configures Provision.
type Options struct {
	// BaseDir is the parent of the sandbox directory. Empty means os.TempDir.
	BaseDir string

	// Isolated requests a dedicated virtual environment.
	Isolated bool

	// HostPython is the interpreter used to create the environment and to
	// run scripts when isolation is disabled. Default "python3".
	HostPython string

	// FallbackEnv is an existing virtual environment used when creating a
	// new one fails. Empty means $SKTOOLS_FALLBACK_VENV, then ./.venv.
	FallbackEnv string

	// UpgradePip runs "pip install --upgrade pip" after provisioning.
	UpgradePip bool

	BootstrapURL string
	HTTPClient   *http.Client
	Command      CommandFunc
	Logger       *slog.Logger
}

// Sandbox is the shared execution area of one engine. All methods are safe
// for concurrent use; state never changes after Provision returns.
type Sandbox struct {
	dir    string
	envDir string
	python string
	state  State
	reason string

	command CommandFunc
	logger  *slog.Logger

	installMu   sync.Mutex
	cleanupOnce sync.Once
	cleanupErr  error
	removed     atomic.Bool
}

// Provision creates the sandbox directory and, if requested, its virtual
// environment. It can take tens of seconds. The only error it returns
// wraps ErrProvisioning and means no directory could be created.
func Provision(ctx context.Context, opts Options) (*Sandbox, error) {
	opts = withDefaults(opts)

	dir, err := os.MkdirTemp(opts.BaseDir, DirPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	sb := &Sandbox{
		dir:     dir,
		python:  opts.HostPython,
		state:   Uninitialized,
		command: opts.Command,
		logger:  opts.Logger.With("sandbox", dir),
	}

	if !opts.Isolated {
		sb.state = Disabled
		sb.logger.Info("sandbox provisioned without isolated runtime")
		return sb, nil
	}

	if err := sb.createEnv(ctx, opts); err != nil {
		sb.logger.Warn("creating virtual environment failed", "error", err)
		sb.fallback(opts, err)
		return sb, nil
	}

	sb.state = Ready
	sb.logger.Info("sandbox provisioned", "env", sb.envDir, "python", sb.python)
	return sb, nil
}

func withDefaults(opts Options) Options {
	if opts.HostPython == "" {
		opts.HostPython = "python3"
	}
	if opts.FallbackEnv == "" {
		opts.FallbackEnv = os.Getenv(FallbackEnvVar)
	}
	if opts.FallbackEnv == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.FallbackEnv = filepath.Join(wd, ".venv")
		}
	}
	if opts.BootstrapURL == "" {
		opts.BootstrapURL = DefaultBootstrapURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Command == nil {
		opts.Command = exec.CommandContext
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// createEnv builds <dir>/venv and makes sure pip is usable inside it.
func (sb *Sandbox) createEnv(ctx context.Context, opts Options) error {
	envDir := filepath.Join(sb.dir, "venv")
	if _, err := sb.run(ctx, venvTimeout, opts.HostPython, "-m", "venv", envDir, "--system-site-packages"); err != nil {
		return err
	}
	python := envPython(envDir)
	if _, err := os.Stat(python); err != nil {
		return fmt.Errorf("virtual environment has no interpreter: %w", err)
	}
	sb.envDir = envDir
	sb.python = python

	if _, err := sb.run(ctx, pipCheckTimeout, python, "-c", "import pip; print(pip.__version__)"); err != nil {
		sb.logger.Info("pip not available in virtual environment, bootstrapping", "error", err)
		if err := sb.bootstrapPip(ctx, opts); err != nil {
			// the environment still runs scripts, only installs will fail
			sb.logger.Warn("bootstrapping pip failed", "error", err)
			return nil
		}
	}

	if opts.UpgradePip {
		if _, err := sb.run(ctx, upgradeTimeout, python, "-m", "pip", "install", "--upgrade", "pip"); err != nil {
			sb.logger.Warn("upgrading pip failed", "error", err)
		}
	}
	return nil
}

// fallback moves the sandbox to Degraded or Disabled after cause.
func (sb *Sandbox) fallback(opts Options, cause error) {
	if python := envPython(opts.FallbackEnv); opts.FallbackEnv != "" && fileExists(python) {
		sb.envDir = opts.FallbackEnv
		sb.python = python
		sb.state = Degraded
		sb.reason = fmt.Sprintf("isolated runtime unavailable (%v); using existing environment %s", cause, opts.FallbackEnv)
		sb.logger.Warn("using fallback virtual environment", "env", opts.FallbackEnv)
		return
	}

	sb.envDir = ""
	sb.python = opts.HostPython
	sb.state = Disabled
	sb.reason = fmt.Sprintf("isolated runtime unavailable (%v); running without isolation", cause)
	sb.logger.Warn("disabling isolated runtime")
}

// Dir returns the sandbox directory.
func (sb *Sandbox) Dir() string { return sb.dir }

// EnvDir returns the virtual environment in use, or "" when Disabled.
func (sb *Sandbox) EnvDir() string { return sb.envDir }

// Python returns the interpreter scripts should run with.
func (sb *Sandbox) Python() string { return sb.python }

// State returns the provisioning state.
func (sb *Sandbox) State() State { return sb.state }

// Reason explains a downgrade caused by a provisioning failure. It is
// empty when the sandbox is Ready or was configured without isolation.
func (sb *Sandbox) Reason() string { return sb.reason }

// Isolated reports whether scripts run in a virtual environment.
func (sb *Sandbox) Isolated() bool {
	return sb.state == Ready || sb.state == Degraded
}

// InstallLock returns the lock that serializes package installs into this
// sandbox's environment.
func (sb *Sandbox) InstallLock() sync.Locker { return &sb.installMu }

// Cleanup removes the sandbox directory tree. It is safe to call more than
// once; later calls return the first result.
func (sb *Sandbox) Cleanup() error {
	sb.cleanupOnce.Do(func() {
		sb.removed.Store(true)
		if err := os.RemoveAll(sb.dir); err != nil {
			sb.cleanupErr = fmt.Errorf("removing sandbox directory: %w", err)
			return
		}
		sb.logger.Info("sandbox removed")
	})
	return sb.cleanupErr
}

func (sb *Sandbox) closed() bool { return sb.removed.Load() }

// run executes one provisioning command and returns its combined output.
func (sb *Sandbox) run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := sb.command(ctx, name, args...)
	cmd.Dir = sb.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return string(out), fmt.Errorf("%s timed out after %s", name, timeout)
		}
		return string(out), fmt.Errorf("%s: %w: %s", name, err, trimOutput(out))
	}
	return string(out), nil
}

func envPython(envDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(envDir, "Scripts", "python.exe")
	}
	return filepath.Join(envDir, "bin", "python")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func trimOutput(out []byte) string {
	const limit = 500
	s := strings.TrimSpace(string(out))
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}
