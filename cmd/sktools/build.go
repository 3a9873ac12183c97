package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/rhuss/sktools/pkg/auth"
	"github.com/rhuss/sktools/pkg/auth/apikey"
	"github.com/rhuss/sktools/pkg/auth/jwt"
	"github.com/rhuss/sktools/pkg/config"
	"github.com/rhuss/sktools/pkg/pyexec"
	"github.com/rhuss/sktools/pkg/pyexec/runner"
	"github.com/rhuss/sktools/pkg/pyexec/runner/remote"
	"github.com/rhuss/sktools/pkg/pyexec/runner/remote/kubernetes"
	"github.com/rhuss/sktools/pkg/pyexec/safety"
	"github.com/rhuss/sktools/pkg/pyexec/sandbox"
	"github.com/rhuss/sktools/pkg/storage"
	"github.com/rhuss/sktools/pkg/storage/memory"
	"github.com/rhuss/sktools/pkg/storage/postgres"
	"github.com/rhuss/sktools/pkg/tools/builtins/pythonexec"
	"github.com/rhuss/sktools/pkg/tools/registry"
	"github.com/rhuss/sktools/pkg/transport"
)

// buildPolicy picks the restricted set: a policy file wins over an explicit
// module list, which wins over the named profile.
func buildPolicy(ec config.ExecutorConfig) (*safety.Policy, error) {
	if ec.PolicyFile != "" {
		return safety.LoadPolicy(ec.PolicyFile, ec.AllowNetworking)
	}
	if len(ec.RestrictedModules) > 0 {
		return safety.NewPolicy(ec.RestrictedModules, ec.AllowNetworking), nil
	}
	mods, err := safety.ProfileModules(ec.RestrictedProfile)
	if err != nil {
		return nil, err
	}
	return safety.NewPolicy(mods, ec.AllowNetworking), nil
}

func buildStore(ctx context.Context, sc config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch sc.Type {
	case "memory":
		logger.Info("execution history enabled", "type", "memory", "max_size", sc.MaxSize)
		return memory.New(sc.MaxSize), nil
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            sc.Postgres.DSN,
			MaxConns:       sc.Postgres.MaxConns,
			MigrateOnStart: sc.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		logger.Info("execution history enabled", "type", "postgres")
		return s, nil
	}
	logger.Info("execution history disabled")
	return nil, nil
}

// buildRunner returns nil in local mode, leaving the engine to choose a
// runner from the sandbox state.
func buildRunner(cfg *config.Config, logger *slog.Logger) (runner.Runner, error) {
	if cfg.Runtime.Mode != "remote" {
		return nil, nil
	}
	var acquirer remote.Acquirer
	switch {
	case cfg.Runtime.SandboxURL != "":
		acquirer = remote.StaticAcquirer{URL: cfg.Runtime.SandboxURL}
		logger.Info("remote runtime", "sandbox_url", cfg.Runtime.SandboxURL)
	case cfg.Runtime.SandboxTemplate != "":
		restCfg, err := ctrlconfig.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
		scheme, err := kubernetes.NewScheme()
		if err != nil {
			return nil, err
		}
		c, err := client.New(restCfg, client.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		acquirer = kubernetes.NewClaimAcquirer(c, cfg.Runtime.SandboxTemplate, cfg.Runtime.SandboxNamespace, cfg.Runtime.ClaimTimeout, logger)
		logger.Info("remote runtime", "sandbox_template", cfg.Runtime.SandboxTemplate, "namespace", cfg.Runtime.SandboxNamespace)
	default:
		return nil, errors.New("remote runtime needs sandbox_url or sandbox_template")
	}
	return remote.New(acquirer, cfg.Executor.Timeout(), cfg.Executor.MaxOutputLength, logger), nil
}

func engineConfig(cfg *config.Config, policy *safety.Policy, run runner.Runner, store storage.Store, logger *slog.Logger) pyexec.Config {
	ec := cfg.Executor
	pc := pyexec.DefaultConfig()
	pc.Timeout = ec.Timeout()
	pc.MaxOutput = ec.MaxOutputLength
	pc.Policy = policy
	pc.RestrictedModules = policy.Modules()
	pc.AllowNetworking = ec.AllowNetworking
	pc.AllowFileWrite = ec.AllowFileWrite
	pc.AutoInstall = ec.AutoInstallDependencies
	pc.Isolated = ec.UseIsolatedRuntime
	pc.SerializeInstalls = ec.SerializeInstalls
	pc.WarnOnDegraded = ec.WarnOnDegraded
	pc.Aliases = ec.PackageAliases
	if ec.InstallTimeout > 0 {
		pc.InstallTimeout = ec.InstallTimeout
	}
	pc.Sandbox = sandbox.Options{
		BaseDir:     ec.BaseDir,
		HostPython:  ec.Python,
		FallbackEnv: ec.FallbackVenv,
		UpgradePip:  ec.UpgradePip,
	}
	pc.Runner = run
	pc.Store = store
	pc.Logger = logger
	return pc
}

// app holds everything the commands share.
type app struct {
	engine   *pyexec.Engine
	store    storage.Store
	registry *registry.FunctionRegistry
	inflight *transport.InFlightRegistry
}

// newApp builds the engine and tool registry. withHistory controls whether
// executions are recorded.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withHistory bool) (*app, error) {
	policy, err := buildPolicy(cfg.Executor)
	if err != nil {
		return nil, fmt.Errorf("building safety policy: %w", err)
	}
	run, err := buildRunner(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{inflight: transport.NewInFlightRegistry()}
	if withHistory {
		if a.store, err = buildStore(ctx, cfg.Storage, logger); err != nil {
			return nil, err
		}
	}

	a.engine, err = pyexec.New(ctx, engineConfig(cfg, policy, run, a.store, logger))
	if err != nil {
		a.closeStore(logger)
		return nil, fmt.Errorf("creating python executor: %w", err)
	}

	provider, err := pythonexec.New(pythonexec.Config{
		Executor: a.engine,
		InFlight: a.inflight,
		Logger:   logger,
	})
	if err != nil {
		a.Close(logger)
		return nil, err
	}
	a.registry = registry.New(logger)
	a.registry.Register(provider)
	return a, nil
}

// Close waits for running executions, then releases the sandbox and store.
func (a *app) Close(logger *slog.Logger) {
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			logger.Warn("closing tools failed", "error", err)
		}
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			logger.Warn("removing sandbox failed", "error", err)
		}
	}
	a.closeStore(logger)
}

func (a *app) closeStore(logger *slog.Logger) {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("closing history store failed", "error", err)
	}
}

// buildAuth returns a nil authenticator when auth is off. The limiter is nil
// when no limits are configured.
func buildAuth(ac config.AuthConfig, logger *slog.Logger) (auth.Authenticator, auth.RateLimiter) {
	var authn auth.Authenticator
	switch ac.Type {
	case "apikey":
		authn = &auth.Chain{Authenticators: []auth.Authenticator{apikey.New(ac.APIKeys)}}
	case "jwt":
		jc := jwt.FromConfig(ac.JWT)
		jc.Logger = logger
		authn = &auth.Chain{Authenticators: []auth.Authenticator{jwt.New(jc)}}
	default:
		return nil, nil
	}
	logger.Info("authentication enabled", "type", ac.Type)

	if ac.RateLimit.DefaultRPM <= 0 && len(ac.RateLimit.Tiers) == 0 {
		return authn, nil
	}
	logger.Info("rate limiting enabled", "default_rpm", ac.RateLimit.DefaultRPM, "tiers", len(ac.RateLimit.Tiers))
	return authn, auth.NewWindowLimiter(ac.RateLimit.DefaultRPM, ac.RateLimit.Tiers)
}
