package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Executor.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("executor.timeout_seconds must be > 0, got %d", c.Executor.TimeoutSeconds))
	}
	if c.Executor.MaxOutputLength <= 0 {
		errs = append(errs, fmt.Errorf("executor.max_output_length must be > 0, got %d", c.Executor.MaxOutputLength))
	}
	switch c.Executor.RestrictedProfile {
	case "", "default", "strict":
	default:
		errs = append(errs, fmt.Errorf("executor.restricted_profile must be \"default\" or \"strict\", got %q", c.Executor.RestrictedProfile))
	}
	if c.Executor.InstallTimeout < 0 {
		errs = append(errs, fmt.Errorf("executor.install_timeout must not be negative"))
	}

	switch c.Runtime.Mode {
	case "local":
	case "remote":
		if c.Runtime.SandboxURL == "" && c.Runtime.SandboxTemplate == "" {
			errs = append(errs, fmt.Errorf("runtime.sandbox_url or runtime.sandbox_template is required when runtime.mode is \"remote\""))
		}
	default:
		errs = append(errs, fmt.Errorf("runtime.mode must be \"local\" or \"remote\", got %q", c.Runtime.Mode))
	}

	switch c.Storage.Type {
	case "memory", "none":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\", \"postgres\" or \"none\", got %q", c.Storage.Type))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path must start with \"/\", got %q", c.MCP.Path))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be trace, debug, info, warn or error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
