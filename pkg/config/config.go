// Package config provides unified configuration for sktools.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (SKTOOLS_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for sktools.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Runtime       RuntimeConfig       `yaml:"runtime"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 300s
}

// ExecutorConfig holds the Python executor options. They are fixed when the
// engine is built.
type ExecutorConfig struct {
	TimeoutSeconds          int      `yaml:"timeout_seconds"`           // default: 30
	MaxOutputLength         int      `yaml:"max_output_length"`         // default: 4000
	RestrictedModules       []string `yaml:"restricted_modules"`        // overrides restricted_profile
	RestrictedProfile       string   `yaml:"restricted_profile"`        // "default" or "strict"
	PolicyFile              string   `yaml:"policy_file"`               // YAML rules, overrides both
	AllowNetworking         bool     `yaml:"allow_networking"`          // default: true
	AllowFileWrite          bool     `yaml:"allow_file_write"`          // default: true, advisory
	AutoInstallDependencies bool     `yaml:"auto_install_dependencies"` // default: true
	UseIsolatedRuntime      bool     `yaml:"use_isolated_runtime"`      // default: true

	InstallTimeout    time.Duration     `yaml:"install_timeout"`    // default: 120s
	SerializeInstalls bool              `yaml:"serialize_installs"` // default: true
	WarnOnDegraded    bool              `yaml:"warn_on_degraded"`   // default: true
	UpgradePip        bool              `yaml:"upgrade_pip"`        // default: true
	BaseDir           string            `yaml:"base_dir"`           // default: os.TempDir()
	Python            string            `yaml:"python"`             // default: "python3"
	FallbackVenv      string            `yaml:"fallback_venv"`      // default: $SKTOOLS_FALLBACK_VENV or ./.venv
	PackageAliases    map[string]string `yaml:"package_aliases"`    // import name -> package name
}

// Timeout returns the execution timeout as a duration.
func (e ExecutorConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// RuntimeConfig selects where scripts run.
type RuntimeConfig struct {
	Mode string `yaml:"mode"` // "local" or "remote", default: "local"

	// SandboxURL is a static sandbox server for remote mode.
	SandboxURL string `yaml:"sandbox_url"`

	// SandboxTemplate switches remote mode to per-run SandboxClaims.
	SandboxTemplate  string        `yaml:"sandbox_template"`
	SandboxNamespace string        `yaml:"sandbox_namespace"` // default: "default"
	ClaimTimeout     time.Duration `yaml:"claim_timeout"`     // default: 2m
}

// StorageConfig holds execution history settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory", "postgres" or "none", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	TenantID    string `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig holds settings for type=jwt.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	JWKSURL     string        `yaml:"jwks_url"`
	UserClaim   string        `yaml:"user_claim"`
	TenantClaim string        `yaml:"tenant_claim"`
	ScopesClaim string        `yaml:"scopes_claim"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// RateLimitConfig holds per-tier request limits. Zero disables limiting.
type RateLimitConfig struct {
	DefaultRPM int            `yaml:"default_rpm"`
	Tiers      map[string]int `yaml:"tiers"` // tier -> requests per minute
}

// MCPConfig holds settings for the MCP server surface.
type MCPConfig struct {
	Enabled bool     `yaml:"enabled"` // default: true
	Path    string   `yaml:"path"`    // default: "/mcp"
	Tools   []string `yaml:"tools"`   // exposed tools, empty exposes all
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "trace", "debug", "info", "warn", "error", default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"

	// Debug lists debug categories; SKTOOLS_DEBUG overrides it.
	Debug string `yaml:"debug"`
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 300 * time.Second,
		},
		Executor: ExecutorConfig{
			TimeoutSeconds:          30,
			MaxOutputLength:         4000,
			RestrictedProfile:       "default",
			AllowNetworking:         true,
			AllowFileWrite:          true,
			AutoInstallDependencies: true,
			UseIsolatedRuntime:      true,
			InstallTimeout:          120 * time.Second,
			SerializeInstalls:       true,
			WarnOnDegraded:          true,
			UpgradePip:              true,
			Python:                  "python3",
		},
		Runtime: RuntimeConfig{
			Mode:             "local",
			SandboxNamespace: "default",
			ClaimTimeout:     2 * time.Minute,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
