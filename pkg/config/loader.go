package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SKTOOLS_"

// Load builds the effective configuration. Later steps win: defaults,
// then the YAML file, then SKTOOLS_* variables, then *_file secrets. The
// result is validated before it is returned.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	steps := []struct {
		what string
		fn   func(*Config) error
	}{
		{"reading config file", func(c *Config) error { return decodeFile(findConfigFile(configPath), c) }},
		{"applying environment overrides", applyEnvOverrides},
		{"resolving secret files", resolveFileReferences},
		{"config validation", (*Config).Validate},
	}
	for _, step := range steps {
		if err := step.fn(&cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.what, err)
		}
	}
	return &cfg, nil
}

// searchPaths are tried in order when neither a flag nor SKTOOLS_CONFIG
// names a file.
var searchPaths = []string{"config.yaml", "/etc/sktools/config.yaml"}

func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	for _, p := range searchPaths {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}

// decodeFile overlays the YAML at path onto cfg. An empty path is a no-op
// and so is an empty file. Unknown keys are errors.
func decodeFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// envOverrides maps SKTOOLS_* variables onto config fields. Malformed
// numbers and booleans are reported rather than ignored.
type envOverrides struct {
	errs []error
}

func (e *envOverrides) str(name string, dst *string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
		*dst = v
	}
}

func (e *envOverrides) int(name string, dst *int) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = n
	}
}

func (e *envOverrides) bool(name string, dst *bool) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = b
	}
}

func (e *envOverrides) list(name string, dst *[]string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

func applyEnvOverrides(cfg *Config) error {
	e := &envOverrides{}

	e.int("PORT", &cfg.Server.Port)

	x := &cfg.Executor
	e.int("TIMEOUT_SECONDS", &x.TimeoutSeconds)
	e.int("MAX_OUTPUT_LENGTH", &x.MaxOutputLength)
	e.list("RESTRICTED_MODULES", &x.RestrictedModules)
	e.str("RESTRICTED_PROFILE", &x.RestrictedProfile)
	e.str("POLICY_FILE", &x.PolicyFile)
	e.bool("ALLOW_NETWORKING", &x.AllowNetworking)
	e.bool("ALLOW_FILE_WRITE", &x.AllowFileWrite)
	e.bool("AUTO_INSTALL_DEPENDENCIES", &x.AutoInstallDependencies)
	e.bool("USE_ISOLATED_RUNTIME", &x.UseIsolatedRuntime)
	e.str("BASE_DIR", &x.BaseDir)
	e.str("PYTHON", &x.Python)

	e.str("RUNTIME_MODE", &cfg.Runtime.Mode)
	e.str("SANDBOX_URL", &cfg.Runtime.SandboxURL)
	e.str("SANDBOX_TEMPLATE", &cfg.Runtime.SandboxTemplate)
	e.str("SANDBOX_NAMESPACE", &cfg.Runtime.SandboxNamespace)

	e.str("STORAGE", &cfg.Storage.Type)
	e.int("STORAGE_SIZE", &cfg.Storage.MaxSize)
	e.str("POSTGRES_DSN", &cfg.Storage.Postgres.DSN)

	e.str("AUTH_TYPE", &cfg.Auth.Type)
	e.bool("MCP_ENABLED", &cfg.MCP.Enabled)
	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.str("LOG_FORMAT", &cfg.Logging.Format)

	// SKTOOLS_API_KEYS: JSON array of API key configs.
	if v := os.Getenv(EnvPrefix + "API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			e.errs = append(e.errs, err)
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	return errors.Join(e.errs...)
}

func parseAPIKeysJSON(raw string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("%sAPI_KEYS: %w", EnvPrefix, err)
	}
	return keys, nil
}

// resolveFileReferences fills empty secrets from their *_file siblings.
// A value set inline always wins over the file.
func resolveFileReferences(cfg *Config) error {
	pg := &cfg.Storage.Postgres
	if err := fromFile("storage.postgres.dsn_file", pg.DSNFile, &pg.DSN); err != nil {
		return err
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		if err := fromFile(fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key); err != nil {
			return err
		}
	}
	return nil
}

func fromFile(field, path string, dst *string) error {
	if path == "" || *dst != "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = strings.TrimSpace(string(data))
	return nil
}
