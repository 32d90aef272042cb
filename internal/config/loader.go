package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/convoy/internal/chat"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, verifies and validates the configuration file at configPath.
// A directory is accepted if it contains config.yaml. When a .checksum
// sidecar exists the file must match it.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}

	if err := VerifyChecksum(absPath); err != nil && !errors.Is(err, ErrNoChecksum) {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// Relative paths are resolved against the config file's directory.
	baseDir := filepath.Dir(absPath)
	cfg.DataDir = resolveRelative(baseDir, cfg.DataDir)
	cfg.State.Path = resolveRelative(baseDir, cfg.State.Path)
	if cfg.Transport.SignalCLI.Socket != "" {
		cfg.Transport.SignalCLI.Socket = resolveRelative(baseDir, cfg.Transport.SignalCLI.Socket)
	}
	return cfg, nil
}

// ResolvePath returns the absolute config file path for configPath.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// Parse decodes and validates a configuration document. ${VAR} references
// are expanded from the environment first.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Service.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Service.LogLevel))
	cfg.Service.LogFormat = strings.ToLower(strings.TrimSpace(cfg.Service.LogFormat))
	if cfg.Enabled == nil {
		cfg.Enabled = make(map[string][]string)
	}
	if cfg.Schedules == nil {
		cfg.Schedules = make(map[string]ScheduleConfig)
	}
	if cfg.PluginConfig == nil {
		cfg.PluginConfig = make(map[string]map[string]any)
	}
}

func resolveRelative(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if strings.TrimSpace(cfg.Service.CommandPrefix) == "" {
		return fmt.Errorf("service.command_prefix is required")
	}
	if cfg.Service.DedupeTTL < 0 {
		return fmt.Errorf("service.dedupe_ttl must not be negative")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if err := validateTransport(cfg.Transport); err != nil {
		return err
	}
	if err := validateAPI(cfg.API); err != nil {
		return err
	}

	if len(cfg.Masters) == 0 {
		return fmt.Errorf("masters: at least one master is required")
	}

	loaded := cfg.Loaded()
	for _, name := range loaded {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("plugins: empty plugin name")
		}
	}

	for key, plugins := range cfg.Enabled {
		if _, err := chat.ParseConversationID(key); err != nil {
			return fmt.Errorf("enabled: invalid conversation %q: %w", key, err)
		}
		for _, p := range plugins {
			if !slices.Contains(loaded, p) {
				return fmt.Errorf("enabled[%q]: plugin %q is not listed under plugins or testing_plugins", key, p)
			}
		}
	}

	for name, sched := range cfg.Schedules {
		if !slices.Contains(loaded, name) {
			return fmt.Errorf("schedules: plugin %q is not loaded", name)
		}
		if _, _, err := sched.Clock(); err != nil {
			return fmt.Errorf("schedules[%q]: %w", name, err)
		}
	}

	for name, pc := range cfg.PluginConfig {
		if err := checkUnresolvedEnvVars(pc, name); err != nil {
			return err
		}
	}
	return nil
}

func validateTransport(t TransportConfig) error {
	switch t.Kind {
	case TransportSignalCLI:
		if t.SignalCLI.Socket == "" {
			return fmt.Errorf("transport.signal_cli.socket is required")
		}
	case TransportMatrix:
		if t.Matrix.Homeserver == "" || t.Matrix.UserID == "" {
			return fmt.Errorf("transport.matrix.homeserver and user_id are required")
		}
		if t.Matrix.AccessToken == "" || envVarPattern.MatchString(t.Matrix.AccessToken) {
			return fmt.Errorf("transport.matrix.access_token is missing or references an unset environment variable")
		}
	case TransportMemory:
	default:
		return fmt.Errorf("transport.kind must be one of %s, %s, %s (got %q)",
			TransportSignalCLI, TransportMatrix, TransportMemory, t.Kind)
	}
	return nil
}

func validateAPI(api APIConfig) error {
	if !api.Enabled {
		return nil
	}
	if api.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	if envVarPattern.MatchString(api.Auth.APIKey) {
		matches := envVarPattern.FindStringSubmatch(api.Auth.APIKey)
		return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
	}
	for i, tok := range api.Auth.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("api.auth.tokens[%d].token is required", i)
		}
		if envVarPattern.MatchString(tok.Token) {
			matches := envVarPattern.FindStringSubmatch(tok.Token)
			return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, matches[1])
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
		}
	}
	if envVarPattern.MatchString(api.HookSecret) {
		matches := envVarPattern.FindStringSubmatch(api.HookSecret)
		return fmt.Errorf("api.hook_secret: environment variable ${%s} is not set", matches[1])
	}
	if api.Auth.APIKey == "" && len(api.Auth.Tokens) == 0 {
		return fmt.Errorf("api.auth: api_key or tokens required when the API is enabled")
	}
	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in config values.
func checkUnresolvedEnvVars(data map[string]any, pluginName string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if matches := envVarPattern.FindStringSubmatch(v); len(matches) > 1 {
				return fmt.Errorf("plugin %q: environment variable ${%s} is not set", pluginName, matches[1])
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, pluginName); err != nil {
				return err
			}
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					if err := checkUnresolvedEnvVars(m, pluginName); err != nil {
						return err
					}
				} else if s, ok := item.(string); ok && envVarPattern.MatchString(s) {
					return fmt.Errorf("plugin %q: unresolved environment variable in config.%s", pluginName, key)
				}
			}
		}
	}
	return nil
}
