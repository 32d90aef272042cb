package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportSignalCLI = "signal-cli"
	TransportMatrix    = "matrix"
	TransportMemory    = "memory"
)

// Config represents the complete convoy configuration.
type Config struct {
	Service        ServiceConfig             `yaml:"service"`
	DataDir        string                    `yaml:"data_dir"`
	State          StateConfig               `yaml:"state"`
	Transport      TransportConfig           `yaml:"transport"`
	API            APIConfig                 `yaml:"api,omitempty"`
	Masters        Masters                   `yaml:"masters"`
	Plugins        []string                  `yaml:"plugins"`
	TestingPlugins []string                  `yaml:"testing_plugins,omitempty"`
	Enabled        map[string][]string       `yaml:"enabled"`
	Schedules      map[string]ScheduleConfig `yaml:"schedules,omitempty"`
	PluginConfig   map[string]map[string]any `yaml:"plugin_config,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name                string        `yaml:"name"`
	LogLevel            string        `yaml:"log_level"`
	LogFormat           string        `yaml:"log_format"`
	CommandPrefix       string        `yaml:"command_prefix"`
	DedupeTTL           time.Duration `yaml:"dedupe_ttl"`
	StartupNotification bool          `yaml:"startup_notification"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// TransportConfig selects and configures the chat transport.
type TransportConfig struct {
	Kind      string          `yaml:"kind"`
	SignalCLI SignalCLIConfig `yaml:"signal_cli,omitempty"`
	Matrix    MatrixConfig    `yaml:"matrix,omitempty"`
}

// SignalCLIConfig points at a signal-cli daemon's JSON-RPC socket.
type SignalCLIConfig struct {
	Socket         string `yaml:"socket"`
	Account        string `yaml:"account,omitempty"`
	AttachmentsDir string `yaml:"attachments_dir,omitempty"`
}

// MatrixConfig holds Matrix client credentials.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
	// HookSecret enables the HMAC-signed POST /hooks/inbound endpoint.
	HookSecret string `yaml:"hook_secret,omitempty"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// ScheduleConfig fires a plugin's broadcast once a day.
type ScheduleConfig struct {
	At           string `yaml:"at"` // "HH:MM", local time
	WeekdaysOnly bool   `yaml:"weekdays_only,omitempty"`
}

// Clock parses At into hour and minute.
func (s ScheduleConfig) Clock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s.At))
	if err != nil {
		return 0, 0, fmt.Errorf("schedule at %q must be HH:MM", s.At)
	}
	return t.Hour(), t.Minute(), nil
}

// Masters lists the identities allowed to run admin commands.
//
// Accepted formats:
//   - a single scalar: masters: "+4912345"
//   - a sequence: masters: ["+4912345", "@admin:example.org"]
type Masters []string

func (m *Masters) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		v := strings.TrimSpace(n.Value)
		if v == "" {
			*m = nil
			return nil
		}
		*m = Masters{v}
		return nil
	case yaml.SequenceNode:
		out := make(Masters, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("masters entries must be strings")
			}
			if v := strings.TrimSpace(item.Value); v != "" {
				out = append(out, v)
			}
		}
		*m = out
		return nil
	default:
		return fmt.Errorf("masters must be a string or a sequence of strings")
	}
}

// Contains reports whether id is a master.
func (m Masters) Contains(id string) bool {
	for _, v := range m {
		if v == id {
			return true
		}
	}
	return false
}

// Loaded returns plugins followed by testing_plugins, without duplicates.
func (c *Config) Loaded() []string {
	seen := make(map[string]struct{}, len(c.Plugins)+len(c.TestingPlugins))
	out := make([]string, 0, len(c.Plugins)+len(c.TestingPlugins))
	for _, list := range [][]string{c.Plugins, c.TestingPlugins} {
		for _, p := range list {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:          "convoy",
			LogLevel:      "info",
			LogFormat:     "json",
			CommandPrefix: "//",
			DedupeTTL:     10 * time.Minute,
		},
		DataDir: "./data",
		State: StateConfig{
			Path: "./data/state.db",
		},
		Transport: TransportConfig{
			Kind: TransportSignalCLI,
			SignalCLI: SignalCLIConfig{
				Socket: "/var/run/signal-cli/socket",
			},
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Enabled:      make(map[string][]string),
		Schedules:    make(map[string]ScheduleConfig),
		PluginConfig: make(map[string]map[string]any),
	}
}
