package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
masters: "+4900000"
transport:
  kind: memory
plugins: [pingpong]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config gets defaults",
			yaml: minimalYAML,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.CommandPrefix != "//" {
					t.Errorf("command_prefix = %q, want //", cfg.Service.CommandPrefix)
				}
				if cfg.Service.DedupeTTL != 10*time.Minute {
					t.Errorf("dedupe_ttl = %v", cfg.Service.DedupeTTL)
				}
				if len(cfg.Masters) != 1 || cfg.Masters[0] != "+4900000" {
					t.Errorf("masters = %v", cfg.Masters)
				}
				if !filepath.IsAbs(cfg.State.Path) || !filepath.IsAbs(cfg.DataDir) {
					t.Errorf("relative paths not resolved: %q %q", cfg.State.Path, cfg.DataDir)
				}
				if cfg.Enabled == nil {
					t.Error("enabled map not initialised")
				}
			},
		},
		{
			name: "masters as list and enabled conversations",
			yaml: `
service:
  log_level: DEBUG
  log_format: text
  command_prefix: "!"
  startup_notification: true
masters:
  - "+4900000"
  - "@admin:example.org"
transport:
  kind: memory
plugins: [pingpong, mensa]
testing_plugins: [locktest]
enabled:
  "+4911111": [pingpong]
  "group:AAEC": [mensa, locktest]
schedules:
  mensa:
    at: "13:00"
    weekdays_only: true
plugin_config:
  mensa:
    url: https://example.org/menu
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" || cfg.Service.LogFormat != "text" {
					t.Errorf("log settings not normalised: %+v", cfg.Service)
				}
				if !cfg.Masters.Contains("@admin:example.org") {
					t.Errorf("masters = %v", cfg.Masters)
				}
				if got := cfg.Loaded(); strings.Join(got, ",") != "pingpong,mensa,locktest" {
					t.Errorf("Loaded() = %v", got)
				}
				if got := cfg.Enabled["group:AAEC"]; len(got) != 2 {
					t.Errorf("group enabled = %v", got)
				}
				h, m, err := cfg.Schedules["mensa"].Clock()
				if err != nil || h != 13 || m != 0 {
					t.Errorf("Clock() = %d:%d, %v", h, m, err)
				}
				if cfg.PluginConfig["mensa"]["url"] != "https://example.org/menu" {
					t.Errorf("plugin_config = %v", cfg.PluginConfig)
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
masters: ${MASTER}
transport:
  kind: matrix
  matrix:
    homeserver: https://matrix.example.org
    user_id: "@bot:example.org"
    access_token: ${MATRIX_TOKEN}
plugins: [pingpong]
`,
			env: map[string]string{"MASTER": "+4912345", "MATRIX_TOKEN": "syt_secret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Transport.Matrix.AccessToken != "syt_secret" {
					t.Errorf("access token not interpolated: %q", cfg.Transport.Matrix.AccessToken)
				}
				if !cfg.Masters.Contains("+4912345") {
					t.Errorf("masters = %v", cfg.Masters)
				}
			},
		},
		{
			name:    "unset matrix token",
			yaml:    "masters: x\ntransport:\n  kind: matrix\n  matrix:\n    homeserver: h\n    user_id: u\n    access_token: ${CONVOY_UNSET_TOKEN}\n",
			wantErr: "access_token",
		},
		{
			name:    "no masters",
			yaml:    "transport:\n  kind: memory\n",
			wantErr: "masters",
		},
		{
			name:    "unknown transport",
			yaml:    "masters: x\ntransport:\n  kind: dbus\n",
			wantErr: "transport.kind",
		},
		{
			name:    "enabled plugin not loaded",
			yaml:    minimalYAML + "enabled:\n  \"+1\": [mensa]\n",
			wantErr: `plugin "mensa" is not listed`,
		},
		{
			name:    "bad group key",
			yaml:    minimalYAML + "enabled:\n  \"group:***\": [pingpong]\n",
			wantErr: "invalid conversation",
		},
		{
			name:    "bad schedule time",
			yaml:    minimalYAML + "schedules:\n  pingpong:\n    at: noon\n",
			wantErr: "HH:MM",
		},
		{
			name:    "invalid log level",
			yaml:    minimalYAML + "service:\n  log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "api enabled without auth",
			yaml:    minimalYAML + "api:\n  enabled: true\n",
			wantErr: "api.auth",
		},
		{
			name:    "unresolved hook secret",
			yaml:    minimalYAML + "api:\n  enabled: true\n  hook_secret: ${CONVOY_UNSET_HOOK}\n  auth:\n    api_key: k\n",
			wantErr: "CONVOY_UNSET_HOOK",
		},
		{
			name:    "unresolved plugin config",
			yaml:    minimalYAML + "plugin_config:\n  pingpong:\n    key: ${CONVOY_UNSET_KEY}\n",
			wantErr: "CONVOY_UNSET_KEY",
		},
		{
			name:    "masters must be strings",
			yaml:    "masters:\n  - a: b\ntransport:\n  kind: memory\n",
			wantErr: "masters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error %q does not contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	cfg, err := Load(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Load(dir): %v", err)
	}
	if cfg.Transport.Kind != TransportMemory {
		t.Fatalf("transport = %q", cfg.Transport.Kind)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoadRejectsChecksumMismatch(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	if _, err := WriteChecksum(path); err != nil {
		t.Fatalf("WriteChecksum: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load with matching checksum: %v", err)
	}

	if err := os.WriteFile(path, []byte(minimalYAML+"\n# edited\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}
