// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "agent.yaml", `
server:
  http_addr: "0.0.0.0:9090"
  grpc_addr: "0.0.0.0:50051"
  shutdown_timeout: "3s"

site:
  name: "Example"
  base_url: "https://example.com"
  upstream: "http://127.0.0.1:8081"
  fail_closed: true

database:
  driver: "sqlite3"
  path: "./test.db"

smtp:
  host: "smtp.example.com"
  timeout: "5s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9090")
	}
	if !cfg.Site.FailClosed {
		t.Error("Site.FailClosed = false, want true")
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 3s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.HealthPollInterval != 5*time.Second {
		t.Errorf("Server.HealthPollInterval = %v, want default 5s", cfg.Server.HealthPollInterval)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %q, want sqlite3", cfg.Database.Driver)
	}
	if cfg.SMTP.Timeout != 5*time.Second {
		t.Errorf("SMTP.Timeout = %v, want 5s", cfg.SMTP.Timeout)
	}
	if cfg.SMTP.Port != 587 {
		t.Errorf("SMTP.Port = %d, want default 587", cfg.SMTP.Port)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Debug.MaxSizeMB != 5 {
		t.Errorf("Debug.MaxSizeMB = %d, want default 5", cfg.Debug.MaxSizeMB)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "agent.toml", `
[site]
name = "Example"
base_url = "https://example.com"

[database]
path = "./test.db"

[matrix]
enabled = true
homeserver = "https://matrix.example.com"
user_id = "@bot:example.com"
access_token = "tok"
room_id = "!ops:example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Site.Name != "Example" {
		t.Errorf("Site.Name = %q, want Example", cfg.Site.Name)
	}
	if !cfg.Matrix.Enabled || cfg.Matrix.RoomID != "!ops:example.com" {
		t.Errorf("Matrix = %+v", cfg.Matrix)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want default sqlite", cfg.Database.Driver)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MRWP_SMTP_PASSWORD", "hunter2")
	t.Setenv("TEST_MRWP_BASE", "https://env.example.com")

	path := writeConfig(t, "agent.yaml", `
site:
  base_url: "${TEST_MRWP_BASE}"
database:
  path: "./test.db"
smtp:
  password: "${TEST_MRWP_SMTP_PASSWORD}"
  username: "${TEST_MRWP_UNSET_VAR}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SMTP.Password != "hunter2" {
		t.Errorf("SMTP.Password = %q, want hunter2", cfg.SMTP.Password)
	}
	if cfg.SMTP.Username != "" {
		t.Errorf("SMTP.Username = %q, want empty", cfg.SMTP.Username)
	}
	if cfg.Site.BaseURL != "https://env.example.com" {
		t.Errorf("Site.BaseURL = %q", cfg.Site.BaseURL)
	}
}

func TestLoad_SampleIsValid(t *testing.T) {
	path := writeConfig(t, "agent.yaml", SampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(SampleYAML) error = %v", err)
	}
	if cfg.Site.APIRoot != "/wp-json/mrwp/v1" {
		t.Errorf("Site.APIRoot = %q", cfg.Site.APIRoot)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing base url",
			content: "database:\n  path: ./x.db\n",
			wantErr: "site.base_url is required",
		},
		{
			name:    "bad scheme",
			content: "site:\n  base_url: ftp://example.com\n",
			wantErr: "site.base_url must use http or https",
		},
		{
			name:    "bad driver",
			content: "site:\n  base_url: https://example.com\ndatabase:\n  driver: postgres\n",
			wantErr: "database.driver",
		},
		{
			name:    "short jwt secret",
			content: "site:\n  base_url: https://example.com\nauth:\n  admin_jwt_secret: short\n",
			wantErr: "admin_jwt_secret",
		},
		{
			name:    "bad duration",
			content: "site:\n  base_url: https://example.com\nsmtp:\n  timeout: soon\n",
			wantErr: "smtp.timeout",
		},
		{
			name:    "matrix incomplete",
			content: "site:\n  base_url: https://example.com\nmatrix:\n  enabled: true\n",
			wantErr: "matrix.homeserver",
		},
		{
			name:    "bad log format",
			content: "site:\n  base_url: https://example.com\nlogging:\n  format: xml\n",
			wantErr: "logging.format",
		},
		{
			name:    "api root relative",
			content: "site:\n  base_url: https://example.com\n  api_root: wp-json\n",
			wantErr: "site.api_root",
		},
		{
			name:    "invalid yaml",
			content: "site: [",
			wantErr: "parsing config file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "agent.yaml", tt.content))
			if err == nil {
				t.Fatalf("Load() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() error = nil for missing file")
	}
}

func TestValidate_TailscaleWithoutHTTPAddr(t *testing.T) {
	cfg := Default()
	cfg.Site.BaseURL = "https://example.com"
	cfg.Server.HTTPAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want http_addr error")
	}
	cfg.Tailscale.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil with tailscale", err)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	if got := ResolvePath("/etc/mrwp.yaml"); got != "/etc/mrwp.yaml" {
		t.Errorf("flag path = %q", got)
	}
	if got := ResolvePath(""); got != filepath.Join("/tmp/xdg", "mrwp", "agent.yaml") {
		t.Errorf("xdg path = %q", got)
	}
	t.Setenv(EnvConfigPath, "/srv/agent.toml")
	if got := ResolvePath(""); got != "/srv/agent.toml" {
		t.Errorf("env path = %q", got)
	}
}
