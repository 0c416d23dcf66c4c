// ABOUTME: Configuration loading and parsing for mrwp-agent
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "MRWP_CONFIG"

// Config represents the complete mrwp-agent configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Site      SiteConfig      `yaml:"site" toml:"site"`
	SMTP      SMTPConfig      `yaml:"smtp" toml:"smtp"`
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Alerts    AlertsConfig    `yaml:"alerts" toml:"alerts"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Debug     DebugConfig     `yaml:"debug" toml:"debug"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr serves the health service; empty disables it.
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	HealthPollInterval time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw    string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	HealthPollIntervalRaw string `yaml:"health_poll_interval" toml:"health_poll_interval"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig selects the option store
type DatabaseConfig struct {
	// Driver is "sqlite" (modernc, default) or "sqlite3" (mattn, cgo).
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	// EncryptionKey seals stored values when set.
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// AdminJWTSecret verifies host administrator tokens; empty disables them.
	AdminJWTSecret           string `yaml:"admin_jwt_secret" toml:"admin_jwt_secret"`
	RejectReplayedSignatures bool   `yaml:"reject_replayed_signatures" toml:"reject_replayed_signatures"`
}

// SiteConfig describes the fronted host site
type SiteConfig struct {
	Name    string `yaml:"name" toml:"name"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	// Upstream is where non-API requests are proxied; empty serves only the API.
	Upstream           string `yaml:"upstream" toml:"upstream"`
	APIRoot            string `yaml:"api_root" toml:"api_root"`
	AdminPrefix        string `yaml:"admin_prefix" toml:"admin_prefix"`
	HostInfoPath       string `yaml:"host_info_path" toml:"host_info_path"`
	MaintenanceMessage string `yaml:"maintenance_message" toml:"maintenance_message"`
	MaintenanceLang    string `yaml:"maintenance_lang" toml:"maintenance_lang"`
	MaintenanceFooter  string `yaml:"maintenance_footer" toml:"maintenance_footer"`
	// FailClosed serves the maintenance page when the flag cannot be read.
	FailClosed bool `yaml:"fail_closed" toml:"fail_closed"`
}

// SMTPConfig holds outgoing mail configuration
type SMTPConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	From     string `yaml:"from" toml:"from"`
	ReplyTo  string `yaml:"reply_to" toml:"reply_to"`
	TLS      string `yaml:"tls" toml:"tls"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// MatrixConfig holds the Matrix alert sink configuration
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	RoomID      string `yaml:"room_id" toml:"room_id"`
}

// AlertsConfig controls system alerts sent after state changes
type AlertsConfig struct {
	Email     bool `yaml:"email" toml:"email"`
	QueueSize int  `yaml:"queue_size" toml:"queue_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DebugConfig holds the debug log sink configuration
type DebugConfig struct {
	LogPath    string `yaml:"log_path" toml:"log_path"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Default returns a Config with every optional field populated.
func Default() *Config {
	data := DataDir()
	return &Config{
		Server: ServerConfig{
			HTTPAddr:              "127.0.0.1:8080",
			ShutdownTimeoutRaw:    "10s",
			HealthPollIntervalRaw: "5s",
		},
		Tailscale: TailscaleConfig{
			Hostname: "mrwp-agent",
			StateDir: filepath.Join(data, "tsnet"),
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(data, "agent.db"),
		},
		SMTP: SMTPConfig{
			Port:       587,
			TLS:        "mandatory",
			TimeoutRaw: "15s",
		},
		Alerts: AlertsConfig{QueueSize: 32},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Debug: DebugConfig{
			LogPath:    filepath.Join(data, "debug.log"),
			MaxSizeMB:  5,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ResolvePath picks the config file: the explicit flag, then MRWP_CONFIG,
// then $XDG_CONFIG_HOME/mrwp/agent.yaml.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "agent.yaml")
}

// ConfigDir returns the XDG config directory for mrwp.
func ConfigDir() string {
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		return filepath.Join(d, "mrwp")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "mrwp")
	}
	return filepath.Join(home, ".config", "mrwp")
}

// DataDir returns the XDG data directory for mrwp.
func DataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "mrwp")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".local", "share", "mrwp")
	}
	return filepath.Join(home, ".local", "share", "mrwp")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.AdminJWTSecret != "" && len(c.Auth.AdminJWTSecret) < 32 {
		return fmt.Errorf("auth.admin_jwt_secret must be at least 32 bytes")
	}

	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}
	if err := checkHTTPURL("site.base_url", c.Site.BaseURL); err != nil {
		return err
	}
	if c.Site.Upstream != "" {
		if err := checkHTTPURL("site.upstream", c.Site.Upstream); err != nil {
			return err
		}
	}
	if c.Site.APIRoot != "" && !strings.HasPrefix(c.Site.APIRoot, "/") {
		return fmt.Errorf("site.api_root must start with /")
	}

	switch c.SMTP.TLS {
	case "", "mandatory", "opportunistic", "none":
	default:
		return fmt.Errorf("smtp.tls must be mandatory, opportunistic or none, got %q", c.SMTP.TLS)
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" || c.Matrix.UserID == "" || c.Matrix.AccessToken == "" || c.Matrix.RoomID == "" {
			return fmt.Errorf("matrix.homeserver, matrix.user_id, matrix.access_token and matrix.room_id are required when matrix is enabled")
		}
		if err := checkHTTPURL("matrix.homeserver", c.Matrix.Homeserver); err != nil {
			return err
		}
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return nil
}

func checkHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"server.health_poll_interval", cfg.Server.HealthPollIntervalRaw, &cfg.Server.HealthPollInterval},
		{"smtp.timeout", cfg.SMTP.TimeoutRaw, &cfg.SMTP.Timeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
