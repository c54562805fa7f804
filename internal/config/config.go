// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/llm-tap/config.toml",
	"configs/config.toml",
}

// DefaultBaseURL is the upstream used when neither config nor environment names one.
const DefaultBaseURL = "https://api.openai.com"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BaseURL  string `kong:"name='base-url',help='Default upstream base URL (overrides config).',env='PROXY_BASE_URL'"`
	LogDir   string `kong:"name='log-dir',help='Directory for interaction records (overrides config).',env='LOG_DIR'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Records  RecordsConfig  `toml:"records"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL string `toml:"base_url"`
	// AllowedHosts restricts the hosts a per-request control block may route to.
	// Empty means any host is accepted.
	AllowedHosts    []string `toml:"allowed_hosts"`
	IdleConnections int      `toml:"idle_connections"`
}

// RecordsConfig controls where interaction records are persisted.
type RecordsConfig struct {
	Dir string `toml:"dir"`
	// AllowPathOverride honours LOG_FILE_PATH from a control block.
	// A pointer so an explicit false survives defaulting.
	AllowPathOverride *bool           `toml:"allow_path_override"`
	Redis             RedisConfig     `toml:"redis"`
	Retention         RetentionConfig `toml:"retention"`
}

// RedisConfig holds settings for mirroring records to a Redis stream.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Stream   string `toml:"stream"`
	MaxLen   int64  `toml:"max_len"`
}

// RetentionConfig controls scheduled removal of old record files.
type RetentionConfig struct {
	Schedule string `toml:"schedule"` // standard 5-field cron expression
	MaxAge   string `toml:"max_age"`  // Go duration, e.g. "720h"

	maxAge time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/llm-tap/config.toml then configs/config.toml. Finding neither is not
// an error: the proxy runs on defaults plus CLI/environment values.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BaseURL != "" {
		c.Upstream.BaseURL = cli.BaseURL
	}
	if cli.LogDir != "" {
		c.Records.Dir = cli.LogDir
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url must use http or https; got %q", c.Upstream.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url has no host; got %q", c.Upstream.BaseURL)
	}
	for _, h := range c.Upstream.AllowedHosts {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("upstream.allowed_hosts must not contain empty entries")
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	if c.Records.Redis.Enabled {
		if c.Records.Redis.Addr == "" {
			return fmt.Errorf("records.redis.addr is required when records.redis.enabled is true")
		}
		if c.Records.Redis.MaxLen < 0 {
			return fmt.Errorf("records.redis.max_len must be non-negative; got %d", c.Records.Redis.MaxLen)
		}
	}

	if err := c.Records.Retention.parse(); err != nil {
		return err
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if p == "/health" || p == "/" {
			return fmt.Errorf("metrics.path %q conflicts with a reserved route", p)
		}
	}

	return nil
}

// parse validates the retention settings. Both fields must be set together.
func (r *RetentionConfig) parse() error {
	if r.Schedule == "" && r.MaxAge == "" {
		return nil
	}
	if r.Schedule == "" || r.MaxAge == "" {
		return fmt.Errorf("records.retention.schedule and records.retention.max_age must be set together")
	}
	if _, err := cron.ParseStandard(r.Schedule); err != nil {
		return fmt.Errorf("records.retention.schedule %q: %w", r.Schedule, err)
	}
	d, err := time.ParseDuration(r.MaxAge)
	if err != nil {
		return fmt.Errorf("records.retention.max_age %q: %w", r.MaxAge, err)
	}
	if d <= 0 {
		return fmt.Errorf("records.retention.max_age must be positive; got %q", r.MaxAge)
	}
	r.maxAge = d
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 32 * 1024 * 1024 // 32 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Records.Dir == "" {
		c.Records.Dir = "./logs"
	}
	if c.Records.AllowPathOverride == nil {
		allow := true
		c.Records.AllowPathOverride = &allow
	}
	if c.Records.Redis.Stream == "" {
		c.Records.Redis.Stream = "llm-tap:records"
	}
	if c.Records.Redis.MaxLen == 0 {
		c.Records.Redis.MaxLen = 10000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PathOverrideAllowed reports whether control blocks may redirect record output.
func (c *RecordsConfig) PathOverrideAllowed() bool {
	return c.AllowPathOverride == nil || *c.AllowPathOverride
}

// Enabled reports whether scheduled retention is configured.
func (r *RetentionConfig) Enabled() bool {
	return r.Schedule != "" && r.MaxAge != ""
}

// MaxAgeDuration returns the parsed max_age. It is zero until the config has
// been validated.
func (r *RetentionConfig) MaxAgeDuration() time.Duration {
	return r.maxAge
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file may carry a Redis password.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
