// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/rotating-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	SourceURL string `kong:"help='Proxy listing service URL (overrides config).',env='SOURCE_URL'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Source    SourceConfig    `toml:"source"`
	Validator ValidatorConfig `toml:"validator"`
	Pool      PoolConfig      `toml:"pool"`
	Relay     RelayConfig     `toml:"relay"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// SourceConfig holds proxy listing service settings.
type SourceConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ValidatorConfig holds endpoint probe settings.
type ValidatorConfig struct {
	TestURL        string `toml:"test_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxChecked     int    `toml:"max_checked"`
	FallbackSize   int    `toml:"fallback_size"`
	Concurrency    int    `toml:"concurrency"`
}

// PoolConfig holds proxy pool refresh settings.
type PoolConfig struct {
	RefreshIntervalSeconds int `toml:"refresh_interval_seconds"`
}

// RelayConfig holds request forwarding settings.
type RelayConfig struct {
	RequestDelaySeconds   int `toml:"request_delay_seconds"` // fixed pacing before the first attempt
	AttemptTimeoutSeconds int `toml:"attempt_timeout_seconds"`
	MaxAttempts           int `toml:"max_attempts"`
	RetryBackoffSeconds   int `toml:"retry_backoff_seconds"`
	IdleConnections       int `toml:"idle_connections"`
}

// MonitorConfig holds synthetic health probe settings.
type MonitorConfig struct {
	Enabled         bool     `toml:"enabled"`
	IntervalSeconds int      `toml:"interval_seconds"`
	HistorySize     int      `toml:"history_size"`
	Targets         []string `toml:"targets"`
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

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/rotating-proxy/config.toml then configs/config.toml. A missing config
// file is not an error: the built-in defaults describe a working relay.
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
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
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
	if cli.SourceURL != "" {
		c.Source.URL = cli.SourceURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	for name, v := range map[string]int{
		"source.timeout_seconds":        c.Source.TimeoutSeconds,
		"validator.timeout_seconds":     c.Validator.TimeoutSeconds,
		"validator.max_checked":         c.Validator.MaxChecked,
		"validator.fallback_size":       c.Validator.FallbackSize,
		"validator.concurrency":         c.Validator.Concurrency,
		"pool.refresh_interval_seconds": c.Pool.RefreshIntervalSeconds,
		"relay.request_delay_seconds":   c.Relay.RequestDelaySeconds,
		"relay.attempt_timeout_seconds": c.Relay.AttemptTimeoutSeconds,
		"relay.max_attempts":            c.Relay.MaxAttempts,
		"relay.retry_backoff_seconds":   c.Relay.RetryBackoffSeconds,
		"relay.idle_connections":        c.Relay.IdleConnections,
		"monitor.interval_seconds":      c.Monitor.IntervalSeconds,
		"monitor.history_size":          c.Monitor.HistorySize,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative; got %d", name, v)
		}
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// URL fields.
	for name, v := range map[string]string{
		"source.url":         c.Source.URL,
		"validator.test_url": c.Validator.TestURL,
	} {
		if v != "" && !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			return fmt.Errorf("%s must be an http(s) URL; got %q", name, v)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/relay/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, MaxAttempts, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting
// relay.request_delay_seconds = 0 therefore yields the default pacing of 1s.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Source.URL == "" {
		c.Source.URL = "https://api.proxyscrape.com/v4/free-proxy-list/get?request=displayproxies&protocol=http&timeout=10000&country=all&ssl=all&anonymity=all&skip=0&limit=500"
	}
	if c.Source.TimeoutSeconds == 0 {
		c.Source.TimeoutSeconds = 30
	}
	if c.Validator.TestURL == "" {
		c.Validator.TestURL = "http://httpbin.org/ip"
	}
	if c.Validator.TimeoutSeconds == 0 {
		c.Validator.TimeoutSeconds = 10
	}
	if c.Validator.MaxChecked == 0 {
		c.Validator.MaxChecked = 100
	}
	if c.Validator.FallbackSize == 0 {
		c.Validator.FallbackSize = 50
	}
	if c.Validator.Concurrency == 0 {
		c.Validator.Concurrency = 10
	}
	if c.Pool.RefreshIntervalSeconds == 0 {
		c.Pool.RefreshIntervalSeconds = 1800 // 30 minutes
	}
	if c.Relay.RequestDelaySeconds == 0 {
		c.Relay.RequestDelaySeconds = 1
	}
	if c.Relay.AttemptTimeoutSeconds == 0 {
		c.Relay.AttemptTimeoutSeconds = 30
	}
	if c.Relay.MaxAttempts == 0 {
		c.Relay.MaxAttempts = 3
	}
	if c.Relay.RetryBackoffSeconds == 0 {
		c.Relay.RetryBackoffSeconds = 1
	}
	if c.Relay.IdleConnections == 0 {
		c.Relay.IdleConnections = 100
	}
	if c.Monitor.IntervalSeconds == 0 {
		c.Monitor.IntervalSeconds = 60
	}
	if c.Monitor.HistorySize == 0 {
		c.Monitor.HistorySize = 20
	}
	if len(c.Monitor.Targets) == 0 {
		c.Monitor.Targets = []string{
			"http://httpbin.org/ip",
			"https://httpbin.org/ip",
			"https://www.example.com",
		}
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
