package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen          = "127.0.0.1:8765"
	DefaultScreenshotEvery = 600
	DefaultMaxWidth        = 1280
	DefaultMaxHeight       = 720
)

type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Screenshots ScreenshotsConfig `yaml:"screenshots"`
	Control     ControlConfig     `yaml:"control"`
	Journal     JournalConfig     `yaml:"journal"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type AgentConfig struct {
	BackendURL     string `yaml:"backend_url"`
	Token          string `yaml:"token"`
	TokenFile      string `yaml:"token_file"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TrackingConfig struct {
	ActivityIntervalMs int    `yaml:"activity_interval_ms"`
	IdleIntervalMs     int    `yaml:"idle_interval_ms"`
	Probe              string `yaml:"probe"`
}

type ScreenshotsConfig struct {
	IntervalSeconds    int      `yaml:"interval_seconds"`
	MaxWidth           int      `yaml:"max_width"`
	MaxHeight          int      `yaml:"max_height"`
	TempDir            string   `yaml:"temp_dir"`
	DeleteDelaySeconds int      `yaml:"delete_delay_seconds"`
	CaptureCommand     []string `yaml:"capture_command"`
}

type ControlConfig struct {
	Listen            string `yaml:"listen"`
	PushURL           string `yaml:"push_url"`
	PushRatePerMinute int    `yaml:"push_rate_per_minute"`
	ReconnectSeconds  int    `yaml:"reconnect_seconds"`
}

type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			TimeoutSeconds: 30,
		},
		Tracking: TrackingConfig{
			ActivityIntervalMs: 1000,
			IdleIntervalMs:     1000,
			Probe:              "auto",
		},
		Screenshots: ScreenshotsConfig{
			IntervalSeconds:    DefaultScreenshotEvery,
			MaxWidth:           DefaultMaxWidth,
			MaxHeight:          DefaultMaxHeight,
			TempDir:            os.TempDir(),
			DeleteDelaySeconds: 30,
		},
		Control: ControlConfig{
			Listen:           DefaultListen,
			ReconnectSeconds: 5,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          defaultJournalPath(),
			RetentionDays: 14,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but treats a missing file as an empty one.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return Parse(nil)
}

// Parse expands environment references in data, decodes it over the
// defaults, applies environment overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.LoadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills zero values an explicit but partial YAML section left behind.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Agent.TimeoutSeconds == 0 {
		c.Agent.TimeoutSeconds = d.Agent.TimeoutSeconds
	}
	if c.Tracking.ActivityIntervalMs == 0 {
		c.Tracking.ActivityIntervalMs = d.Tracking.ActivityIntervalMs
	}
	if c.Tracking.IdleIntervalMs == 0 {
		c.Tracking.IdleIntervalMs = d.Tracking.IdleIntervalMs
	}
	if c.Tracking.Probe == "" {
		c.Tracking.Probe = d.Tracking.Probe
	}
	if c.Screenshots.IntervalSeconds == 0 {
		c.Screenshots.IntervalSeconds = d.Screenshots.IntervalSeconds
	}
	if c.Screenshots.MaxWidth == 0 {
		c.Screenshots.MaxWidth = d.Screenshots.MaxWidth
	}
	if c.Screenshots.MaxHeight == 0 {
		c.Screenshots.MaxHeight = d.Screenshots.MaxHeight
	}
	if c.Screenshots.TempDir == "" {
		c.Screenshots.TempDir = d.Screenshots.TempDir
	}
	if c.Screenshots.DeleteDelaySeconds == 0 {
		c.Screenshots.DeleteDelaySeconds = d.Screenshots.DeleteDelaySeconds
	}
	if c.Control.Listen == "" {
		c.Control.Listen = d.Control.Listen
	}
	if c.Control.ReconnectSeconds == 0 {
		c.Control.ReconnectSeconds = d.Control.ReconnectSeconds
	}
	if c.Journal.Path == "" {
		c.Journal.Path = d.Journal.Path
	}
	if c.Journal.RetentionDays == 0 {
		c.Journal.RetentionDays = d.Journal.RetentionDays
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}

// LoadFromEnv overrides fields from environment variables.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("BACKEND_URL"); v != "" {
		c.Agent.BackendURL = v
	}
	if v := os.Getenv("SESSIONAGENT_TOKEN"); v != "" {
		c.Agent.Token = v
	}
	if v := os.Getenv("SESSIONAGENT_TOKEN_FILE"); v != "" {
		c.Agent.TokenFile = v
	}
	if v := os.Getenv("SESSIONAGENT_LISTEN"); v != "" {
		c.Control.Listen = v
	}
	if v := os.Getenv("SESSIONAGENT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Agent.BackendURL != "" {
		if err := validateBackendURL(c.Agent.BackendURL); err != nil {
			return err
		}
	}
	if c.Agent.TimeoutSeconds < 1 {
		return fmt.Errorf("agent.timeout_seconds must be positive, got %d", c.Agent.TimeoutSeconds)
	}
	if c.Tracking.ActivityIntervalMs < 1 || c.Tracking.IdleIntervalMs < 1 {
		return fmt.Errorf("tracking intervals must be positive")
	}
	switch c.Tracking.Probe {
	case "auto", "x11", "mutter":
	default:
		return fmt.Errorf("tracking.probe must be auto, x11 or mutter, got %q", c.Tracking.Probe)
	}
	if c.Screenshots.IntervalSeconds < 1 {
		return fmt.Errorf("screenshots.interval_seconds must be at least 1, got %d", c.Screenshots.IntervalSeconds)
	}
	if c.Screenshots.MaxWidth < 1 || c.Screenshots.MaxHeight < 1 {
		return fmt.Errorf("screenshot bounds must be positive, got %dx%d", c.Screenshots.MaxWidth, c.Screenshots.MaxHeight)
	}
	if c.Screenshots.DeleteDelaySeconds < 0 {
		return fmt.Errorf("screenshots.delete_delay_seconds must not be negative")
	}
	if err := validateLoopback(c.Control.Listen); err != nil {
		return err
	}
	if c.Control.PushRatePerMinute < 0 {
		return fmt.Errorf("control.push_rate_per_minute must not be negative")
	}
	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("journal.retention_days must not be negative")
	}
	return nil
}

// RequireBackend reports an error when no backend address is configured.
func (c *Config) RequireBackend() error {
	if c.Agent.BackendURL == "" {
		return fmt.Errorf("agent.backend_url is not set (config file or BACKEND_URL)")
	}
	return nil
}

func (c *Config) ActivityInterval() time.Duration {
	return time.Duration(c.Tracking.ActivityIntervalMs) * time.Millisecond
}

func (c *Config) IdleInterval() time.Duration {
	return time.Duration(c.Tracking.IdleIntervalMs) * time.Millisecond
}

func (c *Config) ScreenshotInterval() time.Duration {
	return time.Duration(c.Screenshots.IntervalSeconds) * time.Second
}

func (c *Config) DeleteDelay() time.Duration {
	return time.Duration(c.Screenshots.DeleteDelaySeconds) * time.Second
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

// BackendAddress is the collector base address without a trailing slash.
func (c *Config) BackendAddress() string {
	return strings.TrimRight(c.Agent.BackendURL, "/")
}

func validateBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("agent.backend_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("agent.backend_url must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("agent.backend_url has no host: %q", raw)
	}
	return nil
}

func validateLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("control.listen: %w", err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("control.listen must be a loopback address, got %q", addr)
	}
	return nil
}

func defaultJournalPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "sessionagent", "journal.db")
}
