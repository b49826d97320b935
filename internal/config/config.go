// Package config loads and validates the gaugewatch YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/floodline/gaugewatch/internal/domain"
)

// Environment variables that override file values. Secrets in
// particular should come from the environment, not the YAML file.
const (
	EnvStoreURL = "GAUGEWATCH_STORE_URL"
	EnvStoreKey = "GAUGEWATCH_STORE_KEY"
	EnvListen   = "GAUGEWATCH_LISTEN"
)

// Config is the complete gaugewatch configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Query   QueryConfig   `yaml:"query"`
	Trend   TrendConfig   `yaml:"trend"`
	Refresh RefreshConfig `yaml:"refresh"`
	Server  ServerConfig  `yaml:"server"`
	Publish PublishConfig `yaml:"publish"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
}

// StoreConfig configures the upstream sensor store client.
type StoreConfig struct {
	URL             string `yaml:"url"`               // Base URL, e.g. https://abc.supabase.co
	APIKey          string `yaml:"api_key"`           // Service key; prefer GAUGEWATCH_STORE_KEY
	Table           string `yaml:"table"`             // Readings table name
	TimeoutSecs     int    `yaml:"timeout_secs"`      // Per-request timeout
	RPS             int    `yaml:"rps"`               // Requests per second
	Burst           int    `yaml:"burst"`             // Burst capacity
	MaxFailures     int    `yaml:"max_failures"`      // Consecutive failures to open circuit
	OpenTimeoutSecs int    `yaml:"open_timeout_secs"` // Seconds before half-open probe
}

// QueryConfig selects which readings each refresh fetches.
type QueryConfig struct {
	Mode   string `yaml:"mode"`   // recent or range
	Limit  int    `yaml:"limit"`  // Row cap for recent mode
	Start  string `yaml:"start"`  // RFC3339, range mode only
	End    string `yaml:"end"`    // RFC3339, range mode only
	Sensor string `yaml:"sensor"` // Optional single-sensor filter
}

// TrendConfig configures the rolling-average computation.
type TrendConfig struct {
	Window int    `yaml:"window"` // Rolling window size in readings
	Align  string `yaml:"align"`  // trailing or shifted
}

// RefreshConfig configures the background refresh loop.
type RefreshConfig struct {
	IntervalSecs int `yaml:"interval_secs"` // Seconds between ticks, also the cache TTL
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen           string `yaml:"listen"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs"`
	IdleTimeoutSecs  int    `yaml:"idle_timeout_secs"`
}

// PublishConfig configures the optional Redis snapshot publisher.
type PublishConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	TTLSecs   int    `yaml:"ttl_secs"` // 0 keeps the latest key until overwritten
}

// ArchiveConfig configures the optional Postgres archive of cleaned readings.
type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Table       string `yaml:"table"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // auto, json, console
}

// DefaultPath is where Load looks when no --config flag is given.
var DefaultPath = filepath.Join("config", "gaugewatch.yaml")

// Default returns the built-in configuration. A missing config file
// plus GAUGEWATCH_STORE_URL is enough to run.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Table:           "sensor_data",
			TimeoutSecs:     10,
			RPS:             4,
			Burst:           2,
			MaxFailures:     5,
			OpenTimeoutSecs: 30,
		},
		Query: QueryConfig{
			Mode:  "recent",
			Limit: 500,
		},
		Trend: TrendConfig{
			Window: 12,
			Align:  "trailing",
		},
		Refresh: RefreshConfig{
			IntervalSecs: 10,
		},
		Server: ServerConfig{
			Listen:           "127.0.0.1:8090",
			ReadTimeoutSecs:  10,
			WriteTimeoutSecs: 15,
			IdleTimeoutSecs:  60,
		},
		Publish: PublishConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "gaugewatch:",
		},
		Archive: ArchiveConfig{
			Table:       "sensor_readings_clean",
			TimeoutSecs: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads the configuration at path, overlaying it on the defaults
// and then applying environment overrides. An empty path falls back to
// DefaultPath, and a missing file there is not an error; an explicitly
// named file must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Run on defaults plus environment.
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvStoreURL); v != "" {
		c.Store.URL = v
	}
	if v := os.Getenv(EnvStoreKey); v != "" {
		c.Store.APIKey = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Server.Listen = v
	}
}

// Validate ensures the configuration is valid and consistent.
func (c *Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Refresh.Validate(); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.Archive.Enabled && c.Archive.DSN == "" {
		return fmt.Errorf("archive: dsn required when enabled")
	}
	if c.Publish.Enabled && c.Publish.Addr == "" {
		return fmt.Errorf("publish: addr required when enabled")
	}

	// Query and trend settings validate together as the query key.
	if _, err := c.QueryKey(); err != nil {
		return err
	}
	return nil
}

// Validate ensures the store section is usable.
func (s *StoreConfig) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("url required (or set %s)", EnvStoreURL)
	}
	if s.Table == "" {
		return fmt.Errorf("table cannot be empty")
	}
	if s.TimeoutSecs <= 0 {
		return fmt.Errorf("timeout_secs must be positive, got %d", s.TimeoutSecs)
	}
	if s.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %d", s.RPS)
	}
	if s.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", s.Burst)
	}
	if s.MaxFailures < 1 {
		return fmt.Errorf("max_failures must be at least 1, got %d", s.MaxFailures)
	}
	return nil
}

// Validate keeps the refresh cadence inside the supported band.
func (r *RefreshConfig) Validate() error {
	if r.IntervalSecs < 5 || r.IntervalSecs > 60 {
		return fmt.Errorf("interval_secs %d outside [5, 60] range", r.IntervalSecs)
	}
	return nil
}

// Validate ensures the server section is usable.
func (s *ServerConfig) Validate() error {
	if s.Listen == "" {
		return fmt.Errorf("listen cannot be empty")
	}
	return nil
}

// Validate ensures the log level and format are known.
func (l *LogConfig) Validate() error {
	switch l.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %q", l.Level)
	}
	switch l.Format {
	case "auto", "json", "console":
	default:
		return fmt.Errorf("unknown format %q", l.Format)
	}
	return nil
}

// QueryKey builds the query key the refresh loop recomputes.
func (c *Config) QueryKey() (domain.QueryKey, error) {
	mode, err := domain.ParseQueryMode(c.Query.Mode)
	if err != nil {
		return domain.QueryKey{}, fmt.Errorf("query: %w", err)
	}
	align, err := domain.ParseAlign(c.Trend.Align)
	if err != nil {
		return domain.QueryKey{}, fmt.Errorf("trend: %w", err)
	}

	key := domain.QueryKey{
		Mode:     mode,
		Limit:    c.Query.Limit,
		SensorID: c.Query.Sensor,
		Window:   c.Trend.Window,
		Align:    align,
	}

	if mode == domain.ModeRange {
		start, err := time.Parse(time.RFC3339, c.Query.Start)
		if err != nil {
			return domain.QueryKey{}, fmt.Errorf("query: bad start %q: %w", c.Query.Start, err)
		}
		end, err := time.Parse(time.RFC3339, c.Query.End)
		if err != nil {
			return domain.QueryKey{}, fmt.Errorf("query: bad end %q: %w", c.Query.End, err)
		}
		key.Start = start
		key.End = end
	}

	if err := key.Validate(); err != nil {
		return domain.QueryKey{}, fmt.Errorf("query: %w", err)
	}
	return key, nil
}

// StoreTimeout returns the store request timeout as a time.Duration.
func (s *StoreConfig) StoreTimeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// OpenTimeout returns the circuit open interval as a time.Duration.
func (s *StoreConfig) OpenTimeout() time.Duration {
	return time.Duration(s.OpenTimeoutSecs) * time.Second
}

// Interval returns the refresh cadence as a time.Duration.
func (r *RefreshConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSecs) * time.Second
}

// ReadTimeout returns the HTTP read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSecs) * time.Second
}

// WriteTimeout returns the HTTP write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSecs) * time.Second
}

// IdleTimeout returns the HTTP idle timeout as a time.Duration.
func (s *ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSecs) * time.Second
}

// TTL returns the Redis key expiry as a time.Duration.
func (p *PublishConfig) TTL() time.Duration {
	return time.Duration(p.TTLSecs) * time.Second
}

// Timeout returns the archive statement timeout as a time.Duration.
func (a *ArchiveConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}
