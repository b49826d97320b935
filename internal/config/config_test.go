package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floodline/gaugewatch/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gaugewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  url: https://abc.supabase.co
  api_key: secret
query:
  limit: 200
refresh:
  interval_secs: 30
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://abc.supabase.co", cfg.Store.URL)
	assert.Equal(t, 200, cfg.Query.Limit)
	assert.Equal(t, 30*time.Second, cfg.Refresh.Interval())

	// Untouched sections keep their defaults.
	assert.Equal(t, "sensor_data", cfg.Store.Table)
	assert.Equal(t, 12, cfg.Trend.Window)
	assert.Equal(t, "127.0.0.1:8090", cfg.Server.Listen)
	assert.Equal(t, "gaugewatch:", cfg.Publish.KeyPrefix)
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	old := DefaultPath
	DefaultPath = filepath.Join(t.TempDir(), "nope.yaml")
	defer func() { DefaultPath = old }()

	t.Setenv(EnvStoreURL, "https://env.supabase.co")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.supabase.co", cfg.Store.URL)
	assert.Equal(t, 500, cfg.Query.Limit)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
store:
  url: https://file.supabase.co
  api_key: from-file
server:
  listen: 0.0.0.0:9999
`)
	t.Setenv(EnvStoreKey, "from-env")
	t.Setenv(EnvListen, "127.0.0.1:7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Store.APIKey)
	assert.Equal(t, "127.0.0.1:7070", cfg.Server.Listen)
	assert.Equal(t, "https://file.supabase.co", cfg.Store.URL)
}

func TestLoad_RejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "store: [not a map")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidate_RejectsOutOfBandValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing url", func(c *Config) { c.Store.URL = "" }, "url required"},
		{"interval too low", func(c *Config) { c.Refresh.IntervalSecs = 4 }, "outside [5, 60]"},
		{"interval too high", func(c *Config) { c.Refresh.IntervalSecs = 61 }, "outside [5, 60]"},
		{"window too big", func(c *Config) { c.Trend.Window = 101 }, "window"},
		{"window zero", func(c *Config) { c.Trend.Window = 0 }, "window"},
		{"zero limit", func(c *Config) { c.Query.Limit = 0 }, "limit"},
		{"bad mode", func(c *Config) { c.Query.Mode = "latest" }, "unknown query mode"},
		{"bad align", func(c *Config) { c.Trend.Align = "centered" }, "unknown align"},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "unknown level"},
		{"archive without dsn", func(c *Config) { c.Archive.Enabled = true }, "dsn required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Store.URL = "https://abc.supabase.co"
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestQueryKey_RangeMode(t *testing.T) {
	cfg := Default()
	cfg.Store.URL = "https://abc.supabase.co"
	cfg.Query.Mode = "range"
	cfg.Query.Start = "2026-03-01T00:00:00Z"
	cfg.Query.End = "2026-03-02T00:00:00Z"
	cfg.Query.Sensor = "boiler-1"

	key, err := cfg.QueryKey()
	require.NoError(t, err)
	assert.Equal(t, domain.ModeRange, key.Mode)
	assert.Equal(t, "boiler-1", key.SensorID)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), key.Start)
	assert.Equal(t, 12, key.Window)
}

func TestQueryKey_RangeNeedsBothBounds(t *testing.T) {
	cfg := Default()
	cfg.Store.URL = "https://abc.supabase.co"
	cfg.Query.Mode = "range"
	cfg.Query.Start = "2026-03-01T00:00:00Z"

	_, err := cfg.QueryKey()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad end")
}

func TestQueryKey_RangeEndBeforeStart(t *testing.T) {
	cfg := Default()
	cfg.Store.URL = "https://abc.supabase.co"
	cfg.Query.Mode = "range"
	cfg.Query.Start = "2026-03-02T00:00:00Z"
	cfg.Query.End = "2026-03-01T00:00:00Z"

	_, err := cfg.QueryKey()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before start")
}
