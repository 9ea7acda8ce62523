package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Scheduling.LeadTimeDays)
	assert.Equal(t, 480.0, cfg.Scheduling.DefaultDailyMinutes)
	assert.Equal(t, 60, cfg.Scheduling.LookaheadDays)
	assert.Empty(t, cfg.NATS.URL, "events are only logged by default")
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "bad port", modify: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "missing db path", modify: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "negative lead time", modify: func(c *Config) { c.Scheduling.LeadTimeDays = -1 }, wantErr: true},
		{name: "lead time past window", modify: func(c *Config) { c.Scheduling.LeadTimeDays = 60 }, wantErr: true},
		{name: "unknown timezone", modify: func(c *Config) { c.Scheduling.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "zero monitor interval", modify: func(c *Config) { c.Monitor.Interval = 0 }, wantErr: true},
		{name: "disabled monitor ignores interval", modify: func(c *Config) {
			c.Monitor.Enabled = false
			c.Monitor.Interval = 0
		}},
		{name: "bad log level", modify: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
		{name: "bad log format", modify: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// GIVEN: a partial config file
	path := filepath.Join(t.TempDir(), "bakery.yaml")
	content := `
server:
  port: 9090
scheduling:
  lead_time_days: 2
  default_daily_minutes: 420.5
  timezone: Europe/Paris
monitor:
  enabled: false
  interval: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	// WHEN: it is loaded
	cfg, err := LoadFromFile(path)

	// THEN: file values win, the rest keeps defaults
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Scheduling.LeadTimeDays)
	assert.Equal(t, 420.5, cfg.Scheduling.DefaultDailyMinutes)
	assert.Equal(t, "Europe/Paris", cfg.Scheduling.Location().String())
	assert.False(t, cfg.Monitor.Enabled)
	assert.Equal(t, time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, "./bakery.db", cfg.Database.Path)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bakery.yaml")
	cfg := DefaultConfig()
	cfg.NATS.URL = "nats://localhost:4222"

	require.NoError(t, cfg.SaveToFile(path))
	loaded, err := LoadFromFile(path)

	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoader_FileZeroValues(t *testing.T) {
	// GIVEN: a file asking for same-day baking and no default capacity
	path := filepath.Join(t.TempDir(), "bakery.yaml")
	content := "scheduling:\n  lead_time_days: 0\n  default_daily_minutes: 0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	l := NewLoader(nil)
	l.getenv = func(string) string { return "" }

	// WHEN: loading
	cfg, err := l.Load(path)

	// THEN: the explicit zeros survive and unset keys keep their defaults
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Scheduling.LeadTimeDays)
	assert.Equal(t, 0.0, cfg.Scheduling.DefaultDailyMinutes)
	assert.Equal(t, DefaultConfig().Scheduling.LookaheadDays, cfg.Scheduling.LookaheadDays)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoader_EnvOverrides(t *testing.T) {
	// GIVEN: a config file and environment overrides
	path := filepath.Join(t.TempDir(), "bakery.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644))
	env := map[string]string{
		EnvPort:    "7070",
		EnvDBPath:  ":memory:",
		EnvNATSURL: "nats://env:4222",
	}
	l := NewLoader(nil)
	l.getenv = func(k string) string { return env[k] }

	// WHEN: loading
	cfg, err := l.Load(path)

	// THEN: environment wins over the file
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
}

func TestLoader_BadEnvPort(t *testing.T) {
	l := NewLoader(nil)
	l.getenv = func(k string) string {
		if k == EnvPort {
			return "eighty"
		}
		return ""
	}

	_, err := l.Load("")
	assert.Error(t, err)
}

func TestSchedulingSettings(t *testing.T) {
	s := DefaultConfig().Scheduling.Settings()

	assert.Equal(t, 3, s.LeadTimeDays)
	assert.Equal(t, "480", s.DefaultWorkMinutes.String())
	assert.Len(t, s.DefaultTimeSlots, 3)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
