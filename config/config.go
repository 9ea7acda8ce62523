// Package config provides configuration loading for the bakery scheduler.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/bakery-scheduler/capacity"
)

// Config represents the complete scheduler configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	NATS       NATSConfig       `yaml:"nats"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins for CORS (default: any)
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig configures SQLite storage
type DatabaseConfig struct {
	// Path is the SQLite file (":memory:" for a throwaway database)
	Path string `yaml:"path"`
}

// SchedulingConfig seeds the store's settings on first start and fixes the
// calendar the scheduler works in.
type SchedulingConfig struct {
	LeadTimeDays        int      `yaml:"lead_time_days"`
	DefaultDailyMinutes float64  `yaml:"default_daily_minutes"`
	LookaheadDays       int      `yaml:"lookahead_days"`
	DefaultTimeSlots    []string `yaml:"default_time_slots"`
	// Timezone is an IANA name; "today" is computed in it
	Timezone string `yaml:"timezone"`
}

// MonitorConfig configures the overbooking monitor
type MonitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// NATSConfig configures schedule event publishing
type NATSConfig struct {
	// URL is the NATS server URL (empty = events are only logged)
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// LogConfig configures slog output
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Path: "./bakery.db",
		},
		Scheduling: SchedulingConfig{
			LeadTimeDays:        3,
			DefaultDailyMinutes: 480,
			LookaheadDays:       capacity.DefaultLookaheadDays,
			DefaultTimeSlots:    []string{"09:00-12:00", "12:00-15:00", "15:00-18:00"},
			Timezone:            "UTC",
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
		},
		NATS: NATSConfig{
			URL:     "",
			Subject: "bakery.schedule",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Scheduling.LeadTimeDays < 0 {
		return fmt.Errorf("scheduling.lead_time_days must not be negative")
	}
	if c.Scheduling.DefaultDailyMinutes < 0 {
		return fmt.Errorf("scheduling.default_daily_minutes must not be negative")
	}
	if c.Scheduling.LookaheadDays <= 0 {
		return fmt.Errorf("scheduling.lookahead_days must be positive")
	}
	if c.Scheduling.LeadTimeDays >= c.Scheduling.LookaheadDays {
		return fmt.Errorf("scheduling.lead_time_days must be less than lookahead_days")
	}
	if _, err := time.LoadLocation(c.Scheduling.Timezone); err != nil {
		return fmt.Errorf("scheduling.timezone: %w", err)
	}
	if c.Monitor.Enabled && c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive when the monitor is enabled")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Settings converts the scheduling section to store settings.
func (s SchedulingConfig) Settings() capacity.Settings {
	return capacity.Settings{
		LeadTimeDays:       s.LeadTimeDays,
		DefaultWorkMinutes: capacity.NewMinutes(s.DefaultDailyMinutes),
		DefaultTimeSlots:   append([]string(nil), s.DefaultTimeSlots...),
	}
}

// Location resolves the timezone, falling back to UTC.
func (s SchedulingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NewLogger builds the process logger.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
}
