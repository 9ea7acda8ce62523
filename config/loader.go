package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

const (
	// ProjectConfigFile is picked up from the working directory when no
	// path is given
	ProjectConfigFile = "bakery.yaml"

	EnvPort     = "BAKERY_PORT"
	EnvDBPath   = "BAKERY_DB"
	EnvNATSURL  = "BAKERY_NATS_URL"
	EnvLogLevel = "BAKERY_LOG_LEVEL"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	getenv func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, getenv: os.Getenv}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. Config file (path, or bakery.yaml in the working directory if present)
// 3. BAKERY_* environment variables
//
// A file is decoded over the defaults, so keys it sets win even when zero.
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config", slog.String("path", path))
		config = fileConfig
	} else if fileConfig, err := LoadFromFile(ProjectConfigFile); err == nil {
		l.logger.Debug("Loaded project config", slog.String("path", ProjectConfigFile))
		config = fileConfig
	} else if _, statErr := os.Stat(ProjectConfigFile); statErr == nil {
		l.logger.Warn("Failed to load project config", slog.String("path", ProjectConfigFile), slog.String("error", err.Error()))
	}

	if err := l.applyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) applyEnv(c *Config) error {
	if v := l.getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v := l.getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := l.getenv(EnvNATSURL); v != "" {
		c.NATS.URL = v
	}
	if v := l.getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}
