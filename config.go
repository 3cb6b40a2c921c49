package taskwire

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envNamespace prefixes every environment variable, e.g. TASKWIRE_WS_URL.
const envNamespace = "TASKWIRE"

// Config holds endpoint and tuning settings, loaded from the environment.
type Config struct {
	WebSocketURL         string        `envconfig:"WS_URL" default:"ws://localhost:8080/ws"`
	APIBaseURL           string        `envconfig:"API_URL" default:"http://localhost:8080"`
	RequestTimeout       time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ReplyTimeout         time.Duration `envconfig:"REPLY_TIMEOUT" default:"60s"`
	ReconnectInterval    time.Duration `envconfig:"RECONNECT_INTERVAL" default:"1s"`
	ReconnectMaxInterval time.Duration `envconfig:"RECONNECT_MAX_INTERVAL" default:"10s"`
	ReconnectMaxAttempts int           `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	LogLevel             string        `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig reads the configuration from TASKWIRE_* environment variables,
// falling back to defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envNamespace, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps the configured log level onto slog's levels.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ConnOptions derives connection manager options from the configuration.
func (c *Config) ConnOptions() ConnOptions {
	return ConnOptions{
		URL:                  c.WebSocketURL,
		ReconnectInterval:    c.ReconnectInterval,
		ReconnectMaxInterval: c.ReconnectMaxInterval,
		ReconnectMaxAttempts: c.ReconnectMaxAttempts,
	}
}
