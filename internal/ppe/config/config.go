package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL   string        `yaml:"base_url,omitempty"`
	SessionID string        `yaml:"session_id,omitempty"`
	Timeouts  TimeoutConfig `yaml:"timeouts,omitempty"`
}

// TimeoutConfig holds configurable timeout durations for various operations.
// All durations are strings parseable by time.ParseDuration (e.g. "5m", "30s").
type TimeoutConfig struct {
	HTTP         string `yaml:"http,omitempty"`          // HTTP client timeout (default: 5m)
	Watch        string `yaml:"watch,omitempty"`         // job watch timeout (default: 30m)
	PollInterval string `yaml:"poll_interval,omitempty"` // status poll interval (default: 2s)
}

const (
	DefaultBaseURL = "http://localhost:8080"

	// Environment variable names for configuration overrides
	EnvBaseURL   = "PPE_BASE_URL"
	EnvSessionID = "PPE_SESSION_ID"

	DefaultHTTPTimeout  = 5 * time.Minute
	DefaultWatchTimeout = 30 * time.Minute
	DefaultPollInterval = 2 * time.Second
)

func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ppe"), nil
}

func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func Load() (*Config, error) {
	cfg := &Config{BaseURL: DefaultBaseURL}

	path, err := Path()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	// Environment variables take precedence over config file
	if envURL := os.Getenv(EnvBaseURL); envURL != "" {
		cfg.BaseURL = envURL
	}
	if envSession := os.Getenv(EnvSessionID); envSession != "" {
		cfg.SessionID = envSession
	}

	return cfg, nil
}

func (c *Config) Save() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := Path()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// GetTimeout returns the configured timeout for the given operation, or the default if not set.
// Valid names: "http", "watch", "poll_interval"
func (c *Config) GetTimeout(name string) time.Duration {
	var configValue string
	var defaultValue time.Duration

	switch name {
	case "http":
		configValue = c.Timeouts.HTTP
		defaultValue = DefaultHTTPTimeout
	case "watch":
		configValue = c.Timeouts.Watch
		defaultValue = DefaultWatchTimeout
	case "poll_interval":
		configValue = c.Timeouts.PollInterval
		defaultValue = DefaultPollInterval
	default:
		return DefaultHTTPTimeout
	}

	if configValue == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(configValue)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
