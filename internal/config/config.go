// Package config loads the server configuration from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

type LogConfig struct {
	File   string `yaml:"file"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type LoginConfig struct {
	Timeout         string `yaml:"timeout"`
	MaxAttempts     int    `yaml:"max-attempts"`
	Banner          string `yaml:"banner"`
	ProtocolVersion string `yaml:"protocol-version"`
}

type ConnectionConfig struct {
	ReadTimeout  string `yaml:"read-timeout"`
	QueueWait    string `yaml:"queue-wait"`
	WriteTimeout string `yaml:"write-timeout"`
}

type ServerConfig struct {
	AcceptTimeout string `yaml:"accept-timeout"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type Config struct {
	Listen     string           `yaml:"listen"`
	Port       int              `yaml:"port"`
	Database   string           `yaml:"database"`
	Start      string           `yaml:"start"`
	Log        LogConfig        `yaml:"log"`
	Login      LoginConfig      `yaml:"login"`
	Connection ConnectionConfig `yaml:"connection"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// parsed by Validate
	LoginTimeout  time.Duration `yaml:"-"`
	ReadTimeout   time.Duration `yaml:"-"`
	QueueWait     time.Duration `yaml:"-"`
	WriteTimeout  time.Duration `yaml:"-"`
	AcceptTimeout time.Duration `yaml:"-"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Login: LoginConfig{
			Timeout:         "2m",
			MaxAttempts:     3,
			Banner:          "Welcome to textserver.",
			ProtocolVersion: "1",
		},
		Connection: ConnectionConfig{
			ReadTimeout:  "1s",
			QueueWait:    "1s",
			WriteTimeout: "30s",
		},
		Server: ServerConfig{AcceptTimeout: "1s"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Addr is the TCP address the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen, c.Port)
}

// Validate checks required values and parses durations.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("a port between 1 and 65535 is required")
	}
	if c.Login.MaxAttempts <= 0 {
		return errors.New("login.max-attempts must be positive")
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"login.timeout", c.Login.Timeout, &c.LoginTimeout},
		{"connection.read-timeout", c.Connection.ReadTimeout, &c.ReadTimeout},
		{"connection.queue-wait", c.Connection.QueueWait, &c.QueueWait},
		{"connection.write-timeout", c.Connection.WriteTimeout, &c.WriteTimeout},
		{"server.accept-timeout", c.Server.AcceptTimeout, &c.AcceptTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
		*d.dst = v
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", s)
}
