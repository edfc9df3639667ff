// Package config loads webterm configuration from a YAML file and the
// environment, and installs the process-wide logger.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete webterm configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Client   ClientConfig    `yaml:"client"`
	Terminal TerminalOptions `yaml:"terminal"`
	Log      LogConfig       `yaml:"log"`
	SSH      SSHConfig       `yaml:"ssh"`
	Tail     TailConfig      `yaml:"tail"`
}

// ServerConfig configures `webterm serve`.
type ServerConfig struct {
	// Backend selects what each data connection runs: exec, ssh or tail.
	Backend        string   `yaml:"backend"`
	Addr           string   `yaml:"addr"`
	BasePath       string   `yaml:"base_path"`
	DBPath         string   `yaml:"db_path"`
	LogDir         string   `yaml:"log_dir"`
	Command        string   `yaml:"command"`
	Env            []string `yaml:"env"`
	WorkDir        string   `yaml:"work_dir"`
	MaxConnections int      `yaml:"max_connections"`
	BufferSize     int      `yaml:"buffer_size"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ClientConfig configures `webterm attach`.
type ClientConfig struct {
	ResizeDebounce time.Duration `yaml:"resize_debounce"`
	Banner         string        `yaml:"banner"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Backend:        BackendExec,
			Addr:           ":8080",
			BasePath:       "/",
			DBPath:         "data/sessions.db",
			LogDir:         "data/logs",
			Command:        defaultShell(),
			MaxConnections: 10,
			BufferSize:     64 * 1024,
		},
		Client: ClientConfig{
			ResizeDebounce: 100 * time.Millisecond,
		},
		Terminal: DefaultTerminalOptions(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c Config) Validate() error {
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative: %d", c.Server.MaxConnections)
	}
	if c.Server.BufferSize <= 0 {
		return fmt.Errorf("server.buffer_size must be positive: %d", c.Server.BufferSize)
	}
	if c.Client.ResizeDebounce < 0 {
		return fmt.Errorf("client.resize_debounce must not be negative: %s", c.Client.ResizeDebounce)
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Backend = getEnv("WEBTERM_BACKEND", c.Server.Backend)
	c.Server.Addr = getEnv("WEBTERM_ADDR", c.Server.Addr)
	c.Server.BasePath = getEnv("WEBTERM_BASE_PATH", c.Server.BasePath)
	c.Server.DBPath = getEnv("WEBTERM_DB_PATH", c.Server.DBPath)
	c.Server.LogDir = getEnv("WEBTERM_LOG_DIR", c.Server.LogDir)
	c.Server.Command = getEnv("WEBTERM_COMMAND", c.Server.Command)
	c.Log.Level = getEnv("WEBTERM_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("WEBTERM_LOG_FORMAT", c.Log.Format)

	if v := os.Getenv("WEBTERM_MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WEBTERM_MAX_CONNECTIONS: %w", err)
		}
		c.Server.MaxConnections = n
	}
	return nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
