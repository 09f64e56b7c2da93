// Package config loads daemon configuration from an optional YAML file,
// CT_SECRETSD_* environment variables and command-line overrides, in that
// order of increasing precedence.
package config

import (
	"time"
)

// Config is the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	// Port 0 picks a free port.
	Port int `yaml:"port"`
	// AuthToken is the bearer token clients must send. Empty generates one at startup.
	AuthToken       string        `yaml:"auth_token"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects and configures the secret store.
type StorageConfig struct {
	// Backend is auto, keyring or file.
	Backend string `yaml:"backend"`
	// Dir holds the encrypted files and the state database. Empty means ~/.claude-throne.
	Dir string `yaml:"dir"`
	// Workers bounds concurrent OS keyring calls.
	Workers int `yaml:"workers"`
}

// ProxyConfig describes the supervised proxy process.
type ProxyConfig struct {
	// Command is a shell-style command line, e.g. "node index.js".
	Command string `yaml:"command"`
	// WorkDir is relative to the daemon executable unless absolute.
	WorkDir      string        `yaml:"work_dir"`
	DefaultPort  int           `yaml:"default_port"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

// ProvidersConfig controls upstream key validation.
type ProvidersConfig struct {
	ValidationTimeout time.Duration `yaml:"validation_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is json or text. Empty picks text on a terminal.
	Format string `yaml:"format"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}
