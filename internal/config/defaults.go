package config

import "time"

// Default values for configuration fields.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 0
	DefaultShutdownTimeout = 10 * time.Second

	DefaultStorageBackend = "auto"
	DefaultStorageWorkers = 4

	DefaultProxyCommand      = "node index.js"
	DefaultProxyWorkDir      = ".."
	DefaultProxyPort         = 3000
	DefaultProxyStartTimeout = 15 * time.Second
	DefaultProxyPollInterval = 100 * time.Millisecond
	DefaultProxyStopTimeout  = 5 * time.Second

	DefaultValidationTimeout = 10 * time.Second

	DefaultLogLevel = "info"

	DefaultMetricsEnabled = true
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults. Booleans are
// left alone since false is a meaningful value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.Workers == 0 {
		cfg.Storage.Workers = DefaultStorageWorkers
	}

	if cfg.Proxy.Command == "" {
		cfg.Proxy.Command = DefaultProxyCommand
	}
	if cfg.Proxy.WorkDir == "" {
		cfg.Proxy.WorkDir = DefaultProxyWorkDir
	}
	if cfg.Proxy.DefaultPort == 0 {
		cfg.Proxy.DefaultPort = DefaultProxyPort
	}
	if cfg.Proxy.StartTimeout == 0 {
		cfg.Proxy.StartTimeout = DefaultProxyStartTimeout
	}
	if cfg.Proxy.PollInterval == 0 {
		cfg.Proxy.PollInterval = DefaultProxyPollInterval
	}
	if cfg.Proxy.StopTimeout == 0 {
		cfg.Proxy.StopTimeout = DefaultProxyStopTimeout
	}

	if cfg.Providers.ValidationTimeout == 0 {
		cfg.Providers.ValidationTimeout = DefaultValidationTimeout
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
}
