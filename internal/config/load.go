package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "CT_SECRETSD_"

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled}}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies CT_SECRETSD_SECTION_FIELD variables. A value that
// does not parse is an error rather than being silently ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("SERVER_HOST", &cfg.Server.Host)
	num("SERVER_PORT", &cfg.Server.Port)
	str("AUTH_TOKEN", &cfg.Server.AuthToken)
	dur("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("STORAGE_DIR", &cfg.Storage.Dir)
	num("STORAGE_WORKERS", &cfg.Storage.Workers)

	str("PROXY_COMMAND", &cfg.Proxy.Command)
	str("PROXY_WORK_DIR", &cfg.Proxy.WorkDir)
	num("PROXY_DEFAULT_PORT", &cfg.Proxy.DefaultPort)
	dur("PROXY_START_TIMEOUT", &cfg.Proxy.StartTimeout)
	dur("PROXY_STOP_TIMEOUT", &cfg.Proxy.StopTimeout)
	dur("PROXY_POLL_INTERVAL", &cfg.Proxy.PollInterval)

	dur("PROVIDERS_VALIDATION_TIMEOUT", &cfg.Providers.ValidationTimeout)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	flag("METRICS_ENABLED", &cfg.Metrics.Enabled)

	return errors.Join(errs...)
}

// ProxyCommand splits the configured proxy command line into argv.
func (c *Config) ProxyCommand() ([]string, error) {
	argv, err := shellquote.Split(c.Proxy.Command)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("invalid proxy command: empty")
	}
	return argv, nil
}
