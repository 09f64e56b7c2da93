package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 0 {
		t.Errorf("Port = %d, want 0", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "auto" {
		t.Errorf("Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Proxy.DefaultPort != 3000 {
		t.Errorf("DefaultPort = %d", cfg.Proxy.DefaultPort)
	}
	if cfg.Proxy.StartTimeout != 15*time.Second || cfg.Proxy.StopTimeout != 5*time.Second {
		t.Errorf("Proxy timeouts = %s/%s", cfg.Proxy.StartTimeout, cfg.Proxy.StopTimeout)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics should be enabled by default")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Proxy.Command != DefaultProxyCommand {
		t.Errorf("Command = %q", cfg.Proxy.Command)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8765
  auth_token: "file-token"
storage:
  backend: file
  dir: /tmp/ct-secrets
proxy:
  command: "node 'proxy server.js' --quiet"
  start_timeout: 30s
logging:
  level: debug
  format: text
metrics:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8765 || cfg.Server.AuthToken != "file-token" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Storage.Backend != "file" || cfg.Storage.Dir != "/tmp/ct-secrets" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Proxy.StartTimeout != 30*time.Second {
		t.Errorf("StartTimeout = %s", cfg.Proxy.StartTimeout)
	}
	// Defaults still fill untouched fields
	if cfg.Proxy.StopTimeout != DefaultProxyStopTimeout {
		t.Errorf("StopTimeout = %s", cfg.Proxy.StopTimeout)
	}
	if cfg.Proxy.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %s", cfg.Proxy.PollInterval)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics should be disabled by file")
	}

	argv, err := cfg.ProxyCommand()
	if err != nil {
		t.Fatalf("ProxyCommand failed: %v", err)
	}
	if !slices.Equal(argv, []string{"node", "proxy server.js", "--quiet"}) {
		t.Errorf("argv = %q", argv)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Workers != DefaultStorageWorkers {
		t.Errorf("Workers = %d", cfg.Storage.Workers)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "server: [nope")); err == nil {
		t.Error("Expected error for invalid YAML")
	}
	if _, err := Load(writeConfig(t, "server:\n  hostname: x\n")); err == nil {
		t.Error("Expected error for unknown field")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: keyring\n")
	t.Setenv("CT_SECRETSD_STORAGE_BACKEND", "file")
	t.Setenv("CT_SECRETSD_AUTH_TOKEN", "env-token")
	t.Setenv("CT_SECRETSD_SERVER_PORT", "9001")
	t.Setenv("CT_SECRETSD_PROXY_STOP_TIMEOUT", "2s")
	t.Setenv("CT_SECRETSD_PROXY_POLL_INTERVAL", "250ms")
	t.Setenv("CT_SECRETSD_METRICS_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Env should override file, got %q", cfg.Storage.Backend)
	}
	if cfg.Server.AuthToken != "env-token" || cfg.Server.Port != 9001 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Proxy.StopTimeout != 2*time.Second {
		t.Errorf("StopTimeout = %s", cfg.Proxy.StopTimeout)
	}
	if cfg.Proxy.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %s", cfg.Proxy.PollInterval)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics should be disabled by env")
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("CT_SECRETSD_SERVER_PORT", "eighty")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "CT_SECRETSD_SERVER_PORT") {
		t.Errorf("Expected error naming the variable, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"public host", func(c *Config) { c.Server.Host = "0.0.0.0" }, "server.host"},
		{"port range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"backend", func(c *Config) { c.Storage.Backend = "vault" }, "storage.backend"},
		{"workers", func(c *Config) { c.Storage.Workers = -1 }, "storage.workers"},
		{"unbalanced quote", func(c *Config) { c.Proxy.Command = `node "index.js` }, "proxy.command"},
		{"empty command", func(c *Config) { c.Proxy.Command = "   " }, "proxy.command"},
		{"proxy port", func(c *Config) { c.Proxy.DefaultPort = 0 }, "proxy.default_port"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected error on %s, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidationError_Multiple(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "example.com"
	cfg.Storage.Backend = "tape"

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "2 errors") {
		t.Errorf("Expected multi-error message, got %v", err)
	}
}
