package config

import (
	"fmt"
	"strings"

	"github.com/illarion/ctsecretsd/internal/logging"
)

// FieldError is a validation error for one configuration field.
type FieldError struct {
	// Field is the dotted path, e.g. "server.host".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field error found.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks cfg and returns a ValidationError listing all problems.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// The daemon serves API keys; it must never listen beyond loopback
	if cfg.Server.Host != DefaultHost {
		add("server.host", "only %s binding is supported", DefaultHost)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add("server.port", "must be between 0 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout", "must not be negative")
	}

	switch cfg.Storage.Backend {
	case "auto", "keyring", "file":
	default:
		add("storage.backend", "must be auto, keyring or file, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Workers < 1 {
		add("storage.workers", "must be at least 1, got %d", cfg.Storage.Workers)
	}

	if _, err := cfg.ProxyCommand(); err != nil {
		add("proxy.command", "%v", err)
	}
	if cfg.Proxy.DefaultPort < 1 || cfg.Proxy.DefaultPort > 65535 {
		add("proxy.default_port", "must be between 1 and 65535, got %d", cfg.Proxy.DefaultPort)
	}
	if cfg.Proxy.StartTimeout < 0 || cfg.Proxy.StopTimeout < 0 || cfg.Proxy.PollInterval < 0 {
		add("proxy", "timeouts must not be negative")
	}

	if cfg.Providers.ValidationTimeout < 0 {
		add("providers.validation_timeout", "must not be negative")
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	switch cfg.Logging.Format {
	case "", logging.FormatJSON, logging.FormatText:
	default:
		add("logging.format", "must be json or text, got %q", cfg.Logging.Format)
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
