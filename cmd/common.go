package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/illarion/ctsecretsd/internal/config"
	"github.com/illarion/ctsecretsd/internal/logging"
	"github.com/illarion/ctsecretsd/internal/proxy"
	"github.com/illarion/ctsecretsd/internal/storage"
	"github.com/illarion/ctsecretsd/internal/worker"
)

// Exit codes
const (
	ExitError   = 1
	ExitConfig  = 2
	ExitStorage = 3
)

// loadConfig reads the config file and environment, then applies the global
// flag overrides and validates again.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger installs the configured logger. Logs go to stderr so that
// command output on stdout stays clean.
func setupLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Writer: os.Stderr,
	})
}

// newSelector builds the storage selector from cfg.
func newSelector(cfg *config.Config, logger *slog.Logger) *storage.Selector {
	return storage.NewSelector(storage.SelectorOptions{
		Mode:   cfg.Storage.Backend,
		Dir:    cfg.Storage.Dir,
		Pool:   worker.New(int64(cfg.Storage.Workers)),
		Logger: logger,
	})
}

// storageDir returns the directory holding encrypted files and state.
func storageDir(cfg *config.Config) (string, error) {
	if cfg.Storage.Dir != "" {
		return cfg.Storage.Dir, nil
	}
	return storage.DefaultDir()
}

func closeBackend(b storage.Backend) {
	if c, ok := b.(io.Closer); ok {
		c.Close()
	}
}

// HandleError prints err and exits with a code matching its kind
func HandleError(err error) {
	var (
		validationErr config.ValidationError
		storageErr    *storage.StorageError
	)

	switch {
	case errors.As(err, &validationErr):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Check the config file and %s* environment variables\n", config.EnvPrefix)
		os.Exit(ExitConfig)
	case errors.As(err, &storageErr):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		if errors.Is(err, storage.ErrKeyFileCorrupt) {
			fmt.Fprintf(os.Stderr, "The encryption key file is damaged; stored keys cannot be recovered\n")
		}
		os.Exit(ExitStorage)
	case errors.Is(err, proxy.ErrStartFailed):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Check proxy.command and proxy.work_dir\n")
		os.Exit(ExitError)
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}
