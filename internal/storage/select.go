package storage

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/illarion/ctsecretsd/internal/keyring"
	"github.com/illarion/ctsecretsd/internal/worker"
)

// Selection modes
const (
	ModeAuto    = "auto"
	ModeKeyring = "keyring"
	ModeFile    = "file"
)

// SelectorOptions configures backend selection.
type SelectorOptions struct {
	// Mode is ModeAuto (probe, fall back to file), ModeKeyring (probe,
	// fail without fallback) or ModeFile (never probe). Empty means ModeAuto.
	Mode string

	// Dir is the encrypted-file storage directory. Empty means DefaultDir().
	Dir string

	// Probe checks the credential store. Nil means keyring.Probe.
	Probe func() error

	// Pool runs keyring calls. Nil gets a default-sized pool.
	Pool *worker.Pool

	Logger *slog.Logger
}

// Selector picks the storage backend once and hands out the same instance
// for the rest of the process lifetime.
type Selector struct {
	opts SelectorOptions

	once    sync.Once
	backend Backend
	err     error
}

// NewSelector creates a selector. Nothing is probed until Resolve.
func NewSelector(opts SelectorOptions) *Selector {
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	if opts.Probe == nil {
		opts.Probe = keyring.Probe
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Selector{opts: opts}
}

// Resolve returns the selected backend, choosing it on the first call.
// Later calls return the same backend (or the same error) without probing again.
func (s *Selector) Resolve() (Backend, error) {
	s.once.Do(func() {
		s.backend, s.err = s.choose()
	})
	return s.backend, s.err
}

func (s *Selector) choose() (Backend, error) {
	log := s.opts.Logger

	switch s.opts.Mode {
	case ModeFile:
		b, err := s.fileBackend()
		if err != nil {
			return nil, err
		}
		log.Info("using encrypted file storage", "backend", BackendFile)
		return b, nil

	case ModeAuto, ModeKeyring:
		probeErr := s.opts.Probe()
		if probeErr == nil {
			log.Info("using OS keyring for secure storage", "backend", BackendKeyring)
			return NewKeyringBackend(s.opts.Pool, log), nil
		}
		if s.opts.Mode == ModeKeyring {
			return nil, fmt.Errorf("keyring not available: %w", probeErr)
		}

		b, err := s.fileBackend()
		if err != nil {
			return nil, err
		}
		log.Warn("keyring not available, falling back to encrypted file storage",
			"backend", BackendFile,
			"error", probeErr,
		)
		return b, nil

	default:
		return nil, fmt.Errorf("unknown storage mode %q", s.opts.Mode)
	}
}

func (s *Selector) fileBackend() (*FileBackend, error) {
	dir := s.opts.Dir
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, &StorageError{Op: "resolve directory", Err: err}
		}
	}
	return NewFileBackend(dir, s.opts.Logger)
}
