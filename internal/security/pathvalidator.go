package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrEmptyName   = errors.New("empty name not allowed")
	ErrInvalidName = errors.New("invalid name")
)

// providerIDRegex validates provider ids.
// Ids start with a lowercase letter or digit, followed by lowercase letters,
// digits, underscores or hyphens, at most 63 characters in total.
var providerIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidateProviderID checks that id can be used as a file name component
// and as part of a credential store account name.
func ValidateProviderID(id string) error {
	if id == "" {
		return ErrEmptyName
	}
	if !providerIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidName, id)
	}
	return nil
}

// Root confines file operations to a single directory using Go's os.Root API.
// Names passed to its methods are plain file names; anything that is not
// local to the directory is rejected before it reaches the file system.
type Root struct {
	root *os.Root
	path string
}

// OpenRoot creates dir with perm if it does not exist and opens it as a Root.
func OpenRoot(dir string, perm os.FileMode) (*Root, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, perm); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open root: %w", err)
	}

	return &Root{
		root: root,
		path: absPath,
	}, nil
}

// Path returns the absolute directory path.
func (r *Root) Path() string {
	return r.path
}

// Close releases the directory handle.
func (r *Root) Close() error {
	if r.root != nil {
		return r.root.Close()
	}
	return nil
}

// validateName rejects names that are empty, contain separators or are not local.
func validateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ReadFile reads a file inside the root.
func (r *Root) ReadFile(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return r.root.ReadFile(name)
}

// WriteFile atomically replaces name with data. The content is written to a
// temporary sibling first and renamed into place.
func (r *Root) WriteFile(name string, data []byte, perm os.FileMode) error {
	if err := validateName(name); err != nil {
		return err
	}

	tmp := name + ".tmp"
	if err := r.root.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file, enforce ours
	if err := r.root.Chmod(tmp, perm); err != nil {
		_ = r.root.Remove(tmp)
		return err
	}
	if err := r.root.Rename(tmp, name); err != nil {
		_ = r.root.Remove(tmp)
		return err
	}
	return nil
}

// CreateExclusive writes data to name only if it does not already exist.
func (r *Root) CreateExclusive(name string, data []byte, perm os.FileMode) error {
	if err := validateName(name); err != nil {
		return err
	}

	f, err := r.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = r.root.Remove(name)
		return err
	}
	if err := f.Close(); err != nil {
		_ = r.root.Remove(name)
		return err
	}
	return nil
}

// Remove deletes name. A missing file is not an error.
func (r *Root) Remove(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := r.root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether name exists as a regular file.
func (r *Root) Exists(name string) bool {
	if err := validateName(name); err != nil {
		return false
	}
	info, err := r.root.Stat(name)
	return err == nil && info.Mode().IsRegular()
}

// ListSuffix returns the names of regular files ending in suffix, with the
// suffix stripped, sorted.
func (r *Root) ListSuffix(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(r.root.FS(), ".")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, suffix) || len(name) == len(suffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, suffix))
	}
	sort.Strings(names)
	return names, nil
}
