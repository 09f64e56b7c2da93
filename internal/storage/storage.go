package storage

import (
	"context"
	"fmt"
	"maps"
)

// Backend names
const (
	BackendKeyring = "keyring"
	BackendFile    = "file"
)

// SecretRecord is a provider's stored secret. It must never be logged.
type SecretRecord struct {
	ProviderID string
	APIKey     string
	Metadata   map[string]string
}

// Backend is the capability set shared by every secret store.
//
// Individual operation failures are absorbed by the backend: they are logged
// and reported as false or absent, never returned as errors.
type Backend interface {
	// Name returns BackendKeyring or BackendFile.
	Name() string

	// Store creates or overwrites the secret for providerID.
	Store(ctx context.Context, providerID, apiKey string, metadata map[string]string) bool

	// Get returns the API key for providerID.
	Get(ctx context.Context, providerID string) (string, bool)

	// GetRecord returns the API key together with its metadata.
	GetRecord(ctx context.Context, providerID string) (SecretRecord, bool)

	// Has reports whether a secret is stored for providerID.
	Has(ctx context.Context, providerID string) bool

	// Delete removes the secret. Deleting a missing secret succeeds.
	Delete(ctx context.Context, providerID string) bool

	// List returns provider ids with stored secrets. It is best-effort:
	// the keyring backend cannot enumerate and always returns an empty list.
	List(ctx context.Context) []string
}

// StorageError reports a backend that cannot be constructed. It is the only
// error a backend surfaces; once built, operations degrade instead of failing.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("cannot initialize encrypted storage: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("cannot initialize encrypted storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ObserverFunc is called after every backend operation with its outcome.
type ObserverFunc func(backend, op string, ok bool)

// Observe wraps b so that fn sees the outcome of each operation.
func Observe(b Backend, fn ObserverFunc) Backend {
	if fn == nil {
		return b
	}
	return &observed{Backend: b, fn: fn}
}

type observed struct {
	Backend
	fn ObserverFunc
}

func (o *observed) Store(ctx context.Context, providerID, apiKey string, metadata map[string]string) bool {
	ok := o.Backend.Store(ctx, providerID, apiKey, metadata)
	o.fn(o.Name(), "store", ok)
	return ok
}

func (o *observed) Get(ctx context.Context, providerID string) (string, bool) {
	key, ok := o.Backend.Get(ctx, providerID)
	o.fn(o.Name(), "get", ok)
	return key, ok
}

func (o *observed) GetRecord(ctx context.Context, providerID string) (SecretRecord, bool) {
	rec, ok := o.Backend.GetRecord(ctx, providerID)
	o.fn(o.Name(), "get", ok)
	return rec, ok
}

func (o *observed) Has(ctx context.Context, providerID string) bool {
	ok := o.Backend.Has(ctx, providerID)
	o.fn(o.Name(), "has", ok)
	return ok
}

func (o *observed) Delete(ctx context.Context, providerID string) bool {
	ok := o.Backend.Delete(ctx, providerID)
	o.fn(o.Name(), "delete", ok)
	return ok
}

func (o *observed) List(ctx context.Context) []string {
	ids := o.Backend.List(ctx)
	o.fn(o.Name(), "list", true)
	return ids
}

func cloneMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return map[string]string{}
	}
	return maps.Clone(m)
}
