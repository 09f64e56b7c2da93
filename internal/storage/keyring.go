package storage

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/illarion/ctsecretsd/internal/keyring"
	"github.com/illarion/ctsecretsd/internal/security"
	"github.com/illarion/ctsecretsd/internal/worker"
)

// KeyringBackend stores secrets in the OS credential store.
type KeyringBackend struct {
	pool   *worker.Pool
	logger *slog.Logger

	set func(account, secret string) error
}

// NewKeyringBackend creates a keyring backend. Blocking vault calls are
// dispatched to pool; a nil pool gets a default-sized one.
func NewKeyringBackend(pool *worker.Pool, logger *slog.Logger) *KeyringBackend {
	if pool == nil {
		pool = worker.New(worker.DefaultSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("initialized keyring storage", "service", keyring.ServiceName)
	return &KeyringBackend{pool: pool, logger: logger, set: keyring.Set}
}

// Name implements Backend.
func (k *KeyringBackend) Name() string {
	return BackendKeyring
}

// Store implements Backend. The key is written before its metadata, so a
// failed key write leaves no new entry behind. Storing without metadata
// clears any previous metadata entry.
func (k *KeyringBackend) Store(ctx context.Context, providerID, apiKey string, metadata map[string]string) bool {
	if err := security.ValidateProviderID(providerID); err != nil {
		k.logger.Error("refusing to store key", "provider_id", providerID, "error", err)
		return false
	}

	err := k.pool.Do(ctx, func() error {
		var data []byte
		if len(metadata) > 0 {
			var err error
			if data, err = json.Marshal(metadata); err != nil {
				return err
			}
		}
		if err := k.set(keyring.KeyAccount(providerID), apiKey); err != nil {
			return err
		}
		if data != nil {
			return k.set(keyring.MetadataAccount(providerID), string(data))
		}
		if err := keyring.Delete(keyring.MetadataAccount(providerID)); err != nil && !keyring.IsNotFound(err) {
			k.logger.Debug("failed to clear stale metadata", "provider_id", providerID, "error", err)
		}
		return nil
	})
	if err != nil {
		k.logger.Error("keyring error storing key", "provider_id", providerID, "error", err)
		return false
	}

	k.logger.Info("stored API key", "provider_id", providerID, "backend", BackendKeyring)
	return true
}

// Get implements Backend.
func (k *KeyringBackend) Get(ctx context.Context, providerID string) (string, bool) {
	if err := security.ValidateProviderID(providerID); err != nil {
		return "", false
	}

	key, err := worker.Run(ctx, k.pool, func() (string, error) {
		return keyring.Get(keyring.KeyAccount(providerID))
	})
	switch {
	case keyring.IsNotFound(err):
		k.logger.Debug("no API key found", "provider_id", providerID)
		return "", false
	case err != nil:
		k.logger.Error("keyring error retrieving key", "provider_id", providerID, "error", err)
		return "", false
	case key == "":
		return "", false
	}

	k.logger.Debug("retrieved API key", "provider_id", providerID)
	return key, true
}

// GetRecord implements Backend. A missing or unreadable metadata entry
// yields empty metadata.
func (k *KeyringBackend) GetRecord(ctx context.Context, providerID string) (SecretRecord, bool) {
	key, ok := k.Get(ctx, providerID)
	if !ok {
		return SecretRecord{}, false
	}

	rec := SecretRecord{ProviderID: providerID, APIKey: key, Metadata: map[string]string{}}
	raw, err := worker.Run(ctx, k.pool, func() (string, error) {
		return keyring.Get(keyring.MetadataAccount(providerID))
	})
	if err != nil {
		if !keyring.IsNotFound(err) {
			k.logger.Warn("keyring error retrieving metadata", "provider_id", providerID, "error", err)
		}
		return rec, true
	}
	if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
		k.logger.Warn("corrupt metadata entry", "provider_id", providerID, "error", err)
		rec.Metadata = map[string]string{}
	}
	return rec, true
}

// Has implements Backend.
func (k *KeyringBackend) Has(ctx context.Context, providerID string) bool {
	_, ok := k.Get(ctx, providerID)
	return ok
}

// Delete implements Backend. The metadata entry is optional, so any error
// removing it is ignored; a missing key entry counts as deleted.
func (k *KeyringBackend) Delete(ctx context.Context, providerID string) bool {
	if err := security.ValidateProviderID(providerID); err != nil {
		return false
	}

	err := k.pool.Do(ctx, func() error {
		_ = keyring.Delete(keyring.MetadataAccount(providerID))
		if err := keyring.Delete(keyring.KeyAccount(providerID)); err != nil && !keyring.IsNotFound(err) {
			return err
		}
		return nil
	})
	if err != nil {
		k.logger.Error("keyring error deleting key", "provider_id", providerID, "error", err)
		return false
	}

	k.logger.Info("deleted API key", "provider_id", providerID, "backend", BackendKeyring)
	return true
}

// List implements Backend. OS credential stores cannot enumerate the
// accounts of a service, so the result is always empty; callers check
// known provider ids with Has instead.
func (k *KeyringBackend) List(ctx context.Context) []string {
	k.logger.Debug("keyring backend cannot enumerate providers")
	return []string{}
}
