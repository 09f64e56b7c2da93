package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/illarion/ctsecretsd/internal/crypto"
	"github.com/illarion/ctsecretsd/internal/security"
)

const (
	KeyFileName    = ".encryption_key"
	RecordSuffix   = ".key"
	DirPermSecure  = 0700 // Directory: owner rwx only
	FilePermSecure = 0600 // File: owner rw only

	recordVersion = 1
	recordKeyInfo = "ct-secretsd record v1"
)

var (
	ErrKeyFileCorrupt = errors.New("encryption key file is corrupt")
	ErrRecordVersion  = errors.New("unsupported record version")
)

// fileRecord is the plaintext layout of an encrypted record
type fileRecord struct {
	APIKey   string            `json:"api_key"`
	Metadata map[string]string `json:"metadata"`
}

// FileBackend stores each provider's secret as an encrypted file.
type FileBackend struct {
	root   *security.Root
	enc    *crypto.Encryptor
	logger *slog.Logger
}

// DefaultDir returns the per-user storage directory (~/.claude-throne).
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude-throne"), nil
}

// NewFileBackend opens the encrypted store in dir, creating the directory and
// the master key on first use. Any failure returns a *StorageError: without a
// usable key no record can be read.
func NewFileBackend(dir string, logger *slog.Logger) (*FileBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	root, err := security.OpenRoot(dir, DirPermSecure)
	if err != nil {
		return nil, &StorageError{Op: "open directory", Path: dir, Err: err}
	}

	master, err := loadOrCreateKey(root)
	if err != nil {
		root.Close()
		return nil, &StorageError{Op: "manage encryption key", Path: filepath.Join(root.Path(), KeyFileName), Err: err}
	}
	defer crypto.ClearBytes(master)

	recordKey, err := crypto.DeriveKey(master, recordKeyInfo)
	if err != nil {
		root.Close()
		return nil, &StorageError{Op: "derive record key", Err: err}
	}

	enc, err := crypto.NewEncryptor(recordKey)
	if err != nil {
		root.Close()
		return nil, &StorageError{Op: "create encryptor", Err: err}
	}

	logger.Debug("initialized encrypted file storage", "path", root.Path())
	return &FileBackend{root: root, enc: enc, logger: logger}, nil
}

// loadOrCreateKey returns the master key, generating it if the key file is absent
func loadOrCreateKey(root *security.Root) ([]byte, error) {
	key, err := root.ReadFile(KeyFileName)
	if err == nil {
		if len(key) != crypto.KeySize {
			crypto.ClearBytes(key)
			return nil, fmt.Errorf("%w: %d bytes, want %d", ErrKeyFileCorrupt, len(key), crypto.KeySize)
		}
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key, err = crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := root.CreateExclusive(KeyFileName, key, FilePermSecure); err != nil {
		crypto.ClearBytes(key)
		if errors.Is(err, fs.ErrExist) {
			// Another process created it first
			return loadOrCreateKey(root)
		}
		return nil, err
	}
	return key, nil
}

// Close releases the directory handle and clears key material.
func (f *FileBackend) Close() error {
	f.enc.Destroy()
	return f.root.Close()
}

// Dir returns the storage directory.
func (f *FileBackend) Dir() string {
	return f.root.Path()
}

// Name implements Backend.
func (f *FileBackend) Name() string {
	return BackendFile
}

func recordName(providerID string) string {
	return providerID + RecordSuffix
}

// Store implements Backend.
func (f *FileBackend) Store(_ context.Context, providerID, apiKey string, metadata map[string]string) bool {
	if err := security.ValidateProviderID(providerID); err != nil {
		f.logger.Error("refusing to store key", "provider_id", providerID, "error", err)
		return false
	}

	plaintext, err := json.Marshal(fileRecord{APIKey: apiKey, Metadata: cloneMetadata(metadata)})
	if err != nil {
		f.logger.Error("failed to encode record", "provider_id", providerID, "error", err)
		return false
	}
	defer crypto.ClearBytes(plaintext)

	sealed, err := f.enc.Encrypt(plaintext, []byte(providerID))
	if err != nil {
		f.logger.Error("failed to encrypt record", "provider_id", providerID, "error", err)
		return false
	}

	blob := make([]byte, 0, 1+len(sealed))
	blob = append(blob, recordVersion)
	blob = append(blob, sealed...)

	if err := f.root.WriteFile(recordName(providerID), blob, FilePermSecure); err != nil {
		f.logger.Error("failed to write encrypted key", "provider_id", providerID, "error", err)
		return false
	}

	f.logger.Info("stored encrypted API key", "provider_id", providerID, "backend", BackendFile)
	return true
}

// readRecord loads and decrypts a record
func (f *FileBackend) readRecord(providerID string) (*fileRecord, error) {
	blob, err := f.root.ReadFile(recordName(providerID))
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 || blob[0] != recordVersion {
		return nil, ErrRecordVersion
	}

	plaintext, err := f.enc.Decrypt(blob[1:], []byte(providerID))
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(plaintext)

	var rec fileRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

// GetRecord implements Backend. Decryption or decoding failures are logged
// and reported as absent.
func (f *FileBackend) GetRecord(_ context.Context, providerID string) (SecretRecord, bool) {
	if err := security.ValidateProviderID(providerID); err != nil {
		return SecretRecord{}, false
	}

	rec, err := f.readRecord(providerID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return SecretRecord{}, false
		}
		f.logger.Error("failed to retrieve encrypted key", "provider_id", providerID, "error", err)
		return SecretRecord{}, false
	}
	if rec.APIKey == "" {
		return SecretRecord{}, false
	}

	f.logger.Debug("retrieved encrypted API key", "provider_id", providerID)
	return SecretRecord{
		ProviderID: providerID,
		APIKey:     rec.APIKey,
		Metadata:   cloneMetadata(rec.Metadata),
	}, true
}

// Get implements Backend.
func (f *FileBackend) Get(ctx context.Context, providerID string) (string, bool) {
	rec, ok := f.GetRecord(ctx, providerID)
	return rec.APIKey, ok
}

// Has implements Backend. It checks for the record file without decrypting it.
func (f *FileBackend) Has(_ context.Context, providerID string) bool {
	if err := security.ValidateProviderID(providerID); err != nil {
		return false
	}
	return f.root.Exists(recordName(providerID))
}

// Delete implements Backend.
func (f *FileBackend) Delete(_ context.Context, providerID string) bool {
	if err := security.ValidateProviderID(providerID); err != nil {
		return false
	}

	if err := f.root.Remove(recordName(providerID)); err != nil {
		f.logger.Error("failed to delete encrypted key", "provider_id", providerID, "error", err)
		return false
	}

	f.logger.Info("deleted encrypted key file", "provider_id", providerID, "backend", BackendFile)
	return true
}

// List implements Backend by scanning the directory for record files.
func (f *FileBackend) List(_ context.Context) []string {
	ids, err := f.root.ListSuffix(RecordSuffix)
	if err != nil {
		f.logger.Error("failed to list providers", "error", err)
		return []string{}
	}
	if ids == nil {
		return []string{}
	}
	return ids
}
