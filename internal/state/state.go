// Package state keeps per-provider bookkeeping that is not secret, such as
// the outcome of the most recent key validation. It never holds API keys.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// FileName is the database file inside the data directory
const FileName = "state.db"

// DirPerm is used when Open has to create the data directory
const DirPerm = 0700

// Bucket names
var (
	TestsBucket = []byte("tests") // provider id -> last TestRecord
)

// TestRecord is the outcome of the last validation of a provider key
type TestRecord struct {
	Success   bool      `json:"success"`
	LatencyMS float64   `json:"latency_ms"`
	TestedAt  time.Time `json:"tested_at"`
	Status    string    `json:"status,omitempty"`
}

// DB provides BBolt-based storage for provider state
type DB struct {
	db *bolt.DB
}

// Open opens or creates the state database in dir, creating dir if needed.
// The keyring backend never touches the data directory, so on a fresh
// account nothing else has created it.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(TestsBucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", TestsBucket, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

// ErrNoDatabase is returned by OpenReadOnly when no database exists yet
var ErrNoDatabase = errors.New("state database does not exist")

// OpenReadOnly opens an existing state database without creating anything.
func OpenReadOnly(dir string) (*DB, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoDatabase
		}
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return &DB{db: db}, nil
}

// Path returns the database file path
func (s *DB) Path() string {
	return s.db.Path()
}

// Close closes the database
func (s *DB) Close() error {
	return s.db.Close()
}

// RecordTest replaces the stored test outcome for providerID
func (s *DB) RecordTest(providerID string, rec TestRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(TestsBucket).Put([]byte(providerID), data)
	})
}

// LastTest returns the last test outcome, or nil if the provider was never tested
func (s *DB) LastTest(providerID string) (*TestRecord, error) {
	var rec *TestRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(TestsBucket).Get([]byte(providerID))
		if data == nil {
			return nil
		}
		rec = &TestRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read test record for %s: %w", providerID, err)
	}
	return rec, nil
}

// AllTests returns every stored test outcome keyed by provider id
func (s *DB) AllTests() (map[string]TestRecord, error) {
	out := make(map[string]TestRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(TestsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec TestRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt test record for %s: %w", k, err)
			}
			out[string(k)] = rec
			return nil
		})
	})
	return out, err
}

// Forget removes all state for providerID
func (s *DB) Forget(providerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(TestsBucket).Delete([]byte(providerID))
	})
}
