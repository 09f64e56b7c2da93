package keyring

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const (
	ServiceName = "claude-throne"

	probeService = "claude-throne-test"
	probeAccount = "test-account"
)

// ErrNotFound is returned when no entry exists for an account
var ErrNotFound = keyring.ErrNotFound

// KeyAccount returns the account name holding a provider's API key
func KeyAccount(providerID string) string {
	return providerID + "-api-key"
}

// MetadataAccount returns the account name holding a provider's metadata
func MetadataAccount(providerID string) string {
	return providerID + "-metadata"
}

// Set stores a secret in the OS keyring
func Set(account, secret string) error {
	return keyring.Set(ServiceName, account, secret)
}

// Get retrieves a secret from the OS keyring
func Get(account string) (string, error) {
	return keyring.Get(ServiceName, account)
}

// Delete removes a secret from the OS keyring
func Delete(account string) error {
	return keyring.Delete(ServiceName, account)
}

// IsNotFound reports whether err means the entry does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, keyring.ErrNotFound)
}

// Probe checks that the OS keyring is usable by writing and deleting a
// throwaway entry
func Probe() error {
	if err := keyring.Set(probeService, probeAccount, "test"); err != nil {
		return err
	}
	return keyring.Delete(probeService, probeAccount)
}
