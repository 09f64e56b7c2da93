// Package crypto provides cryptographic operations for ct-secretsd.
//
// Encryption uses AES-256-GCM with:
//   - 32-byte key derived from the storage master key via HKDF-SHA256
//   - 12-byte random nonce per encryption operation
//   - Additional data binding each ciphertext to its owner (the provider id)
//
// Output layout is nonce || ciphertext || tag. Any modification of the
// blob, or decryption with a different key or additional data, fails
// with ErrAuthFailed.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call Encryptor.Destroy() when done with encryption operations
package crypto
