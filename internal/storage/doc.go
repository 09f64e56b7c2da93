// Package storage provides the secret stores for ct-secretsd.
//
// Two backends implement Backend:
//   - KeyringBackend: the OS credential store (Keychain, Windows Credential
//     Manager, Secret Service) under service "claude-throne". Each provider
//     uses the accounts "{id}-api-key" and "{id}-metadata". Vault calls run on a
//     bounded worker pool. The vault cannot enumerate entries, so List is
//     always empty.
//   - FileBackend: one AES-256-GCM encrypted file per provider in a private
//     directory, keyed by a random master key in ".encryption_key". Losing
//     the key file makes every record unrecoverable.
//
// Selector probes the keyring once and falls back to the file backend when
// the probe fails. The choice holds for the lifetime of the process.
package storage
