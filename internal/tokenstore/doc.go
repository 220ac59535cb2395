// Package tokenstore provides durable per-account storage for tolino token material.
//
// Supports three storage backends with different security and deployment tradeoffs:
//   - File: One JSON document per account with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Memory: Process-local storage for explicitly ephemeral sessions
//
// Records are keyed by a caller-chosen account name. Saving under an existing
// name replaces the previous record.
package tokenstore
