package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/zalando/go-keyring"
)

// indexUser is the keyring entry listing the stored account names.
// The keyring API cannot enumerate the entries of a service.
const indexUser = "accounts"

// KeyringStore provides OS-native secure credential storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// Each account is stored as a JSON document under the account name.
type KeyringStore struct {
	service string

	// indexMu serializes read-modify-write cycles of the account index.
	indexMu sync.Mutex
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the OS-native credential storage
// (macOS Keychain, Windows Credential Manager, etc.) using the given service identifier.
func NewKeyringStore(service string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	return &KeyringStore{
		service: service,
	}, nil
}

func (k *KeyringStore) user(account string) string {
	return "account:" + account
}

// Load returns the credential from the system keyring.
func (k *KeyringStore) Load(ctx context.Context, account string) (StoredCredential, error) {
	if err := ctx.Err(); err != nil {
		return StoredCredential{}, err
	}
	if err := ValidateAccountName(account); err != nil {
		return StoredCredential{}, err
	}

	secret, err := keyring.Get(k.service, k.user(account))
	if errors.Is(err, keyring.ErrNotFound) {
		return StoredCredential{}, notFound(account)
	}
	if err != nil {
		return StoredCredential{}, err
	}

	var cred StoredCredential
	if err := json.Unmarshal([]byte(secret), &cred); err != nil {
		return StoredCredential{}, fmt.Errorf("decoding keyring entry for service %s, account %s: %w", k.service, account, err)
	}
	return cred, nil
}

// Save persists the credential to the system keyring, overwriting any existing value.
func (k *KeyringStore) Save(ctx context.Context, cred StoredCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateAccountName(cred.AccountName); err != nil {
		return err
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	if err := keyring.Set(k.service, k.user(cred.AccountName), string(data)); err != nil {
		return err
	}

	return k.updateIndex(func(accounts []string) []string {
		if slices.Contains(accounts, cred.AccountName) {
			return accounts
		}
		return append(accounts, cred.AccountName)
	})
}

// Delete removes the account's entry from the system keyring.
func (k *KeyringStore) Delete(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateAccountName(account); err != nil {
		return err
	}

	err := keyring.Delete(k.service, k.user(account))
	if errors.Is(err, keyring.ErrNotFound) {
		return notFound(account)
	}
	if err != nil {
		return err
	}

	return k.updateIndex(func(accounts []string) []string {
		return slices.DeleteFunc(accounts, func(a string) bool { return a == account })
	})
}

// List returns the account names recorded in the keyring index.
func (k *KeyringStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.indexMu.Lock()
	defer k.indexMu.Unlock()
	return k.readIndex()
}

func (k *KeyringStore) readIndex() ([]string, error) {
	raw, err := keyring.Get(k.service, indexUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var accounts []string
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		return nil, fmt.Errorf("decoding keyring account index: %w", err)
	}
	slices.Sort(accounts)
	return accounts, nil
}

func (k *KeyringStore) updateIndex(update func([]string) []string) error {
	k.indexMu.Lock()
	defer k.indexMu.Unlock()

	accounts, err := k.readIndex()
	if err != nil {
		return err
	}
	accounts = update(accounts)
	slices.Sort(accounts)

	data, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	return keyring.Set(k.service, indexUser, string(data))
}
