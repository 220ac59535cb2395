package tokenstore

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore keeps credentials in process memory only.
// Selecting it is how callers ask for an ephemeral session.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]StoredCredential
}

// Compile-time check to ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]StoredCredential)}
}

func (m *MemoryStore) Load(ctx context.Context, account string) (StoredCredential, error) {
	if err := ctx.Err(); err != nil {
		return StoredCredential{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[account]
	if !ok {
		return StoredCredential{}, notFound(account)
	}
	return cred, nil
}

func (m *MemoryStore) Save(ctx context.Context, cred StoredCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateAccountName(cred.AccountName); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.AccountName] = cred
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[account]; !ok {
		return notFound(account)
	}
	delete(m.creds, account)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.creds)), nil
}
