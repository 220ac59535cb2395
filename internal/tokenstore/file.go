package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const fileExt = ".json"

// FileStore keeps one JSON document per account in a directory.
// Writes use temp file + rename for crash safety.
type FileStore struct {
	dir string
}

// Compile-time check to ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir, creating it with 0700
// permissions if it doesn't exist.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		dir: dir,
	}, nil
}

func (f *FileStore) path(account string) string {
	return filepath.Join(f.dir, account+fileExt)
}

// Load returns the stored credential. Returns error if the file doesn't exist,
// can't be decoded, or has insecure permissions.
func (f *FileStore) Load(ctx context.Context, account string) (StoredCredential, error) {
	if err := ctx.Err(); err != nil {
		return StoredCredential{}, err
	}
	if err := ValidateAccountName(account); err != nil {
		return StoredCredential{}, err
	}

	path := f.path(account)

	// Check file permissions before reading
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return StoredCredential{}, notFound(account)
	}
	if err != nil {
		return StoredCredential{}, err
	}
	if info.Mode().Perm() != 0600 {
		return StoredCredential{}, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", path, info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return StoredCredential{}, err
	}

	var cred StoredCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return StoredCredential{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cred, nil
}

// Save atomically writes the credential using temp file + rename.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileStore) Save(ctx context.Context, cred StoredCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateAccountName(cred.AccountName); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}

	// Create secure temp file in same directory for atomic rename
	tempFile, err := os.CreateTemp(f.dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if _, err := tempFile.Write(append(data, '\n')); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	return os.Rename(tempName, f.path(cred.AccountName))
}

// Delete removes the account's file.
func (f *FileStore) Delete(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateAccountName(account); err != nil {
		return err
	}

	err := os.Remove(f.path(account))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(account)
	}
	return err
}

// List returns the account names that have a file in the directory.
func (f *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		accounts = append(accounts, strings.TrimSuffix(name, fileExt))
	}
	slices.Sort(accounts)
	return accounts, nil
}
