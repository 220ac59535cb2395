package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Load and Delete when no record exists for an account.
var ErrNotFound = errors.New("no stored credential")

// StoredCredential is the persisted form of a token session.
type StoredCredential struct {
	AccountName   string    `json:"account_name"`
	RefreshToken  string    `json:"refresh_token"`
	AccessToken   string    `json:"access_token"`
	HardwareID    string    `json:"hardware_id"`
	AccessExpiry  time.Time `json:"access_expiry"`
	RefreshExpiry time.Time `json:"refresh_expiry"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Store reads and writes credentials to persistent storage.
type Store interface {
	// Save persists the credential under its account name, replacing any existing record.
	Save(ctx context.Context, cred StoredCredential) error

	// Load returns the credential stored for the account. Returns an error
	// wrapping ErrNotFound if there is none.
	Load(ctx context.Context, account string) (StoredCredential, error)

	// Delete removes the record for the account.
	Delete(ctx context.Context, account string) error

	// List returns the stored account names in sorted order.
	List(ctx context.Context) ([]string, error)
}

// ValidateAccountName rejects names that cannot be used as storage keys.
func ValidateAccountName(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("account name cannot be empty")
	}
	if strings.ContainsAny(account, `/\`) || account == "." || account == ".." {
		return fmt.Errorf("invalid account name %q", account)
	}
	return nil
}

func notFound(account string) error {
	return fmt.Errorf("%w for account %q", ErrNotFound, account)
}
