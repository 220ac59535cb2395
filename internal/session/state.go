package session

import (
	"log/slog"
	"math"
	"time"

	"github.com/florianilch/tolino-cloud/internal/tokensource"
	"github.com/florianilch/tolino-cloud/internal/tokenstore"
)

// State is the lifecycle state of a Manager.
type State int

const (
	// StateUninitialized means no token state has been populated yet.
	StateUninitialized State = iota
	// StateValid means the access token can be used.
	StateValid
	// StateStale means the access token expired but a refresh is possible.
	StateStale
	// StateExpired means both tokens expired. Only a new interactive
	// authentication recovers the session.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateValid:
		return "valid"
	case StateStale:
		return "stale"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TokenState is the token material of one session. Expiry instants are
// absolute and computed once when the tokens are received.
type TokenState struct {
	AccessToken   string
	RefreshToken  string
	HardwareID    string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}

// newTokenState converts a grant received at receivedAt.
func newTokenState(grant tokensource.Grant, hardwareID string, receivedAt time.Time) TokenState {
	return TokenState{
		AccessToken:   grant.AccessToken,
		RefreshToken:  grant.RefreshToken,
		HardwareID:    hardwareID,
		AccessExpiry:  expiryAt(receivedAt, grant.ExpiresIn),
		RefreshExpiry: expiryAt(receivedAt, grant.RefreshExpiresIn),
	}
}

const maxLifetimeSeconds = math.MaxInt64 / int64(time.Second)

// expiryAt returns receivedAt + seconds, clamped to what time.Duration can hold.
func expiryAt(receivedAt time.Time, seconds int64) time.Time {
	seconds = max(min(seconds, maxLifetimeSeconds), -maxLifetimeSeconds)
	return receivedAt.Add(time.Duration(seconds) * time.Second).UTC()
}

// AccessValid reports whether the access token has not expired at now.
// A token whose expiry equals now is still valid.
func (s TokenState) AccessValid(now time.Time) bool {
	return !now.After(s.AccessExpiry)
}

// RefreshValid reports whether the refresh token has not expired at now.
func (s TokenState) RefreshValid(now time.Time) bool {
	return !now.After(s.RefreshExpiry)
}

// stateAt classifies the token state at now.
func (s TokenState) stateAt(now time.Time) State {
	switch {
	case s.AccessValid(now):
		return StateValid
	case s.RefreshValid(now):
		return StateStale
	default:
		return StateExpired
	}
}

// LogValue implements slog.LogValuer and never emits token values.
func (s TokenState) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("has_access_token", s.AccessToken != ""),
		slog.Bool("has_refresh_token", s.RefreshToken != ""),
		slog.Time("access_expiry", s.AccessExpiry),
		slog.Time("refresh_expiry", s.RefreshExpiry),
	)
}

func (s TokenState) credential(account string, capturedAt time.Time) tokenstore.StoredCredential {
	return tokenstore.StoredCredential{
		AccountName:   account,
		RefreshToken:  s.RefreshToken,
		AccessToken:   s.AccessToken,
		HardwareID:    s.HardwareID,
		AccessExpiry:  s.AccessExpiry,
		RefreshExpiry: s.RefreshExpiry,
		CapturedAt:    capturedAt.UTC(),
	}
}

func stateFromCredential(cred tokenstore.StoredCredential) TokenState {
	return TokenState{
		AccessToken:   cred.AccessToken,
		RefreshToken:  cred.RefreshToken,
		HardwareID:    cred.HardwareID,
		AccessExpiry:  cred.AccessExpiry,
		RefreshExpiry: cred.RefreshExpiry,
	}
}
