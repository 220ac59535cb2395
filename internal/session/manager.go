// Package session owns the token lifecycle of one partner account.
//
// A Manager starts empty and is populated either from the credential store
// (Restore) or by a fresh login (AuthenticateInteractively, Store). Callers
// decide between a silent Refresh and a new login by inspecting
// CheckAccessValid and CheckRefreshValid; the Manager never refreshes on its
// own. Every successful change of the token state is written back to the
// credential store under the session's account name.
//
// A Manager is meant to be used by a single caller. Concurrent use must be
// serialized externally.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/florianilch/tolino-cloud/internal/authenticator"
	"github.com/florianilch/tolino-cloud/internal/partner"
	"github.com/florianilch/tolino-cloud/internal/tokensource"
	"github.com/florianilch/tolino-cloud/internal/tokenstore"
)

// Exchanger performs the refresh grant against the partner token endpoint.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (tokensource.Grant, error)
}

// Compile-time check to ensure tokensource.Exchanger satisfies Exchanger
var _ Exchanger = (*tokensource.Exchanger)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithAuthenticator sets the collaborator used by AuthenticateInteractively.
func WithAuthenticator(a authenticator.Authenticator) Option {
	return func(m *Manager) {
		m.authenticator = a
	}
}

// Manager holds the token state of one partner session.
type Manager struct {
	partner       partner.Config
	store         tokenstore.Store
	exchanger     Exchanger
	authenticator authenticator.Authenticator
	now           func() time.Time

	mu      sync.RWMutex
	account string
	tokens  *TokenState
}

// New creates an uninitialized Manager. No I/O is performed.
func New(p partner.Config, store tokenstore.Store, exchanger Exchanger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("missing credential store")
	}
	if exchanger == nil {
		return nil, errors.New("missing token exchanger")
	}

	m := &Manager{
		partner:   p,
		store:     store,
		exchanger: exchanger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Partner returns the partner this session belongs to.
func (m *Manager) Partner() partner.Config {
	return m.partner
}

// Restore loads the token state stored for account. It never fails because
// tokens are stale or expired; inspect State or the Check methods for that.
// A failed Restore leaves the current state untouched.
func (m *Manager) Restore(ctx context.Context, account string) error {
	if err := tokenstore.ValidateAccountName(account); err != nil {
		return err
	}

	cred, err := m.store.Load(ctx, account)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return fmt.Errorf("%w for account %q", ErrNoStoredCredential, account)
	}
	if err != nil {
		return fmt.Errorf("loading credential for account %q: %w", account, err)
	}

	tokens := stateFromCredential(cred)

	m.mu.Lock()
	m.account = account
	m.tokens = &tokens
	m.mu.Unlock()

	slog.DebugContext(ctx, "restored session",
		"partner", m.partner.Name,
		"account", account,
		"state", tokens.stateAt(m.now()).String(),
		"tokens", tokens,
	)
	return nil
}

// Store persists a grant obtained out of band, such as tokens copied from
// a browser session, under account and then installs it. If the save fails
// the current state is untouched.
func (m *Manager) Store(ctx context.Context, account string, grant tokensource.Grant, hardwareID string) error {
	if err := tokenstore.ValidateAccountName(account); err != nil {
		return err
	}
	result := authenticator.Result{Grant: grant, HardwareID: hardwareID}
	if err := result.Validate(); err != nil {
		return fmt.Errorf("invalid grant: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.commit(ctx, account, newTokenState(grant, hardwareID, m.now()))
}

// AuthenticateInteractively runs the configured authenticator and installs
// the resulting tokens under account. Any failure of the flow is reported
// as ErrLoginFailed; neither that nor a failed save changes the current
// state. The device id already registered for account is handed to the
// authenticator so a re-login keeps it.
func (m *Manager) AuthenticateInteractively(ctx context.Context, account, username, password string) error {
	if err := tokenstore.ValidateAccountName(account); err != nil {
		return err
	}
	if m.authenticator == nil {
		return fmt.Errorf("%w: no authenticator configured", ErrLoginFailed)
	}

	result, err := m.authenticator.Authenticate(ctx, authenticator.Credentials{
		Username:   username,
		Password:   password,
		HardwareID: m.knownHardwareID(ctx, account),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if err := result.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.commit(ctx, account, newTokenState(result.Grant, result.HardwareID, m.now())); err != nil {
		return err
	}
	slog.InfoContext(ctx, "logged in", "partner", m.partner.Name, "account", account)
	return nil
}

// Refresh exchanges the current refresh token for new tokens. Refresh
// tokens rotate, so the previous one must not be reused afterwards. On
// failure of the exchange the state is left untouched.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tokens == nil {
		return ErrNotInitialized
	}
	current := *m.tokens
	if !current.RefreshValid(m.now()) {
		return refreshExpired(current)
	}

	grant, err := m.exchanger.Refresh(ctx, current.RefreshToken)
	if err != nil {
		slog.WarnContext(ctx, "token refresh failed", "partner", m.partner.Name, "account", m.account, "error", err)
		return fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}
	if grant.AccessToken == "" || grant.RefreshToken == "" {
		return fmt.Errorf("%w: incomplete grant", ErrTokenExchangeFailed)
	}

	next := newTokenState(grant, current.HardwareID, m.now())
	if err := m.install(ctx, m.account, next); err != nil {
		return err
	}

	slog.InfoContext(ctx, "refreshed access token",
		"partner", m.partner.Name,
		"account", m.account,
		"access_expiry", next.AccessExpiry,
	)
	return nil
}

// commit persists tokens under account and installs them only once the
// save succeeded. Callers must hold m.mu.
func (m *Manager) commit(ctx context.Context, account string, tokens TokenState) error {
	if err := m.persist(ctx, account, tokens); err != nil {
		return err
	}
	m.account = account
	m.tokens = &tokens
	return nil
}

// install replaces the in-memory state and persists it. The in-memory state
// is kept even if persisting fails, since the previous refresh token is
// already revoked by the rotation. Callers must hold m.mu.
func (m *Manager) install(ctx context.Context, account string, tokens TokenState) error {
	m.account = account
	m.tokens = &tokens
	return m.persist(ctx, account, tokens)
}

func (m *Manager) persist(ctx context.Context, account string, tokens TokenState) error {
	if err := m.store.Save(ctx, tokens.credential(account, m.now())); err != nil {
		slog.ErrorContext(ctx, "failed to persist token state", "account", account, "error", err)
		return fmt.Errorf("%w for account %q: %w", ErrPersistFailed, account, err)
	}
	return nil
}

// knownHardwareID returns the device id held or stored for account, or "".
func (m *Manager) knownHardwareID(ctx context.Context, account string) string {
	m.mu.RLock()
	if m.account == account && m.tokens != nil {
		id := m.tokens.HardwareID
		m.mu.RUnlock()
		return id
	}
	m.mu.RUnlock()

	cred, err := m.store.Load(ctx, account)
	if err != nil {
		return ""
	}
	return cred.HardwareID
}

// Forget drops the in-memory tokens and deletes the stored record.
func (m *Manager) Forget(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.account == "" {
		return ErrNotInitialized
	}
	if err := m.store.Delete(ctx, m.account); err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
		return fmt.Errorf("deleting credential for account %q: %w", m.account, err)
	}
	m.account = ""
	m.tokens = nil
	return nil
}

// CheckAccessValid returns ErrAccessExpired if the access token has expired.
// It has no side effects.
func (m *Manager) CheckAccessValid() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tokens == nil {
		return ErrNotInitialized
	}
	if !m.tokens.AccessValid(m.now()) {
		return fmt.Errorf("%w at %s", ErrAccessExpired, m.tokens.AccessExpiry.Format(time.RFC3339))
	}
	return nil
}

// AccessCredentials checks the access token and returns it together with
// the hardware id, all from the same token state.
func (m *Manager) AccessCredentials() (accessToken, hardwareID string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tokens == nil {
		return "", "", ErrNotInitialized
	}
	if !m.tokens.AccessValid(m.now()) {
		return "", "", fmt.Errorf("%w at %s", ErrAccessExpired, m.tokens.AccessExpiry.Format(time.RFC3339))
	}
	return m.tokens.AccessToken, m.tokens.HardwareID, nil
}

// CheckRefreshValid returns ErrRefreshExpired if the refresh token has expired.
// It has no side effects.
func (m *Manager) CheckRefreshValid() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tokens == nil {
		return ErrNotInitialized
	}
	if !m.tokens.RefreshValid(m.now()) {
		return refreshExpired(*m.tokens)
	}
	return nil
}

func refreshExpired(tokens TokenState) error {
	return fmt.Errorf("%w at %s", ErrRefreshExpired, tokens.RefreshExpiry.Format(time.RFC3339))
}

// State classifies the current token state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tokens == nil {
		return StateUninitialized
	}
	return m.tokens.stateAt(m.now())
}

// Account returns the account name the session persists under.
func (m *Manager) Account() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

// AccessToken returns the current access token, or "" when uninitialized.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tokens == nil {
		return ""
	}
	return m.tokens.AccessToken
}

// HardwareID returns the device id of the session, or "" when uninitialized.
func (m *Manager) HardwareID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tokens == nil {
		return ""
	}
	return m.tokens.HardwareID
}

// AccessExpiry returns the absolute expiry of the access token, or the zero
// time when uninitialized.
func (m *Manager) AccessExpiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tokens == nil {
		return time.Time{}
	}
	return m.tokens.AccessExpiry
}

// RefreshExpiry returns the absolute expiry of the refresh token, or the zero
// time when uninitialized.
func (m *Manager) RefreshExpiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tokens == nil {
		return time.Time{}
	}
	return m.tokens.RefreshExpiry
}

// Snapshot returns a copy of the token state and whether there is one.
func (m *Manager) Snapshot() (TokenState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tokens == nil {
		return TokenState{}, false
	}
	return *m.tokens, true
}
