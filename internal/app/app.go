package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/tolino-cloud/internal/authenticator"
	"github.com/florianilch/tolino-cloud/internal/cloud"
	"github.com/florianilch/tolino-cloud/internal/partner"
	"github.com/florianilch/tolino-cloud/internal/session"
	"github.com/florianilch/tolino-cloud/internal/tokensource"
)

// ErrPartnerNotConfigured is returned when no partner was selected.
var ErrPartnerNotConfigured = errors.New("partner not configured")

// Option configures an App.
type Option func(*options)

type options struct {
	authenticator authenticator.Authenticator
	manual        []authenticator.ManualOption
	now           func() time.Time
}

// WithAuthenticator replaces the interactive login flow.
func WithAuthenticator(a authenticator.Authenticator) Option {
	return func(o *options) {
		o.authenticator = a
	}
}

// WithManualLogin configures the default paste-the-redirect login flow.
func WithManualLogin(opts ...authenticator.ManualOption) Option {
	return func(o *options) {
		o.manual = append(o.manual, opts...)
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// App wires one partner account: credential store, token exchange,
// session and resource client.
type App struct {
	cfg     *Config
	partner partner.Config
	manager *session.Manager
	cloud   *cloud.Client
}

// New creates a new App instance. No I/O is performed apart from loading
// a partner file, if configured.
func New(cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Partner == "" {
		return nil, ErrPartnerNotConfigured
	}

	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	registry, err := cfg.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load partner registry: %w", err)
	}
	p, err := registry.Lookup(cfg.Partner)
	if err != nil {
		return nil, err
	}

	store, err := cfg.Storage.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	exchanger := tokensource.New(p, tokensource.WithTimeout(cfg.HTTP.Timeout))

	auth := o.authenticator
	if auth == nil {
		auth = authenticator.NewManual(exchanger, o.manual...)
	}

	manager, err := session.New(p, store, exchanger,
		session.WithClock(o.now),
		session.WithAuthenticator(auth),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &App{
		cfg:     cfg,
		partner: p,
		manager: manager,
		cloud:   cloud.New(p, manager, cloud.WithTimeout(cfg.HTTP.Timeout), cloud.WithClock(o.now)),
	}, nil
}

// Partner returns the selected partner.
func (a *App) Partner() partner.Config {
	return a.partner
}

// Account returns the configured account name.
func (a *App) Account() string {
	return a.cfg.Account
}

// Session returns a session whose access token is valid. A stored session
// is restored on first use and refreshed once if its access token expired.
// An expired refresh token can only be replaced by logging in again.
func (a *App) Session(ctx context.Context) (*session.Manager, error) {
	if err := a.restore(ctx); err != nil {
		return nil, err
	}

	switch state := a.manager.State(); state {
	case session.StateValid:
		return a.manager, nil
	case session.StateStale:
		slog.DebugContext(ctx, "access token expired, refreshing", "account", a.cfg.Account)
		if err := a.manager.Refresh(ctx); err != nil {
			if errors.Is(err, session.ErrPersistFailed) {
				// The new tokens are usable for this process.
				slog.WarnContext(ctx, "continuing with unsaved tokens", "error", err)
				return a.manager, nil
			}
			return nil, loginHint(err)
		}
		return a.manager, nil
	default:
		return nil, loginHint(a.manager.CheckRefreshValid())
	}
}

// restore loads the stored session unless one is already held.
func (a *App) restore(ctx context.Context) error {
	if a.manager.State() != session.StateUninitialized {
		return nil
	}
	if err := a.manager.Restore(ctx, a.cfg.Account); err != nil {
		return loginHint(err)
	}
	return nil
}

func loginHint(err error) error {
	switch {
	case errors.Is(err, session.ErrNoStoredCredential),
		errors.Is(err, session.ErrRefreshExpired),
		errors.Is(err, session.ErrTokenExchangeFailed):
		return fmt.Errorf("%w (log in again with 'tolino login')", err)
	default:
		return err
	}
}

// Login runs the interactive login and persists the new session.
func (a *App) Login(ctx context.Context, username, password string) error {
	return a.manager.AuthenticateInteractively(ctx, a.cfg.Account, username, password)
}

// StoreToken persists tokens obtained outside this program.
func (a *App) StoreToken(ctx context.Context, grant tokensource.Grant, hardwareID string) error {
	return a.manager.Store(ctx, a.cfg.Account, grant, hardwareID)
}

// Refresh restores the stored session and refreshes it regardless of the
// access token state.
func (a *App) Refresh(ctx context.Context) error {
	if err := a.restore(ctx); err != nil {
		return err
	}
	if err := a.manager.Refresh(ctx); err != nil {
		return loginHint(err)
	}
	return nil
}

// Status describes the stored session of the configured account.
type Status struct {
	Partner       string        `json:"partner"`
	Account       string        `json:"account"`
	State         session.State `json:"state"`
	HardwareID    string        `json:"hardware_id"`
	AccessExpiry  time.Time     `json:"access_expiry"`
	RefreshExpiry time.Time     `json:"refresh_expiry"`
}

// Status restores the stored session without refreshing it.
func (a *App) Status(ctx context.Context) (Status, error) {
	if err := a.restore(ctx); err != nil {
		return Status{}, err
	}
	return Status{
		Partner:       a.partner.Name,
		Account:       a.cfg.Account,
		State:         a.manager.State(),
		HardwareID:    a.manager.HardwareID(),
		AccessExpiry:  a.manager.AccessExpiry(),
		RefreshExpiry: a.manager.RefreshExpiry(),
	}, nil
}

// Forget deletes the stored session of the configured account.
func (a *App) Forget(ctx context.Context) error {
	if err := a.restore(ctx); err != nil {
		return err
	}
	return a.manager.Forget(ctx)
}

// Cloud returns the resource client after making sure the session is usable.
func (a *App) Cloud(ctx context.Context) (*cloud.Client, error) {
	if _, err := a.Session(ctx); err != nil {
		return nil, err
	}
	return a.cloud, nil
}

// UploadResult is the outcome of one file of a batch upload.
type UploadResult struct {
	Path          string `json:"path"`
	DeliverableID string `json:"deliverable_id,omitempty"`
	Err           error  `json:"-"`
}

// UploadAll uploads files concurrently. The session is prepared once up
// front; the token state is only read while the batch runs. Every file is
// attempted; the returned error joins all failures.
func (a *App) UploadAll(ctx context.Context, paths []string) ([]UploadResult, error) {
	client, err := a.Cloud(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]UploadResult, len(paths))

	var g errgroup.Group
	g.SetLimit(a.cfg.Upload.Workers)

	for i, path := range paths {
		g.Go(func() error {
			id, err := uploadFile(ctx, client, path)
			results[i] = UploadResult{Path: path, DeliverableID: id, Err: err}
			if err != nil {
				slog.ErrorContext(ctx, "upload failed", "path", path, "error", err)
			} else {
				slog.InfoContext(ctx, "uploaded", "path", path, "deliverable_id", id)
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Path, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

func uploadFile(ctx context.Context, client *cloud.Client, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	return client.Upload(ctx, filepath.Base(path), f)
}
