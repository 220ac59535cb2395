package tokensource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/tolino-cloud/internal/partner"
)

// WebreaderOrigin is the web application the partner token endpoints expect
// requests to originate from.
const WebreaderOrigin = "https://webreader.mytolino.com/"

// DefaultTimeout bounds a single token request.
const DefaultTimeout = 30 * time.Second

// ErrInvalidResponse is returned when a token response lacks a required field.
var ErrInvalidResponse = errors.New("invalid token response")

// Grant is the result of a successful token exchange.
// Lifetimes are in seconds relative to the moment the response was received.
type Grant struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	RefreshExpiresIn int64
}

// Option configures an Exchanger.
type Option func(*exchangerConfig)

// exchangerConfig holds configuration for New.
type exchangerConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
}

// WithTransport sets a custom base transport for token requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *exchangerConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(timeout time.Duration) Option {
	return func(c *exchangerConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Exchanger mints tokens from a partner token endpoint.
type Exchanger struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// New creates an Exchanger for the given partner.
func New(p partner.Config, opts ...Option) *Exchanger {
	cfg := &exchangerConfig{
		baseTransport: http.DefaultTransport,
		timeout:       DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	oauth2Config := &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: "", // webreader is a public client
		Scopes:       strings.Fields(p.Scope),
		RedirectURL:  p.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.Endpoints.Auth,
			TokenURL:  p.Endpoints.Token,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	httpClient := &http.Client{
		Timeout: cfg.timeout,
		Transport: &tokenRequestTransport{
			base:  cfg.baseTransport,
			scope: p.Scope,
		},
	}

	return &Exchanger{
		config:     oauth2Config,
		httpClient: httpClient,
	}
}

// AuthCodeURL returns the authorization URL a browser has to visit to log in.
func (e *Exchanger) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return e.config.AuthCodeURL(state, opts...)
}

// Refresh exchanges a refresh token for a new access and refresh token.
// The refresh token passed in is invalid after a successful call.
func (e *Exchanger) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	if refreshToken == "" {
		return Grant{}, errors.New("refresh token cannot be empty")
	}

	// An empty access token forces the oauth2 token source to refresh.
	ts := e.config.TokenSource(e.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := ts.Token()
	if err != nil {
		return Grant{}, fmt.Errorf("refreshing token: %w", err)
	}
	return grantFromToken(token)
}

// Exchange trades an authorization code for tokens.
func (e *Exchanger) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (Grant, error) {
	if code == "" {
		return Grant{}, errors.New("authorization code cannot be empty")
	}

	token, err := e.config.Exchange(e.context(ctx), code, opts...)
	if err != nil {
		return Grant{}, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return grantFromToken(token)
}

// context injects the exchanger's HTTP client per oauth2's documented API.
func (e *Exchanger) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

// grantFromToken reads the fields from the raw response. oauth2 backfills a
// missing refresh token with the one that was sent, which would hide a
// response that did not rotate it.
func grantFromToken(token *oauth2.Token) (Grant, error) {
	refreshToken, _ := token.Extra("refresh_token").(string)
	if refreshToken == "" {
		return Grant{}, fmt.Errorf("%w: missing refresh_token", ErrInvalidResponse)
	}

	expiresIn, err := intExtra(token, "expires_in")
	if err != nil {
		return Grant{}, err
	}
	refreshExpiresIn, err := intExtra(token, "refresh_expires_in")
	if err != nil {
		return Grant{}, err
	}

	return Grant{
		AccessToken:      token.AccessToken,
		RefreshToken:     refreshToken,
		ExpiresIn:        expiresIn,
		RefreshExpiresIn: refreshExpiresIn,
	}, nil
}

// intExtra returns an integer field of the raw token response. JSON bodies
// decode numbers as float64, form bodies yield int64 or strings.
func intExtra(token *oauth2.Token, key string) (int64, error) {
	switch v := token.Extra(key).(type) {
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s is not an integer", ErrInvalidResponse, key)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidResponse, key, err)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidResponse, key, err)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidResponse, key)
	default:
		return 0, fmt.Errorf("%w: unexpected type %T for %s", ErrInvalidResponse, v, key)
	}
}
