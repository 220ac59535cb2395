package session

import "errors"

var (
	// ErrNoStoredCredential is returned by Restore when the account has no
	// record. Recover by authenticating interactively.
	ErrNoStoredCredential = errors.New("no stored credential")

	// ErrNotInitialized is returned when an operation needs token state
	// and neither Restore nor an authentication has populated it.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrAccessExpired means the access token is past its expiry. Recover
	// by calling Refresh.
	ErrAccessExpired = errors.New("access token expired")

	// ErrRefreshExpired means the refresh token is past its expiry. Only a
	// new interactive authentication can recover.
	ErrRefreshExpired = errors.New("refresh token expired")

	// ErrTokenExchangeFailed is returned when the refresh exchange fails in
	// transport or is rejected by the server.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrLoginFailed is returned when the interactive authenticator cannot
	// complete the flow.
	ErrLoginFailed = errors.New("login failed")

	// ErrPersistFailed is returned when new token state was obtained but
	// could not be written to the credential store.
	ErrPersistFailed = errors.New("persisting token state failed")
)
