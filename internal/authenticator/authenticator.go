// Package authenticator defines the boundary to interactive login flows.
//
// Partner storefronts guard their login pages with bot protection, so the
// flows that mint the first refresh token are inherently environment
// coupled. They live behind the narrow Authenticator interface and can be
// swapped without touching the token lifecycle.
package authenticator

import (
	"context"
	"errors"

	"github.com/florianilch/tolino-cloud/internal/tokensource"
)

// Credentials are the partner account's login details.
type Credentials struct {
	Username string
	Password string
	// HardwareID is the device id already registered for the account, if any.
	HardwareID string
}

// Result is what a completed login yields.
type Result struct {
	Grant tokensource.Grant
	// HardwareID identifies the registered device on every resource request.
	HardwareID string
}

// Validate reports missing fields.
func (r Result) Validate() error {
	var errs []error
	if r.Grant.AccessToken == "" {
		errs = append(errs, errors.New("missing access token"))
	}
	if r.Grant.RefreshToken == "" {
		errs = append(errs, errors.New("missing refresh token"))
	}
	if r.HardwareID == "" {
		errs = append(errs, errors.New("missing hardware id"))
	}
	return errors.Join(errs...)
}

// Authenticator completes a partner login and the authorization code exchange.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (Result, error)
}

// Func adapts a function to the Authenticator interface.
type Func func(ctx context.Context, creds Credentials) (Result, error)

// Compile-time check to ensure Func implements Authenticator
var _ Authenticator = Func(nil)

// Authenticate calls f.
func (f Func) Authenticate(ctx context.Context, creds Credentials) (Result, error) {
	return f(ctx, creds)
}
