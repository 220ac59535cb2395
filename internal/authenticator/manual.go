package authenticator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/florianilch/tolino-cloud/internal/tokensource"
)

var (
	// ErrMissingRedirect is returned when no redirect location was provided.
	ErrMissingRedirect = errors.New("missing redirect location")
	// ErrMissingCode is returned when the redirect carries no authorization code.
	ErrMissingCode = errors.New("missing authorization code in redirect")
	// ErrAuthorizationDenied is returned when the redirect carries an OAuth error.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrStateMismatch is returned when the redirect belongs to another login attempt.
	ErrStateMismatch = errors.New("state mismatch in redirect")
)

// CodeExchanger builds the authorization URL and redeems the returned code.
type CodeExchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (tokensource.Grant, error)
}

// Compile-time check to ensure tokensource.Exchanger satisfies CodeExchanger
var _ CodeExchanger = (*tokensource.Exchanger)(nil)

// ManualOption configures a Manual authenticator.
type ManualOption func(*Manual)

// WithPrompt sets where instructions are written and the redirect is read from.
// Defaults to os.Stderr and os.Stdin.
func WithPrompt(in io.Reader, out io.Writer) ManualOption {
	return func(m *Manual) {
		m.in = in
		m.out = out
	}
}

// WithHardwareID sets the device id, taking precedence over the one passed
// in Credentials. Without either, a new id is generated.
func WithHardwareID(id string) ManualOption {
	return func(m *Manual) {
		m.hardwareID = id
	}
}

// Manual completes the authorization code flow with the user's own browser.
// It prints the authorization URL and reads back the address the partner
// redirected to after login, so no bot protection has to be defeated.
type Manual struct {
	exchanger  CodeExchanger
	in         io.Reader
	out        io.Writer
	hardwareID string
}

// Compile-time check to ensure Manual implements Authenticator
var _ Authenticator = (*Manual)(nil)

// NewManual creates a Manual authenticator.
func NewManual(exchanger CodeExchanger, opts ...ManualOption) *Manual {
	m := &Manual{
		exchanger: exchanger,
		in:        os.Stdin,
		out:       os.Stderr,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticate runs one login. The password is never needed: the user types
// it into the partner's own login page.
func (m *Manual) Authenticate(ctx context.Context, creds Credentials) (Result, error) {
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if creds.Username != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", creds.Username))
	}
	authURL := m.exchanger.AuthCodeURL(state, opts...)

	_, _ = fmt.Fprintf(m.out, "Open the following address in a browser and log in:\n\n  %s\n\nPaste the address the browser was redirected to: ", authURL)

	line, err := readLine(ctx, m.in)
	if err != nil {
		return Result{}, fmt.Errorf("reading redirect location: %w", err)
	}

	code, err := codeFromRedirect(line, state)
	if err != nil {
		return Result{}, err
	}

	grant, err := m.exchanger.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Result{}, err
	}

	hardwareID := m.hardwareID
	if hardwareID == "" {
		hardwareID = creds.HardwareID
	}
	if hardwareID == "" {
		hardwareID = uuid.NewString()
	}

	return Result{Grant: grant, HardwareID: hardwareID}, nil
}

// codeFromRedirect extracts the authorization code from a redirect location.
func codeFromRedirect(location, state string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", ErrMissingRedirect
	}

	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parsing redirect location: %w", err)
	}

	// Some partners put the response in the fragment.
	q := u.Query()
	if q.Get("code") == "" && q.Get("error") == "" && u.Fragment != "" {
		if fq, err := url.ParseQuery(u.Fragment); err == nil {
			q = fq
		}
	}

	if e := q.Get("error"); e != "" {
		if desc := q.Get("error_description"); desc != "" {
			return "", fmt.Errorf("%w: %s: %s", ErrAuthorizationDenied, e, desc)
		}
		return "", fmt.Errorf("%w: %s", ErrAuthorizationDenied, e)
	}
	if q.Get("state") != state {
		return "", ErrStateMismatch
	}

	code := q.Get("code")
	if code == "" {
		return "", ErrMissingCode
	}
	return code, nil
}

// readLine reads one line from r, giving up when ctx is done.
// The reading goroutine stays blocked on r until input arrives.
func readLine(ctx context.Context, r io.Reader) (string, error) {
	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case res := <-ch:
		return res.line, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
