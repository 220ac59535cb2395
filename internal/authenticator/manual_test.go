package authenticator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/tolino-cloud/internal/tokensource"
)

// fakeCodeExchanger renders a predictable authorization URL and records codes.
type fakeCodeExchanger struct {
	state string
	code  string
	err   error
}

func (f *fakeCodeExchanger) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	f.state = state
	cfg := oauth2.Config{ClientID: "webreader", Endpoint: oauth2.Endpoint{AuthURL: "https://acme.example/authorize"}}
	return cfg.AuthCodeURL(state, opts...)
}

func (f *fakeCodeExchanger) Exchange(_ context.Context, code string, _ ...oauth2.AuthCodeOption) (tokensource.Grant, error) {
	f.code = code
	if f.err != nil {
		return tokensource.Grant{}, f.err
	}
	return tokensource.Grant{AccessToken: "a", RefreshToken: "r", ExpiresIn: 60, RefreshExpiresIn: 600}, nil
}

// redirectAfterPrompt answers the prompt with a redirect built from the state
// found in the printed authorization URL.
type redirectAfterPrompt struct {
	out   *bytes.Buffer
	build func(state string) string
	done  bool
}

var urlPattern = regexp.MustCompile(`https://\S+`)

func (r *redirectAfterPrompt) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	r.done = true
	u, err := url.Parse(urlPattern.FindString(r.out.String()))
	if err != nil {
		return 0, err
	}
	return copy(p, r.build(u.Query().Get("state"))+"\n"), nil
}

func TestManualAuthenticate(t *testing.T) {
	out := &bytes.Buffer{}
	in := &redirectAfterPrompt{out: out, build: func(state string) string {
		return "https://webreader.mytolino.com/library/?code=abc123&state=" + state
	}}
	ex := &fakeCodeExchanger{}

	m := NewManual(ex, WithPrompt(in, out), WithHardwareID("device-1"))
	res, err := m.Authenticate(context.Background(), Credentials{Username: "reader@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "abc123", ex.code)
	assert.Equal(t, "device-1", res.HardwareID)
	assert.Equal(t, "r", res.Grant.RefreshToken)
	assert.NoError(t, res.Validate())

	prompt := out.String()
	assert.Contains(t, prompt, "login_hint=reader%40example.com")
	assert.Contains(t, prompt, "code_challenge_method=S256")
}

func TestManualAuthenticateGeneratesHardwareID(t *testing.T) {
	out := &bytes.Buffer{}
	in := &redirectAfterPrompt{out: out, build: func(state string) string {
		return "https://webreader.mytolino.com/library/?code=abc123&state=" + state
	}}

	res, err := NewManual(&fakeCodeExchanger{}, WithPrompt(in, out)).Authenticate(context.Background(), Credentials{})
	require.NoError(t, err)
	assert.Len(t, res.HardwareID, 36)
}

func TestManualAuthenticateHardwareIDPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		opts   []ManualOption
		creds  Credentials
		wantID string
	}{
		{name: "registered device kept", creds: Credentials{HardwareID: "registered"}, wantID: "registered"},
		{
			name:   "configured device wins",
			opts:   []ManualOption{WithHardwareID("configured")},
			creds:  Credentials{HardwareID: "registered"},
			wantID: "configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			in := &redirectAfterPrompt{out: out, build: func(state string) string {
				return "https://webreader.mytolino.com/library/?code=abc123&state=" + state
			}}

			m := NewManual(&fakeCodeExchanger{}, append([]ManualOption{WithPrompt(in, out)}, tt.opts...)...)
			res, err := m.Authenticate(context.Background(), tt.creds)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, res.HardwareID)
		})
	}
}

func TestManualAuthenticateFailures(t *testing.T) {
	tests := []struct {
		name     string
		redirect func(state string) string
		exchange error
		wantErr  error
	}{
		{
			name:     "no redirect pasted",
			redirect: func(string) string { return "" },
			wantErr:  ErrMissingRedirect,
		},
		{
			name:     "redirect without code",
			redirect: func(state string) string { return "https://webreader.mytolino.com/library/?state=" + state },
			wantErr:  ErrMissingCode,
		},
		{
			name: "credentials rejected",
			redirect: func(state string) string {
				return "https://webreader.mytolino.com/library/?error=access_denied&error_description=bad+password&state=" + state
			},
			wantErr: ErrAuthorizationDenied,
		},
		{
			name:     "foreign state",
			redirect: func(string) string { return "https://webreader.mytolino.com/library/?code=x&state=other" },
			wantErr:  ErrStateMismatch,
		},
		{
			name:     "redirect without state",
			redirect: func(string) string { return "https://webreader.mytolino.com/library/?code=x" },
			wantErr:  ErrStateMismatch,
		},
		{
			name:     "token exchange rejected",
			redirect: func(state string) string { return "https://webreader.mytolino.com/library/?code=x&state=" + state },
			exchange: errors.New("oauth2: invalid_grant"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			in := &redirectAfterPrompt{out: out, build: tt.redirect}
			m := NewManual(&fakeCodeExchanger{err: tt.exchange}, WithPrompt(in, out))

			_, err := m.Authenticate(context.Background(), Credentials{})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestManualAuthenticateCanceled(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewManual(&fakeCodeExchanger{}, WithPrompt(pr, io.Discard)).Authenticate(ctx, Credentials{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCodeFromRedirectFragment(t *testing.T) {
	code, err := codeFromRedirect("https://webreader.mytolino.com/library/#code=frag&state=s", "s")
	require.NoError(t, err)
	assert.Equal(t, "frag", code)
}

func TestCodeFromRedirectRequiresState(t *testing.T) {
	_, err := codeFromRedirect("https://webreader.mytolino.com/library/?code=c", "s")
	require.ErrorIs(t, err, ErrStateMismatch)

	_, err = codeFromRedirect("https://webreader.mytolino.com/library/#code=c", "s")
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestResultValidate(t *testing.T) {
	err := Result{}.Validate()
	require.Error(t, err)
	for _, field := range []string{"access token", "refresh token", "hardware id"} {
		assert.True(t, strings.Contains(err.Error(), field), field)
	}
}
