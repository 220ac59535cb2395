package tokensource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/tolino-cloud/internal/partner"
)

func testPartner(tokenURL string) partner.Config {
	return partner.Config{
		Name:        "acme",
		PartnerID:   "99",
		ClientID:    "webreader",
		Scope:       "SCOPE_BOSH",
		RedirectURL: "https://webreader.mytolino.com/library/",
		Endpoints: partner.Endpoints{
			Auth:  "https://acme.example/oauth2/authorize",
			Token: tokenURL,
		},
	}
}

// tokenServer answers every request with the given status and body and
// records the last form it received.
func tokenServer(t *testing.T, status int, contentType, body string) (*httptest.Server, *url.Values, *http.Header) {
	t.Helper()
	var form url.Values
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		form = r.PostForm
		header = r.Header.Clone()
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &form, &header
}

func TestRefresh(t *testing.T) {
	srv, form, header := tokenServer(t, http.StatusOK, "application/json",
		`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":3600,"refresh_expires_in":1209600,"token_type":"bearer"}`)

	ex := New(testPartner(srv.URL))
	grant, err := ex.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, Grant{
		AccessToken:      "new-access",
		RefreshToken:     "new-refresh",
		ExpiresIn:        3600,
		RefreshExpiresIn: 1209600,
	}, grant)

	assert.Equal(t, "webreader", form.Get("client_id"))
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "old-refresh", form.Get("refresh_token"))
	assert.Equal(t, "SCOPE_BOSH", form.Get("scope"))
	assert.Equal(t, WebreaderOrigin, header.Get("Referer"))
}

func TestRefreshNegativeLifetimes(t *testing.T) {
	srv, _, _ := tokenServer(t, http.StatusOK, "application/json",
		`{"access_token":"a","refresh_token":"r","expires_in":-1,"refresh_expires_in":-5}`)

	grant, err := New(testPartner(srv.URL)).Refresh(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), grant.ExpiresIn)
	assert.Equal(t, int64(-5), grant.RefreshExpiresIn)
}

func TestRefreshFormEncodedResponse(t *testing.T) {
	srv, _, _ := tokenServer(t, http.StatusOK, "application/x-www-form-urlencoded",
		`access_token=a&refresh_token=r&expires_in=60&refresh_expires_in=120`)

	grant, err := New(testPartner(srv.URL)).Refresh(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, int64(60), grant.ExpiresIn)
	assert.Equal(t, int64(120), grant.RefreshExpiresIn)
}

func TestRefreshFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		invalid     bool
	}{
		{
			name:        "server rejects refresh token",
			status:      http.StatusBadRequest,
			contentType: "application/json",
			body:        `{"error":"invalid_grant"}`,
		},
		{
			name:        "server error",
			status:      http.StatusInternalServerError,
			contentType: "text/plain",
			body:        `boom`,
		},
		{
			name:        "body is not json",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `<html>captcha</html>`,
		},
		{
			name:        "missing access token",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"refresh_token":"r","expires_in":1,"refresh_expires_in":1}`,
		},
		{
			name:        "missing refresh token",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"access_token":"a","expires_in":1,"refresh_expires_in":1}`,
			invalid:     true,
		},
		{
			name:        "missing expires_in",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"access_token":"a","refresh_token":"r","refresh_expires_in":1}`,
			invalid:     true,
		},
		{
			name:        "missing refresh_expires_in",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"access_token":"a","refresh_token":"r","expires_in":1}`,
			invalid:     true,
		},
		{
			name:        "fractional lifetime",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"access_token":"a","refresh_token":"r","expires_in":1,"refresh_expires_in":1.5}`,
			invalid:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := tokenServer(t, tt.status, tt.contentType, tt.body)

			_, err := New(testPartner(srv.URL)).Refresh(context.Background(), "old")
			require.Error(t, err)
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidResponse)
			}
		})
	}
}

func TestRefreshTransportError(t *testing.T) {
	srv, _, _ := tokenServer(t, http.StatusOK, "application/json", `{}`)
	srv.Close()

	_, err := New(testPartner(srv.URL)).Refresh(context.Background(), "old")
	require.Error(t, err)
}

func TestRefreshTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	ex := New(testPartner(srv.URL), WithTimeout(50*time.Millisecond))
	_, err := ex.Refresh(context.Background(), "old")
	require.Error(t, err)
}

func TestRefreshEmptyToken(t *testing.T) {
	_, err := New(testPartner("https://acme.example/token")).Refresh(context.Background(), "")
	require.Error(t, err)
}

func TestExchange(t *testing.T) {
	srv, form, _ := tokenServer(t, http.StatusOK, "application/json",
		`{"access_token":"a","refresh_token":"r","expires_in":10,"refresh_expires_in":20}`)

	ex := New(testPartner(srv.URL))
	verifier := oauth2.GenerateVerifier()
	grant, err := ex.Exchange(context.Background(), "the-code", oauth2.VerifierOption(verifier))
	require.NoError(t, err)
	assert.Equal(t, "r", grant.RefreshToken)

	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, "SCOPE_BOSH", form.Get("scope"))
	assert.Equal(t, verifier, form.Get("code_verifier"))
	assert.Equal(t, "https://webreader.mytolino.com/library/", form.Get("redirect_uri"))
}

func TestAuthCodeURL(t *testing.T) {
	ex := New(testPartner("https://acme.example/token"))
	raw := ex.AuthCodeURL("state-123", oauth2.SetAuthURLParam("login_hint", "reader@example.com"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://acme.example/oauth2/authorize?"))
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "webreader", q.Get("client_id"))
	assert.Equal(t, "SCOPE_BOSH", q.Get("scope"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "reader@example.com", q.Get("login_hint"))
}

func TestTransportKeepsExistingScope(t *testing.T) {
	var got url.Values
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody, Request: r}, nil
	})

	tr := &tokenRequestTransport{base: base, scope: "SCOPE_BOSH"}
	req, err := http.NewRequest(http.MethodPost, "https://acme.example/token", strings.NewReader("scope=OTHER&grant_type=refresh_token"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err = tr.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, "OTHER", got.Get("scope"))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
