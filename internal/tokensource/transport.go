package tokensource

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// tokenRequestTransport adds the fields and headers the partner token
// endpoint requires on top of what oauth2 sends.
// The oauth2 package guarantees this transport only receives token endpoint requests.
type tokenRequestTransport struct {
	base  http.RoundTripper
	scope string
}

// Compile-time check that tokenRequestTransport implements http.RoundTripper.
var _ http.RoundTripper = (*tokenRequestTransport)(nil)

// RoundTrip sets the scope form field if absent and the webreader Referer.
func (t *tokenRequestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	newReq := req.Clone(req.Context())
	newReq.Header.Set("Referer", WebreaderOrigin)
	newReq.Header.Set("Accept", "application/json")

	if req.Body == nil {
		return base.RoundTrip(newReq)
	}

	// Defer close since we consume the body entirely and create a new body for the cloned request.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}
	if form.Get("scope") == "" && t.scope != "" {
		form.Set("scope", t.scope)
	}

	encoded := form.Encode()
	newReq.Body = io.NopCloser(strings.NewReader(encoded))
	newReq.ContentLength = int64(len(encoded))
	newReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(encoded)), nil
	}

	return base.RoundTrip(newReq)
}
