// Package cloud calls the partner resource API on behalf of a session.
//
// The Client never refreshes tokens. Every call checks that the access token
// is still valid immediately before the request is issued and returns the
// expiry error unchanged, leaving the refresh decision to the caller.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/florianilch/tolino-cloud/internal/partner"
)

const (
	// DefaultTimeout bounds a single resource request.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of a failed response is read for its message.
	maxErrorBody = 64 << 10
)

var (
	// ErrUnexpectedResponse is returned when a response body lacks the
	// expected JSON structure.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrEndpointNotConfigured is returned when the partner has no URL for an operation.
	ErrEndpointNotConfigured = errors.New("endpoint not configured")
)

// APIError is a non-success response of the resource API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s failed with status %d", e.Op, e.StatusCode)
}

// Credentials supplies the current session tokens.
type Credentials interface {
	// AccessCredentials returns the access token and hardware id of one
	// token state, or an error if the access token may not be used.
	AccessCredentials() (accessToken, hardwareID string, err error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for resource requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
// It has no effect together with WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithClock replaces time.Now for timestamps sent to the server.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Client is safe for concurrent use as long as its Credentials are.
type Client struct {
	partner    partner.Config
	creds      Credentials
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
}

// New creates a Client for the given partner.
func New(p partner.Config, creds Credentials, opts ...Option) *Client {
	c := &Client{
		partner: p,
		creds:   creds,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// newRequest checks the access token and builds an authenticated request.
func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	accessToken, hardwareID, err := c.creds.AccessCredentials()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}

	// Set directly to keep the exact spelling the API documents.
	req.Header["t_auth_token"] = []string{accessToken}
	req.Header["hardware_id"] = []string{hardwareID}
	req.Header["reseller_id"] = []string{c.partner.PartnerID}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes a JSON response into out, if out is non-nil.
func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	slog.DebugContext(req.Context(), "resource request",
		"op", op,
		"partner", c.partner.Name,
		"method", req.Method,
		"status", resp.StatusCode,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    responseMessage(resp.Body),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w from %s: %w", ErrUnexpectedResponse, op, err)
	}
	return nil
}

// responseMessage extracts ResponseInfo.message from an error body.
func responseMessage(body io.Reader) string {
	var payload struct {
		ResponseInfo struct {
			Message string `json:"message"`
		} `json:"ResponseInfo"`
	}
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || json.Unmarshal(data, &payload) != nil {
		return ""
	}
	return payload.ResponseInfo.Message
}

func (c *Client) endpoint(op, url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("%s: %w for partner %q", op, ErrEndpointNotConfigured, c.partner.Name)
	}
	return url, nil
}
