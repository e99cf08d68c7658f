package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Ledger error codes reported in APIError.Code.
const (
	CodeUnauthorized                = 1000
	CodeInsufficientEndorsements    = 1001
	CodeInvalidAmount               = 1003
	CodeLoanAlreadyDisbursed        = 1004
	CodeInvalidRequestID            = 1005
	CodeInvalidTokenContract        = 1006
	CodeInvalidRepaymentSchedule    = 1008
	CodeInsufficientTreasuryBalance = 1009
	CodeInvalidDisbursementTime     = 1010
	CodeInvalidBorrower             = 1012
	CodeDisbursementPaused          = 1013
	CodeGovernanceNotSet            = 1015
	CodeInvalidImpactData           = 1018
	CodeInvalidCurrency             = 1020
)

// callerHeader mirrors the server's development-mode caller header.
const callerHeader = "X-Treasury-Caller"

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response. Code and Kind are set for ledger rejections.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Kind    string `json:"error"`
	RawBody string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("treasury: %s (code %d, HTTP %d)", e.Kind, e.Code, e.Status)
	}
	if e.Kind != "" {
		return fmt.Sprintf("treasury: HTTP %d: %s", e.Status, e.Kind)
	}
	return fmt.Sprintf("treasury: HTTP %d: %s", e.Status, e.RawBody)
}

// IsCode reports whether err is an APIError with the given ledger code.
func IsCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to a treasury server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	caller     string

	principal string
	secret    string

	// token state, guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http client is nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a pre-obtained caller token to every request.
// The token is never refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// WithCredentials makes the client obtain (and refresh) caller tokens for
// principal from POST /api/v1/auth/token.
func WithCredentials(principal, secret string) Option {
	return func(c *Client) error {
		if principal == "" || secret == "" {
			return fmt.Errorf("principal and secret are required")
		}
		c.principal = principal
		c.secret = secret
		return nil
	}
}

// WithCaller sets the X-Treasury-Caller header, for servers running without
// token auth.
func WithCaller(principal string) Option {
	return func(c *Client) error {
		c.caller = principal
		return nil
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// FetchToken exchanges the configured credentials for a caller token, caches
// it and returns it.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = token
	c.tokenExpiry = expiry
	c.mu.Unlock()
	return token, nil
}

func (c *Client) fetchTokenRaw(ctx context.Context) (string, time.Time, error) {
	if c.principal == "" {
		return "", time.Time{}, fmt.Errorf("no credentials configured")
	}
	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	body := map[string]string{"principal": c.principal, "secret": c.secret}
	if err := c.send(ctx, http.MethodPost, "/api/v1/auth/token", "", body, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("fetch token: %w", err)
	}

	// Refresh 30 s before actual expiry to avoid clock-skew failures.
	const refreshBuffer = 30 * time.Second
	exp := time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - refreshBuffer)
	return payload.Token, exp, nil
}

// authToken returns the bearer token to send, fetching a new one when
// credentials are configured and the cached token is absent or stale.
func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.principal == "" {
		return c.bearerToken, nil
	}

	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	c.tokenExpiry = expiry
	return token, nil
}

// call performs an authenticated request.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	token, err := c.authToken(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, token, reqBody, respBody)
}

func (c *Client) send(ctx context.Context, method, path, token string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.caller != "" {
		req.Header.Set(callerHeader, c.caller)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, RawBody: string(body)}
		json.Unmarshal(body, apiErr) //nolint:errcheck
		if resp.StatusCode == http.StatusNotFound && apiErr.Code == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
		}
		return apiErr
	}

	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
