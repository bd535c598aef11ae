package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to one base address. It never retries: callers treat the
// next scheduled tick as the retry.
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// Config holds configuration for the HTTP client
type Config struct {
	ServerURL      string
	TimeoutSeconds int
	Transport      http.RoundTripper
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	kind := "client error"
	if e.StatusCode >= 500 {
		kind = "server error"
	}
	return fmt.Sprintf("%s %d: %s", kind, e.StatusCode, e.Body)
}

// Unauthorized reports whether the server rejected the bearer token.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// NewClient creates a new HTTP client
func NewClient(cfg Config) *Client {
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 30
	}

	return &Client{
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		httpClient: &http.Client{
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
			Transport: cfg.Transport,
		},
	}
}

// BaseURL returns the address every endpoint is resolved against.
func (c *Client) BaseURL() string {
	return c.serverURL
}

// PostJSON sends a POST request with JSON body
func (c *Client) PostJSON(ctx context.Context, endpoint, token string, payload any) error {
	return c.DoJSON(ctx, http.MethodPost, endpoint, token, payload, nil)
}

// DoJSON sends payload (if any) as JSON and decodes the response into
// out (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, endpoint, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := c.newRequest(ctx, method, endpoint, token, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// PostMultipart sends a multipart/form-data request (for file uploads)
func (c *Client) PostMultipart(ctx context.Context, endpoint, token string, body io.Reader, contentType string) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, token, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	_, err = c.do(req)
	return err
}

// Ping checks if the server is reachable. Any HTTP response counts: the
// collector is not required to serve /health.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return err
	}

	var statusErr *StatusError
	if _, err := c.do(req); err != nil && !errors.As(err, &statusErr) {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
