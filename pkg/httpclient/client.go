package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds HTTP client configuration
type Config struct {
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	SkipTLSVerify   bool
	// Headers are added to every request that does not already set them
	Headers map[string]string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
		SkipTLSVerify:   false,
	}
}

// Client wraps http.Client with default headers and JSON helpers
type Client struct {
	http    *http.Client
	timeout time.Duration
	headers http.Header
}

// New creates a new HTTP client with the given configuration
func New(cfg Config) *Client {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: cfg.IdleConnTimeout,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.SkipTLSVerify},
	}

	headers := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		timeout: cfg.Timeout,
		headers: headers,
	}
}

// Standard exposes the underlying *http.Client so SDKs can share the transport
func (c *Client) Standard() *http.Client {
	return c.http
}

// Do executes the request with ctx, filling in default headers.
// http.Client.Timeout bounds the whole exchange including the body read.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	for k, vals := range c.headers {
		if req.Header.Get(k) != "" {
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	return c.http.Do(req)
}

// Get performs a GET request to the specified URL
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}

	return c.Do(ctx, req)
}

// Head performs a HEAD request to the specified URL
func (c *Client) Head(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HEAD request: %w", err)
	}

	return c.Do(ctx, req)
}

// SendJSON performs a request with a JSON-encoded body
func (c *Client) SendJSON(ctx context.Context, method, url string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.Do(ctx, req)
}

// DecodeJSON decodes JSON response body into the provided target
func (c *Client) DecodeJSON(resp *http.Response, target any) error {
	defer func() { _ = resp.Body.Close() }()

	if err := CheckStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode JSON response: %w", err)
	}

	return nil
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// CheckStatus returns a *StatusError for non-2xx responses. The body is
// consumed in that case but not closed.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}

// Close closes idle connections
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
