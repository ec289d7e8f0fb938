// Package paperless is a small client for the Paperless-ngx REST API.
package paperless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/go-retitler/internal/version"
	"github.com/jmylchreest/go-retitler/pkg/httpclient"
)

// ErrNotFound is returned when Paperless answers 404 for a document
var ErrNotFound = errors.New("document not found")

// Client talks to a single Paperless-ngx instance
type Client struct {
	baseURL  *url.URL
	pageSize int
	http     *httpclient.Client
	logger   *slog.Logger
}

// ClientConfig holds configuration for creating a Client
type ClientConfig struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	PageSize int
	SkipTLS  bool
	Logger   *slog.Logger
}

// NewClient creates a new Paperless API client
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout
	httpCfg.SkipTLSVerify = cfg.SkipTLS
	httpCfg.Headers = map[string]string{
		"Authorization": "Token " + cfg.Token,
		"Accept":        "application/json; version=2",
		"User-Agent":    version.UserAgent(),
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:  base,
		pageSize: cfg.PageSize,
		http:     httpclient.New(httpCfg),
		logger:   logger.With("component", "paperless"),
	}, nil
}

// apiURL constructs a full API URL from a path
func (c *Client) apiURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL.String() + path
}

// rebase rewrites an absolute URL returned by Paperless onto the configured
// scheme and host. Paperless behind a proxy often reports its internal address
// in pagination links.
func (c *Client) rebase(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse next url: %w", err)
	}
	u.Scheme = c.baseURL.Scheme
	u.Host = c.baseURL.Host
	return u.String(), nil
}

// request executes an API request and decodes the JSON result when non-nil
func (c *Client) request(ctx context.Context, method, fullURL string, body, result any) error {
	c.logger.DebugContext(ctx, "API request",
		"method", method,
		"url", fullURL)

	var (
		resp *http.Response
		err  error
	)
	if body != nil {
		resp, err = c.http.SendJSON(ctx, method, fullURL, body)
	} else {
		var req *http.Request
		req, err = http.NewRequest(method, fullURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		resp, err = c.http.Do(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if err := httpclient.CheckStatus(resp); err != nil {
		c.logger.ErrorContext(ctx, "API error response",
			"status", resp.StatusCode,
			"error", err)
		return fmt.Errorf("API request failed: %w", err)
	}

	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	return c.http.DecodeJSON(resp, result)
}

// Ping checks that the API is reachable and the token is accepted
func (c *Client) Ping(ctx context.Context) error {
	var page documentPage
	if err := c.request(ctx, http.MethodGet, c.apiURL("/api/documents/?page_size=1"), nil, &page); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close closes the underlying HTTP client connections
func (c *Client) Close() {
	c.http.Close()
}
