package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cfg := DefaultConfig()
	client := New(cfg)

	require.NotNil(t, client)
	assert.Equal(t, cfg.Timeout, client.timeout)
	assert.NotNil(t, client.Standard())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, 90*time.Second, cfg.IdleConnTimeout)
	assert.False(t, cfg.SkipTLSVerify)
	assert.Empty(t, cfg.Headers)
}

func TestClientDefaultHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		assert.Equal(t, "override", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Headers = map[string]string{
		"Authorization": "Token secret",
		"Accept":        "application/json",
	}
	client := New(cfg)

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "override")

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(DefaultConfig())
	resp, err := client.Head(context.Background(), server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestClientSendJSON(t *testing.T) {
	type patch struct {
		Title string `json:"title"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var received patch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		assert.Equal(t, "Invoice ACME", received.Title)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"title": received.Title})
	}))
	defer server.Close()

	client := New(DefaultConfig())
	resp, err := client.SendJSON(context.Background(), http.MethodPatch, server.URL, patch{Title: "Invoice ACME"})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, client.DecodeJSON(resp, &out))
	assert.Equal(t, "Invoice ACME", out["title"])
}

func TestClientDecodeJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer server.Close()

	client := New(DefaultConfig())
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)

	var result map[string]any
	err = client.DecodeJSON(resp, &result)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, "bad request", statusErr.Body)
}

func TestClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	client := New(cfg)

	_, err := client.Get(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestClientContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, server.URL)
	assert.Error(t, err)
}
