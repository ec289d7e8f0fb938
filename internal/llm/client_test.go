package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chatServer fakes /chat/completions, replying with content and recording requests
type chatServer struct {
	*httptest.Server
	requests  []map[string]any
	rateLimit int32
	calls     atomic.Int32
	content   string
}

func newChatServer(t *testing.T, content string) *chatServer {
	t.Helper()
	s := &chatServer{content: content}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		n := s.calls.Add(1)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		s.requests = append(s.requests, body)

		if n <= s.rateLimit {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   body["model"],
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": s.content},
			}},
		})
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestClient(t *testing.T, baseURL string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:     baseURL + "/v1",
		APIKey:      "test",
		Model:       "llama3",
		VisionModel: "llava",
		Timeout:     5 * time.Second,
		MaxRetries:  2,
		Logger:      discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	c.baseBackoff = time.Millisecond
	return c
}

func TestTitleFromText(t *testing.T) {
	server := newChatServer(t, "\n  Invoice ACME March 2024  \nAlternative: something else")
	client := newTestClient(t, server.URL, nil)

	title, err := client.TitleFromText(context.Background(), "Invoice 123 from ACME", "Scan_001.pdf", []Example{
		{Title: "Invoice Globex", Content: "Invoice 99 from Globex"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Invoice ACME March 2024", title)

	require.Len(t, server.requests, 1)
	assert.Equal(t, "llama3", server.requests[0]["model"])
	messages := server.requests[0]["messages"].([]any)
	require.Len(t, messages, 1)
	prompt := messages[0].(map[string]any)["content"].(string)
	assert.Contains(t, prompt, "Invoice 123 from ACME")
	assert.Contains(t, prompt, "Original Filename: Scan_001.pdf")
	assert.Contains(t, prompt, "-> Title: Invoice Globex")
	assert.Contains(t, prompt, "English")
}

func TestTitleFromTextCustomTemplate(t *testing.T) {
	server := newChatServer(t, "Rechnung ACME")
	client := newTestClient(t, server.URL, func(c *Config) {
		c.PromptTemplate = "Title in {{.Language}} for {{.Filename}}: {{.Content}}"
		c.Language = "German"
	})

	title, err := client.TitleFromText(context.Background(), "body", "scan.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "Rechnung ACME", title)

	prompt := server.requests[0]["messages"].([]any)[0].(map[string]any)["content"].(string)
	assert.Equal(t, "Title in German for scan.pdf: body", prompt)
}

func TestNewClientInvalidTemplate(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://x/v1", Model: "m", PromptTemplate: "{{.Content", Logger: discardLogger()})
	assert.Error(t, err)
}

func TestTitleFromTextEmptyResponse(t *testing.T) {
	server := newChatServer(t, "   \n\n")
	client := newTestClient(t, server.URL, nil)

	title, err := client.TitleFromText(context.Background(), "content", "scan", nil)
	require.NoError(t, err)
	assert.Empty(t, title)
}

func TestTitleFromTextRetriesRateLimit(t *testing.T) {
	server := newChatServer(t, "Bank Statement")
	server.rateLimit = 2
	client := newTestClient(t, server.URL, nil)

	title, err := client.TitleFromText(context.Background(), "content", "scan", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bank Statement", title)
	assert.EqualValues(t, 3, server.calls.Load())
}

func TestTitleFromTextRateLimitExhausted(t *testing.T) {
	server := newChatServer(t, "never")
	server.rateLimit = 10
	client := newTestClient(t, server.URL, func(c *Config) { c.MaxRetries = 1 })

	_, err := client.TitleFromText(context.Background(), "content", "scan", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMaxRetriesExceeded))
	assert.EqualValues(t, 2, server.calls.Load())
}

func TestTitleFromTextServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"model not loaded"}}`))
	}))
	defer server.Close()
	client := newTestClient(t, server.URL, nil)

	_, err := client.TitleFromText(context.Background(), "content", "scan", nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMaxRetriesExceeded))
	assert.Contains(t, err.Error(), "llama3")
}

func TestTitleFromImage(t *testing.T) {
	server := newChatServer(t, "Passport Scan")
	client := newTestClient(t, server.URL, nil)

	title, err := client.TitleFromImage(context.Background(), []byte{0xff, 0xd8, 0xff}, "image/jpeg", "IMG_0001.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Passport Scan", title)

	req := server.requests[0]
	assert.Equal(t, "llava", req["model"])
	parts := req["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"])
	assert.Contains(t, parts[0].(map[string]any)["text"], "IMG_0001.jpg")
	image := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(image, "data:image/jpeg;base64,/9j/"), image)
}

func TestTitleFromImageEmpty(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", nil)
	_, err := client.TitleFromImage(context.Background(), nil, "image/png", "x")
	assert.Error(t, err)
}
