package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, vector []float64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nomic-embed-text", body["model"])
		assert.Equal(t, "hello", body["input"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "nomic-embed-text",
			"data": []map[string]any{{
				"object":    "embedding",
				"index":     0,
				"embedding": vector,
			}},
			"usage": map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestEmbedderEmbed(t *testing.T) {
	server := embeddingServer(t, []float64{0.25, -0.5, 1})
	e := NewEmbedder(server.URL+"/v1", "k", "nomic-embed-text", 3, nil)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 1}, vec)
	assert.Equal(t, 3, e.Dimension())
	assert.Equal(t, "nomic-embed-text", e.ModelName())
}

func TestEmbedderDimensionMismatch(t *testing.T) {
	server := embeddingServer(t, []float64{0.1, 0.2})
	e := NewEmbedder(server.URL+"/v1", "k", "nomic-embed-text", 768, nil)

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 768")
}

func TestEmbedderEmptyText(t *testing.T) {
	e := NewEmbedder("http://127.0.0.1:1/v1", "k", "nomic-embed-text", 3, nil)
	_, err := e.Embed(context.Background(), "")
	assert.Error(t, err)
}
