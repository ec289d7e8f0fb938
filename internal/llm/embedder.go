package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
)

// Embedder turns document text into vectors with the embeddings endpoint
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
}

// NewEmbedder creates an embedder. Every returned vector must have dimension
// entries, matching the vector index column.
func NewEmbedder(baseURL, apiKey, model string, dimension int, httpClient *http.Client) *Embedder {
	return &Embedder{
		client:    openai.NewClient(clientOptions(baseURL, apiKey, httpClient)...),
		model:     model,
		dimension: dimension,
	}
}

// Embed generates the embedding of a single text
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("no text provided")
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}

	data := resp.Data[0].Embedding
	if e.dimension > 0 && len(data) != e.dimension {
		return nil, fmt.Errorf("embedding model %s returned %d dimensions, expected %d", e.model, len(data), e.dimension)
	}

	vector := make([]float32, len(data))
	for i, v := range data {
		vector[i] = float32(v)
	}
	return vector, nil
}

// ModelName returns the embedding model name
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension returns the expected vector dimension
func (e *Embedder) Dimension() int {
	return e.dimension
}
