package vectorindex

import (
	"context"
	"fmt"
	"strconv"
)

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backend is the storage side of the index; *Store implements it
type Backend interface {
	Upsert(ctx context.Context, e Entry) error
	Nearest(ctx context.Context, embedding []float32, n int) ([]Neighbor, error)
	All(ctx context.Context, withEmbeddings bool) ([]Entry, error)
}

// Service combines an embedder with a backend so callers work in terms of
// document text rather than vectors.
type Service struct {
	embedder Embedder
	backend  Backend
}

// NewService creates an index service
func NewService(embedder Embedder, backend Backend) *Service {
	return &Service{embedder: embedder, backend: backend}
}

// IndexDocument embeds content and stores it under the document id and title
func (s *Service) IndexDocument(ctx context.Context, documentID int, content, title string) error {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed document %d: %w", documentID, err)
	}
	return s.backend.Upsert(ctx, Entry{
		DocumentID: strconv.Itoa(documentID),
		Title:      title,
		Content:    content,
		Embedding:  vec,
	})
}

// Similar returns up to n indexed documents closest to content
func (s *Service) Similar(ctx context.Context, content string, n int) ([]Neighbor, error) {
	if n <= 0 || content == "" {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.backend.Nearest(ctx, vec, n)
}

// Nearest passes through to the backend for callers that already hold a vector
func (s *Service) Nearest(ctx context.Context, embedding []float32, n int) ([]Neighbor, error) {
	return s.backend.Nearest(ctx, embedding, n)
}

// All passes through to the backend
func (s *Service) All(ctx context.Context, withEmbeddings bool) ([]Entry, error) {
	return s.backend.All(ctx, withEmbeddings)
}
