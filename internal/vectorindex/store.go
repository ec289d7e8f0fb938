// Package vectorindex stores document embeddings in PostgreSQL with pgvector
// and answers nearest-neighbour queries by cosine distance.
package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// Entry is one indexed document
type Entry struct {
	DocumentID string
	Title      string
	Content    string
	Embedding  []float32
	UpdatedAt  time.Time
}

// Neighbor is an entry returned by a similarity query
type Neighbor struct {
	Entry
	// Distance is the cosine distance to the query vector (0 = identical)
	Distance float64
}

// Store is a pgvector-backed embedding table
type Store struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

// Open connects to PostgreSQL and ensures the extension and table exist.
// table must already be a validated SQL identifier.
func Open(ctx context.Context, dsn, table string, dimension int) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{pool: pool, table: table, dimension: dimension}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			content     TEXT NOT NULL,
			embedding   vector(%d) NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, s.dimension),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate vector index: %w", err)
		}
	}
	return nil
}

// Upsert inserts or replaces the entry for a document
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	if len(e.Embedding) != s.dimension {
		return fmt.Errorf("embedding has %d dimensions, index expects %d", len(e.Embedding), s.dimension)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (document_id, title, content, embedding, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (document_id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`, s.table)

	if _, err := s.pool.Exec(ctx, query, e.DocumentID, e.Title, e.Content, pgvector.NewVector(e.Embedding)); err != nil {
		return fmt.Errorf("upsert document %s: %w", e.DocumentID, err)
	}
	return nil
}

// Nearest returns up to n entries ordered by ascending cosine distance
func (s *Store) Nearest(ctx context.Context, embedding []float32, n int) ([]Neighbor, error) {
	if n <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT document_id, title, content, updated_at, embedding <=> $1 AS distance
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), n)
	if err != nil {
		return nil, fmt.Errorf("nearest query: %w", err)
	}

	neighbors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Neighbor, error) {
		var nb Neighbor
		err := row.Scan(&nb.DocumentID, &nb.Title, &nb.Content, &nb.UpdatedAt, &nb.Distance)
		return nb, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan nearest rows: %w", err)
	}
	return neighbors, nil
}

// All returns every entry, optionally with its embedding
func (s *Store) All(ctx context.Context, withEmbeddings bool) ([]Entry, error) {
	cols := "document_id, title, content, updated_at"
	if withEmbeddings {
		cols += ", embedding"
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY document_id`, cols, s.table))
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		if !withEmbeddings {
			err := row.Scan(&e.DocumentID, &e.Title, &e.Content, &e.UpdatedAt)
			return e, err
		}
		var vec pgvector.Vector
		if err := row.Scan(&e.DocumentID, &e.Title, &e.Content, &e.UpdatedAt, &vec); err != nil {
			return e, err
		}
		e.Embedding = vec.Slice()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of indexed documents
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool
func (s *Store) Close() {
	s.pool.Close()
}
