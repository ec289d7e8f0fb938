// Package outliers ranks indexed documents by how isolated they are in
// embedding space. Isolated documents often carry poor titles.
package outliers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/go-retitler/internal/vectorindex"
)

var ErrInvalidArgument = errors.New("invalid argument")

// DefaultConcurrency bounds parallel neighbour queries
const DefaultConcurrency = 4

// Index is the part of the vector index the ranker reads
type Index interface {
	All(ctx context.Context, withEmbeddings bool) ([]vectorindex.Entry, error)
	Nearest(ctx context.Context, embedding []float32, n int) ([]vectorindex.Neighbor, error)
}

// Score is the isolation score of one document
type Score struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Score      float64 `json:"outlier_score"`
	// AvgDistance equals Score; both names are kept for API clients
	AvgDistance float64 `json:"avg_distance_to_neighbors"`
}

// Ranker computes isolation scores
type Ranker struct {
	index       Index
	concurrency int
	logger      *slog.Logger
}

// NewRanker creates a ranker issuing at most concurrency queries at once
func NewRanker(index Index, concurrency int, logger *slog.Logger) *Ranker {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{
		index:       index,
		concurrency: concurrency,
		logger:      logger.With("component", "outliers"),
	}
}

// Rank scores every indexed document by its mean cosine distance to its k
// nearest neighbours and returns the limit most isolated, highest first.
// An index with fewer than k+1 documents yields no results.
func (r *Ranker) Rank(ctx context.Context, k, limit int) ([]Score, error) {
	if k < 1 {
		return nil, fmt.Errorf("k_neighbors must be at least 1, got %d: %w", k, ErrInvalidArgument)
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit must be at least 1, got %d: %w", limit, ErrInvalidArgument)
	}

	entries, err := r.index.All(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load index entries: %w", err)
	}
	if len(entries) < k+1 {
		r.logger.WarnContext(ctx, "not enough documents in index", "count", len(entries), "need", k+1)
		return []Score{}, nil
	}

	r.logger.InfoContext(ctx, "finding outliers", "k_neighbors", k, "limit", limit, "documents", len(entries))

	// one slot per entry keeps the result order independent of scheduling
	scores := make([]*Score, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			neighbors, err := r.index.Nearest(gctx, entry.Embedding, k+1)
			if err != nil {
				return fmt.Errorf("document %s: nearest neighbours: %w", entry.DocumentID, err)
			}
			if avg, ok := meanDistance(entry.DocumentID, neighbors); ok {
				rounded := round4(avg)
				scores[i] = &Score{
					DocumentID:  entry.DocumentID,
					Title:       entry.Title,
					Score:       rounded,
					AvgDistance: rounded,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Score, 0, len(scores))
	for _, s := range scores {
		if s != nil {
			out = append(out, *s)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if len(out) > limit {
		out = out[:limit]
	}

	r.logger.InfoContext(ctx, "outliers ranked", "returned", len(out), "documents", len(entries))
	return out, nil
}

// meanDistance drops the query document from its own neighbour list (by id,
// or the closest entry when the id is absent) and averages the rest
func meanDistance(selfID string, neighbors []vectorindex.Neighbor) (float64, bool) {
	self := -1
	for i, nb := range neighbors {
		if nb.DocumentID == selfID {
			self = i
			break
		}
	}
	if self < 0 && len(neighbors) > 0 {
		self = 0
	}

	var sum float64
	n := 0
	for i, nb := range neighbors {
		if i == self {
			continue
		}
		sum += nb.Distance
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
