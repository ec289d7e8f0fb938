// Package pipeline retitles a single document: fetch, resolve its MIME type,
// generate a candidate title, decide, and commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/go-retitler/internal/archive"
	"github.com/jmylchreest/go-retitler/internal/llm"
	"github.com/jmylchreest/go-retitler/internal/paperless"
	"github.com/jmylchreest/go-retitler/internal/titles"
	"github.com/jmylchreest/go-retitler/internal/vectorindex"
)

// Outcome is the terminal state of one document
type Outcome int

const (
	Renamed Outcome = iota
	DryRun
	Unchanged
	EmptyTitle
	NoContent
	NotFound
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Renamed:
		return "renamed"
	case DryRun:
		return "dry_run"
	case Unchanged:
		return "unchanged"
	case EmptyTitle:
		return "empty_title"
	case NoContent:
		return "no_content"
	case NotFound:
		return "not_found"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsError reports whether the outcome counts as a per-document error
func (o Outcome) IsError() bool {
	return o == NotFound || o == Failed
}

// Result describes what happened to one document
type Result struct {
	DocumentID int
	Outcome    Outcome
	OldTitle   string
	NewTitle   string
	MIMEType   string
	// Message explains NotFound and Failed outcomes
	Message string
}

// Source is the document store
type Source interface {
	Document(ctx context.Context, id int) (*paperless.Document, error)
	UpdateTitle(ctx context.Context, id int, title string) error
	ResolveMIMEType(ctx context.Context, id int) (string, error)
	Original(ctx context.Context, id int) ([]byte, error)
}

// Generator produces candidate titles
type Generator interface {
	TitleFromText(ctx context.Context, content, originalTitle string, examples []llm.Example) (string, error)
	TitleFromImage(ctx context.Context, image []byte, mimeType, originalTitle string) (string, error)
}

// Index supplies retrieval examples and stores renamed documents
type Index interface {
	IndexDocument(ctx context.Context, documentID int, content, title string) error
	Similar(ctx context.Context, content string, n int) ([]vectorindex.Neighbor, error)
}

// Archive records committed renames
type Archive interface {
	Append(ctx context.Context, r archive.Record) error
}

// Config controls pipeline behaviour
type Config struct {
	DryRun           bool
	SimilarDocuments int
}

// Pipeline processes documents one at a time; it is safe for concurrent use
// when its collaborators are.
type Pipeline struct {
	source  Source
	gen     Generator
	index   Index
	archive Archive
	cfg     Config
	logger  *slog.Logger
}

// New creates a pipeline
func New(source Source, gen Generator, index Index, arch Archive, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:  source,
		gen:     gen,
		index:   index,
		archive: arch,
		cfg:     cfg,
		logger:  logger.With("component", "pipeline"),
	}
}

// Process runs one document through the pipeline. It never panics; a panic
// in a collaborator is reported as Failed.
func (p *Pipeline) Process(ctx context.Context, id int) (res Result) {
	res.DocumentID = id
	start := time.Now()
	logger := p.logger.With("document_id", id)

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = Failed
			res.Message = fmt.Sprintf("document %d: unexpected error: %v", id, r)
			logger.ErrorContext(ctx, "recovered panic while processing document", "panic", r)
		}
		logger.DebugContext(ctx, "document processed",
			"outcome", res.Outcome.String(),
			"duration", time.Since(start))
	}()

	doc, err := p.source.Document(ctx, id)
	if err != nil {
		res.Outcome = NotFound
		if errors.Is(err, paperless.ErrNotFound) {
			res.Message = fmt.Sprintf("document %d not found", id)
		} else {
			res.Message = fmt.Sprintf("document %d could not be fetched: %v", id, err)
		}
		logger.WarnContext(ctx, "could not fetch document", "error", err)
		return res
	}
	res.OldTitle = doc.Title

	res.MIMEType = p.resolveMIMEType(ctx, doc)
	logger = logger.With("title", doc.Title, "mime_type", res.MIMEType)
	logger.InfoContext(ctx, "processing document")

	var (
		candidate string
		genErr    error
	)
	if strings.HasPrefix(res.MIMEType, "image/") {
		image, err := p.source.Original(ctx, id)
		if err != nil {
			res.Outcome = Failed
			res.Message = fmt.Sprintf("document %d %q: could not fetch original image: %v", id, doc.Title, err)
			logger.ErrorContext(ctx, "could not fetch original image", "error", err)
			return res
		}
		logger.InfoContext(ctx, "image document detected, using vision model", "bytes", len(image))
		candidate, genErr = p.gen.TitleFromImage(ctx, image, res.MIMEType, doc.Title)
	} else {
		if strings.TrimSpace(doc.Content) == "" {
			res.Outcome = NoContent
			logger.WarnContext(ctx, "document has no content, skipping")
			return res
		}
		candidate, genErr = p.gen.TitleFromText(ctx, doc.Content, doc.Title, p.examples(ctx, logger, id, doc.Content))
	}

	var decision titles.Decision
	if genErr != nil {
		decision = titles.Decide(doc.Title, nil)
	} else {
		decision = titles.Decide(doc.Title, &candidate)
	}

	switch decision.Action {
	case titles.Fail:
		res.Outcome = Failed
		res.Message = fmt.Sprintf("document %d %q: title generation failed: %v", id, doc.Title, genErr)
		logger.ErrorContext(ctx, "title generation failed", "error", genErr)
		return res
	case titles.Warn:
		res.Outcome = EmptyTitle
		logger.WarnContext(ctx, "model returned an empty title")
		return res
	case titles.NoOp:
		res.Outcome = Unchanged
		res.NewTitle = doc.Title
		logger.InfoContext(ctx, "model thinks the title is good enough")
		return res
	}

	res.NewTitle = decision.Title
	if p.cfg.DryRun {
		res.Outcome = DryRun
		logger.InfoContext(ctx, fmt.Sprintf("[DRY RUN] would update document %d from %q to %q", id, doc.Title, decision.Title))
		return res
	}

	return p.commit(ctx, logger, doc, res)
}

// commit applies a rename. A failed update aborts; archive and reindex
// failures are logged and the document still counts as renamed.
func (p *Pipeline) commit(ctx context.Context, logger *slog.Logger, doc *paperless.Document, res Result) Result {
	if err := p.source.UpdateTitle(ctx, doc.ID, res.NewTitle); err != nil {
		res.Outcome = Failed
		res.Message = fmt.Sprintf("document %d %q: could not update title to %q: %v", doc.ID, doc.Title, res.NewTitle, err)
		logger.ErrorContext(ctx, "title update failed", "new_title", res.NewTitle, "error", err)
		return res
	}
	res.Outcome = Renamed
	logger.InfoContext(ctx, "document renamed", "new_title", res.NewTitle)

	// the title has changed at Paperless, so the audit record and index
	// update must land even if the job is cancelled now
	ctx = context.WithoutCancel(ctx)

	if err := p.archive.Append(ctx, &archive.Rename{
		DocumentID: doc.ID,
		OldTitle:   doc.Title,
		NewTitle:   res.NewTitle,
	}); err != nil {
		logger.ErrorContext(ctx, "failed to archive rename", "error", err)
	}

	// documents without text (images) are indexed by their title
	text := doc.Content
	if strings.TrimSpace(text) == "" {
		text = res.NewTitle
	}
	if err := p.index.IndexDocument(ctx, doc.ID, text, res.NewTitle); err != nil {
		logger.ErrorContext(ctx, "failed to re-index renamed document", "error", err)
	}
	return res
}

// resolveMIMEType tries document fields, then a Paperless probe, then the
// original filename extension.
func (p *Pipeline) resolveMIMEType(ctx context.Context, doc *paperless.Document) string {
	if mt := doc.DeclaredMIMEType(); mt != "" {
		return mt
	}

	mt, err := p.source.ResolveMIMEType(ctx, doc.ID)
	if err != nil {
		p.logger.DebugContext(ctx, "mime type probe failed", "document_id", doc.ID, "error", err)
	}
	if mt != "" {
		return mt
	}

	if mt := mimeFromFilename(doc.OriginalFileName); mt != "" {
		p.logger.InfoContext(ctx, "inferred mime type from filename",
			"document_id", doc.ID,
			"filename", doc.OriginalFileName,
			"mime_type", mt)
		return mt
	}
	return ""
}

// examples fetches similar indexed documents, excluding the document itself.
// Retrieval failures are logged and generation continues without examples.
func (p *Pipeline) examples(ctx context.Context, logger *slog.Logger, id int, content string) []llm.Example {
	if p.cfg.SimilarDocuments <= 0 {
		return nil
	}

	neighbors, err := p.index.Similar(ctx, content, p.cfg.SimilarDocuments+1)
	if err != nil {
		logger.WarnContext(ctx, "similar document lookup failed, continuing without examples", "error", err)
		return nil
	}

	self := strconv.Itoa(id)
	examples := make([]llm.Example, 0, p.cfg.SimilarDocuments)
	for _, nb := range neighbors {
		if nb.DocumentID == self {
			continue
		}
		if len(examples) == p.cfg.SimilarDocuments {
			break
		}
		examples = append(examples, llm.Example{Title: nb.Title, Content: nb.Content})
	}
	return examples
}
