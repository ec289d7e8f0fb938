package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/go-retitler/internal/archive"
	"github.com/jmylchreest/go-retitler/internal/paperless"
	"github.com/jmylchreest/go-retitler/internal/pipeline"
	"github.com/jmylchreest/go-retitler/internal/strikes"
	"github.com/jmylchreest/go-retitler/internal/titles"
)

// strikeMaxAge is how long a strike survives without a new failure
const strikeMaxAge = 30 * 24 * time.Hour

// Lister lists documents from the document store
type Lister interface {
	List(ctx context.Context, filter paperless.Filter) ([]paperless.Document, error)
}

// Processor runs one document through the retitle pipeline
type Processor interface {
	Process(ctx context.Context, id int) pipeline.Result
}

// Indexer stores a document in the vector index
type Indexer interface {
	IndexDocument(ctx context.Context, documentID int, content, title string) error
}

// Archive receives job summaries and error records
type Archive interface {
	Append(ctx context.Context, r archive.Record) error
}

// Config controls the job runner
type Config struct {
	// BadTitle selects documents a scan retitles; it must match at the start
	// of the title
	BadTitle   *regexp.Regexp
	Workers    int
	MaxStrikes int
	PageSize   int
}

// Deps are the collaborators a Manager drives
type Deps struct {
	Lister    Lister
	Processor Processor
	Indexer   Indexer
	Archive   Archive
	Strikes   *strikes.Handler
}

// runStats counts per-document outcomes for the job summary log
type runStats struct {
	renamed      int
	dryRun       int
	unchanged    int
	skipped      int
	failed       int
	strikesAdded int
	strikesReset int
}

// task does the work of one job. It returns whatever partial result it has
// even when it fails.
type task func(ctx context.Context, logger *slog.Logger, job Job, stats *runStats) (*Result, error)

// Manager starts background jobs, tracks them in a Registry and bounds how
// many run at once
type Manager struct {
	cfg      Config
	deps     Deps
	registry *Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup

	// mu orders start against Close
	mu     sync.Mutex
	closed bool
}

// NewManager creates a job manager. Jobs run under a root context that Close
// cancels.
func NewManager(cfg Config, deps Deps, registry *Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BadTitle == nil {
		cfg.BadTitle = regexp.MustCompile(`^Scan.*`)
	}
	if deps.Strikes == nil {
		deps.Strikes = strikes.NewHandler("", logger)
	}
	if registry == nil {
		registry = NewRegistry(DefaultProgressInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		registry: registry,
		logger:   logger.With("component", "job_manager"),
		ctx:      ctx,
		cancel:   cancel,
		sem:      make(chan struct{}, cfg.Workers),
	}
}

// Registry returns the registry jobs are tracked in
func (m *Manager) Registry() *Registry {
	return m.registry
}

// ScanRunning reports whether a scan is in progress
func (m *Manager) ScanRunning() bool {
	return m.registry.Running(KindScan)
}

// StartScan retitles every document whose title matches the bad title
// pattern, optionally only those created after newerThan (YYYY-MM-DD)
func (m *Manager) StartScan(newerThan string) (Job, error) {
	return m.start(uuid.NewString(), KindScan, Params{NewerThan: newerThan}, m.scan)
}

// StartBulkIndex indexes existing documents, optionally only those created
// before olderThan. Only one bulk index runs at a time.
func (m *Manager) StartBulkIndex(olderThan string) (Job, error) {
	return m.start(IndexJobID, KindBulkIndex, Params{OlderThan: olderThan}, m.bulkIndex)
}

// StartBatch retitles the given documents
func (m *Manager) StartBatch(documentIDs []int) (Job, error) {
	if len(documentIDs) == 0 {
		return Job{}, errors.New("no document ids")
	}
	return m.start("process-"+uuid.NewString(), KindBatchProcess, Params{DocumentIDs: documentIDs}, m.batch)
}

// StartWebhook retitles a single document announced by a webhook
func (m *Manager) StartWebhook(documentID int) (Job, error) {
	return m.start("webhook-"+uuid.NewString(), KindWebhookProcess, Params{DocumentIDs: []int{documentID}}, m.webhook)
}

func (m *Manager) start(id string, kind Kind, params Params, t task) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Job{}, ErrClosed
	}

	job, err := m.registry.Create(id, kind, params)
	if err != nil {
		return Job{}, err
	}

	logger := m.logger.With("job", string(kind), "job_id", id)
	logger.Info("job queued")

	m.wg.Add(1)
	go m.run(job, t, logger)
	return job, nil
}

func (m *Manager) run(job Job, t task, logger *slog.Logger) {
	defer m.wg.Done()

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-m.ctx.Done():
		m.finish(job, logger, nil, fmt.Errorf("cancelled before start: %w", m.ctx.Err()), &runStats{}, time.Now())
		return
	}

	start := time.Now()
	logger.Info("job started")

	stats := &runStats{}
	res, err := m.guard(job, t, logger, stats)
	m.finish(job, logger, res, err, stats, start)
}

// guard runs a task, turning a panic into an error
func (m *Manager) guard(job Job, t task, logger *slog.Logger, stats *runStats) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered panic in job", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("unexpected error: %v", r)
		}
	}()
	return t(m.ctx, logger, job, stats)
}

func (m *Manager) finish(job Job, logger *slog.Logger, res *Result, err error, stats *runStats, start time.Time) {
	// archive writes must outlive a cancelled root context
	ctx := context.WithoutCancel(m.ctx)

	status := archive.StatusCompleted
	message := ""
	if err != nil {
		status = archive.StatusFailed
		message = err.Error()
		logger.Error("job failed", "error", err)
		m.append(ctx, logger, &archive.ErrorEntry{
			JobType: string(job.Kind),
			JobID:   job.ID,
			Message: message,
		})
	}

	switch job.Kind {
	case KindScan:
		run := &archive.ScanRun{Status: status, Error: message}
		if res != nil && res.Scan != nil {
			run.TotalDocuments = res.Scan.TotalDocuments
			run.BadTitleDocuments = res.Scan.BadTitleDocuments
		}
		m.append(ctx, logger, run)
		m.deps.Strikes.Cleanup(strikeMaxAge)
	case KindBulkIndex:
		run := &archive.IndexRun{Status: status, Error: message}
		if res != nil && res.Index != nil {
			run.DocumentsIndexed = res.Index.Indexed
			run.Skipped = res.Index.SkippedScan
			run.Cleaned = res.Index.Cleaned
			run.Failed = res.Index.Failed
		}
		m.append(ctx, logger, run)
	}

	if job.Kind != KindBulkIndex {
		if serr := m.deps.Strikes.Save(); serr != nil {
			logger.Error("failed to save strikes", "error", serr)
		}
	}

	// the terminal transition comes last so waiters see the archive complete
	if err != nil {
		if ferr := m.registry.Fail(job.ID, message, res); ferr != nil {
			logger.Error("failed to mark job failed", "error", ferr)
		}
	} else if cerr := m.registry.Complete(job.ID, res); cerr != nil {
		logger.Error("failed to mark job completed", "error", cerr)
	}

	m.logSummary(logger, job.ID, stats, time.Since(start))
}

func (m *Manager) append(ctx context.Context, logger *slog.Logger, r archive.Record) {
	if m.deps.Archive == nil {
		return
	}
	if err := m.deps.Archive.Append(ctx, r); err != nil {
		logger.Error("failed to archive record", "kind", string(r.Kind()), "error", err)
	}
}

// processOne runs a document through the pipeline and records exactly one
// progress or error entry for it. A document that fails because the job was
// cancelled is not recorded; the returned error stops the job instead.
func (m *Manager) processOne(ctx context.Context, logger *slog.Logger, job Job, id int, stats *runStats) error {
	res := m.deps.Processor.Process(ctx, id)

	if res.Outcome.IsError() && ctx.Err() != nil {
		logger.Warn("document interrupted by shutdown", "document_id", id, "error", res.Message)
		return fmt.Errorf("document %d interrupted: %w", id, ctx.Err())
	}

	if res.Outcome.IsError() {
		stats.failed++
		if err := m.registry.RecordError(job.ID, id, res.Message); err != nil {
			logger.Warn("failed to record document error", "document_id", id, "error", err)
		}
		docID := id
		m.append(context.WithoutCancel(ctx), logger, &archive.ErrorEntry{
			JobType:    string(job.Kind),
			JobID:      job.ID,
			DocumentID: &docID,
			Message:    res.Message,
		})
		count := m.deps.Strikes.Add(id, string(job.Kind), res.Message)
		stats.strikesAdded++
		if m.cfg.MaxStrikes > 0 && count == m.cfg.MaxStrikes {
			logger.Warn("document reached max strikes, scans will skip it",
				"document_id", id,
				"strikes", count)
		}
		return nil
	}

	switch res.Outcome {
	case pipeline.Renamed:
		stats.renamed++
	case pipeline.DryRun:
		stats.dryRun++
	case pipeline.Unchanged:
		stats.unchanged++
	default:
		stats.skipped++
	}
	switch res.Outcome {
	case pipeline.Renamed, pipeline.DryRun, pipeline.Unchanged:
		if m.deps.Strikes.Get(id) > 0 {
			m.deps.Strikes.Reset(id)
			stats.strikesReset++
		}
	}

	if err := m.registry.RecordProgress(job.ID, 1); err != nil {
		logger.Warn("failed to record progress", "document_id", id, "error", err)
	}
	return nil
}

// badTitle reports whether the pattern matches at the start of title
func (m *Manager) badTitle(title string) bool {
	loc := m.cfg.BadTitle.FindStringIndex(title)
	return loc != nil && loc[0] == 0
}

func (m *Manager) scan(ctx context.Context, logger *slog.Logger, job Job, stats *runStats) (*Result, error) {
	docs, err := m.deps.Lister.List(ctx, paperless.Filter{NewerThan: job.Params.NewerThan, PageSize: m.cfg.PageSize})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	summary := &ScanResult{TotalDocuments: len(docs)}
	res := &Result{Scan: summary}

	var targets []int
	for _, doc := range docs {
		if !m.badTitle(doc.Title) {
			continue
		}
		summary.BadTitleDocuments++
		if m.deps.Strikes.HasExceeded(doc.ID, m.cfg.MaxStrikes) {
			summary.SkippedStruck++
			logger.Debug("skipping document over max strikes",
				"document_id", doc.ID,
				"strikes", m.deps.Strikes.Get(doc.ID))
			continue
		}
		targets = append(targets, doc.ID)
	}

	logger.Info("found documents with bad titles",
		"total", summary.TotalDocuments,
		"bad_titles", summary.BadTitleDocuments,
		"skipped_struck", summary.SkippedStruck)

	return res, m.processAll(ctx, logger, job, targets, stats)
}

func (m *Manager) batch(ctx context.Context, logger *slog.Logger, job Job, stats *runStats) (*Result, error) {
	return nil, m.processAll(ctx, logger, job, job.Params.DocumentIDs, stats)
}

func (m *Manager) webhook(ctx context.Context, logger *slog.Logger, job Job, stats *runStats) (*Result, error) {
	for _, id := range job.Params.DocumentIDs {
		m.append(ctx, logger, &archive.WebhookTrigger{DocumentID: id})
	}
	return nil, m.processAll(ctx, logger, job, job.Params.DocumentIDs, stats)
}

// processAll processes documents sequentially, stopping at the next document
// boundary once ctx is done
func (m *Manager) processAll(ctx context.Context, logger *slog.Logger, job Job, ids []int, stats *runStats) error {
	if err := m.registry.BeginBatch(job.ID, len(ids)); err != nil {
		return err
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled after %d of %d documents: %w", i, len(ids), err)
		}
		if err := m.processOne(ctx, logger, job, id, stats); err != nil {
			return fmt.Errorf("cancelled after %d of %d documents: %w", i, len(ids), err)
		}
	}
	return nil
}

func (m *Manager) bulkIndex(ctx context.Context, logger *slog.Logger, job Job, stats *runStats) (*Result, error) {
	docs, err := m.deps.Lister.List(ctx, paperless.Filter{OlderThan: job.Params.OlderThan, PageSize: m.cfg.PageSize})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	logger.Info("fetched documents for indexing", "count", len(docs))

	summary := &IndexResult{}
	res := &Result{Index: summary}

	if err := m.registry.BeginBatch(job.ID, len(docs)); err != nil {
		return res, err
	}

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("cancelled after %d of %d documents: %w", i, len(docs), err)
		}
		m.indexOne(ctx, logger, doc, summary, stats)
		if err := m.registry.RecordProgress(job.ID, 1); err != nil {
			logger.Warn("failed to record progress", "document_id", doc.ID, "error", err)
		}
	}
	return res, nil
}

func (m *Manager) indexOne(ctx context.Context, logger *slog.Logger, doc paperless.Document, summary *IndexResult, stats *runStats) {
	if doc.Title == "" || doc.Content == "" {
		stats.skipped++
		return
	}
	if titles.IsScan(doc.Title) {
		summary.SkippedScan++
		stats.skipped++
		return
	}

	title, changed := titles.Clean(doc.Title)
	if changed {
		summary.Cleaned++
		logger.Debug("cleaned title for index", "document_id", doc.ID, "from", doc.Title, "to", title)
	}

	if err := m.deps.Indexer.IndexDocument(ctx, doc.ID, doc.Content, title); err != nil {
		summary.Failed++
		stats.failed++
		logger.Error("failed to index document", "document_id", doc.ID, "error", err)
		return
	}
	summary.Indexed++
}

// logSummary emits a single structured line describing a finished job
func (m *Manager) logSummary(logger *slog.Logger, id string, stats *runStats, elapsed time.Duration) {
	job, ok := m.registry.Get(id)
	if !ok {
		return
	}

	attrs := []any{
		slog.Group("run",
			slog.String("status", string(job.Status)),
			slog.Duration("duration", elapsed.Round(time.Millisecond)),
			slog.Int("total", job.Total),
			slog.Int("processed", job.Processed),
			slog.Int("errors", len(job.Errors)),
		),
		slog.Group("documents",
			slog.Int("renamed", stats.renamed),
			slog.Int("dry_run", stats.dryRun),
			slog.Int("unchanged", stats.unchanged),
			slog.Int("skipped", stats.skipped),
			slog.Int("failed", stats.failed),
		),
	}
	if job.Kind != KindBulkIndex {
		attrs = append(attrs, slog.Group("strikes",
			slog.Int("added", stats.strikesAdded),
			slog.Int("cleared", stats.strikesReset),
			slog.Int("tracked", m.deps.Strikes.Count()),
		))
	}
	if job.Result != nil {
		attrs = append(attrs, slog.Any("result", job.Result))
	}

	logger.Info("job complete", attrs...)

	if len(job.Errors) > 0 {
		logger.Warn("job errors",
			slog.Int("count", len(job.Errors)),
			slog.Any("errors", job.Errors),
		)
	}
}

// Close cancels running jobs, waits for them to stop and persists strikes
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()

	if err := m.deps.Strikes.Save(); err != nil {
		m.logger.Error("failed to save strikes on close", "error", err)
	}
	m.logger.Info("job manager closed")
}
