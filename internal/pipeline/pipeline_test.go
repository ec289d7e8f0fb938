package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/go-retitler/internal/archive"
	"github.com/jmylchreest/go-retitler/internal/llm"
	"github.com/jmylchreest/go-retitler/internal/paperless"
	"github.com/jmylchreest/go-retitler/internal/vectorindex"
)

type fakeSource struct {
	docs        map[int]*paperless.Document
	fetchErr    error
	updateErr   error
	probeType   string
	probeErr    error
	original    []byte
	originalErr error
	// afterUpdate runs once a title update has succeeded
	afterUpdate func()

	updates []string
	probes  int
}

func (f *fakeSource) Document(_ context.Context, id int) (*paperless.Document, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("get document %d: %w", id, paperless.ErrNotFound)
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeSource) UpdateTitle(_ context.Context, id int, title string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, fmt.Sprintf("%d:%s", id, title))
	if f.afterUpdate != nil {
		f.afterUpdate()
	}
	return nil
}

func (f *fakeSource) ResolveMIMEType(context.Context, int) (string, error) {
	f.probes++
	return f.probeType, f.probeErr
}

func (f *fakeSource) Original(context.Context, int) ([]byte, error) {
	return f.original, f.originalErr
}

type fakeGenerator struct {
	title    string
	err      error
	panicMsg string

	textCalls  int
	imageCalls int
	examples   []llm.Example
	imageMIME  string
}

func (f *fakeGenerator) TitleFromText(_ context.Context, _, _ string, examples []llm.Example) (string, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.textCalls++
	f.examples = examples
	return f.title, f.err
}

func (f *fakeGenerator) TitleFromImage(_ context.Context, _ []byte, mimeType, _ string) (string, error) {
	f.imageCalls++
	f.imageMIME = mimeType
	return f.title, f.err
}

type fakeIndex struct {
	neighbors  []vectorindex.Neighbor
	similarErr error
	indexErr   error

	indexed []string
	texts   []string
	lastN   int
}

func (f *fakeIndex) IndexDocument(ctx context.Context, id int, text, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.indexed = append(f.indexed, fmt.Sprintf("%d:%s", id, title))
	f.texts = append(f.texts, text)
	return f.indexErr
}

func (f *fakeIndex) Similar(_ context.Context, _ string, n int) ([]vectorindex.Neighbor, error) {
	f.lastN = n
	return f.neighbors, f.similarErr
}

type fakeArchive struct {
	records []archive.Record
	err     error
}

func (f *fakeArchive) Append(ctx context.Context, r archive.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, r)
	return nil
}

type fixture struct {
	source  *fakeSource
	gen     *fakeGenerator
	index   *fakeIndex
	archive *fakeArchive
}

func newFixture() *fixture {
	return &fixture{
		source: &fakeSource{docs: map[int]*paperless.Document{
			1: {ID: 1, Title: "Scan_001", Content: "Invoice 123 from ACME", MIMEType: "application/pdf"},
		}},
		gen:     &fakeGenerator{title: "Invoice ACME"},
		index:   &fakeIndex{},
		archive: &fakeArchive{},
	}
}

func (f *fixture) pipeline(cfg Config) *Pipeline {
	return New(f.source, f.gen, f.index, f.archive, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProcessDecisions(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		genErr   error
		outcome  Outcome
		updates  int
		archived int
		indexed  int
	}{
		{name: "rename", title: "Invoice ACME", outcome: Renamed, updates: 1, archived: 1, indexed: 1},
		{name: "rename trims", title: "  Invoice ACME \n", outcome: Renamed, updates: 1, archived: 1, indexed: 1},
		{name: "generation failure", genErr: errors.New("model offline"), outcome: Failed},
		{name: "same title", title: "Scan_001", outcome: Unchanged},
		{name: "empty title", title: "   ", outcome: EmptyTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.gen.title = tt.title
			f.gen.err = tt.genErr

			res := f.pipeline(Config{SimilarDocuments: 3}).Process(context.Background(), 1)

			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, 1, f.gen.textCalls)
			assert.Len(t, f.source.updates, tt.updates)
			assert.Len(t, f.archive.records, tt.archived)
			assert.Len(t, f.index.indexed, tt.indexed)
			assert.Equal(t, "Scan_001", res.OldTitle)
		})
	}
}

func TestProcessRenameCommits(t *testing.T) {
	f := newFixture()
	res := f.pipeline(Config{}).Process(context.Background(), 1)

	require.Equal(t, Renamed, res.Outcome)
	assert.Equal(t, "Invoice ACME", res.NewTitle)
	assert.Equal(t, []string{"1:Invoice ACME"}, f.source.updates)
	assert.Equal(t, []string{"1:Invoice ACME"}, f.index.indexed)

	require.Len(t, f.archive.records, 1)
	rename := f.archive.records[0].(*archive.Rename)
	assert.Equal(t, 1, rename.DocumentID)
	assert.Equal(t, "Scan_001", rename.OldTitle)
	assert.Equal(t, "Invoice ACME", rename.NewTitle)
}

func TestProcessCommitSurvivesCancellation(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.source.afterUpdate = cancel

	res := f.pipeline(Config{}).Process(ctx, 1)

	require.Equal(t, Renamed, res.Outcome)
	assert.Equal(t, []string{"1:Invoice ACME"}, f.source.updates)
	require.Len(t, f.archive.records, 1)
	assert.Equal(t, "Invoice ACME", f.archive.records[0].(*archive.Rename).NewTitle)
	assert.Equal(t, []string{"1:Invoice ACME"}, f.index.indexed)
}

func TestProcessCommitSurvivesCancellationWithStore(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()

	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.source.afterUpdate = cancel

	p := New(f.source, f.gen, f.index, store, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res := p.Process(ctx, 1)
	require.Equal(t, Renamed, res.Outcome)

	page, err := store.Query(context.Background(), archive.KindRename, archive.Query{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestProcessGenerationFailureMessage(t *testing.T) {
	f := newFixture()
	f.gen.err = errors.New("connection refused")

	res := f.pipeline(Config{}).Process(context.Background(), 1)
	assert.Equal(t, Failed, res.Outcome)
	assert.True(t, res.Outcome.IsError())
	assert.Contains(t, res.Message, "connection refused")
	assert.Contains(t, res.Message, "Scan_001")
}

func TestProcessDryRun(t *testing.T) {
	f := newFixture()
	res := f.pipeline(Config{DryRun: true}).Process(context.Background(), 1)

	assert.Equal(t, DryRun, res.Outcome)
	assert.Equal(t, "Invoice ACME", res.NewTitle)
	assert.Empty(t, f.source.updates)
	assert.Empty(t, f.archive.records)
	assert.Empty(t, f.index.indexed)
}

func TestProcessNotFound(t *testing.T) {
	f := newFixture()
	res := f.pipeline(Config{}).Process(context.Background(), 404)

	assert.Equal(t, NotFound, res.Outcome)
	assert.True(t, res.Outcome.IsError())
	assert.Contains(t, res.Message, "404")
	assert.Zero(t, f.gen.textCalls)
}

func TestProcessFetchError(t *testing.T) {
	f := newFixture()
	f.source.fetchErr = errors.New("timeout")

	res := f.pipeline(Config{}).Process(context.Background(), 1)
	assert.Equal(t, NotFound, res.Outcome)
	assert.Contains(t, res.Message, "timeout")
}

func TestProcessNoContent(t *testing.T) {
	f := newFixture()
	f.source.docs[1].Content = "  \n"

	res := f.pipeline(Config{}).Process(context.Background(), 1)
	assert.Equal(t, NoContent, res.Outcome)
	assert.False(t, res.Outcome.IsError())
	assert.Zero(t, f.gen.textCalls)
}

func TestProcessUpdateFailureAbortsCommit(t *testing.T) {
	f := newFixture()
	f.source.updateErr = errors.New("HTTP 500")

	res := f.pipeline(Config{}).Process(context.Background(), 1)
	assert.Equal(t, Failed, res.Outcome)
	assert.Contains(t, res.Message, "HTTP 500")
	assert.Empty(t, f.archive.records)
	assert.Empty(t, f.index.indexed)
}

func TestProcessArchiveAndReindexFailuresStillRenamed(t *testing.T) {
	f := newFixture()
	f.archive.err = errors.New("disk full")
	f.index.indexErr = errors.New("embedding failed")

	res := f.pipeline(Config{}).Process(context.Background(), 1)
	assert.Equal(t, Renamed, res.Outcome)
	assert.Len(t, f.source.updates, 1)
	assert.Len(t, f.index.indexed, 1)
}

func TestProcessExamples(t *testing.T) {
	f := newFixture()
	f.index.neighbors = []vectorindex.Neighbor{
		{Entry: vectorindex.Entry{DocumentID: "1", Title: "Scan_001"}},
		{Entry: vectorindex.Entry{DocumentID: "7", Title: "Invoice Globex", Content: "Invoice 9"}},
		{Entry: vectorindex.Entry{DocumentID: "8", Title: "Invoice Initech"}},
		{Entry: vectorindex.Entry{DocumentID: "9", Title: "Receipt"}},
	}

	f.pipeline(Config{SimilarDocuments: 2}).Process(context.Background(), 1)

	assert.Equal(t, 3, f.index.lastN)
	assert.Equal(t, []llm.Example{
		{Title: "Invoice Globex", Content: "Invoice 9"},
		{Title: "Invoice Initech"},
	}, f.gen.examples)
}

func TestProcessSimilarLookupFailureContinues(t *testing.T) {
	f := newFixture()
	f.index.similarErr = errors.New("pool closed")

	res := f.pipeline(Config{SimilarDocuments: 3}).Process(context.Background(), 1)
	assert.Equal(t, Renamed, res.Outcome)
	assert.Empty(t, f.gen.examples)
}

func TestProcessVision(t *testing.T) {
	f := newFixture()
	f.source.docs[2] = &paperless.Document{ID: 2, Title: "IMG_0001", OriginalMIMEType: "image/jpeg"}
	f.source.original = []byte{0xff, 0xd8}
	f.gen.title = "Passport"

	res := f.pipeline(Config{}).Process(context.Background(), 2)
	assert.Equal(t, Renamed, res.Outcome)
	assert.Equal(t, 1, f.gen.imageCalls)
	assert.Zero(t, f.gen.textCalls)
	assert.Equal(t, "image/jpeg", f.gen.imageMIME)
	// no content, so the title is what gets embedded
	assert.Equal(t, []string{"2:Passport"}, f.index.indexed)
	assert.Equal(t, []string{"Passport"}, f.index.texts)
}

func TestProcessVisionMixedCaseMIMEType(t *testing.T) {
	f := newFixture()
	f.source.docs[3] = &paperless.Document{ID: 3, Title: "IMG_0002", OriginalMIMEType: "Image/JPEG"}
	f.source.original = []byte{0xff, 0xd8}
	f.gen.title = "Receipt"

	res := f.pipeline(Config{}).Process(context.Background(), 3)
	assert.Equal(t, Renamed, res.Outcome)
	assert.Equal(t, 1, f.gen.imageCalls)
	assert.Equal(t, "image/jpeg", f.gen.imageMIME)
}

func TestProcessVisionDownloadFailure(t *testing.T) {
	f := newFixture()
	f.source.docs[2] = &paperless.Document{ID: 2, Title: "IMG_0001", MediaType: "image/png"}
	f.source.originalErr = errors.New("HTTP 403")

	res := f.pipeline(Config{}).Process(context.Background(), 2)
	assert.Equal(t, Failed, res.Outcome)
	assert.Zero(t, f.gen.imageCalls)
}

func TestResolveMIMETypeChain(t *testing.T) {
	tests := []struct {
		name      string
		doc       paperless.Document
		probeType string
		probeErr  error
		want      string
		probes    int
	}{
		{"document field", paperless.Document{MIMEType: "application/pdf"}, "image/png", nil, "application/pdf", 0},
		{"probe", paperless.Document{OriginalFileName: "x.pdf"}, "image/png", nil, "image/png", 1},
		{"probe error falls back to filename", paperless.Document{OriginalFileName: "photo.JPG"}, "", errors.New("boom"), "image/jpeg", 1},
		{"nothing known", paperless.Document{OriginalFileName: "notes"}, "", nil, "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.source.probeType = tt.probeType
			f.source.probeErr = tt.probeErr
			p := f.pipeline(Config{})

			doc := tt.doc
			assert.Equal(t, tt.want, p.resolveMIMEType(context.Background(), &doc))
			assert.Equal(t, tt.probes, f.source.probes)
		})
	}
}

func TestProcessRecoversPanic(t *testing.T) {
	f := newFixture()
	f.gen.panicMsg = "nil map"

	res := f.pipeline(Config{}).Process(context.Background(), 1)
	assert.Equal(t, Failed, res.Outcome)
	assert.Contains(t, res.Message, "nil map")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "renamed", Renamed.String())
	assert.Equal(t, "dry_run", DryRun.String())
	assert.Equal(t, "not_found", NotFound.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

func TestMimeFromFilename(t *testing.T) {
	assert.Equal(t, "application/pdf", mimeFromFilename("scan.PDF"))
	assert.Equal(t, "image/tiff", mimeFromFilename("fax.tif"))
	assert.Equal(t, "", mimeFromFilename("README"))
	assert.Equal(t, "", mimeFromFilename(""))
}
