package archive

import (
	"database/sql"
	"fmt"
	"time"
)

// Kind names an archive table
type Kind string

const (
	KindIndex   Kind = "index"
	KindScan    Kind = "scan"
	KindRename  Kind = "rename"
	KindWebhook Kind = "webhook"
	KindError   Kind = "error"
)

// Kinds lists every queryable kind
var Kinds = []Kind{KindIndex, KindScan, KindRename, KindWebhook, KindError}

// Run status values stored on IndexRun and ScanRun
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Meta is common to every record. ID and Timestamp are assigned by Append
// when zero.
type Meta struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *Meta) meta() *Meta { return m }

// Record is one of IndexRun, ScanRun, Rename, WebhookTrigger or ErrorEntry
type Record interface {
	Kind() Kind
	meta() *Meta
}

// IndexRun summarises a bulk index job
type IndexRun struct {
	Meta
	DocumentsIndexed int    `json:"documents_indexed"`
	Skipped          int    `json:"skipped"`
	Cleaned          int    `json:"cleaned"`
	Failed           int    `json:"failed"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
}

func (*IndexRun) Kind() Kind { return KindIndex }

// ScanRun summarises a scan job
type ScanRun struct {
	Meta
	TotalDocuments    int    `json:"total_documents"`
	BadTitleDocuments int    `json:"bad_title_documents"`
	Status            string `json:"status"`
	Error             string `json:"error,omitempty"`
}

func (*ScanRun) Kind() Kind { return KindScan }

// Rename records a committed title change
type Rename struct {
	Meta
	DocumentID int    `json:"document_id"`
	OldTitle   string `json:"old_title"`
	NewTitle   string `json:"new_title"`
}

func (*Rename) Kind() Kind { return KindRename }

// WebhookTrigger records an accepted webhook
type WebhookTrigger struct {
	Meta
	DocumentID int `json:"document_id"`
}

func (*WebhookTrigger) Kind() Kind { return KindWebhook }

// ErrorEntry records a per-document or job-level failure. DocumentID is nil
// for job-level failures.
type ErrorEntry struct {
	Meta
	JobType    string `json:"job_type"`
	JobID      string `json:"job_id"`
	DocumentID *int   `json:"document_id"`
	Message    string `json:"message"`
}

func (*ErrorEntry) Kind() Kind { return KindError }

type rowScanner interface {
	Scan(dest ...any) error
}

// table maps a Kind onto its SQLite table
type table struct {
	name    string
	ddl     string
	columns []string
	values  func(Record) []any
	scan    func(rowScanner) (Record, error)
}

var tables = map[Kind]table{
	KindIndex: {
		name: "index_runs",
		ddl: `documents_indexed INTEGER NOT NULL,
			skipped INTEGER NOT NULL DEFAULT 0,
			cleaned INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''`,
		columns: []string{"documents_indexed", "skipped", "cleaned", "failed", "status", "error"},
		values: func(r Record) []any {
			v := r.(*IndexRun)
			return []any{v.DocumentsIndexed, v.Skipped, v.Cleaned, v.Failed, v.Status, v.Error}
		},
		scan: func(s rowScanner) (Record, error) {
			var v IndexRun
			var ts string
			if err := s.Scan(&v.ID, &ts, &v.DocumentsIndexed, &v.Skipped, &v.Cleaned, &v.Failed, &v.Status, &v.Error); err != nil {
				return nil, err
			}
			return &v, parseTimestamp(ts, &v.Meta)
		},
	},
	KindScan: {
		name: "scan_runs",
		ddl: `total_documents INTEGER NOT NULL,
			bad_title_documents INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''`,
		columns: []string{"total_documents", "bad_title_documents", "status", "error"},
		values: func(r Record) []any {
			v := r.(*ScanRun)
			return []any{v.TotalDocuments, v.BadTitleDocuments, v.Status, v.Error}
		},
		scan: func(s rowScanner) (Record, error) {
			var v ScanRun
			var ts string
			if err := s.Scan(&v.ID, &ts, &v.TotalDocuments, &v.BadTitleDocuments, &v.Status, &v.Error); err != nil {
				return nil, err
			}
			return &v, parseTimestamp(ts, &v.Meta)
		},
	},
	KindRename: {
		name: "title_renames",
		ddl: `document_id INTEGER NOT NULL,
			old_title TEXT NOT NULL,
			new_title TEXT NOT NULL`,
		columns: []string{"document_id", "old_title", "new_title"},
		values: func(r Record) []any {
			v := r.(*Rename)
			return []any{v.DocumentID, v.OldTitle, v.NewTitle}
		},
		scan: func(s rowScanner) (Record, error) {
			var v Rename
			var ts string
			if err := s.Scan(&v.ID, &ts, &v.DocumentID, &v.OldTitle, &v.NewTitle); err != nil {
				return nil, err
			}
			return &v, parseTimestamp(ts, &v.Meta)
		},
	},
	KindWebhook: {
		name:    "webhook_triggers",
		ddl:     `document_id INTEGER NOT NULL`,
		columns: []string{"document_id"},
		values: func(r Record) []any {
			return []any{r.(*WebhookTrigger).DocumentID}
		},
		scan: func(s rowScanner) (Record, error) {
			var v WebhookTrigger
			var ts string
			if err := s.Scan(&v.ID, &ts, &v.DocumentID); err != nil {
				return nil, err
			}
			return &v, parseTimestamp(ts, &v.Meta)
		},
	},
	KindError: {
		name: "errors",
		ddl: `job_type TEXT NOT NULL,
			job_id TEXT NOT NULL,
			document_id INTEGER,
			message TEXT NOT NULL`,
		columns: []string{"job_type", "job_id", "document_id", "message"},
		values: func(r Record) []any {
			v := r.(*ErrorEntry)
			var docID sql.NullInt64
			if v.DocumentID != nil {
				docID = sql.NullInt64{Int64: int64(*v.DocumentID), Valid: true}
			}
			return []any{v.JobType, v.JobID, docID, v.Message}
		},
		scan: func(s rowScanner) (Record, error) {
			var v ErrorEntry
			var ts string
			var docID sql.NullInt64
			if err := s.Scan(&v.ID, &ts, &v.JobType, &v.JobID, &docID, &v.Message); err != nil {
				return nil, err
			}
			if docID.Valid {
				id := int(docID.Int64)
				v.DocumentID = &id
			}
			return &v, parseTimestamp(ts, &v.Meta)
		},
	},
}

// timestampLayout is fixed width so lexical order in SQLite matches time order
const timestampLayout = "2006-01-02T15:04:05.000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string, m *Meta) error {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	m.Timestamp = t
	return nil
}
