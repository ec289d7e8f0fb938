package jobs

import (
	"errors"
	"slices"
	"time"
)

var (
	ErrNotFound   = errors.New("job not found")
	ErrConflict   = errors.New("job already running")
	ErrNotRunning = errors.New("job is not running")
	ErrClosed     = errors.New("job manager closed")
)

// Kind identifies what a job does
type Kind string

const (
	KindScan           Kind = "scan"
	KindBulkIndex      Kind = "bulk-index"
	KindWebhookProcess Kind = "webhook-process"
	KindBatchProcess   Kind = "batch-process"
)

// Kinds lists every job kind
var Kinds = []Kind{KindScan, KindBulkIndex, KindWebhookProcess, KindBatchProcess}

// ValidKind reports whether s names a job kind
func ValidKind(s string) bool {
	return slices.Contains(Kinds, Kind(s))
}

// Status is the lifecycle state of a job. running is the only non-terminal state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IndexJobID is the fixed id of the singleton bulk index job
const IndexJobID = "index"

// DocumentError is a per-document failure recorded on a job
type DocumentError struct {
	DocumentID int    `json:"document_id"`
	Message    string `json:"error"`
}

// Params are the trigger parameters a job was started with
type Params struct {
	NewerThan   string `json:"newer_than,omitempty"`
	OlderThan   string `json:"older_than,omitempty"`
	DocumentIDs []int  `json:"document_ids,omitempty"`
}

// ScanResult summarises a finished scan
type ScanResult struct {
	TotalDocuments    int `json:"total_documents"`
	BadTitleDocuments int `json:"bad_title_documents"`
	SkippedStruck     int `json:"skipped_struck"`
}

// IndexResult summarises a finished bulk index
type IndexResult struct {
	Indexed     int `json:"indexed"`
	SkippedScan int `json:"skipped_scan"`
	Cleaned     int `json:"cleaned"`
	Failed      int `json:"failed"`
}

// Result holds the kind-specific summary of a job; at most one field is set
type Result struct {
	Scan  *ScanResult  `json:"scan,omitempty"`
	Index *IndexResult `json:"index,omitempty"`
}

// Job is a snapshot of a tracked job
type Job struct {
	ID          string          `json:"job_id"`
	Kind        Kind            `json:"type"`
	Status      Status          `json:"status"`
	Total       int             `json:"total"`
	Processed   int             `json:"processed"`
	Errors      []DocumentError `json:"errors"`
	Params      Params          `json:"params"`
	Result      *Result         `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	lastReportedAt time.Time
}

// clone returns a deep copy safe to hand out of the registry
func (j *Job) clone() Job {
	c := *j
	c.Errors = slices.Clone(j.Errors)
	if c.Errors == nil {
		c.Errors = []DocumentError{}
	}
	c.Params.DocumentIDs = slices.Clone(j.Params.DocumentIDs)
	if j.Result != nil {
		r := Result{}
		if j.Result.Scan != nil {
			s := *j.Result.Scan
			r.Scan = &s
		}
		if j.Result.Index != nil {
			i := *j.Result.Index
			r.Index = &i
		}
		c.Result = &r
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
