package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultProgressInterval is the minimum spacing of progress notifications
const DefaultProgressInterval = time.Second

// latch is a resettable broadcast signal. Callers must hold the registry mutex.
type latch struct {
	ch  chan struct{}
	set bool
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

func (l *latch) signal() {
	if !l.set {
		close(l.ch)
		l.set = true
	}
}

func (l *latch) clear() {
	if l.set {
		l.ch = make(chan struct{})
		l.set = false
	}
}

// Registry tracks jobs in memory and wakes long-poll waiters when they change.
// A single mutex guards jobs and latches; it is never held across I/O.
type Registry struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	latches  map[string]*latch
	all      *latch
	interval time.Duration
	now      func() time.Time
}

// NewRegistry creates a registry that throttles progress signals to one per
// interval per job. A non-positive interval uses DefaultProgressInterval.
func NewRegistry(interval time.Duration) *Registry {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &Registry{
		jobs:     make(map[string]*Job),
		latches:  make(map[string]*latch),
		all:      newLatch(),
		interval: interval,
		now:      time.Now,
	}
}

func (r *Registry) latchFor(id string) *latch {
	l, ok := r.latches[id]
	if !ok {
		l = newLatch()
		r.latches[id] = l
	}
	return l
}

// signal wakes waiters on a job and on the all-jobs latch. Caller holds r.mu.
func (r *Registry) signal(j *Job) {
	j.lastReportedAt = r.now()
	r.latchFor(j.ID).signal()
	r.all.signal()
}

func (r *Registry) running(id string) (*Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if j.Status.Terminal() {
		return nil, fmt.Errorf("%s: %w", id, ErrNotRunning)
	}
	return j, nil
}

// Create registers a running job. A terminal job with the same id is
// replaced; a running one yields ErrConflict. The job starts with an unset
// latch and the all-jobs latch is signaled.
func (r *Registry) Create(id string, kind Kind, params Params) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[id]; ok && !existing.Status.Terminal() {
		return Job{}, fmt.Errorf("%s: %w", id, ErrConflict)
	}

	j := &Job{
		ID:        id,
		Kind:      kind,
		Status:    StatusRunning,
		Errors:    []DocumentError{},
		Params:    params,
		CreatedAt: r.now(),
	}
	if n := len(params.DocumentIDs); n > 0 {
		j.Total = n
	}
	r.jobs[id] = j
	j.lastReportedAt = j.CreatedAt
	r.latches[id] = newLatch()
	r.all.signal()
	return j.clone(), nil
}

// BeginBatch sets the number of documents a job will process and resets its
// counters
func (r *Registry) BeginBatch(id string, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.running(id)
	if err != nil {
		return err
	}
	j.Total = max(total, 0)
	j.Processed = 0
	j.Errors = []DocumentError{}
	r.signal(j)
	return nil
}

// RecordProgress advances a job's processed count. Waiters are woken at most
// once per interval.
func (r *Registry) RecordProgress(id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.running(id)
	if err != nil {
		return err
	}
	if delta > 0 {
		j.Processed += delta
	}
	if r.now().Sub(j.lastReportedAt) >= r.interval {
		r.signal(j)
	}
	return nil
}

// RecordError appends a per-document error, counts the document as processed
// and wakes waiters immediately
func (r *Registry) RecordError(id string, documentID int, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.running(id)
	if err != nil {
		return err
	}
	j.Errors = append(j.Errors, DocumentError{DocumentID: documentID, Message: message})
	j.Processed++
	r.signal(j)
	return nil
}

// Complete marks a running job completed
func (r *Registry) Complete(id string, result *Result) error {
	return r.finish(id, StatusCompleted, "", result)
}

// Fail marks a running job failed. Work already recorded is kept.
func (r *Registry) Fail(id string, message string, result *Result) error {
	return r.finish(id, StatusFailed, message, result)
}

func (r *Registry) finish(id string, status Status, message string, result *Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.running(id)
	if err != nil {
		return err
	}
	now := r.now()
	j.Status = status
	j.Error = message
	j.Result = result
	j.CompletedAt = &now
	r.signal(j)
	return nil
}

// Get returns a snapshot of a job
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// Running reports whether any job of kind is running
func (r *Registry) Running(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range r.jobs {
		if j.Kind == kind && !j.Status.Terminal() {
			return true
		}
	}
	return false
}

// All returns snapshots of every job keyed by id
func (r *Registry) All() map[string]Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() map[string]Job {
	out := make(map[string]Job, len(r.jobs))
	for id, j := range r.jobs {
		out[id] = j.clone()
	}
	return out
}

// Wait blocks until the job changes, timeout elapses or ctx is done, and
// returns the job's state at that point. Terminal jobs return immediately.
func (r *Registry) Wait(ctx context.Context, id string, timeout time.Duration) (Job, error) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return Job{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if j.Status.Terminal() || timeout <= 0 {
		snap := j.clone()
		r.mu.Unlock()
		return snap, nil
	}
	ch := r.latchFor(id).ch
	r.mu.Unlock()

	wait(ctx, ch, timeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.latchFor(id)
	if l.ch == ch {
		l.clear()
	}
	return r.jobs[id].clone(), nil
}

// WaitAll blocks until any job changes, timeout elapses or ctx is done, and
// returns snapshots of every job
func (r *Registry) WaitAll(ctx context.Context, timeout time.Duration) map[string]Job {
	r.mu.Lock()
	if timeout <= 0 {
		defer r.mu.Unlock()
		return r.snapshotLocked()
	}
	ch := r.all.ch
	r.mu.Unlock()

	wait(ctx, ch, timeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.all.ch == ch {
		r.all.clear()
	}
	return r.snapshotLocked()
}

func wait(ctx context.Context, ch <-chan struct{}, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
	}
}
