// Package strikes counts per-document processing failures so scans can skip
// documents the model keeps failing on.
package strikes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Record holds the failure history of one document
type Record struct {
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	// Job is the kind of the job that last failed on the document
	Job       string `json:"job"`
	LastError string `json:"last_error,omitempty"`
}

// Handler tracks strikes keyed by document ID and persists them as JSON
type Handler struct {
	strikes     map[string]*Record
	mu          sync.RWMutex
	persistPath string
	logger      *slog.Logger
	now         func() time.Time
}

// NewHandler creates a handler, loading persistPath when it exists
func NewHandler(persistPath string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		strikes:     make(map[string]*Record),
		persistPath: persistPath,
		logger:      logger.With("component", "strikes"),
		now:         time.Now,
	}

	if persistPath != "" {
		if err := h.Load(); err != nil {
			h.logger.Warn("failed to load persisted strikes, starting fresh", "error", err)
		}
	}

	return h
}

func key(documentID int) string {
	return strconv.Itoa(documentID)
}

// Add records a failure for a document and returns its new strike count
func (h *Handler) Add(documentID int, job, message string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	k := key(documentID)
	record, exists := h.strikes[k]
	if !exists {
		record = &Record{FirstSeen: now}
		h.strikes[k] = record
	}
	record.Count++
	record.LastSeen = now
	record.Job = job
	record.LastError = message

	return record.Count
}

// Get returns the current strike count for a document
func (h *Handler) Get(documentID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if record, exists := h.strikes[key(documentID)]; exists {
		return record.Count
	}
	return 0
}

// Reset clears a document's strikes after it was processed successfully
func (h *Handler) Reset(documentID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.strikes, key(documentID))
}

// HasExceeded reports whether a document reached maxStrikes. A maxStrikes of
// zero disables skipping.
func (h *Handler) HasExceeded(documentID int, maxStrikes int) bool {
	if maxStrikes <= 0 {
		return false
	}
	return h.Get(documentID) >= maxStrikes
}

// Count returns the number of documents with strikes
func (h *Handler) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.strikes)
}

// Records returns a copy of all strike records keyed by document ID
func (h *Handler) Records() map[int]Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[int]Record, len(h.strikes))
	for k, v := range h.strikes {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		result[id] = *v
	}
	return result
}

// Save persists strikes to disk
func (h *Handler) Save() error {
	if h.persistPath == "" {
		return nil
	}

	h.mu.RLock()
	data, err := json.MarshalIndent(h.strikes, "", "  ")
	count := len(h.strikes)
	h.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("marshal strikes: %w", err)
	}

	dir := filepath.Dir(h.persistPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	// write via temp file so a crash never leaves a truncated file
	tmpPath := h.persistPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, h.persistPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	h.logger.Debug("persisted strikes", "path", h.persistPath, "count", count)
	return nil
}

// Load restores strikes from disk
func (h *Handler) Load() error {
	if h.persistPath == "" {
		return nil
	}

	data, err := os.ReadFile(h.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read file: %w", err)
	}

	loaded := make(map[string]*Record)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("unmarshal strikes: %w", err)
	}

	h.mu.Lock()
	h.strikes = loaded
	h.mu.Unlock()

	h.logger.Debug("loaded persisted strikes", "path", h.persistPath, "count", len(loaded))
	return nil
}

// Cleanup removes strikes not seen within maxAge
func (h *Handler) Cleanup(maxAge time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-maxAge)
	removed := 0

	for id, record := range h.strikes {
		if record.LastSeen.Before(cutoff) {
			delete(h.strikes, id)
			removed++
		}
	}

	if removed > 0 {
		h.logger.Debug("cleaned up stale strikes", "removed", removed, "max_age", maxAge)
	}

	return removed
}
