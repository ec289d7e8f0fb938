package strikes

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewHandler(t *testing.T) {
	tests := []struct {
		name        string
		persistPath string
	}{
		{name: "with persist path", persistPath: filepath.Join(t.TempDir(), "strikes.json")},
		{name: "without persist path", persistPath: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.persistPath, nil)
			if h == nil {
				t.Fatal("expected non-nil handler")
			}
			if h.persistPath != tt.persistPath {
				t.Errorf("expected persistPath %s, got %s", tt.persistPath, h.persistPath)
			}
			if h.Count() != 0 {
				t.Errorf("expected no strikes, got %d", h.Count())
			}
		})
	}
}

func TestAdd(t *testing.T) {
	h := NewHandler("", quietLogger())

	tests := []struct {
		name       string
		documentID int
		job        string
		wantCount  int
	}{
		{name: "first strike", documentID: 10, job: "scan", wantCount: 1},
		{name: "second strike same document", documentID: 10, job: "scan", wantCount: 2},
		{name: "third strike from another job", documentID: 10, job: "webhook-process", wantCount: 3},
		{name: "different document", documentID: 11, job: "scan", wantCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count := h.Add(tt.documentID, tt.job, "generation failed")
			if count != tt.wantCount {
				t.Errorf("expected count %d, got %d", tt.wantCount, count)
			}
		})
	}

	if h.Count() != 2 {
		t.Errorf("expected 2 documents with strikes, got %d", h.Count())
	}
	if rec := h.Records()[10]; rec.Job != "webhook-process" {
		t.Errorf("expected last job webhook-process, got %s", rec.Job)
	}
}

func TestHasExceeded(t *testing.T) {
	h := NewHandler("", quietLogger())
	h.Add(1, "scan", "x")
	h.Add(1, "scan", "x")

	tests := []struct {
		name       string
		documentID int
		max        int
		want       bool
	}{
		{"below max", 1, 3, false},
		{"at max", 1, 2, true},
		{"unknown document", 2, 1, false},
		{"zero disables", 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.HasExceeded(tt.documentID, tt.max); got != tt.want {
				t.Errorf("HasExceeded(%d, %d) = %v, want %v", tt.documentID, tt.max, got, tt.want)
			}
		})
	}
}

func TestReset(t *testing.T) {
	h := NewHandler("", quietLogger())
	h.Add(1, "scan", "x")
	h.Add(2, "scan", "x")

	h.Reset(1)
	h.Reset(99)

	if h.Get(1) != 0 {
		t.Errorf("expected 0 strikes after reset, got %d", h.Get(1))
	}
	if h.Get(2) != 1 {
		t.Errorf("expected other document untouched, got %d", h.Get(2))
	}

}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "strikes.json")

	h := NewHandler(path, quietLogger())
	h.Add(5, "scan", "model returned nothing")
	h.Add(5, "scan", "model returned nothing")
	h.Add(6, "batch-process", "not found")

	if err := h.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]Record
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["5"].Count != 2 {
		t.Errorf("expected persisted count 2, got %d", raw["5"].Count)
	}

	loaded := NewHandler(path, quietLogger())
	if loaded.Get(5) != 2 || loaded.Get(6) != 1 {
		t.Errorf("expected restored counts (2, 1), got (%d, %d)", loaded.Get(5), loaded.Get(6))
	}
	if loaded.Records()[6].LastError != "not found" {
		t.Errorf("expected last error restored, got %q", loaded.Records()[6].LastError)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strikes.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	h := NewHandler(path, quietLogger())
	if h.Count() != 0 {
		t.Errorf("expected fresh start on corrupt file, got %d", h.Count())
	}
}

func TestCleanup(t *testing.T) {
	h := NewHandler("", quietLogger())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	h.now = func() time.Time { return base }
	h.Add(1, "scan", "old")
	h.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	h.Add(2, "scan", "recent")

	removed := h.Cleanup(7 * 24 * time.Hour)
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if h.Get(1) != 0 || h.Get(2) != 1 {
		t.Errorf("expected only the stale strike removed")
	}
}

func TestConcurrentAdd(t *testing.T) {
	h := NewHandler("", quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Add(1, "scan", "x")
		}()
	}
	wg.Wait()

	if h.Get(1) != 50 {
		t.Errorf("expected 50 strikes, got %d", h.Get(1))
	}
}
