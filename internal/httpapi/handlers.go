package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/go-retitler/internal/archive"
	"github.com/jmylchreest/go-retitler/internal/jobs"
	"github.com/jmylchreest/go-retitler/internal/outliers"
)

// maxBody bounds trigger payloads
const maxBody = 1 << 20

var documentURLPattern = regexp.MustCompile(`/documents/(\d+)/?`)

// dateParam reads an optional YYYY-MM-DD query parameter
func dateParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", nil
	}
	if _, err := time.Parse(time.DateOnly, v); err != nil {
		return "", fmt.Errorf("invalid %s %q: expected YYYY-MM-DD", name, v)
	}
	return v, nil
}

// intParam reads an optional integer query parameter
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return v, nil
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	newerThan, err := dateParam(r, "newer_than")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	job, err := s.jobs.StartScan(newerThan)
	if err != nil {
		s.startFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "scan_started",
		"job_id":     job.ID,
		"newer_than": nullable(newerThan),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	olderThan, err := dateParam(r, "older_than")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	job, err := s.jobs.StartBulkIndex(olderThan)
	if err != nil {
		s.startFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "indexing_started",
		"job_id":     job.ID,
		"older_than": nullable(olderThan),
	})
}

func (s *Server) handleProcessDocuments(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentIDs []int `json:"document_ids"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	if len(body.DocumentIDs) == 0 {
		writeErr(w, http.StatusBadRequest, errors.New("no document_ids provided"))
		return
	}

	job, err := s.jobs.StartBatch(body.DocumentIDs)
	if err != nil {
		s.startFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "processing_started",
		"document_count": len(body.DocumentIDs),
		"document_ids":   body.DocumentIDs,
		"job_id":         job.ID,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Paperless can be configured to post the bare document URL
		payload = strings.TrimSpace(string(raw))
	}
	s.logger.Info("received webhook", "payload", payload)

	id, ok := webhookDocumentID(payload)
	if !ok {
		s.logger.Warn("webhook payload missing document id or document url", "payload", payload)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "missing_document_id"})
		return
	}

	job, err := s.jobs.StartWebhook(id)
	if err != nil {
		s.startFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "processing_started",
		"document_id": id,
		"job_id":      job.ID,
	})
}

// webhookDocumentID accepts {"document_id": n}, an object with a url,
// document_url or link field, or a bare URL string
func webhookDocumentID(payload any) (int, bool) {
	var url string
	switch p := payload.(type) {
	case string:
		url = p
	case map[string]any:
		if id, ok := positiveInt(p["document_id"]); ok {
			return id, true
		}
		for _, key := range []string{"url", "document_url", "link"} {
			if v, ok := p[key].(string); ok && v != "" {
				url = v
				break
			}
		}
	}
	if url == "" {
		return 0, false
	}
	m := documentURLPattern.FindStringSubmatch(url)
	if m == nil {
		return 0, false
	}
	return positiveInt(m[1])
}

func positiveInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n >= 1 && n == float64(int(n)) {
			return int(n), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil && i >= 1 {
			return i, true
		}
	}
	return 0, false
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobID := strings.TrimSpace(q.Get("job_id"))

	wait := false
	if raw := q.Get("wait"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid wait: %s", raw))
			return
		}
		wait = v
	}

	timeout := s.cfg.DefaultWait
	if raw := q.Get("timeout"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid timeout: %s", raw))
			return
		}
		timeout = time.Duration(secs) * time.Second
	}
	timeout = min(timeout, s.cfg.MaxWait)
	if !wait {
		timeout = 0
	}

	registry := s.jobs.Registry()
	if jobID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": registry.WaitAll(r.Context(), timeout)})
		return
	}

	job, err := registry.Wait(r.Context(), jobID, timeout)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeErr(w, http.StatusNotFound, errors.New("job not found"))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleFindOutliers(w http.ResponseWriter, r *http.Request) {
	k, err := intParam(r, "k_neighbors", 5)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	scores, err := s.ranker.Rank(r.Context(), k, limit)
	if err != nil {
		if errors.Is(err, outliers.ErrInvalidArgument) {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Error("error finding outliers", "error", err)
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"count":    len(scores),
		"outliers": scores,
	})
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := archive.ParseKind(q.Get("type"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	limit, err := intParam(r, "limit", archive.DefaultLimit)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.archive.Query(r.Context(), kind, archive.Query{
		Page:  page,
		Limit: limit,
		Start: q.Get("start_date"),
		End:   q.Get("end_date"),
	})
	if err != nil {
		if errors.Is(err, archive.ErrInvalidDate) {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Error("error querying archive", "type", string(kind), "error", err)
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClearArchive(w http.ResponseWriter, r *http.Request) {
	kind, err := archive.ParseKind(r.URL.Query().Get("type"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	n, err := s.archive.Clear(r.Context(), kind)
	if err != nil {
		if errors.Is(err, archive.ErrNotClearable) {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("only 'error' archive type can be cleared, got %q", kind))
			return
		}
		s.logger.Error("error clearing archive", "type", string(kind), "error", err)
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "deleted_count": n})
}

// startFailed maps a job start error onto a response
func (s *Server) startFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrConflict) {
		writeErr(w, http.StatusConflict, errors.New("job is already running, wait for it to complete or check /api/progress"))
		return
	}
	s.logger.Error("failed to start job", "error", err)
	writeErr(w, http.StatusServiceUnavailable, err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
