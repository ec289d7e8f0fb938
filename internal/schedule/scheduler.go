// Package schedule starts scans on a cron schedule.
package schedule

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/go-retitler/internal/jobs"
)

// ScanStarter starts tracked scan jobs
type ScanStarter interface {
	ScanRunning() bool
	StartScan(newerThan string) (jobs.Job, error)
}

// Scheduler triggers a scan on every tick of a standard five-field cron
// expression. A tick is skipped while a scan is still running.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	starter ScanStarter
	logger  *slog.Logger
}

// New creates a scheduler; the expression is validated by Start
func New(spec string, starter ScanStarter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		spec:    spec,
		starter: starter,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start registers the scan and starts the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.Tick); err != nil {
		return fmt.Errorf("register scan schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "cron", s.spec)
	return nil
}

// Tick starts a scheduled scan unless one is already running
func (s *Scheduler) Tick() {
	if s.starter.ScanRunning() {
		s.logger.Info("scan still running, skipping scheduled scan")
		return
	}
	job, err := s.starter.StartScan("")
	if err != nil {
		s.logger.Error("failed to start scheduled scan", "error", err)
		return
	}
	s.logger.Info("scheduled scan started", "job_id", job.ID)
}

// Stop stops the cron loop and waits for a running tick to return
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
