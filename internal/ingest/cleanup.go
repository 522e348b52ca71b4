package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/feedmixer/internal/idempotency"
	"github.com/onnwee/feedmixer/internal/jobs"
)

// Default values for the applied-key cleanup service.
const (
	DefaultCleanupRetention = 24 * time.Hour
	DefaultCleanupInterval  = 1 * time.Hour
)

// CleanupConfig contains configuration for the cleanup service.
type CleanupConfig struct {
	// RetentionPeriod is how long applied-event keys are kept. It bounds
	// the replay window within which duplicates are suppressed; replays
	// reaching further back re-apply their events.
	RetentionPeriod time.Duration

	// CleanupInterval is how often the cleanup runs.
	CleanupInterval time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// JobMetrics records executions under jobs.JobTypeIngestCleanup.
	// Optional.
	JobMetrics jobs.Reporter
}

// CleanupService periodically removes old applied-event keys so the
// idempotency registry does not grow without bound.
type CleanupService struct {
	applied         idempotency.Repository
	logger          *slog.Logger
	jobMetrics      jobs.Reporter
	retentionPeriod time.Duration
	cleanupInterval time.Duration
	stopChan        chan struct{}
	doneChan        chan struct{}
}

// NewCleanupService creates a new cleanup service over the given
// applied-event repository.
func NewCleanupService(applied idempotency.Repository, config CleanupConfig) *CleanupService {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RetentionPeriod == 0 {
		config.RetentionPeriod = DefaultCleanupRetention
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}

	return &CleanupService{
		applied:         applied,
		logger:          config.Logger,
		jobMetrics:      config.JobMetrics,
		retentionPeriod: config.RetentionPeriod,
		cleanupInterval: config.CleanupInterval,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start begins the cleanup service.
// It runs in a background goroutine and performs cleanup at regular intervals.
func (s *CleanupService) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop gracefully stops the cleanup service.
func (s *CleanupService) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

// run executes the cleanup loop.
func (s *CleanupService) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	s.logger.Info("ingest cleanup service started",
		slog.Duration("retention_period", s.retentionPeriod),
		slog.Duration("cleanup_interval", s.cleanupInterval))

	// Run initial cleanup immediately
	s.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ingest cleanup service stopping due to context cancellation")
			return
		case <-s.stopChan:
			s.logger.Info("ingest cleanup service stopping")
			return
		case <-ticker.C:
			s.cleanup(ctx)
		}
	}
}

// cleanup deletes applied-event keys older than the retention period.
func (s *CleanupService) cleanup(ctx context.Context) {
	start := time.Now()

	deleted, err := s.applied.DeleteOlderThan(ctx, s.retentionPeriod)
	duration := time.Since(start).Seconds()

	if err != nil {
		s.logger.Error("ingest cleanup failed",
			slog.String("error", err.Error()))
		if s.jobMetrics != nil {
			s.jobMetrics.IncJobsTotal(jobs.JobTypeIngestCleanup, jobs.StatusFailure)
			s.jobMetrics.ObserveJobDuration(jobs.JobTypeIngestCleanup, duration)
			s.jobMetrics.IncJobErrors(jobs.JobTypeIngestCleanup, "cleanup_error")
		}
		return
	}

	if s.jobMetrics != nil {
		s.jobMetrics.IncJobsTotal(jobs.JobTypeIngestCleanup, jobs.StatusSuccess)
		s.jobMetrics.ObserveJobDuration(jobs.JobTypeIngestCleanup, duration)
	}

	if deleted == 0 {
		s.logger.Debug("ingest cleanup completed, nothing to remove")
		return
	}

	s.logger.Info("ingest cleanup completed",
		slog.Int64("keys_deleted", deleted),
		slog.Float64("duration_seconds", duration))
}
