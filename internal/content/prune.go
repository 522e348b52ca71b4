package content

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/feedmixer/internal/jobs"
)

// DefaultPruneInterval is the default duration between prune cycles.
const DefaultPruneInterval = 1 * time.Hour

// DefaultPruneTimeout is the default timeout for a single prune cycle.
const DefaultPruneTimeout = 1 * time.Minute

// DefaultRetention is how long items stay in the store before pruning.
const DefaultRetention = 30 * 24 * time.Hour

// PruneJobConfig configures the content prune job.
type PruneJobConfig struct {
	// Interval is the duration between prune cycles.
	Interval time.Duration
	// Retention is how long items are kept before removal.
	Retention time.Duration
	// Timeout for each prune cycle.
	Timeout time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking.
	JobMetrics jobs.Reporter
}

// PruneJob periodically removes content items older than the retention
// window so the candidate store does not grow without bound.
type PruneJob struct {
	config PruneJobConfig
	store  Store

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	timeNow func() time.Time
}

// NewPruneJob creates a new content prune job.
func NewPruneJob(config PruneJobConfig, store Store) *PruneJob {
	if config.Interval == 0 {
		config.Interval = DefaultPruneInterval
	}
	if config.Retention == 0 {
		config.Retention = DefaultRetention
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultPruneTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &PruneJob{
		config:  config,
		store:   store,
		timeNow: time.Now,
	}
}

// Start begins the periodic prune job.
// Returns immediately; the job runs in a background goroutine.
func (j *PruneJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the prune job to stop and waits for it to finish.
func (j *PruneJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *PruneJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// run is the main loop for the prune job.
func (j *PruneJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("content prune job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("content prune job stopping due to stop signal")
			return
		case <-ticker.C:
			j.pruneExpired(ctx)
		}
	}
}

// pruneExpired removes items older than the retention window.
func (j *PruneJob) pruneExpired(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	startTime := time.Now()
	cutoff := j.timeNow().Add(-j.config.Retention)

	removed, err := j.store.PruneOlderThan(ctx, cutoff)
	duration := time.Since(startTime).Seconds()

	if err != nil {
		j.config.Logger.Error("failed to prune content items",
			"cutoff", cutoff,
			"error", err)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobsTotal(jobs.JobTypeContentPruning, jobs.StatusFailure)
			j.config.JobMetrics.ObserveJobDuration(jobs.JobTypeContentPruning, duration)
			j.config.JobMetrics.IncJobErrors(jobs.JobTypeContentPruning, "prune_error")
		}
		return
	}

	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobs.JobTypeContentPruning, jobs.StatusSuccess)
		j.config.JobMetrics.ObserveJobDuration(jobs.JobTypeContentPruning, duration)
	}

	if removed == 0 {
		j.config.Logger.Debug("content prune completed, nothing to remove",
			"cutoff", cutoff)
		return
	}

	j.config.Logger.Info("content prune completed",
		"duration_seconds", duration,
		"items_removed", removed,
		"cutoff", cutoff)
}

// PruneNow immediately runs one prune cycle without waiting for the ticker.
// This is useful for testing or forcing immediate cleanup.
func (j *PruneJob) PruneNow() {
	j.pruneExpired(context.Background())
}
