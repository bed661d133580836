package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ca-indexer/internal/models"

	"gorm.io/gorm"
)

// Handler executes one job payload
type Handler func(ctx context.Context, payload json.RawMessage) error

// Runner claims pending jobs by priority and runs their handlers
type Runner struct {
	db           *gorm.DB
	logger       *slog.Logger
	pollInterval time.Duration
	maxAttempts  int
	retryDelay   time.Duration
	staleAfter   time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRunner creates a new job runner
func NewRunner(db *gorm.DB, logger *slog.Logger, pollInterval time.Duration) *Runner {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Runner{
		db:           db,
		logger:       logger,
		pollInterval: pollInterval,
		maxAttempts:  3,
		retryDelay:   10 * time.Second,
		staleAfter:   10 * time.Minute,
		now:          time.Now,
		handlers:     make(map[string]Handler),
	}
}

// Handle registers the handler for a job name
func (r *Runner) Handle(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Run polls for pending jobs until ctx is cancelled
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.logger.Info("job runner started", "poll_interval", r.pollInterval)
	if _, err := r.Recover(ctx); err != nil {
		r.logger.Error("failed to recover stale jobs", "error", err)
	}
	for {
		if _, err := r.RunPending(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("job runner pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Recover puts jobs left running by a crashed runner back in the queue. A job
// counts as abandoned once it has been running for longer than staleAfter.
func (r *Runner) Recover(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ? AND updated_at < ?", models.JobRunning, r.now().Add(-r.staleAfter)).
		Updates(map[string]interface{}{"status": models.JobPending, "run_after": r.now()})
	if res.Error != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		r.logger.Warn("recovered stale jobs", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// RunPending runs jobs until none are pending and returns how many ran
func (r *Runner) RunPending(ctx context.Context) (int, error) {
	ran := 0
	for ctx.Err() == nil {
		job, err := r.claim(ctx)
		if err != nil {
			return ran, err
		}
		if job == nil {
			return ran, nil
		}
		r.execute(ctx, job)
		ran++
	}
	return ran, ctx.Err()
}

// claim marks the highest priority pending job that is due as running. A nil
// job means nothing is due.
func (r *Runner) claim(ctx context.Context) (*models.Job, error) {
	for {
		var job models.Job
		err := r.db.WithContext(ctx).
			Where("status = ? AND run_after <= ?", models.JobPending, r.now()).
			Order("priority DESC, created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find pending job: %w", err)
		}

		res := r.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobPending).
			Updates(map[string]interface{}{
				"status":   models.JobRunning,
				"attempts": gorm.Expr("attempts + ?", 1),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claim job %s: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			job.Attempts++
			return &job, nil
		}
		// Another runner won the claim; look again.
	}
}

func (r *Runner) execute(ctx context.Context, job *models.Job) {
	r.mu.RLock()
	h, ok := r.handlers[job.Name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("no handler for job", "job", job.Name, "id", job.ID)
		r.finish(ctx, job, map[string]interface{}{"status": models.JobSkipped})
		return
	}

	start := time.Now()
	err := h(ctx, json.RawMessage(job.Payload))
	if err == nil {
		r.logger.Debug("job done", "job", job.Name, "id", job.ID, "duration", time.Since(start))
		r.finish(ctx, job, map[string]interface{}{"status": models.JobDone, "last_error": ""})
		return
	}

	r.logger.Error("job failed", "job", job.Name, "id", job.ID, "attempt", job.Attempts, "error", err)
	if job.Attempts >= r.maxAttempts {
		r.finish(ctx, job, map[string]interface{}{"status": models.JobFailed, "last_error": err.Error()})
		return
	}
	// Back off exponentially before the next attempt.
	delay := r.retryDelay << (job.Attempts - 1)
	r.finish(ctx, job, map[string]interface{}{
		"status":     models.JobPending,
		"last_error": err.Error(),
		"run_after":  r.now().Add(delay),
	})
}

func (r *Runner) finish(ctx context.Context, job *models.Job, updates map[string]interface{}) {
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", job.ID).
		Updates(updates).Error
	if err != nil {
		r.logger.Error("failed to update job status", "job", job.Name, "id", job.ID, "error", err)
	}
}
