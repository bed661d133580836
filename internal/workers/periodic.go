package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of periodic background work
type Task struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// PeriodicWorker runs a task on a fixed interval until its context ends
type PeriodicWorker struct {
	task   Task
	logger *slog.Logger

	mu      sync.RWMutex
	runs    int
	lastRun time.Time
	lastErr error
}

// NewPeriodicWorker creates a new periodic worker
func NewPeriodicWorker(task Task, logger *slog.Logger) *PeriodicWorker {
	if task.Interval <= 0 {
		task.Interval = time.Hour
	}
	return &PeriodicWorker{task: task, logger: logger.With("task", task.Name)}
}

// Run blocks until ctx is cancelled. Task errors are logged and do not stop
// the worker.
func (w *PeriodicWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.task.Interval)
	defer ticker.Stop()

	w.logger.Info("periodic task started", "interval", w.task.Interval)
	if w.task.RunAtStart {
		w.runOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("periodic task stopped")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *PeriodicWorker) runOnce(ctx context.Context) {
	start := time.Now()
	err := w.task.Run(ctx)

	w.mu.Lock()
	w.runs++
	w.lastRun = start
	w.lastErr = err
	w.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		w.logger.Error("periodic task failed", "error", err)
		return
	}
	w.logger.Debug("periodic task done", "duration", time.Since(start))
}

// GetStats returns the run statistics of the worker
func (w *PeriodicWorker) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := Stats{
		Name:     w.task.Name,
		Interval: w.task.Interval.String(),
		Runs:     w.runs,
	}
	if !w.lastRun.IsZero() {
		last := w.lastRun
		stats.LastRun = &last
	}
	if w.lastErr != nil {
		stats.LastError = w.lastErr.Error()
	}
	return stats
}

// Stats holds statistics about a periodic task
type Stats struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval"`
	Runs      int        `json:"runs"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}
