package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ca-indexer/internal/bluesky"
	"ca-indexer/internal/jobs"
	"ca-indexer/internal/maintainers"
	"ca-indexer/internal/workers"

	"golang.org/x/sync/errgroup"
)

// Default intervals of the periodic maintenance tasks
const (
	DefaultEngagementInterval = 15 * time.Minute
	DefaultDirtyInterval      = 5 * time.Minute
	DefaultEditedInterval     = time.Hour
	DefaultRestartDelay       = 30 * time.Second
)

// Options configures a WorkerService. A nil Mirror runs the service without
// stream ingestion.
type Options struct {
	Mirror      *bluesky.Mirror
	Runner      *jobs.Runner
	Queue       *jobs.Queue
	Maintainers *maintainers.Maintainers
	Logger      *slog.Logger

	EngagementInterval time.Duration
	DirtyInterval      time.Duration
	EditedInterval     time.Duration
	RestartDelay       time.Duration
}

// WorkerService supervises the mirror, the job runner and the periodic
// maintenance tasks
type WorkerService struct {
	mirror       *bluesky.Mirror
	runner       *jobs.Runner
	queue        *jobs.Queue
	periodic     []*workers.PeriodicWorker
	logger       *slog.Logger
	restartDelay time.Duration

	mu      sync.RWMutex
	running bool
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorkerService creates a new worker service
func NewWorkerService(opts Options) *WorkerService {
	ws := &WorkerService{
		mirror:       opts.Mirror,
		runner:       opts.Runner,
		queue:        opts.Queue,
		logger:       opts.Logger,
		restartDelay: orDefault(opts.RestartDelay, DefaultRestartDelay),
	}
	if opts.Runner != nil && opts.Maintainers != nil {
		opts.Maintainers.Register(opts.Runner)
	}
	if opts.Maintainers != nil {
		ws.periodic = ws.periodicTasks(opts)
	}
	return ws
}

func (ws *WorkerService) periodicTasks(opts Options) []*workers.PeriodicWorker {
	m := opts.Maintainers
	dirty := orDefault(opts.DirtyInterval, DefaultDirtyInterval)
	tasks := []workers.Task{
		{
			Name:     "engagement",
			Interval: orDefault(opts.EngagementInterval, DefaultEngagementInterval),
			Run: func(ctx context.Context) error {
				if ws.queue == nil {
					return m.Engagement.Recompute(ctx, maintainers.DefaultEngagementWindow)
				}
				return ws.queue.Enqueue(ctx, jobs.UpdateEngagement, struct{}{}, jobs.PriorityLow)
			},
		},
		{
			Name:     "dirty-interactions",
			Interval: dirty,
			Run: func(ctx context.Context) error {
				// Overlap the previous window so a slow run leaves no gap.
				return m.Interactions.RebuildDirty(ctx, time.Now().Add(-2*dirty))
			},
		},
		{
			Name:     "edited-flags",
			Interval: orDefault(opts.EditedInterval, DefaultEditedInterval),
			Run:      m.Edited.RecomputeAll,
		},
	}
	out := make([]*workers.PeriodicWorker, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, workers.NewPeriodicWorker(task, ws.logger))
	}
	return out
}

// Run runs every worker until ctx is cancelled or one of them fails
func (ws *WorkerService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if ws.mirror != nil {
		g.Go(func() error { return ignoreCancel(ws.RunMirror(ctx)) })
	}
	if ws.runner != nil {
		g.Go(func() error { return ignoreCancel(ws.runner.Run(ctx)) })
	}
	for _, w := range ws.periodic {
		w := w
		g.Go(func() error { return ignoreCancel(w.Run(ctx)) })
	}

	ws.logger.Info("background workers started", "periodic_tasks", len(ws.periodic), "mirror", ws.mirror != nil)
	err := g.Wait()
	ws.logger.Info("background workers stopped")
	return err
}

// RunMirror runs the mirror, restarting it after a delay when the stream
// ends or fails
func (ws *WorkerService) RunMirror(ctx context.Context) error {
	for {
		err := ws.mirror.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, bluesky.ErrStreamClosed) {
			ws.logger.Warn("stream closed by server, restarting mirror", "delay", ws.restartDelay)
		} else {
			ws.logger.Error("mirror failed, restarting", "error", err, "delay", ws.restartDelay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ws.restartDelay):
		}
	}
}

// Start runs the workers in the background
func (ws *WorkerService) Start(ctx context.Context) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.running {
		return
	}
	ctx, ws.cancel = context.WithCancel(ctx)
	ws.done = make(chan struct{})
	ws.running = true
	ws.started = time.Now()

	go func() {
		defer close(ws.done)
		if err := ws.Run(ctx); err != nil {
			ws.logger.Error("background workers failed", "error", err)
		}
		ws.mu.Lock()
		ws.running = false
		ws.mu.Unlock()
	}()
}

// Stop cancels the workers and waits for them to return
func (ws *WorkerService) Stop() {
	ws.mu.RLock()
	cancel, done := ws.cancel, ws.done
	ws.mu.RUnlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsRunning returns whether the worker service is currently running
func (ws *WorkerService) IsRunning() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.running
}

// Status is a snapshot of the worker service
type Status struct {
	Running     bool            `json:"running"`
	Uptime      string          `json:"uptime,omitempty"`
	MirrorState string          `json:"mirror_state,omitempty"`
	PendingJobs int64           `json:"pending_jobs"`
	Periodic    []workers.Stats `json:"periodic"`
}

// GetStatus returns the current status of the worker service
func (ws *WorkerService) GetStatus(ctx context.Context) Status {
	ws.mu.RLock()
	status := Status{Running: ws.running}
	if ws.running {
		status.Uptime = time.Since(ws.started).Round(time.Second).String()
	}
	ws.mu.RUnlock()

	if ws.mirror != nil {
		status.MirrorState = ws.mirror.State().String()
	}
	if ws.queue != nil {
		pending, err := ws.queue.Pending(ctx, "")
		if err != nil {
			ws.logger.Warn("failed to count pending jobs", "error", err)
		}
		status.PendingJobs = pending
	}
	for _, w := range ws.periodic {
		status.Periodic = append(status.Periodic, w.GetStats())
	}
	return status
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
