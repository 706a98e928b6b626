// Package jobs runs the engine's batch jobs, either on in-process tickers or
// on demand from the internal trigger endpoints and the CLI. Both paths share
// one overlap guard: a job that is already running is skipped, never queued.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/pursue/internal/lock"
	"github.com/dukerupert/pursue/internal/metrics"
	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/websocket"
)

var (
	ErrAlreadyRunning = errors.New("job already running")
	ErrUnknownJob     = errors.New("unknown job")
)

// Func is one batch job. Per-item failures belong in the summary; a returned
// error means the run as a whole failed.
type Func func(ctx context.Context) (model.JobSummary, error)

type RunStore interface {
	Start(ctx context.Context, job, runID string, startedAt time.Time) (int64, error)
	Finish(ctx context.Context, id int64, finishedAt time.Time, processed, skipped, errored int, result string) error
}

type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

type job struct {
	fn       Func
	interval time.Duration
}

type Runner struct {
	mu          sync.RWMutex
	jobs        map[string]job
	locker      lock.Locker
	runs        RunStore
	metrics     *metrics.Exporter
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewRunner creates a runner. metrics and broadcaster may be nil.
func NewRunner(locker lock.Locker, runs RunStore, m *metrics.Exporter, broadcaster Broadcaster, logger *slog.Logger) *Runner {
	return &Runner{
		jobs:        make(map[string]job),
		locker:      locker,
		runs:        runs,
		metrics:     m,
		broadcaster: broadcaster,
		logger:      logger.With("component", "jobs"),
		now:         time.Now,
	}
}

// Register adds a job. An interval of zero leaves it to on-demand triggers.
func (r *Runner) Register(name string, interval time.Duration, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[name] = job{fn: fn, interval: interval}
}

// Jobs lists the registered job names.
func (r *Runner) Jobs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes a job once and records it. It returns ErrAlreadyRunning
// without doing anything when the job is already in progress.
func (r *Runner) Run(ctx context.Context, name string) (model.JobRun, error) {
	r.mu.RLock()
	j, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return model.JobRun{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	release, ok, err := r.locker.TryLock(ctx, name)
	if err != nil {
		return model.JobRun{}, fmt.Errorf("lock job %s: %w", name, err)
	}
	if !ok {
		r.logger.WarnContext(ctx, "job already running, skipping", "job", name)
		r.metrics.RecordJobRun(name, model.JobResultSkipped, 0)
		return model.JobRun{Job: name, Result: model.JobResultSkipped}, ErrAlreadyRunning
	}
	defer release()

	run := model.JobRun{Job: name, RunID: uuid.NewString(), StartedAt: r.now().UTC()}
	logger := r.logger.With("job", name, "run_id", run.RunID)

	run.ID, err = r.runs.Start(ctx, name, run.RunID, run.StartedAt)
	if err != nil {
		return run, fmt.Errorf("record job start: %w", err)
	}
	logger.InfoContext(ctx, "job started")

	summary, jobErr := j.fn(ctx)

	finished := r.now().UTC()
	run.FinishedAt = &finished
	run.Processed, run.Skipped, run.Errored = summary.Processed, summary.Skipped, summary.Errored
	run.Result = model.JobResultOK
	if jobErr != nil {
		run.Result = model.JobResultFailed
	}

	if err := r.runs.Finish(context.WithoutCancel(ctx), run.ID, finished,
		run.Processed, run.Skipped, run.Errored, run.Result); err != nil {
		logger.ErrorContext(ctx, "record job finish", "error", err)
	}

	duration := finished.Sub(run.StartedAt)
	r.metrics.RecordJobRun(name, run.Result, duration)
	r.metrics.RecordPairs(name, run.Processed, run.Skipped, run.Errored)
	if r.broadcaster != nil {
		r.broadcaster.Broadcast(websocket.JobCompleted(run))
	}

	if jobErr != nil {
		logger.ErrorContext(ctx, "job failed", "duration", duration, "error", jobErr)
		return run, fmt.Errorf("job %s: %w", name, jobErr)
	}
	logger.InfoContext(ctx, "job finished",
		"duration", duration,
		"processed", run.Processed,
		"skipped", run.Skipped,
		"errored", run.Errored)
	return run, nil
}

// Start launches one ticker loop per job with a positive interval.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	ctx, r.cancel = context.WithCancel(ctx)
	jobs := make(map[string]job, len(r.jobs))
	for name, j := range r.jobs {
		jobs[name] = j
	}
	r.mu.Unlock()

	for name, j := range jobs {
		if j.interval <= 0 {
			continue
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := r.Run(ctx, name); err != nil && !errors.Is(err, ErrAlreadyRunning) {
						r.logger.Error("scheduled job", "job", name, "error", err)
					}
				}
			}
		}()
		r.logger.Info("job scheduled", "job", name, "interval", j.interval)
	}
}

// Stop cancels the ticker loops and waits for in-flight runs to return.
func (r *Runner) Stop() {
	r.mu.RLock()
	cancel := r.cancel
	r.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
