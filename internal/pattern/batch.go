package pattern

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/pursue/internal/apperr"
	"github.com/dukerupert/pursue/internal/metrics"
	"github.com/dukerupert/pursue/internal/model"
)

type ActivityLister interface {
	ListPairsWithActivitySince(ctx context.Context, since time.Time) ([]model.Pair, error)
}

type RunLog interface {
	LastSuccess(ctx context.Context, job string) (*model.JobRun, error)
}

// Recalculation outcomes, as recorded in metrics.
const (
	OutcomeOK           = "ok"
	OutcomeInsufficient = "insufficient_data"
	OutcomeTimeout      = "timeout"
	OutcomeError        = "error"
)

// Batch runs the recalculate-patterns job over every pair that logged since
// the previous successful run.
type Batch struct {
	svc     *Service
	pairs   ActivityLister
	runs    RunLog
	workers int
	metrics *metrics.Exporter
	logger  *slog.Logger
}

func NewBatch(svc *Service, pairs ActivityLister, runs RunLog, workers int, m *metrics.Exporter, logger *slog.Logger) *Batch {
	if workers < 1 {
		workers = 1
	}
	return &Batch{
		svc:     svc,
		pairs:   pairs,
		runs:    runs,
		workers: workers,
		metrics: m,
		logger:  logger.With("component", "pattern_batch"),
	}
}

// Since is the activity cutoff: the start of the last successful run, or the
// full lookback window when there has never been one.
func (b *Batch) Since(ctx context.Context) (time.Time, error) {
	last, err := b.runs.LastSuccess(ctx, model.JobRecalculatePatterns)
	if err != nil {
		return time.Time{}, apperr.DataAccess("load last pattern run", err)
	}
	if last != nil {
		return last.StartedAt, nil
	}
	return b.svc.now().AddDate(0, 0, -b.svc.cfg.LookbackDays), nil
}

func (b *Batch) Run(ctx context.Context) (model.JobSummary, error) {
	since, err := b.Since(ctx)
	if err != nil {
		return model.JobSummary{}, err
	}
	pairs, err := b.pairs.ListPairsWithActivitySince(ctx, since)
	if err != nil {
		return model.JobSummary{}, apperr.DataAccess("list active pairs", err)
	}
	b.logger.InfoContext(ctx, "recalculating patterns", "pairs", len(pairs), "since", since)

	var written, insufficient, errored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, pair := range pairs {
		g.Go(func() error {
			_, err := b.svc.Recalculate(gctx, pair.UserID, pair.GoalID)
			var ide *apperr.InsufficientDataError
			switch {
			case err == nil:
				written.Add(1)
				b.metrics.RecordRecalculation("batch", OutcomeOK)
			case errors.As(err, &ide):
				insufficient.Add(1)
				b.metrics.RecordRecalculation("batch", OutcomeInsufficient)
			default:
				errored.Add(1)
				b.metrics.RecordRecalculation("batch", OutcomeError)
				b.logger.ErrorContext(gctx, "recalculate pattern",
					"user_id", pair.UserID, "goal_id", pair.GoalID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return model.JobSummary{
		Processed: int(written.Load()),
		Skipped:   int(insufficient.Load()),
		Errored:   int(errored.Load()),
	}, nil
}
