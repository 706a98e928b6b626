// Package effectiveness labels sent reminders as effective or not once the
// outcome is known, and turns those labels into per-tier suppression.
package effectiveness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/pursue/internal/apperr"
	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/recurrence"
)

type Config struct {
	// Lookback bounds how far back unlabeled rows are considered. It must
	// cover the longest cadence period in use.
	Lookback time.Duration
	// Retention is how long history rows are kept at all.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Lookback:  366 * 24 * time.Hour,
		Retention: 365 * 24 * time.Hour,
	}
}

type HistoryStore interface {
	ListUnlabeled(ctx context.Context, since, until time.Time) ([]model.ReminderHistoryEntry, error)
	SetEffective(ctx context.Context, id int64, effective bool) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type ProgressReader interface {
	GetGoal(ctx context.Context, goalID int64) (*model.Goal, error)
	HasLogBetween(ctx context.Context, userID, goalID int64, from, to time.Time) (bool, error)
}

// Tracker runs the update-effectiveness batch.
type Tracker struct {
	history  HistoryStore
	progress ProgressReader
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewTracker(history HistoryStore, progress ProgressReader, cfg Config, logger *slog.Logger) *Tracker {
	return &Tracker{
		history:  history,
		progress: progress,
		cfg:      cfg,
		logger:   logger.With("component", "effectiveness"),
		now:      time.Now,
	}
}

// Run labels every unlabeled row whose local send date is before today in
// the timezone recorded on the row, then prunes rows past retention.
func (t *Tracker) Run(ctx context.Context) (model.JobSummary, error) {
	now := t.now()
	var summary model.JobSummary

	entries, err := t.history.ListUnlabeled(ctx, now.Add(-t.cfg.Lookback), now)
	if err != nil {
		return summary, apperr.DataAccess("list unlabeled history", err)
	}

	goals := make(map[int64]*model.Goal)
	for _, e := range entries {
		labeled, err := t.label(ctx, e, now, goals)
		switch {
		case err != nil:
			summary.Errored++
			t.logger.ErrorContext(ctx, "label reminder", "id", e.ID, "error", err)
		case labeled:
			summary.Processed++
		default:
			summary.Skipped++
		}
	}

	if t.cfg.Retention > 0 {
		pruned, err := t.history.Prune(ctx, now.Add(-t.cfg.Retention))
		if err != nil {
			t.logger.ErrorContext(ctx, "prune reminder history", "error", err)
		} else if pruned > 0 {
			t.logger.InfoContext(ctx, "pruned reminder history", "count", pruned)
		}
	}

	return summary, nil
}

func (t *Tracker) label(ctx context.Context, e model.ReminderHistoryEntry, now time.Time, goals map[int64]*model.Goal) (bool, error) {
	loc, err := time.LoadLocation(e.UserTimezone)
	if err != nil {
		return false, fmt.Errorf("history %d timezone %q: %w", e.ID, e.UserTimezone, err)
	}
	sentLocal := e.SentAt.In(loc)
	if !recurrence.StartOfDay(sentLocal).Before(recurrence.StartOfDay(now.In(loc))) {
		return false, nil
	}

	goal, ok := goals[e.GoalID]
	if !ok {
		goal, err = t.progress.GetGoal(ctx, e.GoalID)
		if err != nil {
			return false, apperr.DataAccess("load goal", err)
		}
		goals[e.GoalID] = goal
	}
	if goal == nil {
		return false, nil
	}
	freq, err := recurrence.ParseFreq(goal.Cadence)
	if err != nil {
		return false, err
	}

	_, end := recurrence.Period(freq, sentLocal)
	logged, err := t.progress.HasLogBetween(ctx, e.UserID, e.GoalID, e.SentAt, end)
	if err != nil {
		return false, apperr.DataAccess("check log after reminder", err)
	}
	if !logged && now.Before(end) {
		// Weekly and longer periods can still be completed.
		return false, nil
	}

	if err := t.history.SetEffective(ctx, e.ID, logged); err != nil {
		return false, apperr.DataAccess("set effective", err)
	}
	return true, nil
}
