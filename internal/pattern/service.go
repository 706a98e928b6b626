package pattern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/pursue/internal/apperr"
	"github.com/dukerupert/pursue/internal/model"
)

// HistoryReader reads a pair's logging timestamps, each in the user's local
// time at the moment they logged.
type HistoryReader interface {
	LoggingHistory(ctx context.Context, userID, goalID int64, since time.Time) ([]time.Time, error)
}

type Store interface {
	ReplaceBuckets(ctx context.Context, patterns []model.LoggingPattern) error
	List(ctx context.Context, userID, goalID int64) ([]model.LoggingPattern, error)
}

type Service struct {
	history HistoryReader
	store   Store
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(history HistoryReader, store Store, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		history: history,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "pattern"),
		now:     time.Now,
	}
}

func (s *Service) Config() Config { return s.cfg }

// Recalculate refreshes one pair's patterns from the lookback window and
// returns the rows written. With too little history it returns an
// InsufficientDataError and leaves stored rows untouched.
func (s *Service) Recalculate(ctx context.Context, userID, goalID int64) ([]model.LoggingPattern, error) {
	now := s.now().UTC()
	since := now.AddDate(0, 0, -s.cfg.LookbackDays)

	local, err := s.history.LoggingHistory(ctx, userID, goalID, since)
	if err != nil {
		return nil, apperr.DataAccess("load logging history", err)
	}

	patterns, err := Compute(userID, goalID, local, now, s.cfg)
	if err != nil {
		var insufficient *apperr.InsufficientDataError
		if errors.As(err, &insufficient) {
			s.logger.Debug("insufficient data for pattern",
				"user_id", userID, "goal_id", goalID, "samples", insufficient.SampleSize)
		}
		return nil, err
	}

	if err := s.store.ReplaceBuckets(ctx, patterns); err != nil {
		return nil, apperr.DataAccess("store patterns", err)
	}

	s.logger.Debug("pattern recalculated",
		"user_id", userID, "goal_id", goalID,
		"buckets", len(patterns), "samples", patterns[0].SampleSize)
	return patterns, nil
}

// Usable returns the pair's stored buckets that have enough samples to act on.
func (s *Service) Usable(ctx context.Context, userID, goalID int64) ([]model.LoggingPattern, error) {
	patterns, err := s.store.List(ctx, userID, goalID)
	if err != nil {
		return nil, apperr.DataAccess("load patterns", err)
	}
	return Usable(patterns, s.cfg), nil
}

// RecalculateWithin runs Recalculate under a deadline. When the deadline
// passes first it returns ErrTimeout; the caller should ask the user to try
// again.
func (s *Service) RecalculateWithin(ctx context.Context, d time.Duration, userID, goalID int64) ([]model.LoggingPattern, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		patterns []model.LoggingPattern
		err      error
	}
	done := make(chan result, 1)
	go func() {
		p, err := s.Recalculate(ctx, userID, goalID)
		done <- result{p, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return r.patterns, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("recalculate pattern: %w", ErrTimeout)
	}
}

// ErrTimeout means an on-demand recalculation did not finish in time.
var ErrTimeout = errors.New("pattern recalculation timed out")
