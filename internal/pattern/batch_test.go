package pattern

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/pursue/internal/metrics"
	"github.com/dukerupert/pursue/internal/model"
)

type pairHistory map[int64][]time.Time

func (p pairHistory) LoggingHistory(ctx context.Context, userID, goalID int64, since time.Time) ([]time.Time, error) {
	times, ok := p[userID]
	if !ok {
		return nil, errors.New("no such user")
	}
	return times, nil
}

type fakeActivity struct {
	pairs []model.Pair
	since time.Time
}

func (f *fakeActivity) ListPairsWithActivitySince(ctx context.Context, since time.Time) ([]model.Pair, error) {
	f.since = since
	return f.pairs, nil
}

type fakeRuns struct{ last *model.JobRun }

func (f fakeRuns) LastSuccess(ctx context.Context, job string) (*model.JobRun, error) {
	return f.last, nil
}

func TestBatchRun(t *testing.T) {
	now := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	history := pairHistory{1: nil, 2: nil}
	for i := 0; i < 6; i++ {
		history[1] = append(history[1], now.AddDate(0, 0, -i-1))
	}
	history[2] = history[1][:2]

	svc := newTestService(history, newFakeStore(), now)
	activity := &fakeActivity{pairs: []model.Pair{{UserID: 1, GoalID: 9}, {UserID: 2, GoalID: 9}, {UserID: 3, GoalID: 9}}}
	b := NewBatch(svc, activity, fakeRuns{}, 2, metrics.New(metrics.DefaultConfig()), slog.New(slog.NewTextHandler(io.Discard, nil)))

	summary, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.JobSummary{Processed: 1, Skipped: 1, Errored: 1}, summary)
	assert.Equal(t, now.AddDate(0, 0, -90), activity.since)
}

func TestBatchSinceLastSuccess(t *testing.T) {
	started := time.Date(2026, 6, 13, 3, 0, 0, 0, time.UTC)
	svc := newTestService(pairHistory{}, newFakeStore(), time.Now())
	b := NewBatch(svc, &fakeActivity{}, fakeRuns{last: &model.JobRun{StartedAt: started}}, 1, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	since, err := b.Since(context.Background())
	require.NoError(t, err)
	assert.Equal(t, started, since)
}
