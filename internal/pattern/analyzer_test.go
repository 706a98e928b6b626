package pattern

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/pursue/internal/apperr"
	"github.com/dukerupert/pursue/internal/hourwindow"
	"github.com/dukerupert/pursue/internal/model"
)

func repeat(hour, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = hour
	}
	return out
}

func TestAnalyze(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name       string
		hours      []int
		window     hourwindow.Window
		confidence float64
	}{
		{
			name:       "single hour widens forward on a tie",
			hours:      repeat(7, 10),
			window:     hourwindow.New(7, 9),
			confidence: math.Sqrt(0.5),
		},
		{
			name:       "single hour widens toward heavier neighbour",
			hours:      append(repeat(10, 8), 9),
			window:     hourwindow.New(9, 11),
			confidence: math.Sqrt(9.0 / 20),
		},
		{
			name:       "window wraps midnight",
			hours:      []int{22, 22, 23, 23, 0, 0, 0, 1, 12, 15},
			window:     hourwindow.New(22, 1),
			confidence: 0.7 * math.Sqrt(0.5),
		},
		{
			name: "scattered pattern is capped at max width",
			hours: func() []int {
				var h []int
				for i := 0; i < 24; i++ {
					h = append(h, i)
				}
				return h
			}(),
			window:     hourwindow.New(0, 6),
			confidence: 0.25,
		},
		{
			name:       "saturated sample is not damped",
			hours:      append(append(repeat(18, 20), repeat(19, 10)...), 3, 4),
			window:     hourwindow.New(18, 20),
			confidence: 30.0 / 32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Analyze(tt.hours, cfg)
			assert.Equal(t, tt.window, r.Window)
			assert.InDelta(t, tt.confidence, r.Confidence, 1e-9)
			assert.Equal(t, len(tt.hours), r.SampleSize)
		})
	}
}

func TestAnalyzeBounds(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		n := cfg.MinSamples + rng.Intn(80)
		hours := make([]int, n)
		center := rng.Intn(24)
		spread := 1 + rng.Intn(12)
		for j := range hours {
			hours[j] = hourwindow.Add(center, rng.Intn(2*spread+1)-spread)
		}

		r := Analyze(hours, cfg)
		w := r.Window.Width()
		require.GreaterOrEqual(t, w, cfg.MinWidth, "hours=%v", hours)
		require.LessOrEqual(t, w, cfg.MaxWidth, "hours=%v", hours)
		require.GreaterOrEqual(t, r.Confidence, 0.0)
		require.LessOrEqual(t, r.Confidence, 1.0)
	}
}

func TestAnalyzeNeverReturnsFullDay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Coverage = 1
	cfg.MaxWidth = 24

	hours := make([]int, 24)
	for i := range hours {
		hours[i] = i
	}

	r := Analyze(hours, cfg)
	assert.Equal(t, 23, r.Window.Width())
	assert.NotEqual(t, r.Window.Start, r.Window.End)
	assert.Greater(t, r.Confidence, 0.0)
}

func TestComputeInsufficientData(t *testing.T) {
	cfg := DefaultConfig()
	base := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)

	var local []time.Time
	for i := 0; i < 4; i++ {
		local = append(local, base.AddDate(0, 0, i))
	}

	patterns, err := Compute(1, 2, local, base, cfg)
	require.Error(t, err)
	assert.Nil(t, patterns)

	var insufficient *apperr.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 4, insufficient.SampleSize)
	assert.Equal(t, 5, insufficient.Required)
	assert.Equal(t, 1, insufficient.Needed())
}

func TestComputeBuckets(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)
	// June 1 2026 is a Monday.
	monday := time.Date(2026, 6, 1, 6, 30, 0, 0, time.UTC)

	var local []time.Time
	for w := 0; w < 5; w++ {
		local = append(local, monday.AddDate(0, 0, 7*w))
	}
	// Three Wednesdays in the evening: not enough for their own bucket.
	for w := 0; w < 3; w++ {
		local = append(local, monday.AddDate(0, 0, 7*w+2).Add(12*time.Hour))
	}

	patterns, err := Compute(1, 2, local, now, cfg)
	require.NoError(t, err)
	require.Len(t, patterns, 2)

	general := patterns[0]
	assert.Equal(t, model.BucketGeneral, general.Bucket)
	assert.Equal(t, 8, general.SampleSize)
	assert.Equal(t, now, general.LastCalculatedAt)

	mon := patterns[1]
	assert.Equal(t, model.BucketMon, mon.Bucket)
	assert.Equal(t, 5, mon.SampleSize)
	assert.Equal(t, 6, mon.TypicalHourStart)
	assert.Equal(t, 8, mon.TypicalHourEnd)
	assert.Greater(t, mon.ConfidenceScore, 0.0)
}

func TestApplicable(t *testing.T) {
	cfg := DefaultConfig()
	general := model.LoggingPattern{Bucket: model.BucketGeneral, TypicalHourStart: 18, ConfidenceScore: 0.6, SampleSize: 20}
	confidentMon := model.LoggingPattern{Bucket: model.BucketMon, TypicalHourStart: 7, ConfidenceScore: 0.5, SampleSize: 6}
	shakyTue := model.LoggingPattern{Bucket: model.BucketTue, TypicalHourStart: 9, ConfidenceScore: 0.3, SampleSize: 6}
	tinyGeneral := model.LoggingPattern{Bucket: model.BucketGeneral, TypicalHourStart: 10, ConfidenceScore: 0.9, SampleSize: 4}

	patterns := []model.LoggingPattern{general, confidentMon, shakyTue}

	got := Applicable(patterns, time.Monday, cfg)
	require.NotNil(t, got)
	assert.Equal(t, model.BucketMon, got.Bucket)

	got = Applicable(patterns, time.Tuesday, cfg)
	require.NotNil(t, got)
	assert.Equal(t, model.BucketGeneral, got.Bucket, "low-confidence weekday falls back to GENERAL")

	got = Applicable(patterns, time.Friday, cfg)
	require.NotNil(t, got)
	assert.Equal(t, model.BucketGeneral, got.Bucket)

	assert.Nil(t, Applicable([]model.LoggingPattern{tinyGeneral}, time.Monday, cfg))
	assert.Nil(t, Applicable(nil, time.Monday, cfg))
}

func TestUsable(t *testing.T) {
	cfg := DefaultConfig()
	patterns := []model.LoggingPattern{
		{Bucket: model.BucketGeneral, SampleSize: 5},
		{Bucket: model.BucketSat, SampleSize: 4},
	}
	got := Usable(patterns, cfg)
	require.Len(t, got, 1)
	assert.Equal(t, model.BucketGeneral, got[0].Bucket)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, LabelHigh, Label(0.7))
	assert.Equal(t, LabelHigh, Label(1))
	assert.Equal(t, LabelMedium, Label(0.69))
	assert.Equal(t, LabelMedium, Label(0.4))
	assert.Equal(t, LabelLow, Label(0.39))
	assert.Equal(t, LabelLow, Label(0))
}
