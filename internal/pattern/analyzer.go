// Package pattern learns when a user tends to log a goal.
//
// Observations are local hours of day. For each bucket (all days, and each
// weekday with enough data) the analyzer finds the narrowest run of
// consecutive hours, wrapping midnight if needed, that holds the configured
// share of observations, then clamps its width into a usable range.
package pattern

import (
	"math"
	"time"

	"github.com/dukerupert/pursue/internal/apperr"
	"github.com/dukerupert/pursue/internal/hourwindow"
	"github.com/dukerupert/pursue/internal/model"
)

// Config holds the tunable analysis thresholds.
type Config struct {
	LookbackDays        int
	MinSamples          int
	Coverage            float64
	MinWidth            int
	MaxWidth            int
	SaturationSamples   int
	MinBucketConfidence float64
}

func DefaultConfig() Config {
	return Config{
		LookbackDays:        90,
		MinSamples:          5,
		Coverage:            0.7,
		MinWidth:            2,
		MaxWidth:            6,
		SaturationSamples:   20,
		MinBucketConfidence: 0.4,
	}
}

// Result is one bucket's typical window.
type Result struct {
	Window     hourwindow.Window
	Confidence float64
	SampleSize int
}

type histogram [hourwindow.HoursPerDay]int

func (h *histogram) sum(start, width int) int {
	n := 0
	for i := 0; i < width; i++ {
		n += h[hourwindow.Add(start, i)]
	}
	return n
}

// best returns the start of the width-hour window holding the most
// observations, and that count. Ties go to the earliest start.
func (h *histogram) best(width int) (start, count int) {
	count = -1
	for s := 0; s < hourwindow.HoursPerDay; s++ {
		if c := h.sum(s, width); c > count {
			start, count = s, c
		}
	}
	return start, count
}

// Analyze computes the typical window for a set of local hours. It expects
// at least one observation.
func Analyze(hours []int, cfg Config) Result {
	// A 24-hour window wraps to Start == End, which reads as empty.
	maxWidth := min(cfg.MaxWidth, hourwindow.HoursPerDay-1)
	minWidth := min(cfg.MinWidth, maxWidth)

	var h histogram
	for _, hr := range hours {
		h[hourwindow.Normalize(hr)]++
	}
	n := len(hours)
	if n == 0 {
		return Result{Window: hourwindow.FromWidth(0, minWidth)}
	}

	need := int(math.Ceil(cfg.Coverage*float64(n) - 1e-9))
	if need < 1 {
		need = 1
	}

	start, width := 0, hourwindow.HoursPerDay
	for w := 1; w <= hourwindow.HoursPerDay; w++ {
		s, c := h.best(w)
		if c >= need {
			start, width = s, w
			break
		}
	}

	switch {
	case width < minWidth:
		for width < minWidth {
			before := h[hourwindow.Add(start, -1)]
			after := h[hourwindow.Add(start, width)]
			if before > after {
				start = hourwindow.Add(start, -1)
			}
			width++
		}
	case width > maxWidth:
		width = maxWidth
		start, _ = h.best(width)
	}

	inside := h.sum(start, width)
	return Result{
		Window:     hourwindow.FromWidth(start, width),
		Confidence: confidence(inside, n, cfg.SaturationSamples),
		SampleSize: n,
	}
}

// confidence is the share of observations inside the window, damped for
// small samples so a handful of logs never reads as certain.
func confidence(inside, n, saturation int) float64 {
	if n == 0 {
		return 0
	}
	coverage := float64(inside) / float64(n)
	damping := 1.0
	if saturation > 0 {
		damping = math.Min(1, math.Sqrt(float64(n)/float64(saturation)))
	}
	return clamp01(coverage * damping)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Compute builds the bucket rows for one pair from local logging timestamps.
// GENERAL is always included; a weekday bucket only when it has MinSamples
// observations of its own. Fewer than MinSamples observations overall is an
// InsufficientDataError.
func Compute(userID, goalID int64, local []time.Time, now time.Time, cfg Config) ([]model.LoggingPattern, error) {
	if len(local) < cfg.MinSamples {
		return nil, &apperr.InsufficientDataError{SampleSize: len(local), Required: cfg.MinSamples}
	}

	all := make([]int, 0, len(local))
	byDay := make(map[time.Weekday][]int)
	for _, t := range local {
		all = append(all, t.Hour())
		byDay[t.Weekday()] = append(byDay[t.Weekday()], t.Hour())
	}

	row := func(b model.Bucket, r Result) model.LoggingPattern {
		return model.LoggingPattern{
			UserID:           userID,
			GoalID:           goalID,
			Bucket:           b,
			TypicalHourStart: r.Window.Start,
			TypicalHourEnd:   r.Window.End,
			ConfidenceScore:  r.Confidence,
			SampleSize:       r.SampleSize,
			LastCalculatedAt: now,
		}
	}

	patterns := []model.LoggingPattern{row(model.BucketGeneral, Analyze(all, cfg))}
	for _, d := range weekdays {
		hours := byDay[d]
		if len(hours) < cfg.MinSamples {
			continue
		}
		patterns = append(patterns, row(model.BucketForWeekday(d), Analyze(hours, cfg)))
	}
	return patterns, nil
}

var weekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

// Applicable picks the pattern the scheduler should anchor on for the given
// local weekday: the weekday bucket when it is usable and confident enough,
// else GENERAL when usable, else nil.
func Applicable(patterns []model.LoggingPattern, day time.Weekday, cfg Config) *model.LoggingPattern {
	want := model.BucketForWeekday(day)
	var general *model.LoggingPattern
	for i := range patterns {
		p := &patterns[i]
		if p.SampleSize < cfg.MinSamples {
			continue
		}
		switch p.Bucket {
		case want:
			if p.ConfidenceScore >= cfg.MinBucketConfidence {
				return p
			}
		case model.BucketGeneral:
			general = p
		}
	}
	return general
}

// Usable filters out buckets too small to be shown or scheduled on.
func Usable(patterns []model.LoggingPattern, cfg Config) []model.LoggingPattern {
	out := make([]model.LoggingPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.SampleSize >= cfg.MinSamples {
			out = append(out, p)
		}
	}
	return out
}

// Confidence labels, for display only.
const (
	LabelHigh   = "high"
	LabelMedium = "medium"
	LabelLow    = "low"
)

func Label(confidence float64) string {
	switch {
	case confidence >= 0.7:
		return LabelHigh
	case confidence >= 0.4:
		return LabelMedium
	}
	return LabelLow
}
