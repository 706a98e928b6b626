package effectiveness

import (
	"context"
	"time"

	"github.com/dukerupert/pursue/internal/model"
)

type StatsReader interface {
	TierStats(ctx context.Context, userID, goalID int64, since time.Time) ([]model.TierStats, error)
}

// ThresholdConfig switches a tier off for a pair once enough of its
// reminders have been labeled and too few of them worked.
type ThresholdConfig struct {
	Window     time.Duration
	MinLabeled int
	Below      float64
}

func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		Window:     60 * 24 * time.Hour,
		MinLabeled: 10,
		Below:      0.1,
	}
}

// ThresholdSuppressor suppresses escalation tiers with a poor track record.
// Gentle is never suppressed so the pair always keeps one reminder.
type ThresholdSuppressor struct {
	stats StatsReader
	cfg   ThresholdConfig
	now   func() time.Time
}

func NewThresholdSuppressor(stats StatsReader, cfg ThresholdConfig) *ThresholdSuppressor {
	return &ThresholdSuppressor{stats: stats, cfg: cfg, now: time.Now}
}

func (s *ThresholdSuppressor) SuppressedTiers(ctx context.Context, userID, goalID int64) (map[model.Tier]bool, error) {
	stats, err := s.stats.TierStats(ctx, userID, goalID, s.now().Add(-s.cfg.Window))
	if err != nil {
		return nil, err
	}
	var out map[model.Tier]bool
	for _, st := range stats {
		if st.Tier == model.TierGentle || st.Labeled < s.cfg.MinLabeled || st.Rate() >= s.cfg.Below {
			continue
		}
		if out == nil {
			out = make(map[model.Tier]bool)
		}
		out[st.Tier] = true
	}
	return out, nil
}
