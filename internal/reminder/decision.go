// Package reminder decides when to nudge a user about a goal and sends the
// nudge.
//
// Decide is a pure function of one pair's snapshot: the local time, the
// preference, the applicable pattern, whether the period is already done
// and which tiers went out today. The Processor gathers those snapshots for
// every eligible pair on each tick and acts on the decisions.
package reminder

import (
	"time"

	"github.com/dukerupert/pursue/internal/hourwindow"
	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/recurrence"
)

// Config holds the scheduling constants.
type Config struct {
	FallbackAnchorHour    int
	BalancedOffsetHours   int
	PersistentOffsetHours int
	LastChanceHour        int
	StaleAfter            time.Duration
}

func DefaultConfig() Config {
	return Config{
		FallbackAnchorHour:    18,
		BalancedOffsetHours:   4,
		PersistentOffsetHours: 3,
		LastChanceHour:        21,
		StaleAfter:            2 * time.Hour,
	}
}

// Slot is one tier's local send hour for the day.
type Slot struct {
	Tier model.Tier
	Hour int
}

// Input is the snapshot for one pair at one instant.
type Input struct {
	// Now is the current instant in the user's location.
	Now            time.Time
	Preference     model.ReminderPreference
	Pattern        *model.LoggingPattern
	PeriodComplete bool
	SentToday      []model.Tier
	Suppressed     map[model.Tier]bool
}

// Reasons a pair gets no action.
const (
	ReasonDisabled       = "disabled"
	ReasonPeriodComplete = "period_complete"
	ReasonQuietHours     = "quiet_hours"
	ReasonNothingDue     = "nothing_due"
)

type Decision struct {
	Send   bool
	Tier   model.Tier
	Reason string
	// Due is the tier's scheduled local time when Send is true.
	Due time.Time
}

// Schedule returns the day's slots in escalation order. An escalation slot is
// dropped when it would not come after the gentle slot, would spill into the
// next day, or would not come before a more escalated slot.
func Schedule(p model.ReminderPreference, pattern *model.LoggingPattern, cfg Config) []Slot {
	if p.Mode == model.ModeFixed {
		if p.FixedHour == nil {
			return nil
		}
		return []Slot{{Tier: model.TierGentle, Hour: *p.FixedHour}}
	}

	anchor := cfg.FallbackAnchorHour
	if pattern != nil {
		anchor = pattern.TypicalHourStart
	}

	slots := []Slot{{Tier: model.TierGentle, Hour: anchor}}
	switch p.Aggressiveness {
	case model.AggressivenessBalanced:
		slots = append(slots, Slot{Tier: model.TierSupportive, Hour: anchor + cfg.BalancedOffsetHours})
	case model.AggressivenessPersistent:
		lastChance := cfg.LastChanceHour
		if p.HasQuietHours() {
			if before := *p.QuietHoursStart - 1; before >= 0 && before < lastChance && before > anchor {
				lastChance = before
			}
		}
		slots = append(slots,
			Slot{Tier: model.TierSupportive, Hour: anchor + cfg.PersistentOffsetHours},
			Slot{Tier: model.TierLastChance, Hour: lastChance},
		)
	}

	// Walk from the most escalated slot down so each kept slot only has to
	// beat the one kept after it.
	bound := hourwindow.HoursPerDay
	var escalations []Slot
	for i := len(slots) - 1; i >= 1; i-- {
		s := slots[i]
		if s.Hour <= anchor || s.Hour >= bound {
			continue
		}
		escalations = append([]Slot{s}, escalations...)
		bound = s.Hour
	}
	return append(slots[:1], escalations...)
}

// Decide returns the single tier to send now, if any. When several tiers are
// due at once (after downtime, say) only the most escalated goes out, and a
// tier never goes out after a more escalated one already did.
func Decide(in Input, cfg Config) Decision {
	p := in.Preference
	if !p.Enabled || p.Mode == model.ModeDisabled {
		return Decision{Reason: ReasonDisabled}
	}
	if in.PeriodComplete {
		return Decision{Reason: ReasonPeriodComplete}
	}
	if p.HasQuietHours() {
		quiet := hourwindow.New(*p.QuietHoursStart, *p.QuietHoursEnd)
		if quiet.Contains(in.Now.Hour()) {
			return Decision{Reason: ReasonQuietHours}
		}
	}

	sent := make(map[model.Tier]bool, len(in.SentToday))
	highestSent := 0
	for _, t := range in.SentToday {
		sent[t] = true
		if t.Rank() > highestSent {
			highestSent = t.Rank()
		}
	}

	slots := Schedule(p, in.Pattern, cfg)
	for i := len(slots) - 1; i >= 0; i-- {
		s := slots[i]
		if sent[s.Tier] || s.Tier.Rank() < highestSent || in.Suppressed[s.Tier] {
			continue
		}
		due := recurrence.AtHour(in.Now, s.Hour)
		late := in.Now.Sub(due)
		if late < 0 || late > cfg.StaleAfter {
			continue
		}
		return Decision{Send: true, Tier: s.Tier, Due: due}
	}
	return Decision{Reason: ReasonNothingDue}
}
