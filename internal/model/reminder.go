package model

import "time"

type Mode string

const (
	ModeSmart    Mode = "smart"
	ModeFixed    Mode = "fixed"
	ModeDisabled Mode = "disabled"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeSmart, ModeFixed, ModeDisabled:
		return true
	}
	return false
}

type Aggressiveness string

const (
	AggressivenessGentle     Aggressiveness = "gentle"
	AggressivenessBalanced   Aggressiveness = "balanced"
	AggressivenessPersistent Aggressiveness = "persistent"
)

func (a Aggressiveness) Valid() bool {
	switch a {
	case AggressivenessGentle, AggressivenessBalanced, AggressivenessPersistent:
		return true
	}
	return false
}

// Tier is one escalation stage of a day's reminder sequence.
type Tier string

const (
	TierGentle     Tier = "gentle"
	TierSupportive Tier = "supportive"
	TierLastChance Tier = "last_chance"
)

// Tiers lists every tier from least to most escalated.
var Tiers = []Tier{TierGentle, TierSupportive, TierLastChance}

func (t Tier) Valid() bool {
	switch t {
	case TierGentle, TierSupportive, TierLastChance:
		return true
	}
	return false
}

// Rank orders tiers by escalation; unknown tiers rank below gentle.
func (t Tier) Rank() int {
	switch t {
	case TierGentle:
		return 1
	case TierSupportive:
		return 2
	case TierLastChance:
		return 3
	}
	return 0
}

type ReminderPreference struct {
	UserID          int64          `json:"user_id"`
	GoalID          int64          `json:"goal_id"`
	Enabled         bool           `json:"enabled"`
	Mode            Mode           `json:"mode"`
	FixedHour       *int           `json:"fixed_hour"`
	Aggressiveness  Aggressiveness `json:"aggressiveness"`
	QuietHoursStart *int           `json:"quiet_hours_start"`
	QuietHoursEnd   *int           `json:"quiet_hours_end"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// DefaultPreference is what a user gets before they ever touch their settings.
func DefaultPreference(userID, goalID int64) ReminderPreference {
	return ReminderPreference{
		UserID:         userID,
		GoalID:         goalID,
		Enabled:        true,
		Mode:           ModeSmart,
		Aggressiveness: AggressivenessBalanced,
	}
}

// HasQuietHours reports whether both ends of the quiet window are set.
func (p ReminderPreference) HasQuietHours() bool {
	return p.QuietHoursStart != nil && p.QuietHoursEnd != nil
}

// Bucket is a day-of-week pattern bucket, or BucketGeneral for all days.
type Bucket string

const (
	BucketGeneral Bucket = "GENERAL"
	BucketMon     Bucket = "MON"
	BucketTue     Bucket = "TUE"
	BucketWed     Bucket = "WED"
	BucketThu     Bucket = "THU"
	BucketFri     Bucket = "FRI"
	BucketSat     Bucket = "SAT"
	BucketSun     Bucket = "SUN"
)

var weekdayBuckets = map[time.Weekday]Bucket{
	time.Monday:    BucketMon,
	time.Tuesday:   BucketTue,
	time.Wednesday: BucketWed,
	time.Thursday:  BucketThu,
	time.Friday:    BucketFri,
	time.Saturday:  BucketSat,
	time.Sunday:    BucketSun,
}

// BucketForWeekday maps a weekday to its pattern bucket.
func BucketForWeekday(d time.Weekday) Bucket {
	return weekdayBuckets[d]
}

type LoggingPattern struct {
	UserID           int64     `json:"user_id"`
	GoalID           int64     `json:"goal_id"`
	Bucket           Bucket    `json:"bucket"`
	TypicalHourStart int       `json:"typical_hour_start"`
	TypicalHourEnd   int       `json:"typical_hour_end"`
	ConfidenceScore  float64   `json:"confidence_score"`
	SampleSize       int       `json:"sample_size"`
	LastCalculatedAt time.Time `json:"last_calculated_at"`
}

type ReminderHistoryEntry struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	GoalID          int64     `json:"goal_id"`
	Tier            Tier      `json:"tier"`
	SentAt          time.Time `json:"sent_at"`
	SentAtLocalDate string    `json:"sent_at_local_date"`
	UserTimezone    string    `json:"user_timezone"`
	WasEffective    *bool     `json:"was_effective"`
	SocialContext   string    `json:"social_context,omitempty"`
}

// LocalDateLayout is the format of ReminderHistoryEntry.SentAtLocalDate.
const LocalDateLayout = "2006-01-02"

// Pair identifies one user working on one goal.
type Pair struct {
	UserID int64 `json:"user_id"`
	GoalID int64 `json:"goal_id"`
}

// TierStats summarizes how often a tier led to a log.
type TierStats struct {
	Tier      Tier `json:"tier"`
	Sent      int  `json:"sent"`
	Effective int  `json:"effective"`
	Labeled   int  `json:"labeled"`
}

// Rate is effective/labeled, or 0 when nothing has been labeled yet.
func (s TierStats) Rate() float64 {
	if s.Labeled == 0 {
		return 0
	}
	return float64(s.Effective) / float64(s.Labeled)
}
