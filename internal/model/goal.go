package model

import "time"

// User is the slice of the account record the reminder engine reads.
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

// Goal is read from the progress-tracking store; the engine never writes it.
type Goal struct {
	ID        int64     `json:"id"`
	GroupID   int64     `json:"group_id"`
	Title     string    `json:"title"`
	Cadence   string    `json:"cadence"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
}

type ProgressEntry struct {
	ID           int64     `json:"id"`
	GoalID       int64     `json:"goal_id"`
	UserID       int64     `json:"user_id"`
	LoggedAt     time.Time `json:"logged_at"`
	UserTimezone string    `json:"user_timezone"`
}

// SocialSnapshot counts groupmates who already logged in the current period.
type SocialSnapshot struct {
	Logged  int `json:"logged"`
	Members int `json:"members"`
}
