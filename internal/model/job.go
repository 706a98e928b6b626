package model

import "time"

// Job names, also used as trigger endpoint paths.
const (
	JobProcessReminders    = "process-reminders"
	JobRecalculatePatterns = "recalculate-patterns"
	JobUpdateEffectiveness = "update-effectiveness"
)

// Job run results
const (
	JobResultOK      = "ok"
	JobResultFailed  = "failed"
	JobResultSkipped = "skipped"
)

type JobRun struct {
	ID         int64      `json:"id"`
	Job        string     `json:"job"`
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Processed  int        `json:"processed"`
	Skipped    int        `json:"skipped"`
	Errored    int        `json:"errored"`
	Result     string     `json:"result"`
}

// JobSummary counts what one batch run did with each pair or entry.
// Processed means acted on (reminder sent, pattern written, entry labeled),
// Skipped means evaluated with nothing to do, Errored means the item failed.
type JobSummary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
}
