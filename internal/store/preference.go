package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/pursue/internal/model"
)

type PreferenceStore struct {
	db *sql.DB
}

func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

const preferenceCols = `user_id, goal_id, enabled, mode, fixed_hour, aggressiveness,
	quiet_hours_start, quiet_hours_end, created_at, updated_at`

func scanPreference(scanner interface{ Scan(...any) error }) (*model.ReminderPreference, error) {
	var p model.ReminderPreference
	var enabled int
	var fixedHour, quietStart, quietEnd sql.NullInt64
	err := scanner.Scan(&p.UserID, &p.GoalID, &enabled, &p.Mode, &fixedHour, &p.Aggressiveness,
		&quietStart, &quietEnd, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Enabled = enabled != 0
	p.FixedHour = intPtr(fixedHour)
	p.QuietHoursStart = intPtr(quietStart)
	p.QuietHoursEnd = intPtr(quietEnd)
	return &p, nil
}

// Get returns the stored preference, or nil when the user never saved one.
func (s *PreferenceStore) Get(ctx context.Context, userID, goalID int64) (*model.ReminderPreference, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+preferenceCols+` FROM reminder_preferences WHERE user_id = ? AND goal_id = ?`,
		userID, goalID,
	)
	p, err := scanPreference(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder preference: %w", err)
	}
	return p, nil
}

func (s *PreferenceStore) ListByUser(ctx context.Context, userID int64) ([]model.ReminderPreference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+preferenceCols+` FROM reminder_preferences WHERE user_id = ? ORDER BY goal_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminder preferences: %w", err)
	}
	defer rows.Close()

	var prefs []model.ReminderPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder preference: %w", err)
		}
		prefs = append(prefs, *p)
	}
	return prefs, rows.Err()
}

// Upsert writes the full preference row. Validation is the caller's job.
func (s *PreferenceStore) Upsert(ctx context.Context, p model.ReminderPreference) (*model.ReminderPreference, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_preferences
		   (user_id, goal_id, enabled, mode, fixed_hour, aggressiveness, quiet_hours_start, quiet_hours_end, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, goal_id) DO UPDATE SET
		   enabled = excluded.enabled,
		   mode = excluded.mode,
		   fixed_hour = excluded.fixed_hour,
		   aggressiveness = excluded.aggressiveness,
		   quiet_hours_start = excluded.quiet_hours_start,
		   quiet_hours_end = excluded.quiet_hours_end,
		   updated_at = excluded.updated_at`,
		p.UserID, p.GoalID, boolToInt(p.Enabled), string(p.Mode), nullInt(p.FixedHour), string(p.Aggressiveness),
		nullInt(p.QuietHoursStart), nullInt(p.QuietHoursEnd), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert reminder preference: %w", err)
	}
	return s.Get(ctx, p.UserID, p.GoalID)
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
