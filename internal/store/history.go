package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/pursue/internal/model"
)

// History row states. A row is claimed by the idempotency insert, moves to
// dispatching right before the notification goes out and becomes sent once
// the dispatcher accepted it. A dispatching row may already have reached the
// user, so the stale sweep never deletes it.
const (
	historyClaimed     = "claimed"
	historyDispatching = "dispatching"
	historySent        = "sent"
)

type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

const historyCols = `id, user_id, goal_id, tier, sent_at, sent_at_local_date, user_timezone, was_effective, social_context`

func scanHistory(scanner interface{ Scan(...any) error }) (*model.ReminderHistoryEntry, error) {
	var e model.ReminderHistoryEntry
	var effective sql.NullInt64
	err := scanner.Scan(&e.ID, &e.UserID, &e.GoalID, &e.Tier, &e.SentAt, &e.SentAtLocalDate,
		&e.UserTimezone, &effective, &e.SocialContext)
	if err != nil {
		return nil, err
	}
	if effective.Valid {
		v := effective.Int64 != 0
		e.WasEffective = &v
	}
	return &e, nil
}

func scanHistoryRows(rows *sql.Rows) ([]model.ReminderHistoryEntry, error) {
	var entries []model.ReminderHistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder history: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Claim inserts the history row for (user, goal, local date, tier) before the
// notification goes out. It returns false when another worker or an earlier
// tick already holds that key; the UNIQUE constraint is the only thing that
// decides. On success e.ID is set.
func (s *HistoryStore) Claim(ctx context.Context, e *model.ReminderHistoryEntry) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_history
		   (user_id, goal_id, tier, sent_at, sent_at_local_date, user_timezone, social_context, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, goal_id, sent_at_local_date, tier) DO NOTHING`,
		e.UserID, e.GoalID, string(e.Tier), e.SentAt.UTC(), e.SentAtLocalDate, e.UserTimezone,
		e.SocialContext, historyClaimed,
	)
	if err != nil {
		return false, fmt.Errorf("claim reminder history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return true, nil
}

// BeginDispatch moves a claim to dispatching. It returns false when the
// claim is gone, for instance because the stale sweep already released it.
func (s *HistoryStore) BeginDispatch(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reminder_history SET state = ? WHERE id = ? AND state = ?`,
		historyDispatching, id, historyClaimed)
	if err != nil {
		return false, fmt.Errorf("begin reminder dispatch: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkSent confirms a row after a successful dispatch.
func (s *HistoryStore) MarkSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminder_history SET state = ? WHERE id = ?`, historySent, id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// Release drops a row whose dispatch failed so a later tick can retry it.
// Sent rows are never dropped.
func (s *HistoryStore) Release(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM reminder_history WHERE id = ? AND state IN (?, ?)`,
		id, historyClaimed, historyDispatching)
	if err != nil {
		return fmt.Errorf("release reminder claim: %w", err)
	}
	return nil
}

// ReleaseStaleClaims drops claims older than before that never reached
// dispatch. A claim only outlives its tick when the process died between
// insert and dispatch.
func (s *HistoryStore) ReleaseStaleClaims(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM reminder_history WHERE state = ? AND sent_at < ?`, historyClaimed, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return result.RowsAffected()
}

// SettleStaleDispatches marks dispatching rows older than before as sent.
// Such a row was left by a failed MarkSent or a crash after the dispatcher
// was called; the notification may have gone out, so the tier stays taken.
func (s *HistoryStore) SettleStaleDispatches(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reminder_history SET state = ? WHERE state = ? AND sent_at < ?`,
		historySent, historyDispatching, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("settle stale dispatches: %w", err)
	}
	return result.RowsAffected()
}

// ListForDate returns the pair's rows for one local date in any state.
func (s *HistoryStore) ListForDate(ctx context.Context, userID, goalID int64, localDate string) ([]model.ReminderHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyCols+` FROM reminder_history
		 WHERE user_id = ? AND goal_id = ? AND sent_at_local_date = ?
		 ORDER BY sent_at`,
		userID, goalID, localDate,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminder history for date: %w", err)
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

// ListUnlabeled returns sent rows with no effectiveness label, sent in
// [since, until).
func (s *HistoryStore) ListUnlabeled(ctx context.Context, since, until time.Time) ([]model.ReminderHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyCols+` FROM reminder_history
		 WHERE state = ? AND was_effective IS NULL AND sent_at >= ? AND sent_at < ?
		 ORDER BY sent_at`,
		historySent, since.UTC(), until.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list unlabeled reminder history: %w", err)
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

func (s *HistoryStore) SetEffective(ctx context.Context, id int64, effective bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminder_history SET was_effective = ? WHERE id = ?`, boolToInt(effective), id)
	if err != nil {
		return fmt.Errorf("set reminder effectiveness: %w", err)
	}
	return nil
}

// ListRecent returns the user's sent reminders since the given instant,
// newest first. A goalID of 0 means every goal.
func (s *HistoryStore) ListRecent(ctx context.Context, userID, goalID int64, since time.Time) ([]model.ReminderHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyCols+` FROM reminder_history
		 WHERE user_id = ? AND (? = 0 OR goal_id = ?) AND state = ? AND sent_at >= ?
		 ORDER BY sent_at DESC, id DESC`,
		userID, goalID, goalID, historySent, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list recent reminder history: %w", err)
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

// TierStats aggregates sent and effective counts per tier for the user since
// the given instant. A goalID of 0 means every goal. Every tier is present in
// the result, in escalation order.
func (s *HistoryStore) TierStats(ctx context.Context, userID, goalID int64, since time.Time) ([]model.TierStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier,
		   COUNT(*),
		   COALESCE(SUM(CASE WHEN was_effective = 1 THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN was_effective IS NOT NULL THEN 1 ELSE 0 END), 0)
		 FROM reminder_history
		 WHERE user_id = ? AND (? = 0 OR goal_id = ?) AND state = ? AND sent_at >= ?
		 GROUP BY tier`,
		userID, goalID, goalID, historySent, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("get reminder tier stats: %w", err)
	}
	defer rows.Close()

	byTier := make(map[model.Tier]model.TierStats)
	for rows.Next() {
		var st model.TierStats
		if err := rows.Scan(&st.Tier, &st.Sent, &st.Effective, &st.Labeled); err != nil {
			return nil, fmt.Errorf("scan tier stats: %w", err)
		}
		byTier[st.Tier] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]model.TierStats, 0, len(model.Tiers))
	for _, t := range model.Tiers {
		st := byTier[t]
		st.Tier = t
		stats = append(stats, st)
	}
	return stats, nil
}

// Prune deletes rows sent before the cutoff, mirroring the retention of the
// rest of the notification tables.
func (s *HistoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM reminder_history WHERE sent_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune reminder history: %w", err)
	}
	return result.RowsAffected()
}
