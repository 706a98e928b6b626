package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/recurrence"
)

// ProgressStore is the read side of the progress-tracking backend: groups,
// goals and logged progress. The reminder engine never writes these tables
// outside of tests and tooling.
type ProgressStore struct {
	db *sql.DB
}

func NewProgressStore(db *sql.DB) *ProgressStore {
	return &ProgressStore{db: db}
}

func (s *ProgressStore) CreateGroup(ctx context.Context, name string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO groups (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("insert group: %w", err)
	}
	return result.LastInsertId()
}

func (s *ProgressStore) AddMember(ctx context.Context, groupID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)`,
		groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

func (s *ProgressStore) CreateGoal(ctx context.Context, groupID int64, title, cadence string) (*model.Goal, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO goals (group_id, title, cadence) VALUES (?, ?, ?)`,
		groupID, title, cadence,
	)
	if err != nil {
		return nil, fmt.Errorf("insert goal: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetGoal(ctx, id)
}

func (s *ProgressStore) ArchiveGoal(ctx context.Context, goalID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE goals SET archived = 1 WHERE id = ?`, goalID)
	if err != nil {
		return fmt.Errorf("archive goal: %w", err)
	}
	return nil
}

// LogProgress records a progress entry with the timezone the user was in when
// they logged it.
func (s *ProgressStore) LogProgress(ctx context.Context, userID, goalID int64, loggedAt time.Time, timezone string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_entries (goal_id, user_id, logged_at, user_timezone) VALUES (?, ?, ?, ?)`,
		goalID, userID, loggedAt.UTC(), timezone,
	)
	if err != nil {
		return fmt.Errorf("insert progress entry: %w", err)
	}
	return nil
}

const goalCols = `id, group_id, title, cadence, archived, created_at`

func scanGoal(scanner interface{ Scan(...any) error }) (*model.Goal, error) {
	var g model.Goal
	var archived int
	if err := scanner.Scan(&g.ID, &g.GroupID, &g.Title, &g.Cadence, &archived, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Archived = archived != 0
	return &g, nil
}

func (s *ProgressStore) GetGoal(ctx context.Context, goalID int64) (*model.Goal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+goalCols+` FROM goals WHERE id = ?`, goalID)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get goal: %w", err)
	}
	return g, nil
}

// GoalsForUser lists the active goals of every group the user belongs to.
func (s *ProgressStore) GoalsForUser(ctx context.Context, userID int64) ([]model.Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id, g.group_id, g.title, g.cadence, g.archived, g.created_at
		 FROM goals g
		 JOIN group_members m ON m.group_id = g.group_id
		 WHERE m.user_id = ? AND g.archived = 0
		 ORDER BY g.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list goals for user: %w", err)
	}
	defer rows.Close()

	var goals []model.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, *g)
	}
	return goals, rows.Err()
}

// IsMember reports whether the user belongs to the group that owns the goal.
func (s *ProgressStore) IsMember(ctx context.Context, userID, goalID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM goals g
		 JOIN group_members m ON m.group_id = g.group_id
		 WHERE g.id = ? AND m.user_id = ?`,
		goalID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check goal membership: %w", err)
	}
	return n > 0, nil
}

// ListReminderPairs returns every (member, active goal) pair whose stored
// preference, if any, has reminders switched on.
func (s *ProgressStore) ListReminderPairs(ctx context.Context) ([]model.Pair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.user_id, g.id
		 FROM goals g
		 JOIN group_members m ON m.group_id = g.group_id
		 LEFT JOIN reminder_preferences p ON p.user_id = m.user_id AND p.goal_id = g.id
		 WHERE g.archived = 0
		   AND (p.user_id IS NULL OR (p.enabled = 1 AND p.mode != 'disabled'))
		 ORDER BY m.user_id, g.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminder pairs: %w", err)
	}
	defer rows.Close()
	return scanPairs(rows)
}

// ListPairsWithActivitySince returns the pairs with at least one progress
// entry logged at or after since.
func (s *ProgressStore) ListPairsWithActivitySince(ctx context.Context, since time.Time) ([]model.Pair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT e.user_id, e.goal_id
		 FROM progress_entries e
		 JOIN goals g ON g.id = e.goal_id
		 WHERE e.logged_at >= ? AND g.archived = 0
		 ORDER BY e.user_id, e.goal_id`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list pairs with activity: %w", err)
	}
	defer rows.Close()
	return scanPairs(rows)
}

func scanPairs(rows *sql.Rows) ([]model.Pair, error) {
	var pairs []model.Pair
	for rows.Next() {
		var p model.Pair
		if err := rows.Scan(&p.UserID, &p.GoalID); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// LoggingHistory returns the user's progress timestamps for the goal since
// the given instant, each converted to the timezone the user was in when
// they logged it. Entries without a usable stored timezone fall back to the
// user's current one; entries where neither loads are left out.
func (s *ProgressStore) LoggingHistory(ctx context.Context, userID, goalID int64, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.logged_at, e.user_timezone, u.timezone
		 FROM progress_entries e
		 JOIN users u ON u.id = e.user_id
		 WHERE e.user_id = ? AND e.goal_id = ? AND e.logged_at >= ?
		 ORDER BY e.logged_at`,
		userID, goalID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("get logging history: %w", err)
	}
	defer rows.Close()

	locations := make(map[string]*time.Location)
	load := func(tz string) *time.Location {
		if tz == "" {
			return nil
		}
		loc, ok := locations[tz]
		if !ok {
			var err error
			loc, err = time.LoadLocation(tz)
			if err != nil {
				slog.WarnContext(ctx, "unknown timezone in logging history",
					"user_id", userID, "goal_id", goalID, "timezone", tz, "error", err)
			}
			locations[tz] = loc
		}
		return loc
	}

	var out []time.Time
	for rows.Next() {
		var at time.Time
		var entryTZ, userTZ string
		if err := rows.Scan(&at, &entryTZ, &userTZ); err != nil {
			return nil, fmt.Errorf("scan progress entry: %w", err)
		}
		loc := load(entryTZ)
		if loc == nil {
			loc = load(userTZ)
		}
		if loc == nil {
			continue
		}
		out = append(out, at.In(loc))
	}
	return out, rows.Err()
}

// HasLogBetween reports whether the user logged the goal strictly after from
// and strictly before to.
func (s *ProgressStore) HasLogBetween(ctx context.Context, userID, goalID int64, from, to time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM progress_entries
		 WHERE user_id = ? AND goal_id = ? AND logged_at > ? AND logged_at < ?`,
		userID, goalID, from.UTC(), to.UTC(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check log between: %w", err)
	}
	return n > 0, nil
}

// IsPeriodComplete reports whether the user has logged the goal in the
// cadence period containing asOf. The period is computed in asOf's location,
// so callers pass the user's local time.
func (s *ProgressStore) IsPeriodComplete(ctx context.Context, userID, goalID int64, asOf time.Time) (bool, error) {
	goal, err := s.GetGoal(ctx, goalID)
	if err != nil {
		return false, err
	}
	if goal == nil {
		return false, fmt.Errorf("goal %d: %w", goalID, sql.ErrNoRows)
	}
	freq, err := recurrence.ParseFreq(goal.Cadence)
	if err != nil {
		return false, err
	}
	start, end := recurrence.Period(freq, asOf)

	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM progress_entries
		 WHERE user_id = ? AND goal_id = ? AND logged_at >= ? AND logged_at < ?`,
		userID, goalID, start.UTC(), end.UTC(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check period complete: %w", err)
	}
	return n > 0, nil
}

// SocialSnapshot counts the user's groupmates on the goal and how many of
// them logged in [from, to).
func (s *ProgressStore) SocialSnapshot(ctx context.Context, userID, goalID int64, from, to time.Time) (model.SocialSnapshot, error) {
	var snap model.SocialSnapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM group_members m JOIN goals g ON g.group_id = m.group_id
		    WHERE g.id = ? AND m.user_id != ?),
		   (SELECT COUNT(DISTINCT e.user_id) FROM progress_entries e
		    JOIN goals g ON g.id = e.goal_id
		    JOIN group_members m ON m.group_id = g.group_id AND m.user_id = e.user_id
		    WHERE e.goal_id = ? AND e.user_id != ? AND e.logged_at >= ? AND e.logged_at < ?)`,
		goalID, userID, goalID, userID, from.UTC(), to.UTC(),
	).Scan(&snap.Members, &snap.Logged)
	if err != nil {
		return snap, fmt.Errorf("get social snapshot: %w", err)
	}
	return snap, nil
}
