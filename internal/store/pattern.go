package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/pursue/internal/model"
)

type PatternStore struct {
	db *sql.DB
}

func NewPatternStore(db *sql.DB) *PatternStore {
	return &PatternStore{db: db}
}

// ReplaceBuckets upserts the given bucket rows in one transaction. Buckets
// not present in patterns keep whatever row they already had.
func (s *PatternStore) ReplaceBuckets(ctx context.Context, patterns []model.LoggingPattern) error {
	if len(patterns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, p := range patterns {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO logging_patterns
			   (user_id, goal_id, bucket, typical_hour_start, typical_hour_end, confidence_score, sample_size, last_calculated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id, goal_id, bucket) DO UPDATE SET
			   typical_hour_start = excluded.typical_hour_start,
			   typical_hour_end = excluded.typical_hour_end,
			   confidence_score = excluded.confidence_score,
			   sample_size = excluded.sample_size,
			   last_calculated_at = excluded.last_calculated_at`,
			p.UserID, p.GoalID, string(p.Bucket), p.TypicalHourStart, p.TypicalHourEnd,
			p.ConfidenceScore, p.SampleSize, p.LastCalculatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert logging pattern %s: %w", p.Bucket, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// List returns every stored bucket for the pair, GENERAL first.
func (s *PatternStore) List(ctx context.Context, userID, goalID int64) ([]model.LoggingPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, goal_id, bucket, typical_hour_start, typical_hour_end, confidence_score, sample_size, last_calculated_at
		 FROM logging_patterns
		 WHERE user_id = ? AND goal_id = ?
		 ORDER BY CASE bucket WHEN 'GENERAL' THEN 0 WHEN 'MON' THEN 1 WHEN 'TUE' THEN 2 WHEN 'WED' THEN 3
		   WHEN 'THU' THEN 4 WHEN 'FRI' THEN 5 WHEN 'SAT' THEN 6 ELSE 7 END`,
		userID, goalID,
	)
	if err != nil {
		return nil, fmt.Errorf("list logging patterns: %w", err)
	}
	defer rows.Close()

	var patterns []model.LoggingPattern
	for rows.Next() {
		var p model.LoggingPattern
		if err := rows.Scan(&p.UserID, &p.GoalID, &p.Bucket, &p.TypicalHourStart, &p.TypicalHourEnd,
			&p.ConfidenceScore, &p.SampleSize, &p.LastCalculatedAt); err != nil {
			return nil, fmt.Errorf("scan logging pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}
