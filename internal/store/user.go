package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/pursue/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userCols = `id, name, timezone`

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	if err := scanner.Scan(&u.ID, &u.Name, &u.Timezone); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) Create(ctx context.Context, name, timezone string) (*model.User, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, timezone) VALUES (?, ?)`,
		name, timezone,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// Timezone returns the user's current IANA timezone, or "" when the user
// does not exist. It is read fresh on every call; callers must not cache it
// across ticks.
func (s *UserStore) Timezone(ctx context.Context, id int64) (string, error) {
	var tz string
	err := s.db.QueryRowContext(ctx, `SELECT timezone FROM users WHERE id = ?`, id).Scan(&tz)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user timezone: %w", err)
	}
	return tz, nil
}

func (s *UserStore) SetTimezone(ctx context.Context, id int64, timezone string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET timezone = ? WHERE id = ?`, timezone, id)
	if err != nil {
		return fmt.Errorf("set user timezone: %w", err)
	}
	return nil
}
