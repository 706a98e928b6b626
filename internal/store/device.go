package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/pursue/internal/model"
)

// DeviceStore reads push targets registered by the client apps.
type DeviceStore struct {
	db *sql.DB
}

func NewDeviceStore(db *sql.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

const deviceCols = `id, user_id, platform, token, p256dh_key, auth_key, device_name, created_at`

// Register upserts a device by token. A token that moves to another account
// follows the new owner.
func (s *DeviceStore) Register(ctx context.Context, d model.Device) (*model.Device, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (user_id, platform, token, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET user_id = excluded.user_id, platform = excluded.platform,
		   p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, device_name = excluded.device_name`,
		d.UserID, d.Platform, d.Token, d.P256dhKey, d.AuthKey, d.DeviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}
	return s.getByToken(ctx, d.Token)
}

func (s *DeviceStore) getByToken(ctx context.Context, token string) (*model.Device, error) {
	var d model.Device
	err := s.db.QueryRowContext(ctx, `SELECT `+deviceCols+` FROM devices WHERE token = ?`, token).
		Scan(&d.ID, &d.UserID, &d.Platform, &d.Token, &d.P256dhKey, &d.AuthKey, &d.DeviceName, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device by token: %w", err)
	}
	return &d, nil
}

func (s *DeviceStore) ListByUser(ctx context.Context, userID int64) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices by user: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.Platform, &d.Token, &d.P256dhKey, &d.AuthKey, &d.DeviceName, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeleteByToken removes a token the push provider reported as gone.
func (s *DeviceStore) DeleteByToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete device by token: %w", err)
	}
	return nil
}
