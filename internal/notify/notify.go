// Package notify delivers reminders to a user's registered devices.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/pursue/internal/model"
)

// ErrExpired is returned by a Sender when the device token is no longer valid.
var ErrExpired = errors.New("device token expired")

// ErrNoDevices means the user has nowhere to receive the reminder.
var ErrNoDevices = errors.New("no devices registered")

// Message is one reminder for one user.
type Message struct {
	UserID int64
	GoalID int64
	Tier   model.Tier
	Title  string
	Body   string
	URL    string
	Tag    string
}

// Dispatcher delivers a reminder. A nil error means at least one device
// accepted it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Sender pushes a payload to a single device of one platform.
type Sender interface {
	Send(ctx context.Context, d model.Device, p Payload) error
}

type DeviceStore interface {
	ListByUser(ctx context.Context, userID int64) ([]model.Device, error)
	DeleteByToken(ctx context.Context, token string) error
}

// DeviceDispatcher fans a message out to every device of the user, picking
// the Sender by platform, and prunes tokens the provider reports as gone.
type DeviceDispatcher struct {
	devices DeviceStore
	senders map[string]Sender
	logger  *slog.Logger
}

func NewDeviceDispatcher(devices DeviceStore, logger *slog.Logger) *DeviceDispatcher {
	return &DeviceDispatcher{
		devices: devices,
		senders: make(map[string]Sender),
		logger:  logger.With("component", "notify"),
	}
}

// Register sets the Sender for a platform.
func (d *DeviceDispatcher) Register(platform string, s Sender) {
	d.senders[platform] = s
}

func (d *DeviceDispatcher) Dispatch(ctx context.Context, msg Message) error {
	devices, err := d.devices.ListByUser(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	payload := Payload{Title: msg.Title, Body: msg.Body, URL: msg.URL, Tag: msg.Tag}
	delivered := 0
	var lastErr error
	for _, dev := range devices {
		sender, ok := d.senders[dev.Platform]
		if !ok {
			continue
		}
		err := sender.Send(ctx, dev, payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrExpired):
			d.logger.Info("removing expired device", "user_id", dev.UserID, "device_id", dev.ID, "platform", dev.Platform)
			if err := d.devices.DeleteByToken(ctx, dev.Token); err != nil {
				d.logger.Error("delete expired device", "device_id", dev.ID, "error", err)
			}
		default:
			d.logger.Warn("send to device failed", "device_id", dev.ID, "platform", dev.Platform, "error", err)
			lastErr = err
		}
	}

	if delivered > 0 {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return ErrNoDevices
}

// LogDispatcher only logs. It stands in when no push provider is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With("component", "notify")}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, msg Message) error {
	d.logger.InfoContext(ctx, "reminder",
		"user_id", msg.UserID, "goal_id", msg.GoalID, "tier", msg.Tier,
		"title", msg.Title, "body", msg.Body)
	return nil
}
