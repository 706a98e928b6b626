package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/dukerupert/pursue/internal/model"
)

type fakeDevices struct {
	mu      sync.Mutex
	devices []model.Device
	deleted []string
}

func (f *fakeDevices) ListByUser(ctx context.Context, userID int64) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Device
	for _, d := range f.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDevices) DeleteByToken(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, token)
	return nil
}

type fakeSender struct {
	err  map[string]error
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, d model.Device, p Payload) error {
	if err := f.err[d.Token]; err != nil {
		return err
	}
	f.sent = append(f.sent, d.Token)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeviceDispatcherRoutesByPlatform(t *testing.T) {
	devices := &fakeDevices{devices: []model.Device{
		{ID: 1, UserID: 7, Platform: model.PlatformFCM, Token: "android-1"},
		{ID: 2, UserID: 7, Platform: model.PlatformWebPush, Token: "https://push.example.com/a"},
		{ID: 3, UserID: 8, Platform: model.PlatformFCM, Token: "android-other"},
	}}
	fcm := &fakeSender{}
	web := &fakeSender{}

	d := NewDeviceDispatcher(devices, discardLogger())
	d.Register(model.PlatformFCM, fcm)
	d.Register(model.PlatformWebPush, web)

	if err := d.Dispatch(context.Background(), Message{UserID: 7, Title: "Time for Run"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(fcm.sent) != 1 || fcm.sent[0] != "android-1" {
		t.Errorf("fcm sent = %v", fcm.sent)
	}
	if len(web.sent) != 1 {
		t.Errorf("webpush sent = %v", web.sent)
	}
}

func TestDeviceDispatcherNoDevices(t *testing.T) {
	d := NewDeviceDispatcher(&fakeDevices{}, discardLogger())
	d.Register(model.PlatformFCM, &fakeSender{})

	err := d.Dispatch(context.Background(), Message{UserID: 7})
	if !errors.Is(err, ErrNoDevices) {
		t.Fatalf("err = %v, want ErrNoDevices", err)
	}
}

func TestDeviceDispatcherPrunesExpired(t *testing.T) {
	devices := &fakeDevices{devices: []model.Device{
		{ID: 1, UserID: 7, Platform: model.PlatformFCM, Token: "stale"},
	}}
	d := NewDeviceDispatcher(devices, discardLogger())
	d.Register(model.PlatformFCM, &fakeSender{err: map[string]error{"stale": ErrExpired}})

	err := d.Dispatch(context.Background(), Message{UserID: 7})
	if !errors.Is(err, ErrNoDevices) {
		t.Fatalf("err = %v, want ErrNoDevices once the only device expired", err)
	}
	if len(devices.deleted) != 1 || devices.deleted[0] != "stale" {
		t.Errorf("deleted = %v, want [stale]", devices.deleted)
	}
}

func TestDeviceDispatcherPartialFailure(t *testing.T) {
	boom := errors.New("push service returned 500")
	devices := &fakeDevices{devices: []model.Device{
		{ID: 1, UserID: 7, Platform: model.PlatformFCM, Token: "bad"},
		{ID: 2, UserID: 7, Platform: model.PlatformFCM, Token: "good"},
	}}
	d := NewDeviceDispatcher(devices, discardLogger())
	d.Register(model.PlatformFCM, &fakeSender{err: map[string]error{"bad": boom}})

	if err := d.Dispatch(context.Background(), Message{UserID: 7}); err != nil {
		t.Fatalf("expected success when one device accepted, got %v", err)
	}

	devices.devices = devices.devices[:1]
	if err := d.Dispatch(context.Background(), Message{UserID: 7}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestLogDispatcher(t *testing.T) {
	d := NewLogDispatcher(discardLogger())
	if err := d.Dispatch(context.Background(), Message{UserID: 1, GoalID: 2, Tier: model.TierGentle}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
}

func TestTag(t *testing.T) {
	if got := Tag(42); got != "goal-42" {
		t.Errorf("Tag(42) = %q", got)
	}
}
