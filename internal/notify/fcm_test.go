package notify

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"

	"github.com/dukerupert/pursue/internal/model"
)

type fakeFCMClient struct {
	got *messaging.Message
	err error
}

func (f *fakeFCMClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	f.got = msg
	if f.err != nil {
		return "", f.err
	}
	return "projects/pursue/messages/1", nil
}

func TestFCMSendBuildsAndroidMessage(t *testing.T) {
	client := &fakeFCMClient{}
	f := &FCM{client: client}

	dev := model.Device{Platform: model.PlatformFCM, Token: "android-token"}
	err := f.Send(context.Background(), dev, Payload{Title: "Last call: Run", Body: "Log Run before the day is over.", Tag: Tag(3)})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	msg := client.got
	if msg.Token != "android-token" {
		t.Errorf("token = %q", msg.Token)
	}
	if msg.Notification.Title != "Last call: Run" {
		t.Errorf("title = %q", msg.Notification.Title)
	}
	if msg.Android == nil || msg.Android.CollapseKey != "goal-3" {
		t.Errorf("android config = %+v", msg.Android)
	}
}

func TestFCMSendWrapsErrors(t *testing.T) {
	boom := errors.New("unavailable")
	f := &FCM{client: &fakeFCMClient{err: boom}}

	err := f.Send(context.Background(), model.Device{Token: "t"}, Payload{Title: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if errors.Is(err, ErrExpired) {
		t.Error("a transient failure must not look like an expired token")
	}
}
