package notify

import (
	"context"
	"fmt"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/dukerupert/pursue/internal/model"
)

type fcmClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCM sends notifications to the Android app through Firebase Cloud Messaging.
type FCM struct {
	client fcmClient
}

// NewFCM initializes a Firebase app from the credentials file. An empty path
// uses Application Default Credentials.
func NewFCM(ctx context.Context, credentialsFile string) (*FCM, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}

	return &FCM{client: client}, nil
}

func (f *FCM) Send(ctx context.Context, d model.Device, p Payload) error {
	msg := &messaging.Message{
		Token: d.Token,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Data: map[string]string{
			"url": p.URL,
			"tag": p.Tag,
		},
		Android: &messaging.AndroidConfig{
			CollapseKey: p.Tag,
			Priority:    "normal",
			Notification: &messaging.AndroidNotification{
				Tag:       p.Tag,
				ChannelID: "reminders",
			},
		},
	}

	if _, err := f.client.Send(ctx, msg); err != nil {
		if messaging.IsUnregistered(err) {
			return ErrExpired
		}
		return fmt.Errorf("send fcm message: %w", err)
	}
	return nil
}

// Tag builds the collapse tag for a pair's reminders, so a later tier
// replaces an earlier one on the device.
func Tag(goalID int64) string {
	return "goal-" + strconv.FormatInt(goalID, 10)
}
