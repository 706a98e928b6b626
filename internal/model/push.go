package model

import "time"

// Device platforms
const (
	PlatformFCM     = "fcm"
	PlatformWebPush = "webpush"
)

// Device is a push target registered by the client app. For web push the
// token is the subscription endpoint.
type Device struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Platform   string    `json:"platform"`
	Token      string    `json:"token"`
	P256dhKey  string    `json:"p256dh_key,omitempty"`
	AuthKey    string    `json:"auth_key,omitempty"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
}
