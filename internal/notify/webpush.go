package notify

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/pursue/internal/model"
)

// WebPushConfig holds VAPID configuration.
type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
}

// WebPush sends notifications to browser push subscriptions.
type WebPush struct {
	cfg    WebPushConfig
	client *http.Client
}

func NewWebPush(cfg WebPushConfig) *WebPush {
	if cfg.Subscriber == "" {
		cfg.Subscriber = "mailto:reminders@pursue.app"
	}
	return &WebPush{cfg: cfg, client: http.DefaultClient}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (w *WebPush) VAPIDPublicKey() string {
	return w.cfg.VAPIDPublicKey
}

// Send pushes a payload to one subscription. The device token is the
// subscription endpoint.
func (w *WebPush) Send(ctx context.Context, d model.Device, p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: d.Token,
		Keys: webpush.Keys{
			P256dh: d.P256dhKey,
			Auth:   d.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      w.client,
		VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
		Subscriber:      w.cfg.Subscriber,
		TTL:             3600,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	publicKey = base64.RawURLEncoding.EncodeToString(pubBytes)
	privateKey = base64.RawURLEncoding.EncodeToString(key.D.FillBytes(make([]byte, 32)))

	return publicKey, privateKey, nil
}
