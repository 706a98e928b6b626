package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/pursue/internal/auth"
	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/store"
)

type DeviceHandler struct {
	devices  *store.DeviceStore
	vapidKey string
	logger   *slog.Logger
}

// NewDeviceHandler creates the device handler. vapidKey is the public key
// web clients subscribe with; empty when web push is not configured.
func NewDeviceHandler(devices *store.DeviceStore, vapidKey string, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, vapidKey: vapidKey, logger: logger}
}

type registerRequest struct {
	Platform   string `json:"platform"`
	Token      string `json:"token"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Register handles POST /api/devices. Web push clients send their
// subscription endpoint as the token.
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	switch req.Platform {
	case model.PlatformFCM:
		if req.Token == "" {
			writeError(w, http.StatusBadRequest, "token is required")
			return
		}
	case model.PlatformWebPush:
		if req.Token == "" || req.P256dh == "" || req.Auth == "" {
			writeError(w, http.StatusBadRequest, "token, p256dh, and auth are required")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "platform must be fcm or webpush")
		return
	}

	d, err := h.devices.Register(r.Context(), model.Device{
		UserID:     auth.UserID(r.Context()),
		Platform:   req.Platform,
		Token:      req.Token,
		P256dhKey:  req.P256dh,
		AuthKey:    req.Auth,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		writeAppError(w, h.logger, "register device", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// List handles GET /api/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeAppError(w, h.logger, "list devices", err)
		return
	}
	if devices == nil {
		devices = []model.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

type unregisterRequest struct {
	Token string `json:"token"`
}

// Unregister handles DELETE /api/devices. The token goes in the body since
// web push endpoints are URLs.
func (h *DeviceHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	var req unregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	devices, err := h.devices.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeAppError(w, h.logger, "list devices", err)
		return
	}
	owned := false
	for _, d := range devices {
		if d.Token == req.Token {
			owned = true
			break
		}
	}
	if !owned {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := h.devices.DeleteByToken(r.Context(), req.Token); err != nil {
		writeAppError(w, h.logger, "delete device", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VAPIDKey handles GET /api/devices/vapid-key
func (h *DeviceHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	if h.vapidKey == "" {
		writeError(w, http.StatusNotFound, "web push is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidKey})
}
