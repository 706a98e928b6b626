package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/pursue/internal/auth"
	"github.com/dukerupert/pursue/internal/preference"
)

type PreferenceHandler struct {
	svc    *preference.Service
	logger *slog.Logger
}

func NewPreferenceHandler(svc *preference.Service, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{svc: svc, logger: logger}
}

// List handles GET /api/reminders/preferences
func (h *PreferenceHandler) List(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.svc.GetAll(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeAppError(w, h.logger, "list preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// Get handles GET /api/reminders/preferences/{goal_id}
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	goalID, err := parseGoalID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid goal_id")
		return
	}

	pref, err := h.svc.Get(r.Context(), auth.UserID(r.Context()), goalID)
	if err != nil {
		writeAppError(w, h.logger, "get preference", err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

// Update handles PATCH /api/reminders/preferences/{goal_id}. Absent fields
// are left alone; an explicit null clears a nullable hour.
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	goalID, err := parseGoalID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid goal_id")
		return
	}

	var patch preference.Patch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	pref, err := h.svc.Update(r.Context(), auth.UserID(r.Context()), goalID, patch)
	if err != nil {
		writeAppError(w, h.logger, "update preference", err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}
