package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pursue/internal/auth"
	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/store"
)

const maxReportDays = 365

type ReportHandler struct {
	history *store.HistoryStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewReportHandler(history *store.HistoryStore, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{history: history, logger: logger, now: time.Now}
}

func (h *ReportHandler) window(w http.ResponseWriter, r *http.Request, defDays int64) (goalID int64, since time.Time, ok bool) {
	goalID, ok = queryInt(r, "goal_id", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid goal_id")
		return 0, time.Time{}, false
	}
	days, ok := queryInt(r, "days", defDays)
	if !ok || days == 0 || days > maxReportDays {
		writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
		return 0, time.Time{}, false
	}
	return goalID, h.now().AddDate(0, 0, -int(days)), true
}

// History handles GET /api/reminders/history?goal_id=&days=
func (h *ReportHandler) History(w http.ResponseWriter, r *http.Request) {
	goalID, since, ok := h.window(w, r, 14)
	if !ok {
		return
	}
	entries, err := h.history.ListRecent(r.Context(), auth.UserID(r.Context()), goalID, since)
	if err != nil {
		writeAppError(w, h.logger, "list reminder history", err)
		return
	}
	if entries == nil {
		entries = []model.ReminderHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type tierReport struct {
	model.TierStats
	Rate float64 `json:"rate"`
}

// Effectiveness handles GET /api/reminders/effectiveness?goal_id=&days=
func (h *ReportHandler) Effectiveness(w http.ResponseWriter, r *http.Request) {
	goalID, since, ok := h.window(w, r, 90)
	if !ok {
		return
	}
	stats, err := h.history.TierStats(r.Context(), auth.UserID(r.Context()), goalID, since)
	if err != nil {
		writeAppError(w, h.logger, "reminder tier stats", err)
		return
	}
	out := make([]tierReport, 0, len(stats))
	for _, st := range stats {
		out = append(out, tierReport{TierStats: st, Rate: st.Rate()})
	}
	writeJSON(w, http.StatusOK, out)
}
