package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/pursue/internal/apperr"
	"github.com/dukerupert/pursue/internal/auth"
	"github.com/dukerupert/pursue/internal/metrics"
	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/pattern"
)

type Membership interface {
	IsMember(ctx context.Context, userID, goalID int64) (bool, error)
}

type PatternHandler struct {
	svc     *pattern.Service
	members Membership
	timeout time.Duration
	metrics *metrics.Exporter
	logger  *slog.Logger
}

func NewPatternHandler(svc *pattern.Service, members Membership, timeout time.Duration, m *metrics.Exporter, logger *slog.Logger) *PatternHandler {
	return &PatternHandler{svc: svc, members: members, timeout: timeout, metrics: m, logger: logger}
}

// patternResponse adds the display label to a stored bucket.
type patternResponse struct {
	model.LoggingPattern
	ConfidenceLabel string `json:"confidence_label"`
}

func withLabels(patterns []model.LoggingPattern) []patternResponse {
	out := make([]patternResponse, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, patternResponse{LoggingPattern: p, ConfidenceLabel: pattern.Label(p.ConfidenceScore)})
	}
	return out
}

func (h *PatternHandler) authorize(w http.ResponseWriter, r *http.Request) (userID, goalID int64, ok bool) {
	goalID, err := parseGoalID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid goal_id")
		return 0, 0, false
	}
	userID = auth.UserID(r.Context())
	member, err := h.members.IsMember(r.Context(), userID, goalID)
	if err != nil {
		writeAppError(w, h.logger, "check goal membership", err)
		return 0, 0, false
	}
	if !member {
		writeError(w, http.StatusNotFound, "not found")
		return 0, 0, false
	}
	return userID, goalID, true
}

// List handles GET /api/reminders/patterns/{goal_id}
func (h *PatternHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, goalID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	patterns, err := h.svc.Usable(r.Context(), userID, goalID)
	if err != nil {
		writeAppError(w, h.logger, "list patterns", err)
		return
	}
	writeJSON(w, http.StatusOK, withLabels(patterns))
}

// Recalculate handles POST /api/reminders/patterns/{goal_id}/recalculate.
// Too little history is a normal 200 answer, not an error.
func (h *PatternHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	userID, goalID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	patterns, err := h.svc.RecalculateWithin(r.Context(), h.timeout, userID, goalID)
	var insufficient *apperr.InsufficientDataError
	switch {
	case err == nil:
		h.metrics.RecordRecalculation("on_demand", pattern.OutcomeOK)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"patterns": withLabels(patterns),
		})
	case errors.As(err, &insufficient):
		h.metrics.RecordRecalculation("on_demand", pattern.OutcomeInsufficient)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "insufficient_data",
			"sample_size": insufficient.SampleSize,
			"required":    insufficient.Required,
			"needed":      insufficient.Needed(),
		})
	case errors.Is(err, pattern.ErrTimeout):
		h.metrics.RecordRecalculation("on_demand", pattern.OutcomeTimeout)
		w.Header().Set("Retry-After", strconv.Itoa(int(h.timeout.Seconds())+1))
		writeError(w, http.StatusServiceUnavailable, "recalculation is taking too long, try again")
	default:
		h.metrics.RecordRecalculation("on_demand", pattern.OutcomeError)
		writeAppError(w, h.logger, "recalculate pattern", err)
	}
}
