package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/pursue/internal/jobs"
	"github.com/dukerupert/pursue/internal/model"
	"github.com/dukerupert/pursue/internal/store"
)

type JobHandler struct {
	runner *jobs.Runner
	runs   *store.JobRunStore
	logger *slog.Logger
}

func NewJobHandler(runner *jobs.Runner, runs *store.JobRunStore, logger *slog.Logger) *JobHandler {
	return &JobHandler{runner: runner, runs: runs, logger: logger}
}

// Trigger handles POST /internal/jobs/{job}. It runs the job synchronously
// and answers with its counts.
func (h *JobHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("job")
	run, err := h.runner.Run(r.Context(), name)
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "unknown job")
		return
	case errors.Is(err, jobs.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "job already running")
		return
	case err != nil && run.ID == 0:
		writeAppError(w, h.logger, "run job", err)
		return
	}

	status := http.StatusOK
	if run.Result == model.JobResultFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"job":       run.Job,
		"run_id":    run.RunID,
		"result":    run.Result,
		"processed": run.Processed,
		"skipped":   run.Skipped,
		"errored":   run.Errored,
	})
}

// Runs handles GET /internal/jobs/{job}/runs
func (h *JobHandler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 20)
	if !ok || limit == 0 || limit > 200 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
		return
	}
	runs, err := h.runs.ListRecent(r.Context(), r.PathValue("job"), int(limit))
	if err != nil {
		writeAppError(w, h.logger, "list job runs", err)
		return
	}
	if runs == nil {
		runs = []model.JobRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
