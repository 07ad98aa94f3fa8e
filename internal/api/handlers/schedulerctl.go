package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"brokerdesk/internal/core"
	"brokerdesk/internal/scheduler"
)

// SchedulerController is the subset of the scheduler driver the control
// routes need.
type SchedulerController interface {
	Status() scheduler.DriverStatus
	Pause(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) error
	RunAll(ctx context.Context) scheduler.RunSummary
}

// SchedulerHandler exposes operational control over the background job
// driver: status, per-job pause and resume, and a manual run of the full
// cycle.
type SchedulerHandler struct {
	driver SchedulerController
	logger *slog.Logger
}

// NewSchedulerHandler creates a SchedulerHandler.
func NewSchedulerHandler(driver SchedulerController, l *slog.Logger) *SchedulerHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SchedulerHandler{driver: driver, logger: l}
}

// RegisterRoutes mounts scheduler control routes on the provided chi.Router.
func (h *SchedulerHandler) RegisterRoutes(r chi.Router) {
	r.Route("/scheduler", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/run", h.Run)
		r.Post("/jobs/{jobID}/pause", h.Pause)
		r.Post("/jobs/{jobID}/resume", h.Resume)
	})
}

// Status handles GET /v1/scheduler/status.
func (h *SchedulerHandler) Status(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.driver.Status()})
}

// Pause handles POST /v1/scheduler/jobs/{jobID}/pause.
func (h *SchedulerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := h.driver.Pause(r.Context(), jobID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "scheduler job paused", "job_id", jobID)
	w.WriteHeader(http.StatusNoContent)
}

// Resume handles POST /v1/scheduler/jobs/{jobID}/resume.
func (h *SchedulerHandler) Resume(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := h.driver.Resume(r.Context(), jobID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "scheduler job resumed", "job_id", jobID)
	w.WriteHeader(http.StatusNoContent)
}

// Run handles POST /v1/scheduler/run, executing every job once in order and
// returning the per-job reports. Long cycles are bounded by the request
// timeout middleware.
func (h *SchedulerHandler) Run(w http.ResponseWriter, r *http.Request) {
	summary := h.driver.RunAll(r.Context())

	status := http.StatusOK
	if len(summary.JobErrors) > 0 {
		h.logger.WarnContext(r.Context(), "manual scheduler run finished with errors",
			"job_errors", len(summary.JobErrors))
		status = http.StatusMultiStatus
	}
	core.JSON(w, r, status, core.APIResponse{Data: summary})
}
