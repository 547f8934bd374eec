package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/notify"
	"github.com/dukerupert/patrimonio/internal/scheduler"
)

// Jobs runs background work on demand.
type Jobs interface {
	RunNotificationsNow(ctx context.Context) (notify.Summary, error)
	RunBackupNow(ctx context.Context, createdBy *int64) (*model.Backup, error)
	Status() scheduler.Status
}

type JobsHandler struct {
	jobs   Jobs
	audit  *Auditor
	logger *slog.Logger
}

func NewJobsHandler(jobs Jobs, audit *Auditor, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{jobs: jobs, audit: audit, logger: logger}
}

// Status handles GET /api/jobs
func (h *JobsHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.Status())
}

// RunNotifications handles POST /api/jobs/notifications. Failed passes are
// reported in the summary with a 207 status.
func (h *JobsHandler) RunNotifications(w http.ResponseWriter, r *http.Request) {
	summary, err := h.jobs.RunNotificationsNow(r.Context())
	status := http.StatusOK
	if err != nil {
		h.logger.Warn("manual notification run", "error", err)
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, summary)
}
