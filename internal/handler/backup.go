package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/patrimonio/internal/auth"
	"github.com/dukerupert/patrimonio/internal/backup"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
)

type BackupHandler struct {
	manager     *backup.Manager
	backupStore *store.BackupStore
	jobs        Jobs
	audit       *Auditor
	logger      *slog.Logger
}

func NewBackupHandler(m *backup.Manager, bs *store.BackupStore, jobs Jobs, audit *Auditor, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, backupStore: bs, jobs: jobs, audit: audit, logger: logger}
}

// List handles GET /api/backups
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.manager.List(queryInt(r, "limit", 100))
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	if items == nil {
		items = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Status handles GET /api/backups/status
func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.backupStore.CountByStatus()
	if err != nil {
		h.logger.Error("count backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get backup status")
		return
	}
	size, err := h.backupStore.TotalSize()
	if err != nil {
		h.logger.Error("backup size", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get backup status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     h.manager.Status(),
		"retention":  h.manager.Retention(),
		"counts":     counts,
		"total_size": size,
	})
}

// Get handles GET /api/backups/{id}
func (h *BackupHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	b, err := h.manager.Get(id)
	if errors.Is(err, backup.ErrNotFound) {
		writeError(w, http.StatusNotFound, "backup not found")
		return
	}
	if err != nil {
		h.logger.Error("get backup", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get backup")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Create handles POST /api/backups and POST /api/jobs/backup. A failed
// backup is still returned, with its FAILURE row.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var createdBy *int64
	if uid := auth.UserID(r.Context()); uid != 0 {
		createdBy = &uid
	}

	b, err := h.jobs.RunBackupNow(r.Context(), createdBy)
	if b != nil {
		h.audit.Record(r, model.AuditBackup, "backups", &b.ID, string(b.Status))
	}
	switch {
	case errors.Is(err, backup.ErrUnsupportedStore):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "backup": b})
		return
	case err != nil && b != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": b.ErrorMessage, "backup": b})
		return
	case err != nil:
		h.logger.Error("create backup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create backup")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Download handles GET /api/backups/{id}/download
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	rc, b, err := h.manager.Open(id)
	if errors.Is(err, backup.ErrNotFound) {
		writeError(w, http.StatusNotFound, "backup file not available")
		return
	}
	if err != nil {
		h.logger.Error("open backup", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open backup")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", b.Filename))
	if b.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(b.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("stream backup", "id", id, "error", err)
	}
}

// Delete handles DELETE /api/backups/{id}
func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	err = h.manager.Delete(r.Context(), id)
	if errors.Is(err, backup.ErrNotFound) {
		writeError(w, http.StatusNotFound, "backup not found")
		return
	}
	if err != nil {
		h.logger.Error("delete backup", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete backup")
		return
	}

	h.audit.Record(r, model.AuditDelete, "backups", &id, "")
	w.WriteHeader(http.StatusNoContent)
}

// Restore handles POST /api/backups/{id}/restore
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	// Recorded first: a successful restore replaces the audit table too.
	h.audit.Record(r, model.AuditRestore, "backups", &id, "requested")

	err = h.manager.Restore(r.Context(), id)
	switch {
	case errors.Is(err, backup.ErrNotFound):
		writeError(w, http.StatusNotFound, "backup not found")
		return
	case errors.Is(err, backup.ErrNotRestorable):
		writeError(w, http.StatusConflict, "only successful backups can be restored")
		return
	case errors.Is(err, backup.ErrUnsupportedStore):
		h.logger.Warn("restore backup", "id", id, "error", err)
		writeError(w, http.StatusUnprocessableEntity, "backups are not available for this database")
		return
	case err != nil:
		h.logger.Error("restore backup", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "restore failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restored": id})
}
