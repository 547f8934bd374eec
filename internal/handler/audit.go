package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/patrimonio/internal/auth"
	"github.com/dukerupert/patrimonio/internal/middleware"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
)

// Auditor records user actions. Failures are logged and never fail the request.
type Auditor struct {
	store  *store.AuditStore
	logger *slog.Logger
}

func NewAuditor(as *store.AuditStore, logger *slog.Logger) *Auditor {
	return &Auditor{store: as, logger: logger}
}

func (a *Auditor) Record(r *http.Request, action, table string, recordID *int64, details string) {
	if a == nil {
		return
	}
	entry := model.AuditLog{
		Action:    action,
		Table:     table,
		RecordID:  recordID,
		Details:   details,
		IPAddress: middleware.RealIP(r),
	}
	if uid := auth.UserID(r.Context()); uid != 0 {
		entry.UserID = &uid
	}
	if err := a.store.Record(entry); err != nil {
		a.logger.Error("record audit log", "action", action, "table", table, "error", err)
	}
}

type AuditHandler struct {
	auditStore *store.AuditStore
	logger     *slog.Logger
}

func NewAuditHandler(as *store.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{auditStore: as, logger: logger}
}

// List handles GET /api/audit
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.AuditFilter{
		UserID: int64(queryInt(r, "user_id", 0)),
		Action: q.Get("action"),
		Table:  q.Get("table"),
		Limit:  queryInt(r, "limit", 100),
	}
	if days := queryInt(r, "days", 0); days > 0 {
		since := time.Now().UTC().AddDate(0, 0, -days)
		f.Since = &since
	}

	entries, err := h.auditStore.List(f)
	if err != nil {
		h.logger.Error("list audit logs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list audit logs")
		return
	}
	if entries == nil {
		entries = []model.AuditLog{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Summary handles GET /api/audit/summary
func (h *AuditHandler) Summary(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	if days <= 0 {
		days = 30
	}
	summary, err := h.auditStore.SummaryByAction(time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		h.logger.Error("audit summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to summarize audit logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "actions": summary})
}
