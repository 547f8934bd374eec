package handler

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/dukerupert/patrimonio/internal/auth"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/report"
	"github.com/dukerupert/patrimonio/internal/sheet"
)

type ReportHandler struct {
	reports *report.Service
	audit   *Auditor
	logger  *slog.Logger
	now     func() time.Time
}

func NewReportHandler(reports *report.Service, audit *Auditor, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, audit: audit, logger: logger, now: time.Now}
}

// Analytics handles GET /api/reports/analytics
func (h *ReportHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.reports.Analytics(r.Context(), auth.ScopeSector(r.Context()))
	if err != nil {
		h.logger.Error("equipment analytics", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, a)
}

// Calendar handles GET /api/maintenance/calendar
func (h *ReportHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	events, err := h.reports.Calendar(r.Context(), auth.ScopeSector(r.Context()))
	if err != nil {
		h.logger.Error("maintenance calendar", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load calendar")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// parseMaintenanceFilter reads from, to (inclusive dates), type and status.
func parseMaintenanceFilter(r *http.Request) (model.MaintenanceReportFilter, error) {
	var f model.MaintenanceReportFilter
	q := r.URL.Query()

	from, err := queryDate(r, "from")
	if err != nil {
		return f, err
	}
	to, err := queryDate(r, "to")
	if err != nil {
		return f, err
	}
	if to != nil {
		end := to.AddDate(0, 0, 1)
		to = &end
	}
	f.From, f.To = from, to

	if t := q.Get("type"); t != "" {
		if !slices.Contains(model.MaintenanceTypes, t) {
			return f, fmt.Errorf("unknown maintenance type %q", t)
		}
		f.Type = t
	}
	if st := model.MaintenanceStatus(q.Get("status")); st != "" {
		if !st.Valid() {
			return f, fmt.Errorf("unknown maintenance status %q", st)
		}
		f.Status = st
	}
	return f, nil
}

// Maintenance handles GET /api/reports/maintenance?from=&to=&type=&status=&format=json|xlsx
func (h *ReportHandler) Maintenance(w http.ResponseWriter, r *http.Request) {
	f, err := parseMaintenanceFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "xlsx" {
		writeError(w, http.StatusBadRequest, "format must be json or xlsx")
		return
	}

	rep, err := h.reports.Maintenance(r.Context(), f, auth.ScopeSector(r.Context()))
	if err != nil {
		h.logger.Error("maintenance report", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	if format != "xlsx" {
		writeJSON(w, http.StatusOK, rep)
		return
	}

	var buf bytes.Buffer
	if err := sheet.WriteMaintenanceXLSX(&buf, rep); err != nil {
		h.logger.Error("write maintenance report", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	h.audit.Record(r, model.AuditExport, "maintenance", nil, fmt.Sprintf("xlsx, %d rows", rep.Total))

	w.Header().Set("Content-Type", sheet.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", sheet.MaintenanceFilename(h.now())))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Inventory handles GET /api/reports/inventory
func (h *ReportHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.Inventory(r.Context(), auth.ScopeSector(r.Context()))
	if err != nil {
		h.logger.Error("inventory report", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Loans handles GET /api/reports/loans
func (h *ReportHandler) Loans(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.Loans(r.Context(), auth.ScopeSector(r.Context()))
	if err != nil {
		h.logger.Error("loans report", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Audit handles GET /api/reports/audit
func (h *ReportHandler) Audit(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.Audit(r.Context(), auth.ScopeSector(r.Context()))
	if err != nil {
		h.logger.Error("audit report", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
