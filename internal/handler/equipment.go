package handler

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukerupert/patrimonio/internal/auth"
	"github.com/dukerupert/patrimonio/internal/maintenance"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/sheet"
	"github.com/dukerupert/patrimonio/internal/store"
	"github.com/dukerupert/patrimonio/internal/websocket"
)

const maxImportBytes = 10 << 20

type EquipmentHandler struct {
	equipmentStore *store.EquipmentStore
	maintenance    *maintenance.Service
	hub            *websocket.Hub
	audit          *Auditor
	logger         *slog.Logger
	now            func() time.Time
}

func NewEquipmentHandler(es *store.EquipmentStore, ms *maintenance.Service, hub *websocket.Hub, audit *Auditor, logger *slog.Logger) *EquipmentHandler {
	return &EquipmentHandler{
		equipmentStore: es,
		maintenance:    ms,
		hub:            hub,
		audit:          audit,
		logger:         logger,
		now:            time.Now,
	}
}

func (h *EquipmentHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type equipmentRequest struct {
	Name             string                `json:"name" validate:"required,max=120"`
	Category         string                `json:"category" validate:"required,category"`
	Brand            string                `json:"brand" validate:"max=80"`
	Status           model.EquipmentStatus `json:"status" validate:"omitempty,equipment_status"`
	Sector           string                `json:"sector"`
	JobRole          string                `json:"job_role"`
	Shared           bool                  `json:"shared"`
	SerialNumber     string                `json:"serial_number"`
	AcquiredAt       *time.Time            `json:"acquired_at"`
	AcquisitionValue *float64              `json:"acquisition_value" validate:"omitempty,gte=0"`
	Notes            string                `json:"notes"`
}

func (req equipmentRequest) toModel() model.Equipment {
	return model.Equipment{
		Name:             strings.TrimSpace(req.Name),
		Category:         req.Category,
		Brand:            req.Brand,
		Status:           req.Status,
		Sector:           req.Sector,
		JobRole:          req.JobRole,
		Shared:           req.Shared,
		SerialNumber:     req.SerialNumber,
		AcquiredAt:       req.AcquiredAt,
		AcquisitionValue: req.AcquisitionValue,
		Notes:            req.Notes,
	}
}

// inScope reports whether the caller's sector covers e.
func inScope(r *http.Request, e *model.Equipment) bool {
	sector := auth.ScopeSector(r.Context())
	return sector == "" || e.Sector == sector
}

// scopeSector fills a blank sector with the caller's and reports whether
// the result is one the caller may write.
func scopeSector(r *http.Request, e *model.Equipment) bool {
	sector := auth.ScopeSector(r.Context())
	if sector == "" {
		return true
	}
	if e.Sector == "" {
		e.Sector = sector
	}
	return e.Sector == sector
}

// List handles GET /api/equipment. Sector-scoped callers only see their sector.
func (h *EquipmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.EquipmentFilter{
		Status:   model.EquipmentStatus(q.Get("status")),
		Category: q.Get("category"),
		Sector:   q.Get("sector"),
		Query:    strings.TrimSpace(q.Get("q")),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	}
	if sector := auth.ScopeSector(r.Context()); sector != "" {
		f.Sector = sector
	}
	items, err := h.equipmentStore.List(f)
	if err != nil {
		h.logger.Error("list equipment", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list equipment")
		return
	}
	if items == nil {
		items = []model.Equipment{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Get handles GET /api/equipment/{id}
func (h *EquipmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EquipmentHandler) load(w http.ResponseWriter, r *http.Request) (*model.Equipment, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	e, err := h.equipmentStore.GetByID(id)
	if err != nil {
		h.logger.Error("get equipment", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get equipment")
		return nil, false
	}
	if e == nil || !inScope(r, e) {
		writeError(w, http.StatusNotFound, "equipment not found")
		return nil, false
	}
	return e, true
}

// Create handles POST /api/equipment
func (h *EquipmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req equipmentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Status == model.EquipmentInUse {
		writeError(w, http.StatusBadRequest, "IN_USE is set by opening a loan")
		return
	}

	e := req.toModel()
	if !scopeSector(r, &e) {
		writeError(w, http.StatusForbidden, "equipment must belong to your sector")
		return
	}
	if dup, err := h.equipmentStore.GetByName(e.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create equipment")
		return
	} else if dup != nil {
		writeError(w, http.StatusConflict, "an equipment with this name already exists")
		return
	}

	created, err := h.equipmentStore.Create(e)
	if err != nil {
		h.logger.Error("create equipment", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create equipment")
		return
	}

	h.audit.Record(r, model.AuditCreate, "equipment", &created.ID, created.Name)
	h.broadcast(websocket.NewMessage("equipment", "created", created.ID, nil))
	writeJSON(w, http.StatusCreated, created)
}

// Update handles PUT /api/equipment/{id}
func (h *EquipmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.load(w, r)
	if !ok {
		return
	}

	var req equipmentRequest
	if !decode(w, r, &req) {
		return
	}

	e := req.toModel()
	e.ID = existing.ID
	if !scopeSector(r, &e) {
		writeError(w, http.StatusForbidden, "equipment must belong to your sector")
		return
	}
	if e.Status == "" {
		e.Status = existing.Status
	}
	if e.Status != existing.Status && (e.Status == model.EquipmentInUse || existing.Status == model.EquipmentInUse) {
		writeError(w, http.StatusConflict, "IN_USE is managed by loans")
		return
	}
	if e.Name != existing.Name {
		if dup, err := h.equipmentStore.GetByName(e.Name); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update equipment")
			return
		} else if dup != nil {
			writeError(w, http.StatusConflict, "an equipment with this name already exists")
			return
		}
	}

	updated, err := h.equipmentStore.Update(e)
	if errors.Is(err, store.ErrEquipmentNotFound) {
		writeError(w, http.StatusNotFound, "equipment not found")
		return
	}
	if err != nil {
		h.logger.Error("update equipment", "id", e.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update equipment")
		return
	}

	h.audit.Record(r, model.AuditUpdate, "equipment", &updated.ID, updated.Name)
	h.broadcast(websocket.NewMessage("equipment", "updated", updated.ID, nil))
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/equipment/{id}
func (h *EquipmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.load(w, r)
	if !ok {
		return
	}
	id := existing.ID

	err := h.equipmentStore.Delete(id)
	switch {
	case errors.Is(err, store.ErrEquipmentNotFound):
		writeError(w, http.StatusNotFound, "equipment not found")
		return
	case errors.Is(err, store.ErrEquipmentOnLoan):
		writeError(w, http.StatusConflict, "equipment has an active loan")
		return
	case err != nil:
		h.logger.Error("delete equipment", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete equipment")
		return
	}

	h.audit.Record(r, model.AuditDelete, "equipment", &id, "")
	h.broadcast(websocket.NewMessage("equipment", "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}

// Counts handles GET /api/equipment/counts
func (h *EquipmentHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.equipmentStore.CountByStatus(auth.ScopeSector(r.Context()))
	if err != nil {
		h.logger.Error("count equipment", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count equipment")
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "by_status": counts})
}

// Forecast handles GET /api/equipment/{id}/maintenance-forecast
func (h *EquipmentHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	f, err := h.maintenance.Forecast(r.Context(), id, h.now(), queryInt(r, "days", 0))
	if err != nil {
		h.logger.Error("maintenance forecast", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute forecast")
		return
	}
	if f == nil || !inScope(r, &f.Equipment) {
		writeError(w, http.StatusNotFound, "equipment not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Export handles GET /api/equipment/export?format=xlsx|csv
func (h *EquipmentHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "csv" {
		writeError(w, http.StatusBadRequest, "format must be xlsx or csv")
		return
	}

	items, err := h.equipmentStore.List(model.EquipmentFilter{Sector: auth.ScopeSector(r.Context())})
	if err != nil {
		h.logger.Error("list equipment for export", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export equipment")
		return
	}

	var buf bytes.Buffer
	contentType := sheet.ContentTypeXLSX
	if format == "csv" {
		contentType = sheet.ContentTypeCSV
		err = sheet.WriteCSV(&buf, items)
	} else {
		err = sheet.WriteXLSX(&buf, items)
	}
	if err != nil {
		h.logger.Error("write equipment export", "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export equipment")
		return
	}

	h.audit.Record(r, model.AuditExport, "equipment", nil, fmt.Sprintf("%s, %d rows", format, len(items)))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", sheet.Filename(format, h.now())))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Import handles POST /api/equipment/import (multipart field "file")
func (h *EquipmentHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	var rows []sheet.Row
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".csv":
		rows, err = sheet.ParseCSV(file)
	case ".xlsx":
		rows, err = sheet.ParseXLSX(file)
	default:
		writeError(w, http.StatusBadRequest, "file must be .csv or .xlsx")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var target sheet.Upserter = h.equipmentStore
	if sector := auth.ScopeSector(r.Context()); sector != "" {
		target = sheet.Scoped{Store: h.equipmentStore, Sector: sector}
	}
	res := sheet.Import(rows, target)
	h.audit.Record(r, model.AuditImport, "equipment", nil,
		fmt.Sprintf("%s: %d created, %d updated, %d errors", header.Filename, res.Created, res.Updated, len(res.Errors)))
	if res.Created+res.Updated > 0 {
		h.broadcast(websocket.NewMessage("equipment", "imported", 0, nil))
	}
	writeJSON(w, http.StatusOK, res)
}
