package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/patrimonio/internal/auth"
	"github.com/dukerupert/patrimonio/internal/maintenance"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
	"github.com/dukerupert/patrimonio/internal/websocket"
)

type MaintenanceHandler struct {
	service          *maintenance.Service
	maintenanceStore *store.MaintenanceStore
	hub              *websocket.Hub
	audit            *Auditor
	upcomingDays     int
	logger           *slog.Logger
	now              func() time.Time
}

func NewMaintenanceHandler(svc *maintenance.Service, ms *store.MaintenanceStore, hub *websocket.Hub, audit *Auditor, upcomingDays int, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		service:          svc,
		maintenanceStore: ms,
		hub:              hub,
		audit:            audit,
		upcomingDays:     upcomingDays,
		logger:           logger,
		now:              time.Now,
	}
}

func (h *MaintenanceHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type maintenanceRequest struct {
	EquipmentID   int64      `json:"equipment_id" validate:"required,gt=0"`
	Type          string     `json:"type" validate:"required,oneof=PREVENTIVE CORRECTIVE UPGRADE CLEANING INSPECTION"`
	Description   string     `json:"description" validate:"required,max=1000"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
	EstimatedCost *float64   `json:"estimated_cost" validate:"omitempty,gte=0"`
	Technician    string     `json:"technician" validate:"max=120"`
}

type completeRequest struct {
	ActualCost *float64 `json:"actual_cost" validate:"omitempty,gte=0"`
}

// ListByEquipment handles GET /api/equipment/{id}/maintenance
func (h *MaintenanceHandler) ListByEquipment(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if sector := auth.ScopeSector(r.Context()); sector != "" {
		e, err := h.service.Equipment(r.Context(), id)
		if err != nil {
			h.logger.Error("get equipment", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list maintenance")
			return
		}
		if e == nil || e.Sector != sector {
			writeError(w, http.StatusNotFound, "equipment not found")
			return
		}
	}
	items, err := h.maintenanceStore.ListByEquipment(id)
	if err != nil {
		h.logger.Error("list maintenance", "equipment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list maintenance")
		return
	}
	if items == nil {
		items = []model.Maintenance{}
	}
	writeJSON(w, http.StatusOK, items)
}

// inSector keeps the forecasts for equipment in sector; "" keeps all.
func inSector(items []maintenance.EquipmentForecast, sector string) []maintenance.EquipmentForecast {
	out := make([]maintenance.EquipmentForecast, 0, len(items))
	for _, f := range items {
		if sector == "" || f.Equipment.Sector == sector {
			out = append(out, f)
		}
	}
	return out
}

// ListOpen handles GET /api/maintenance
func (h *MaintenanceHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	items, err := h.maintenanceStore.ListOpen()
	if err != nil {
		h.logger.Error("list open maintenance", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list maintenance")
		return
	}
	if items == nil {
		items = []model.Maintenance{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Overdue handles GET /api/maintenance/overdue
func (h *MaintenanceHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Overdue(r.Context(), h.now())
	if err != nil {
		h.logger.Error("overdue maintenance", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute overdue maintenance")
		return
	}
	writeJSON(w, http.StatusOK, inSector(items, auth.ScopeSector(r.Context())))
}

// Upcoming handles GET /api/maintenance/upcoming?days=N
func (h *MaintenanceHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Upcoming(r.Context(), h.now(), queryInt(r, "days", h.upcomingDays))
	if err != nil {
		h.logger.Error("upcoming maintenance", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute upcoming maintenance")
		return
	}
	writeJSON(w, http.StatusOK, inSector(items, auth.ScopeSector(r.Context())))
}

// Schedule handles POST /api/maintenance
func (h *MaintenanceHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if !decode(w, r, &req) {
		return
	}

	m := model.Maintenance{
		EquipmentID:   req.EquipmentID,
		Type:          req.Type,
		Description:   req.Description,
		ScheduledAt:   h.now().UTC(),
		EstimatedCost: req.EstimatedCost,
		Technician:    req.Technician,
	}
	if req.ScheduledAt != nil {
		m.ScheduledAt = req.ScheduledAt.UTC()
	}
	if uid := auth.UserID(r.Context()); uid != 0 {
		m.CreatedBy = &uid
	}

	created, err := h.service.Schedule(r.Context(), m)
	switch {
	case errors.Is(err, store.ErrEquipmentNotFound):
		writeError(w, http.StatusNotFound, "equipment not found")
		return
	case errors.Is(err, maintenance.ErrInvalidType):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("schedule maintenance", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to schedule maintenance")
		return
	}

	h.audit.Record(r, model.AuditCreate, "maintenance", &created.ID, created.Type)
	h.broadcast(websocket.NewMessage("maintenance", "created", created.ID, map[string]any{"equipment_id": created.EquipmentID}))
	writeJSON(w, http.StatusCreated, created)
}

// Start handles POST /api/maintenance/{id}/start
func (h *MaintenanceHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "started", func(id int64) (*model.Maintenance, error) {
		return h.service.Start(r.Context(), id, h.now())
	})
}

// Cancel handles POST /api/maintenance/{id}/cancel
func (h *MaintenanceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancelled", func(id int64) (*model.Maintenance, error) {
		return h.service.Cancel(r.Context(), id, h.now())
	})
}

// Complete handles POST /api/maintenance/{id}/complete
func (h *MaintenanceHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decode(w, r, &req) {
		return
	}
	h.transition(w, r, "completed", func(id int64) (*model.Maintenance, error) {
		return h.service.Complete(r.Context(), id, h.now(), req.ActualCost)
	})
}

func (h *MaintenanceHandler) transition(w http.ResponseWriter, r *http.Request, action string, fn func(int64) (*model.Maintenance, error)) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	m, err := fn(id)
	switch {
	case errors.Is(err, store.ErrMaintenanceMissing):
		writeError(w, http.StatusNotFound, "maintenance not found")
		return
	case errors.Is(err, store.ErrMaintenanceClosed):
		writeError(w, http.StatusConflict, "maintenance already closed")
		return
	case err != nil:
		h.logger.Error("update maintenance", "id", id, "action", action, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update maintenance")
		return
	}

	h.audit.Record(r, model.AuditUpdate, "maintenance", &m.ID, action)
	h.broadcast(websocket.NewMessage("maintenance", action, m.ID, map[string]any{"equipment_id": m.EquipmentID}))
	writeJSON(w, http.StatusOK, m)
}
