package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/patrimonio/internal/auth"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
	"github.com/dukerupert/patrimonio/internal/websocket"
)

type LoanHandler struct {
	loanStore *store.LoanStore
	userStore *store.UserStore
	hub       *websocket.Hub
	audit     *Auditor
	logger    *slog.Logger
}

func NewLoanHandler(ls *store.LoanStore, us *store.UserStore, hub *websocket.Hub, audit *Auditor, logger *slog.Logger) *LoanHandler {
	return &LoanHandler{loanStore: ls, userStore: us, hub: hub, audit: audit, logger: logger}
}

func (h *LoanHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type loanRequest struct {
	EquipmentID      int64      `json:"equipment_id" validate:"required,gt=0"`
	BorrowerID       int64      `json:"borrower_id" validate:"required,gt=0"`
	ResponsibleID    int64      `json:"responsible_id" validate:"omitempty,gt=0"`
	ExpectedReturnAt *time.Time `json:"expected_return_at"`
	Notes            string     `json:"notes" validate:"max=500"`
}

// List handles GET /api/loans
func (h *LoanHandler) List(w http.ResponseWriter, r *http.Request) {
	loans, err := h.loanStore.List(model.LoanFilter{
		Status:      model.LoanStatus(r.URL.Query().Get("status")),
		EquipmentID: int64(queryInt(r, "equipment_id", 0)),
		BorrowerID:  int64(queryInt(r, "borrower_id", 0)),
		Limit:       queryInt(r, "limit", 0),
	})
	if err != nil {
		h.logger.Error("list loans", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list loans")
		return
	}
	if loans == nil {
		loans = []model.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

// Get handles GET /api/loans/{id}
func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	loan, err := h.loanStore.GetByID(id)
	if err != nil {
		h.logger.Error("get loan", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get loan")
		return
	}
	if loan == nil {
		writeError(w, http.StatusNotFound, "loan not found")
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// Create handles POST /api/loans
func (h *LoanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ResponsibleID == 0 {
		req.ResponsibleID = auth.UserID(r.Context())
	}
	if req.ExpectedReturnAt != nil && !req.ExpectedReturnAt.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "expected_return_at must be in the future")
		return
	}

	for _, uid := range []int64{req.BorrowerID, req.ResponsibleID} {
		u, err := h.userStore.GetByID(uid)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create loan")
			return
		}
		if u == nil || !u.Active {
			writeError(w, http.StatusBadRequest, "borrower and responsible must be active users")
			return
		}
	}

	loan, err := h.loanStore.Create(store.NewLoan{
		EquipmentID:      req.EquipmentID,
		BorrowerID:       req.BorrowerID,
		ResponsibleID:    req.ResponsibleID,
		ExpectedReturnAt: req.ExpectedReturnAt,
		Notes:            req.Notes,
	})
	switch {
	case errors.Is(err, store.ErrEquipmentNotFound):
		writeError(w, http.StatusNotFound, "equipment not found")
		return
	case errors.Is(err, store.ErrActiveLoanExists):
		writeError(w, http.StatusConflict, "equipment already has an active loan")
		return
	case errors.Is(err, store.ErrEquipmentBroken):
		writeError(w, http.StatusConflict, "equipment is broken")
		return
	case err != nil:
		h.logger.Error("create loan", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create loan")
		return
	}

	h.audit.Record(r, model.AuditCreate, "loans", &loan.ID, loan.EquipmentName)
	h.broadcast(websocket.NewMessage("loan", "created", loan.ID, map[string]any{"equipment_id": loan.EquipmentID}))
	writeJSON(w, http.StatusCreated, loan)
}

// Return handles POST /api/loans/{id}/return
func (h *LoanHandler) Return(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	loan, err := h.loanStore.Return(id)
	switch {
	case errors.Is(err, store.ErrLoanNotFound):
		writeError(w, http.StatusNotFound, "loan not found")
		return
	case errors.Is(err, store.ErrLoanNotActive):
		writeError(w, http.StatusConflict, "loan is already returned")
		return
	case err != nil:
		h.logger.Error("return loan", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to return loan")
		return
	}

	h.audit.Record(r, model.AuditUpdate, "loans", &loan.ID, "returned")
	h.broadcast(websocket.NewMessage("loan", "returned", loan.ID, map[string]any{"equipment_id": loan.EquipmentID}))
	writeJSON(w, http.StatusOK, loan)
}
