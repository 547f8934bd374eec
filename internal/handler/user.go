package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/patrimonio/internal/auth"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
)

type UserHandler struct {
	userStore *store.UserStore
	audit     *Auditor
	logger    *slog.Logger
}

func NewUserHandler(us *store.UserStore, audit *Auditor, logger *slog.Logger) *UserHandler {
	return &UserHandler{userStore: us, audit: audit, logger: logger}
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50,alphanum"`
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"required,role"`
	Sector   string `json:"sector" validate:"max=80"`
}

type updateUserRequest struct {
	Name   string `json:"name" validate:"required,max=120"`
	Email  string `json:"email" validate:"omitempty,email"`
	Role   string `json:"role" validate:"required,role"`
	Sector string `json:"sector" validate:"max=80"`
	Active *bool  `json:"active"`
}

type passwordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// List handles GET /api/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.userStore.List()
	if err != nil {
		h.logger.Error("list users", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Create handles POST /api/users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decode(w, r, &req) {
		return
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))

	existing, err := h.userStore.GetByUsername(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user, err := h.userStore.Create(req.Username, req.Name, req.Email, string(hash), req.Role, req.Sector)
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.audit.Record(r, model.AuditCreate, "users", &user.ID, user.Username)
	writeJSON(w, http.StatusCreated, user)
}

// Update handles PUT /api/users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	existing, err := h.userStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	var req updateUserRequest
	if !decode(w, r, &req) {
		return
	}
	active := existing.Active
	if req.Active != nil {
		active = *req.Active
	}
	if id == auth.UserID(r.Context()) && (!active || req.Role != existing.Role) {
		writeError(w, http.StatusConflict, "you cannot deactivate or change the role of your own account")
		return
	}

	user, err := h.userStore.Update(id, req.Name, req.Email, req.Role, req.Sector, active)
	if err != nil {
		h.logger.Error("update user", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	h.audit.Record(r, model.AuditUpdate, "users", &id, user.Username)
	writeJSON(w, http.StatusOK, user)
}

// SetPassword handles PUT /api/users/{id}/password
func (h *UserHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}

	existing, err := h.userStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to set password")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to set password")
		return
	}
	if err := h.userStore.SetPassword(id, string(hash)); err != nil {
		h.logger.Error("set password", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set password")
		return
	}

	h.audit.Record(r, model.AuditUpdate, "users", &id, "password changed")
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if id == auth.UserID(r.Context()) {
		writeError(w, http.StatusConflict, "you cannot delete your own account")
		return
	}
	existing, err := h.userStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.userStore.Delete(id); err != nil {
		h.logger.Error("delete user", "id", id, "error", err)
		writeError(w, http.StatusConflict, "user still referenced by loans or records")
		return
	}

	h.audit.Record(r, model.AuditDelete, "users", &id, existing.Username)
	w.WriteHeader(http.StatusNoContent)
}
