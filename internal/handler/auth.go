package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/patrimonio/internal/auth"
	"github.com/dukerupert/patrimonio/internal/authz"
	"github.com/dukerupert/patrimonio/internal/middleware"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
)

type AuthHandler struct {
	userStore    *store.UserStore
	sessionStore *store.SessionStore
	enforcer     *authz.Enforcer
	audit        *Auditor
	secureCookie bool
	logger       *slog.Logger
}

func NewAuthHandler(us *store.UserStore, ss *store.SessionStore, enforcer *authz.Enforcer, audit *Auditor, baseURL string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		userStore:    us,
		sessionStore: ss,
		enforcer:     enforcer,
		audit:        audit,
		secureCookie: strings.HasPrefix(baseURL, "https://"),
		logger:       logger,
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.userStore.GetByUsername(strings.TrimSpace(req.Username))
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if user == nil || !user.Active ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	sess, err := h.sessionStore.Create(user.ID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if err := h.userStore.TouchLogin(user.ID, time.Now().UTC()); err != nil {
		h.logger.Warn("touch login", "user_id", user.ID, "error", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	ctx := auth.WithAuth(r.Context(), auth.AuthContext{UserID: user.ID, Username: user.Username, Role: user.Role, Sector: user.Sector, SessionID: sess.ID})
	h.audit.Record(r.WithContext(ctx), model.AuditLogin, "users", &user.ID, "")

	writeJSON(w, http.StatusOK, user)
}

// Logout handles POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if sess, err := h.sessionStore.GetByToken(cookie.Value); err == nil && sess != nil {
			if err := h.sessionStore.Delete(sess.ID); err != nil {
				h.logger.Warn("delete session", "error", err)
			}
			ctx := auth.WithAuth(r.Context(), auth.AuthContext{UserID: sess.UserID, SessionID: sess.ID})
			h.audit.Record(r.WithContext(ctx), model.AuditLogout, "users", &sess.UserID, "")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.userStore.GetByID(auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": h.enforcer.Permissions(user.Role),
	})
}
