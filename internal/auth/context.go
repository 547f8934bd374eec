package auth

import (
	"context"

	"github.com/dukerupert/patrimonio/internal/model"
)

type contextKey struct{}

type AuthContext struct {
	UserID    int64
	Username  string
	Role      string
	Sector    string
	SessionID int64
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

// Role returns the caller's role, or "" when the request is unauthenticated.
func Role(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.Role
}

func IsAdmin(ctx context.Context) bool {
	return Role(ctx) == model.RoleAdmin
}

// ScopeSector returns the sector a caller's equipment views are limited to.
// Admins and callers without a sector see every sector ("").
func ScopeSector(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok || ac.Role == model.RoleAdmin {
		return ""
	}
	return ac.Sector
}
