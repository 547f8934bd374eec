package model

import "time"

// Role constants. Permissions per role live in the authz policy.
const (
	RoleAdmin   = "ADMIN"
	RoleManager = "GERENTE"
	RoleUser    = "USUARIO"
	RoleViewer  = "VISUALIZADOR"
)

var Roles = []string{RoleAdmin, RoleManager, RoleUser, RoleViewer}

type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	Sector       string     `json:"sector"`
	Active       bool       `json:"active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func ValidRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}
