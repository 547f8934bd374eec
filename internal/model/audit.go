package model

import "time"

// Audit actions recorded by handlers.
const (
	AuditCreate  = "CREATE"
	AuditUpdate  = "UPDATE"
	AuditDelete  = "DELETE"
	AuditLogin   = "LOGIN"
	AuditLogout  = "LOGOUT"
	AuditBackup  = "BACKUP"
	AuditRestore = "RESTORE"
	AuditImport  = "IMPORT"
	AuditExport  = "EXPORT"
)

type AuditLog struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	Table     string    `json:"table"`
	RecordID  *int64    `json:"record_id,omitempty"`
	Details   string    `json:"details"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditFilter struct {
	UserID int64
	Action string
	Table  string
	Since  *time.Time
	Limit  int
}
