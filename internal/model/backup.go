package model

import "time"

type BackupStatus string

const (
	BackupStatusRunning BackupStatus = "RUNNING"
	BackupStatusSuccess BackupStatus = "SUCCESS"
	BackupStatusFailure BackupStatus = "FAILURE"
)

type BackupKind string

const (
	BackupKindManual    BackupKind = "MANUAL"
	BackupKindAutomatic BackupKind = "AUTOMATIC"
)

// FilenameTag is the kind segment used in backup file names.
func (k BackupKind) FilenameTag() string {
	if k == BackupKindManual {
		return "manual"
	}
	return "auto"
}

type Backup struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Filename     string       `json:"filename"`
	Path         string       `json:"-"`
	SizeBytes    int64        `json:"size_bytes"`
	Kind         BackupKind   `json:"kind"`
	Status       BackupStatus `json:"status"`
	CreatedBy    *int64       `json:"created_by,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	S3Key        string       `json:"s3_key,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
