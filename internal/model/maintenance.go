package model

import "time"

type MaintenanceStatus string

const (
	MaintenanceScheduled  MaintenanceStatus = "SCHEDULED"
	MaintenanceInProgress MaintenanceStatus = "IN_PROGRESS"
	MaintenanceDone       MaintenanceStatus = "DONE"
	MaintenanceCancelled  MaintenanceStatus = "CANCELLED"
)

func (s MaintenanceStatus) Valid() bool {
	switch s {
	case MaintenanceScheduled, MaintenanceInProgress, MaintenanceDone, MaintenanceCancelled:
		return true
	}
	return false
}

const (
	MaintenancePreventive = "PREVENTIVE"
	MaintenanceCorrective = "CORRECTIVE"
	MaintenanceUpgrade    = "UPGRADE"
	MaintenanceCleaning   = "CLEANING"
	MaintenanceInspection = "INSPECTION"
)

var MaintenanceTypes = []string{
	MaintenancePreventive, MaintenanceCorrective, MaintenanceUpgrade,
	MaintenanceCleaning, MaintenanceInspection,
}

type Maintenance struct {
	ID            int64             `json:"id"`
	EquipmentID   int64             `json:"equipment_id"`
	Type          string            `json:"type"`
	Description   string            `json:"description"`
	ScheduledAt   time.Time         `json:"scheduled_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	EstimatedCost *float64          `json:"estimated_cost,omitempty"`
	ActualCost    *float64          `json:"actual_cost,omitempty"`
	Status        MaintenanceStatus `json:"status"`
	Technician    string            `json:"technician"`
	CreatedBy     *int64            `json:"created_by,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
