package model

import "time"

// Bucket is one group of an aggregate count.
type Bucket struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// EquipmentAnalytics breaks the registry down for dashboard charts.
// BySector is only filled for callers that see every sector.
type EquipmentAnalytics struct {
	Sector     string   `json:"sector,omitempty"`
	Total      int      `json:"total"`
	ByCategory []Bucket `json:"by_category"`
	ByStatus   []Bucket `json:"by_status"`
	BySector   []Bucket `json:"by_sector"`
}

// MaintenanceReportFilter narrows the maintenance report. Zero values are ignored.
type MaintenanceReportFilter struct {
	From   *time.Time
	To     *time.Time
	Type   string
	Status MaintenanceStatus
	Sector string
}

// MaintenanceReportRow is a maintenance record with its equipment's name and sector.
type MaintenanceReportRow struct {
	Maintenance
	EquipmentName   string `json:"equipment_name"`
	EquipmentSector string `json:"equipment_sector"`
}

// Cost is the actual cost, else the estimate, else zero.
func (r MaintenanceReportRow) Cost() float64 {
	switch {
	case r.ActualCost != nil:
		return *r.ActualCost
	case r.EstimatedCost != nil:
		return *r.EstimatedCost
	}
	return 0
}

type MaintenanceReport struct {
	Items     []MaintenanceReportRow `json:"items"`
	Total     int                    `json:"total"`
	Done      int                    `json:"done"`
	TotalCost float64                `json:"total_cost"`
}

// CalendarEvent is an open maintenance placed on a calendar.
type CalendarEvent struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Start       string            `json:"start"`
	Color       string            `json:"color"`
	EquipmentID int64             `json:"equipment_id"`
	Equipment   string            `json:"equipment"`
	Type        string            `json:"type"`
	Status      MaintenanceStatus `json:"status"`
}

// EquipmentReport lists equipment for the inventory and loan reports.
type EquipmentReport struct {
	Title       string      `json:"title"`
	Sector      string      `json:"sector,omitempty"`
	Total       int         `json:"total"`
	Items       []Equipment `json:"items"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// CriticalAction is an audit entry flagged in the audit report.
type CriticalAction struct {
	Action    string    `json:"action"`
	User      string    `json:"user"`
	Table     string    `json:"table"`
	RecordID  *int64    `json:"record_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditReport struct {
	Title           string           `json:"title"`
	From            time.Time        `json:"from"`
	To              time.Time        `json:"to"`
	TotalActions    int              `json:"total_actions"`
	CriticalCount   int              `json:"critical_count"`
	ComplianceScore int              `json:"compliance_score"`
	ByAction        map[string]int   `json:"by_action"`
	ByUser          map[string]int   `json:"by_user"`
	Critical        []CriticalAction `json:"critical"`
	ActiveUsers     int              `json:"active_users"`
	Recommendations []string         `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generated_at"`
}
