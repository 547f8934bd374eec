package model

import "time"

type EquipmentStatus string

const (
	EquipmentAvailable EquipmentStatus = "AVAILABLE"
	EquipmentInUse     EquipmentStatus = "IN_USE"
	EquipmentBroken    EquipmentStatus = "BROKEN"
)

func (s EquipmentStatus) Valid() bool {
	switch s {
	case EquipmentAvailable, EquipmentInUse, EquipmentBroken:
		return true
	}
	return false
}

// Categories accepted for equipment records.
var Categories = []string{
	"NOTEBOOK", "DESKTOP", "ACCESS POINT", "ROTEADOR", "IMPRESSORA", "TABLET",
	"TV", "PROJETOR", "CELULAR", "CAIXA DE SOM", "PERIFERICOS",
	"COMPUTADOR", "SERVIDOR", "TELEFONE", "MONITOR",
}

func ValidCategory(c string) bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

type Equipment struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	Brand            string          `json:"brand"`
	Status           EquipmentStatus `json:"status"`
	Sector           string          `json:"sector"`
	JobRole          string          `json:"job_role"`
	Shared           bool            `json:"shared"`
	SerialNumber     string          `json:"serial_number"`
	AcquiredAt       *time.Time      `json:"acquired_at,omitempty"`
	AcquisitionValue *float64        `json:"acquisition_value,omitempty"`
	Notes            string          `json:"notes"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// EquipmentFilter narrows equipment listings. Zero values are ignored.
type EquipmentFilter struct {
	Status   EquipmentStatus
	Category string
	Sector   string
	Query    string
	Limit    int
	Offset   int
}
