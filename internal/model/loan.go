package model

import "time"

type LoanStatus string

const (
	LoanActive   LoanStatus = "ACTIVE"
	LoanReturned LoanStatus = "RETURNED"
	LoanLate     LoanStatus = "LATE"
)

type Loan struct {
	ID               int64      `json:"id"`
	EquipmentID      int64      `json:"equipment_id"`
	BorrowerID       int64      `json:"borrower_id"`
	ResponsibleID    int64      `json:"responsible_id"`
	LoanedAt         time.Time  `json:"loaned_at"`
	ExpectedReturnAt *time.Time `json:"expected_return_at,omitempty"`
	ReturnedAt       *time.Time `json:"returned_at,omitempty"`
	Status           LoanStatus `json:"status"`
	Notes            string     `json:"notes"`

	EquipmentName string `json:"equipment_name,omitempty"`
	BorrowerName  string `json:"borrower_name,omitempty"`
}

type LoanFilter struct {
	Status      LoanStatus
	EquipmentID int64
	BorrowerID  int64
	Limit       int
}
