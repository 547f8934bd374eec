package store

import "errors"

var (
	ErrActiveLoanExists   = errors.New("equipment already has an active loan")
	ErrEquipmentNotFound  = errors.New("equipment not found")
	ErrEquipmentBroken    = errors.New("equipment is broken")
	ErrEquipmentOnLoan    = errors.New("equipment is on loan")
	ErrLoanNotFound       = errors.New("loan not found")
	ErrLoanNotActive      = errors.New("loan is not active")
	ErrMaintenanceClosed  = errors.New("maintenance already closed")
	ErrMaintenanceMissing = errors.New("maintenance not found")
)
