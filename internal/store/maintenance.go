package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/patrimonio/internal/model"
)

type MaintenanceStore struct {
	db *sql.DB
}

func NewMaintenanceStore(db *sql.DB) *MaintenanceStore {
	return &MaintenanceStore{db: db}
}

func scanMaintenance(scanner interface{ Scan(...any) error }) (*model.Maintenance, error) {
	var m model.Maintenance
	var completedAt sql.NullTime
	var estimated, actual sql.NullFloat64
	var createdBy sql.NullInt64
	err := scanner.Scan(&m.ID, &m.EquipmentID, &m.Type, &m.Description, &m.ScheduledAt, &completedAt,
		&estimated, &actual, &m.Status, &m.Technician, &createdBy, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.CompletedAt = nullTimePtr(completedAt)
	m.EstimatedCost = nullFloatPtr(estimated)
	m.ActualCost = nullFloatPtr(actual)
	m.CreatedBy = nullInt64Ptr(createdBy)
	return &m, nil
}

const maintenanceCols = `id, equipment_id, type, description, scheduled_at, completed_at, estimated_cost, actual_cost, status, technician, created_by, created_at`

func (s *MaintenanceStore) Create(m model.Maintenance) (*model.Maintenance, error) {
	if m.Status == "" {
		m.Status = model.MaintenanceScheduled
	}
	result, err := s.db.Exec(
		`INSERT INTO maintenance (equipment_id, type, description, scheduled_at, completed_at, estimated_cost, actual_cost, status, technician, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.EquipmentID, m.Type, m.Description, m.ScheduledAt.UTC(), timeArg(m.CompletedAt),
		floatArg(m.EstimatedCost), floatArg(m.ActualCost), string(m.Status), m.Technician,
		int64Arg(m.CreatedBy), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert maintenance: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *MaintenanceStore) GetByID(id int64) (*model.Maintenance, error) {
	row := s.db.QueryRow(`SELECT `+maintenanceCols+` FROM maintenance WHERE id = ?`, id)
	m, err := scanMaintenance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get maintenance %d: %w", id, err)
	}
	return m, nil
}

func (s *MaintenanceStore) ListByEquipment(equipmentID int64) ([]model.Maintenance, error) {
	rows, err := s.db.Query(
		`SELECT `+maintenanceCols+` FROM maintenance WHERE equipment_id = ? ORDER BY scheduled_at DESC, id DESC`,
		equipmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list maintenance: %w", err)
	}
	defer rows.Close()
	return collectMaintenance(rows)
}

// ListOpen returns scheduled and in-progress records ordered by schedule.
func (s *MaintenanceStore) ListOpen() ([]model.Maintenance, error) {
	rows, err := s.db.Query(
		`SELECT `+maintenanceCols+` FROM maintenance WHERE status IN (?, ?) ORDER BY scheduled_at, id`,
		string(model.MaintenanceScheduled), string(model.MaintenanceInProgress),
	)
	if err != nil {
		return nil, fmt.Errorf("list open maintenance: %w", err)
	}
	defer rows.Close()
	return collectMaintenance(rows)
}

func collectMaintenance(rows *sql.Rows) ([]model.Maintenance, error) {
	var items []model.Maintenance
	for rows.Next() {
		m, err := scanMaintenance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan maintenance: %w", err)
		}
		items = append(items, *m)
	}
	return items, rows.Err()
}

// Transition moves an open record to a new status. Completing sets the
// completion time and actual cost.
func (s *MaintenanceStore) Transition(id int64, status model.MaintenanceStatus, at time.Time, actualCost *float64) (*model.Maintenance, error) {
	current, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrMaintenanceMissing
	}
	if current.Status == model.MaintenanceDone || current.Status == model.MaintenanceCancelled {
		return nil, ErrMaintenanceClosed
	}

	var completedAt any
	if status == model.MaintenanceDone {
		completedAt = at.UTC()
	}
	_, err = s.db.Exec(
		`UPDATE maintenance SET status = ?, completed_at = ?, actual_cost = COALESCE(?, actual_cost) WHERE id = ?`,
		string(status), completedAt, floatArg(actualCost), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update maintenance status: %w", err)
	}
	return s.GetByID(id)
}

// LastCompleted returns the most recent completion time for one equipment, or nil.
func (s *MaintenanceStore) LastCompleted(equipmentID int64) (*time.Time, error) {
	var last sql.NullString
	err := s.db.QueryRow(
		`SELECT CAST(MAX(completed_at) AS TEXT) FROM maintenance WHERE equipment_id = ? AND status = ? AND completed_at IS NOT NULL`,
		equipmentID, string(model.MaintenanceDone),
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last completed maintenance: %w", err)
	}
	return parseNullTimestamp(last)
}

// LastCompletedAll maps equipment ID to its most recent completion time.
func (s *MaintenanceStore) LastCompletedAll() (map[int64]time.Time, error) {
	rows, err := s.db.Query(
		`SELECT equipment_id, CAST(MAX(completed_at) AS TEXT) FROM maintenance
		 WHERE status = ? AND completed_at IS NOT NULL GROUP BY equipment_id`,
		string(model.MaintenanceDone),
	)
	if err != nil {
		return nil, fmt.Errorf("last completed maintenance: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]time.Time)
	for rows.Next() {
		var id int64
		var last sql.NullString
		if err := rows.Scan(&id, &last); err != nil {
			return nil, fmt.Errorf("scan last completed: %w", err)
		}
		t, err := parseNullTimestamp(last)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out[id] = *t
		}
	}
	return out, rows.Err()
}
