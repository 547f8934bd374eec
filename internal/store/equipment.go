package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/dukerupert/patrimonio/internal/model"
)

type EquipmentStore struct {
	db *sql.DB
}

func NewEquipmentStore(db *sql.DB) *EquipmentStore {
	return &EquipmentStore{db: db}
}

func scanEquipment(scanner interface{ Scan(...any) error }) (*model.Equipment, error) {
	var e model.Equipment
	var acquiredAt sql.NullTime
	var value sql.NullFloat64
	err := scanner.Scan(&e.ID, &e.Name, &e.Category, &e.Brand, &e.Status, &e.Sector, &e.JobRole,
		&e.Shared, &e.SerialNumber, &acquiredAt, &value, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.AcquiredAt = nullTimePtr(acquiredAt)
	e.AcquisitionValue = nullFloatPtr(value)
	return &e, nil
}

const equipmentCols = `id, name, category, brand, status, sector, job_role, shared, serial_number, acquired_at, acquisition_value, notes, created_at, updated_at`

func (s *EquipmentStore) Create(e model.Equipment) (*model.Equipment, error) {
	if e.Status == "" {
		e.Status = model.EquipmentAvailable
	}
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO equipment (name, category, brand, status, sector, job_role, shared, serial_number, acquired_at, acquisition_value, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Name, e.Category, e.Brand, string(e.Status), e.Sector, e.JobRole, e.Shared, e.SerialNumber,
		timeArg(e.AcquiredAt), floatArg(e.AcquisitionValue), e.Notes, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert equipment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *EquipmentStore) GetByID(id int64) (*model.Equipment, error) {
	row := s.db.QueryRow(`SELECT `+equipmentCols+` FROM equipment WHERE id = ?`, id)
	e, err := scanEquipment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get equipment %d: %w", id, err)
	}
	return e, nil
}

func (s *EquipmentStore) GetByName(name string) (*model.Equipment, error) {
	row := s.db.QueryRow(`SELECT `+equipmentCols+` FROM equipment WHERE name = ?`, name)
	e, err := scanEquipment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get equipment by name: %w", err)
	}
	return e, nil
}

func (s *EquipmentStore) List(f model.EquipmentFilter) ([]model.Equipment, error) {
	q := sq.Select(equipmentCols).From("equipment").OrderBy("name")
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Category != "" {
		q = q.Where(sq.Eq{"category": f.Category})
	}
	if f.Sector != "" {
		q = q.Where(sq.Eq{"sector": f.Sector})
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		q = q.Where(sq.Or{
			sq.Like{"name": like},
			sq.Like{"serial_number": like},
			sq.Like{"brand": like},
		})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build equipment query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list equipment: %w", err)
	}
	defer rows.Close()

	var items []model.Equipment
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan equipment: %w", err)
		}
		items = append(items, *e)
	}
	return items, rows.Err()
}

func (s *EquipmentStore) Update(e model.Equipment) (*model.Equipment, error) {
	result, err := s.db.Exec(
		`UPDATE equipment SET name = ?, category = ?, brand = ?, status = ?, sector = ?, job_role = ?, shared = ?,
		 serial_number = ?, acquired_at = ?, acquisition_value = ?, notes = ?, updated_at = ?
		 WHERE id = ?`,
		e.Name, e.Category, e.Brand, string(e.Status), e.Sector, e.JobRole, e.Shared, e.SerialNumber,
		timeArg(e.AcquiredAt), floatArg(e.AcquisitionValue), e.Notes, time.Now().UTC(), e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update equipment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrEquipmentNotFound
	}
	return s.GetByID(e.ID)
}

func (s *EquipmentStore) SetStatus(id int64, status model.EquipmentStatus) error {
	result, err := s.db.Exec(
		`UPDATE equipment SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set equipment status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrEquipmentNotFound
	}
	return nil
}

// Delete removes equipment that is not currently on loan.
func (s *EquipmentStore) Delete(id int64) error {
	var active int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM loans WHERE equipment_id = ? AND status = ?`,
		id, string(model.LoanActive),
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("check active loans: %w", err)
	}
	if active > 0 {
		return ErrEquipmentOnLoan
	}

	result, err := s.db.Exec(`DELETE FROM equipment WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete equipment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrEquipmentNotFound
	}
	return nil
}

// Upsert creates the record or updates the one with the same name.
// It reports whether a new row was inserted.
func (s *EquipmentStore) Upsert(e model.Equipment) (*model.Equipment, bool, error) {
	existing, err := s.GetByName(e.Name)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		created, err := s.Create(e)
		return created, true, err
	}
	e.ID = existing.ID
	if e.Status == "" {
		e.Status = existing.Status
	}
	updated, err := s.Update(e)
	if errors.Is(err, ErrEquipmentNotFound) {
		return nil, false, fmt.Errorf("equipment %q vanished during import", e.Name)
	}
	return updated, false, err
}

// CountByStatus returns the number of records per status, limited to
// sector when it is set.
func (s *EquipmentStore) CountByStatus(sector string) (map[model.EquipmentStatus]int, error) {
	q := sq.Select("status", "COUNT(*)").From("equipment").GroupBy("status")
	if sector != "" {
		q = q.Where(sq.Eq{"sector": sector})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("count equipment: %w", err)
	}
	defer rows.Close()

	counts := map[model.EquipmentStatus]int{
		model.EquipmentAvailable: 0,
		model.EquipmentInUse:     0,
		model.EquipmentBroken:    0,
	}
	for rows.Next() {
		var status model.EquipmentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan equipment count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
