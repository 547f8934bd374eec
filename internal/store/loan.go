package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/dukerupert/patrimonio/internal/model"
)

// DefaultLoanPeriod applies when a loan is created without a return date.
const DefaultLoanPeriod = 7 * 24 * time.Hour

type LoanStore struct {
	db *sql.DB
}

func NewLoanStore(db *sql.DB) *LoanStore {
	return &LoanStore{db: db}
}

// Timestamps are read as text and normalized so rows written without a zone
// compare correctly against UTC clocks.
const loanCols = `l.id, l.equipment_id, l.borrower_id, l.responsible_id,
	CAST(l.loaned_at AS TEXT), CAST(l.expected_return_at AS TEXT), CAST(l.returned_at AS TEXT),
	l.status, l.notes, COALESCE(e.name, ''), COALESCE(u.name, '')`

const loanFrom = `loans l
	LEFT JOIN equipment e ON e.id = l.equipment_id
	LEFT JOIN users u ON u.id = l.borrower_id`

func scanLoan(scanner interface{ Scan(...any) error }) (*model.Loan, error) {
	var l model.Loan
	var loanedAt string
	var expected, returned sql.NullString
	err := scanner.Scan(&l.ID, &l.EquipmentID, &l.BorrowerID, &l.ResponsibleID,
		&loanedAt, &expected, &returned, &l.Status, &l.Notes, &l.EquipmentName, &l.BorrowerName)
	if err != nil {
		return nil, err
	}
	if l.LoanedAt, err = ParseTimestamp(loanedAt); err != nil {
		return nil, fmt.Errorf("loan %d loaned_at: %w", l.ID, err)
	}
	if l.ExpectedReturnAt, err = parseNullTimestamp(expected); err != nil {
		return nil, fmt.Errorf("loan %d expected_return_at: %w", l.ID, err)
	}
	if l.ReturnedAt, err = parseNullTimestamp(returned); err != nil {
		return nil, fmt.Errorf("loan %d returned_at: %w", l.ID, err)
	}
	return &l, nil
}

type NewLoan struct {
	EquipmentID      int64
	BorrowerID       int64
	ResponsibleID    int64
	ExpectedReturnAt *time.Time
	Notes            string
}

// Create opens a loan and marks the equipment in use. It fails with
// ErrActiveLoanExists when the equipment already has an active loan.
func (s *LoanStore) Create(in NewLoan) (*model.Loan, error) {
	now := time.Now().UTC()
	expected := in.ExpectedReturnAt
	if expected == nil {
		d := now.Add(DefaultLoanPeriod)
		expected = &d
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin loan tx: %w", err)
	}
	defer tx.Rollback()

	var status model.EquipmentStatus
	err = tx.QueryRow(`SELECT status FROM equipment WHERE id = ?`, in.EquipmentID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, ErrEquipmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get equipment status: %w", err)
	}
	if status == model.EquipmentBroken {
		return nil, ErrEquipmentBroken
	}

	var active int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM loans WHERE equipment_id = ? AND status = ?`,
		in.EquipmentID, string(model.LoanActive),
	).Scan(&active); err != nil {
		return nil, fmt.Errorf("check active loan: %w", err)
	}
	if active > 0 {
		return nil, ErrActiveLoanExists
	}

	result, err := tx.Exec(
		`INSERT INTO loans (equipment_id, borrower_id, responsible_id, loaned_at, expected_return_at, status, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.EquipmentID, in.BorrowerID, in.ResponsibleID, now, expected.UTC(), string(model.LoanActive), in.Notes, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert loan: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE equipment SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.EquipmentInUse), now, in.EquipmentID,
	); err != nil {
		return nil, fmt.Errorf("mark equipment in use: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit loan: %w", err)
	}
	return s.GetByID(id)
}

// Return closes an active loan and frees the equipment.
func (s *LoanStore) Return(id int64) (*model.Loan, error) {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin return tx: %w", err)
	}
	defer tx.Rollback()

	var equipmentID int64
	var status model.LoanStatus
	err = tx.QueryRow(`SELECT equipment_id, status FROM loans WHERE id = ?`, id).Scan(&equipmentID, &status)
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	if status == model.LoanReturned {
		return nil, ErrLoanNotActive
	}

	if _, err := tx.Exec(
		`UPDATE loans SET status = ?, returned_at = ? WHERE id = ?`,
		string(model.LoanReturned), now, id,
	); err != nil {
		return nil, fmt.Errorf("close loan: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE equipment SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.EquipmentAvailable), now, equipmentID, string(model.EquipmentInUse),
	); err != nil {
		return nil, fmt.Errorf("free equipment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit return: %w", err)
	}
	return s.GetByID(id)
}

func (s *LoanStore) GetByID(id int64) (*model.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanCols+` FROM `+loanFrom+` WHERE l.id = ?`, id)
	l, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get loan %d: %w", id, err)
	}
	return l, nil
}

func (s *LoanStore) List(f model.LoanFilter) ([]model.Loan, error) {
	q := sq.Select(loanCols).From(loanFrom).OrderBy("l.loaned_at DESC", "l.id DESC")
	if f.Status != "" {
		q = q.Where(sq.Eq{"l.status": string(f.Status)})
	}
	if f.EquipmentID > 0 {
		q = q.Where(sq.Eq{"l.equipment_id": f.EquipmentID})
	}
	if f.BorrowerID > 0 {
		q = q.Where(sq.Eq{"l.borrower_id": f.BorrowerID})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()
	return collectLoans(rows)
}

// ListActiveWithDueDate returns every active loan that has an expected
// return timestamp, with equipment and borrower names resolved.
func (s *LoanStore) ListActiveWithDueDate() ([]model.Loan, error) {
	rows, err := s.db.Query(
		`SELECT `+loanCols+` FROM `+loanFrom+`
		 WHERE l.status = ? AND l.expected_return_at IS NOT NULL
		 ORDER BY l.id`,
		string(model.LoanActive),
	)
	if err != nil {
		return nil, fmt.Errorf("list active loans: %w", err)
	}
	defer rows.Close()
	return collectLoans(rows)
}

func collectLoans(rows *sql.Rows) ([]model.Loan, error) {
	var loans []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loans = append(loans, *l)
	}
	return loans, rows.Err()
}
