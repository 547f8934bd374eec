package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/dukerupert/patrimonio/internal/model"
)

type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

const auditCols = `id, user_id, action, table_name, record_id, details, ip_address, created_at`

func scanAudit(scanner interface{ Scan(...any) error }) (*model.AuditLog, error) {
	var a model.AuditLog
	var userID, recordID sql.NullInt64
	err := scanner.Scan(&a.ID, &userID, &a.Action, &a.Table, &recordID, &a.Details, &a.IPAddress, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.UserID = nullInt64Ptr(userID)
	a.RecordID = nullInt64Ptr(recordID)
	return &a, nil
}

func (s *AuditStore) Record(entry model.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO audit_logs (user_id, action, table_name, record_id, details, ip_address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64Arg(entry.UserID), entry.Action, entry.Table, int64Arg(entry.RecordID), entry.Details,
		entry.IPAddress, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *AuditStore) List(f model.AuditFilter) ([]model.AuditLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := sq.Select(auditCols).From("audit_logs").OrderBy("created_at DESC", "id DESC").Limit(uint64(limit))
	if f.UserID > 0 {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.Action != "" {
		q = q.Where(sq.Eq{"action": f.Action})
	}
	if f.Table != "" {
		q = q.Where(sq.Eq{"table_name": f.Table})
	}
	if f.Since != nil {
		q = q.Where(sq.GtOrEq{"created_at": f.Since.UTC()})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditLog
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		entries = append(entries, *a)
	}
	return entries, rows.Err()
}

// SummaryByAction counts entries per action since the given time.
func (s *AuditStore) SummaryByAction(since time.Time) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT action, COUNT(*) FROM audit_logs WHERE created_at >= ? GROUP BY action`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("audit summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[string]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan audit summary: %w", err)
		}
		summary[action] = n
	}
	return summary, rows.Err()
}
