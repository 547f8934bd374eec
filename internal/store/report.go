package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/dukerupert/patrimonio/internal/model"
)

// ReportStore runs the read-only aggregates behind dashboards and reports.
type ReportStore struct {
	db *sql.DB
}

func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

// AuditActivity is an audit entry with the acting user's display name.
type AuditActivity struct {
	model.AuditLog
	UserName string
}

// extraScanner appends trailing columns to a fixed-column scan function.
type extraScanner struct {
	rows  *sql.Rows
	extra []any
}

func (s extraScanner) Scan(dest ...any) error {
	return s.rows.Scan(append(dest, s.extra...)...)
}

func (s *ReportStore) buckets(q sq.SelectBuilder) ([]model.Bucket, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build aggregate query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("run aggregate: %w", err)
	}
	defer rows.Close()

	out := []model.Bucket{}
	for rows.Next() {
		var b model.Bucket
		if err := rows.Scan(&b.Name, &b.Value); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func countBy(column, sector string) sq.SelectBuilder {
	q := sq.Select(column, "COUNT(*)").From("equipment").GroupBy(column).OrderBy("COUNT(*) DESC", column)
	if sector != "" {
		q = q.Where(sq.Eq{"sector": sector})
	}
	return q
}

// EquipmentAnalytics counts equipment by category and status, limited to
// sector when set. Counts by sector are only computed across all sectors.
func (s *ReportStore) EquipmentAnalytics(sector string) (*model.EquipmentAnalytics, error) {
	a := &model.EquipmentAnalytics{Sector: sector, BySector: []model.Bucket{}}

	var err error
	if a.ByCategory, err = s.buckets(countBy("category", sector)); err != nil {
		return nil, fmt.Errorf("equipment by category: %w", err)
	}
	if a.ByStatus, err = s.buckets(countBy("status", sector)); err != nil {
		return nil, fmt.Errorf("equipment by status: %w", err)
	}
	for _, b := range a.ByStatus {
		a.Total += b.Value
	}
	if sector == "" {
		q := countBy("sector", "").Where(sq.NotEq{"sector": ""})
		if a.BySector, err = s.buckets(q); err != nil {
			return nil, fmt.Errorf("equipment by sector: %w", err)
		}
	}
	return a, nil
}

const reportMaintenanceCols = `m.id, m.equipment_id, m.type, m.description, m.scheduled_at, m.completed_at, m.estimated_cost, m.actual_cost, m.status, m.technician, m.created_by, m.created_at, e.name, e.sector`

func (s *ReportStore) maintenanceRows(q sq.SelectBuilder) ([]model.MaintenanceReportRow, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build maintenance report query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("maintenance report: %w", err)
	}
	defer rows.Close()

	out := []model.MaintenanceReportRow{}
	for rows.Next() {
		var row model.MaintenanceReportRow
		m, err := scanMaintenance(extraScanner{rows: rows, extra: []any{&row.EquipmentName, &row.EquipmentSector}})
		if err != nil {
			return nil, fmt.Errorf("scan maintenance report row: %w", err)
		}
		row.Maintenance = *m
		out = append(out, row)
	}
	return out, rows.Err()
}

// MaintenanceReport lists maintenance newest first with totals. To is exclusive.
func (s *ReportStore) MaintenanceReport(f model.MaintenanceReportFilter) (*model.MaintenanceReport, error) {
	q := sq.Select(reportMaintenanceCols).
		From("maintenance m").
		Join("equipment e ON e.id = m.equipment_id").
		OrderBy("m.scheduled_at DESC", "m.id DESC")
	if f.From != nil {
		q = q.Where(sq.GtOrEq{"m.scheduled_at": f.From.UTC()})
	}
	if f.To != nil {
		q = q.Where(sq.Lt{"m.scheduled_at": f.To.UTC()})
	}
	if f.Type != "" {
		q = q.Where(sq.Eq{"m.type": f.Type})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"m.status": string(f.Status)})
	}
	if f.Sector != "" {
		q = q.Where(sq.Eq{"e.sector": f.Sector})
	}

	items, err := s.maintenanceRows(q)
	if err != nil {
		return nil, err
	}
	report := &model.MaintenanceReport{Items: items, Total: len(items)}
	for _, row := range items {
		report.TotalCost += row.Cost()
		if row.Status == model.MaintenanceDone {
			report.Done++
		}
	}
	return report, nil
}

// OpenMaintenanceFrom lists scheduled and in-progress maintenance on or
// after from, soonest first.
func (s *ReportStore) OpenMaintenanceFrom(from time.Time, sector string) ([]model.MaintenanceReportRow, error) {
	q := sq.Select(reportMaintenanceCols).
		From("maintenance m").
		Join("equipment e ON e.id = m.equipment_id").
		Where(sq.Eq{"m.status": []string{string(model.MaintenanceScheduled), string(model.MaintenanceInProgress)}}).
		Where(sq.GtOrEq{"m.scheduled_at": from.UTC()}).
		OrderBy("m.scheduled_at", "m.id")
	if sector != "" {
		q = q.Where(sq.Eq{"e.sector": sector})
	}
	return s.maintenanceRows(q)
}

// AuditActivity returns up to limit entries since the given time, newest first.
func (s *ReportStore) AuditActivity(since time.Time, limit int) ([]AuditActivity, error) {
	q := sq.Select("a.id", "a.user_id", "a.action", "a.table_name", "a.record_id", "a.details", "a.ip_address", "a.created_at", "COALESCE(u.name, '')").
		From("audit_logs a").
		LeftJoin("users u ON u.id = a.user_id").
		Where(sq.GtOrEq{"a.created_at": since.UTC()}).
		OrderBy("a.created_at DESC", "a.id DESC").
		Limit(uint64(limit))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit activity query: %w", err)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit activity: %w", err)
	}
	defer rows.Close()

	var out []AuditActivity
	for rows.Next() {
		var act AuditActivity
		entry, err := scanAudit(extraScanner{rows: rows, extra: []any{&act.UserName}})
		if err != nil {
			return nil, fmt.Errorf("scan audit activity: %w", err)
		}
		act.AuditLog = *entry
		out = append(out, act)
	}
	return out, rows.Err()
}
