// Package report builds the dashboard analytics, the maintenance calendar
// and the generated inventory, loan, maintenance and audit reports.
// Every view takes a sector; an empty sector means all sectors.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
)

const (
	AuditWindow = 30 * 24 * time.Hour
	AuditLimit  = 100

	// Critical actions each take this much off the compliance score.
	criticalPenalty = 5
	// Scores below this get the remediation recommendations.
	complianceTarget = 85
	maxCritical      = 10

	colorScheduled  = "#f59e0b"
	colorInProgress = "#3b82f6"
)

var criticalActions = map[string]bool{
	model.AuditDelete:  true,
	model.AuditRestore: true,
	model.AuditExport:  true,
}

type Service struct {
	reports   *store.ReportStore
	equipment *store.EquipmentStore
	now       func() time.Time
}

func NewService(reports *store.ReportStore, equipment *store.EquipmentStore) *Service {
	return &Service{reports: reports, equipment: equipment, now: time.Now}
}

func titled(title, sector string) string {
	if sector == "" {
		return title
	}
	return fmt.Sprintf("%s - Sector %s", title, sector)
}

func (s *Service) Analytics(ctx context.Context, sector string) (*model.EquipmentAnalytics, error) {
	return s.reports.EquipmentAnalytics(sector)
}

// Maintenance returns the filtered maintenance report. The sector argument
// overrides any sector in the filter.
func (s *Service) Maintenance(ctx context.Context, f model.MaintenanceReportFilter, sector string) (*model.MaintenanceReport, error) {
	if sector != "" {
		f.Sector = sector
	}
	return s.reports.MaintenanceReport(f)
}

// Calendar lists open maintenance from the start of today onwards.
func (s *Service) Calendar(ctx context.Context, sector string) ([]model.CalendarEvent, error) {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.reports.OpenMaintenanceFrom(today, sector)
	if err != nil {
		return nil, err
	}

	events := make([]model.CalendarEvent, 0, len(rows))
	for _, row := range rows {
		color := colorScheduled
		if row.Status == model.MaintenanceInProgress {
			color = colorInProgress
		}
		events = append(events, model.CalendarEvent{
			ID:          row.ID,
			Title:       row.Type + " - " + row.EquipmentName,
			Start:       row.ScheduledAt.UTC().Format(time.DateOnly),
			Color:       color,
			EquipmentID: row.EquipmentID,
			Equipment:   row.EquipmentName,
			Type:        row.Type,
			Status:      row.Status,
		})
	}
	return events, nil
}

func (s *Service) equipmentReport(title, sector string, status model.EquipmentStatus) (*model.EquipmentReport, error) {
	items, err := s.equipment.List(model.EquipmentFilter{Sector: sector, Status: status})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Equipment{}
	}
	return &model.EquipmentReport{
		Title:       titled(title, sector),
		Sector:      sector,
		Total:       len(items),
		Items:       items,
		GeneratedAt: s.now().UTC(),
	}, nil
}

// Inventory lists every equipment record.
func (s *Service) Inventory(ctx context.Context, sector string) (*model.EquipmentReport, error) {
	return s.equipmentReport("Inventory", sector, "")
}

// Loans lists the equipment currently out on loan.
func (s *Service) Loans(ctx context.Context, sector string) (*model.EquipmentReport, error) {
	return s.equipmentReport("Loans", sector, model.EquipmentInUse)
}

// Audit summarizes the last AuditWindow of activity. Each critical action
// lowers the compliance score by criticalPenalty, floored at zero. Audit
// entries carry no sector, so sector only labels the title.
func (s *Service) Audit(ctx context.Context, sector string) (*model.AuditReport, error) {
	to := s.now().UTC()
	from := to.Add(-AuditWindow)
	acts, err := s.reports.AuditActivity(from, AuditLimit)
	if err != nil {
		return nil, err
	}

	r := &model.AuditReport{
		Title:       titled("Audit", sector),
		From:        from,
		To:          to,
		ByAction:    make(map[string]int),
		ByUser:      make(map[string]int),
		Critical:    []model.CriticalAction{},
		GeneratedAt: to,
	}
	for _, a := range acts {
		user := a.UserName
		switch {
		case a.UserID == nil:
			user = "System"
		case user == "":
			user = "Unknown user"
		}
		r.ByAction[a.Action]++
		r.ByUser[user]++
		if criticalActions[a.Action] {
			r.CriticalCount++
			if len(r.Critical) < maxCritical {
				r.Critical = append(r.Critical, model.CriticalAction{
					Action:    a.Action,
					User:      user,
					Table:     a.Table,
					RecordID:  a.RecordID,
					CreatedAt: a.CreatedAt,
				})
			}
		}
	}
	r.TotalActions = len(acts)
	r.ActiveUsers = len(r.ByUser)
	r.ComplianceScore = max(0, 100-r.CriticalCount*criticalPenalty)
	if r.ComplianceScore < complianceTarget {
		r.Recommendations = []string{
			"Review critical actions regularly",
			"Review user access periodically",
			"Alert on suspicious actions",
		}
	} else {
		r.Recommendations = []string{
			"Compliance is adequate",
			"Keep monitoring",
		}
	}
	return r, nil
}
