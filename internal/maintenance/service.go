package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
)

var ErrInvalidType = errors.New("invalid maintenance type")

// EquipmentForecast pairs an equipment record with its forecast.
type EquipmentForecast struct {
	Equipment model.Equipment `json:"equipment"`
	Forecast
}

type Service struct {
	equipment   *store.EquipmentStore
	maintenance *store.MaintenanceStore
}

func NewService(equipment *store.EquipmentStore, maintenance *store.MaintenanceStore) *Service {
	return &Service{equipment: equipment, maintenance: maintenance}
}

// baseline is the latest completed maintenance, else the acquisition date.
// Equipment without an acquisition date has no baseline at all.
func baseline(e model.Equipment, lastDone *time.Time) *time.Time {
	if e.AcquiredAt == nil {
		return nil
	}
	if lastDone != nil {
		return lastDone
	}
	return e.AcquiredAt
}

// Equipment returns the equipment record, or nil when it does not exist.
func (s *Service) Equipment(ctx context.Context, id int64) (*model.Equipment, error) {
	return s.equipment.GetByID(id)
}

// Forecast evaluates one equipment. It returns nil when the equipment does not exist.
func (s *Service) Forecast(ctx context.Context, equipmentID int64, today time.Time, windowDays int) (*EquipmentForecast, error) {
	e, err := s.equipment.GetByID(equipmentID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	last, err := s.maintenance.LastCompleted(equipmentID)
	if err != nil {
		return nil, err
	}
	return &EquipmentForecast{
		Equipment: *e,
		Forecast:  Evaluate(e.Category, baseline(*e, last), today, windowDays),
	}, nil
}

// All evaluates every equipment record.
func (s *Service) All(ctx context.Context, today time.Time, windowDays int) ([]EquipmentForecast, error) {
	items, err := s.equipment.List(model.EquipmentFilter{})
	if err != nil {
		return nil, err
	}
	lastDone, err := s.maintenance.LastCompletedAll()
	if err != nil {
		return nil, err
	}

	out := make([]EquipmentForecast, 0, len(items))
	for _, e := range items {
		var last *time.Time
		if t, ok := lastDone[e.ID]; ok {
			last = &t
		}
		out = append(out, EquipmentForecast{
			Equipment: e,
			Forecast:  Evaluate(e.Category, baseline(e, last), today, windowDays),
		})
	}
	return out, nil
}

// Overdue lists equipment whose maintenance is due on or before today,
// most overdue first.
func (s *Service) Overdue(ctx context.Context, today time.Time) ([]EquipmentForecast, error) {
	all, err := s.All(ctx, today, DefaultWindowDays)
	if err != nil {
		return nil, err
	}
	var out []EquipmentForecast
	for _, f := range all {
		if f.Overdue {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysOverdue > out[j].DaysOverdue })
	return out, nil
}

// Upcoming lists equipment due within the next days, soonest first.
func (s *Service) Upcoming(ctx context.Context, today time.Time, days int) ([]EquipmentForecast, error) {
	all, err := s.All(ctx, today, days)
	if err != nil {
		return nil, err
	}
	var out []EquipmentForecast
	for _, f := range all {
		if f.Upcoming {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(*out[j].DueDate) })
	return out, nil
}

// Schedule records a new maintenance for existing equipment.
func (s *Service) Schedule(ctx context.Context, m model.Maintenance) (*model.Maintenance, error) {
	if !validType(m.Type) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, m.Type)
	}
	e, err := s.equipment.GetByID(m.EquipmentID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, store.ErrEquipmentNotFound
	}
	if m.Status == "" {
		m.Status = model.MaintenanceScheduled
	}
	return s.maintenance.Create(m)
}

func (s *Service) Start(ctx context.Context, id int64, at time.Time) (*model.Maintenance, error) {
	return s.maintenance.Transition(id, model.MaintenanceInProgress, at, nil)
}

func (s *Service) Cancel(ctx context.Context, id int64, at time.Time) (*model.Maintenance, error) {
	return s.maintenance.Transition(id, model.MaintenanceCancelled, at, nil)
}

// Complete closes a maintenance. A corrective maintenance on broken
// equipment returns it to service.
func (s *Service) Complete(ctx context.Context, id int64, at time.Time, actualCost *float64) (*model.Maintenance, error) {
	m, err := s.maintenance.Transition(id, model.MaintenanceDone, at, actualCost)
	if err != nil {
		return nil, err
	}
	if m.Type != model.MaintenanceCorrective {
		return m, nil
	}
	e, err := s.equipment.GetByID(m.EquipmentID)
	if err != nil {
		return nil, err
	}
	if e != nil && e.Status == model.EquipmentBroken {
		if err := s.equipment.SetStatus(e.ID, model.EquipmentAvailable); err != nil {
			return nil, fmt.Errorf("release repaired equipment: %w", err)
		}
	}
	return m, nil
}

func validType(t string) bool {
	for _, known := range model.MaintenanceTypes {
		if known == t {
			return true
		}
	}
	return false
}
