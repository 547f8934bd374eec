package store

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/patrimonio/internal/model"
)

func TestMaintenanceLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ms := NewMaintenanceStore(db)
	e := createTestEquipment(t, db, "PRN-01", "IMPRESSORA")

	m, err := ms.Create(model.Maintenance{
		EquipmentID: e.ID,
		Type:        model.MaintenancePreventive,
		ScheduledAt: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Status != model.MaintenanceScheduled {
		t.Errorf("status = %q, want %q", m.Status, model.MaintenanceScheduled)
	}

	open, _ := ms.ListOpen()
	if len(open) != 1 {
		t.Errorf("open = %d, want 1", len(open))
	}

	cost := 120.0
	done := time.Date(2024, 2, 2, 15, 0, 0, 0, time.UTC)
	m, err = ms.Transition(m.ID, model.MaintenanceDone, done, &cost)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if m.CompletedAt == nil || !m.CompletedAt.Equal(done) {
		t.Errorf("completed_at = %v, want %v", m.CompletedAt, done)
	}
	if m.ActualCost == nil || *m.ActualCost != cost {
		t.Errorf("actual_cost = %v, want %v", m.ActualCost, cost)
	}

	if _, err := ms.Transition(m.ID, model.MaintenanceCancelled, done, nil); !errors.Is(err, ErrMaintenanceClosed) {
		t.Errorf("err = %v, want ErrMaintenanceClosed", err)
	}
	if _, err := ms.Transition(999, model.MaintenanceDone, done, nil); !errors.Is(err, ErrMaintenanceMissing) {
		t.Errorf("err = %v, want ErrMaintenanceMissing", err)
	}
}

func TestMaintenanceLastCompleted(t *testing.T) {
	db := setupTestDB(t)
	ms := NewMaintenanceStore(db)
	e := createTestEquipment(t, db, "NB-001", "NOTEBOOK")
	other := createTestEquipment(t, db, "NB-002", "NOTEBOOK")

	last, err := ms.LastCompleted(e.ID)
	if err != nil {
		t.Fatalf("last completed: %v", err)
	}
	if last != nil {
		t.Errorf("last = %v, want nil with no history", last)
	}

	older := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{newer, older} {
		m, _ := ms.Create(model.Maintenance{EquipmentID: e.ID, Type: model.MaintenanceCleaning, ScheduledAt: at})
		ms.Transition(m.ID, model.MaintenanceDone, at, nil)
	}
	// Cancelled and open records do not count.
	c, _ := ms.Create(model.Maintenance{EquipmentID: e.ID, Type: model.MaintenanceCleaning, ScheduledAt: newer.AddDate(0, 1, 0)})
	ms.Transition(c.ID, model.MaintenanceCancelled, newer.AddDate(0, 1, 0), nil)

	last, _ = ms.LastCompleted(e.ID)
	if last == nil || !last.Equal(newer) {
		t.Errorf("last = %v, want %v", last, newer)
	}

	all, err := ms.LastCompletedAll()
	if err != nil {
		t.Fatalf("last completed all: %v", err)
	}
	if got, ok := all[e.ID]; !ok || !got.Equal(newer) {
		t.Errorf("all[%d] = %v, want %v", e.ID, got, newer)
	}
	if _, ok := all[other.ID]; ok {
		t.Error("equipment without history should be absent")
	}
}
