package maintenance

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/patrimonio/internal/database"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
)

func setupService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(store.NewEquipmentStore(db), store.NewMaintenanceStore(db)), db
}

func createEquipment(t *testing.T, db *sql.DB, name, category string, acquired *time.Time) *model.Equipment {
	t.Helper()
	e, err := store.NewEquipmentStore(db).Create(model.Equipment{Name: name, Category: category, AcquiredAt: acquired})
	if err != nil {
		t.Fatalf("create equipment: %v", err)
	}
	return e
}

func TestServiceForecastUsesLatestCompletion(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	acquired := date(2023, 1, 1)
	e := createEquipment(t, db, "HP LaserJet", "IMPRESSORA", &acquired)

	f, err := svc.Forecast(ctx, e.ID, date(2023, 5, 1), 30)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if !f.Overdue || f.DaysOverdue != 30 {
		t.Fatalf("before maintenance: %+v", f.Forecast)
	}

	m, err := svc.Schedule(ctx, model.Maintenance{EquipmentID: e.ID, Type: model.MaintenancePreventive, ScheduledAt: date(2023, 5, 1)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := svc.Complete(ctx, m.ID, date(2023, 5, 1), nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	f, err = svc.Forecast(ctx, e.ID, date(2023, 5, 1), 30)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if f.Overdue || f.State != StateOK {
		t.Errorf("after maintenance: %+v", f.Forecast)
	}
	if !f.DueDate.Equal(date(2023, 7, 30)) {
		t.Errorf("due = %v, want 2023-07-30", f.DueDate)
	}
}

func TestServiceForecastUnknownAcquisitionIgnoresHistory(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	e := createEquipment(t, db, "Printer without invoice", "IMPRESSORA", nil)

	m, err := svc.Schedule(ctx, model.Maintenance{EquipmentID: e.ID, Type: model.MaintenancePreventive, ScheduledAt: date(2023, 1, 1)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := svc.Complete(ctx, m.ID, date(2023, 1, 1), nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	f, err := svc.Forecast(ctx, e.ID, date(2023, 5, 1), 30)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if f.State != StateUnknown || f.DueDate != nil || f.Overdue {
		t.Errorf("forecast = %+v, want unknown with no due date", f.Forecast)
	}

	overdue, err := svc.Overdue(ctx, date(2023, 5, 1))
	if err != nil {
		t.Fatalf("Overdue: %v", err)
	}
	if len(overdue) != 0 {
		t.Errorf("Overdue = %d items, want 0", len(overdue))
	}
}

func TestServiceForecastMissing(t *testing.T) {
	svc, _ := setupService(t)
	f, err := svc.Forecast(context.Background(), 999, date(2024, 1, 1), 30)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if f != nil {
		t.Errorf("Forecast = %+v, want nil", f)
	}
}

func TestServiceOverdueAndUpcoming(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	today := date(2024, 6, 1)

	old := date(2023, 1, 1)
	recent := date(2024, 3, 15) // printer due 2024-06-13
	createEquipment(t, db, "Old server", "SERVIDOR", &old)
	createEquipment(t, db, "New printer", "IMPRESSORA", &recent)
	createEquipment(t, db, "Unknown age", "NOTEBOOK", nil)

	overdue, err := svc.Overdue(ctx, today)
	if err != nil {
		t.Fatalf("Overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].Equipment.Name != "Old server" {
		t.Errorf("Overdue = %+v, want only Old server", overdue)
	}

	upcoming, err := svc.Upcoming(ctx, today, 30)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].Equipment.Name != "New printer" {
		t.Errorf("Upcoming = %+v, want only New printer", upcoming)
	}

	upcoming, err = svc.Upcoming(ctx, today, 5)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(upcoming) != 0 {
		t.Errorf("Upcoming(5) = %d items, want 0", len(upcoming))
	}
}

func TestServiceCompleteCorrectiveReleasesBroken(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	e := createEquipment(t, db, "Projector", "PROJETOR", nil)
	equipment := store.NewEquipmentStore(db)
	if err := equipment.SetStatus(e.ID, model.EquipmentBroken); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	m, err := svc.Schedule(ctx, model.Maintenance{EquipmentID: e.ID, Type: model.MaintenanceCorrective, ScheduledAt: date(2024, 1, 1)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := svc.Start(ctx, m.ID, date(2024, 1, 2)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cost := 150.0
	done, err := svc.Complete(ctx, m.ID, date(2024, 1, 3), &cost)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != model.MaintenanceDone || done.ActualCost == nil || *done.ActualCost != cost {
		t.Errorf("completed = %+v", done)
	}

	got, _ := equipment.GetByID(e.ID)
	if got.Status != model.EquipmentAvailable {
		t.Errorf("equipment status = %q, want AVAILABLE", got.Status)
	}

	if _, err := svc.Cancel(ctx, m.ID, date(2024, 1, 4)); !errors.Is(err, store.ErrMaintenanceClosed) {
		t.Errorf("Cancel closed: err = %v, want ErrMaintenanceClosed", err)
	}
}

func TestServiceScheduleValidation(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	if _, err := svc.Schedule(ctx, model.Maintenance{EquipmentID: 1, Type: "PAINT"}); !errors.Is(err, ErrInvalidType) {
		t.Errorf("bad type: err = %v, want ErrInvalidType", err)
	}
	if _, err := svc.Schedule(ctx, model.Maintenance{EquipmentID: 42, Type: model.MaintenanceCleaning}); !errors.Is(err, store.ErrEquipmentNotFound) {
		t.Errorf("missing equipment: err = %v, want ErrEquipmentNotFound", err)
	}

	e := createEquipment(t, db, "Phone", "TELEFONE", nil)
	m, err := svc.Schedule(ctx, model.Maintenance{EquipmentID: e.ID, Type: model.MaintenanceCleaning, ScheduledAt: date(2024, 2, 1)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if m.Status != model.MaintenanceScheduled {
		t.Errorf("status = %q, want SCHEDULED", m.Status)
	}
}
