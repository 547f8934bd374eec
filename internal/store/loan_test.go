package store

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/patrimonio/internal/model"
)

func TestLoanCreateMarksEquipmentInUse(t *testing.T) {
	db := setupTestDB(t)
	ls := NewLoanStore(db)
	e := createTestEquipment(t, db, "NB-001", "NOTEBOOK")
	borrower := createTestUser(t, db, "bob")
	responsible := createTestUser(t, db, "alice")

	l, err := ls.Create(NewLoan{EquipmentID: e.ID, BorrowerID: borrower.ID, ResponsibleID: responsible.ID})
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if l.Status != model.LoanActive {
		t.Errorf("status = %q, want %q", l.Status, model.LoanActive)
	}
	if l.EquipmentName != "NB-001" {
		t.Errorf("equipment_name = %q, want %q", l.EquipmentName, "NB-001")
	}
	if l.BorrowerName != borrower.Name {
		t.Errorf("borrower_name = %q, want %q", l.BorrowerName, borrower.Name)
	}
	if l.ExpectedReturnAt == nil {
		t.Fatal("expected default return date")
	}
	if d := l.ExpectedReturnAt.Sub(l.LoanedAt); d < DefaultLoanPeriod-time.Second || d > DefaultLoanPeriod+time.Second {
		t.Errorf("loan period = %v, want %v", d, DefaultLoanPeriod)
	}

	got, _ := NewEquipmentStore(db).GetByID(e.ID)
	if got.Status != model.EquipmentInUse {
		t.Errorf("equipment status = %q, want %q", got.Status, model.EquipmentInUse)
	}
}

func TestLoanCreateRejectsSecondActiveLoan(t *testing.T) {
	db := setupTestDB(t)
	ls := NewLoanStore(db)
	e := createTestEquipment(t, db, "NB-001", "NOTEBOOK")
	u := createTestUser(t, db, "bob")

	if _, err := ls.Create(NewLoan{EquipmentID: e.ID, BorrowerID: u.ID, ResponsibleID: u.ID}); err != nil {
		t.Fatalf("first loan: %v", err)
	}
	_, err := ls.Create(NewLoan{EquipmentID: e.ID, BorrowerID: u.ID, ResponsibleID: u.ID})
	if !errors.Is(err, ErrActiveLoanExists) {
		t.Errorf("err = %v, want ErrActiveLoanExists", err)
	}
}

func TestLoanCreateRejectsBrokenEquipment(t *testing.T) {
	db := setupTestDB(t)
	e := createTestEquipment(t, db, "PRN-01", "IMPRESSORA")
	NewEquipmentStore(db).SetStatus(e.ID, model.EquipmentBroken)
	u := createTestUser(t, db, "bob")

	_, err := NewLoanStore(db).Create(NewLoan{EquipmentID: e.ID, BorrowerID: u.ID, ResponsibleID: u.ID})
	if !errors.Is(err, ErrEquipmentBroken) {
		t.Errorf("err = %v, want ErrEquipmentBroken", err)
	}
}

func TestLoanCreateUnknownEquipment(t *testing.T) {
	db := setupTestDB(t)
	u := createTestUser(t, db, "bob")

	_, err := NewLoanStore(db).Create(NewLoan{EquipmentID: 42, BorrowerID: u.ID, ResponsibleID: u.ID})
	if !errors.Is(err, ErrEquipmentNotFound) {
		t.Errorf("err = %v, want ErrEquipmentNotFound", err)
	}
}

func TestLoanReturn(t *testing.T) {
	db := setupTestDB(t)
	ls := NewLoanStore(db)
	e := createTestEquipment(t, db, "NB-001", "NOTEBOOK")
	u := createTestUser(t, db, "bob")
	l, _ := ls.Create(NewLoan{EquipmentID: e.ID, BorrowerID: u.ID, ResponsibleID: u.ID})

	returned, err := ls.Return(l.ID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if returned.Status != model.LoanReturned || returned.ReturnedAt == nil {
		t.Errorf("returned loan = %+v", returned)
	}
	got, _ := NewEquipmentStore(db).GetByID(e.ID)
	if got.Status != model.EquipmentAvailable {
		t.Errorf("equipment status = %q, want %q", got.Status, model.EquipmentAvailable)
	}

	if _, err := ls.Return(l.ID); !errors.Is(err, ErrLoanNotActive) {
		t.Errorf("second return err = %v, want ErrLoanNotActive", err)
	}

	// A new loan is allowed once the previous one is closed.
	if _, err := ls.Create(NewLoan{EquipmentID: e.ID, BorrowerID: u.ID, ResponsibleID: u.ID}); err != nil {
		t.Errorf("loan after return: %v", err)
	}
}

func TestLoanNaiveTimestampsReadAsUTC(t *testing.T) {
	db := setupTestDB(t)
	e := createTestEquipment(t, db, "NB-001", "NOTEBOOK")
	u := createTestUser(t, db, "bob")

	if _, err := db.Exec(
		`INSERT INTO loans (equipment_id, borrower_id, responsible_id, loaned_at, expected_return_at, status)
		 VALUES (?, ?, ?, '2024-05-01 09:30:00', '2024-05-08 18:00:00', 'ACTIVE')`,
		e.ID, u.ID, u.ID,
	); err != nil {
		t.Fatalf("insert naive loan: %v", err)
	}

	loans, err := NewLoanStore(db).ListActiveWithDueDate()
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(loans) != 1 {
		t.Fatalf("len(loans) = %d, want 1", len(loans))
	}
	want := time.Date(2024, 5, 8, 18, 0, 0, 0, time.UTC)
	if !loans[0].ExpectedReturnAt.Equal(want) {
		t.Errorf("expected_return_at = %v, want %v", loans[0].ExpectedReturnAt, want)
	}
	if loans[0].ExpectedReturnAt.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", loans[0].ExpectedReturnAt.Location())
	}
}

func TestLoanListFilters(t *testing.T) {
	db := setupTestDB(t)
	ls := NewLoanStore(db)
	e1 := createTestEquipment(t, db, "NB-001", "NOTEBOOK")
	e2 := createTestEquipment(t, db, "NB-002", "NOTEBOOK")
	bob := createTestUser(t, db, "bob")
	carol := createTestUser(t, db, "carol")

	l1, _ := ls.Create(NewLoan{EquipmentID: e1.ID, BorrowerID: bob.ID, ResponsibleID: bob.ID})
	ls.Create(NewLoan{EquipmentID: e2.ID, BorrowerID: carol.ID, ResponsibleID: bob.ID})
	ls.Return(l1.ID)

	active, err := ls.List(model.LoanFilter{Status: model.LoanActive})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].EquipmentID != e2.ID {
		t.Errorf("active = %+v, want loan for NB-002", active)
	}

	byBorrower, _ := ls.List(model.LoanFilter{BorrowerID: bob.ID})
	if len(byBorrower) != 1 || byBorrower[0].ID != l1.ID {
		t.Errorf("by borrower = %+v, want loan %d", byBorrower, l1.ID)
	}
}
