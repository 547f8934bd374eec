package store

import (
	"testing"
	"time"

	"github.com/dukerupert/patrimonio/internal/model"
)

func TestUserCreate(t *testing.T) {
	db := setupTestDB(t)
	us := NewUserStore(db)

	u, err := us.Create("alice", "Alice", "alice@example.com", "hash", model.RoleManager, "TI")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if u.Username != "alice" {
		t.Errorf("username = %q, want %q", u.Username, "alice")
	}
	if u.Role != model.RoleManager {
		t.Errorf("role = %q, want %q", u.Role, model.RoleManager)
	}
	if !u.Active {
		t.Error("new user should be active")
	}
}

func TestUserCreateDuplicateUsername(t *testing.T) {
	db := setupTestDB(t)
	us := NewUserStore(db)

	if _, err := us.Create("alice", "Alice", "", "hash", model.RoleUser, ""); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := us.Create("alice", "Alice 2", "", "hash", model.RoleUser, ""); err == nil {
		t.Fatal("expected error for duplicate username, got nil")
	}
}

func TestUserCreateRejectsUnknownRole(t *testing.T) {
	db := setupTestDB(t)
	us := NewUserStore(db)

	if _, err := us.Create("bob", "Bob", "", "hash", "ROOT", ""); err == nil {
		t.Fatal("expected check constraint error for unknown role")
	}
}

func TestUserGetByUsernameNotFound(t *testing.T) {
	db := setupTestDB(t)
	us := NewUserStore(db)

	u, err := us.GetByUsername("nobody")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil, got %+v", u)
	}
}

func TestUserUpdateAndTouchLogin(t *testing.T) {
	db := setupTestDB(t)
	us := NewUserStore(db)
	u := createTestUser(t, db, "carol")

	updated, err := us.Update(u.ID, "Carol C", "carol@corp.example", model.RoleViewer, "RH", false)
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if updated.Name != "Carol C" || updated.Role != model.RoleViewer || updated.Active {
		t.Errorf("update not applied: %+v", updated)
	}

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := us.TouchLogin(u.ID, at); err != nil {
		t.Fatalf("touch login: %v", err)
	}
	got, _ := us.GetByID(u.ID)
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(at) {
		t.Errorf("last_login_at = %v, want %v", got.LastLoginAt, at)
	}
}

func TestUserCountAndDelete(t *testing.T) {
	db := setupTestDB(t)
	us := NewUserStore(db)
	u := createTestUser(t, db, "dave")
	createTestUser(t, db, "erin")

	n, err := us.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	if err := us.Delete(u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	users, _ := us.List()
	if len(users) != 1 {
		t.Errorf("len(users) = %d, want 1", len(users))
	}
}
