package store

import (
	"database/sql"
	"testing"

	"github.com/dukerupert/patrimonio/internal/database"
	"github.com/dukerupert/patrimonio/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *sql.DB, username string) *model.User {
	t.Helper()
	u, err := NewUserStore(db).Create(username, username+" name", username+"@example.com", "hash", model.RoleUser, "TI")
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func createTestEquipment(t *testing.T, db *sql.DB, name, category string) *model.Equipment {
	t.Helper()
	e, err := NewEquipmentStore(db).Create(model.Equipment{Name: name, Category: category, Brand: "Dell"})
	if err != nil {
		t.Fatalf("create equipment %s: %v", name, err)
	}
	return e
}
