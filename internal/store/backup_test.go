package store

import (
	"testing"
	"time"

	"github.com/dukerupert/patrimonio/internal/model"
)

func TestBackupCreate(t *testing.T) {
	bs := NewBackupStore(setupTestDB(t))

	b, err := bs.Create("Manual backup", "backup_manual_20240101_020000_ab12cd34.db", "/tmp/x.db", model.BackupKindManual, nil)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if b.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if b.Status != model.BackupStatusRunning {
		t.Errorf("status = %q, want %q", b.Status, model.BackupStatusRunning)
	}

	got, err := bs.GetByID(b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Filename != b.Filename || got.Path != "/tmp/x.db" || got.Kind != model.BackupKindManual {
		t.Errorf("got %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("running backup should not have completed_at")
	}
}

func TestBackupMarkSuccessAndFailure(t *testing.T) {
	bs := NewBackupStore(setupTestDB(t))

	ok, _ := bs.Create("a", "a.db", "/a.db", model.BackupKindAutomatic, nil)
	bad, _ := bs.Create("b", "b.db", "/b.db", model.BackupKindAutomatic, nil)
	now := time.Now().UTC()

	if err := bs.MarkSuccess(ok.ID, 4096, now); err != nil {
		t.Fatalf("mark success: %v", err)
	}
	if err := bs.MarkFailure(bad.ID, "disk full", now); err != nil {
		t.Fatalf("mark failure: %v", err)
	}

	gotOK, _ := bs.GetByID(ok.ID)
	if gotOK.Status != model.BackupStatusSuccess || gotOK.SizeBytes != 4096 || gotOK.CompletedAt == nil {
		t.Errorf("success row = %+v", gotOK)
	}
	gotBad, _ := bs.GetByID(bad.ID)
	if gotBad.Status != model.BackupStatusFailure || gotBad.ErrorMessage != "disk full" || gotBad.CompletedAt == nil {
		t.Errorf("failure row = %+v", gotBad)
	}

	counts, _ := bs.CountByStatus()
	if counts[model.BackupStatusSuccess] != 1 || counts[model.BackupStatusFailure] != 1 {
		t.Errorf("counts = %v", counts)
	}
	total, _ := bs.TotalSize()
	if total != 4096 {
		t.Errorf("total = %d, want 4096", total)
	}
}

func TestBackupListSuccessfulNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	bs := NewBackupStore(db)

	base := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		b, _ := bs.Create("b", "b"+string(rune('0'+i))+".db", "/b.db", model.BackupKindAutomatic, nil)
		db.Exec(`UPDATE backups SET created_at = ? WHERE id = ?`, base.AddDate(0, 0, i), b.ID)
		bs.MarkSuccess(b.ID, 1, base)
	}
	failed, _ := bs.Create("f", "f.db", "/f.db", model.BackupKindAutomatic, nil)
	bs.MarkFailure(failed.ID, "boom", base)

	list, err := bs.ListSuccessful()
	if err != nil {
		t.Fatalf("list successful: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].Filename != "b2.db" || list[2].Filename != "b0.db" {
		t.Errorf("order = %s, %s, %s", list[0].Filename, list[1].Filename, list[2].Filename)
	}
}

func TestBackupDelete(t *testing.T) {
	bs := NewBackupStore(setupTestDB(t))
	b, _ := bs.Create("a", "a.db", "/a.db", model.BackupKindManual, nil)

	deleted, err := bs.Delete(b.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Error("expected row to be deleted")
	}
	deleted, err = bs.Delete(b.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Error("second delete should report nothing removed")
	}
}
