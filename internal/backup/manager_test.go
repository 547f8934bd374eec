package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/patrimonio/internal/database"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3NotFound{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(string(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type s3NotFound struct{}

func (e *s3NotFound) Error() string { return "NoSuchKey" }

var filenamePattern = regexp.MustCompile(`^backup_(manual|auto)_\d{8}_\d{6}_[0-9a-f]{8}\.db$`)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	m        *Manager
	db       *sql.DB
	livePath string
	dir      string
	statuses []Status
	mu       sync.Mutex
}

// newFileEnv opens a real database file so checkpoints, copies and
// integrity checks run against SQLite.
func newFileEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	livePath := filepath.Join(root, "live.db")
	db, err := database.Open(livePath)
	if err != nil {
		t.Fatalf("open live db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e := &env{db: db, livePath: livePath, dir: filepath.Join(root, "backups")}
	e.m = NewManager(Config{
		DatabaseURL: "sqlite:///" + livePath,
		Dir:         e.dir,
	}, db, store.NewBackupStore(db), discardLogger(), func(s Status) {
		e.mu.Lock()
		e.statuses = append(e.statuses, s)
		e.mu.Unlock()
	})
	return e
}

func newMemoryManager(t *testing.T, databaseURL string) (*Manager, *store.BackupStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	backups := store.NewBackupStore(db)
	m := NewManager(Config{DatabaseURL: databaseURL, Dir: t.TempDir()}, db, backups, discardLogger(), nil)
	return m, backups
}

func TestCreateSuccess(t *testing.T) {
	e := newFileEnv(t)
	uid := int64(7)

	b, err := e.m.Create(context.Background(), model.BackupKindManual, &uid)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Status != model.BackupStatusSuccess {
		t.Errorf("status = %q, want SUCCESS", b.Status)
	}
	if !filenamePattern.MatchString(b.Filename) {
		t.Errorf("filename %q does not match pattern", b.Filename)
	}
	if !strings.HasPrefix(b.Filename, "backup_manual_") {
		t.Errorf("filename %q should carry the manual tag", b.Filename)
	}
	if b.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
	if b.CreatedBy == nil || *b.CreatedBy != uid {
		t.Errorf("created_by = %v, want %d", b.CreatedBy, uid)
	}

	info, err := os.Stat(b.Path)
	if err != nil {
		t.Fatalf("backup file: %v", err)
	}
	if info.Size() == 0 || info.Size() != b.SizeBytes {
		t.Errorf("size = %d, file = %d", b.SizeBytes, info.Size())
	}

	st := e.m.Status()
	if st.State != StateIdle || st.InProgress || st.LastBackup == nil {
		t.Errorf("status = %+v", st)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.statuses) != 2 || e.statuses[0].State != StateRunning || e.statuses[1].State != StateIdle {
		t.Errorf("callbacks = %+v, want running then idle", e.statuses)
	}
}

func TestCreateAutomaticTag(t *testing.T) {
	e := newFileEnv(t)
	b, err := e.m.Create(context.Background(), model.BackupKindAutomatic, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(b.Filename, "backup_auto_") || b.Kind != model.BackupKindAutomatic {
		t.Errorf("backup = %s/%s", b.Filename, b.Kind)
	}
}

func TestCreateMissingSourceRecordsFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.db")
	m, backups := newMemoryManager(t, missing)

	b, err := m.Create(context.Background(), model.BackupKindManual, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if b == nil {
		t.Fatal("expected failed record")
	}

	stored, err := backups.GetByID(b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != model.BackupStatusFailure {
		t.Errorf("status = %q, want FAILURE", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("error message should be recorded")
	}
	if stored.CompletedAt == nil {
		t.Error("completed_at should be set on failure")
	}
	if m.Status().State != StateError {
		t.Errorf("state = %q, want error", m.Status().State)
	}
}

func TestCreateUnsupportedStore(t *testing.T) {
	m, _ := newMemoryManager(t, ":memory:")
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want disabled", m.Status().State)
	}

	b, err := m.Create(context.Background(), model.BackupKindAutomatic, nil)
	if !errors.Is(err, ErrUnsupportedStore) {
		t.Fatalf("err = %v, want ErrUnsupportedStore", err)
	}
	if b.Status != model.BackupStatusFailure {
		t.Errorf("status = %q, want FAILURE", b.Status)
	}
	if st := m.Status(); st.State != StateDisabled || st.InProgress {
		t.Errorf("status after attempt = %+v, want disabled", st)
	}
}

func TestCreateFinalizesWhenSuccessNotRecorded(t *testing.T) {
	e := newFileEnv(t)
	if _, err := e.db.Exec(`CREATE TRIGGER reject_success BEFORE UPDATE ON backups
		WHEN NEW.status = 'SUCCESS'
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	b, err := e.m.Create(context.Background(), model.BackupKindManual, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if b == nil {
		t.Fatal("expected failed record")
	}
	if b.Status != model.BackupStatusFailure || b.CompletedAt == nil {
		t.Errorf("backup = %s completed=%v, want FAILURE with completed_at", b.Status, b.CompletedAt)
	}
	if !strings.Contains(b.ErrorMessage, "disk full") {
		t.Errorf("error message = %q", b.ErrorMessage)
	}
	if _, err := os.Stat(b.Path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("backup file should be removed, stat err = %v", err)
	}
	if st := e.m.Status(); st.State != StateError || st.InProgress {
		t.Errorf("status = %+v, want error", st)
	}
}

func TestConcurrentCreates(t *testing.T) {
	e := newFileEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*model.Backup, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.m.Create(ctx, model.BackupKindManual, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	if results[0].ID == results[1].ID {
		t.Error("concurrent creates should produce distinct rows")
	}
	if results[0].Filename == results[1].Filename {
		t.Errorf("concurrent creates share filename %q", results[0].Filename)
	}
	for _, b := range results {
		if b.Status != model.BackupStatusSuccess {
			t.Errorf("backup %d status = %q", b.ID, b.Status)
		}
		if _, err := os.Stat(b.Path); err != nil {
			t.Errorf("backup %d file: %v", b.ID, err)
		}
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	m, backups := newMemoryManager(t, filepath.Join(t.TempDir(), "live.db"))
	dir := m.cfg.Dir
	base := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)

	var ids []int64
	for i := 0; i < 15; i++ {
		filename := fmt.Sprintf("backup_auto_%02d.db", i)
		path := filepath.Join(dir, filename)
		if err := os.WriteFile(path, []byte("db"), 0600); err != nil {
			t.Fatalf("write file: %v", err)
		}
		b, err := backups.Create(filename, filename, path, model.BackupKindAutomatic, nil)
		if err != nil {
			t.Fatalf("create row: %v", err)
		}
		if err := backups.MarkSuccess(b.ID, 2, base); err != nil {
			t.Fatalf("mark success: %v", err)
		}
		if _, err := m.db.Exec(`UPDATE backups SET created_at = ? WHERE id = ?`, base.AddDate(0, 0, i), b.ID); err != nil {
			t.Fatalf("set created_at: %v", err)
		}
		ids = append(ids, b.ID)
	}
	// A missing file must not stop pruning.
	os.Remove(filepath.Join(dir, "backup_auto_00.db"))

	failed, _ := backups.Create("failed", "failed.db", filepath.Join(dir, "failed.db"), model.BackupKindManual, nil)
	backups.MarkFailure(failed.ID, "boom", base)

	removed, err := m.Prune(context.Background(), 10)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 5 {
		t.Errorf("removed = %d, want 5", removed)
	}

	kept, _ := backups.ListSuccessful()
	if len(kept) != 10 {
		t.Fatalf("kept = %d, want 10", len(kept))
	}
	for i, b := range kept {
		if want := ids[14-i]; b.ID != want {
			t.Errorf("kept[%d] = %d, want %d", i, b.ID, want)
		}
	}
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("backup_auto_%02d.db", i))); !os.IsNotExist(err) {
			t.Errorf("file %d should be removed", i)
		}
	}
	if got, _ := backups.GetByID(failed.ID); got == nil {
		t.Error("failed backups are not subject to retention")
	}

	removed, err = m.Prune(context.Background(), 10)
	if err != nil || removed != 0 {
		t.Errorf("second prune = %d, %v; want 0, nil", removed, err)
	}
}

func TestOpenAndDelete(t *testing.T) {
	e := newFileEnv(t)
	ctx := context.Background()

	b, err := e.m.Create(ctx, model.BackupKindManual, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rc, got, err := e.m.Open(b.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if int64(len(data)) != got.SizeBytes {
		t.Errorf("read %d bytes, want %d", len(data), got.SizeBytes)
	}

	if _, _, err := e.m.Open(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open missing: err = %v, want ErrNotFound", err)
	}

	if err := e.m.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(b.Path); !os.IsNotExist(err) {
		t.Error("file should be removed")
	}
	if _, err := e.m.Get(b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}
	if err := e.m.Delete(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: err = %v, want ErrNotFound", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	e := newFileEnv(t)
	b, err := e.m.Create(context.Background(), model.BackupKindManual, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	os.Remove(b.Path)
	if _, _, err := e.m.Open(b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func equipmentNames(t *testing.T, path string) []string {
	t.Helper()
	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer db.Close()
	items, err := store.NewEquipmentStore(db).List(model.EquipmentFilter{})
	if err != nil {
		t.Fatalf("list equipment: %v", err)
	}
	var names []string
	for _, e := range items {
		names = append(names, e.Name)
	}
	return names
}

func TestRestore(t *testing.T) {
	e := newFileEnv(t)
	ctx := context.Background()
	equipment := store.NewEquipmentStore(e.db)

	if _, err := equipment.Create(model.Equipment{Name: "before", Category: "TV"}); err != nil {
		t.Fatalf("create equipment: %v", err)
	}
	b, err := e.m.Create(ctx, model.BackupKindManual, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := equipment.Create(model.Equipment{Name: "after", Category: "TV"}); err != nil {
		t.Fatalf("create equipment: %v", err)
	}

	exited := make(chan int, 1)
	e.m.cfg.ExitAfterRestore = true
	e.m.restartDelay = 0
	e.m.exit = func(code int) { exited <- code }

	if err := e.m.Restore(ctx, b.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	select {
	case code := <-exited:
		if code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
	case <-time.After(time.Second):
		t.Error("expected exit after restore")
	}

	snapshots, _ := filepath.Glob(filepath.Join(e.dir, "pre_restore_backup_*.db"))
	if len(snapshots) != 1 {
		t.Errorf("pre-restore snapshots = %d, want 1", len(snapshots))
	}

	e.db.Close()
	names := equipmentNames(t, e.livePath)
	if len(names) != 1 || names[0] != "before" {
		t.Errorf("equipment after restore = %v, want [before]", names)
	}
}

func TestRestoreRejectsUnsuccessful(t *testing.T) {
	m, backups := newMemoryManager(t, filepath.Join(t.TempDir(), "live.db"))
	b, _ := backups.Create("x", "x.db", "x.db", model.BackupKindManual, nil)
	backups.MarkFailure(b.ID, "boom", time.Now())

	if err := m.Restore(context.Background(), b.ID); !errors.Is(err, ErrNotRestorable) {
		t.Errorf("err = %v, want ErrNotRestorable", err)
	}
	if err := m.Restore(context.Background(), 4242); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: err = %v, want ErrNotFound", err)
	}
}

func TestRestoreCorruptBackupLeavesLiveIntact(t *testing.T) {
	e := newFileEnv(t)
	ctx := context.Background()
	if _, err := store.NewEquipmentStore(e.db).Create(model.Equipment{Name: "keep", Category: "TV"}); err != nil {
		t.Fatalf("create equipment: %v", err)
	}
	b, err := e.m.Create(ctx, model.BackupKindManual, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.WriteFile(b.Path, []byte("definitely not sqlite"), 0600); err != nil {
		t.Fatalf("corrupt backup: %v", err)
	}

	if err := e.m.Restore(ctx, b.ID); err == nil {
		t.Fatal("expected integrity error")
	}

	e.db.Close()
	if names := equipmentNames(t, e.livePath); len(names) != 1 || names[0] != "keep" {
		t.Errorf("live database changed: %v", names)
	}
}

func TestOffsiteUploadEncryptedAndRestore(t *testing.T) {
	e := newFileEnv(t)
	ctx := context.Background()
	mock := newMockS3()
	e.m.offsite = newOffsite(mock, "bucket", "s3cret", discardLogger())

	if _, err := store.NewEquipmentStore(e.db).Create(model.Equipment{Name: "remote", Category: "TV"}); err != nil {
		t.Fatalf("create equipment: %v", err)
	}
	b, err := e.m.Create(ctx, model.BackupKindManual, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.S3Key != "backups/"+b.Filename+".enc" {
		t.Errorf("s3 key = %q", b.S3Key)
	}
	obj, ok := mock.objects[b.S3Key]
	if !ok {
		t.Fatal("object not uploaded")
	}
	if !strings.HasPrefix(string(obj), string(magic)) {
		t.Error("uploaded object should be encrypted")
	}

	if err := os.Remove(b.Path); err != nil {
		t.Fatalf("remove local copy: %v", err)
	}
	if err := e.m.Restore(ctx, b.ID); err != nil {
		t.Fatalf("Restore from offsite: %v", err)
	}

	e.db.Close()
	if names := equipmentNames(t, e.livePath); len(names) != 1 || names[0] != "remote" {
		t.Errorf("equipment after restore = %v", names)
	}
}

func TestOffsiteFailureKeepsLocalSuccess(t *testing.T) {
	e := newFileEnv(t)
	mock := newMockS3()
	mock.putErr = errors.New("bucket unreachable")
	e.m.offsite = newOffsite(mock, "bucket", "", discardLogger())

	b, err := e.m.Create(context.Background(), model.BackupKindAutomatic, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.Status != model.BackupStatusSuccess {
		t.Errorf("status = %q, want SUCCESS", b.Status)
	}
	if b.S3Key != "" {
		t.Errorf("s3 key = %q, want empty", b.S3Key)
	}
}

func TestDeleteRemovesOffsiteCopy(t *testing.T) {
	e := newFileEnv(t)
	ctx := context.Background()
	mock := newMockS3()
	e.m.offsite = newOffsite(mock, "bucket", "", discardLogger())

	b, err := e.m.Create(ctx, model.BackupKindManual, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := mock.objects[b.S3Key]; !ok {
		t.Fatalf("object %q not uploaded", b.S3Key)
	}
	if err := e.m.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(mock.objects) != 0 {
		t.Errorf("objects left = %d, want 0", len(mock.objects))
	}
}
