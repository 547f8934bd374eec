package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dukerupert/patrimonio/internal/metrics"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
)

// DefaultRetention is the number of successful backups Prune keeps.
const DefaultRetention = 10

// RestartDelay is how long the process lingers after a restore before exiting.
const RestartDelay = 2 * time.Second

var (
	ErrNotFound      = errors.New("backup not found")
	ErrNotRestorable = errors.New("only successful backups can be restored")
)

// Config holds backup manager configuration.
type Config struct {
	DatabaseURL      string
	Dir              string
	Retention        int
	Passphrase       string
	S3               S3Config
	ExitAfterRestore bool
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
	Offsite    bool       `json:"offsite"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Manager creates, lists, restores and prunes database backups.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	status   Status
	running  int
	callback StatusCallback

	db      *sql.DB
	backups *store.BackupStore
	offsite *offsite
	logger  *slog.Logger

	now          func() time.Time
	exit         func(int)
	restartDelay time.Duration
}

// NewManager creates a new backup manager. db is the live database handle
// used for WAL checkpoints.
func NewManager(cfg Config, db *sql.DB, backups *store.BackupStore, logger *slog.Logger, callback StatusCallback) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Dir == "" {
		cfg.Dir = "backups"
	}
	m := &Manager{
		cfg:      cfg,
		db:       db,
		backups:  backups,
		callback: callback,
		logger:   logger.With("component", "backup"),
		status:   Status{State: StateIdle},
		now:      time.Now,
		exit:     os.Exit,

		restartDelay: RestartDelay,
	}

	if _, err := ResolveSQLitePath(cfg.DatabaseURL); err != nil {
		m.status.State = StateDisabled
		m.status.Error = err.Error()
	}
	if cfg.S3.Enabled() {
		m.offsite = newOffsite(newS3Client(cfg.S3), cfg.S3.Bucket, cfg.Passphrase, m.logger)
		m.status.Offsite = true
	}
	return m
}

// Retention returns the configured number of backups to keep.
func (m *Manager) Retention() int {
	return m.cfg.Retention
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) begin() {
	m.mu.Lock()
	m.running++
	m.status.State = StateRunning
	m.status.InProgress = true
	status := m.status
	m.mu.Unlock()
	m.notify(status)
}

func (m *Manager) finish(at time.Time, err error) {
	m.mu.Lock()
	m.running--
	if err != nil {
		m.status.Error = err.Error()
	} else {
		m.status.Error = ""
		m.status.LastBackup = &at
	}
	if m.running == 0 {
		m.status.InProgress = false
		switch {
		case m.status.State == StateDisabled:
		case err != nil:
			m.status.State = StateError
		default:
			m.status.State = StateIdle
		}
	}
	status := m.status
	m.mu.Unlock()
	m.notify(status)
}

func (m *Manager) notify(s Status) {
	if m.callback != nil {
		m.callback(s)
	}
}

func newFilename(prefix string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s.db", prefix, at.Format("20060102_150405"), suffix)
}

// Create takes a backup of the live database. The returned record is always
// in a terminal state; when the copy failed it is FAILURE and the error is
// returned alongside it.
func (m *Manager) Create(ctx context.Context, kind model.BackupKind, createdBy *int64) (*model.Backup, error) {
	now := m.now().UTC()
	label := "Manual"
	if kind == model.BackupKindAutomatic {
		label = "Automatic"
	}
	name := fmt.Sprintf("%s backup %s", label, now.Format("02/01/2006 15:04:05"))
	return m.create(ctx, "backup_"+kind.FilenameTag(), name, kind, createdBy)
}

func (m *Manager) create(ctx context.Context, prefix, name string, kind model.BackupKind, createdBy *int64) (*model.Backup, error) {
	started := m.now().UTC()
	filename := newFilename(prefix, started)
	target := filepath.Join(m.cfg.Dir, filename)

	rec, err := m.backups.Create(name, filename, target, kind, createdBy)
	if err != nil {
		return nil, err
	}

	m.begin()
	size, copyErr := m.snapshot(ctx, target)
	completed := m.now().UTC()
	metrics.BackupDuration.Observe(completed.Sub(started).Seconds())

	if copyErr != nil {
		m.logger.Error("backup failed", "filename", filename, "error", copyErr)
		if err := m.backups.MarkFailure(rec.ID, copyErr.Error(), completed); err != nil {
			m.logger.Error("record backup failure", "id", rec.ID, "error", err)
		}
		os.Remove(target)
		metrics.BackupsTotal.WithLabelValues(string(kind), string(model.BackupStatusFailure)).Inc()
		m.finish(completed, copyErr)
		if final, err := m.backups.GetByID(rec.ID); err == nil && final != nil {
			rec = final
		}
		return rec, fmt.Errorf("create backup: %w", copyErr)
	}

	if err := m.backups.MarkSuccess(rec.ID, size, completed); err != nil {
		m.logger.Error("record backup success", "id", rec.ID, "error", err)
		if ferr := m.backups.MarkFailure(rec.ID, err.Error(), completed); ferr != nil {
			m.logger.Error("record backup failure", "id", rec.ID, "error", ferr)
		}
		os.Remove(target)
		metrics.BackupsTotal.WithLabelValues(string(kind), string(model.BackupStatusFailure)).Inc()
		m.finish(completed, err)
		if final, gerr := m.backups.GetByID(rec.ID); gerr == nil && final != nil {
			rec = final
		}
		return rec, fmt.Errorf("create backup: %w", err)
	}
	metrics.BackupsTotal.WithLabelValues(string(kind), string(model.BackupStatusSuccess)).Inc()
	m.logger.Info("backup created", "filename", filename, "kind", kind, "size_bytes", size)

	if m.offsite != nil {
		key, err := m.offsite.upload(ctx, filename, target)
		if err != nil {
			m.logger.Warn("offsite upload failed", "filename", filename, "error", err)
		} else if err := m.backups.SetS3Key(rec.ID, key); err != nil {
			m.logger.Warn("record offsite key", "id", rec.ID, "error", err)
		}
	}
	m.finish(completed, nil)

	final, err := m.backups.GetByID(rec.ID)
	if err != nil {
		return nil, err
	}
	return final, nil
}

// snapshot checkpoints the live database and copies its file to target.
func (m *Manager) snapshot(ctx context.Context, target string) (int64, error) {
	src, err := ResolveSQLitePath(m.cfg.DatabaseURL)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(src); err != nil {
		return 0, fmt.Errorf("source database: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create backup dir: %w", err)
	}
	if err := m.checkpoint(ctx); err != nil {
		return 0, err
	}
	if err := copyFile(src, target); err != nil {
		return 0, fmt.Errorf("copy database: %w", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return 0, fmt.Errorf("verify backup file: %w", err)
	}
	return info.Size(), nil
}

func (m *Manager) checkpoint(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

func (m *Manager) List(limit int) ([]model.Backup, error) {
	return m.backups.List(limit)
}

// Get returns the backup or ErrNotFound.
func (m *Manager) Get(id int64) (*model.Backup, error) {
	b, err := m.backups.GetByID(id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	return b, nil
}

// Open returns a reader for a successful backup whose file is present.
func (m *Manager) Open(id int64) (io.ReadCloser, *model.Backup, error) {
	b, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if b.Status != model.BackupStatusSuccess {
		return nil, nil, ErrNotFound
	}
	f, err := os.Open(b.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open backup file: %w", err)
	}
	return f, b, nil
}

// Delete removes the backup file, its off-site copy and its row. File
// removal is best-effort.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	b, err := m.Get(id)
	if err != nil {
		return err
	}
	m.removeArtifacts(ctx, *b)
	ok, err := m.backups.Delete(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (m *Manager) removeArtifacts(ctx context.Context, b model.Backup) {
	if b.Path != "" {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("remove backup file", "path", b.Path, "error", err)
		}
	}
	if b.S3Key != "" && m.offsite != nil {
		if err := m.offsite.remove(ctx, b.S3Key); err != nil {
			m.logger.Warn("remove offsite backup", "key", b.S3Key, "error", err)
		}
	}
}

// Prune keeps the newest keep successful backups and deletes the rest. It
// returns the number of rows removed.
func (m *Manager) Prune(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		keep = m.cfg.Retention
	}
	all, err := m.backups.ListSuccessful()
	if err != nil {
		return 0, err
	}
	if len(all) <= keep {
		return 0, nil
	}

	removed := 0
	for _, b := range all[keep:] {
		m.removeArtifacts(ctx, b)
		ok, err := m.backups.Delete(b.ID)
		if err != nil {
			return removed, fmt.Errorf("prune backup %d: %w", b.ID, err)
		}
		if !ok {
			continue
		}
		removed++
	}
	metrics.BackupsPruned.Add(float64(removed))
	m.logger.Info("pruned backups", "removed", removed, "kept", keep)
	return removed, nil
}

// Restore replaces the live database with a successful backup. A safety
// snapshot of the current database is attempted first; its failure is
// logged and does not stop the restore. With ExitAfterRestore set the
// process exits RestartDelay later so the caller can still answer.
func (m *Manager) Restore(ctx context.Context, id int64) error {
	b, err := m.Get(id)
	if err != nil {
		return err
	}
	if b.Status != model.BackupStatusSuccess {
		return ErrNotRestorable
	}
	live, err := ResolveSQLitePath(m.cfg.DatabaseURL)
	if err != nil {
		return err
	}

	source := b.Path
	if _, err := os.Stat(source); err != nil {
		if b.S3Key == "" || m.offsite == nil {
			return fmt.Errorf("%w: file %s missing", ErrNotFound, b.Filename)
		}
		source = filepath.Join(os.TempDir(), fmt.Sprintf("patrimonio-restore-%d.db", b.ID))
		defer os.Remove(source)
		if err := m.offsite.fetch(ctx, b.S3Key, source); err != nil {
			return err
		}
	}

	if err := verifyIntegrity(source); err != nil {
		return err
	}

	if snap, err := m.create(ctx, "pre_restore_backup", "Pre-restore snapshot", model.BackupKindAutomatic, nil); err != nil {
		m.logger.Warn("pre-restore snapshot failed", "error", err)
	} else {
		m.logger.Info("pre-restore snapshot created", "filename", snap.Filename)
	}

	// Flush writes made by the snapshot bookkeeping before swapping files.
	if err := m.checkpoint(ctx); err != nil {
		return err
	}
	if err := copyFile(source, live); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	os.Remove(live + "-wal")
	os.Remove(live + "-shm")

	m.logger.Info("restore complete", "backup", b.Filename)
	if m.cfg.ExitAfterRestore {
		m.logger.Info("exiting for restart", "delay", m.restartDelay)
		time.AfterFunc(m.restartDelay, func() { m.exit(0) })
	}
	return nil
}

func verifyIntegrity(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open backup for check: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
