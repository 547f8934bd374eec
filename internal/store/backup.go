package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/patrimonio/internal/model"
)

type BackupStore struct {
	db *sql.DB
}

func NewBackupStore(db *sql.DB) *BackupStore {
	return &BackupStore{db: db}
}

func scanBackup(scanner interface{ Scan(...any) error }) (*model.Backup, error) {
	var b model.Backup
	var createdBy sql.NullInt64
	var errMsg sql.NullString
	var completedAt sql.NullTime
	err := scanner.Scan(&b.ID, &b.Name, &b.Filename, &b.Path, &b.SizeBytes, &b.Kind, &b.Status,
		&createdBy, &errMsg, &b.S3Key, &b.StartedAt, &completedAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.CreatedBy = nullInt64Ptr(createdBy)
	b.ErrorMessage = errMsg.String
	b.CompletedAt = nullTimePtr(completedAt)
	return &b, nil
}

const backupCols = `id, name, filename, path, size_bytes, kind, status, created_by, error_message, s3_key, started_at, completed_at, created_at`

// Create inserts a backup row in the RUNNING state.
func (s *BackupStore) Create(name, filename, path string, kind model.BackupKind, createdBy *int64) (*model.Backup, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO backups (name, filename, path, kind, status, created_by, started_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		name, filename, path, string(kind), string(model.BackupStatusRunning), int64Arg(createdBy), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &model.Backup{
		ID:        id,
		Name:      name,
		Filename:  filename,
		Path:      path,
		Kind:      kind,
		Status:    model.BackupStatusRunning,
		CreatedBy: createdBy,
		StartedAt: now,
		CreatedAt: now,
	}, nil
}

func (s *BackupStore) GetByID(id int64) (*model.Backup, error) {
	row := s.db.QueryRow(`SELECT `+backupCols+` FROM backups WHERE id = ?`, id)
	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %d: %w", id, err)
	}
	return b, nil
}

// List returns the newest backups first. A non-positive limit means 100.
func (s *BackupStore) List(limit int) ([]model.Backup, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT `+backupCols+` FROM backups ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()
	return collectBackups(rows)
}

// ListSuccessful returns SUCCESS backups, newest first.
func (s *BackupStore) ListSuccessful() ([]model.Backup, error) {
	rows, err := s.db.Query(
		`SELECT `+backupCols+` FROM backups WHERE status = ? ORDER BY created_at DESC, id DESC`,
		string(model.BackupStatusSuccess),
	)
	if err != nil {
		return nil, fmt.Errorf("list successful backups: %w", err)
	}
	defer rows.Close()
	return collectBackups(rows)
}

func collectBackups(rows *sql.Rows) ([]model.Backup, error) {
	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

// MarkSuccess finalizes a backup with its size.
func (s *BackupStore) MarkSuccess(id, sizeBytes int64, completedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE backups SET status = ?, size_bytes = ?, error_message = NULL, completed_at = ? WHERE id = ?`,
		string(model.BackupStatusSuccess), sizeBytes, completedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark backup %d success: %w", id, err)
	}
	return nil
}

// MarkFailure finalizes a backup with an error message.
func (s *BackupStore) MarkFailure(id int64, errMsg string, completedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE backups SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(model.BackupStatusFailure), errMsg, completedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark backup %d failure: %w", id, err)
	}
	return nil
}

func (s *BackupStore) SetS3Key(id int64, key string) error {
	_, err := s.db.Exec(`UPDATE backups SET s3_key = ? WHERE id = ?`, key, id)
	if err != nil {
		return fmt.Errorf("set backup s3 key: %w", err)
	}
	return nil
}

// Delete removes the row. It reports false when the row was already gone.
func (s *BackupStore) Delete(id int64) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete backup %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// CountByStatus returns the number of backups per status.
func (s *BackupStore) CountByStatus() (map[model.BackupStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM backups GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count backups: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.BackupStatus]int)
	for rows.Next() {
		var status model.BackupStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan backup count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *BackupStore) TotalSize() (int64, error) {
	var total int64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(size_bytes), 0) FROM backups WHERE status = ?`,
		string(model.BackupStatusSuccess),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total backup size: %w", err)
	}
	return total, nil
}
