package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/patrimonio/internal/model"
)

// ReadHistoryLimit caps the read notifications returned next to unread ones.
const ReadHistoryLimit = 50

type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var relatedTable sql.NullString
	var relatedID sql.NullInt64
	var expiresAt sql.NullTime
	err := scanner.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Severity, &n.Read,
		&relatedTable, &relatedID, &n.CreatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	if relatedTable.Valid {
		n.RelatedTable = &relatedTable.String
	}
	n.RelatedID = nullInt64Ptr(relatedID)
	n.ExpiresAt = nullTimePtr(expiresAt)
	return &n, nil
}

const notificationCols = `id, user_id, title, message, severity, read, related_table, related_id, created_at, expires_at`

func stringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// Create inserts a notification unconditionally.
func (s *NotificationStore) Create(n model.Notification) (*model.Notification, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(
		`INSERT INTO notifications (user_id, title, message, severity, read, related_table, related_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		n.UserID, n.Title, n.Message, string(n.Severity), stringArg(n.RelatedTable), int64Arg(n.RelatedID),
		n.CreatedAt.UTC(), timeArg(n.ExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

// CreateIfAbsent inserts the notification unless one with the same
// recipient, related record and title already exists. It returns nil when
// nothing was inserted.
func (s *NotificationStore) CreateIfAbsent(n model.Notification) (*model.Notification, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(
		`INSERT INTO notifications (user_id, title, message, severity, read, related_table, related_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		n.UserID, n.Title, n.Message, string(n.Severity), stringArg(n.RelatedTable), int64Arg(n.RelatedID),
		n.CreatedAt.UTC(), timeArg(n.ExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

// Exists reports whether a notification for the triple is present.
func (s *NotificationStore) Exists(userID int64, relatedTable string, relatedID int64, title string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM notifications WHERE user_id = ? AND related_table = ? AND related_id = ? AND title = ?)`,
		userID, relatedTable, relatedID, title,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	return exists, nil
}

func (s *NotificationStore) GetByID(id int64) (*model.Notification, error) {
	row := s.db.QueryRow(`SELECT `+notificationCols+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %d: %w", id, err)
	}
	return n, nil
}

// ListForUser returns every unread notification followed by the most
// recent read ones, newest first within each group.
func (s *NotificationStore) ListForUser(userID int64) ([]model.Notification, error) {
	unread, err := s.query(
		`SELECT `+notificationCols+` FROM notifications WHERE user_id = ? AND read = 0 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list unread notifications: %w", err)
	}
	read, err := s.query(
		`SELECT `+notificationCols+` FROM notifications WHERE user_id = ? AND read = 1 ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, ReadHistoryLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("list read notifications: %w", err)
	}
	return append(unread, read...), nil
}

// ListByRelated returns notifications tied to one record.
func (s *NotificationStore) ListByRelated(relatedTable string, relatedID int64) ([]model.Notification, error) {
	return s.query(
		`SELECT `+notificationCols+` FROM notifications WHERE related_table = ? AND related_id = ? ORDER BY id`,
		relatedTable, relatedID,
	)
}

func (s *NotificationStore) query(q string, args ...any) ([]model.Notification, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, *n)
	}
	return items, rows.Err()
}

// MarkRead marks one of the user's notifications read. It reports false
// when the notification does not belong to the user.
func (s *NotificationStore) MarkRead(id, userID int64) (bool, error) {
	result, err := s.db.Exec(`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *NotificationStore) MarkAllRead(userID int64) (int64, error) {
	result, err := s.db.Exec(`UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected()
}

func (s *NotificationStore) CountUnread(userID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// DeleteExpired removes notifications whose expiry is before the given time.
func (s *NotificationStore) DeleteExpired(before time.Time) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < ?`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return result.RowsAffected()
}
