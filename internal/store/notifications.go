package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Notification categories used by the turn pipeline.
const (
	NotificationTimeConfirmation = "time_confirmation"
	NotificationAnalysisReady    = "analysis_ready"
	NotificationCheckIn          = "check_in"
)

// Notification is one user-facing notice. Payload carries structured state;
// for time confirmations it is a timeConfirmPayload JSON object.
type Notification struct {
	ID        int64
	UserID    int64
	Category  string
	Title     string
	Message   string
	Payload   string
	IsRead    bool
	ReadAt    *time.Time
	CreatedAt time.Time
}

// AddNotification persists a notification.
func (s *Store) AddNotification(ctx context.Context, n *Notification) (int64, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Payload == "" {
		n.Payload = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, category, title, message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.UserID, n.Category, n.Title, n.Message, n.Payload, fmtTime(n.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add notification: %w", err)
	}
	n.ID, err = res.LastInsertId()
	return n.ID, err
}

// LatestUnread returns the newest unread notification in the category, or
// ErrNotFound.
func (s *Store) LatestUnread(ctx context.Context, userID int64, category string) (*Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, category, title, message, payload, is_read, read_at, created_at
		FROM notifications WHERE user_id = ? AND category = ? AND is_read = 0
		ORDER BY created_at DESC, id DESC LIMIT 1`, userID, category)
	return scanNotification(row)
}

// MarkNotificationRead marks one notification read, recording when.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, read_at = ? WHERE id = ? AND user_id = ?`,
		fmtTime(time.Now().UTC()), id, userID)
	if err != nil {
		return fmt.Errorf("store: mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateNotificationPayload rewrites the structured payload.
func (s *Store) UpdateNotificationPayload(ctx context.Context, userID, id int64, payload string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET payload = ? WHERE id = ? AND user_id = ?`,
		payload, id, userID)
	if err != nil {
		return fmt.Errorf("store: update notification payload: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UnreadNotifications lists unread notifications newest first.
func (s *Store) UnreadNotifications(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, title, message, payload, is_read, read_at, created_at
		FROM notifications WHERE user_id = ? AND is_read = 0
		ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: unread notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var isRead int
		var readAt sql.NullString
		var created string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Category, &n.Title, &n.Message,
			&n.Payload, &isRead, &readAt, &created); err != nil {
			return nil, err
		}
		n.IsRead = isRead != 0
		n.ReadAt = parseTimePtr(readAt)
		n.CreatedAt, _ = parseTime(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row *sql.Row) (*Notification, error) {
	var n Notification
	var isRead int
	var readAt sql.NullString
	var created string
	err := row.Scan(&n.ID, &n.UserID, &n.Category, &n.Title, &n.Message,
		&n.Payload, &isRead, &readAt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan notification: %w", err)
	}
	n.IsRead = isRead != 0
	n.ReadAt = parseTimePtr(readAt)
	n.CreatedAt, _ = parseTime(created)
	return &n, nil
}
