package store

import (
	"context"
	"fmt"
	"time"
)

// Message is one conversation record.
type Message struct {
	ID         int64
	UserID     int64
	Role       string
	Content    string
	ImageRef   string
	Specialist string
	Model      string
	TokensIn   int
	TokensOut  int
	CreatedAt  time.Time
}

// AddMessage persists a message and returns its id.
func (s *Store) AddMessage(ctx context.Context, m *Message) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (user_id, role, content, image_ref, specialist, model, tokens_in, tokens_out, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UserID, m.Role, m.Content, m.ImageRef, m.Specialist, m.Model, m.TokensIn, m.TokensOut, fmtTime(m.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

// RecentMessages returns the newest limit messages for the user in
// chronological order.
func (s *Store) RecentMessages(ctx context.Context, userID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role, content, image_ref, specialist, model, tokens_in, tokens_out, created_at
		FROM messages WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var created string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.ImageRef,
			&m.Specialist, &m.Model, &m.TokensIn, &m.TokensOut, &created); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = parseTime(created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
