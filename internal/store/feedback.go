package store

import (
	"context"
	"fmt"
	"time"
)

// FeedbackEntry is one captured piece of product feedback volunteered in
// chat.
type FeedbackEntry struct {
	ID         int64
	UserID     int64
	Kind       string // bug, request, praise
	Title      string
	Detail     string
	Specialist string
	CreatedAt  time.Time
}

// AddFeedback persists a feedback entry.
func (s *Store) AddFeedback(ctx context.Context, f *FeedbackEntry) (int64, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_entries (user_id, kind, title, detail, specialist, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.UserID, f.Kind, f.Title, f.Detail, f.Specialist, fmtTime(f.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add feedback: %w", err)
	}
	f.ID, err = res.LastInsertId()
	return f.ID, err
}

// HasRecentFeedback reports whether an entry of the same kind and title was
// recorded after cutoff, used to suppress duplicate captures within a turn
// burst.
func (s *Store) HasRecentFeedback(ctx context.Context, userID int64, kind, title string, cutoff time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM feedback_entries
		WHERE user_id = ? AND kind = ? AND title = ? AND created_at >= ?`,
		userID, kind, title, fmtTime(cutoff)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: recent feedback: %w", err)
	}
	return n > 0, nil
}
