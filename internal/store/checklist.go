package store

import (
	"context"
	"fmt"
	"time"
)

// ChecklistItem is one per-day tracked item. Rows are keyed by
// (user, date, type, name), so marking the same item twice is a no-op.
type ChecklistItem struct {
	ID         int64
	UserID     int64
	TargetDate string // YYYY-MM-DD in the user's local zone
	ItemType   string
	ItemName   string
	Completed  bool
	UpdatedAt  time.Time
}

// UpsertChecklistItem creates or updates the item for the day. Re-marking
// a completed item leaves it completed.
func (s *Store) UpsertChecklistItem(ctx context.Context, item *ChecklistItem) error {
	item.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_checklist_items (user_id, target_date, item_type, item_name, completed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, target_date, item_type, item_name)
		DO UPDATE SET completed = MAX(completed, excluded.completed), updated_at = excluded.updated_at`,
		item.UserID, item.TargetDate, item.ItemType, item.ItemName,
		boolInt(item.Completed), fmtTime(item.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert checklist item: %w", err)
	}
	return nil
}

// ChecklistCompletionBetween counts completed items of a type across an
// inclusive local-date range. Feeds adherence metrics.
func (s *Store) ChecklistCompletionBetween(ctx context.Context, userID int64, itemType, fromDate, toDate string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM daily_checklist_items
		WHERE user_id = ? AND item_type = ? AND completed = 1
		  AND target_date >= ? AND target_date <= ?`,
		userID, itemType, fromDate, toDate)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: checklist completion: %w", err)
	}
	return n, nil
}

// ChecklistForDate returns the day's items in name order.
func (s *Store) ChecklistForDate(ctx context.Context, userID int64, date string) ([]ChecklistItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, target_date, item_type, item_name, completed, updated_at
		FROM daily_checklist_items WHERE user_id = ? AND target_date = ?
		ORDER BY item_type, item_name`, userID, date)
	if err != nil {
		return nil, fmt.Errorf("store: checklist for date: %w", err)
	}
	defer rows.Close()

	var out []ChecklistItem
	for rows.Next() {
		var it ChecklistItem
		var completed int
		var updated string
		if err := rows.Scan(&it.ID, &it.UserID, &it.TargetDate, &it.ItemType,
			&it.ItemName, &completed, &updated); err != nil {
			return nil, err
		}
		it.Completed = completed != 0
		it.UpdatedAt, _ = parseTime(updated)
		out = append(out, it)
	}
	return out, rows.Err()
}
