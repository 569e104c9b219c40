package store

import (
	"context"
	"fmt"
	"time"
)

// AITurnTelemetry is one turn's model accounting: call counts and tokens per
// tier, first-token latency, total wall time, and any tolerated failures.
type AITurnTelemetry struct {
	ID                 int64
	UserID             int64
	Category           string
	Specialist         string
	UtilityCalls       int
	ReasoningCalls     int
	DeepCalls          int
	TokensUtilityIn    int
	TokensUtilityOut   int
	TokensReasoningIn  int
	TokensReasoningOut int
	TokensDeepIn       int
	TokensDeepOut      int
	FirstTokenMs       int64
	TotalMs            int64
	Failures           []string
	CreatedAt          time.Time
}

// RequestTelemetryEvent is one coarse request timing record.
type RequestTelemetryEvent struct {
	ID         int64
	UserID     int64
	Kind       string
	DurationMs int64
	DetailJSON string
	CreatedAt  time.Time
}

// AddTurnTelemetry persists one turn's accounting row.
func (s *Store) AddTurnTelemetry(ctx context.Context, t *AITurnTelemetry) (int64, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_turn_telemetry (user_id, category, specialist,
			utility_calls, reasoning_calls, deep_calls,
			tokens_utility_in, tokens_utility_out,
			tokens_reasoning_in, tokens_reasoning_out,
			tokens_deep_in, tokens_deep_out,
			first_token_ms, total_ms, failures, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.Category, t.Specialist,
		t.UtilityCalls, t.ReasoningCalls, t.DeepCalls,
		t.TokensUtilityIn, t.TokensUtilityOut,
		t.TokensReasoningIn, t.TokensReasoningOut,
		t.TokensDeepIn, t.TokensDeepOut,
		t.FirstTokenMs, t.TotalMs, marshalStringList(t.Failures), fmtTime(t.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add turn telemetry: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return t.ID, err
}

// AddRequestEvent persists one request timing event.
func (s *Store) AddRequestEvent(ctx context.Context, e *RequestTelemetryEvent) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO request_telemetry_events (user_id, kind, duration_ms, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.Kind, e.DurationMs, orEmptyObject(e.DetailJSON), fmtTime(e.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add request event: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return e.ID, err
}

// TurnTelemetrySince returns turn rows created at or after the cutoff in
// chronological order.
func (s *Store) TurnTelemetrySince(ctx context.Context, userID int64, since time.Time) ([]AITurnTelemetry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, specialist,
		       utility_calls, reasoning_calls, deep_calls,
		       tokens_utility_in, tokens_utility_out,
		       tokens_reasoning_in, tokens_reasoning_out,
		       tokens_deep_in, tokens_deep_out,
		       first_token_ms, total_ms, failures, created_at
		FROM ai_turn_telemetry WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at, id`, userID, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("store: turn telemetry since: %w", err)
	}
	defer rows.Close()

	var out []AITurnTelemetry
	for rows.Next() {
		var t AITurnTelemetry
		var failures, created string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Category, &t.Specialist,
			&t.UtilityCalls, &t.ReasoningCalls, &t.DeepCalls,
			&t.TokensUtilityIn, &t.TokensUtilityOut,
			&t.TokensReasoningIn, &t.TokensReasoningOut,
			&t.TokensDeepIn, &t.TokensDeepOut,
			&t.FirstTokenMs, &t.TotalMs, &failures, &created); err != nil {
			return nil, err
		}
		t.Failures = parseStringList(failures)
		t.CreatedAt, _ = parseTime(created)
		out = append(out, t)
	}
	return out, rows.Err()
}
