package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Analysis run and proposal states.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"

	ProposalPending  = "pending"
	ProposalApproved = "approved"
	ProposalRejected = "rejected"
	ProposalApplied  = "applied"
	ProposalExpired  = "expired"
)

// AnalysisRun is one longitudinal analysis over a window. The
// (user, run_type, period) unique index makes reruns idempotent.
type AnalysisRun struct {
	ID              int64
	UserID          int64
	RunType         string // daily, weekly, monthly
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Status          string
	TriggerSource   string
	MetricsJSON     string
	MissingData     []string
	RiskFlags       []string
	SynthesisJSON   string
	SummaryMarkdown string
	ModelsUsedJSON  string
	Confidence      float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AnalysisProposal is one suggested change produced by a run.
type AnalysisProposal struct {
	ID           int64
	RunID        int64
	UserID       int64
	ProposalKind string
	Status       string
	Title        string
	PayloadJSON  string
	MergeTrace   []string
	MergedCount  int
	ReviewerID   *int64
	ReviewNote   string
	ReviewedAt   *time.Time
	CreatedAt    time.Time
}

// BeginAnalysisRun claims the (user, type, period) slot. If a run for the
// slot already exists it is returned with created=false, so concurrent
// dispatchers never double-run a window.
func (s *Store) BeginAnalysisRun(ctx context.Context, run *AnalysisRun) (*AnalysisRun, bool, error) {
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_runs (user_id, run_type, period_start, period_end, status, trigger_source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, run_type, period_start, period_end) DO NOTHING`,
		run.UserID, run.RunType, fmtTime(run.PeriodStart), fmtTime(run.PeriodEnd),
		run.Status, run.TriggerSource, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("store: begin analysis run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.GetAnalysisRunByPeriod(ctx, run.UserID, run.RunType, run.PeriodStart, run.PeriodEnd)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	run.ID, err = res.LastInsertId()
	if err != nil {
		return nil, false, err
	}
	return run, true, nil
}

// CompleteAnalysisRun writes the run's results and final status.
func (s *Store) CompleteAnalysisRun(ctx context.Context, run *AnalysisRun) error {
	run.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET status = ?, metrics = ?, missing_data = ?, risk_flags = ?,
			synthesis = ?, summary_markdown = ?, models_used = ?, confidence = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		run.Status, orEmptyObject(run.MetricsJSON), marshalStringList(run.MissingData),
		marshalStringList(run.RiskFlags), orEmptyObject(run.SynthesisJSON),
		run.SummaryMarkdown, orEmptyObject(run.ModelsUsedJSON), run.Confidence,
		fmtTime(run.UpdatedAt), run.ID, run.UserID)
	if err != nil {
		return fmt.Errorf("store: complete analysis run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAnalysisRunByPeriod fetches the run occupying a (type, period) slot.
func (s *Store) GetAnalysisRunByPeriod(ctx context.Context, userID int64, runType string, start, end time.Time) (*AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx, selectRun+`
		WHERE user_id = ? AND run_type = ? AND period_start = ? AND period_end = ?`,
		userID, runType, fmtTime(start), fmtTime(end))
	return scanRun(row)
}

// LatestAnalysisRun returns the newest completed run of the type.
func (s *Store) LatestAnalysisRun(ctx context.Context, userID int64, runType string) (*AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx, selectRun+`
		WHERE user_id = ? AND run_type = ? AND status = ?
		ORDER BY period_end DESC, id DESC LIMIT 1`, userID, runType, RunStatusCompleted)
	return scanRun(row)
}

// StaleRunningRuns returns runs stuck in the running state longer than
// maxAge, for crash recovery on startup.
func (s *Store) StaleRunningRuns(ctx context.Context, maxAge time.Duration) ([]AnalysisRun, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	rows, err := s.db.QueryContext(ctx, selectRun+`
		WHERE status = ? AND created_at < ? ORDER BY created_at`, RunStatusRunning, fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("store: stale runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

const selectRun = `
	SELECT id, user_id, run_type, period_start, period_end, status, trigger_source,
	       metrics, missing_data, risk_flags, synthesis, summary_markdown, models_used,
	       confidence, created_at, updated_at
	FROM analysis_runs`

func scanRun(row *sql.Row) (*AnalysisRun, error) {
	var r AnalysisRun
	var start, end, missing, flags, created, updated string
	err := row.Scan(&r.ID, &r.UserID, &r.RunType, &start, &end, &r.Status, &r.TriggerSource,
		&r.MetricsJSON, &missing, &flags, &r.SynthesisJSON, &r.SummaryMarkdown,
		&r.ModelsUsedJSON, &r.Confidence, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan analysis run: %w", err)
	}
	r.PeriodStart, _ = parseTime(start)
	r.PeriodEnd, _ = parseTime(end)
	r.MissingData = parseStringList(missing)
	r.RiskFlags = parseStringList(flags)
	r.CreatedAt, _ = parseTime(created)
	r.UpdatedAt, _ = parseTime(updated)
	return &r, nil
}

func collectRuns(rows *sql.Rows) ([]AnalysisRun, error) {
	var out []AnalysisRun
	for rows.Next() {
		var r AnalysisRun
		var start, end, missing, flags, created, updated string
		if err := rows.Scan(&r.ID, &r.UserID, &r.RunType, &start, &end, &r.Status, &r.TriggerSource,
			&r.MetricsJSON, &missing, &flags, &r.SynthesisJSON, &r.SummaryMarkdown,
			&r.ModelsUsedJSON, &r.Confidence, &created, &updated); err != nil {
			return nil, err
		}
		r.PeriodStart, _ = parseTime(start)
		r.PeriodEnd, _ = parseTime(end)
		r.MissingData = parseStringList(missing)
		r.RiskFlags = parseStringList(flags)
		r.CreatedAt, _ = parseTime(created)
		r.UpdatedAt, _ = parseTime(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddProposal persists a proposal in the pending state unless a status is
// already set.
func (s *Store) AddProposal(ctx context.Context, p *AnalysisProposal) (int64, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = ProposalPending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_proposals (run_id, user_id, proposal_kind, status, title, payload, merge_trace, merged_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RunID, p.UserID, p.ProposalKind, p.Status, p.Title,
		orEmptyObject(p.PayloadJSON), marshalStringList(p.MergeTrace), p.MergedCount,
		fmtTime(p.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add proposal: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return p.ID, err
}

// GetProposal fetches one proposal scoped to the user.
func (s *Store) GetProposal(ctx context.Context, userID, id int64) (*AnalysisProposal, error) {
	row := s.db.QueryRowContext(ctx, selectProposal+` WHERE id = ? AND user_id = ?`, id, userID)
	return scanProposal(row)
}

// PendingProposals returns proposals awaiting review, oldest first.
func (s *Store) PendingProposals(ctx context.Context, userID int64) ([]AnalysisProposal, error) {
	rows, err := s.db.QueryContext(ctx, selectProposal+`
		WHERE user_id = ? AND status = ? ORDER BY created_at, id`, userID, ProposalPending)
	if err != nil {
		return nil, fmt.Errorf("store: pending proposals: %w", err)
	}
	defer rows.Close()
	return collectProposals(rows)
}

// ApprovedProposals returns approved or applied proposals newest first,
// bounded by limit. These feed the adaptive-guidance context block.
func (s *Store) ApprovedProposals(ctx context.Context, userID int64, limit int) ([]AnalysisProposal, error) {
	if limit <= 0 {
		limit = 6
	}
	rows, err := s.db.QueryContext(ctx, selectProposal+`
		WHERE user_id = ? AND status IN (?, ?)
		ORDER BY reviewed_at DESC, id DESC LIMIT ?`,
		userID, ProposalApproved, ProposalApplied, limit)
	if err != nil {
		return nil, fmt.Errorf("store: approved proposals: %w", err)
	}
	defer rows.Close()
	return collectProposals(rows)
}

// UpdateProposalStatus moves a proposal through its lifecycle, recording the
// reviewer for terminal review states.
func (s *Store) UpdateProposalStatus(ctx context.Context, userID, id int64, status string, reviewerID *int64, note string) error {
	var reviewer any
	if reviewerID != nil {
		reviewer = *reviewerID
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_proposals SET status = ?, reviewer_id = ?, review_note = ?, reviewed_at = ?
		WHERE id = ? AND user_id = ?`,
		status, reviewer, note, fmtTime(time.Now().UTC()), id, userID)
	if err != nil {
		return fmt.Errorf("store: update proposal status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeProposal folds a new candidate into an existing proposal, growing the
// merge trace and count.
func (s *Store) MergeProposal(ctx context.Context, userID, id int64, candidateTitle string) error {
	p, err := s.GetProposal(ctx, userID, id)
	if err != nil {
		return err
	}
	p.MergeTrace = append(p.MergeTrace, candidateTitle)
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_proposals SET merge_trace = ?, merged_count = merged_count + 1
		WHERE id = ? AND user_id = ?`,
		marshalStringList(p.MergeTrace), id, userID)
	if err != nil {
		return fmt.Errorf("store: merge proposal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireProposals marks pending proposals older than cutoff as expired and
// returns how many rows changed.
func (s *Store) ExpireProposals(ctx context.Context, userID int64, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_proposals SET status = ?
		WHERE user_id = ? AND status = ? AND created_at < ?`,
		ProposalExpired, userID, ProposalPending, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: expire proposals: %w", err)
	}
	return res.RowsAffected()
}

const selectProposal = `
	SELECT id, run_id, user_id, proposal_kind, status, title, payload, merge_trace,
	       merged_count, reviewer_id, review_note, reviewed_at, created_at
	FROM analysis_proposals`

func scanProposal(row *sql.Row) (*AnalysisProposal, error) {
	var p AnalysisProposal
	var trace, created string
	var reviewer sql.NullInt64
	var reviewed sql.NullString
	err := row.Scan(&p.ID, &p.RunID, &p.UserID, &p.ProposalKind, &p.Status, &p.Title,
		&p.PayloadJSON, &trace, &p.MergedCount, &reviewer, &p.ReviewNote, &reviewed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan proposal: %w", err)
	}
	p.MergeTrace = parseStringList(trace)
	if reviewer.Valid {
		p.ReviewerID = &reviewer.Int64
	}
	p.ReviewedAt = parseTimePtr(reviewed)
	p.CreatedAt, _ = parseTime(created)
	return &p, nil
}

func collectProposals(rows *sql.Rows) ([]AnalysisProposal, error) {
	var out []AnalysisProposal
	for rows.Next() {
		var p AnalysisProposal
		var trace, created string
		var reviewer sql.NullInt64
		var reviewed sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.UserID, &p.ProposalKind, &p.Status, &p.Title,
			&p.PayloadJSON, &trace, &p.MergedCount, &reviewer, &p.ReviewNote, &reviewed, &created); err != nil {
			return nil, err
		}
		p.MergeTrace = parseStringList(trace)
		if reviewer.Valid {
			p.ReviewerID = &reviewer.Int64
		}
		p.ReviewedAt = parseTimePtr(reviewed)
		p.CreatedAt, _ = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

func orEmptyObject(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "{}"
	}
	return raw
}
