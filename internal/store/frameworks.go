package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HealthFramework is an active guidance rule surfaced to specialists, e.g. a
// dietary approach or a monitoring directive.
type HealthFramework struct {
	ID            int64
	UserID        int64
	FrameworkType string
	Name          string
	Description   string
	Priority      int
	IsActive      bool
	UpdatedAt     time.Time
}

// Goal is a user-visible health goal.
type Goal struct {
	ID          int64
	UserID      int64
	Title       string
	Description string
	Status      string // active, completed, abandoned
	TargetDate  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ExercisePlan is a structured plan with its own task rows.
type ExercisePlan struct {
	ID        int64
	UserID    int64
	Name      string
	PlanJSON  string
	IsActive  bool
	UpdatedAt time.Time
}

// PlanTask is one actionable item inside a plan.
type PlanTask struct {
	ID        int64
	UserID    int64
	PlanID    *int64
	Title     string
	Status    string // pending, in_progress, done, skipped
	UpdatedAt time.Time
}

func (s *Store) AddFramework(ctx context.Context, f *HealthFramework) (int64, error) {
	f.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO health_frameworks (user_id, framework_type, name, description, priority, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.UserID, f.FrameworkType, f.Name, f.Description, f.Priority,
		boolInt(f.IsActive), fmtTime(f.UpdatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add framework: %w", err)
	}
	f.ID, err = res.LastInsertId()
	return f.ID, err
}

// ActiveFrameworks returns active frameworks, highest priority first.
func (s *Store) ActiveFrameworks(ctx context.Context, userID int64) ([]HealthFramework, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, framework_type, name, description, priority, is_active, updated_at
		FROM health_frameworks WHERE user_id = ? AND is_active = 1
		ORDER BY priority DESC, name`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: active frameworks: %w", err)
	}
	defer rows.Close()

	var out []HealthFramework
	for rows.Next() {
		var f HealthFramework
		var active int
		var updated string
		if err := rows.Scan(&f.ID, &f.UserID, &f.FrameworkType, &f.Name,
			&f.Description, &f.Priority, &active, &updated); err != nil {
			return nil, err
		}
		f.IsActive = active != 0
		f.UpdatedAt, _ = parseTime(updated)
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeactivateFramework retires a framework without deleting its history.
func (s *Store) DeactivateFramework(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE health_frameworks SET is_active = 0, updated_at = ? WHERE id = ? AND user_id = ?`,
		fmtTime(time.Now().UTC()), id, userID)
	if err != nil {
		return fmt.Errorf("store: deactivate framework: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AddGoal(ctx context.Context, g *Goal) (int64, error) {
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now
	if g.Status == "" {
		g.Status = "active"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (user_id, title, description, status, target_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.UserID, g.Title, g.Description, g.Status, fmtTimePtr(g.TargetDate),
		fmtTime(now), fmtTime(now))
	if err != nil {
		return 0, fmt.Errorf("store: add goal: %w", err)
	}
	g.ID, err = res.LastInsertId()
	return g.ID, err
}

// GetGoal fetches one goal scoped to the user.
func (s *Store) GetGoal(ctx context.Context, userID, id int64) (*Goal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, description, status, target_date, created_at, updated_at
		FROM goals WHERE id = ? AND user_id = ?`, id, userID)
	return scanGoal(row)
}

// UpdateGoal rewrites title, description, status, and target date.
func (s *Store) UpdateGoal(ctx context.Context, g *Goal) error {
	g.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE goals SET title = ?, description = ?, status = ?, target_date = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		g.Title, g.Description, g.Status, fmtTimePtr(g.TargetDate),
		fmtTime(g.UpdatedAt), g.ID, g.UserID)
	if err != nil {
		return fmt.Errorf("store: update goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GoalsByStatus returns goals in the status, newest first.
func (s *Store) GoalsByStatus(ctx context.Context, userID int64, status string) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, status, target_date, created_at, updated_at
		FROM goals WHERE user_id = ? AND status = ?
		ORDER BY created_at DESC, id DESC`, userID, status)
	if err != nil {
		return nil, fmt.Errorf("store: goals by status: %w", err)
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		var g Goal
		var target sql.NullString
		var created, updated string
		if err := rows.Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &g.Status,
			&target, &created, &updated); err != nil {
			return nil, err
		}
		g.TargetDate = parseTimePtr(target)
		g.CreatedAt, _ = parseTime(created)
		g.UpdatedAt, _ = parseTime(updated)
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGoal(row *sql.Row) (*Goal, error) {
	var g Goal
	var target sql.NullString
	var created, updated string
	err := row.Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &g.Status,
		&target, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan goal: %w", err)
	}
	g.TargetDate = parseTimePtr(target)
	g.CreatedAt, _ = parseTime(created)
	g.UpdatedAt, _ = parseTime(updated)
	return &g, nil
}

func (s *Store) AddExercisePlan(ctx context.Context, p *ExercisePlan) (int64, error) {
	p.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO exercise_plans (user_id, name, plan, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.UserID, p.Name, orEmptyObject(p.PlanJSON), boolInt(p.IsActive), fmtTime(p.UpdatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add exercise plan: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return p.ID, err
}

// DeactivateExercisePlans marks every plan inactive. Installing a new plan
// runs this first so at most one plan is active.
func (s *Store) DeactivateExercisePlans(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE exercise_plans SET is_active = 0, updated_at = ? WHERE user_id = ? AND is_active = 1`,
		fmtTime(time.Now().UTC()), userID)
	if err != nil {
		return fmt.Errorf("store: deactivate exercise plans: %w", err)
	}
	return nil
}

// ActiveExercisePlan returns the active plan, or ErrNotFound.
func (s *Store) ActiveExercisePlan(ctx context.Context, userID int64) (*ExercisePlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, plan, is_active, updated_at
		FROM exercise_plans WHERE user_id = ? AND is_active = 1
		ORDER BY updated_at DESC, id DESC LIMIT 1`, userID)
	var p ExercisePlan
	var active int
	var updated string
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.PlanJSON, &active, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan exercise plan: %w", err)
	}
	p.IsActive = active != 0
	p.UpdatedAt, _ = parseTime(updated)
	return &p, nil
}

func (s *Store) AddPlanTask(ctx context.Context, t *PlanTask) (int64, error) {
	t.UpdatedAt = time.Now().UTC()
	if t.Status == "" {
		t.Status = "pending"
	}
	var planID any
	if t.PlanID != nil {
		planID = *t.PlanID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_tasks (user_id, plan_id, title, status, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.UserID, planID, t.Title, t.Status, fmtTime(t.UpdatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add plan task: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return t.ID, err
}

// GetPlanTask fetches one task scoped to the user.
func (s *Store) GetPlanTask(ctx context.Context, userID, id int64) (*PlanTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, plan_id, title, status, updated_at
		FROM plan_tasks WHERE id = ? AND user_id = ?`, id, userID)
	var t PlanTask
	var plan sql.NullInt64
	var updated string
	err := row.Scan(&t.ID, &t.UserID, &plan, &t.Title, &t.Status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan plan task: %w", err)
	}
	if plan.Valid {
		t.PlanID = &plan.Int64
	}
	t.UpdatedAt, _ = parseTime(updated)
	return &t, nil
}

// UpdatePlanTaskStatus moves a task between states.
func (s *Store) UpdatePlanTaskStatus(ctx context.Context, userID, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plan_tasks SET status = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		status, fmtTime(time.Now().UTC()), id, userID)
	if err != nil {
		return fmt.Errorf("store: update plan task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PlanTasksForUser returns tasks, optionally filtered by plan.
func (s *Store) PlanTasksForUser(ctx context.Context, userID int64, planID *int64) ([]PlanTask, error) {
	q := `SELECT id, user_id, plan_id, title, status, updated_at FROM plan_tasks WHERE user_id = ?`
	args := []any{userID}
	if planID != nil {
		q += ` AND plan_id = ?`
		args = append(args, *planID)
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: plan tasks: %w", err)
	}
	defer rows.Close()

	var out []PlanTask
	for rows.Next() {
		var t PlanTask
		var plan sql.NullInt64
		var updated string
		if err := rows.Scan(&t.ID, &t.UserID, &plan, &t.Title, &t.Status, &updated); err != nil {
			return nil, err
		}
		if plan.Valid {
			t.PlanID = &plan.Int64
		}
		t.UpdatedAt, _ = parseTime(updated)
		out = append(out, t)
	}
	return out, rows.Err()
}
