package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MealTemplate is a reusable named meal with per-base-serving macros.
type MealTemplate struct {
	ID           int64
	UserID       int64
	Name         string
	Aliases      []string
	Ingredients  string // canonical items JSON
	BaseServings float64
	Calories     float64
	ProteinG     float64
	CarbsG       float64
	FatG         float64
	SodiumMg     float64
	IsArchived   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MealResponseSignal links post-meal wellbeing feedback to a template and,
// when known, the triggering food log.
type MealResponseSignal struct {
	ID          int64
	UserID      int64
	TemplateID  *int64
	FoodLogID   *int64
	EnergyLevel string
	GIComfort   string
	Notes       string
	SignalAt    time.Time
}

// CreateMealTemplate inserts a template and records version 1.
func (s *Store) CreateMealTemplate(ctx context.Context, t *MealTemplate) (int64, error) {
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.BaseServings <= 0 {
		t.BaseServings = 1
	}
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO meal_templates (user_id, name, aliases, ingredients, base_servings,
				calories, protein_g, carbs_g, fat_g, sodium_mg, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.UserID, t.Name, marshalStringList(t.Aliases), orEmptyArray(t.Ingredients),
			t.BaseServings, t.Calories, t.ProteinG, t.CarbsG, t.FatG, t.SodiumMg,
			fmtTime(now), fmtTime(now))
		if err != nil {
			return fmt.Errorf("store: create meal template: %w", err)
		}
		t.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		return insertTemplateVersion(ctx, tx, t, 1)
	})
	return t.ID, err
}

// UpdateMealTemplate rewrites a template and appends the next version row.
func (s *Store) UpdateMealTemplate(ctx context.Context, t *MealTemplate) error {
	t.UpdatedAt = time.Now().UTC()
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE meal_templates SET name = ?, aliases = ?, ingredients = ?, base_servings = ?,
				calories = ?, protein_g = ?, carbs_g = ?, fat_g = ?, sodium_mg = ?,
				is_archived = ?, updated_at = ?
			WHERE id = ? AND user_id = ?`,
			t.Name, marshalStringList(t.Aliases), orEmptyArray(t.Ingredients), t.BaseServings,
			t.Calories, t.ProteinG, t.CarbsG, t.FatG, t.SodiumMg,
			boolInt(t.IsArchived), fmtTime(t.UpdatedAt), t.ID, t.UserID)
		if err != nil {
			return fmt.Errorf("store: update meal template: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		var latest sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(version) FROM meal_template_versions WHERE template_id = ?`, t.ID).Scan(&latest); err != nil {
			return err
		}
		return insertTemplateVersion(ctx, tx, t, int(latest.Int64)+1)
	})
}

func insertTemplateVersion(ctx context.Context, tx *sql.Tx, t *MealTemplate, version int) error {
	payload, err := json.Marshal(map[string]any{
		"name":          t.Name,
		"aliases":       t.Aliases,
		"ingredients":   json.RawMessage(orEmptyArray(t.Ingredients)),
		"base_servings": t.BaseServings,
		"calories":      t.Calories,
		"protein_g":     t.ProteinG,
		"carbs_g":       t.CarbsG,
		"fat_g":         t.FatG,
		"sodium_mg":     t.SodiumMg,
	})
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO meal_template_versions (template_id, version, payload, created_at)
		VALUES (?, ?, ?, ?)`, t.ID, version, string(payload), fmtTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("store: insert template version: %w", err)
	}
	return nil
}

// ArchiveMealTemplate hides a template from resolution without losing the
// food logs that reference it.
func (s *Store) ArchiveMealTemplate(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE meal_templates SET is_archived = 1, updated_at = ? WHERE id = ? AND user_id = ?`,
		fmtTime(time.Now().UTC()), id, userID)
	if err != nil {
		return fmt.Errorf("store: archive meal template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMealTemplate removes a template and its versions. Food logs keep
// their rows with meal_template_id nulled by the FK.
func (s *Store) DeleteMealTemplate(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM meal_templates WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("store: delete meal template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TemplateVersion is one archived snapshot of a template.
type TemplateVersion struct {
	ID          int64
	TemplateID  int64
	Version     int
	PayloadJSON string
	CreatedAt   time.Time
}

// ListTemplateVersions returns a template's version history, oldest first,
// scoped to the owning user.
func (s *Store) ListTemplateVersions(ctx context.Context, userID, templateID int64) ([]TemplateVersion, error) {
	if _, err := s.GetMealTemplate(ctx, userID, templateID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, version, payload, created_at
		FROM meal_template_versions WHERE template_id = ? ORDER BY version`, templateID)
	if err != nil {
		return nil, fmt.Errorf("store: list template versions: %w", err)
	}
	defer rows.Close()

	var out []TemplateVersion
	for rows.Next() {
		var v TemplateVersion
		var created string
		if err := rows.Scan(&v.ID, &v.TemplateID, &v.Version, &v.PayloadJSON, &created); err != nil {
			return nil, err
		}
		v.CreatedAt, _ = parseTime(created)
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetMealTemplate fetches one template scoped to the user.
func (s *Store) GetMealTemplate(ctx context.Context, userID, id int64) (*MealTemplate, error) {
	row := s.db.QueryRowContext(ctx, selectTemplate+` WHERE id = ? AND user_id = ?`, id, userID)
	return scanTemplate(row)
}

// ResolveMealTemplate matches a spoken meal name against template names and
// aliases, case-insensitively, skipping archived rows. Exact name match wins
// over alias match.
func (s *Store) ResolveMealTemplate(ctx context.Context, userID int64, name string) (*MealTemplate, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, ErrNotFound
	}
	templates, err := s.ListMealTemplates(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	var aliasHit *MealTemplate
	for i := range templates {
		t := &templates[i]
		if strings.ToLower(t.Name) == name {
			return t, nil
		}
		if aliasHit == nil {
			for _, a := range t.Aliases {
				if strings.ToLower(strings.TrimSpace(a)) == name {
					aliasHit = t
					break
				}
			}
		}
	}
	if aliasHit != nil {
		return aliasHit, nil
	}
	return nil, ErrNotFound
}

// ListMealTemplates returns the user's templates, optionally including
// archived rows.
func (s *Store) ListMealTemplates(ctx context.Context, userID int64, includeArchived bool) ([]MealTemplate, error) {
	q := selectTemplate + ` WHERE user_id = ?`
	if !includeArchived {
		q += ` AND is_archived = 0`
	}
	q += ` ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list meal templates: %w", err)
	}
	defer rows.Close()

	var out []MealTemplate
	for rows.Next() {
		t, err := scanTemplateRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const selectTemplate = `
	SELECT id, user_id, name, aliases, ingredients, base_servings,
	       calories, protein_g, carbs_g, fat_g, sodium_mg, is_archived, created_at, updated_at
	FROM meal_templates`

func scanTemplate(row *sql.Row) (*MealTemplate, error) {
	var t MealTemplate
	var aliases string
	var archived int
	var created, updated string
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &aliases, &t.Ingredients, &t.BaseServings,
		&t.Calories, &t.ProteinG, &t.CarbsG, &t.FatG, &t.SodiumMg, &archived, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan meal template: %w", err)
	}
	t.Aliases = parseStringList(aliases)
	t.IsArchived = archived != 0
	t.CreatedAt, _ = parseTime(created)
	t.UpdatedAt, _ = parseTime(updated)
	return &t, nil
}

func scanTemplateRows(rows *sql.Rows) (*MealTemplate, error) {
	var t MealTemplate
	var aliases string
	var archived int
	var created, updated string
	if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &aliases, &t.Ingredients, &t.BaseServings,
		&t.Calories, &t.ProteinG, &t.CarbsG, &t.FatG, &t.SodiumMg, &archived, &created, &updated); err != nil {
		return nil, err
	}
	t.Aliases = parseStringList(aliases)
	t.IsArchived = archived != 0
	t.CreatedAt, _ = parseTime(created)
	t.UpdatedAt, _ = parseTime(updated)
	return &t, nil
}

// AddMealResponseSignal records post-meal feedback.
func (s *Store) AddMealResponseSignal(ctx context.Context, sig *MealResponseSignal) (int64, error) {
	if sig.SignalAt.IsZero() {
		sig.SignalAt = time.Now().UTC()
	}
	var templateID, foodLogID any
	if sig.TemplateID != nil {
		templateID = *sig.TemplateID
	}
	if sig.FoodLogID != nil {
		foodLogID = *sig.FoodLogID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO meal_response_signals (user_id, template_id, food_log_id, energy_level, gi_comfort, notes, signal_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sig.UserID, templateID, foodLogID, sig.EnergyLevel, sig.GIComfort, sig.Notes, fmtTime(sig.SignalAt))
	if err != nil {
		return 0, fmt.Errorf("store: add meal response signal: %w", err)
	}
	sig.ID, err = res.LastInsertId()
	return sig.ID, err
}

// ResponseSignalsForTemplate returns signals recorded against a template in
// chronological order.
func (s *Store) ResponseSignalsForTemplate(ctx context.Context, userID, templateID int64) ([]MealResponseSignal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, template_id, food_log_id, energy_level, gi_comfort, notes, signal_at
		FROM meal_response_signals WHERE user_id = ? AND template_id = ?
		ORDER BY signal_at`, userID, templateID)
	if err != nil {
		return nil, fmt.Errorf("store: response signals: %w", err)
	}
	defer rows.Close()

	var out []MealResponseSignal
	for rows.Next() {
		var sig MealResponseSignal
		var tmpl, food sql.NullInt64
		var at string
		if err := rows.Scan(&sig.ID, &sig.UserID, &tmpl, &food,
			&sig.EnergyLevel, &sig.GIComfort, &sig.Notes, &at); err != nil {
			return nil, err
		}
		if tmpl.Valid {
			sig.TemplateID = &tmpl.Int64
		}
		if food.Valid {
			sig.FoodLogID = &food.Int64
		}
		sig.SignalAt, _ = parseTime(at)
		out = append(out, sig)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
