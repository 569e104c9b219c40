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

// User is an account row. All domain rows are exclusively owned by exactly
// one user.
type User struct {
	ID                  int64
	Username            string
	DisplayName         string
	Role                string
	TokenVersion        int
	ForcePasswordChange bool
	CreatedAt           time.Time
}

// UserSettings is the 1:1 settings row for a user.
type UserSettings struct {
	UserID            int64
	ProviderID        string
	EncryptedAPIKey   string
	ReasoningModel    string
	UtilityModel      string
	DeepThinkingModel string

	Age          int
	Sex          string
	HeightCm     float64
	WeightKg     float64
	GoalWeightKg float64

	HeightUnit    string
	WeightUnit    string
	HydrationUnit string
	Timezone      string

	MedicalConditions  []string
	DietaryPreferences []string
	HealthGoals        []string
	FamilyHistory      []string

	// MedicationsJSON and SupplementsJSON hold the canonical
	// [{name,dose,timing}] arrays; writes go through structured.Canonicalize.
	MedicationsJSON string
	SupplementsJSON string

	// SpecialistOverrides maps category -> specialist id.
	SpecialistOverrides map[string]string

	UsageResetAt      *time.Time
	IntakeCompletedAt *time.Time
	IntakeSkippedAt   *time.Time
	UpdatedAt         time.Time
}

// CreateUser inserts a user with case-folded username and an empty settings
// row.
func (s *Store) CreateUser(ctx context.Context, username, displayName string) (*User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, errors.New("store: username is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, display_name, role, created_at) VALUES (?, ?, 'user', ?)`,
		username, displayName, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, updated_at) VALUES (?, ?)`,
		id, fmtTime(now)); err != nil {
		return nil, fmt.Errorf("store: create settings: %w", err)
	}
	return &User{ID: id, Username: username, DisplayName: displayName, Role: "user", CreatedAt: now}, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, role, token_version, force_password_change, created_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByUsername fetches a user by case-folded username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, role, token_version, force_password_change, created_at
		 FROM users WHERE username = ?`, strings.ToLower(strings.TrimSpace(username)))
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var created string
	var force int
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.TokenVersion, &force, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan user: %w", err)
	}
	u.ForcePasswordChange = force != 0
	u.CreatedAt, _ = parseTime(created)
	return &u, nil
}

// ListUsers returns every account ordered by id. The analysis catch-up
// sweep iterates this.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, display_name, role, token_version, force_password_change, created_at
		 FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var created string
		var force int
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role,
			&u.TokenVersion, &force, &created); err != nil {
			return nil, err
		}
		u.ForcePasswordChange = force != 0
		u.CreatedAt, _ = parseTime(created)
		out = append(out, u)
	}
	return out, rows.Err()
}

// BumpTokenVersion increments the user's token version, invalidating all
// outstanding sessions.
func (s *Store) BumpTokenVersion(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET token_version = token_version + 1 WHERE id = ?`, userID)
	return err
}

// GetSettings fetches the settings row for a user.
func (s *Store) GetSettings(ctx context.Context, userID int64) (*UserSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, provider_id, encrypted_api_key, reasoning_model, utility_model,
		       deep_thinking_model, age, sex, height_cm, weight_kg, goal_weight_kg,
		       height_unit, weight_unit, hydration_unit, timezone,
		       medical_conditions, dietary_preferences, health_goals, family_history,
		       medications, supplements, specialist_overrides,
		       usage_reset_at, intake_completed_at, intake_skipped_at, updated_at
		FROM user_settings WHERE user_id = ?`, userID)

	var st UserSettings
	var conditions, dietary, goals, family, overrides string
	var usageReset, intakeDone, intakeSkip sql.NullString
	var updated string
	err := row.Scan(&st.UserID, &st.ProviderID, &st.EncryptedAPIKey, &st.ReasoningModel,
		&st.UtilityModel, &st.DeepThinkingModel, &st.Age, &st.Sex, &st.HeightCm,
		&st.WeightKg, &st.GoalWeightKg, &st.HeightUnit, &st.WeightUnit, &st.HydrationUnit,
		&st.Timezone, &conditions, &dietary, &goals, &family,
		&st.MedicationsJSON, &st.SupplementsJSON, &overrides,
		&usageReset, &intakeDone, &intakeSkip, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan settings: %w", err)
	}

	st.MedicalConditions = parseStringList(conditions)
	st.DietaryPreferences = parseStringList(dietary)
	st.HealthGoals = parseStringList(goals)
	st.FamilyHistory = parseStringList(family)
	st.SpecialistOverrides = parseStringMap(overrides)
	st.UsageResetAt = parseTimePtr(usageReset)
	st.IntakeCompletedAt = parseTimePtr(intakeDone)
	st.IntakeSkippedAt = parseTimePtr(intakeSkip)
	st.UpdatedAt, _ = parseTime(updated)
	return &st, nil
}

// SaveSettings writes the full settings row and refreshes updated_at.
func (s *Store) SaveSettings(ctx context.Context, st *UserSettings) error {
	st.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_settings SET
			provider_id = ?, encrypted_api_key = ?, reasoning_model = ?, utility_model = ?,
			deep_thinking_model = ?, age = ?, sex = ?, height_cm = ?, weight_kg = ?,
			goal_weight_kg = ?, height_unit = ?, weight_unit = ?, hydration_unit = ?,
			timezone = ?, medical_conditions = ?, dietary_preferences = ?, health_goals = ?,
			family_history = ?, medications = ?, supplements = ?, specialist_overrides = ?,
			usage_reset_at = ?, intake_completed_at = ?, intake_skipped_at = ?, updated_at = ?
		WHERE user_id = ?`,
		st.ProviderID, st.EncryptedAPIKey, st.ReasoningModel, st.UtilityModel,
		st.DeepThinkingModel, st.Age, st.Sex, st.HeightCm, st.WeightKg,
		st.GoalWeightKg, st.HeightUnit, st.WeightUnit, st.HydrationUnit,
		st.Timezone, marshalStringList(st.MedicalConditions), marshalStringList(st.DietaryPreferences),
		marshalStringList(st.HealthGoals), marshalStringList(st.FamilyHistory),
		orEmptyArray(st.MedicationsJSON), orEmptyArray(st.SupplementsJSON),
		marshalStringMap(st.SpecialistOverrides),
		fmtTimePtr(st.UsageResetAt), fmtTimePtr(st.IntakeCompletedAt), fmtTimePtr(st.IntakeSkippedAt),
		fmtTime(st.UpdatedAt), st.UserID)
	if err != nil {
		return fmt.Errorf("store: save settings: %w", err)
	}
	return nil
}

// ResetUser deletes every domain row owned by the user except the account
// and settings rows, and bumps the token version so existing sessions drop.
func (s *Store) ResetUser(ctx context.Context, userID int64) error {
	tables := []string{
		"messages", "food_logs", "hydration_logs", "vitals_logs", "exercise_logs",
		"supplement_logs", "fasting_logs", "sleep_logs", "meal_response_signals",
		"meal_templates", "daily_checklist_items", "notifications",
		"analysis_proposals", "analysis_runs", "health_frameworks", "goals",
		"plan_tasks", "exercise_plans", "feedback_entries",
		"ai_turn_telemetry", "request_telemetry_events",
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
				return fmt.Errorf("store: reset %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET token_version = token_version + 1 WHERE id = ?`, userID); err != nil {
			return err
		}
		return nil
	})
}

func parseStringList(raw string) []string {
	var out []string
	if json.Unmarshal([]byte(raw), &out) != nil {
		return []string{}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func marshalStringList(list []string) string {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func parseStringMap(raw string) map[string]string {
	out := map[string]string{}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func marshalStringMap(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func orEmptyArray(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "[]"
	}
	return raw
}
