package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FoodLog is one logged meal or snack.
type FoodLog struct {
	ID             int64
	UserID         int64
	ItemsJSON      string
	MealLabel      string
	Calories       float64
	ProteinG       float64
	CarbsG         float64
	FatG           float64
	SodiumMg       float64
	MealTemplateID *int64
	LoggedAt       time.Time
	CreatedAt      time.Time
}

// HydrationLog is one hydration event in milliliters.
type HydrationLog struct {
	ID       int64
	UserID   int64
	AmountML float64
	LoggedAt time.Time
}

// VitalsLog is one vitals reading; absent measurements stay nil.
type VitalsLog struct {
	ID          int64
	UserID      int64
	BPSystolic  *int
	BPDiastolic *int
	HeartRate   *int
	WeightKg    *float64
	LoggedAt    time.Time
}

// ExerciseLog is one exercise session.
type ExerciseLog struct {
	ID              int64
	UserID          int64
	ExerciseType    string
	DurationMinutes int
	Intensity       string
	Notes           string
	LoggedAt        time.Time
}

// SupplementLog is one supplement intake event with canonical items JSON.
type SupplementLog struct {
	ID        int64
	UserID    int64
	ItemsJSON string
	LoggedAt  time.Time
}

// FastingLog is one fast; FastEnd == nil means the fast is active.
type FastingLog struct {
	ID              int64
	UserID          int64
	FastStart       time.Time
	FastEnd         *time.Time
	DurationMinutes *int
}

// SleepLog is one sleep episode.
type SleepLog struct {
	ID              int64
	UserID          int64
	SleepStart      time.Time
	SleepEnd        time.Time
	DurationMinutes int
	Quality         string
}

// maxFastDuration is the forced-close bound for stale open fasts.
const maxFastDuration = 36 * time.Hour

func (s *Store) AddFoodLog(ctx context.Context, l *FoodLog) (int64, error) {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	var templateID any
	if l.MealTemplateID != nil {
		templateID = *l.MealTemplateID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO food_logs (user_id, items, meal_label, calories, protein_g, carbs_g, fat_g, sodium_mg, meal_template_id, logged_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.UserID, orEmptyArray(l.ItemsJSON), l.MealLabel, l.Calories, l.ProteinG, l.CarbsG,
		l.FatG, l.SodiumMg, templateID, fmtTime(l.LoggedAt), fmtTime(l.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add food log: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return l.ID, err
}

// UpdateFoodLogTime rewrites the event time of an existing row, used by the
// time-confirmation correction path.
func (s *Store) UpdateFoodLogTime(ctx context.Context, userID, id int64, loggedAt time.Time) error {
	return s.updateLogTime(ctx, "food_logs", "logged_at", userID, id, loggedAt)
}

// LatestFoodLog returns the newest food log within the lookback window.
func (s *Store) LatestFoodLog(ctx context.Context, userID int64, since time.Time) (*FoodLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, items, meal_label, calories, protein_g, carbs_g, fat_g, sodium_mg, meal_template_id, logged_at, created_at
		FROM food_logs WHERE user_id = ? AND logged_at >= ?
		ORDER BY logged_at DESC, id DESC LIMIT 1`, userID, fmtTime(since))
	return scanFoodLog(row)
}

// GetFoodLog fetches one row scoped to the user.
func (s *Store) GetFoodLog(ctx context.Context, userID, id int64) (*FoodLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, items, meal_label, calories, protein_g, carbs_g, fat_g, sodium_mg, meal_template_id, logged_at, created_at
		FROM food_logs WHERE user_id = ? AND id = ?`, userID, id)
	return scanFoodLog(row)
}

func scanFoodLog(row *sql.Row) (*FoodLog, error) {
	var l FoodLog
	var templateID sql.NullInt64
	var logged, created string
	err := row.Scan(&l.ID, &l.UserID, &l.ItemsJSON, &l.MealLabel, &l.Calories, &l.ProteinG,
		&l.CarbsG, &l.FatG, &l.SodiumMg, &templateID, &logged, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan food log: %w", err)
	}
	if templateID.Valid {
		l.MealTemplateID = &templateID.Int64
	}
	l.LoggedAt, _ = parseTime(logged)
	l.CreatedAt, _ = parseTime(created)
	return &l, nil
}

// FoodLogsBetween returns food logs with logged_at in [from, to).
func (s *Store) FoodLogsBetween(ctx context.Context, userID int64, from, to time.Time) ([]FoodLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, items, meal_label, calories, protein_g, carbs_g, fat_g, sodium_mg, meal_template_id, logged_at, created_at
		FROM food_logs WHERE user_id = ? AND logged_at >= ? AND logged_at < ?
		ORDER BY logged_at`, userID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("store: food logs between: %w", err)
	}
	defer rows.Close()

	var out []FoodLog
	for rows.Next() {
		var l FoodLog
		var templateID sql.NullInt64
		var logged, created string
		if err := rows.Scan(&l.ID, &l.UserID, &l.ItemsJSON, &l.MealLabel, &l.Calories,
			&l.ProteinG, &l.CarbsG, &l.FatG, &l.SodiumMg, &templateID, &logged, &created); err != nil {
			return nil, err
		}
		if templateID.Valid {
			l.MealTemplateID = &templateID.Int64
		}
		l.LoggedAt, _ = parseTime(logged)
		l.CreatedAt, _ = parseTime(created)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) AddHydrationLog(ctx context.Context, l *HydrationLog) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO hydration_logs (user_id, amount_ml, logged_at) VALUES (?, ?, ?)`,
		l.UserID, l.AmountML, fmtTime(l.LoggedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add hydration log: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return l.ID, err
}

func (s *Store) UpdateHydrationLogTime(ctx context.Context, userID, id int64, loggedAt time.Time) error {
	return s.updateLogTime(ctx, "hydration_logs", "logged_at", userID, id, loggedAt)
}

// HydrationTotalBetween sums milliliters in [from, to).
func (s *Store) HydrationTotalBetween(ctx context.Context, userID int64, from, to time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(amount_ml) FROM hydration_logs
		WHERE user_id = ? AND logged_at >= ? AND logged_at < ?`,
		userID, fmtTime(from), fmtTime(to)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: hydration total: %w", err)
	}
	return total.Float64, nil
}

func (s *Store) AddVitalsLog(ctx context.Context, l *VitalsLog) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO vitals_logs (user_id, bp_systolic, bp_diastolic, heart_rate, weight_kg, logged_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.UserID, nullInt(l.BPSystolic), nullInt(l.BPDiastolic), nullInt(l.HeartRate),
		nullFloat(l.WeightKg), fmtTime(l.LoggedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add vitals log: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return l.ID, err
}

func (s *Store) UpdateVitalsLogTime(ctx context.Context, userID, id int64, loggedAt time.Time) error {
	return s.updateLogTime(ctx, "vitals_logs", "logged_at", userID, id, loggedAt)
}

// LatestVitals returns the newest vitals row, or ErrNotFound.
func (s *Store) LatestVitals(ctx context.Context, userID int64) (*VitalsLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, bp_systolic, bp_diastolic, heart_rate, weight_kg, logged_at
		FROM vitals_logs WHERE user_id = ? ORDER BY logged_at DESC, id DESC LIMIT 1`, userID)
	return scanVitals(row)
}

func scanVitals(row *sql.Row) (*VitalsLog, error) {
	var l VitalsLog
	var sys, dia, hr sql.NullInt64
	var weight sql.NullFloat64
	var logged string
	err := row.Scan(&l.ID, &l.UserID, &sys, &dia, &hr, &weight, &logged)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan vitals: %w", err)
	}
	l.BPSystolic = intPtr(sys)
	l.BPDiastolic = intPtr(dia)
	l.HeartRate = intPtr(hr)
	if weight.Valid {
		l.WeightKg = &weight.Float64
	}
	l.LoggedAt, _ = parseTime(logged)
	return &l, nil
}

// VitalsBetween returns vitals rows with logged_at in [from, to).
func (s *Store) VitalsBetween(ctx context.Context, userID int64, from, to time.Time) ([]VitalsLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, bp_systolic, bp_diastolic, heart_rate, weight_kg, logged_at
		FROM vitals_logs WHERE user_id = ? AND logged_at >= ? AND logged_at < ?
		ORDER BY logged_at`, userID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("store: vitals between: %w", err)
	}
	defer rows.Close()

	var out []VitalsLog
	for rows.Next() {
		var l VitalsLog
		var sys, dia, hr sql.NullInt64
		var weight sql.NullFloat64
		var logged string
		if err := rows.Scan(&l.ID, &l.UserID, &sys, &dia, &hr, &weight, &logged); err != nil {
			return nil, err
		}
		l.BPSystolic = intPtr(sys)
		l.BPDiastolic = intPtr(dia)
		l.HeartRate = intPtr(hr)
		if weight.Valid {
			l.WeightKg = &weight.Float64
		}
		l.LoggedAt, _ = parseTime(logged)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) AddExerciseLog(ctx context.Context, l *ExerciseLog) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO exercise_logs (user_id, exercise_type, duration_minutes, intensity, notes, logged_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.UserID, l.ExerciseType, l.DurationMinutes, l.Intensity, l.Notes, fmtTime(l.LoggedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add exercise log: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return l.ID, err
}

func (s *Store) UpdateExerciseLogTime(ctx context.Context, userID, id int64, loggedAt time.Time) error {
	return s.updateLogTime(ctx, "exercise_logs", "logged_at", userID, id, loggedAt)
}

// ExerciseBetween returns exercise rows with logged_at in [from, to).
func (s *Store) ExerciseBetween(ctx context.Context, userID int64, from, to time.Time) ([]ExerciseLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, exercise_type, duration_minutes, intensity, notes, logged_at
		FROM exercise_logs WHERE user_id = ? AND logged_at >= ? AND logged_at < ?
		ORDER BY logged_at`, userID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("store: exercise between: %w", err)
	}
	defer rows.Close()

	var out []ExerciseLog
	for rows.Next() {
		var l ExerciseLog
		var logged string
		if err := rows.Scan(&l.ID, &l.UserID, &l.ExerciseType, &l.DurationMinutes,
			&l.Intensity, &l.Notes, &logged); err != nil {
			return nil, err
		}
		l.LoggedAt, _ = parseTime(logged)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) AddSupplementLog(ctx context.Context, l *SupplementLog) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO supplement_logs (user_id, items, logged_at) VALUES (?, ?, ?)`,
		l.UserID, orEmptyArray(l.ItemsJSON), fmtTime(l.LoggedAt))
	if err != nil {
		return 0, fmt.Errorf("store: add supplement log: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return l.ID, err
}

func (s *Store) UpdateSupplementLogTime(ctx context.Context, userID, id int64, loggedAt time.Time) error {
	return s.updateLogTime(ctx, "supplement_logs", "logged_at", userID, id, loggedAt)
}

// StartFast opens a fast. If a fast is already open the existing row is
// returned unchanged with created=false; two concurrently open fasts can
// never exist.
func (s *Store) StartFast(ctx context.Context, userID int64, start time.Time) (*FastingLog, bool, error) {
	if open, err := s.OpenFast(ctx, userID); err == nil {
		return open, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	// The partial unique index on open rows backstops the check above: a
	// concurrent start loses the insert and returns the winner's row.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fasting_logs (user_id, fast_start) VALUES (?, ?)
		ON CONFLICT(user_id) WHERE fast_end IS NULL DO NOTHING`,
		userID, fmtTime(start))
	if err != nil {
		return nil, false, fmt.Errorf("store: start fast: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		open, err := s.OpenFast(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		return open, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, err
	}
	return &FastingLog{ID: id, UserID: userID, FastStart: start.UTC()}, true, nil
}

// OpenFast returns the single open fast, force-closing any row older than
// 36 hours first.
func (s *Store) OpenFast(ctx context.Context, userID int64) (*FastingLog, error) {
	if err := s.closeStaleFasts(ctx, userID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, fast_start, fast_end, duration_minutes
		FROM fasting_logs WHERE user_id = ? AND fast_end IS NULL
		ORDER BY fast_start DESC LIMIT 1`, userID)
	return scanFast(row)
}

// EndFast closes the open fast at end and returns it. Returns ErrNotFound
// when no fast is open.
func (s *Store) EndFast(ctx context.Context, userID int64, end time.Time) (*FastingLog, error) {
	open, err := s.OpenFast(ctx, userID)
	if err != nil {
		return nil, err
	}
	duration := int(end.Sub(open.FastStart).Minutes())
	if duration < 0 {
		duration = 0
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE fasting_logs SET fast_end = ?, duration_minutes = ? WHERE id = ? AND user_id = ?`,
		fmtTime(end), duration, open.ID, userID); err != nil {
		return nil, fmt.Errorf("store: end fast: %w", err)
	}
	endUTC := end.UTC()
	open.FastEnd = &endUTC
	open.DurationMinutes = &duration
	return open, nil
}

// UpdateFastTimes rewrites fast_start and/or fast_end of a row and
// recomputes duration when both ends are set.
func (s *Store) UpdateFastTimes(ctx context.Context, userID, id int64, start, end *time.Time) error {
	row, err := s.getFast(ctx, userID, id)
	if err != nil {
		return err
	}
	if start != nil {
		row.FastStart = start.UTC()
	}
	if end != nil {
		u := end.UTC()
		row.FastEnd = &u
	}
	var duration any
	if row.FastEnd != nil {
		d := int(row.FastEnd.Sub(row.FastStart).Minutes())
		if d < 0 {
			d = 0
		}
		duration = d
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE fasting_logs SET fast_start = ?, fast_end = ?, duration_minutes = ? WHERE id = ? AND user_id = ?`,
		fmtTime(row.FastStart), fmtTimePtr(row.FastEnd), duration, id, userID)
	return err
}

func (s *Store) getFast(ctx context.Context, userID, id int64) (*FastingLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, fast_start, fast_end, duration_minutes
		FROM fasting_logs WHERE user_id = ? AND id = ?`, userID, id)
	return scanFast(row)
}

func (s *Store) closeStaleFasts(ctx context.Context, userID int64) error {
	cutoff := time.Now().UTC().Add(-maxFastDuration)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fast_start FROM fasting_logs
		WHERE user_id = ? AND fast_end IS NULL AND fast_start < ?`,
		userID, fmtTime(cutoff))
	if err != nil {
		return fmt.Errorf("store: close stale fasts: %w", err)
	}
	type stale struct {
		id    int64
		start time.Time
	}
	var open []stale
	for rows.Next() {
		var st stale
		var start string
		if err := rows.Scan(&st.id, &start); err != nil {
			rows.Close()
			return err
		}
		st.start, _ = parseTime(start)
		open = append(open, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, st := range open {
		end := st.start.Add(maxFastDuration)
		if _, err := s.db.ExecContext(ctx,
			`UPDATE fasting_logs SET fast_end = ?, duration_minutes = ? WHERE id = ? AND user_id = ?`,
			fmtTime(end), int(maxFastDuration.Minutes()), st.id, userID); err != nil {
			return fmt.Errorf("store: close stale fasts: %w", err)
		}
	}
	return nil
}

func scanFast(row *sql.Row) (*FastingLog, error) {
	var l FastingLog
	var start string
	var end sql.NullString
	var duration sql.NullInt64
	err := row.Scan(&l.ID, &l.UserID, &start, &end, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan fast: %w", err)
	}
	l.FastStart, _ = parseTime(start)
	l.FastEnd = parseTimePtr(end)
	if duration.Valid {
		d := int(duration.Int64)
		l.DurationMinutes = &d
	}
	return &l, nil
}

// CountOpenFasts reports how many fasts are currently open for the user.
func (s *Store) CountOpenFasts(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fasting_logs WHERE user_id = ? AND fast_end IS NULL`, userID).Scan(&n)
	return n, err
}

// FastsBetween returns fasts that started in [from, to).
func (s *Store) FastsBetween(ctx context.Context, userID int64, from, to time.Time) ([]FastingLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, fast_start, fast_end, duration_minutes
		FROM fasting_logs WHERE user_id = ? AND fast_start >= ? AND fast_start < ?
		ORDER BY fast_start`, userID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("store: fasts between: %w", err)
	}
	defer rows.Close()

	var out []FastingLog
	for rows.Next() {
		var l FastingLog
		var start string
		var end sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&l.ID, &l.UserID, &start, &end, &duration); err != nil {
			return nil, err
		}
		l.FastStart, _ = parseTime(start)
		l.FastEnd = parseTimePtr(end)
		if duration.Valid {
			d := int(duration.Int64)
			l.DurationMinutes = &d
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) AddSleepLog(ctx context.Context, l *SleepLog) (int64, error) {
	if l.DurationMinutes == 0 && l.SleepEnd.After(l.SleepStart) {
		l.DurationMinutes = int(l.SleepEnd.Sub(l.SleepStart).Minutes())
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sleep_logs (user_id, sleep_start, sleep_end, duration_minutes, quality)
		VALUES (?, ?, ?, ?, ?)`,
		l.UserID, fmtTime(l.SleepStart), fmtTime(l.SleepEnd), l.DurationMinutes, l.Quality)
	if err != nil {
		return 0, fmt.Errorf("store: add sleep log: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return l.ID, err
}

// UpdateSleepTimes rewrites sleep_start and/or sleep_end and recomputes the
// duration.
func (s *Store) UpdateSleepTimes(ctx context.Context, userID, id int64, start, end *time.Time) error {
	cur, err := s.LatestSleepByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if start != nil {
		cur.SleepStart = start.UTC()
	}
	if end != nil {
		cur.SleepEnd = end.UTC()
	}
	duration := int(cur.SleepEnd.Sub(cur.SleepStart).Minutes())
	if duration < 0 {
		duration = 0
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sleep_logs SET sleep_start = ?, sleep_end = ?, duration_minutes = ? WHERE id = ? AND user_id = ?`,
		fmtTime(cur.SleepStart), fmtTime(cur.SleepEnd), duration, id, userID)
	return err
}

// LatestSleep returns the newest sleep row, or ErrNotFound.
func (s *Store) LatestSleep(ctx context.Context, userID int64) (*SleepLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, sleep_start, sleep_end, duration_minutes, quality
		FROM sleep_logs WHERE user_id = ? ORDER BY sleep_end DESC, id DESC LIMIT 1`, userID)
	return scanSleep(row)
}

// LatestSleepByID fetches one sleep row scoped to the user.
func (s *Store) LatestSleepByID(ctx context.Context, userID, id int64) (*SleepLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, sleep_start, sleep_end, duration_minutes, quality
		FROM sleep_logs WHERE user_id = ? AND id = ?`, userID, id)
	return scanSleep(row)
}

func scanSleep(row *sql.Row) (*SleepLog, error) {
	var l SleepLog
	var start, end string
	err := row.Scan(&l.ID, &l.UserID, &start, &end, &l.DurationMinutes, &l.Quality)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan sleep: %w", err)
	}
	l.SleepStart, _ = parseTime(start)
	l.SleepEnd, _ = parseTime(end)
	return &l, nil
}

// SleepBetween returns sleep rows ending in [from, to).
func (s *Store) SleepBetween(ctx context.Context, userID int64, from, to time.Time) ([]SleepLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, sleep_start, sleep_end, duration_minutes, quality
		FROM sleep_logs WHERE user_id = ? AND sleep_end >= ? AND sleep_end < ?
		ORDER BY sleep_end`, userID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("store: sleep between: %w", err)
	}
	defer rows.Close()

	var out []SleepLog
	for rows.Next() {
		var l SleepLog
		var start, end string
		if err := rows.Scan(&l.ID, &l.UserID, &start, &end, &l.DurationMinutes, &l.Quality); err != nil {
			return nil, err
		}
		l.SleepStart, _ = parseTime(start)
		l.SleepEnd, _ = parseTime(end)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) updateLogTime(ctx context.Context, table, field string, userID, id int64, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET `+field+` = ? WHERE id = ? AND user_id = ?`,
		fmtTime(t), id, userID)
	if err != nil {
		return fmt.Errorf("store: update %s time: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
