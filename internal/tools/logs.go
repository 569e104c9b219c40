package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/structured"
)

func registerLogTools(r *Registry) {
	r.Register(&Tool{
		Spec: Spec{
			Name:        "food_log_write",
			Description: "Record a meal or snack; resolves named meal templates and scales macros by servings.",
			Tags:        []string{"logs", "food"},
		},
		Run: foodLogWrite,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "hydration_log_write",
			Description: "Record fluid intake in milliliters.",
			Required:    []string{"amount_ml"},
			Tags:        []string{"logs", "hydration"},
		},
		Run: hydrationLogWrite,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "vitals_log_write",
			Description: "Record blood pressure, heart rate, and/or weight.",
			Tags:        []string{"logs", "vitals"},
		},
		Run: vitalsLogWrite,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "exercise_log_write",
			Description: "Record an exercise session.",
			Required:    []string{"exercise_type"},
			Tags:        []string{"logs", "exercise"},
		},
		Run: exerciseLogWrite,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "supplement_log_write",
			Description: "Record supplement intake as canonical items.",
			Required:    []string{"items"},
			Tags:        []string{"logs", "supplements"},
		},
		Run: supplementLogWrite,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "sleep_log_write",
			Description: "Record a sleep episode from start and end times.",
			Required:    []string{"sleep_start", "sleep_end"},
			Tags:        []string{"logs", "sleep"},
		},
		Run: sleepLogWrite,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "fasting_manage",
			Description: "Start or end a fast. Ending closes the single open fast; both actions are idempotent.",
			Required:    []string{"action"},
			Tags:        []string{"logs", "fasting"},
		},
		Run: fastingManage,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "meal_log_from_template",
			Description: "Log a meal by template id, scaling macros by servings.",
			Required:    []string{"template_id"},
			Tags:        []string{"logs", "food", "templates"},
		},
		Run: mealLogFromTemplate,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "log_time_correct",
			Description: "Rewrite the event time of a previously saved log row.",
			Required:    []string{"log_table", "log_id", "event_time"},
			Tags:        []string{"logs", "time"},
		},
		Run: logTimeCorrect,
	})
}

func foodLogWrite(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	loggedAt, err := ec.argTime("food_log_write", args, "logged_at")
	if err != nil {
		return nil, err
	}

	l := &store.FoodLog{
		UserID:    ec.User.ID,
		MealLabel: strings.ToLower(argString(args, "meal_label")),
		LoggedAt:  loggedAt,
	}
	l.Calories, _ = argFloat(args, "calories")
	l.ProteinG, _ = argFloat(args, "protein_g")
	l.CarbsG, _ = argFloat(args, "carbs_g")
	l.FatG, _ = argFloat(args, "fat_g")
	l.SodiumMg, _ = argFloat(args, "sodium_mg")

	if items, ok := args["items"]; ok {
		data, err := json.Marshal(items)
		if err != nil {
			return nil, execErr("food_log_write", "items not serializable: %v", err)
		}
		l.ItemsJSON = string(data)
	}

	// A named meal resolves against templates; macros scale by servings
	// relative to the template's base.
	servings := 1.0
	if s, ok := argFloat(args, "servings"); ok && s > 0 {
		servings = s
	}
	if name := argString(args, "meal_name"); name != "" {
		tmpl, err := ec.Store.ResolveMealTemplate(ctx, ec.User.ID, name)
		if err == nil {
			scale := servings / baseServings(tmpl)
			l.MealTemplateID = &tmpl.ID
			l.Calories = tmpl.Calories * scale
			l.ProteinG = tmpl.ProteinG * scale
			l.CarbsG = tmpl.CarbsG * scale
			l.FatG = tmpl.FatG * scale
			l.SodiumMg = tmpl.SodiumMg * scale
			if l.ItemsJSON == "" {
				l.ItemsJSON = tmpl.Ingredients
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, wrapExecErr("food_log_write", err)
		}
	}

	id, err := ec.Store.AddFoodLog(ctx, l)
	if err != nil {
		return nil, wrapExecErr("food_log_write", err)
	}
	result := map[string]any{
		"status":    "saved",
		"log_id":    id,
		"logged_at": l.LoggedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if l.MealTemplateID != nil {
		result["template_id"] = *l.MealTemplateID
	}
	return result, nil
}

func hydrationLogWrite(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	amount, ok := argFloat(args, "amount_ml")
	if !ok || amount <= 0 {
		return nil, execErr("hydration_log_write", "amount_ml must be a positive number")
	}
	if amount > 10000 {
		return nil, execErr("hydration_log_write", "amount_ml %v exceeds plausible single intake", amount)
	}
	loggedAt, err := ec.argTime("hydration_log_write", args, "logged_at")
	if err != nil {
		return nil, err
	}
	id, err := ec.Store.AddHydrationLog(ctx, &store.HydrationLog{
		UserID: ec.User.ID, AmountML: amount, LoggedAt: loggedAt,
	})
	if err != nil {
		return nil, wrapExecErr("hydration_log_write", err)
	}
	return map[string]any{"status": "saved", "log_id": id}, nil
}

func vitalsLogWrite(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	// Zero means "not mentioned" throughout: the parser prompts use 0 for
	// absent measurements.
	l := &store.VitalsLog{UserID: ec.User.ID}
	if v, ok := argInt(args, "bp_systolic"); ok && v != 0 {
		if v < 50 || v > 300 {
			return nil, execErr("vitals_log_write", "bp_systolic %d out of range", v)
		}
		l.BPSystolic = &v
	}
	if v, ok := argInt(args, "bp_diastolic"); ok && v != 0 {
		if v < 30 || v > 200 {
			return nil, execErr("vitals_log_write", "bp_diastolic %d out of range", v)
		}
		l.BPDiastolic = &v
	}
	if (l.BPSystolic == nil) != (l.BPDiastolic == nil) {
		return nil, execErr("vitals_log_write", "blood pressure requires both systolic and diastolic")
	}
	if v, ok := argInt(args, "heart_rate"); ok && v != 0 {
		if v < 20 || v > 260 {
			return nil, execErr("vitals_log_write", "heart_rate %d out of range", v)
		}
		l.HeartRate = &v
	}
	if v, ok := argFloat(args, "weight_kg"); ok && v != 0 {
		if v < 0 || v > 650 {
			return nil, execErr("vitals_log_write", "weight_kg %v out of range", v)
		}
		l.WeightKg = &v
	}
	if l.BPSystolic == nil && l.HeartRate == nil && l.WeightKg == nil {
		return nil, execErr("vitals_log_write", "no measurements provided")
	}

	loggedAt, err := ec.argTime("vitals_log_write", args, "logged_at")
	if err != nil {
		return nil, err
	}
	l.LoggedAt = loggedAt
	id, err := ec.Store.AddVitalsLog(ctx, l)
	if err != nil {
		return nil, wrapExecErr("vitals_log_write", err)
	}
	result := map[string]any{"status": "saved", "log_id": id}

	// A logged weight is also the user's current weight. The log row is
	// already saved, so a settings failure degrades to a warning.
	if l.WeightKg != nil {
		st, err := ec.Store.GetSettings(ctx, ec.User.ID)
		if err == nil {
			st.WeightKg = *l.WeightKg
			err = ec.Store.SaveSettings(ctx, st)
		}
		if err != nil {
			if ec.Log != nil {
				ec.Log.Warn(ctx, "tools: weight settings sync failed", "error", err)
			}
		} else {
			if ec.Settings != nil {
				ec.Settings.WeightKg = *l.WeightKg
			}
			result["weight_synced"] = true
		}
	}
	return result, nil
}

func exerciseLogWrite(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	duration, _ := argInt(args, "duration_minutes")
	if duration < 0 || duration > 24*60 {
		return nil, execErr("exercise_log_write", "duration_minutes %d out of range", duration)
	}
	loggedAt, err := ec.argTime("exercise_log_write", args, "logged_at")
	if err != nil {
		return nil, err
	}
	id, err := ec.Store.AddExerciseLog(ctx, &store.ExerciseLog{
		UserID:          ec.User.ID,
		ExerciseType:    strings.ToLower(argString(args, "exercise_type")),
		DurationMinutes: duration,
		Intensity:       strings.ToLower(argString(args, "intensity")),
		Notes:           argString(args, "notes"),
		LoggedAt:        loggedAt,
	})
	if err != nil {
		return nil, wrapExecErr("exercise_log_write", err)
	}
	return map[string]any{"status": "saved", "log_id": id}, nil
}

func supplementLogWrite(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	items := argItems(args, "items")
	if len(items) == 0 {
		return nil, execErr("supplement_log_write", "no concrete items after placeholder filtering")
	}
	raw, err := structured.Serialize(items)
	if err != nil {
		return nil, wrapExecErr("supplement_log_write", err)
	}
	loggedAt, err := ec.argTime("supplement_log_write", args, "logged_at")
	if err != nil {
		return nil, err
	}
	id, err := ec.Store.AddSupplementLog(ctx, &store.SupplementLog{
		UserID: ec.User.ID, ItemsJSON: raw, LoggedAt: loggedAt,
	})
	if err != nil {
		return nil, wrapExecErr("supplement_log_write", err)
	}
	return map[string]any{"status": "saved", "log_id": id, "names": structured.Names(items)}, nil
}

func sleepLogWrite(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	start, err := ec.argTime("sleep_log_write", args, "sleep_start")
	if err != nil {
		return nil, err
	}
	end, err := ec.argTime("sleep_log_write", args, "sleep_end")
	if err != nil {
		return nil, err
	}
	// A range like 23:00-07:00 resolves with the end before the start;
	// the episode crossed midnight.
	if !end.After(start) {
		start = start.AddDate(0, 0, -1)
	}
	if end.Sub(start) > 24*time.Hour {
		return nil, execErr("sleep_log_write", "sleep episode exceeds 24 hours")
	}
	l := &store.SleepLog{
		UserID:     ec.User.ID,
		SleepStart: start,
		SleepEnd:   end,
		Quality:    strings.ToLower(argString(args, "quality")),
	}
	id, err := ec.Store.AddSleepLog(ctx, l)
	if err != nil {
		return nil, wrapExecErr("sleep_log_write", err)
	}
	return map[string]any{"status": "saved", "log_id": id, "duration_minutes": l.DurationMinutes}, nil
}

func fastingManage(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	action := strings.ToLower(argString(args, "action"))
	switch action {
	case "start":
		start, err := ec.argTime("fasting_manage", args, "fast_start")
		if err != nil {
			return nil, err
		}
		fast, created, err := ec.Store.StartFast(ctx, ec.User.ID, start)
		if err != nil {
			return nil, wrapExecErr("fasting_manage", err)
		}
		status := "started"
		if !created {
			status = "already_active"
		}
		return map[string]any{
			"status":     status,
			"fast_id":    fast.ID,
			"fast_start": fast.FastStart.Format("2006-01-02T15:04:05Z07:00"),
		}, nil

	case "end":
		end, err := ec.argTime("fasting_manage", args, "fast_end")
		if err != nil {
			return nil, err
		}
		fast, err := ec.Store.EndFast(ctx, ec.User.ID, end)
		if errors.Is(err, store.ErrNotFound) {
			// Neutral status, not an error: there was nothing to close.
			return map[string]any{"status": "no_active_fast"}, nil
		}
		if err != nil {
			return nil, wrapExecErr("fasting_manage", err)
		}
		return map[string]any{
			"status":           "ended",
			"fast_id":          fast.ID,
			"duration_minutes": *fast.DurationMinutes,
		}, nil

	default:
		return nil, execErr("fasting_manage", "action must be start or end, got %q", action)
	}
}

func mealLogFromTemplate(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	templateID, ok := argInt64(args, "template_id")
	if !ok {
		return nil, execErr("meal_log_from_template", "template_id must be an integer")
	}
	tmpl, err := ec.Store.GetMealTemplate(ctx, ec.User.ID, templateID)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundResult("meal_template", templateID), nil
	}
	if err != nil {
		return nil, wrapExecErr("meal_log_from_template", err)
	}

	servings := 1.0
	if s, ok := argFloat(args, "servings"); ok && s > 0 {
		servings = s
	}
	scale := servings / baseServings(tmpl)

	loggedAt, err := ec.argTime("meal_log_from_template", args, "logged_at")
	if err != nil {
		return nil, err
	}
	id, err := ec.Store.AddFoodLog(ctx, &store.FoodLog{
		UserID:         ec.User.ID,
		ItemsJSON:      tmpl.Ingredients,
		MealLabel:      strings.ToLower(argString(args, "meal_label")),
		Calories:       tmpl.Calories * scale,
		ProteinG:       tmpl.ProteinG * scale,
		CarbsG:         tmpl.CarbsG * scale,
		FatG:           tmpl.FatG * scale,
		SodiumMg:       tmpl.SodiumMg * scale,
		MealTemplateID: &tmpl.ID,
		LoggedAt:       loggedAt,
	})
	if err != nil {
		return nil, wrapExecErr("meal_log_from_template", err)
	}
	return map[string]any{
		"status": "saved", "log_id": id,
		"template": tmpl.Name, "servings": servings,
	}, nil
}

func baseServings(t *store.MealTemplate) float64 {
	if t.BaseServings > 0 {
		return t.BaseServings
	}
	return 1
}

func logTimeCorrect(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	table := argString(args, "log_table")
	id, ok := argInt64(args, "log_id")
	if !ok {
		return nil, execErr("log_time_correct", "log_id must be an integer")
	}
	eventTime, err := ec.argTime("log_time_correct", args, "event_time")
	if err != nil {
		return nil, err
	}

	switch table {
	case "food_logs":
		err = ec.Store.UpdateFoodLogTime(ctx, ec.User.ID, id, eventTime)
	case "hydration_logs":
		err = ec.Store.UpdateHydrationLogTime(ctx, ec.User.ID, id, eventTime)
	case "vitals_logs":
		err = ec.Store.UpdateVitalsLogTime(ctx, ec.User.ID, id, eventTime)
	case "exercise_logs":
		err = ec.Store.UpdateExerciseLogTime(ctx, ec.User.ID, id, eventTime)
	case "supplement_logs":
		err = ec.Store.UpdateSupplementLogTime(ctx, ec.User.ID, id, eventTime)
	case "fasting_logs":
		err = ec.Store.UpdateFastTimes(ctx, ec.User.ID, id, &eventTime, nil)
	case "sleep_logs":
		err = ec.Store.UpdateSleepTimes(ctx, ec.User.ID, id, nil, &eventTime)
	default:
		return nil, execErr("log_time_correct", "unsupported table %q", table)
	}
	if errors.Is(err, store.ErrNotFound) {
		return notFoundResult(table, id), nil
	}
	if err != nil {
		return nil, wrapExecErr("log_time_correct", err)
	}
	return map[string]any{
		"status":     "corrected",
		"log_table":  table,
		"log_id":     id,
		"event_time": eventTime.Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}
