package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/structured"
)

// Metrics is the deterministic roll-up over one analysis window. All
// averages are per-day over the window length.
type Metrics struct {
	Days int `json:"days"`

	Nutrition struct {
		MealCount     int     `json:"meal_count"`
		TotalCalories float64 `json:"total_calories"`
		AvgCalories   float64 `json:"avg_calories_per_day"`
		AvgProteinG   float64 `json:"avg_protein_g_per_day"`
		AvgCarbsG     float64 `json:"avg_carbs_g_per_day"`
		AvgFatG       float64 `json:"avg_fat_g_per_day"`
		AvgSodiumMg   float64 `json:"avg_sodium_mg_per_day"`
	} `json:"nutrition"`

	Hydration struct {
		TotalML  float64 `json:"total_ml"`
		AvgMLDay float64 `json:"avg_ml_per_day"`
	} `json:"hydration"`

	Exercise struct {
		Sessions     int `json:"sessions"`
		TotalMinutes int `json:"total_minutes"`
	} `json:"exercise"`

	Sleep struct {
		Episodes   int     `json:"episodes"`
		AvgMinutes float64 `json:"avg_minutes"`
	} `json:"sleep"`

	Fasting struct {
		Completed   int     `json:"completed"`
		AvgDuration float64 `json:"avg_duration_minutes"`
	} `json:"fasting"`

	Adherence struct {
		MedicationRate *float64 `json:"medication_rate,omitempty"`
		SupplementRate *float64 `json:"supplement_rate,omitempty"`
	} `json:"adherence"`

	Vitals VitalsMetrics `json:"vitals"`

	ActiveFrameworks []string `json:"active_frameworks"`
}

// VitalsMetrics summarizes the window's vitals readings; absent measurement
// families stay nil.
type VitalsMetrics struct {
	WeightLatestKg   *float64 `json:"weight_latest_kg,omitempty"`
	WeightAvgKg      *float64 `json:"weight_avg_kg,omitempty"`
	WeightDeltaKg    *float64 `json:"weight_delta_kg,omitempty"`
	BPSystolicAvg    *float64 `json:"bp_systolic_avg,omitempty"`
	BPDiastolicAvg   *float64 `json:"bp_diastolic_avg,omitempty"`
	BPSystolicDelta  *float64 `json:"bp_systolic_delta,omitempty"`
	HeartRateAvg     *float64 `json:"heart_rate_avg,omitempty"`
	HeartRateDelta   *float64 `json:"heart_rate_delta,omitempty"`
}

// Risk flag and missing-domain names.
const (
	FlagBPStage1     = "bp_elevated_stage1"
	FlagBPStage2     = "bp_elevated_stage2"
	FlagSodiumHigh   = "sodium_high"
	FlagAdherenceLow = "medication_adherence_low"

	MissingFoods     = "no_food_logs"
	MissingHydration = "no_hydration_logs"
	MissingExercise  = "no_exercise_logs"
	MissingVitals    = "no_vitals_logs"
	MissingSleep     = "no_sleep_logs"
	MissingFramework = "no_active_framework"
)

// Clinical thresholds for deterministic risk flags.
const (
	bpStage1Systolic  = 130
	bpStage1Diastolic = 80
	bpStage2Systolic  = 140
	bpStage2Diastolic = 90
	sodiumHighMgDay   = 2300
	adherenceLowRate  = 0.6
)

// collectMetrics computes the window roll-up. Daily windows use the max
// sleep duration within the day; longer windows use the mean.
func (e *Engine) collectMetrics(ctx context.Context, user *store.User, settings *store.UserSettings, runType string, start, end time.Time, loc *time.Location) (*Metrics, error) {
	m := &Metrics{}
	m.Days = int(end.Sub(start).Hours()/24 + 0.5)
	if m.Days < 1 {
		m.Days = 1
	}
	days := float64(m.Days)

	foods, err := e.Store.FoodLogsBetween(ctx, user.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("analysis: food metrics: %w", err)
	}
	m.Nutrition.MealCount = len(foods)
	for _, f := range foods {
		m.Nutrition.TotalCalories += f.Calories
		m.Nutrition.AvgProteinG += f.ProteinG
		m.Nutrition.AvgCarbsG += f.CarbsG
		m.Nutrition.AvgFatG += f.FatG
		m.Nutrition.AvgSodiumMg += f.SodiumMg
	}
	m.Nutrition.AvgCalories = m.Nutrition.TotalCalories / days
	m.Nutrition.AvgProteinG /= days
	m.Nutrition.AvgCarbsG /= days
	m.Nutrition.AvgFatG /= days
	m.Nutrition.AvgSodiumMg /= days

	total, err := e.Store.HydrationTotalBetween(ctx, user.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("analysis: hydration metrics: %w", err)
	}
	m.Hydration.TotalML = total
	m.Hydration.AvgMLDay = total / days

	exercises, err := e.Store.ExerciseBetween(ctx, user.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("analysis: exercise metrics: %w", err)
	}
	m.Exercise.Sessions = len(exercises)
	for _, ex := range exercises {
		m.Exercise.TotalMinutes += ex.DurationMinutes
	}

	sleeps, err := e.Store.SleepBetween(ctx, user.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("analysis: sleep metrics: %w", err)
	}
	m.Sleep.Episodes = len(sleeps)
	if len(sleeps) > 0 {
		if runType == RunDaily {
			best := 0
			for _, sl := range sleeps {
				if sl.DurationMinutes > best {
					best = sl.DurationMinutes
				}
			}
			m.Sleep.AvgMinutes = float64(best)
		} else {
			sum := 0
			for _, sl := range sleeps {
				sum += sl.DurationMinutes
			}
			m.Sleep.AvgMinutes = float64(sum) / float64(len(sleeps))
		}
	}

	fasts, err := e.Store.FastsBetween(ctx, user.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("analysis: fasting metrics: %w", err)
	}
	sum := 0
	for _, f := range fasts {
		if f.DurationMinutes != nil {
			m.Fasting.Completed++
			sum += *f.DurationMinutes
		}
	}
	if m.Fasting.Completed > 0 {
		m.Fasting.AvgDuration = float64(sum) / float64(m.Fasting.Completed)
	}

	fromDate := start.In(loc).Format("2006-01-02")
	toDate := end.In(loc).Add(-time.Second).Format("2006-01-02")
	meds, _ := structured.Parse(settings.MedicationsJSON)
	if rate, ok := e.adherence(ctx, user.ID, "medication", len(meds), m.Days, fromDate, toDate); ok {
		m.Adherence.MedicationRate = &rate
	}
	supps, _ := structured.Parse(settings.SupplementsJSON)
	if rate, ok := e.adherence(ctx, user.ID, "supplement", len(supps), m.Days, fromDate, toDate); ok {
		m.Adherence.SupplementRate = &rate
	}

	vitals, err := e.Store.VitalsBetween(ctx, user.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("analysis: vitals metrics: %w", err)
	}
	fillVitals(&m.Vitals, vitals)

	frameworks, err := e.Store.ActiveFrameworks(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("analysis: frameworks: %w", err)
	}
	for _, f := range frameworks {
		m.ActiveFrameworks = append(m.ActiveFrameworks, f.Name)
	}
	return m, nil
}

// adherence = completed / (items × days). ok is false when the user has no
// items of the type, so the metric is absent rather than zero.
func (e *Engine) adherence(ctx context.Context, userID int64, itemType string, items, days int, fromDate, toDate string) (float64, bool) {
	if items == 0 {
		return 0, false
	}
	completed, err := e.Store.ChecklistCompletionBetween(ctx, userID, itemType, fromDate, toDate)
	if err != nil {
		return 0, false
	}
	expected := items * days
	rate := float64(completed) / float64(expected)
	if rate > 1 {
		rate = 1
	}
	return rate, true
}

func fillVitals(v *VitalsMetrics, vitals []store.VitalsLog) {
	var weights, systolics, diastolics, rates []float64
	for _, row := range vitals {
		if row.WeightKg != nil {
			weights = append(weights, *row.WeightKg)
		}
		if row.BPSystolic != nil && row.BPDiastolic != nil {
			systolics = append(systolics, float64(*row.BPSystolic))
			diastolics = append(diastolics, float64(*row.BPDiastolic))
		}
		if row.HeartRate != nil {
			rates = append(rates, float64(*row.HeartRate))
		}
	}
	if len(weights) > 0 {
		latest := weights[len(weights)-1]
		v.WeightLatestKg = &latest
		avg := mean(weights)
		v.WeightAvgKg = &avg
		delta := weights[len(weights)-1] - weights[0]
		v.WeightDeltaKg = &delta
	}
	if len(systolics) > 0 {
		sAvg, dAvg := mean(systolics), mean(diastolics)
		v.BPSystolicAvg = &sAvg
		v.BPDiastolicAvg = &dAvg
		delta := systolics[len(systolics)-1] - systolics[0]
		v.BPSystolicDelta = &delta
	}
	if len(rates) > 0 {
		avg := mean(rates)
		v.HeartRateAvg = &avg
		delta := rates[len(rates)-1] - rates[0]
		v.HeartRateDelta = &delta
	}
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// missingDomains names the data families absent from the window.
func missingDomains(m *Metrics) []string {
	var out []string
	if m.Nutrition.MealCount == 0 {
		out = append(out, MissingFoods)
	}
	if m.Hydration.TotalML == 0 {
		out = append(out, MissingHydration)
	}
	if m.Exercise.Sessions == 0 {
		out = append(out, MissingExercise)
	}
	if m.Vitals.WeightLatestKg == nil && m.Vitals.BPSystolicAvg == nil && m.Vitals.HeartRateAvg == nil {
		out = append(out, MissingVitals)
	}
	if m.Sleep.Episodes == 0 {
		out = append(out, MissingSleep)
	}
	if len(m.ActiveFrameworks) == 0 {
		out = append(out, MissingFramework)
	}
	return out
}

// riskFlags derives the deterministic flags from metrics.
func riskFlags(m *Metrics) []string {
	var out []string
	if m.Vitals.BPSystolicAvg != nil {
		sys, dia := *m.Vitals.BPSystolicAvg, *m.Vitals.BPDiastolicAvg
		switch {
		case sys >= bpStage2Systolic || dia >= bpStage2Diastolic:
			out = append(out, FlagBPStage2)
		case sys >= bpStage1Systolic || dia >= bpStage1Diastolic:
			out = append(out, FlagBPStage1)
		}
	}
	if m.Nutrition.MealCount > 0 && m.Nutrition.AvgSodiumMg > sodiumHighMgDay {
		out = append(out, FlagSodiumHigh)
	}
	if m.Adherence.MedicationRate != nil && *m.Adherence.MedicationRate < adherenceLowRate {
		out = append(out, FlagAdherenceLow)
	}
	return out
}
