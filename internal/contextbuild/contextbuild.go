// Package contextbuild assembles the system prompt the reasoning model
// sees. The stable portion (identity, profile, frameworks, med lists) is
// cached per user+specialist; the today snapshot and turn blocks are rebuilt
// every call. A character budget bounds the total, favoring required blocks.
package contextbuild

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/observability"
	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/structured"
)

// Budget holds the per-section character caps for one intent class.
type Budget struct {
	MaxTotal      int
	Profile       int
	Framework     int
	MedsSupps     int
	TodaySnapshot int
	DailySummary  int
	WeeklySummary int
	Guidance      int
	MinSection    int
}

// BudgetFor returns the caps for a logging or non-logging turn.
func BudgetFor(isLog bool) Budget {
	if isLog {
		return Budget{
			MaxTotal: 13000, Profile: 1500, Framework: 1400, MedsSupps: 1800,
			TodaySnapshot: 2200, DailySummary: 1200, WeeklySummary: 900,
			Guidance: 1600, MinSection: 220,
		}
	}
	return Budget{
		MaxTotal: 18000, Profile: 1500, Framework: 1400, MedsSupps: 1800,
		TodaySnapshot: 3200, DailySummary: 1800, WeeklySummary: 1500,
		Guidance: 1600, MinSection: 220,
	}
}

// Builder assembles prompts. Safe for concurrent use.
type Builder struct {
	Store *store.Store
	Log   *observability.Logger

	// BasePrompt opens every system prompt.
	BasePrompt string
	// SpecialistPrompts maps specialist id to its framing prompt.
	SpecialistPrompts map[string]string
	// PromptsUpdatedAt invalidates the cache when specialist config changes.
	PromptsUpdatedAt time.Time

	cache stableCache
}

// Input is one assembly request. Dynamic blocks come from the orchestrator
// and are never cached.
type Input struct {
	User         *store.User
	Settings     *store.UserSettings
	Specialist   string
	IsLogIntent  bool
	ReferenceUTC time.Time
	Dynamic      []string
}

// Build produces the full system prompt within the budget.
func (b *Builder) Build(ctx context.Context, in *Input) (string, error) {
	if in.User == nil || in.Settings == nil {
		return "", errors.New("contextbuild: user and settings are required")
	}
	budget := BudgetFor(in.IsLogIntent)

	stable, err := b.stableBlock(ctx, in, budget)
	if err != nil {
		return "", err
	}
	snapshot, err := b.todaySnapshot(ctx, in)
	if err != nil {
		return "", err
	}
	snapshot = clip(snapshot, budget.TodaySnapshot)

	// Required blocks are clipped to fit; optional blocks are dropped whole
	// rather than half-included.
	var sections []string
	total := 0
	appendRequired := func(s string) {
		remaining := budget.MaxTotal - total
		if len(s) > remaining {
			s = clip(s, remaining)
		}
		if s != "" {
			sections = append(sections, s)
			total += len(s) + 2
		}
	}
	appendOptional := func(s string, limit int) {
		if s == "" {
			return
		}
		s = clip(s, limit)
		if len(s) < budget.MinSection {
			return
		}
		if total+len(s) > budget.MaxTotal {
			return
		}
		sections = append(sections, s)
		total += len(s) + 2
	}

	appendRequired(stable)
	appendRequired(snapshot)

	if guidance := b.guidanceBlock(ctx, in.User.ID); guidance != "" {
		appendOptional(guidance, budget.Guidance)
	}
	if daily := b.summaryBlock(ctx, in.User.ID, "daily", "Yesterday's Summary"); daily != "" {
		appendOptional(daily, budget.DailySummary)
	}
	if weekly := b.summaryBlock(ctx, in.User.ID, "weekly", "Last Week's Summary"); weekly != "" {
		appendOptional(weekly, budget.WeeklySummary)
	}

	for _, block := range in.Dynamic {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		appendRequired(block)
	}

	return strings.Join(sections, "\n\n"), nil
}

// clip bounds s to max characters, marking the cut.
func clip(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	const marker = "…[truncated]"
	if max <= len(marker) {
		return s[:max]
	}
	return s[:max-len(marker)] + marker
}

// stableBlock returns the cached identity + profile + framework + med/supp
// portion, rebuilding it on cache miss.
func (b *Builder) stableBlock(ctx context.Context, in *Input, budget Budget) (string, error) {
	frameworks, err := b.Store.ActiveFrameworks(ctx, in.User.ID)
	if err != nil {
		return "", err
	}
	var maxFrameworkUpdated time.Time
	for _, f := range frameworks {
		if f.UpdatedAt.After(maxFrameworkUpdated) {
			maxFrameworkUpdated = f.UpdatedAt
		}
	}

	key := cacheKey{
		userID:           in.User.ID,
		specialist:       in.Specialist,
		settingsUpdated:  in.Settings.UpdatedAt.UnixNano(),
		promptsUpdated:   b.PromptsUpdatedAt.UnixNano(),
		frameworkUpdated: maxFrameworkUpdated.UnixNano(),
		isLog:            in.IsLogIntent,
	}
	if cached, ok := b.cache.get(key); ok {
		return cached, nil
	}

	var sb strings.Builder
	if b.BasePrompt != "" {
		sb.WriteString(b.BasePrompt)
		sb.WriteString("\n\n")
	}
	if p := b.SpecialistPrompts[in.Specialist]; p != "" {
		sb.WriteString(p)
		sb.WriteString("\n\n")
	}

	sb.WriteString(clip(profileSection(in.User, in.Settings), budget.Profile))
	if fw := frameworkSection(frameworks); fw != "" {
		sb.WriteString("\n\n")
		sb.WriteString(clip(fw, budget.Framework))
	}
	if ms := medsSuppsSection(in.Settings); ms != "" {
		sb.WriteString("\n\n")
		sb.WriteString(clip(ms, budget.MedsSupps))
	}

	out := sb.String()
	b.cache.put(key, out)
	return out, nil
}

func profileSection(u *store.User, st *store.UserSettings) string {
	var sb strings.Builder
	sb.WriteString("## User Profile\n")
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	fmt.Fprintf(&sb, "Name: %s\n", name)
	if st.Age > 0 {
		fmt.Fprintf(&sb, "Age: %d\n", st.Age)
	}
	if st.Sex != "" {
		fmt.Fprintf(&sb, "Sex: %s\n", st.Sex)
	}
	if st.HeightCm > 0 {
		fmt.Fprintf(&sb, "Height: %s\n", formatHeight(st.HeightCm, st.HeightUnit))
	}
	if st.WeightKg > 0 {
		fmt.Fprintf(&sb, "Weight: %s\n", formatWeight(st.WeightKg, st.WeightUnit))
	}
	if st.GoalWeightKg > 0 {
		fmt.Fprintf(&sb, "Goal weight: %s\n", formatWeight(st.GoalWeightKg, st.WeightUnit))
	}
	if len(st.MedicalConditions) > 0 {
		fmt.Fprintf(&sb, "Medical conditions: %s\n", strings.Join(st.MedicalConditions, ", "))
	}
	if len(st.DietaryPreferences) > 0 {
		fmt.Fprintf(&sb, "Dietary preferences: %s\n", strings.Join(st.DietaryPreferences, ", "))
	}
	if len(st.HealthGoals) > 0 {
		fmt.Fprintf(&sb, "Health goals: %s\n", strings.Join(st.HealthGoals, ", "))
	}
	if len(st.FamilyHistory) > 0 {
		fmt.Fprintf(&sb, "Family history: %s\n", strings.Join(st.FamilyHistory, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// frameworkSection lists active frameworks with a weight-percent allocation
// proportional to priority.
func frameworkSection(frameworks []store.HealthFramework) string {
	if len(frameworks) == 0 {
		return ""
	}
	totalPriority := 0
	for _, f := range frameworks {
		if f.Priority > 0 {
			totalPriority += f.Priority
		}
	}
	var sb strings.Builder
	sb.WriteString("## Active Health Frameworks\n")
	for _, f := range frameworks {
		weight := 0
		if totalPriority > 0 && f.Priority > 0 {
			weight = f.Priority * 100 / totalPriority
		}
		fmt.Fprintf(&sb, "- %s (%d%%): %s\n", f.Name, weight, f.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func medsSuppsSection(st *store.UserSettings) string {
	meds, _ := structured.Parse(st.MedicationsJSON)
	supps, _ := structured.Parse(st.SupplementsJSON)
	if len(meds) == 0 && len(supps) == 0 {
		return ""
	}
	var sb strings.Builder
	if len(meds) > 0 {
		sb.WriteString("## Medications\n")
		for _, it := range meds {
			sb.WriteString(itemLine(it.Name, it.Dose, it.Timing))
		}
	}
	if len(supps) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## Supplements\n")
		for _, it := range supps {
			sb.WriteString(itemLine(it.Name, it.Dose, it.Timing))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func itemLine(name, dose, timing string) string {
	line := "- " + name
	if dose != "" {
		line += " " + dose
	}
	if timing != "" {
		line += " (" + timing + ")"
	}
	return line + "\n"
}

// todaySnapshot summarizes the local day's logs. Never cached.
func (b *Builder) todaySnapshot(ctx context.Context, in *Input) (string, error) {
	loc, err := time.LoadLocation(in.Settings.Timezone)
	if err != nil || in.Settings.Timezone == "" {
		loc = time.UTC
	}
	ref := in.ReferenceUTC
	if ref.IsZero() {
		ref = time.Now().UTC()
	}
	local := ref.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).UTC()
	dayEnd := dayStart.Add(24 * time.Hour)

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Today (%s)\n", local.Format("Monday, January 2"))

	foods, err := b.Store.FoodLogsBetween(ctx, in.User.ID, dayStart, dayEnd)
	if err != nil {
		return "", err
	}
	if len(foods) > 0 {
		var cal, protein, carbs, fat, sodium float64
		names := make([]string, 0, len(foods))
		for _, f := range foods {
			cal += f.Calories
			protein += f.ProteinG
			carbs += f.CarbsG
			fat += f.FatG
			sodium += f.SodiumMg
			if f.MealLabel != "" {
				names = append(names, f.MealLabel)
			}
		}
		fmt.Fprintf(&sb, "Meals logged: %d (%s)\n", len(foods), strings.Join(names, ", "))
		fmt.Fprintf(&sb, "Running totals: %.0f kcal, %.0fg protein, %.0fg carbs, %.0fg fat, %.0fmg sodium\n",
			cal, protein, carbs, fat, sodium)
	} else {
		sb.WriteString("Meals logged: none\n")
	}

	hydration, err := b.Store.HydrationTotalBetween(ctx, in.User.ID, dayStart, dayEnd)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "Hydration: %s\n", formatHydration(hydration, in.Settings.HydrationUnit))

	if v, err := b.Store.LatestVitals(ctx, in.User.ID); err == nil {
		parts := []string{}
		if v.BPSystolic != nil && v.BPDiastolic != nil {
			parts = append(parts, fmt.Sprintf("BP %d/%d", *v.BPSystolic, *v.BPDiastolic))
		}
		if v.HeartRate != nil {
			parts = append(parts, fmt.Sprintf("HR %d", *v.HeartRate))
		}
		if v.WeightKg != nil {
			parts = append(parts, "weight "+formatWeight(*v.WeightKg, in.Settings.WeightUnit))
		}
		if len(parts) > 0 {
			fmt.Fprintf(&sb, "Latest vitals: %s (%s)\n", strings.Join(parts, ", "),
				v.LoggedAt.In(loc).Format("Jan 2 15:04"))
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	exercises, err := b.Store.ExerciseBetween(ctx, in.User.ID, dayStart, dayEnd)
	if err != nil {
		return "", err
	}
	if len(exercises) > 0 {
		minutes := 0
		types := make([]string, 0, len(exercises))
		for _, e := range exercises {
			minutes += e.DurationMinutes
			types = append(types, e.ExerciseType)
		}
		fmt.Fprintf(&sb, "Exercise: %d session(s), %d min (%s)\n", len(exercises), minutes, strings.Join(types, ", "))
	}

	if sl, err := b.Store.LatestSleep(ctx, in.User.ID); err == nil {
		fmt.Fprintf(&sb, "Last sleep: %dh%02dm", sl.DurationMinutes/60, sl.DurationMinutes%60)
		if sl.Quality != "" {
			fmt.Fprintf(&sb, ", quality %s", sl.Quality)
		}
		fmt.Fprintf(&sb, " (%s - %s)\n",
			sl.SleepStart.In(loc).Format("15:04"), sl.SleepEnd.In(loc).Format("15:04"))
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	if fast, err := b.Store.OpenFast(ctx, in.User.ID); err == nil {
		elapsed := ref.Sub(fast.FastStart).Hours()
		fmt.Fprintf(&sb, "Active fast: started %s, %.1f hours elapsed\n",
			fast.FastStart.In(loc).Format("Jan 2 15:04"), elapsed)
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	return strings.TrimRight(sb.String(), "\n"), nil
}

// guidanceBlock lists approved adaptive guidance; errors degrade to an
// absent block rather than failing the prompt.
func (b *Builder) guidanceBlock(ctx context.Context, userID int64) string {
	proposals, err := b.Store.ApprovedProposals(ctx, userID, 6)
	if err != nil || len(proposals) == 0 {
		if err != nil && b.Log != nil {
			b.Log.Warn(ctx, "contextbuild: guidance query failed", "error", err)
		}
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Approved Adaptive Guidance\n")
	for _, p := range proposals {
		fmt.Fprintf(&sb, "- %s\n", p.Title)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Builder) summaryBlock(ctx context.Context, userID int64, runType, heading string) string {
	run, err := b.Store.LatestAnalysisRun(ctx, userID, runType)
	if err != nil || strings.TrimSpace(run.SummaryMarkdown) == "" {
		return ""
	}
	return "## " + heading + "\n" + strings.TrimSpace(run.SummaryMarkdown)
}

const (
	cmPerInch = 2.54
	kgPerLb   = 0.453592
	mlPerCup  = 250
	mlPerOz   = 30
)

func formatHeight(cm float64, unit string) string {
	if unit == "ft" || unit == "in" || unit == "imperial" {
		totalIn := cm / cmPerInch
		ft := int(totalIn) / 12
		in := int(totalIn) % 12
		return fmt.Sprintf("%d'%d\"", ft, in)
	}
	return fmt.Sprintf("%.0f cm", cm)
}

func formatWeight(kg float64, unit string) string {
	if unit == "lb" || unit == "lbs" || unit == "imperial" {
		return fmt.Sprintf("%.1f lb", kg/kgPerLb)
	}
	return fmt.Sprintf("%.1f kg", kg)
}

func formatHydration(ml float64, unit string) string {
	switch unit {
	case "cup", "cups":
		return fmt.Sprintf("%.1f cups", ml/mlPerCup)
	case "oz":
		return fmt.Sprintf("%.0f oz", ml/mlPerOz)
	case "l", "liter", "liters":
		return fmt.Sprintf("%.2f L", ml/1000)
	}
	return fmt.Sprintf("%.0f ml", ml)
}
