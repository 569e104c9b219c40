package tools

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/structured"
)

func newTestCtx(t *testing.T) (*Registry, *ExecCtx) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	u, err := s.CreateUser(context.Background(), "alice", "Alice")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	st, err := s.GetSettings(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	st.Timezone = "America/New_York"
	if err := s.SaveSettings(context.Background(), st); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	ec := &ExecCtx{
		Store:        s,
		User:         u,
		Settings:     st,
		Specialist:   "nutrition",
		ReferenceUTC: time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC),
	}
	return NewRegistry(), ec
}

func exec(t *testing.T, r *Registry, ec *ExecCtx, name string, args map[string]any) map[string]any {
	t.Helper()
	out, err := r.Execute(context.Background(), name, args, ec)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return out
}

func TestExecuteUnknownTool(t *testing.T) {
	r, ec := newTestCtx(t)
	if _, err := r.Execute(context.Background(), "nope", nil, ec); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestExecuteRequiredFields(t *testing.T) {
	r, ec := newTestCtx(t)
	if _, err := r.Execute(context.Background(), "hydration_log_write", map[string]any{}, ec); err == nil {
		t.Fatal("expected missing required field error")
	}
}

func TestResolveTimeForms(t *testing.T) {
	_, ec := newTestCtx(t)
	cases := []struct {
		raw  string
		want time.Time
	}{
		{"", ec.ReferenceUTC},
		{"2025-03-10T12:00:00Z", time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)},
		// Zone-naive timestamps resolve in the user's zone (EDT, UTC-4).
		{"2025-03-10T08:00", time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ec.resolveTime(tc.raw)
		if err != nil {
			t.Fatalf("resolveTime(%q): %v", tc.raw, err)
		}
		if !got.Equal(tc.want) {
			t.Errorf("resolveTime(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
	if _, err := ec.resolveTime("not a time"); err == nil {
		t.Error("expected error for unparseable time")
	}
}

func TestResolveBareClock(t *testing.T) {
	_, ec := newTestCtx(t)
	got, err := ec.resolveTime("8am")
	if err != nil {
		t.Fatalf("resolveTime: %v", err)
	}
	loc, _ := time.LoadLocation("America/New_York")
	local := got.In(loc)
	if local.Hour() != 8 || local.Minute() != 0 {
		t.Errorf("8am resolved to %v local, want 08:00", local.Format("15:04"))
	}
	// Reference is 14:30 local, so 8am means this morning, not tomorrow.
	if !got.Before(ec.ReferenceUTC) {
		t.Errorf("8am should resolve before the reference, got %v", got)
	}
}

func TestFoodLogWriteScalesTemplateMacros(t *testing.T) {
	r, ec := newTestCtx(t)
	created := exec(t, r, ec, "meal_template_upsert", map[string]any{
		"name":          "overnight oats",
		"aliases":       []any{"oats"},
		"base_servings": 2.0,
		"calories":      400.0,
		"protein_g":     20.0,
		"sodium_mg":     300.0,
	})
	if created["status"] != "created" {
		t.Fatalf("template create status = %v", created["status"])
	}

	out := exec(t, r, ec, "food_log_write", map[string]any{
		"meal_name": "Oats",
		"servings":  1.0,
	})
	if out["status"] != "saved" {
		t.Fatalf("food log status = %v", out["status"])
	}
	logID := out["log_id"].(int64)
	l, err := ec.Store.GetFoodLog(context.Background(), ec.User.ID, logID)
	if err != nil {
		t.Fatalf("GetFoodLog: %v", err)
	}
	if l.Calories != 200 || l.ProteinG != 10 || l.SodiumMg != 150 {
		t.Errorf("macros = %v/%v/%v, want 200/10/150 (half of base 2 servings)",
			l.Calories, l.ProteinG, l.SodiumMg)
	}
	if l.MealTemplateID == nil {
		t.Error("expected log linked to template")
	}
}

func TestFastingManageIdempotent(t *testing.T) {
	r, ec := newTestCtx(t)

	first := exec(t, r, ec, "fasting_manage", map[string]any{"action": "start"})
	if first["status"] != "started" {
		t.Fatalf("first start status = %v", first["status"])
	}
	second := exec(t, r, ec, "fasting_manage", map[string]any{"action": "start"})
	if second["status"] != "already_active" {
		t.Fatalf("second start status = %v", second["status"])
	}
	if first["fast_id"] != second["fast_id"] {
		t.Errorf("second start returned a different fast: %v vs %v", first["fast_id"], second["fast_id"])
	}

	ended := exec(t, r, ec, "fasting_manage", map[string]any{
		"action":   "end",
		"fast_end": ec.ReferenceUTC.Add(2 * time.Hour).Format(time.RFC3339),
	})
	if ended["status"] != "ended" {
		t.Fatalf("end status = %v", ended["status"])
	}

	again := exec(t, r, ec, "fasting_manage", map[string]any{"action": "end"})
	if again["status"] != "no_active_fast" {
		t.Errorf("end with nothing open = %v, want no_active_fast", again["status"])
	}
}

func TestChecklistMarkTakenExpandsReference(t *testing.T) {
	r, ec := newTestCtx(t)
	exec(t, r, ec, "medication_set", map[string]any{
		"items": []any{
			map[string]any{"name": "Lisinopril", "dose": "10mg", "timing": "morning"},
			map[string]any{"name": "Atorvastatin", "dose": "20mg", "timing": "night"},
		},
	})

	out := exec(t, r, ec, "checklist_mark_taken", map[string]any{
		"item_type":       "medication",
		"reference_query": "my morning meds",
	})
	names, _ := out["names"].([]string)
	if len(names) != 1 || names[0] != "Lisinopril" {
		t.Fatalf("expanded names = %v, want [Lisinopril]", names)
	}

	items, err := ec.Store.ChecklistForDate(context.Background(), ec.User.ID, ec.localDate())
	if err != nil {
		t.Fatalf("ChecklistForDate: %v", err)
	}
	if len(items) != 1 || !items[0].Completed {
		t.Fatalf("checklist rows = %+v, want one completed row", items)
	}

	// Re-marking stays a single completed row.
	exec(t, r, ec, "checklist_mark_taken", map[string]any{
		"item_type":       "medication",
		"reference_query": "morning meds",
	})
	items, _ = ec.Store.ChecklistForDate(context.Background(), ec.User.ID, ec.localDate())
	if len(items) != 1 {
		t.Fatalf("re-mark duplicated rows: %d", len(items))
	}
}

func TestExecuteAIRejectsOffAllowlist(t *testing.T) {
	r, ec := newTestCtx(t)
	_, err := r.ExecuteAI(context.Background(), "profile_patch", map[string]any{"age": 40}, ec)
	if err == nil {
		t.Fatal("profile_patch must not be AI-callable")
	}
}

func TestExecuteAISchemaValidation(t *testing.T) {
	r, ec := newTestCtx(t)

	if _, err := r.ExecuteAI(context.Background(), "create_goal", map[string]any{
		"title": "walk daily", "bogus": true,
	}, ec); err == nil {
		t.Fatal("extra properties must be rejected")
	}
	if _, err := r.ExecuteAI(context.Background(), "plan_task_update_status", map[string]any{
		"task_id": 1, "status": "finished",
	}, ec); err == nil {
		t.Fatal("status outside the enum must be rejected")
	}

	out, err := r.ExecuteAI(context.Background(), "create_goal", map[string]any{
		"title": "walk daily", "target_date": "2025-06-01",
	}, ec)
	if err != nil {
		t.Fatalf("valid create_goal: %v", err)
	}
	if out["status_detail"] != "created" {
		t.Errorf("create_goal status_detail = %v", out["status_detail"])
	}
}

func TestGoalUpsertMatchesByTitle(t *testing.T) {
	r, ec := newTestCtx(t)
	first := exec(t, r, ec, "goal_upsert", map[string]any{"title": "Lower sodium"})
	if first["status_detail"] != "created" {
		t.Fatalf("first upsert = %v", first["status_detail"])
	}
	second := exec(t, r, ec, "goal_upsert", map[string]any{
		"title": "lower sodium", "description": "under 2g per day",
	})
	if second["status_detail"] != "updated" {
		t.Fatalf("second upsert = %v, want updated", second["status_detail"])
	}
	if first["goal_id"] != second["goal_id"] {
		t.Errorf("upsert created a duplicate goal: %v vs %v", first["goal_id"], second["goal_id"])
	}
}

func TestPlanTaskStatusLifecycle(t *testing.T) {
	r, ec := newTestCtx(t)
	plan := exec(t, r, ec, "exercise_plan_upsert", map[string]any{
		"name":  "Week 1",
		"tasks": []any{"Walk 30 minutes", "Stretch"},
	})
	if plan["tasks"] != 2 {
		t.Fatalf("plan tasks = %v, want 2", plan["tasks"])
	}

	tasks, err := ec.Store.PlanTasksForUser(context.Background(), ec.User.ID, nil)
	if err != nil {
		t.Fatalf("PlanTasksForUser: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("stored tasks = %d", len(tasks))
	}

	out := exec(t, r, ec, "plan_task_update_status", map[string]any{
		"task_id": tasks[0].ID, "status": "done",
	})
	if out["status"] != "updated" {
		t.Fatalf("update status = %v", out["status"])
	}
	repeat := exec(t, r, ec, "plan_task_update_status", map[string]any{
		"task_id": tasks[0].ID, "status": "done",
	})
	if repeat["status"] != "no_changes" {
		t.Errorf("repeat update = %v, want no_changes", repeat["status"])
	}
}

func TestVitalsRequiresPairedBP(t *testing.T) {
	r, ec := newTestCtx(t)
	if _, err := r.Execute(context.Background(), "vitals_log_write",
		map[string]any{"bp_systolic": 120}, ec); err == nil {
		t.Fatal("lone systolic must be rejected")
	}
	out := exec(t, r, ec, "vitals_log_write", map[string]any{
		"bp_systolic": 120, "bp_diastolic": 80,
	})
	if out["status"] != "saved" {
		t.Fatalf("paired BP status = %v", out["status"])
	}
}

func TestVitalsWeightSyncsSettings(t *testing.T) {
	r, ec := newTestCtx(t)
	out := exec(t, r, ec, "vitals_log_write", map[string]any{"weight_kg": 81.6})
	if out["status"] != "saved" {
		t.Fatalf("status = %v", out["status"])
	}
	if out["weight_synced"] != true {
		t.Errorf("weight_synced = %v, want true", out["weight_synced"])
	}

	// The settings profile carries the current weight for context building.
	st, err := ec.Store.GetSettings(context.Background(), ec.User.ID)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if st.WeightKg != 81.6 {
		t.Errorf("settings weight = %v, want 81.6", st.WeightKg)
	}
	if ec.Settings.WeightKg != 81.6 {
		t.Errorf("in-memory settings weight = %v, want 81.6", ec.Settings.WeightKg)
	}
}

func TestSleepLogCrossesMidnight(t *testing.T) {
	r, ec := newTestCtx(t)
	out := exec(t, r, ec, "sleep_log_write", map[string]any{
		"sleep_start": "2025-03-09T23:00",
		"sleep_end":   "2025-03-10T07:00",
	})
	minutes := out["duration_minutes"].(int)
	if minutes != 8*60 {
		t.Errorf("duration = %d minutes, want 480", minutes)
	}
}

func TestResolveItemReferenceNameBeatsTiming(t *testing.T) {
	items := []structured.Item{
		{Name: "magnesium", Timing: "night"},
		{Name: "vitamin d", Timing: "morning"},
	}
	got := resolveItemReference("morning magnesium", items)
	if len(got) != 1 || got[0].Name != "magnesium" {
		t.Fatalf("name fragment should win over timing cue, got %v", got)
	}
	got = resolveItemReference("my supplements", items)
	if len(got) != 2 {
		t.Fatalf("collective phrase should return all, got %v", got)
	}
}

func TestSpecialistAllowList(t *testing.T) {
	r, ec := newTestCtx(t)
	r.Register(&Tool{
		Spec: Spec{
			Name:               "restricted_tool",
			AllowedSpecialists: map[string]bool{"cardio": true},
		},
		Run: func(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	if _, err := r.Execute(context.Background(), "restricted_tool", nil, ec); err == nil {
		t.Fatal("nutrition specialist must be blocked")
	}
	ec.Specialist = "cardio"
	if _, err := r.Execute(context.Background(), "restricted_tool", nil, ec); err != nil {
		t.Fatalf("cardio specialist blocked: %v", err)
	}
}
