package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestUser(t *testing.T, s *Store) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), "Alice", "Alice")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestCreateUserFoldsUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := newTestUser(t, s)
	if u.Username != "alice" {
		t.Errorf("username = %q, want alice", u.Username)
	}

	got, err := s.GetUserByUsername(ctx, "  ALICE ")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("lookup returned user %d, want %d", got.ID, u.ID)
	}

	if _, err := s.CreateUser(ctx, "ALICE", "Other"); err == nil {
		t.Error("expected unique violation for case-folded duplicate")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	st, err := s.GetSettings(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetSettings (fresh): %v", err)
	}
	st.Timezone = "America/New_York"
	st.HealthGoals = []string{"lower bp"}
	st.MedicationsJSON = `[{"name":"lisinopril","dose":"10mg","timing":"morning"}]`
	st.SpecialistOverrides = map[string]string{"log_food": "nutritionist"}
	if err := s.SaveSettings(ctx, st); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	got, err := s.GetSettings(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if got.Timezone != "America/New_York" {
		t.Errorf("timezone = %q", got.Timezone)
	}
	if len(got.HealthGoals) != 1 || got.HealthGoals[0] != "lower bp" {
		t.Errorf("health goals = %v", got.HealthGoals)
	}
	if got.SpecialistOverrides["log_food"] != "nutritionist" {
		t.Errorf("overrides = %v", got.SpecialistOverrides)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updated_at not set")
	}
}

func TestSingleOpenFast(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	start := time.Now().UTC().Add(-2 * time.Hour)
	first, created, err := s.StartFast(ctx, u.ID, start)
	if err != nil {
		t.Fatalf("StartFast: %v", err)
	}
	if !created {
		t.Fatal("first StartFast should create")
	}

	// Second start with an open fast returns the existing row.
	second, created, err := s.StartFast(ctx, u.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("StartFast (second): %v", err)
	}
	if created {
		t.Error("second StartFast should not create")
	}
	if second.ID != first.ID {
		t.Errorf("second fast id = %d, want %d", second.ID, first.ID)
	}

	if n, _ := s.CountOpenFasts(ctx, u.ID); n != 1 {
		t.Errorf("open fasts = %d, want 1", n)
	}

	ended, err := s.EndFast(ctx, u.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("EndFast: %v", err)
	}
	if ended.FastEnd == nil || ended.DurationMinutes == nil {
		t.Fatal("ended fast missing end or duration")
	}
	if *ended.DurationMinutes < 115 || *ended.DurationMinutes > 125 {
		t.Errorf("duration = %d minutes, want ~120", *ended.DurationMinutes)
	}

	if _, err := s.EndFast(ctx, u.ID, time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Errorf("EndFast with no open fast: %v, want ErrNotFound", err)
	}
}

func TestOpenFastUniqueIndexBlocksSecondRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	if _, _, err := s.StartFast(ctx, u.ID, time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("StartFast: %v", err)
	}

	// The partial unique index must reject a second open row even when it
	// bypasses the StartFast upsert.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO fasting_logs (user_id, fast_start) VALUES (?, ?)`,
		u.ID, fmtTime(time.Now().UTC())); err == nil {
		t.Fatal("raw second open fast row was not rejected")
	}
	if n, _ := s.CountOpenFasts(ctx, u.ID); n != 1 {
		t.Errorf("open fasts = %d, want 1", n)
	}
}

func TestStaleFastAutoClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	start := time.Now().UTC().Add(-40 * time.Hour)
	if _, _, err := s.StartFast(ctx, u.ID, start); err != nil {
		t.Fatalf("StartFast: %v", err)
	}

	// Reading the open fast force-closes the stale row first.
	if _, err := s.OpenFast(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("OpenFast after stale close: %v, want ErrNotFound", err)
	}
	if n, _ := s.CountOpenFasts(ctx, u.ID); n != 0 {
		t.Errorf("open fasts = %d, want 0", n)
	}
}

func TestChecklistUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	item := &ChecklistItem{
		UserID: u.ID, TargetDate: "2026-08-24",
		ItemType: "supplement", ItemName: "vitamin d", Completed: true,
	}
	for i := 0; i < 3; i++ {
		if err := s.UpsertChecklistItem(ctx, item); err != nil {
			t.Fatalf("UpsertChecklistItem: %v", err)
		}
	}
	// A later not-completed write must not clear the completed flag.
	if err := s.UpsertChecklistItem(ctx, &ChecklistItem{
		UserID: u.ID, TargetDate: "2026-08-24",
		ItemType: "supplement", ItemName: "vitamin d", Completed: false,
	}); err != nil {
		t.Fatalf("UpsertChecklistItem (uncheck): %v", err)
	}

	items, err := s.ChecklistForDate(ctx, u.ID, "2026-08-24")
	if err != nil {
		t.Fatalf("ChecklistForDate: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if !items[0].Completed {
		t.Error("completed flag was cleared")
	}
}

func TestAnalysisRunSlotUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	start := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	first, created, err := s.BeginAnalysisRun(ctx, &AnalysisRun{
		UserID: u.ID, RunType: "daily", PeriodStart: start, PeriodEnd: end,
		TriggerSource: "debounce",
	})
	if err != nil {
		t.Fatalf("BeginAnalysisRun: %v", err)
	}
	if !created {
		t.Fatal("first run should create")
	}

	second, created, err := s.BeginAnalysisRun(ctx, &AnalysisRun{
		UserID: u.ID, RunType: "daily", PeriodStart: start, PeriodEnd: end,
		TriggerSource: "cron",
	})
	if err != nil {
		t.Fatalf("BeginAnalysisRun (second): %v", err)
	}
	if created {
		t.Error("second run for same slot should not create")
	}
	if second.ID != first.ID {
		t.Errorf("second run id = %d, want %d", second.ID, first.ID)
	}

	first.Status = RunStatusCompleted
	first.SummaryMarkdown = "## Daily\nAll on track."
	first.Confidence = 0.8
	if err := s.CompleteAnalysisRun(ctx, first); err != nil {
		t.Fatalf("CompleteAnalysisRun: %v", err)
	}
	latest, err := s.LatestAnalysisRun(ctx, u.ID, "daily")
	if err != nil {
		t.Fatalf("LatestAnalysisRun: %v", err)
	}
	if latest.SummaryMarkdown == "" || latest.Confidence != 0.8 {
		t.Errorf("latest run = %+v", latest)
	}
}

func TestProposalLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	run, _, err := s.BeginAnalysisRun(ctx, &AnalysisRun{
		UserID: u.ID, RunType: "weekly",
		PeriodStart: time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("BeginAnalysisRun: %v", err)
	}

	id, err := s.AddProposal(ctx, &AnalysisProposal{
		RunID: run.ID, UserID: u.ID, ProposalKind: "goal",
		Title: "Increase daily hydration", PayloadJSON: `{"target_ml":2500}`,
	})
	if err != nil {
		t.Fatalf("AddProposal: %v", err)
	}

	if err := s.MergeProposal(ctx, u.ID, id, "Drink more water"); err != nil {
		t.Fatalf("MergeProposal: %v", err)
	}
	p, err := s.GetProposal(ctx, u.ID, id)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if p.MergedCount != 1 || len(p.MergeTrace) != 1 {
		t.Errorf("merge count = %d trace = %v", p.MergedCount, p.MergeTrace)
	}

	if err := s.UpdateProposalStatus(ctx, u.ID, id, ProposalApproved, &u.ID, "looks right"); err != nil {
		t.Fatalf("UpdateProposalStatus: %v", err)
	}
	p, _ = s.GetProposal(ctx, u.ID, id)
	if p.Status != ProposalApproved || p.ReviewerID == nil || p.ReviewedAt == nil {
		t.Errorf("after approve: %+v", p)
	}

	pending, err := s.PendingProposals(ctx, u.ID)
	if err != nil {
		t.Fatalf("PendingProposals: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestExpireProposals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	run, _, err := s.BeginAnalysisRun(ctx, &AnalysisRun{
		UserID: u.ID, RunType: "daily",
		PeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("BeginAnalysisRun: %v", err)
	}
	old := &AnalysisProposal{
		RunID: run.ID, UserID: u.ID, ProposalKind: "framework",
		Title: "Old idea", CreatedAt: time.Now().UTC().Add(-30 * 24 * time.Hour),
	}
	if _, err := s.AddProposal(ctx, old); err != nil {
		t.Fatalf("AddProposal: %v", err)
	}

	n, err := s.ExpireProposals(ctx, u.ID, time.Now().UTC().Add(-14*24*time.Hour))
	if err != nil {
		t.Fatalf("ExpireProposals: %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}
	p, _ := s.GetProposal(ctx, u.ID, old.ID)
	if p.Status != ProposalExpired {
		t.Errorf("status = %q, want expired", p.Status)
	}
}

func TestNotificationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	id, err := s.AddNotification(ctx, &Notification{
		UserID: u.ID, Category: NotificationTimeConfirmation,
		Message: "I logged breakfast at 8:00am — correct?",
		Payload: `{"state":"pending","log_table":"food_logs","log_id":1}`,
	})
	if err != nil {
		t.Fatalf("AddNotification: %v", err)
	}

	got, err := s.LatestUnread(ctx, u.ID, NotificationTimeConfirmation)
	if err != nil {
		t.Fatalf("LatestUnread: %v", err)
	}
	if got.ID != id {
		t.Errorf("latest unread id = %d, want %d", got.ID, id)
	}

	if err := s.MarkNotificationRead(ctx, u.ID, id); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	if _, err := s.LatestUnread(ctx, u.ID, NotificationTimeConfirmation); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestUnread after read: %v, want ErrNotFound", err)
	}
}

func TestMealTemplateResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	tmpl := &MealTemplate{
		UserID: u.ID, Name: "Protein Oats",
		Aliases:  []string{"my oats", "usual breakfast"},
		Calories: 420, ProteinG: 32,
	}
	if _, err := s.CreateMealTemplate(ctx, tmpl); err != nil {
		t.Fatalf("CreateMealTemplate: %v", err)
	}

	tests := []struct {
		query   string
		wantHit bool
	}{
		{"protein oats", true},
		{"  PROTEIN OATS ", true},
		{"usual breakfast", true},
		{"mystery meal", false},
	}
	for _, tt := range tests {
		got, err := s.ResolveMealTemplate(ctx, u.ID, tt.query)
		if tt.wantHit {
			if err != nil {
				t.Errorf("ResolveMealTemplate(%q): %v", tt.query, err)
				continue
			}
			if got.ID != tmpl.ID {
				t.Errorf("ResolveMealTemplate(%q) = %d, want %d", tt.query, got.ID, tmpl.ID)
			}
		} else if !errors.Is(err, ErrNotFound) {
			t.Errorf("ResolveMealTemplate(%q): %v, want ErrNotFound", tt.query, err)
		}
	}

	// Archived templates never resolve.
	if err := s.ArchiveMealTemplate(ctx, u.ID, tmpl.ID); err != nil {
		t.Fatalf("ArchiveMealTemplate: %v", err)
	}
	if _, err := s.ResolveMealTemplate(ctx, u.ID, "protein oats"); !errors.Is(err, ErrNotFound) {
		t.Errorf("archived template resolved: %v", err)
	}
}

func TestMealTemplateVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	tmpl := &MealTemplate{UserID: u.ID, Name: "Smoothie", Calories: 300}
	if _, err := s.CreateMealTemplate(ctx, tmpl); err != nil {
		t.Fatalf("CreateMealTemplate: %v", err)
	}
	tmpl.Calories = 350
	if err := s.UpdateMealTemplate(ctx, tmpl); err != nil {
		t.Fatalf("UpdateMealTemplate: %v", err)
	}

	var versions int
	if err := s.DB().QueryRow(
		`SELECT COUNT(*) FROM meal_template_versions WHERE template_id = ?`, tmpl.ID).Scan(&versions); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if versions != 2 {
		t.Errorf("versions = %d, want 2", versions)
	}
}

func TestResetUserClearsDomainRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	now := time.Now().UTC()
	if _, err := s.AddMessage(ctx, &Message{UserID: u.ID, Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := s.AddFoodLog(ctx, &FoodLog{UserID: u.ID, MealLabel: "lunch", LoggedAt: now}); err != nil {
		t.Fatalf("AddFoodLog: %v", err)
	}
	if _, err := s.AddGoal(ctx, &Goal{UserID: u.ID, Title: "walk daily"}); err != nil {
		t.Fatalf("AddGoal: %v", err)
	}

	if err := s.ResetUser(ctx, u.ID); err != nil {
		t.Fatalf("ResetUser: %v", err)
	}

	msgs, err := s.RecentMessages(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages after reset = %d", len(msgs))
	}
	goals, _ := s.GoalsByStatus(ctx, u.ID, "active")
	if len(goals) != 0 {
		t.Errorf("goals after reset = %d", len(goals))
	}

	// Account and settings survive; token version bumped.
	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser after reset: %v", err)
	}
	if got.TokenVersion != u.TokenVersion+1 {
		t.Errorf("token version = %d, want %d", got.TokenVersion, u.TokenVersion+1)
	}
	if _, err := s.GetSettings(ctx, u.ID); err != nil {
		t.Errorf("settings after reset: %v", err)
	}
}

func TestRecentMessagesChronological(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		if _, err := s.AddMessage(ctx, &Message{
			UserID: u.ID, Role: "user", Content: string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	msgs, err := s.RecentMessages(ctx, u.ID, 3)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	// Newest three, oldest first.
	if msgs[0].Content != "c" || msgs[2].Content != "e" {
		t.Errorf("order = %q %q %q", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
}

func TestHydrationTotalBetween(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	amounts := []float64{250, 500, 330}
	for i, ml := range amounts {
		if _, err := s.AddHydrationLog(ctx, &HydrationLog{
			UserID: u.ID, AmountML: ml, LoggedAt: day.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("AddHydrationLog: %v", err)
		}
	}
	// Outside the window.
	if _, err := s.AddHydrationLog(ctx, &HydrationLog{
		UserID: u.ID, AmountML: 999, LoggedAt: day.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("AddHydrationLog: %v", err)
	}

	total, err := s.HydrationTotalBetween(ctx, u.ID, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("HydrationTotalBetween: %v", err)
	}
	if total != 1080 {
		t.Errorf("total = %v, want 1080", total)
	}
}

func TestUpdateLogTimeScopedToUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)
	other, err := s.CreateUser(ctx, "bob", "Bob")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	now := time.Now().UTC()
	id, err := s.AddFoodLog(ctx, &FoodLog{UserID: u.ID, MealLabel: "dinner", LoggedAt: now})
	if err != nil {
		t.Fatalf("AddFoodLog: %v", err)
	}

	// Another user cannot retime the row.
	if err := s.UpdateFoodLogTime(ctx, other.ID, id, now.Add(-time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user update: %v, want ErrNotFound", err)
	}

	corrected := now.Add(-2 * time.Hour)
	if err := s.UpdateFoodLogTime(ctx, u.ID, id, corrected); err != nil {
		t.Fatalf("UpdateFoodLogTime: %v", err)
	}
	got, err := s.GetFoodLog(ctx, u.ID, id)
	if err != nil {
		t.Fatalf("GetFoodLog: %v", err)
	}
	if !got.LoggedAt.Equal(corrected.Truncate(time.Nanosecond)) {
		t.Errorf("logged_at = %v, want %v", got.LoggedAt, corrected)
	}
}

func TestFeedbackDedupe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	f := &FeedbackEntry{UserID: u.ID, Kind: "request", Title: "dark mode"}
	if _, err := s.AddFeedback(ctx, f); err != nil {
		t.Fatalf("AddFeedback: %v", err)
	}

	cutoff := time.Now().UTC().Add(-30 * time.Minute)
	dup, err := s.HasRecentFeedback(ctx, u.ID, "request", "dark mode", cutoff)
	if err != nil {
		t.Fatalf("HasRecentFeedback: %v", err)
	}
	if !dup {
		t.Error("expected recent duplicate")
	}
	dup, _ = s.HasRecentFeedback(ctx, u.ID, "request", "something else", cutoff)
	if dup {
		t.Error("unexpected duplicate for different title")
	}
}
