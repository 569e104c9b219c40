package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/providers"
	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/pkg/models"
)

type stubProvider struct {
	chat func(ctx context.Context, req *providers.Request) (*models.ChatResult, error)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(ctx context.Context, req *providers.Request) (*models.ChatResult, error) {
	if s.chat == nil {
		return &models.ChatResult{Content: "{}"}, nil
	}
	return s.chat(ctx, req)
}

func (s *stubProvider) ChatStream(ctx context.Context, req *providers.Request) (<-chan *models.ChatChunk, error) {
	ch := make(chan *models.ChatChunk)
	close(ch)
	return ch, nil
}

func (s *stubProvider) ValidateKey(ctx context.Context) error { return nil }
func (s *stubProvider) SupportsVision() bool                  { return false }
func (s *stubProvider) SupportsWebSearch() bool               { return false }
func (s *stubProvider) DefaultModel(tier string) string       { return "stub-" + tier }

func newTestEngine(t *testing.T) (*Engine, *store.User, *store.UserSettings) {
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
	return &Engine{Store: s}, u, st
}

func TestWindow(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	target := time.Date(2025, 6, 14, 15, 0, 0, 0, time.UTC)

	start, end, err := Window(RunDaily, target, loc)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if got := start.In(loc); got.Hour() != 0 || got.Day() != 14 {
		t.Errorf("daily start = %v, want local midnight Jun 14", got)
	}
	if got := end.Sub(start); got != 24*time.Hour {
		t.Errorf("daily span = %v, want 24h", got)
	}

	start, end, _ = Window(RunWeekly, target, loc)
	if got := end.Sub(start); got != 7*24*time.Hour {
		t.Errorf("weekly span = %v, want 168h", got)
	}
	start, end, _ = Window(RunMonthly, target, loc)
	if got := end.Sub(start); got != 30*24*time.Hour {
		t.Errorf("monthly span = %v, want 720h", got)
	}

	if _, _, err := Window("hourly", target, loc); err == nil {
		t.Error("expected error for unknown run type")
	}
}

func TestRunSlotIdempotent(t *testing.T) {
	e, u, st := newTestEngine(t)
	ctx := context.Background()
	target := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	first, err := e.Run(ctx, u, st, RunDaily, target, "manual", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.Status != store.RunStatusCompleted {
		t.Fatalf("status = %q, want completed", first.Status)
	}

	second, err := e.Run(ctx, u, st, RunDaily, target, "manual", false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second run claimed a new slot: %d vs %d", second.ID, first.ID)
	}
}

func TestRunMetricsAndRiskFlags(t *testing.T) {
	e, u, st := newTestEngine(t)
	ctx := context.Background()
	target := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	loggedAt := time.Date(2025, 3, 14, 16, 0, 0, 0, time.UTC)

	sys, dia := 144, 92
	if _, err := e.Store.AddVitalsLog(ctx, &store.VitalsLog{
		UserID: u.ID, BPSystolic: &sys, BPDiastolic: &dia, LoggedAt: loggedAt,
	}); err != nil {
		t.Fatalf("AddVitalsLog: %v", err)
	}
	if _, err := e.Store.AddFoodLog(ctx, &store.FoodLog{
		UserID: u.ID, MealLabel: "lunch", Calories: 900, SodiumMg: 2800, LoggedAt: loggedAt,
	}); err != nil {
		t.Fatalf("AddFoodLog: %v", err)
	}

	run, err := e.Run(ctx, u, st, RunDaily, target, "manual", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantFlags := map[string]bool{FlagBPStage2: true, FlagSodiumHigh: true}
	for _, f := range run.RiskFlags {
		delete(wantFlags, f)
	}
	for f := range wantFlags {
		t.Errorf("risk flags missing %q, got %v", f, run.RiskFlags)
	}

	missing := strings.Join(run.MissingData, ",")
	for _, want := range []string{MissingSleep, MissingHydration, MissingExercise, MissingFramework} {
		if !strings.Contains(missing, want) {
			t.Errorf("missing data lacks %q, got %v", want, run.MissingData)
		}
	}
	if strings.Contains(missing, MissingFoods) || strings.Contains(missing, MissingVitals) {
		t.Errorf("logged domains reported missing: %v", run.MissingData)
	}
	if !strings.Contains(run.MetricsJSON, `"meal_count":1`) {
		t.Errorf("metrics missing meal count: %s", run.MetricsJSON)
	}
}

func TestTitleSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"Reduce sodium intake", "Reduce sodium intake", 1, 1},
		{"Reduce the sodium intake", "reduce sodium intake", 1, 1},
		{"Reduce sodium intake", "Increase water intake", 0.01, 0.5},
		{"Walk after dinner", "Track blood pressure weekly", 0, 0},
	}
	for _, tc := range cases {
		got := TitleSimilarity(tc.a, tc.b)
		if got < tc.min || got > tc.max {
			t.Errorf("TitleSimilarity(%q, %q) = %v, want in [%v, %v]", tc.a, tc.b, got, tc.min, tc.max)
		}
	}
}

func TestAutoMergeFoldsDuplicates(t *testing.T) {
	e, u, _ := newTestEngine(t)
	ctx := context.Background()

	firstID, err := e.Store.AddProposal(ctx, &store.AnalysisProposal{
		UserID: u.ID, ProposalKind: ProposalKindGuidanceUpdate, Title: "Reduce sodium intake",
	})
	if err != nil {
		t.Fatalf("AddProposal: %v", err)
	}
	dupID, err := e.Store.AddProposal(ctx, &store.AnalysisProposal{
		UserID: u.ID, ProposalKind: ProposalKindGuidanceUpdate, Title: "reduce the sodium intake",
	})
	if err != nil {
		t.Fatalf("AddProposal: %v", err)
	}
	if _, err := e.Store.AddProposal(ctx, &store.AnalysisProposal{
		UserID: u.ID, ProposalKind: ProposalKindGuidanceUpdate, Title: "Walk after dinner",
	}); err != nil {
		t.Fatalf("AddProposal: %v", err)
	}

	if err := e.autoMerge(ctx, u.ID); err != nil {
		t.Fatalf("autoMerge: %v", err)
	}

	pending, err := e.Store.PendingProposals(ctx, u.ID)
	if err != nil {
		t.Fatalf("PendingProposals: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending after merge = %d, want 2", len(pending))
	}

	survivor, err := e.Store.GetProposal(ctx, u.ID, firstID)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if survivor.MergedCount != 1 || len(survivor.MergeTrace) != 1 {
		t.Errorf("survivor merged_count = %d trace = %v", survivor.MergedCount, survivor.MergeTrace)
	}
	dup, _ := e.Store.GetProposal(ctx, u.ID, dupID)
	if dup.Status != store.ProposalExpired {
		t.Errorf("duplicate status = %q, want expired", dup.Status)
	}
}

func TestReviewerApplyFrameworkAndUndo(t *testing.T) {
	e, u, _ := newTestEngine(t)
	ctx := context.Background()
	r := &Reviewer{Store: e.Store}

	id, err := e.Store.AddProposal(ctx, &store.AnalysisProposal{
		UserID: u.ID, ProposalKind: ProposalKindGuidanceUpdate, Title: "Adopt DASH approach",
		PayloadJSON: `{"target": "framework", "framework_type": "dietary", "name": "DASH", "description": "Lower-sodium eating pattern", "priority": 80}`,
	})
	if err != nil {
		t.Fatalf("AddProposal: %v", err)
	}

	applied, err := r.Apply(ctx, u.ID, id, nil, "looks right")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied.Status != store.ProposalApplied {
		t.Errorf("status = %q, want applied", applied.Status)
	}
	active, err := e.Store.ActiveFrameworks(ctx, u.ID)
	if err != nil || len(active) != 1 || active[0].Name != "DASH" {
		t.Fatalf("active frameworks = %v, err %v", active, err)
	}

	undone, err := r.Undo(ctx, u.ID, id, nil, "")
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if undone.Status != store.ProposalRejected {
		t.Errorf("status after undo = %q, want rejected", undone.Status)
	}
	active, _ = e.Store.ActiveFrameworks(ctx, u.ID)
	if len(active) != 0 {
		t.Errorf("framework still active after undo: %v", active)
	}
}

func TestReviewerRejectsBadTransitions(t *testing.T) {
	e, u, _ := newTestEngine(t)
	ctx := context.Background()
	r := &Reviewer{Store: e.Store}

	id, _ := e.Store.AddProposal(ctx, &store.AnalysisProposal{
		UserID: u.ID, ProposalKind: ProposalKindExperiment, Title: "Walk after dinner",
	})
	if _, err := r.Undo(ctx, u.ID, id, nil, ""); err == nil {
		t.Error("expected error undoing a pending proposal")
	}
	if _, err := r.Reject(ctx, u.ID, id, nil, "no"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, err := r.Apply(ctx, u.ID, id, nil, ""); err == nil {
		t.Error("expected error applying a rejected proposal")
	}
}

func TestRunSynthesisInsertsProposals(t *testing.T) {
	e, u, st := newTestEngine(t)
	ctx := context.Background()
	st.EncryptedAPIKey = "key"

	e.NewProvider = func(ctx context.Context, settings *store.UserSettings) (providers.Provider, error) {
		return &stubProvider{chat: func(ctx context.Context, req *providers.Request) (*models.ChatResult, error) {
			return &models.ChatResult{Content: `{
				"confidence": 0.8,
				"summary_markdown": "## Week\nSteady progress.",
				"risk_flags": ["sleep_debt"],
				"recommendations": ["Earlier bedtime"],
				"proposals": [{"kind": "habit", "title": "Earlier bedtime", "payload": {"target": "22:30"}}]
			}`}, nil
		}}, nil
	}

	run, err := e.Run(ctx, u, st, RunDaily, time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC), "manual", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.SummaryMarkdown == "" || run.Confidence != 0.8 {
		t.Errorf("synthesis not recorded: summary=%q confidence=%v", run.SummaryMarkdown, run.Confidence)
	}
	found := false
	for _, f := range run.RiskFlags {
		if f == "sleep_debt" {
			found = true
		}
	}
	if !found {
		t.Errorf("model risk flag not merged: %v", run.RiskFlags)
	}

	pending, err := e.Store.PendingProposals(ctx, u.ID)
	if err != nil {
		t.Fatalf("PendingProposals: %v", err)
	}
	if len(pending) != 1 || pending[0].Title != "Earlier bedtime" {
		t.Fatalf("pending = %v", pending)
	}
	// The model's freeform kind folds into the closed vocabulary.
	if pending[0].ProposalKind != ProposalKindGuidanceUpdate {
		t.Errorf("kind = %q, want %q", pending[0].ProposalKind, ProposalKindGuidanceUpdate)
	}
}

func TestAutoApplyAppliesOnlyFrameworkTargets(t *testing.T) {
	e, u, st := newTestEngine(t)
	ctx := context.Background()
	st.EncryptedAPIKey = "key"
	e.AutoApply = true

	e.NewProvider = func(ctx context.Context, settings *store.UserSettings) (providers.Provider, error) {
		return &stubProvider{chat: func(ctx context.Context, req *providers.Request) (*models.ChatResult, error) {
			return &models.ChatResult{Content: `{
				"confidence": 0.8,
				"summary_markdown": "## Week\nSteady progress.",
				"proposals": [
					{"kind": "guidance_update", "title": "Adopt DASH approach",
					 "payload": {"target": "framework", "framework_type": "dietary", "name": "DASH", "description": "Lower-sodium eating pattern", "priority": 80}},
					{"kind": "experiment", "title": "Two-week earlier bedtime",
					 "payload": {"hypothesis": "more deep sleep"}}
				]
			}`}, nil
		}}, nil
	}

	if _, err := e.Run(ctx, u, st, RunDaily, time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC), "manual", false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	pending, err := e.Store.PendingProposals(ctx, u.ID)
	if err != nil {
		t.Fatalf("PendingProposals: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after auto-review = %v, want none", pending)
	}

	reviewed, err := e.Store.ApprovedProposals(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("ApprovedProposals: %v", err)
	}
	statuses := map[string]string{}
	for _, p := range reviewed {
		statuses[p.Title] = p.Status
	}
	// Only the framework-targeted proposal executes; the rest wait approved.
	if statuses["Adopt DASH approach"] != store.ProposalApplied {
		t.Errorf("framework proposal status = %q, want applied", statuses["Adopt DASH approach"])
	}
	if statuses["Two-week earlier bedtime"] != store.ProposalApproved {
		t.Errorf("experiment status = %q, want approved", statuses["Two-week earlier bedtime"])
	}

	active, err := e.Store.ActiveFrameworks(ctx, u.ID)
	if err != nil || len(active) != 1 || active[0].Name != "DASH" {
		t.Fatalf("active frameworks = %v, err %v", active, err)
	}
}

func TestRunSynthesisFailureKeepsMetrics(t *testing.T) {
	e, u, st := newTestEngine(t)
	ctx := context.Background()
	st.EncryptedAPIKey = "key"
	e.NewProvider = func(ctx context.Context, settings *store.UserSettings) (providers.Provider, error) {
		return &stubProvider{chat: func(ctx context.Context, req *providers.Request) (*models.ChatResult, error) {
			return nil, errors.New("rate limited")
		}}, nil
	}

	run, err := e.Run(ctx, u, st, RunDaily, time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC), "manual", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != store.RunStatusCompleted {
		t.Errorf("status = %q, want completed despite synthesis failure", run.Status)
	}
	if run.SummaryMarkdown != "" {
		t.Errorf("unexpected summary from failed synthesis: %q", run.SummaryMarkdown)
	}
	if run.MetricsJSON == "" || run.MetricsJSON == "{}" {
		t.Error("deterministic metrics missing")
	}
}

func TestDispatcherDebounceCollapsesKicks(t *testing.T) {
	e, u, _ := newTestEngine(t)
	d := &Dispatcher{Engine: e, Store: e.Store, Debounce: 30 * time.Millisecond}

	for i := 0; i < 5; i++ {
		d.Kick(u.ID)
	}
	time.Sleep(150 * time.Millisecond)

	latest, err := e.Store.LatestAnalysisRun(context.Background(), u.ID, RunDaily)
	if err != nil {
		t.Fatalf("LatestAnalysisRun: %v", err)
	}
	if latest.TriggerSource != "log_activity" {
		t.Errorf("trigger = %q, want log_activity", latest.TriggerSource)
	}
}
