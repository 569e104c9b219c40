package contextbuild

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/store"
)

func newTestBuilder(t *testing.T) (*Builder, *store.User, *store.UserSettings) {
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
	st.Age = 52
	st.Timezone = "America/New_York"
	st.MedicalConditions = []string{"hypertension"}
	if err := s.SaveSettings(context.Background(), st); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	b := &Builder{
		Store:      s,
		BasePrompt: "You are a personal health coach.",
		SpecialistPrompts: map[string]string{
			"nutrition": "Focus on dietary guidance.",
		},
	}
	return b, u, st
}

func TestBudgetFor(t *testing.T) {
	if got := BudgetFor(true).MaxTotal; got != 13000 {
		t.Errorf("log budget = %d, want 13000", got)
	}
	if got := BudgetFor(false).MaxTotal; got != 18000 {
		t.Errorf("non-log budget = %d, want 18000", got)
	}
}

func TestBuildIncludesProfileAndSnapshot(t *testing.T) {
	b, u, st := newTestBuilder(t)
	ref := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

	if _, err := b.Store.AddFoodLog(context.Background(), &store.FoodLog{
		UserID: u.ID, MealLabel: "lunch", Calories: 600, ProteinG: 30,
		LoggedAt: ref.Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("AddFoodLog: %v", err)
	}

	out, err := b.Build(context.Background(), &Input{
		User: u, Settings: st, Specialist: "nutrition",
		ReferenceUTC: ref,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, want := range []string{
		"personal health coach", "dietary guidance",
		"Age: 52", "hypertension",
		"Meals logged: 1 (lunch)", "600 kcal",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildDynamicBlocksAppended(t *testing.T) {
	b, u, st := newTestBuilder(t)
	out, err := b.Build(context.Background(), &Input{
		User: u, Settings: st, Specialist: "nutrition",
		Dynamic: []string{"## Write Status\nSaved food log #12."},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(out, "Saved food log #12.") {
		t.Error("dynamic block missing from prompt")
	}
}

func TestClip(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := clip(long, 50)
	if len(got) != 50 {
		t.Errorf("clip length = %d, want 50", len(got))
	}
	if !strings.HasSuffix(got, "…[truncated]") {
		t.Errorf("clip result missing marker: %q", got)
	}
	if clip("short", 50) != "short" {
		t.Error("clip must not touch strings within budget")
	}
}

func TestStableBlockCached(t *testing.T) {
	b, u, st := newTestBuilder(t)
	in := &Input{User: u, Settings: st, Specialist: "nutrition"}
	budget := BudgetFor(false)

	first, err := b.stableBlock(context.Background(), in, budget)
	if err != nil {
		t.Fatalf("stableBlock: %v", err)
	}
	// Mutating the prompt without touching any cache-key input must still
	// serve the cached text.
	b.BasePrompt = "CHANGED"
	second, _ := b.stableBlock(context.Background(), in, budget)
	if first != second {
		t.Error("expected cache hit for unchanged key")
	}

	// A settings bump invalidates.
	st.UpdatedAt = st.UpdatedAt.Add(time.Second)
	third, _ := b.stableBlock(context.Background(), in, budget)
	if !strings.Contains(third, "CHANGED") {
		t.Error("expected rebuild after settings update")
	}
}

func TestStableCacheTTLAndEviction(t *testing.T) {
	now := time.Unix(1000, 0)
	c := &stableCache{now: func() time.Time { return now }}

	key := cacheKey{userID: 1, specialist: "a"}
	c.put(key, "value")
	if v, ok := c.get(key); !ok || v != "value" {
		t.Fatal("expected fresh entry")
	}

	now = now.Add(stableCacheTTL + time.Second)
	if _, ok := c.get(key); ok {
		t.Fatal("expected TTL expiry")
	}

	for i := 0; i < stableCacheSize+10; i++ {
		c.put(cacheKey{userID: int64(i)}, "v")
		now = now.Add(time.Millisecond)
	}
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	if n > stableCacheSize {
		t.Errorf("cache grew to %d entries, cap is %d", n, stableCacheSize)
	}
}

func TestFrameworkWeightAllocation(t *testing.T) {
	got := frameworkSection([]store.HealthFramework{
		{Name: "A", Priority: 90, Description: "first"},
		{Name: "B", Priority: 30, Description: "second"},
	})
	if !strings.Contains(got, "A (75%)") || !strings.Contains(got, "B (25%)") {
		t.Errorf("weight allocation wrong:\n%s", got)
	}
}

func TestFormatUnits(t *testing.T) {
	if got := formatWeight(81.6466, "lb"); got != "180.0 lb" {
		t.Errorf("formatWeight = %q", got)
	}
	if got := formatHydration(500, "cup"); got != "2.0 cups" {
		t.Errorf("formatHydration = %q", got)
	}
	if got := formatHeight(177.8, "ft"); got != `5'10"` {
		t.Errorf("formatHeight = %q", got)
	}
}
