package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/config"
	"github.com/haasonsaas/vitalcoach/internal/contextbuild"
	"github.com/haasonsaas/vitalcoach/internal/providers"
	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/tools"
	"github.com/haasonsaas/vitalcoach/pkg/models"
)

// stubProvider answers utility calls by prompt keyword and streams a canned
// reply. streamCalls counts reasoning streams for short-circuit assertions.
type stubProvider struct {
	chat        func(ctx context.Context, req *providers.Request) (*models.ChatResult, error)
	streamCalls atomic.Int64
	streamErr   error
	vision      bool
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(ctx context.Context, req *providers.Request) (*models.ChatResult, error) {
	if s.chat != nil {
		return s.chat(ctx, req)
	}
	return &models.ChatResult{Content: "{}"}, nil
}

func (s *stubProvider) ChatStream(ctx context.Context, req *providers.Request) (<-chan *models.ChatChunk, error) {
	s.streamCalls.Add(1)
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	ch := make(chan *models.ChatChunk, 3)
	ch <- &models.ChatChunk{Text: "Sounds good, "}
	ch <- &models.ChatChunk{Text: "keep it up!"}
	ch <- &models.ChatChunk{Done: true, Usage: &models.Usage{InputTokens: 50, OutputTokens: 10, Model: "stub-reasoning"}}
	close(ch)
	return ch, nil
}

func (s *stubProvider) ValidateKey(ctx context.Context) error { return nil }
func (s *stubProvider) SupportsVision() bool                  { return s.vision }
func (s *stubProvider) SupportsWebSearch() bool               { return false }
func (s *stubProvider) DefaultModel(tier string) string       { return "stub-" + tier }

// classifyAs returns a chat stub that answers the classification prompt with
// the given category and every other utility prompt with an empty object.
func classifyAs(category string) func(ctx context.Context, req *providers.Request) (*models.ChatResult, error) {
	return func(ctx context.Context, req *providers.Request) (*models.ChatResult, error) {
		if strings.Contains(req.System, "Classify the user's message") {
			return &models.ChatResult{
				Content: `{"category": "` + category + `", "confidence": 0.9}`,
				Usage:   models.Usage{InputTokens: 20, OutputTokens: 5},
			}, nil
		}
		return &models.ChatResult{Content: "{}"}, nil
	}
}

func newTestOrchestrator(t *testing.T, p *stubProvider) (*Orchestrator, *store.User) {
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
	st.EncryptedAPIKey = "sealed-test-key"
	if err := s.SaveSettings(context.Background(), st); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	cfg := config.Default()
	cfg.Search.Enabled = false
	cfg.Analysis.AutorunOnChat = false

	return &Orchestrator{
		Store:   s,
		Tools:   tools.NewRegistry(),
		Context: &contextbuild.Builder{Store: s, BasePrompt: "You are a health coach."},
		Config:  cfg,
		NewProvider: func(ctx context.Context, settings *store.UserSettings) (providers.Provider, error) {
			return p, nil
		},
	}, u
}

// collect drains the stream and asserts the terminal-done contract.
func collect(t *testing.T, events <-chan models.StreamEvent) (text string, errs []string, done models.StreamEvent) {
	t.Helper()
	var sb strings.Builder
	var last models.StreamEvent
	sawDone := false
	for ev := range events {
		if sawDone {
			t.Fatalf("event after done: %+v", ev)
		}
		switch ev.Type {
		case models.StreamChunk:
			sb.WriteString(ev.Text)
		case models.StreamError:
			errs = append(errs, ev.Text)
		case models.StreamDone:
			sawDone = true
		}
		last = ev
	}
	if !sawDone {
		t.Fatal("stream did not end with a done event")
	}
	return sb.String(), errs, last
}

func TestRunAskTurnStreamsAndPersists(t *testing.T) {
	p := &stubProvider{chat: classifyAs("ask_nutrition")}
	o, u := newTestOrchestrator(t, p)
	ctx := context.Background()

	events := o.Run(ctx, &Request{User: u, Message: "What should I eat for more protein?"})
	text, errs, done := collect(t, events)

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !strings.Contains(text, "keep it up") {
		t.Errorf("reply = %q, want streamed stub text", text)
	}
	if done.Category != "ask_nutrition" {
		t.Errorf("done category = %q", done.Category)
	}
	if done.Specialist != "nutrition" {
		t.Errorf("done specialist = %q", done.Specialist)
	}

	msgs, err := o.Store.RecentMessages(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("messages = %d (%+v), want user then assistant", len(msgs), msgs)
	}
	if msgs[1].TokensOut != 10 {
		t.Errorf("assistant tokens_out = %d, want usage from the stream", msgs[1].TokensOut)
	}

	rows, err := o.Store.TurnTelemetrySince(ctx, u.ID, time.Now().Add(-time.Minute))
	if err != nil || len(rows) != 1 {
		t.Fatalf("telemetry rows = %d (%v), want 1", len(rows), err)
	}
	if rows[0].ReasoningCalls != 1 {
		t.Errorf("reasoning calls = %d, want 1", rows[0].ReasoningCalls)
	}
}

func TestRunWithoutAPIKeyStopsBeforeWrites(t *testing.T) {
	p := &stubProvider{}
	o, u := newTestOrchestrator(t, p)
	ctx := context.Background()

	st, _ := o.Store.GetSettings(ctx, u.ID)
	st.EncryptedAPIKey = ""
	if err := o.Store.SaveSettings(ctx, st); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	events := o.Run(ctx, &Request{User: u, Message: "had lunch"})
	_, errs, _ := collect(t, events)
	if len(errs) != 1 || !strings.Contains(errs[0], "provider") {
		t.Fatalf("errors = %v, want one provider-config error", errs)
	}

	msgs, _ := o.Store.RecentMessages(ctx, u.ID, 10)
	if len(msgs) != 0 {
		t.Errorf("persisted %d messages before pre-flight failure, want 0", len(msgs))
	}
}

func TestLogTurnParserGetsTheModelCall(t *testing.T) {
	var classifyCalls, parseCalls atomic.Int64
	p := &stubProvider{chat: func(ctx context.Context, req *providers.Request) (*models.ChatResult, error) {
		switch {
		case strings.Contains(req.System, "Classify the user's message"):
			classifyCalls.Add(1)
			return &models.ChatResult{Content: `{"category": "log_food", "confidence": 0.9}`}, nil
		case strings.Contains(req.System, "Extract the meal"):
			parseCalls.Add(1)
			return &models.ChatResult{
				Content: `{"meal_label": "breakfast", "items": [{"name": "oatmeal", "quantity": "1 bowl"}, {"name": "coffee", "quantity": "1 cup"}], "calories": 350, "protein_g": 12, "logged_at": "08:00"}`,
				Usage:   models.Usage{InputTokens: 40, OutputTokens: 30},
			}, nil
		}
		return &models.ChatResult{Content: "{}"}, nil
	}}
	o, u := newTestOrchestrator(t, p)
	ctx := context.Background()

	events := o.Run(ctx, &Request{User: u, Message: "I had oatmeal and coffee for breakfast"})
	_, errs, done := collect(t, events)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if done.Category != "log_food" {
		t.Fatalf("done category = %q", done.Category)
	}

	// A cue-matched message is classified for free; the log turn's single
	// utility call belongs to the parser.
	if classifyCalls.Load() != 0 {
		t.Errorf("classification spent %d model calls on a cue-matched message", classifyCalls.Load())
	}
	if parseCalls.Load() != 1 {
		t.Fatalf("parse model calls = %d, want 1", parseCalls.Load())
	}

	log, err := o.Store.LatestFoodLog(ctx, u.ID, time.Now().Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("LatestFoodLog: %v", err)
	}
	if log.MealLabel != "breakfast" {
		t.Errorf("meal_label = %q, want breakfast", log.MealLabel)
	}
	for _, want := range []string{"oatmeal", "coffee"} {
		if !strings.Contains(log.ItemsJSON, want) {
			t.Errorf("items %s missing %q from the model parse", log.ItemsJSON, want)
		}
	}

	rows, err := o.Store.TurnTelemetrySince(ctx, u.ID, time.Now().Add(-time.Minute))
	if err != nil || len(rows) != 1 {
		t.Fatalf("telemetry rows = %d (%v)", len(rows), err)
	}
	if rows[0].UtilityCalls != 1 {
		t.Errorf("utility calls = %d, want exactly 1 on a log turn", rows[0].UtilityCalls)
	}

	// Meal anchors give medium time confidence; no confirmation belongs here.
	if _, err := o.Store.LatestUnread(ctx, u.ID, store.NotificationTimeConfirmation); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unexpected time confirmation at medium time confidence: %v", err)
	}
}

func TestLogTurnQueuesTimeConfirmation(t *testing.T) {
	p := &stubProvider{chat: classifyAs("log_food")}
	o, u := newTestOrchestrator(t, p)
	ctx := context.Background()

	// "earlier" is a vague past reference, so the inferred event time is low
	// confidence and a confirmation must queue.
	events := o.Run(ctx, &Request{User: u, Message: "had a protein shake earlier"})
	_, errs, _ := collect(t, events)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	n, err := o.Store.LatestUnread(ctx, u.ID, store.NotificationTimeConfirmation)
	if err != nil {
		t.Fatalf("LatestUnread: %v", err)
	}
	var payload timeConfirmPayload
	if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Status != "pending" || payload.Category != "log_food" || payload.Field != "logged_at" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestNoConfirmationAtMediumTimeConfidence(t *testing.T) {
	p := &stubProvider{chat: classifyAs("log_food")}
	o, u := newTestOrchestrator(t, p)
	ctx := context.Background()

	events := o.Run(ctx, &Request{User: u, Message: "had eggs for breakfast"})
	_, errs, _ := collect(t, events)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	// The meal anchor dates the entry well enough; a thin parse alone must
	// not interrogate the user about the time.
	if _, err := o.Store.LatestUnread(ctx, u.ID, store.NotificationTimeConfirmation); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unexpected time confirmation: %v", err)
	}
}

func TestConfirmationAckClosesGate(t *testing.T) {
	p := &stubProvider{chat: classifyAs("log_food")}
	o, u := newTestOrchestrator(t, p)
	ctx := context.Background()

	events := o.Run(ctx, &Request{User: u, Message: "had a protein shake earlier"})
	collect(t, events)
	if _, err := o.Store.LatestUnread(ctx, u.ID, store.NotificationTimeConfirmation); err != nil {
		t.Fatalf("expected pending confirmation: %v", err)
	}

	p.chat = classifyAs("general_chat")
	events = o.Run(ctx, &Request{User: u, Message: "yes that's right"})
	_, errs, _ := collect(t, events)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	if _, err := o.Store.LatestUnread(ctx, u.ID, store.NotificationTimeConfirmation); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("confirmation still unread after ack: %v", err)
	}
}

func TestConfirmationCorrectionRewritesTime(t *testing.T) {
	p := &stubProvider{chat: classifyAs("log_food")}
	o, u := newTestOrchestrator(t, p)
	ctx := context.Background()

	events := o.Run(ctx, &Request{User: u, Message: "had a protein shake earlier"})
	collect(t, events)

	p.chat = classifyAs("general_chat")
	events = o.Run(ctx, &Request{User: u, Message: "actually it was at 7:15am"})
	_, errs, _ := collect(t, events)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	log, err := o.Store.LatestFoodLog(ctx, u.ID, time.Now().Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("LatestFoodLog: %v", err)
	}
	loc, _ := time.LoadLocation("America/New_York")
	if got := log.LoggedAt.In(loc); got.Hour() != 7 || got.Minute() != 15 {
		t.Errorf("corrected time = %v, want 07:15 local", got)
	}
	if _, err := o.Store.LatestUnread(ctx, u.ID, store.NotificationTimeConfirmation); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("confirmation still unread after correction: %v", err)
	}
}

func TestCheckInShortCircuitSkipsReasoning(t *testing.T) {
	p := &stubProvider{chat: classifyAs("general_chat")}
	o, u := newTestOrchestrator(t, p)
	ctx := context.Background()

	events := o.Run(ctx, &Request{User: u, Message: "good morning!"})
	text, errs, _ := collect(t, events)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !strings.Contains(text, "Hi Alice") || !strings.Contains(text, "How can I help?") {
		t.Errorf("check-in reply = %q", text)
	}
	if p.streamCalls.Load() != 0 {
		t.Errorf("reasoning stream called %d times on a check-in", p.streamCalls.Load())
	}

	msgs, _ := o.Store.RecentMessages(ctx, u.ID, 10)
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want user and deterministic assistant reply", len(msgs))
	}
}

func TestUtilityBudgetContainsSidePasses(t *testing.T) {
	p := &stubProvider{chat: classifyAs("ask_nutrition")}
	o, u := newTestOrchestrator(t, p)
	ctx := context.Background()

	// Feedback, profile, and goal cues in one message compete for three
	// utility slots with classification.
	msg := "What should I eat? Also can you add a dark mode, and my goal is to lose 5kg"
	events := o.Run(ctx, &Request{User: u, Message: msg})
	_, errs, _ := collect(t, events)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	rows, err := o.Store.TurnTelemetrySince(ctx, u.ID, time.Now().Add(-time.Minute))
	if err != nil || len(rows) != 1 {
		t.Fatalf("telemetry rows = %d (%v)", len(rows), err)
	}
	if got := rows[0].UtilityCalls; got > o.Config.Budget.UtilityCallsNonLogTurn {
		t.Errorf("utility calls = %d, exceeds budget %d", got, o.Config.Budget.UtilityCallsNonLogTurn)
	}
}

func TestStreamFailureReportsErrorAndKeepsData(t *testing.T) {
	p := &stubProvider{chat: classifyAs("log_food"), streamErr: errors.New("boom")}
	o, u := newTestOrchestrator(t, p)
	ctx := context.Background()

	events := o.Run(ctx, &Request{User: u, Message: "had oatmeal for breakfast at 8am"})
	_, errs, _ := collect(t, events)
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want one stream error", errs)
	}

	// The log write happened before the stream and must survive it.
	if _, err := o.Store.LatestFoodLog(ctx, u.ID, time.Now().Add(-48*time.Hour)); err != nil {
		t.Errorf("food log lost after stream failure: %v", err)
	}
}

func TestImageTurnLeavesLogBudgetToParser(t *testing.T) {
	var parseCalls atomic.Int64
	p := &stubProvider{vision: true, chat: func(ctx context.Context, req *providers.Request) (*models.ChatResult, error) {
		switch {
		case strings.Contains(req.System, "health-relevant content"):
			return &models.ChatResult{
				Content: "A bowl of oatmeal with black coffee.",
				Usage:   models.Usage{InputTokens: 900, OutputTokens: 60},
			}, nil
		case strings.Contains(req.System, "Extract the meal"):
			parseCalls.Add(1)
			return &models.ChatResult{Content: `{"meal_label": "breakfast", "items": [{"name": "oatmeal", "quantity": "1 bowl"}]}`}, nil
		}
		return &models.ChatResult{Content: "{}"}, nil
	}}
	o, u := newTestOrchestrator(t, p)
	ctx := context.Background()

	events := o.Run(ctx, &Request{
		User:      u,
		Message:   "had oatmeal for breakfast",
		Image:     []byte{0xff, 0xd8, 0xff},
		ImageMIME: "image/jpeg",
	})
	_, errs, _ := collect(t, events)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	// The vision pre-pass runs off-budget; the log turn's one utility slot
	// must still reach the parser.
	if parseCalls.Load() != 1 {
		t.Fatalf("parse model calls = %d, want 1", parseCalls.Load())
	}
	rows, err := o.Store.TurnTelemetrySince(ctx, u.ID, time.Now().Add(-time.Minute))
	if err != nil || len(rows) != 1 {
		t.Fatalf("telemetry rows = %d (%v)", len(rows), err)
	}
	if rows[0].UtilityCalls != 1 {
		t.Errorf("utility calls = %d, want 1 with the image pass off-budget", rows[0].UtilityCalls)
	}
}

func TestMenuCommandDetection(t *testing.T) {
	tests := []struct {
		message  string
		wantOK   bool
		wantName string
	}{
		{"save that to my menu", true, ""},
		{"save this to my menu as protein bowl", true, "protein bowl"},
		{"add that meal to my templates called morning shake", true, "morning shake"},
		{"I had eggs and toast, save it to my menu", false, ""},
		{"what's on the menu at that restaurant", false, ""},
	}
	for _, tt := range tests {
		name, ok := menuCommand(tt.message)
		if ok != tt.wantOK || name != tt.wantName {
			t.Errorf("menuCommand(%q) = (%q, %v), want (%q, %v)",
				tt.message, name, ok, tt.wantName, tt.wantOK)
		}
	}
}

func TestConsumableReply(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"yes", true},
		{"yep that's right", true},
		{"yes, and I also had a banana", false},
		{"no it was at 9 and I forgot to mention the walk", false},
		{"correct but the portion was bigger", false},
	}
	for _, tt := range tests {
		if got := consumableReply(tt.message); got != tt.want {
			t.Errorf("consumableReply(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}
