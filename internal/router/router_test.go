package router

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/vitalcoach/internal/providers"
	"github.com/haasonsaas/vitalcoach/pkg/models"
)

type stubProvider struct {
	response string
	err      error
	calls    int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(ctx context.Context, req *providers.Request) (*models.ChatResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &models.ChatResult{Content: s.response}, nil
}

func (s *stubProvider) ChatStream(ctx context.Context, req *providers.Request) (<-chan *models.ChatChunk, error) {
	ch := make(chan *models.ChatChunk, 2)
	ch <- &models.ChatChunk{Text: s.response}
	ch <- &models.ChatChunk{Done: true}
	close(ch)
	return ch, nil
}

func (s *stubProvider) ValidateKey(ctx context.Context) error { return nil }
func (s *stubProvider) SupportsVision() bool                  { return false }
func (s *stubProvider) SupportsWebSearch() bool               { return false }
func (s *stubProvider) DefaultModel(tier string) string       { return "stub-model" }

func TestHeuristicCascade(t *testing.T) {
	cases := []struct {
		message string
		want    Category
	}{
		{"I had oatmeal and eggs for breakfast", LogFood},
		{"drank a glass of water", LogHydration},
		{"my blood pressure was 128/82 this morning", LogVitals},
		{"ran 5k at the park", LogExercise},
		{"took my magnesium and fish oil", LogSupplement},
		{"Took my blood pressure meds at 8:30pm", LogSupplement},
		{"started my fast at 8pm", LogFasting},
		{"slept 7 hours, woke up at 6", LogSleep},
		{"I am 52 years old and diagnosed with hypertension", IntakeProfile},
		{"what should I eat before a workout?", AskNutrition},
		{"hey there", GeneralChat},
	}
	for _, tc := range cases {
		got, _ := classifyHeuristic(tc.message)
		if got != tc.want {
			t.Errorf("classifyHeuristic(%q) = %s, want %s", tc.message, got, tc.want)
		}
	}
}

func TestFoodPlanningCarveOut(t *testing.T) {
	for _, msg := range []string{
		"can I have a slice of pizza tonight?",
		"should I eat more protein?",
		"is it okay to have dessert on my diet?",
	} {
		got, _ := classifyHeuristic(msg)
		if got.IsLog() {
			t.Errorf("classifyHeuristic(%q) = %s; planning questions must not be log intents", msg, got)
		}
	}
}

func TestClassifyConfidentHeuristicSkipsModel(t *testing.T) {
	stub := &stubProvider{response: `{"category": "general_chat", "confidence": 0.9}`}
	r := &Router{Provider: stub}
	reserved := 0
	d := r.Classify(context.Background(), Request{
		Message:          "I had a sandwich",
		ReserveModelCall: func() bool { reserved++; return true },
	})
	if stub.calls != 0 || reserved != 0 {
		t.Fatalf("confident cue match must not touch the model or the budget (calls=%d reserved=%d)", stub.calls, reserved)
	}
	if d.Category != LogFood {
		t.Errorf("category = %s, want log_food", d.Category)
	}
	if d.Confidence < modelConsultBelow {
		t.Errorf("confidence = %v, want the heuristic confidence kept", d.Confidence)
	}
}

func TestClassifyBudgetExhaustedCapsConfidence(t *testing.T) {
	stub := &stubProvider{response: `{"category": "ask_medical", "confidence": 0.9}`}
	r := &Router{Provider: stub}
	d := r.Classify(context.Background(), Request{
		Message:          "hmm okay then",
		ReserveModelCall: func() bool { return false },
	})
	if stub.calls != 0 {
		t.Fatal("model must not be called when the budget is exhausted")
	}
	if d.Category != GeneralChat {
		t.Errorf("category = %s, want general_chat", d.Category)
	}
	if d.Confidence > heuristicFallbackConfidence {
		t.Errorf("confidence = %v, want <= %v", d.Confidence, heuristicFallbackConfidence)
	}
}

func TestClassifyModelErrorFallsBack(t *testing.T) {
	stub := &stubProvider{err: errors.New("rate limited")}
	r := &Router{Provider: stub}
	d := r.Classify(context.Background(), Request{
		Message:          "thinking about my routine lately",
		ReserveModelCall: func() bool { return true },
	})
	if stub.calls != 1 {
		t.Fatalf("model calls = %d, want 1", stub.calls)
	}
	if d.Category != GeneralChat {
		t.Errorf("category = %s, want heuristic general_chat", d.Category)
	}
	if d.Confidence > heuristicFallbackConfidence {
		t.Errorf("confidence = %v, want <= %v", d.Confidence, heuristicFallbackConfidence)
	}
}

func TestClassifyModelResultValidated(t *testing.T) {
	stub := &stubProvider{response: `{"category": "made_up_category", "confidence": 0.99}`}
	r := &Router{Provider: stub}
	d := r.Classify(context.Background(), Request{
		Message:          "thinking about my routine lately",
		ReserveModelCall: func() bool { return true },
	})
	if d.Category != GeneralChat {
		t.Errorf("invalid model category must fall back to heuristic, got %s", d.Category)
	}
}

func TestClassifyModelWins(t *testing.T) {
	stub := &stubProvider{response: "```json\n{\"category\": \"ask_nutrition\", \"confidence\": 0.85}\n```"}
	r := &Router{Provider: stub}
	d := r.Classify(context.Background(), Request{
		Message:          "thinking about pasta for dinner, thoughts?",
		ReserveModelCall: func() bool { return true },
	})
	if d.Category != AskNutrition {
		t.Errorf("category = %s, want model's ask_nutrition", d.Category)
	}
	if d.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", d.Confidence)
	}
	if d.Specialist != "nutrition" {
		t.Errorf("specialist = %s, want nutrition", d.Specialist)
	}
}

func TestForcedSpecialistWins(t *testing.T) {
	r := &Router{}
	d := r.Classify(context.Background(), Request{
		Message:          "I had a sandwich",
		ForcedSpecialist: "medical",
	})
	if d.Specialist != "medical" {
		t.Errorf("specialist = %s, want forced medical", d.Specialist)
	}
}

func TestOverrideRespectsAllowList(t *testing.T) {
	r := &Router{Overrides: map[string]string{"log_food": "custom"}}
	d := r.Classify(context.Background(), Request{
		Message:            "I had a sandwich",
		AllowedSpecialists: map[string]bool{"nutrition": true, "general": true},
	})
	if d.Specialist != "nutrition" {
		t.Errorf("disallowed override must fall back to default, got %s", d.Specialist)
	}
}

func TestEveryCategoryHasSpecialist(t *testing.T) {
	for _, c := range Categories() {
		if DefaultSpecialist(c) == "" {
			t.Errorf("category %s has no default specialist", c)
		}
	}
}
