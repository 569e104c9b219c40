package parser

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/providers"
	"github.com/haasonsaas/vitalcoach/internal/router"
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
	ch := make(chan *models.ChatChunk, 1)
	ch <- &models.ChatChunk{Done: true}
	close(ch)
	return ch, nil
}

func (s *stubProvider) ValidateKey(ctx context.Context) error { return nil }
func (s *stubProvider) SupportsVision() bool                  { return false }
func (s *stubProvider) SupportsWebSearch() bool               { return false }
func (s *stubProvider) DefaultModel(tier string) string       { return "stub-model" }

func TestFallbackVitalsBPAndWeight(t *testing.T) {
	obj := Fallback("this morning bp was 128/82 and I weighed 180 lbs", router.LogVitals)
	if obj["bp_systolic"] != 128 || obj["bp_diastolic"] != 82 {
		t.Errorf("bp = %v/%v, want 128/82", obj["bp_systolic"], obj["bp_diastolic"])
	}
	w, _ := obj["weight_kg"].(float64)
	if math.Abs(w-81.6) > 0.1 {
		t.Errorf("weight_kg = %v, want ~81.6 (180 lb)", w)
	}
	if obj["notes"] != fallbackNote {
		t.Error("fallback object must carry the fallback note")
	}
}

func TestFallbackHydrationUnits(t *testing.T) {
	cases := []struct {
		message string
		want    float64
	}{
		{"drank a glass of water", 250},
		{"had two cups of tea", 500},
		{"finished a bottle of water", 500},
		{"drank 750 ml", 750},
		{"drank 1 liter of water", 1000},
		{"had 16 oz of water", 480},
	}
	for _, tc := range cases {
		obj := Fallback(tc.message, router.LogHydration)
		got, _ := obj["amount_ml"].(float64)
		if got != tc.want {
			t.Errorf("Fallback(%q) amount_ml = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestFallbackSleepRangeCrossesMidnight(t *testing.T) {
	obj := Fallback("slept 11 to 7", router.LogSleep)
	if obj["sleep_start"] != "23:00" {
		t.Errorf("sleep_start = %v, want 23:00", obj["sleep_start"])
	}
	if obj["sleep_end"] != "07:00" {
		t.Errorf("sleep_end = %v, want 07:00", obj["sleep_end"])
	}
}

func TestFallbackSleepCues(t *testing.T) {
	obj := Fallback("went to bed at 10:30pm and woke up at 6am, slept badly", router.LogSleep)
	if obj["sleep_start"] != "22:30" {
		t.Errorf("sleep_start = %v, want 22:30", obj["sleep_start"])
	}
	if obj["sleep_end"] != "06:00" {
		t.Errorf("sleep_end = %v, want 06:00", obj["sleep_end"])
	}
	if obj["quality"] != "poor" {
		t.Errorf("quality = %v, want poor", obj["quality"])
	}
}

func TestNormalizeSleepDropsEmptyAndFillsFromCues(t *testing.T) {
	obj := map[string]any{"sleep_start": "", "sleep_end": "", "quality": " "}
	NormalizeSleep("went to bed at 11pm and woke up at 7am",
		obj, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	if obj["sleep_start"] != "23:00" {
		t.Errorf("sleep_start = %v, want 23:00", obj["sleep_start"])
	}
	if obj["sleep_end"] != "07:00" {
		t.Errorf("sleep_end = %v, want 07:00", obj["sleep_end"])
	}
	if _, ok := obj["quality"]; ok {
		t.Error("blank quality must be dropped")
	}
}

func TestNormalizeSleepDerivesStartFromDuration(t *testing.T) {
	event := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	obj := map[string]any{}
	NormalizeSleep("slept 8 hours last night", obj, event)
	if obj["sleep_end"] != "2025-03-10T07:00:00Z" {
		t.Errorf("sleep_end = %v, want event instant", obj["sleep_end"])
	}
	if obj["sleep_start"] != "2025-03-09T23:00:00Z" {
		t.Errorf("sleep_start = %v, want 8 hours before the end", obj["sleep_start"])
	}
}

func TestNormalizeSleepClockEndMinusDuration(t *testing.T) {
	obj := map[string]any{"sleep_end": "07:00"}
	NormalizeSleep("slept 7.5 hours", obj, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	if obj["sleep_start"] != "23:30" {
		t.Errorf("sleep_start = %v, want 23:30 (07:00 minus 7.5h, wrapped)", obj["sleep_start"])
	}
}

func TestFallbackFastingPhrases(t *testing.T) {
	start := Fallback("last meal was at 8pm, starting my fast", router.LogFasting)
	if start["action"] != "start" || start["fast_start"] != "20:00" {
		t.Errorf("start parse = %v", start)
	}
	end := Fallback("broke my fast at 11:30", router.LogFasting)
	if end["action"] != "end" || end["fast_end"] != "11:30" {
		t.Errorf("end parse = %v", end)
	}
}

func TestFallbackExercise(t *testing.T) {
	obj := Fallback("ran for 45 minutes, pretty hard effort", router.LogExercise)
	if obj["exercise_type"] != "running" {
		t.Errorf("exercise_type = %v, want running", obj["exercise_type"])
	}
	if obj["duration_minutes"] != 45 {
		t.Errorf("duration_minutes = %v, want 45", obj["duration_minutes"])
	}
	if obj["intensity"] != "high" {
		t.Errorf("intensity = %v, want high", obj["intensity"])
	}
}

func TestFallbackFoodMealLabel(t *testing.T) {
	obj := Fallback("had eggs and toast for breakfast at 7:30", router.LogFood)
	if obj["meal_label"] != "breakfast" {
		t.Errorf("meal_label = %v, want breakfast", obj["meal_label"])
	}
	if obj["logged_at"] != "07:30" {
		t.Errorf("logged_at = %v, want 07:30", obj["logged_at"])
	}
}

func TestParseBudgetExhaustedSkipsModel(t *testing.T) {
	stub := &stubProvider{response: `{"meal_label": "lunch"}`}
	p := &Parser{Provider: stub}
	obj := p.Parse(context.Background(), "had a salad", router.LogFood, "", func() bool { return false })
	if stub.calls != 0 {
		t.Fatal("model must not be called without budget")
	}
	if obj["notes"] != fallbackNote {
		t.Error("budget-exhausted parse must be the fallback")
	}
}

func TestParseModelGarbageFallsBack(t *testing.T) {
	stub := &stubProvider{response: "I think the user ate a salad."}
	p := &Parser{Provider: stub}
	obj := p.Parse(context.Background(), "had a salad for lunch", router.LogFood, "", func() bool { return true })
	if obj["notes"] != fallbackNote {
		t.Error("non-JSON model output must drop to the fallback")
	}
	if obj["meal_label"] != "lunch" {
		t.Errorf("meal_label = %v, want lunch", obj["meal_label"])
	}
}

func TestParseModelErrorFallsBack(t *testing.T) {
	stub := &stubProvider{err: errors.New("timeout")}
	p := &Parser{Provider: stub}
	obj := p.Parse(context.Background(), "drank a glass of water", router.LogHydration, "", func() bool { return true })
	if obj["amount_ml"] != float64(250) {
		t.Errorf("amount_ml = %v, want 250", obj["amount_ml"])
	}
}

func TestParseUnknownCategory(t *testing.T) {
	p := &Parser{}
	if obj := p.Parse(context.Background(), "hello", router.GeneralChat, "", nil); obj != nil {
		t.Errorf("non-log category must return nil, got %v", obj)
	}
}

func TestAssessConfidenceFallbackIsLow(t *testing.T) {
	obj := Fallback("had eggs for breakfast at 8am", router.LogFood)
	conf, _ := AssessConfidence(router.LogFood, obj)
	if conf != Low {
		t.Errorf("fallback parse confidence = %s, want low", conf)
	}
}

func TestAssessConfidenceMissingCritical(t *testing.T) {
	conf, missing := AssessConfidence(router.LogVitals, map[string]any{"notes": ""})
	if conf != Low {
		t.Errorf("confidence = %s, want low", conf)
	}
	if len(missing) == 0 {
		t.Error("expected missing measurement field")
	}
}

func TestAssessConfidenceComplete(t *testing.T) {
	conf, missing := AssessConfidence(router.LogFood, map[string]any{
		"meal_label": "lunch", "logged_at": "12:30", "notes": "user said salad",
	})
	if conf != High {
		t.Errorf("confidence = %s, want high", conf)
	}
	if len(missing) != 0 {
		t.Errorf("missing = %v, want none", missing)
	}
}

func TestAssessConfidenceNoClockIsMedium(t *testing.T) {
	conf, _ := AssessConfidence(router.LogFood, map[string]any{
		"meal_label": "lunch", "notes": "model parse",
	})
	if conf != Medium {
		t.Errorf("confidence = %s, want medium", conf)
	}
}
