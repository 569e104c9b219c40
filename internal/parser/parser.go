// Package parser turns a free-form logging message into the structured
// argument object its write tool expects. The utility model does the heavy
// lifting when the turn budget allows; otherwise a deterministic fallback
// extracts what regexes can reach. Parses are advisory: a low-confidence
// result still saves, it just earns a time-confirmation ask.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/vitalcoach/internal/observability"
	"github.com/haasonsaas/vitalcoach/internal/providers"
	"github.com/haasonsaas/vitalcoach/internal/router"
	"github.com/haasonsaas/vitalcoach/pkg/models"
)

// fallbackNote marks objects produced without a model call.
const fallbackNote = "Deterministic fallback parse"

// Parser drives per-category extraction.
type Parser struct {
	Provider     providers.Provider
	UtilityModel string
	Log          *observability.Logger
}

// categoryPrompts holds one extraction prompt per logging category. Each
// demands a single strict-JSON object.
var categoryPrompts = map[router.Category]string{
	router.LogFood: `Extract the meal from the user's message. Respond with strict JSON only:
{"meal_label": "breakfast|lunch|dinner|snack|", "items": [{"name": "...", "quantity": "..."}], "calories": 0, "protein_g": 0, "carbs_g": 0, "fat_g": 0, "sodium_mg": 0, "logged_at": "HH:MM or empty", "meal_name": "named dish if the user references a saved meal, else empty", "notes": ""}
Estimate macros from typical portions. Use 0 for unknown numbers and "" for unknown strings.`,

	router.LogVitals: `Extract vital signs from the user's message. Respond with strict JSON only:
{"bp_systolic": 0, "bp_diastolic": 0, "heart_rate": 0, "weight_kg": 0, "logged_at": "HH:MM or empty", "notes": ""}
Convert pounds to kilograms (1 lb = 0.453592 kg). Use 0 for measurements not mentioned.`,

	router.LogExercise: `Extract the exercise session. Respond with strict JSON only:
{"exercise_type": "...", "duration_minutes": 0, "intensity": "low|moderate|high|", "logged_at": "HH:MM or empty", "notes": ""}`,

	router.LogSupplement: `Extract supplements taken. Respond with strict JSON only:
{"items": [{"name": "...", "dose": "...", "timing": ""}], "logged_at": "HH:MM or empty", "notes": ""}
Only include concrete supplement names, never phrases like "my supplements".`,

	router.LogFasting: `Extract the fasting event. Respond with strict JSON only:
{"action": "start|end", "fast_start": "HH:MM or empty", "fast_end": "HH:MM or empty", "notes": ""}
"Last meal at X" or "starting my fast" means action start; "broke my fast" or "first meal" means action end.`,

	router.LogSleep: `Extract the sleep episode. Respond with strict JSON only:
{"sleep_start": "HH:MM or empty", "sleep_end": "HH:MM or empty", "quality": "poor|ok|good|", "notes": ""}
"Went to bed at X" is sleep_start; "woke up at Y" is sleep_end.`,

	router.LogHydration: `Extract fluid intake in milliliters. Respond with strict JSON only:
{"amount_ml": 0, "logged_at": "HH:MM or empty", "notes": ""}
Conversions: cup or glass = 250 ml, bottle = 500 ml, liter = 1000 ml, 1 fl oz = 30 ml.`,
}

// Parse extracts the write-tool arguments for a logging category. It
// returns nil when the category has no parser. reserve claims one utility
// slot from the turn budget and is consulted only here, so a turn that
// never reaches the model path spends nothing; any malformed model output
// drops to the fallback.
func (p *Parser) Parse(ctx context.Context, message string, category router.Category, profileHint string, reserve func() bool) map[string]any {
	prompt, ok := categoryPrompts[category]
	if !ok {
		return nil
	}

	if p.Provider != nil && reserve != nil && reserve() {
		if obj, err := p.parseModel(ctx, message, prompt, profileHint); err == nil {
			return obj
		} else if p.Log != nil {
			p.Log.Warn(ctx, "parser: model parse failed, using fallback",
				"category", string(category), "error", err)
		}
	}
	return Fallback(message, category)
}

func (p *Parser) parseModel(ctx context.Context, message, prompt, profileHint string) (map[string]any, error) {
	system := prompt
	if profileHint != "" {
		system += "\n\nUser context: " + profileHint
	}
	model := p.UtilityModel
	if model == "" {
		model = p.Provider.DefaultModel(providers.TierUtility)
	}
	result, err := p.Provider.Chat(ctx, &providers.Request{
		Model:     model,
		System:    system,
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: message}},
		MaxTokens: 600,
		JSONMode:  true,
	})
	if err != nil {
		return nil, err
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(extractJSON(result.Content)), &obj); err != nil {
		return nil, fmt.Errorf("parser: model returned non-object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("parser: model returned null")
	}
	return obj, nil
}

func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

// Confidence grades a parse.
type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

// criticalFields lists the fields whose absence forces a low assessment.
var criticalFields = map[router.Category][]string{
	router.LogFood:       {"meal_label"},
	router.LogVitals:     {}, // any single measurement suffices; checked below
	router.LogExercise:   {"exercise_type"},
	router.LogSupplement: {"items"},
	router.LogFasting:    {"action"},
	router.LogSleep:      {"sleep_start", "sleep_end"},
	router.LogHydration:  {"amount_ml"},
}

// AssessConfidence grades a parsed object and names the notable fields it
// is missing. A fallback marker always forces low; the annotations steer
// the time-confirmation ask, never whether the save happens.
func AssessConfidence(category router.Category, obj map[string]any) (Confidence, []string) {
	if obj == nil {
		return Low, []string{"all"}
	}

	var missing []string
	for _, field := range criticalFields[category] {
		if !present(obj, field) {
			missing = append(missing, field)
		}
	}
	if category == router.LogVitals &&
		!present(obj, "bp_systolic") && !present(obj, "heart_rate") && !present(obj, "weight_kg") {
		missing = append(missing, "measurement")
	}

	if notes, _ := obj["notes"].(string); notes == fallbackNote {
		return Low, missing
	}
	if len(missing) > 0 {
		return Low, missing
	}
	if !present(obj, "logged_at") && category != router.LogSleep && category != router.LogFasting {
		return Medium, nil
	}
	return High, nil
}

func present(obj map[string]any, field string) bool {
	v, ok := obj[field]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	}
	return true
}
