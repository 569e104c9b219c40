// Package router classifies a user message into one of a closed category
// set and picks the specialist that answers it. Heuristics run first; a
// utility-model call refines the result only when the turn budget allows.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/vitalcoach/internal/observability"
	"github.com/haasonsaas/vitalcoach/internal/providers"
	"github.com/haasonsaas/vitalcoach/pkg/models"
)

// Category is one of the closed intent categories.
type Category string

const (
	LogFood       Category = "log_food"
	LogVitals     Category = "log_vitals"
	LogExercise   Category = "log_exercise"
	LogSupplement Category = "log_supplement"
	LogFasting    Category = "log_fasting"
	LogSleep      Category = "log_sleep"
	LogHydration  Category = "log_hydration"
	IntakeProfile Category = "intake_profile"
	AskNutrition  Category = "ask_nutrition"
	AskExercise   Category = "ask_exercise"
	AskSleep      Category = "ask_sleep"
	AskSupplement Category = "ask_supplement"
	AskMedical    Category = "ask_medical"
	GeneralChat   Category = "general_chat"
)

// IsLog reports whether the category is a logging intent.
func (c Category) IsLog() bool {
	return strings.HasPrefix(string(c), "log_")
}

// defaultSpecialists maps each category to its answering specialist.
var defaultSpecialists = map[Category]string{
	LogFood:       "nutrition",
	LogVitals:     "medical",
	LogExercise:   "fitness",
	LogSupplement: "supplement",
	LogFasting:    "nutrition",
	LogSleep:      "sleep",
	LogHydration:  "nutrition",
	IntakeProfile: "general",
	AskNutrition:  "nutrition",
	AskExercise:   "fitness",
	AskSleep:      "sleep",
	AskSupplement: "supplement",
	AskMedical:    "medical",
	GeneralChat:   "general",
}

// Categories returns the closed category set.
func Categories() []Category {
	return []Category{
		LogFood, LogVitals, LogExercise, LogSupplement, LogFasting,
		LogSleep, LogHydration, IntakeProfile, AskNutrition, AskExercise,
		AskSleep, AskSupplement, AskMedical, GeneralChat,
	}
}

// Valid reports membership in the closed set.
func Valid(c Category) bool {
	_, ok := defaultSpecialists[c]
	return ok
}

// DefaultSpecialist returns the category's default specialist id.
func DefaultSpecialist(c Category) string {
	if s, ok := defaultSpecialists[c]; ok {
		return s
	}
	return "general"
}

// Decision is the routing outcome for one message.
type Decision struct {
	Category   Category
	Specialist string
	Confidence float64
}

// heuristicFallbackConfidence caps the confidence of a pure-heuristic result
// used after a model failure or budget exhaustion.
const heuristicFallbackConfidence = 0.15

// modelConsultBelow is the heuristic confidence under which the model is
// consulted. A matched cue is trusted as-is; only messages the cascade could
// not place spend a utility call.
const modelConsultBelow = 0.5

// Router classifies messages. The zero value routes heuristically only.
type Router struct {
	Provider     providers.Provider
	UtilityModel string
	Log          *observability.Logger

	// Overrides maps category -> specialist id, from user settings.
	Overrides map[string]string
}

// Request carries one classification call.
type Request struct {
	Message string
	// ForcedSpecialist wins over every mapping when set.
	ForcedSpecialist string
	// AllowedSpecialists validates the model's specialist choice; empty
	// allows the default set.
	AllowedSpecialists map[string]bool
	// ReserveModelCall claims one utility slot from the turn budget. It is
	// invoked only when the heuristic result is unconfident, so confident
	// cascade matches never spend a call. Nil disables the model path.
	ReserveModelCall func() bool
}

// Classify routes a message. Heuristics run first and a confident match is
// final; the model refines only unconfident results, and every model answer
// is validated against the closed sets before it is trusted.
func (r *Router) Classify(ctx context.Context, req Request) Decision {
	heuristic, heuristicConf := classifyHeuristic(req.Message)

	d := Decision{Category: heuristic, Confidence: heuristicConf}
	if heuristicConf < modelConsultBelow {
		if r.Provider != nil && req.ReserveModelCall != nil && req.ReserveModelCall() {
			if cat, conf, err := r.classifyModel(ctx, req.Message); err == nil && Valid(cat) {
				d.Category = cat
				d.Confidence = conf
			} else {
				if err != nil && r.Log != nil {
					r.Log.Warn(ctx, "router: model classification failed", "error", err)
				}
				d.Confidence = min(heuristicConf, heuristicFallbackConfidence)
			}
		} else {
			d.Confidence = min(heuristicConf, heuristicFallbackConfidence)
		}
	}

	d.Specialist = r.specialistFor(d.Category, req)
	return d
}

func (r *Router) specialistFor(c Category, req Request) string {
	if req.ForcedSpecialist != "" {
		return req.ForcedSpecialist
	}
	if s, ok := r.Overrides[string(c)]; ok && s != "" {
		if req.AllowedSpecialists == nil || req.AllowedSpecialists[s] {
			return s
		}
	}
	s := DefaultSpecialist(c)
	if req.AllowedSpecialists != nil && !req.AllowedSpecialists[s] {
		return DefaultSpecialist(GeneralChat)
	}
	return s
}

var (
	fastingCues   = regexp.MustCompile(`\b(fast(ing|ed)?|last meal|first meal|breaking my fast|broke my fast|eating window)\b`)
	sleepCues     = regexp.MustCompile(`\b(slept|sleep|went to bed|woke up|nap(ped)?|insomnia|bedtime)\b`)
	hydrationCues = regexp.MustCompile(`\b(water|hydration|drank|glass(es)? of|bottle of|oz of water|ml of)\b`)
	exerciseCues  = regexp.MustCompile(`\b(ran|running|walk(ed)?|jog(ged)?|gym|workout|worked out|lifted|yoga|swam|swimming|cycling|biked|exercise[ds]?)\b`)
	vitalsCues    = regexp.MustCompile(`\b(blood pressure|bp|\d{2,3}/\d{2,3}|heart rate|pulse|weigh(ed)?( in)?|weight is|scale said)\b`)
	suppCues      = regexp.MustCompile(`\b(supplement|vitamin|magnesium|omega|creatine|fish oil|zinc|probiotic|melatonin|meds?|medications?|medicine|pills?)\b`)
	foodCues      = regexp.MustCompile(`\b(ate|had (a|an|some|my)|breakfast|lunch|dinner|snack(ed)?|meal|calories|protein)\b`)
	profileCues   = regexp.MustCompile(`\b(i am \d+|i'm \d+|years old|my height|my weight goal|i take|diagnosed with|allergic to)\b`)
	questionCues  = regexp.MustCompile(`\b(what|why|how|should|can i|could i|is it|are there|recommend|\?)`)

	// Planning questions about food look like log_food but are asks.
	foodPlanningCues = regexp.MustCompile(`^(can|could|should|may|would|what|is|are)\b|(\bcan i have\b|\bshould i eat\b|\bis it ok(ay)? to\b|\bwhat should i\b)`)

	medicalAskCues = regexp.MustCompile(`\b(doctor|medication|side effect|symptom|diagnos|blood pressure|cholesterol|diabet)\b`)
	sleepAskCues   = regexp.MustCompile(`\b(sleep|insomnia|melatonin|rest)\b`)
	fitnessAskCues = regexp.MustCompile(`\b(exercise|workout|training|cardio|strength|run)\b`)
	suppAskCues    = regexp.MustCompile(`\b(supplement|vitamin|dose|dosage)\b`)
	foodAskCues    = regexp.MustCompile(`\b(eat|food|meal|diet|calorie|protein|carb|nutrition)\b`)
)

// classifyHeuristic runs the cascade. Order matters: the most specific
// logging cues come first, and planning questions divert to ask categories
// before the food cues can claim them.
func classifyHeuristic(message string) (Category, float64) {
	m := strings.ToLower(strings.TrimSpace(message))
	if m == "" {
		return GeneralChat, 0.2
	}

	isQuestion := questionCues.MatchString(m)

	if isQuestion && foodPlanningCues.MatchString(m) {
		switch {
		case medicalAskCues.MatchString(m):
			return AskMedical, 0.55
		case suppAskCues.MatchString(m):
			return AskSupplement, 0.55
		case sleepAskCues.MatchString(m):
			return AskSleep, 0.55
		case fitnessAskCues.MatchString(m):
			return AskExercise, 0.55
		case foodAskCues.MatchString(m):
			return AskNutrition, 0.6
		}
	}

	switch {
	case fastingCues.MatchString(m) && !isQuestion:
		return LogFasting, 0.6
	case sleepCues.MatchString(m) && !isQuestion:
		return LogSleep, 0.6
	case hydrationCues.MatchString(m) && !isQuestion:
		return LogHydration, 0.6
	case exerciseCues.MatchString(m) && !isQuestion:
		return LogExercise, 0.6
	// Medication/supplement mentions win over a vitals cue embedded in them
	// ("took my blood pressure meds").
	case suppCues.MatchString(m) && !isQuestion:
		return LogSupplement, 0.55
	case vitalsCues.MatchString(m) && !isQuestion:
		return LogVitals, 0.6
	case profileCues.MatchString(m):
		return IntakeProfile, 0.5
	case foodCues.MatchString(m) && !isQuestion:
		return LogFood, 0.55
	}

	if isQuestion {
		switch {
		case medicalAskCues.MatchString(m):
			return AskMedical, 0.5
		case suppAskCues.MatchString(m):
			return AskSupplement, 0.5
		case sleepAskCues.MatchString(m):
			return AskSleep, 0.5
		case fitnessAskCues.MatchString(m):
			return AskExercise, 0.5
		case foodAskCues.MatchString(m):
			return AskNutrition, 0.5
		}
		return GeneralChat, 0.4
	}
	return GeneralChat, 0.3
}

const classifyPrompt = `Classify the user's message into exactly one category from this list:
%s

Respond with strict JSON only, no prose:
{"category": "<one of the categories>", "confidence": <0.0-1.0>}

Rules:
- Statements describing something the user ate, drank, did, or measured are log_* categories.
- Questions asking whether or what to eat/do are ask_* categories, never log_*.
- Statements about who the user is (age, conditions, medications they take) are intake_profile.
- Anything else is general_chat.`

type modelDecision struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

func (r *Router) classifyModel(ctx context.Context, message string) (Category, float64, error) {
	names := make([]string, 0, len(defaultSpecialists))
	for _, c := range Categories() {
		names = append(names, string(c))
	}
	model := r.UtilityModel
	if model == "" {
		model = r.Provider.DefaultModel(providers.TierUtility)
	}
	result, err := r.Provider.Chat(ctx, &providers.Request{
		Model:     model,
		System:    fmt.Sprintf(classifyPrompt, strings.Join(names, ", ")),
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: message}},
		MaxTokens: 100,
		JSONMode:  true,
	})
	if err != nil {
		return "", 0, err
	}

	var d modelDecision
	if err := json.Unmarshal([]byte(extractJSON(result.Content)), &d); err != nil {
		return "", 0, fmt.Errorf("router: model returned non-JSON: %w", err)
	}
	cat := Category(strings.ToLower(strings.TrimSpace(d.Category)))
	if !Valid(cat) {
		return "", 0, fmt.Errorf("router: model returned unknown category %q", d.Category)
	}
	conf := d.Confidence
	if conf <= 0 || conf > 1 {
		conf = 0.5
	}
	return cat, conf, nil
}

// extractJSON pulls the first top-level JSON object out of model text that
// may carry markdown fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
