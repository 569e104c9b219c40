package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/providers"
	"github.com/haasonsaas/vitalcoach/internal/router"
	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/pkg/models"
)

// --- feedback capture ---

var feedbackCueRe = regexp.MustCompile(`\b(bug|broken|doesn'?t work|not working|crash|error when|feature request|would be (nice|great) if|can you add|wish (it|you) (could|had))\b`)

const feedbackPrompt = `Extract product feedback from the user's message.
Respond with strict JSON only:
{"kind": "bug|request|praise", "title": "<short title>", "detail": "<one sentence>"}
If the message carries no product feedback, respond {"kind": "none"}.`

// feedbackDedupeWindow suppresses near-duplicate captures from a burst of
// messages about the same issue.
const feedbackDedupeWindow = 30 * time.Minute

func (o *Orchestrator) captureFeedback(ctx context.Context, t *turnState) {
	if !feedbackCueRe.MatchString(strings.ToLower(t.message)) {
		return
	}
	if !t.scope.TryUtility() {
		return
	}
	result, err := t.provider.Chat(ctx, &providers.Request{
		Model:     t.utilityModel,
		System:    feedbackPrompt,
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: t.message}},
		MaxTokens: 200,
		JSONMode:  true,
	})
	if err != nil {
		t.scope.Failure("feedback", err)
		return
	}
	t.scope.RecordUsage(providers.TierUtility, result.Usage)

	var fb struct {
		Kind   string `json:"kind"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal([]byte(extractJSON(result.Content)), &fb) != nil {
		return
	}
	if fb.Kind == "" || fb.Kind == "none" || strings.TrimSpace(fb.Title) == "" {
		return
	}
	cutoff := time.Now().UTC().Add(-feedbackDedupeWindow)
	if dup, err := o.Store.HasRecentFeedback(ctx, t.user.ID, fb.Kind, fb.Title, cutoff); err != nil || dup {
		return
	}
	if _, err := o.Store.AddFeedback(ctx, &store.FeedbackEntry{
		UserID:     t.user.ID,
		Kind:       fb.Kind,
		Title:      fb.Title,
		Detail:     fb.Detail,
		Specialist: t.decision.Specialist,
	}); err != nil && o.Log != nil {
		o.Log.Warn(ctx, "turn: feedback save failed", "error", err)
	}
}

// --- profile auto-sync ---

const profileSyncPrompt = `Extract durable profile facts the user states about themselves.
Respond with strict JSON only:
{"medications": [{"name": "", "dose": "", "timing": ""}],
 "supplements": [{"name": "", "dose": "", "timing": ""}],
 "conditions": [], "dietary_preferences": [], "health_goals": []}
Only include facts stated in the message; use empty arrays otherwise.
Never include one-off events (single doses taken, single meals eaten).`

// profileSyncCategories are the intents whose messages may carry durable
// profile facts worth extracting.
var profileSyncCategories = map[router.Category]bool{
	router.LogSupplement: true,
	router.IntakeProfile: true,
	router.AskMedical:    true,
	router.AskSupplement: true,
	router.AskNutrition:  true,
	router.GeneralChat:   true,
}

// profileSyncMinConfidence gates non-log categories.
const profileSyncMinConfidence = 0.6

// syncProfile extracts profile facts and applies them through the profile
// tools. Returns the medication and supplement names it touched, feeding the
// checklist sync.
func (o *Orchestrator) syncProfile(ctx context.Context, t *turnState) (meds, supps []string) {
	if !profileSyncCategories[t.decision.Category] && !t.hadImage {
		return nil, nil
	}
	if !t.decision.Category.IsLog() && t.decision.Confidence < profileSyncMinConfidence && !t.hadImage {
		return nil, nil
	}
	if !t.scope.TryUtility() {
		return nil, nil
	}
	result, err := t.provider.Chat(ctx, &providers.Request{
		Model:     t.utilityModel,
		System:    profileSyncPrompt,
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: t.message}},
		MaxTokens: 500,
		JSONMode:  true,
	})
	if err != nil {
		t.scope.Failure("profile_sync", err)
		return nil, nil
	}
	t.scope.RecordUsage(providers.TierUtility, result.Usage)

	var facts struct {
		Medications        []map[string]any `json:"medications"`
		Supplements        []map[string]any `json:"supplements"`
		Conditions         []string         `json:"conditions"`
		DietaryPreferences []string         `json:"dietary_preferences"`
		HealthGoals        []string         `json:"health_goals"`
	}
	if json.Unmarshal([]byte(extractJSON(result.Content)), &facts) != nil {
		return nil, nil
	}

	changed := false
	if len(facts.Medications) > 0 {
		if res, err := o.Tools.Execute(ctx, "medication_upsert",
			map[string]any{"items": anySlice(facts.Medications)}, t.execCtx); err == nil {
			meds = stringsFromResult(res, "names")
			changed = true
		}
	}
	if len(facts.Supplements) > 0 {
		if res, err := o.Tools.Execute(ctx, "supplement_upsert",
			map[string]any{"items": anySlice(facts.Supplements)}, t.execCtx); err == nil {
			supps = stringsFromResult(res, "names")
			changed = true
		}
	}
	// profile_patch replaces list fields whole, so new facts merge with the
	// lists already on file.
	patch := map[string]any{}
	if len(facts.Conditions) > 0 {
		patch["medical_conditions"] = anyStrings(mergeLists(t.settings.MedicalConditions, facts.Conditions))
	}
	if len(facts.DietaryPreferences) > 0 {
		patch["dietary_preferences"] = anyStrings(mergeLists(t.settings.DietaryPreferences, facts.DietaryPreferences))
	}
	if len(facts.HealthGoals) > 0 {
		patch["health_goals"] = anyStrings(mergeLists(t.settings.HealthGoals, facts.HealthGoals))
	}
	if len(patch) > 0 {
		if _, err := o.Tools.Execute(ctx, "profile_patch", patch, t.execCtx); err == nil {
			changed = true
		}
	}
	if changed {
		if _, err := o.Tools.Execute(ctx, "framework_sync_from_profile", nil, t.execCtx); err != nil && o.Log != nil {
			o.Log.Warn(ctx, "turn: framework resync failed", "error", err)
		}
	}
	return meds, supps
}

// --- checklist sync ---

var (
	takenCueRe = regexp.MustCompile(`\b(took|taken|taking|had|swallowed|popped)\b`)
	medCueRe   = regexp.MustCompile(`\b(med|meds|medication|medications|pill|pills|prescription)\b`)
	suppCueRe  = regexp.MustCompile(`\b(supplement|supplements|vitamin|vitamins|magnesium|omega|creatine|fish oil|zinc|probiotic|melatonin)\b`)
)

// syncChecklist marks medications/supplements taken for the event's local
// day. LLM-extracted names and the loose-reference resolver both feed in;
// the tool dedupes on the (user, date, type, name) key.
func (o *Orchestrator) syncChecklist(ctx context.Context, t *turnState, meds, supps []string) {
	lower := strings.ToLower(t.message)
	tookSomething := takenCueRe.MatchString(lower)

	mark := func(itemType string, names []string, useQuery bool) {
		args := map[string]any{"item_type": itemType, "completed": true}
		if t.eventDate != "" {
			args["target_date"] = t.eventDate
		}
		if len(names) > 0 {
			args["items"] = anyStrings(names)
		} else if useQuery {
			args["reference_query"] = lower
		} else {
			return
		}
		if _, err := o.Tools.Execute(ctx, "checklist_mark_taken", args, t.execCtx); err != nil && o.Log != nil {
			o.Log.Warn(ctx, "turn: checklist sync failed", "item_type", itemType, "error", err)
		}
	}

	if len(meds) > 0 || (tookSomething && medCueRe.MatchString(lower)) {
		mark("medication", meds, true)
	}
	if len(supps) > 0 || (tookSomething && suppCueRe.MatchString(lower)) ||
		t.decision.Category == router.LogSupplement {
		mark("supplement", supps, tookSomething)
	}
}

// --- goal sync ---

var goalCueRe = regexp.MustCompile(`\b(goal|aim(ing)? to|want to (lose|gain|reach|run|sleep)|target weight|my target|objective)\b`)

const goalSyncPrompt = `The user may be setting or refining health goals.
Current active goals (JSON): %s

Respond with strict JSON only:
{"creates": [{"title": "", "description": "", "target_date": "YYYY-MM-DD"}],
 "updates": [{"goal_id": 0, "title": "", "description": "", "status": "active|completed|abandoned"}]}
Only include goals the message clearly states. Empty arrays otherwise.`

const (
	maxGoalCreates = 3
	maxGoalUpdates = 5
)

// syncGoals applies goal creates/updates stated in the message. Creates go
// through goal_upsert, which already refuses near-duplicate titles.
func (o *Orchestrator) syncGoals(ctx context.Context, t *turnState) string {
	if !goalCueRe.MatchString(strings.ToLower(t.message)) {
		return ""
	}
	if !t.scope.TryUtility() {
		return ""
	}
	active, err := o.Store.GoalsByStatus(ctx, t.user.ID, "active")
	if err != nil {
		return ""
	}
	type goalLite struct {
		ID    int64  `json:"goal_id"`
		Title string `json:"title"`
	}
	lite := make([]goalLite, 0, len(active))
	for _, g := range active {
		lite = append(lite, goalLite{ID: g.ID, Title: g.Title})
	}
	activeJSON, _ := json.Marshal(lite)

	result, err := t.provider.Chat(ctx, &providers.Request{
		Model:     t.utilityModel,
		System:    fmt.Sprintf(goalSyncPrompt, activeJSON),
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: t.message}},
		MaxTokens: 500,
		JSONMode:  true,
	})
	if err != nil {
		t.scope.Failure("goal_sync", err)
		return ""
	}
	t.scope.RecordUsage(providers.TierUtility, result.Usage)

	var plan struct {
		Creates []map[string]any `json:"creates"`
		Updates []map[string]any `json:"updates"`
	}
	if json.Unmarshal([]byte(extractJSON(result.Content)), &plan) != nil {
		return ""
	}

	applied := 0
	for i, c := range plan.Creates {
		if i >= maxGoalCreates {
			break
		}
		if _, err := o.Tools.Execute(ctx, "goal_upsert", c, t.execCtx); err == nil {
			applied++
		}
	}
	for i, u := range plan.Updates {
		if i >= maxGoalUpdates {
			break
		}
		if _, err := o.Tools.Execute(ctx, "update_goal", u, t.execCtx); err == nil {
			applied++
		}
	}
	if applied == 0 {
		return ""
	}
	return fmt.Sprintf("Goal sync: %d goal change(s) were saved. Acknowledge this naturally.", applied)
}

// --- web search ---

// askSearchCategories are the intents that may trigger a web search.
var askSearchCategories = map[router.Category]bool{
	router.AskNutrition:  true,
	router.AskExercise:   true,
	router.AskSleep:      true,
	router.AskSupplement: true,
	router.AskMedical:    true,
}

func (o *Orchestrator) webSearchBlock(ctx context.Context, t *turnState) string {
	if !o.Config.Search.Enabled || !askSearchCategories[t.decision.Category] {
		return ""
	}
	allowed := false
	for _, s := range o.Config.Search.AllowedSpecialists {
		if s == t.decision.Specialist {
			allowed = true
		}
	}
	if !allowed {
		return ""
	}
	result, err := o.Tools.Execute(ctx, "health_search",
		map[string]any{"query": t.message}, t.execCtx)
	if err != nil {
		t.scope.Failure("web_search", err)
		return ""
	}
	data, err := json.MarshalIndent(result["results"], "", "  ")
	if err != nil || string(data) == "null" {
		return ""
	}
	return "## Web Search Results\nUse these only when relevant; cite sources by name.\n" + string(data)
}

// --- time context ---

var timeAskRe = regexp.MustCompile(`\b(what time is it|current time|what'?s the time|what day is (it|today)|today'?s date)\b`)

func (o *Orchestrator) timeContextBlock(ctx context.Context, t *turnState) string {
	if !timeAskRe.MatchString(strings.ToLower(t.message)) {
		return ""
	}
	result, err := o.Tools.Execute(ctx, "time_now", nil, t.execCtx)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("## Current Time\nUTC: %v\nLocal date: %v\nTimezone: %v\nAnswer time questions from this block only.",
		result["utc"], result["local_date"], result["timezone"])
}

// --- small helpers ---

func mergeLists(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(added))
	for _, v := range existing {
		if k := strings.ToLower(strings.TrimSpace(v)); k != "" && !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	for _, v := range added {
		if k := strings.ToLower(strings.TrimSpace(v)); k != "" && !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func anyStrings(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func stringsFromResult(result map[string]any, key string) []string {
	var out []string
	switch v := result[key].(type) {
	case []string:
		out = v
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
