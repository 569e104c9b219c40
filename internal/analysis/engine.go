// Package analysis runs the longitudinal roll-ups: deterministic metrics
// over a daily/weekly/monthly window, optional LLM synthesis on top, and a
// reviewable proposal pipeline for the changes the synthesis suggests.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/observability"
	"github.com/haasonsaas/vitalcoach/internal/providers"
	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/pkg/models"
)

// Run types.
const (
	RunDaily   = "daily"
	RunWeekly  = "weekly"
	RunMonthly = "monthly"
)

// Proposal kinds form a closed set. Anything else a model invents is
// normalized to a guidance update on insert.
const (
	ProposalKindGuidanceUpdate   = "guidance_update"
	ProposalKindPromptAdjustment = "prompt_adjustment"
	ProposalKindExperiment       = "experiment"
)

// Engine executes analysis runs. NewProvider resolves a user's provider
// from settings; nil (or a resolver error) degrades the run to
// deterministic metrics only.
type Engine struct {
	Store *store.Store
	Log   *observability.Logger

	NewProvider func(ctx context.Context, settings *store.UserSettings) (providers.Provider, error)

	// AutoApply routes each pending proposal through the review path
	// immediately after a run.
	AutoApply bool

	// StaleRunningAfter is how long a run may sit in the running state
	// before a re-request takes the slot over. Zero means 2 minutes.
	StaleRunningAfter time.Duration
}

func (e *Engine) staleAfter() time.Duration {
	if e.StaleRunningAfter > 0 {
		return e.StaleRunningAfter
	}
	return 2 * time.Minute
}

// Window computes the [start, end) UTC bounds of a run in the user's zone.
// Daily covers the single local date; weekly the 7 days ending on it;
// monthly the 30 days ending on it.
func Window(runType string, targetDate time.Time, loc *time.Location) (time.Time, time.Time, error) {
	local := targetDate.In(loc)
	dayEnd := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	switch runType {
	case RunDaily:
		return dayEnd.AddDate(0, 0, -1).UTC(), dayEnd.UTC(), nil
	case RunWeekly:
		return dayEnd.AddDate(0, 0, -7).UTC(), dayEnd.UTC(), nil
	case RunMonthly:
		return dayEnd.AddDate(0, 0, -30).UTC(), dayEnd.UTC(), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("analysis: unknown run type %q", runType)
	}
}

// Run executes one analysis. The (user, type, period) slot is claimed
// atomically: a concurrent or earlier run of the same window is returned
// as-is unless force is set.
func (e *Engine) Run(ctx context.Context, user *store.User, settings *store.UserSettings, runType string, targetDate time.Time, trigger string, force bool) (*store.AnalysisRun, error) {
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil || settings.Timezone == "" {
		loc = time.UTC
	}
	if targetDate.IsZero() {
		targetDate = time.Now().UTC()
	}
	start, end, err := Window(runType, targetDate, loc)
	if err != nil {
		return nil, err
	}

	run, created, err := e.Store.BeginAnalysisRun(ctx, &store.AnalysisRun{
		UserID:        user.ID,
		RunType:       runType,
		PeriodStart:   start,
		PeriodEnd:     end,
		TriggerSource: trigger,
	})
	if err != nil {
		return nil, err
	}
	if !created && !force {
		// Slot already claimed; running means someone else is on it,
		// completed means the work is done. A run stuck in running past the
		// stale window is presumed crashed and taken over.
		stuck := run.Status == store.RunStatusRunning &&
			time.Since(run.CreatedAt) > e.staleAfter()
		if !stuck {
			return run, nil
		}
	}

	metrics, err := e.collectMetrics(ctx, user, settings, runType, start, end, loc)
	if err != nil {
		run.Status = store.RunStatusFailed
		_ = e.Store.CompleteAnalysisRun(ctx, run)
		return nil, err
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("analysis: encode metrics: %w", err)
	}
	run.MetricsJSON = string(metricsJSON)
	run.MissingData = missingDomains(metrics)
	run.RiskFlags = riskFlags(metrics)

	var proposals []proposalDraft
	if e.NewProvider != nil && settings.EncryptedAPIKey != "" {
		synthesis, drafts, synthErr := e.synthesize(ctx, user, settings, runType, metrics, run)
		if synthErr != nil {
			if e.Log != nil {
				e.Log.Warn(ctx, "analysis: synthesis failed, keeping deterministic result",
					"user_id", user.ID, "run_type", runType, "error", synthErr)
			}
		} else {
			run.SynthesisJSON = synthesis.raw
			run.SummaryMarkdown = synthesis.SummaryMarkdown
			run.Confidence = synthesis.Confidence
			run.RiskFlags = mergeStrings(run.RiskFlags, synthesis.RiskFlags)
			run.ModelsUsedJSON = synthesis.modelsJSON
			proposals = drafts
		}
	}

	run.Status = store.RunStatusCompleted
	if err := e.Store.CompleteAnalysisRun(ctx, run); err != nil {
		return nil, err
	}

	for _, draft := range proposals {
		if err := e.insertProposal(ctx, user.ID, run.ID, draft); err != nil && e.Log != nil {
			e.Log.Warn(ctx, "analysis: proposal insert failed", "error", err)
		}
	}
	if err := e.autoMerge(ctx, user.ID); err != nil && e.Log != nil {
		e.Log.Warn(ctx, "analysis: proposal merge failed", "error", err)
	}

	if e.AutoApply {
		reviewer := &Reviewer{Store: e.Store, Log: e.Log}
		pending, err := e.Store.PendingProposals(ctx, user.ID)
		if err == nil {
			for _, p := range pending {
				// Only a framework-targeted payload has side effects safe to
				// execute unattended. Everything else is approved, not
				// applied, and takes effect through the guidance block.
				var reviewErr error
				if frameworkTargeted(&p) {
					_, reviewErr = reviewer.Apply(ctx, user.ID, p.ID, nil, "auto-applied")
				} else {
					_, reviewErr = reviewer.Approve(ctx, user.ID, p.ID, nil, "auto-approved")
				}
				if reviewErr != nil && e.Log != nil {
					e.Log.Warn(ctx, "analysis: auto review failed", "proposal_id", p.ID, "error", reviewErr)
				}
			}
		}
	}
	return run, nil
}

// proposalDraft is a synthesis suggestion before persistence.
type proposalDraft struct {
	Kind    string          `json:"kind"`
	Title   string          `json:"title"`
	Payload json.RawMessage `json:"payload"`
}

type synthesisResult struct {
	Confidence      float64  `json:"confidence"`
	SummaryMarkdown string   `json:"summary_markdown"`
	RiskFlags       []string `json:"risk_flags"`
	Recommendations []string `json:"recommendations"`

	raw        string
	modelsJSON string
}

const signalsPrompt = `You extract qualitative signals from health log notes.
Given the notes below, respond with strict JSON only:
{"energy": "low|normal|high|unknown", "stress": "low|normal|high|unknown", "symptoms": [], "adherence_notes": ""}`

const synthesisPromptTemplate = `You are analyzing %s health data for a coaching user.
Profile: %s
Metrics: %s
Missing data domains: %s
Deterministic risk flags: %s
Signal annotations: %s

Respond with strict JSON only:
{"confidence": 0.0-1.0, "summary_markdown": "...", "risk_flags": [], "recommendations": [],
 "proposals": [{"kind": "guidance_update|prompt_adjustment|experiment", "title": "...", "payload": {}}]}

A guidance_update that should create a coaching framework sets its payload to
{"target": "framework", "framework_type": "...", "name": "...", "description": "...", "priority": 1-100}.
Ground every statement in the metrics. Never invent numbers.`

const deepMergePrompt = `You review a completed health analysis and look for root causes.
Given the synthesis JSON below, respond with strict JSON only:
{"hypotheses": [], "proposals": [{"title": "...", "payload": {}}]}
Each proposal should adjust how the coach prompts or frames guidance for this user.`

// synthesize runs the tiered LLM passes: utility signal extraction,
// reasoning synthesis, and for monthly runs a deep-thinking merge.
func (e *Engine) synthesize(ctx context.Context, user *store.User, settings *store.UserSettings, runType string, metrics *Metrics, run *store.AnalysisRun) (*synthesisResult, []proposalDraft, error) {
	provider, err := e.NewProvider(ctx, settings)
	if err != nil {
		return nil, nil, err
	}

	utilityModel := settings.UtilityModel
	if utilityModel == "" {
		utilityModel = provider.DefaultModel(providers.TierUtility)
	}
	reasoningModel := settings.ReasoningModel
	if reasoningModel == "" {
		reasoningModel = provider.DefaultModel(providers.TierReasoning)
	}

	signals := "{}"
	if notes := e.recentNotes(ctx, user.ID, run.PeriodStart, run.PeriodEnd); notes != "" {
		result, err := provider.Chat(ctx, &providers.Request{
			Model:     utilityModel,
			System:    signalsPrompt,
			Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: notes}},
			MaxTokens: 300,
			JSONMode:  true,
		})
		if err == nil {
			signals = extractJSON(result.Content)
		} else if e.Log != nil {
			e.Log.Warn(ctx, "analysis: signal extraction failed", "error", err)
		}
	}

	metricsJSON, _ := json.Marshal(metrics)
	profile := fmt.Sprintf("age %d, sex %s, conditions: %s",
		settings.Age, settings.Sex, strings.Join(settings.MedicalConditions, ", "))
	prompt := fmt.Sprintf(synthesisPromptTemplate, runType, profile, metricsJSON,
		strings.Join(run.MissingData, ", "), strings.Join(run.RiskFlags, ", "), signals)

	result, err := provider.Chat(ctx, &providers.Request{
		Model:     reasoningModel,
		System:    prompt,
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: "Produce the analysis."}},
		MaxTokens: 2000,
		JSONMode:  true,
	})
	if err != nil {
		return nil, nil, err
	}

	raw := extractJSON(result.Content)
	var parsed struct {
		synthesisResult
		Proposals []proposalDraft `json:"proposals"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, nil, fmt.Errorf("analysis: synthesis returned non-JSON: %w", err)
	}
	out := parsed.synthesisResult
	out.raw = raw
	drafts := parsed.Proposals

	modelsUsed := map[string]string{"utility": utilityModel, "reasoning": reasoningModel}

	if runType == RunMonthly {
		deepModel := settings.DeepThinkingModel
		if deepModel == "" {
			deepModel = provider.DefaultModel(providers.TierDeep)
		}
		deep, err := provider.Chat(ctx, &providers.Request{
			Model:     deepModel,
			System:    deepMergePrompt,
			Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: raw}},
			MaxTokens: 1500,
			JSONMode:  true,
		})
		if err == nil {
			var merged struct {
				Proposals []proposalDraft `json:"proposals"`
			}
			if json.Unmarshal([]byte(extractJSON(deep.Content)), &merged) == nil {
				for _, p := range merged.Proposals {
					p.Kind = ProposalKindPromptAdjustment
					drafts = append(drafts, p)
				}
				modelsUsed["deep"] = deepModel
			}
		} else if e.Log != nil {
			e.Log.Warn(ctx, "analysis: deep merge failed", "error", err)
		}
	}

	mj, _ := json.Marshal(modelsUsed)
	out.modelsJSON = string(mj)
	return &out, drafts, nil
}

// recentNotes concatenates free-text notes from the window's logs for the
// signal extraction pass.
func (e *Engine) recentNotes(ctx context.Context, userID int64, start, end time.Time) string {
	var sb strings.Builder
	if exercises, err := e.Store.ExerciseBetween(ctx, userID, start, end); err == nil {
		for _, ex := range exercises {
			if ex.Notes != "" {
				sb.WriteString(ex.Notes)
				sb.WriteString("\n")
			}
		}
	}
	if signals, err := e.responseSignalNotes(ctx, userID); err == nil {
		sb.WriteString(signals)
	}
	return strings.TrimSpace(sb.String())
}

func (e *Engine) responseSignalNotes(ctx context.Context, userID int64) (string, error) {
	templates, err := e.Store.ListMealTemplates(ctx, userID, false)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i := range templates {
		signals, err := e.Store.ResponseSignalsForTemplate(ctx, userID, templates[i].ID)
		if err != nil {
			continue
		}
		for _, s := range signals {
			if s.Notes != "" {
				sb.WriteString(s.Notes)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String(), nil
}

func (e *Engine) insertProposal(ctx context.Context, userID, runID int64, draft proposalDraft) error {
	if strings.TrimSpace(draft.Title) == "" {
		return nil
	}
	kind := normalizeKind(draft.Kind)
	_, err := e.Store.AddProposal(ctx, &store.AnalysisProposal{
		RunID:        runID,
		UserID:       userID,
		ProposalKind: kind,
		Title:        draft.Title,
		PayloadJSON:  string(draft.Payload),
	})
	return err
}

// normalizeKind maps model output onto the closed proposal-kind set.
func normalizeKind(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case ProposalKindPromptAdjustment:
		return ProposalKindPromptAdjustment
	case ProposalKindExperiment:
		return ProposalKindExperiment
	default:
		return ProposalKindGuidanceUpdate
	}
}

// autoMerge folds near-duplicate pending proposals into the oldest
// survivor: same kind and title similarity at or above the threshold.
func (e *Engine) autoMerge(ctx context.Context, userID int64) error {
	pending, err := e.Store.PendingProposals(ctx, userID)
	if err != nil {
		return err
	}
	merged := make(map[int64]bool)
	for i := 0; i < len(pending); i++ {
		if merged[pending[i].ID] {
			continue
		}
		for j := i + 1; j < len(pending); j++ {
			if merged[pending[j].ID] || pending[i].ProposalKind != pending[j].ProposalKind {
				continue
			}
			if TitleSimilarity(pending[i].Title, pending[j].Title) < mergeThreshold {
				continue
			}
			if err := e.Store.MergeProposal(ctx, userID, pending[i].ID, pending[j].Title); err != nil {
				return err
			}
			if err := e.Store.UpdateProposalStatus(ctx, userID, pending[j].ID, store.ProposalExpired, nil, "merged into "+fmt.Sprint(pending[i].ID)); err != nil {
				return err
			}
			merged[pending[j].ID] = true
		}
	}
	return nil
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string{}, a...)
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if s != "" && !seen[s] {
			out = append(out, s)
			seen[s] = true
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
