package turn

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/vitalcoach/internal/analysis"
	"github.com/haasonsaas/vitalcoach/internal/config"
	"github.com/haasonsaas/vitalcoach/internal/contextbuild"
	"github.com/haasonsaas/vitalcoach/internal/observability"
	"github.com/haasonsaas/vitalcoach/internal/parser"
	"github.com/haasonsaas/vitalcoach/internal/providers"
	"github.com/haasonsaas/vitalcoach/internal/router"
	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/timeinfer"
	"github.com/haasonsaas/vitalcoach/internal/tools"
	"github.com/haasonsaas/vitalcoach/internal/tools/websearch"
	"github.com/haasonsaas/vitalcoach/pkg/models"
)

// Orchestrator runs one chat turn end to end. All fields are wired once at
// startup; Run is safe for concurrent turns of different users.
type Orchestrator struct {
	Store      *store.Store
	Tools      *tools.Registry
	Context    *contextbuild.Builder
	Dispatcher *analysis.Dispatcher
	Config     *config.Config
	Log        *observability.Logger
	Metrics    *observability.Metrics
	Search     *websearch.Client

	// NewProvider builds the vendor client for a user's settings. Injected
	// so tests can stub the vendor.
	NewProvider func(ctx context.Context, settings *store.UserSettings) (providers.Provider, error)
}

// Request is one inbound chat message.
type Request struct {
	User    *store.User
	Message string

	// Image attaches one photo for vision-capable providers.
	Image     []byte
	ImageMIME string

	// Verbosity overrides the reply register: "summarized" or "straight";
	// empty means normal.
	Verbosity string
	// ForcedSpecialist pins the responding specialist, bypassing routing.
	ForcedSpecialist string
}

// streamHistoryLimit bounds the conversation slice sent to the reasoning
// model.
const streamHistoryLimit = 20

// turnState carries the working set of one turn between pipeline stages.
type turnState struct {
	user     *store.User
	settings *store.UserSettings
	message  string
	hadImage bool

	provider       providers.Provider
	utilityModel   string
	reasoningModel string

	scope    *Scope
	decision router.Decision
	execCtx  *tools.ExecCtx

	referenceUTC time.Time
	// eventDate is the inferred event's local date, set after a log write.
	eventDate string

	// dynamic accumulates the per-turn context blocks.
	dynamic []string
	// followUp is appended to the reply after the stream unless the model
	// already said it.
	followUp string
}

// Run executes the turn pipeline and streams the reply. The channel always
// ends with a Done event; errors arrive as Error events before it.
func (o *Orchestrator) Run(ctx context.Context, req *Request) <-chan models.StreamEvent {
	out := make(chan models.StreamEvent, 16)
	go func() {
		defer close(out)
		o.run(ctx, req, out)
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, req *Request, out chan<- models.StreamEvent) {
	ctx = context.WithValue(ctx, observability.TurnIDKey, uuid.NewString())
	ctx = context.WithValue(ctx, observability.UserIDKey, strconv.FormatInt(req.User.ID, 10))

	t := &turnState{
		user:         req.User,
		message:      strings.TrimSpace(req.Message),
		hadImage:     len(req.Image) > 0,
		referenceUTC: time.Now().UTC(),
	}
	done := func() {
		out <- models.StreamEvent{
			Type:       models.StreamDone,
			Specialist: t.decision.Specialist,
			Category:   string(t.decision.Category),
		}
	}
	fail := func(msg string) {
		out <- models.StreamEvent{Type: models.StreamError, Text: msg}
		done()
	}

	settings, err := o.Store.GetSettings(ctx, req.User.ID)
	if err != nil {
		fail("Could not load your settings. Please try again.")
		return
	}
	t.settings = settings

	// Pre-flight: without a configured provider key nothing downstream can
	// respond, so stop before any writes.
	if settings.EncryptedAPIKey == "" || o.NewProvider == nil {
		fail("No AI provider is configured. Add an API key in settings to chat.")
		return
	}
	provider, err := o.NewProvider(ctx, settings)
	if err != nil {
		fail("Your AI provider could not be reached. Check your API key.")
		return
	}
	t.provider = provider
	t.utilityModel = settings.UtilityModel
	if t.utilityModel == "" {
		t.utilityModel = provider.DefaultModel(providers.TierUtility)
	}
	t.reasoningModel = settings.ReasoningModel
	if t.reasoningModel == "" {
		t.reasoningModel = provider.DefaultModel(providers.TierReasoning)
	}

	t.scope = newScope(o.Config.Budget.UtilityCallsNonLogTurn)
	t.execCtx = &tools.ExecCtx{
		Store:        o.Store,
		User:         t.user,
		Settings:     settings,
		ReferenceUTC: t.referenceUTC,
		Search:       o.Search,
		Log:          o.Log,
	}

	// The user message lands before anything else so history is consistent
	// even when the turn fails partway.
	userMsg := &store.Message{UserID: t.user.ID, Role: string(models.RoleUser), Content: t.message}
	if t.hadImage {
		userMsg.ImageRef = req.ImageMIME
	}
	if _, err := o.Store.AddMessage(ctx, userMsg); err != nil {
		fail("Could not save your message. Please try again.")
		return
	}

	// Image pre-analysis. A vision failure degrades to a text-only turn.
	if t.hadImage {
		if note := o.analyzeImage(ctx, t, req.Image, req.ImageMIME); note != "" {
			t.dynamic = append(t.dynamic, "## Image Analysis\n"+note)
		}
	}

	// A pending time confirmation gets first claim on the message.
	gate := o.confirmationGate(ctx, t.user, settings, t.message, t.referenceUTC)
	if gate.ContextNote != "" {
		t.dynamic = append(t.dynamic, "## Time Confirmation\n"+gate.ContextNote)
	}

	// Classification. A confident heuristic match costs nothing; only an
	// unplaceable message spends a utility call. Once the category is known
	// the budget tightens for logging turns.
	t.decision = o.classify(ctx, t, req.ForcedSpecialist)
	if t.decision.Category.IsLog() {
		t.scope.SetUtilityBudget(o.Config.Budget.UtilityCallsLogTurn)
	}
	t.execCtx.Specialist = t.decision.Specialist

	// Deterministic check-in short-circuit: no reasoning call at all.
	if !gate.Consumed && !t.hadImage && isCheckIn(t.message) {
		reply := o.checkInReply(ctx, t.user, settings, t.referenceUTC)
		t.scope.StampFirstToken()
		out <- models.StreamEvent{Type: models.StreamChunk, Text: reply}
		o.persistReply(ctx, t, reply, models.Usage{})
		done()
		return
	}

	if !gate.Consumed {
		o.captureFeedback(ctx, t)

		if name, ok := menuCommand(t.message); ok {
			t.dynamic = append(t.dynamic, "## Menu Action\n"+
				o.menuUpsertFromRecent(ctx, t.execCtx, name, t.referenceUTC))
		} else if t.decision.Category.IsLog() {
			o.parseAndWrite(ctx, t)
		}

		meds, supps := o.syncProfile(ctx, t)
		o.syncChecklist(ctx, t, meds, supps)
		if banner := o.syncGoals(ctx, t); banner != "" {
			t.dynamic = append(t.dynamic, "## Goals\n"+banner)
		}
		if block := o.webSearchBlock(ctx, t); block != "" {
			t.dynamic = append(t.dynamic, block)
		}
	}

	if block := o.timeContextBlock(ctx, t); block != "" {
		t.dynamic = append(t.dynamic, block)
	}

	// Fresh data queues a background daily analysis; the debounce collapses
	// rapid logging bursts into one run.
	if o.Dispatcher != nil && o.Config.Analysis.Enabled && o.Config.Analysis.AutorunOnChat &&
		t.decision.Category.IsLog() {
		o.Dispatcher.Kick(t.user.ID)
	}

	switch req.Verbosity {
	case "summarized":
		t.dynamic = append(t.dynamic, "## Style\nSummarize: keep this reply to a few sentences covering only the essentials.")
	case "straight":
		t.dynamic = append(t.dynamic, "## Style\nAnswer directly with no preamble, hedging, or follow-up questions.")
	}

	system, err := o.Context.Build(ctx, &contextbuild.Input{
		User:         t.user,
		Settings:     settings,
		Specialist:   t.decision.Specialist,
		IsLogIntent:  t.decision.Category.IsLog(),
		ReferenceUTC: t.referenceUTC,
		Dynamic:      t.dynamic,
	})
	if err != nil {
		t.scope.Failure("context", err)
		fail("Could not assemble the conversation context. Please try again.")
		o.saveTelemetry(ctx, t)
		return
	}

	o.streamReply(ctx, t, system, req, out)
	done()
}

// classify routes the message. The router reserves a utility call itself
// and only when its heuristics could not place the message.
func (o *Orchestrator) classify(ctx context.Context, t *turnState, forced string) router.Decision {
	r := &router.Router{
		Provider:     t.provider,
		UtilityModel: t.utilityModel,
		Log:          o.Log,
		Overrides:    t.settings.SpecialistOverrides,
	}
	return r.Classify(ctx, router.Request{
		Message:          t.message,
		ForcedSpecialist: forced,
		ReserveModelCall: t.scope.TryUtility,
	})
}

const imagePrompt = `Describe the health-relevant content of this photo in 2-4 sentences.
If it shows food, estimate the dish, portions, and rough macros.
If it shows a measurement device, read out the values.`

// analyzeImage runs the vision pre-pass. Its tokens land in telemetry but
// it never occupies a utility slot: the budget covers classification,
// parsing, and the sync passes, and an attached photo must not starve them.
func (o *Orchestrator) analyzeImage(ctx context.Context, t *turnState, image []byte, mime string) string {
	if !t.provider.SupportsVision() {
		return ""
	}
	result, err := t.provider.Chat(ctx, &providers.Request{
		Model:     t.utilityModel,
		System:    imagePrompt,
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: t.message}},
		MaxTokens: 400,
		ImageData: image,
		ImageMIME: mime,
	})
	if err != nil {
		t.scope.Failure("image", err)
		return ""
	}
	t.scope.RecordUsage(providers.TierUtility, result.Usage)
	return strings.TrimSpace(result.Content)
}

// parseAndWrite extracts the log payload, infers its event time, writes it
// through the category's tool, and queues a confirmation when the inferred
// time is shaky. The write itself always proceeds.
func (o *Orchestrator) parseAndWrite(ctx context.Context, t *turnState) {
	p := &parser.Parser{Provider: t.provider, UtilityModel: t.utilityModel, Log: o.Log}
	obj := p.Parse(ctx, t.message, t.decision.Category, o.profileHint(ctx, t), t.scope.TryUtility)
	if obj == nil {
		return
	}

	inferred := timeinfer.Infer(t.message, t.referenceUTC, t.settings.Timezone)
	// Relative times in the payload resolve against the inferred instant;
	// this is also what dates the checklist for carried-back events.
	t.execCtx.ReferenceUTC = inferred.EventUTC
	scrubEmpty(obj)
	if t.decision.Category == router.LogSleep {
		parser.NormalizeSleep(t.message, obj, inferred.EventUTC)
	}
	obj["_inferred_time_confidence"] = string(inferred.Confidence)
	obj["_inferred_time_reason"] = inferred.Reason
	if loc, err := time.LoadLocation(t.settings.Timezone); err == nil && t.settings.Timezone != "" {
		t.eventDate = inferred.EventUTC.In(loc).Format("2006-01-02")
	} else {
		t.eventDate = inferred.EventUTC.UTC().Format("2006-01-02")
	}

	toolName, field := writeToolFor(t.decision.Category, obj)
	if toolName == "" {
		return
	}
	if _, ok := obj["logged_at"]; !ok && field == "logged_at" {
		obj["logged_at"] = inferred.EventUTC.Format(time.RFC3339)
	}

	result, err := o.Tools.Execute(ctx, toolName, obj, t.execCtx)
	if err != nil {
		t.scope.Failure("log_write", err)
		t.dynamic = append(t.dynamic,
			"## Write Status\nThe log entry could NOT be saved: "+err.Error()+
				"\nTell the user what is missing; do not claim it was saved.")
		return
	}
	t.dynamic = append(t.dynamic, "## Write Status\n"+writeStatusNote(toolName, result))

	// A thin parse only earns a conversational nudge; the confirmation ask
	// is reserved for a genuinely uncertain event time.
	if parseConf, missing := parser.AssessConfidence(t.decision.Category, obj); parseConf == parser.Low && len(missing) > 0 {
		t.dynamic = append(t.dynamic,
			"## Parse Gaps\nThe saved entry is missing: "+strings.Join(missing, ", ")+
				". If it matters, ask the user for the details naturally.")
	}

	recordID, _ := result["log_id"].(int64)
	if recordID == 0 {
		recordID, _ = result["fast_id"].(int64)
	}
	if recordID != 0 && inferred.Confidence == timeinfer.Low {
		o.createTimeConfirmation(ctx, t.user.ID, &timeConfirmPayload{
			Category:    string(t.decision.Category),
			RecordID:    recordID,
			Field:       field,
			InferredISO: inferred.EventUTC.Format(time.RFC3339),
			Reason:      inferred.Reason,
			Confidence:  string(inferred.Confidence),
		})
		t.dynamic = append(t.dynamic,
			"## Time Check\nThe event time was inferred as "+inferred.EventUTC.Format(time.RFC3339)+
				" ("+inferred.Reason+"). Ask the user to confirm or correct it, briefly.")
	}

	if t.decision.Category == router.LogFood {
		t.followUp = menuFollowUp(t.message, result)
	}
}

// scrubEmpty drops empty-string fields so "" placeholders from the model
// never shadow time defaults or trip required-field checks.
func scrubEmpty(obj map[string]any) {
	for k, v := range obj {
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			delete(obj, k)
		}
	}
}

// writeToolFor maps a logging category to its write tool and the time field
// a confirmation would correct.
func writeToolFor(c router.Category, obj map[string]any) (tool, field string) {
	switch c {
	case router.LogFood:
		return "food_log_write", "logged_at"
	case router.LogHydration:
		return "hydration_log_write", "logged_at"
	case router.LogVitals:
		return "vitals_log_write", "logged_at"
	case router.LogExercise:
		return "exercise_log_write", "logged_at"
	case router.LogSupplement:
		return "supplement_log_write", "logged_at"
	case router.LogSleep:
		return "sleep_log_write", "sleep_end"
	case router.LogFasting:
		if action, _ := obj["action"].(string); action == "end" {
			return "fasting_manage", "fast_end"
		}
		return "fasting_manage", "fast_start"
	}
	return "", ""
}

func writeStatusNote(tool string, result map[string]any) string {
	status, _ := result["status"].(string)
	switch status {
	case "saved":
		return fmt.Sprintf("Saved via %s (id %v). Acknowledge the log naturally; do not repeat every number back.", tool, result["log_id"])
	case "started":
		return "A fast was started. Confirm it briefly."
	case "already_active":
		return "The user already has an active fast; no new one was started. Mention that."
	case "ended":
		return fmt.Sprintf("The fast was ended after %v minutes. Acknowledge it.", result["duration_minutes"])
	case "no_active_fast":
		return "There was no active fast to end. Let the user know."
	}
	return fmt.Sprintf("Write finished with status %q.", status)
}

// profileHint gives the parser the user's saved meal names so template
// references resolve.
func (o *Orchestrator) profileHint(ctx context.Context, t *turnState) string {
	if t.decision.Category != router.LogFood {
		return ""
	}
	templates, err := o.Store.ListMealTemplates(ctx, t.user.ID, false)
	if err != nil || len(templates) == 0 {
		return ""
	}
	names := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		names = append(names, tmpl.Name)
	}
	return "Saved meal names: " + strings.Join(names, ", ")
}

// streamReply runs the reasoning call and relays its chunks.
func (o *Orchestrator) streamReply(ctx context.Context, t *turnState, system string, req *Request, out chan<- models.StreamEvent) {
	history, err := o.Store.RecentMessages(ctx, t.user.ID, streamHistoryLimit)
	if err != nil {
		t.scope.Failure("history", err)
	}
	msgs := make([]models.ChatMessage, 0, len(history))
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, models.ChatMessage{Role: models.Role(m.Role), Content: m.Content})
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Content != t.message {
		msgs = append(msgs, models.ChatMessage{Role: models.RoleUser, Content: t.message})
	}

	streamCtx := ctx
	if timeout := o.Config.Provider.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	preq := &providers.Request{
		Model:    t.reasoningModel,
		System:   system,
		Messages: msgs,
	}
	if t.hadImage && t.provider.SupportsVision() {
		preq.ImageData = req.Image
		preq.ImageMIME = req.ImageMIME
	}

	chunks, err := t.provider.ChatStream(streamCtx, preq)
	if err != nil {
		t.scope.Failure("stream", err)
		out <- models.StreamEvent{Type: models.StreamError, Text: "The AI provider did not respond. Your data was still saved."}
		o.saveTelemetry(ctx, t)
		return
	}

	var sb strings.Builder
	var usage models.Usage
	for chunk := range chunks {
		if chunk.Error != nil {
			t.scope.Failure("stream", chunk.Error)
			out <- models.StreamEvent{Type: models.StreamError, Text: "The reply was interrupted. Your data was still saved."}
			break
		}
		if chunk.Text != "" {
			t.scope.StampFirstToken()
			sb.WriteString(chunk.Text)
			out <- models.StreamEvent{Type: models.StreamChunk, Text: chunk.Text}
		}
		if chunk.Done && chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	t.scope.RecordUsage(providers.TierReasoning, usage)

	full := sb.String()
	if t.followUp != "" && !strings.Contains(strings.ToLower(full), "menu") {
		out <- models.StreamEvent{Type: models.StreamChunk, Text: "\n\n" + t.followUp}
		full += "\n\n" + t.followUp
	}
	if full != "" {
		o.persistReply(ctx, t, full, usage)
	} else {
		o.saveTelemetry(ctx, t)
	}
}

// persistReply stores the assistant message, then the telemetry row.
func (o *Orchestrator) persistReply(ctx context.Context, t *turnState, text string, usage models.Usage) {
	_, err := o.Store.AddMessage(ctx, &store.Message{
		UserID:     t.user.ID,
		Role:       string(models.RoleAssistant),
		Content:    text,
		Specialist: t.decision.Specialist,
		Model:      usage.Model,
		TokensIn:   usage.InputTokens,
		TokensOut:  usage.OutputTokens,
	})
	if err != nil && o.Log != nil {
		o.Log.Warn(ctx, "turn: assistant message save failed", "error", err)
	}
	o.saveTelemetry(ctx, t)
}

func (o *Orchestrator) saveTelemetry(ctx context.Context, t *turnState) {
	row := t.scope.Telemetry(t.user.ID, string(t.decision.Category), t.decision.Specialist)
	if _, err := o.Store.AddTurnTelemetry(ctx, row); err != nil && o.Log != nil {
		o.Log.Warn(ctx, "turn: telemetry save failed", "error", err)
	}
	if o.Metrics == nil {
		return
	}
	o.Metrics.TurnDuration.WithLabelValues(row.Category, row.Specialist).
		Observe(float64(row.TotalMs) / 1000)
	bucket := "nonlog"
	if t.decision.Category.IsLog() {
		bucket = "log"
	}
	o.Metrics.UtilityCallsPerTurn.WithLabelValues(bucket).Observe(float64(row.UtilityCalls))
	if row.FirstTokenMs > 0 && t.provider != nil {
		o.Metrics.FirstTokenLatency.WithLabelValues(t.provider.Name(), t.reasoningModel).
			Observe(float64(row.FirstTokenMs) / 1000)
	}
	for _, f := range row.Failures {
		kind := f
		if i := strings.Index(f, ":"); i > 0 {
			kind = f[:i]
		}
		o.Metrics.ErrorCounter.WithLabelValues("turn", kind).Inc()
	}
}
