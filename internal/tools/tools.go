// Package tools is the process-wide registry every structured read and
// write flows through. Each tool carries a Spec (required fields, read-only
// flag, specialist allow-list) and a handler; execution validates arguments
// before any mutation and scopes every query to the calling user. A small
// allow-list of tools may additionally be invoked by the LLM; those get
// JSON-schema argument validation on top.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/observability"
	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/structured"
	"github.com/haasonsaas/vitalcoach/internal/timeinfer"
	"github.com/haasonsaas/vitalcoach/internal/tools/websearch"
)

// Spec describes one registered tool.
type Spec struct {
	Name        string
	Description string
	Required    []string
	ReadOnly    bool
	// AllowedSpecialists restricts callers; nil allows any specialist.
	AllowedSpecialists map[string]bool
	Tags               []string
}

// ExecCtx carries the per-turn execution context into tool handlers.
type ExecCtx struct {
	Store      *store.Store
	User       *store.User
	Settings   *store.UserSettings
	Specialist string
	// ReferenceUTC anchors relative time resolution; zero means now.
	ReferenceUTC time.Time
	Search       *websearch.Client
	Log          *observability.Logger
}

func (ec *ExecCtx) reference() time.Time {
	if ec.ReferenceUTC.IsZero() {
		return time.Now().UTC()
	}
	return ec.ReferenceUTC
}

func (ec *ExecCtx) timezone() string {
	if ec.Settings != nil && ec.Settings.Timezone != "" {
		return ec.Settings.Timezone
	}
	return "UTC"
}

// ExecutionError is a tool failure raised before or during a mutation. The
// turn pipeline surfaces it through the write-status context block rather
// than claiming the write succeeded.
type ExecutionError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Message, e.Cause)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

func execErr(tool, format string, args ...any) *ExecutionError {
	return &ExecutionError{Tool: tool, Message: fmt.Sprintf(format, args...)}
}

func wrapExecErr(tool string, err error) *ExecutionError {
	return &ExecutionError{Tool: tool, Message: "execution failed", Cause: err}
}

// Handler runs one tool invocation and returns a result payload.
type Handler func(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error)

// Tool pairs a spec with its handler.
type Tool struct {
	Spec Spec
	Run  Handler
}

// Registry holds the tool table. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry builds a registry with every built-in tool installed.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	registerProfileTools(r)
	registerLogTools(r)
	registerTemplateTools(r)
	registerGoalTools(r)
	registerUtilityTools(r)
	return r
}

// Register installs a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Spec.Name] = t
}

// Get returns a tool's spec.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Spec{}, false
	}
	return t.Spec, true
}

// Names returns all registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs a host-initiated tool call. It enforces the specialist
// allow-list and required fields before invoking the handler.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, ec *ExecCtx) (map[string]any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, execErr(name, "unknown tool")
	}
	if ec == nil || ec.Store == nil || ec.User == nil {
		return nil, execErr(name, "execution context is incomplete")
	}
	if t.Spec.AllowedSpecialists != nil && !t.Spec.AllowedSpecialists[ec.Specialist] {
		return nil, execErr(name, "specialist %q is not permitted", ec.Specialist)
	}
	if args == nil {
		args = map[string]any{}
	}
	for _, field := range t.Spec.Required {
		if v, present := args[field]; !present || v == nil || v == "" {
			return nil, execErr(name, "missing required field %q", field)
		}
	}
	return t.Run(ctx, ec, args)
}

// ExecuteAI runs a model-initiated tool call. Only tools on the AI-callable
// allow-list are reachable, and their arguments are validated against a JSON
// schema first.
func (r *Registry) ExecuteAI(ctx context.Context, name string, args map[string]any, ec *ExecCtx) (map[string]any, error) {
	schema, ok := aiSchemas[name]
	if !ok {
		return nil, execErr(name, "tool is not AI-callable")
	}
	if err := schema.Validate(normalizeForSchema(args)); err != nil {
		return nil, &ExecutionError{Tool: name, Message: "invalid arguments", Cause: err}
	}
	return r.Execute(ctx, name, args, ec)
}

// AICallable reports whether a tool is on the model-initiated allow-list.
func AICallable(name string) bool {
	_, ok := aiSchemas[name]
	return ok
}

// --- argument helpers ---

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func argFloat(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

func argInt(args map[string]any, key string) (int, bool) {
	f, ok := argFloat(args, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func argInt64(args map[string]any, key string) (int64, bool) {
	f, ok := argFloat(args, key)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func argBool(args map[string]any, key string) (bool, bool) {
	switch v := args[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err == nil {
			return b, true
		}
	}
	return false, false
}

// argItems parses a medications/supplements argument: either a canonical
// item array or a bare string list, run through the canonical filter.
func argItems(args map[string]any, key string) []structured.Item {
	raw, ok := args[key]
	if !ok {
		return nil
	}
	var items []structured.Item
	switch v := raw.(type) {
	case []any:
		for _, entry := range v {
			switch e := entry.(type) {
			case string:
				items = append(items, structured.Item{Name: e})
			case map[string]any:
				items = append(items, structured.Item{
					Name:   stringField(e, "name"),
					Dose:   stringField(e, "dose"),
					Timing: stringField(e, "timing"),
				})
			}
		}
	case string:
		if parsed, err := structured.Parse(v); err == nil {
			items = parsed
		}
	}
	return structured.Canonicalize(items)
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// resolveTime coerces a time argument. Accepted forms: RFC3339 (with
// offset), a zone-naive ISO timestamp interpreted in the user's timezone, or
// a bare clock token resolved against the reference instant. Empty falls
// back to the reference instant.
func (ec *ExecCtx) resolveTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ec.reference(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	loc, err := time.LoadLocation(ec.timezone())
	if err != nil {
		loc = time.UTC
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t.UTC(), nil
	}
	if h, m, ok := timeinfer.ParseClock(raw); ok {
		return timeinfer.ResolveClock(h, m, ec.reference(), ec.timezone()), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time value %q", raw)
}

// argTime resolves an optional time argument, defaulting to the reference.
func (ec *ExecCtx) argTime(tool string, args map[string]any, key string) (time.Time, error) {
	t, err := ec.resolveTime(argString(args, key))
	if err != nil {
		return time.Time{}, execErr(tool, "field %q: %v", key, err)
	}
	return t, nil
}

// localDate formats the reference instant as YYYY-MM-DD in the user's zone.
func (ec *ExecCtx) localDate() string {
	loc, err := time.LoadLocation(ec.timezone())
	if err != nil {
		loc = time.UTC
	}
	return ec.reference().In(loc).Format("2006-01-02")
}
