package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/vitalcoach/internal/analysis"
	"github.com/haasonsaas/vitalcoach/internal/config"
	"github.com/haasonsaas/vitalcoach/internal/contextbuild"
	"github.com/haasonsaas/vitalcoach/internal/observability"
	"github.com/haasonsaas/vitalcoach/internal/providers"
	"github.com/haasonsaas/vitalcoach/internal/secrets"
	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/tools"
	"github.com/haasonsaas/vitalcoach/internal/tools/websearch"
	"github.com/haasonsaas/vitalcoach/internal/turn"
)

// app wires the full pipeline once per invocation.
type app struct {
	cfg        *config.Config
	log        *observability.Logger
	metrics    *observability.Metrics
	store      *store.Store
	box        *secrets.Box
	search     *websearch.Client
	engine     *analysis.Engine
	dispatcher *analysis.Dispatcher
	reviewer   *analysis.Reviewer
	orch       *turn.Orchestrator
}

func newApp() (*app, error) {
	cfg := config.FromEnv()
	if flagConfig != "" {
		if err := cfg.LoadFile(flagConfig); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	s, err := store.Open(flagDB)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: observability.NewMetrics(prometheus.DefaultRegisterer),
		store:   s,
	}

	if master := os.Getenv("VITALCOACH_MASTER_KEY"); master != "" {
		box, err := secrets.NewBox([]byte(master))
		if err != nil {
			s.Close()
			return nil, err
		}
		a.box = box
	}

	if cfg.Search.Enabled {
		a.search = websearch.NewClient(websearch.Config{
			MaxResults:       cfg.Search.MaxResults,
			RequestTimeout:   cfg.Search.Timeout,
			CacheTTL:         cfg.Search.CacheTTL,
			BreakerThreshold: cfg.Search.CircuitFailures,
			BreakerCooldown:  cfg.Search.CircuitOpenFor,
		})
		a.search.OnBreakerOpen = func(b websearch.Backend) {
			a.metrics.WebSearchBreakerOpens.WithLabelValues(string(b)).Inc()
		}
	}

	a.engine = &analysis.Engine{
		Store:             s,
		Log:               log,
		NewProvider:       a.newProvider,
		AutoApply:         cfg.Analysis.AutoApplyProposals,
		StaleRunningAfter: cfg.Provider.RequestTimeout,
	}
	a.dispatcher = &analysis.Dispatcher{
		Engine:            a.engine,
		Store:             s,
		Log:               log,
		Debounce:          cfg.Analysis.AutorunDebounce,
		DailyHour:         cfg.Analysis.DailyHourLocal,
		WeeklyWeekday:     cfg.Analysis.WeeklyWeekdayLocal,
		MonthlyDay:        cfg.Analysis.MonthlyDayLocal,
		MaxCatchupDaily:   cfg.Analysis.MaxCatchupDaily,
		MaxCatchupWeekly:  cfg.Analysis.MaxCatchupWeekly,
		MaxCatchupMonthly: cfg.Analysis.MaxCatchupMonthly,
	}
	a.reviewer = &analysis.Reviewer{Store: s, Log: log}

	a.orch = &turn.Orchestrator{
		Store:       s,
		Tools:       tools.NewRegistry(),
		Context:     &contextbuild.Builder{Store: s, Log: log, BasePrompt: basePrompt, SpecialistPrompts: specialistPrompts},
		Dispatcher:  a.dispatcher,
		Config:      cfg,
		Log:         log,
		Metrics:     a.metrics,
		Search:      a.search,
		NewProvider: a.newProvider,
	}
	return a, nil
}

func (a *app) Close() {
	a.store.Close()
}

// newProvider opens the user's sealed API key and builds their vendor
// client.
func (a *app) newProvider(ctx context.Context, st *store.UserSettings) (providers.Provider, error) {
	if a.box == nil {
		return nil, errors.New("VITALCOACH_MASTER_KEY is not set; cannot open stored API keys")
	}
	if st.EncryptedAPIKey == "" {
		return nil, errors.New("no API key stored for this user; run `vitalcoach key set`")
	}
	key, err := a.box.Open(st.EncryptedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("open stored API key: %w", err)
	}
	providerID := st.ProviderID
	if providerID == "" {
		providerID = "anthropic"
	}
	return providers.New(providerID, providers.Config{
		APIKey:     key,
		Timeout:    a.cfg.Provider.RequestTimeout,
		MaxRetries: a.cfg.Provider.MaxRetries,
		RetryDelay: a.cfg.Provider.RetryDelay,
	})
}

// userByName resolves a username argument.
func (a *app) userByName(ctx context.Context, username string) (*store.User, error) {
	u, err := a.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no such user %q; run `vitalcoach users create %s`", username, username)
	}
	return u, err
}

const basePrompt = `You are VitalCoach, a pragmatic health coach. You help the user log
meals, vitals, sleep, exercise, supplements, hydration, and fasts, and you
answer their health questions with grounded, non-alarmist guidance. You are
not a doctor and you say so when a question needs one. Be concise and warm;
never invent data the context does not contain.`

var specialistPrompts = map[string]string{
	"nutrition": "You are responding as the nutrition specialist. Focus on macros, meal composition, and sustainable eating patterns.",
	"fitness":   "You are responding as the fitness specialist. Focus on training load, recovery, and progression.",
	"sleep":     "You are responding as the sleep specialist. Focus on sleep duration, consistency, and hygiene.",
	"supplement": "You are responding as the supplement specialist. Focus on evidence, dosing, timing, and interactions; flag anything that " +
		"should be cleared with a clinician.",
	"medical": "You are responding as the medical-adjacent specialist. Be conservative, cite ranges rather than diagnoses, and recommend a clinician for anything concerning.",
	"general": "You are responding as the general coach. Keep the user oriented on their goals and plans.",
}
