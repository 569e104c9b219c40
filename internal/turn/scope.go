// Package turn drives one chat exchange: classify, parse, write, run the
// side-effect passes, assemble context, stream the reply, and account for
// every model call along the way.
package turn

import (
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/providers"
	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/pkg/models"
)

// Scope is the per-turn accounting record. It is owned by one turn and
// shared only with the streaming goroutine, so every access is
// mutex-guarded. The first-token stamp is write-once.
type Scope struct {
	mu sync.Mutex

	utilityBudget int
	utilityCalls  int
	reasoningCalls int
	deepCalls      int

	tokensIn  map[string]int
	tokensOut map[string]int

	failures []string

	started    time.Time
	firstToken time.Duration
}

func newScope(utilityBudget int) *Scope {
	return &Scope{
		utilityBudget: utilityBudget,
		tokensIn:      make(map[string]int),
		tokensOut:     make(map[string]int),
		started:       time.Now(),
	}
}

// SetUtilityBudget tightens or relaxes the budget mid-turn; calls already
// made still count against the new limit.
func (s *Scope) SetUtilityBudget(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utilityBudget = n
}

// TryUtility reserves one utility call. It returns false once the budget
// is spent; the caller must then use its deterministic path.
func (s *Scope) TryUtility() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.utilityCalls >= s.utilityBudget {
		return false
	}
	s.utilityCalls++
	return true
}

// UtilityCalls returns the number of utility calls reserved so far.
func (s *Scope) UtilityCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.utilityCalls
}

// RecordUsage adds a call's token totals under its tier. Reasoning and deep
// calls are counted here; utility calls are counted at reservation time.
func (s *Scope) RecordUsage(tier string, u models.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch tier {
	case providers.TierReasoning:
		s.reasoningCalls++
	case providers.TierDeep:
		s.deepCalls++
	}
	s.tokensIn[tier] += u.InputTokens
	s.tokensOut[tier] += u.OutputTokens
}

// Failure records a tolerated error for the telemetry row.
func (s *Scope) Failure(stage string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, fmt.Sprintf("%s: %v", stage, err))
}

// StampFirstToken records the first-token latency. Later calls are no-ops.
func (s *Scope) StampFirstToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstToken == 0 {
		s.firstToken = time.Since(s.started)
	}
}

// Telemetry freezes the scope into a persistable row.
func (s *Scope) Telemetry(userID int64, category, specialist string) *store.AITurnTelemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &store.AITurnTelemetry{
		UserID:             userID,
		Category:           category,
		Specialist:         specialist,
		UtilityCalls:       s.utilityCalls,
		ReasoningCalls:     s.reasoningCalls,
		DeepCalls:          s.deepCalls,
		TokensUtilityIn:    s.tokensIn[providers.TierUtility],
		TokensUtilityOut:   s.tokensOut[providers.TierUtility],
		TokensReasoningIn:  s.tokensIn[providers.TierReasoning],
		TokensReasoningOut: s.tokensOut[providers.TierReasoning],
		TokensDeepIn:       s.tokensIn[providers.TierDeep],
		TokensDeepOut:      s.tokensOut[providers.TierDeep],
		FirstTokenMs:       s.firstToken.Milliseconds(),
		TotalMs:            time.Since(s.started).Milliseconds(),
		Failures:           append([]string(nil), s.failures...),
	}
}
