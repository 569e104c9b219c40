package turn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/store"
)

// checkInPhrases are the low-signal greetings answered without an LLM call.
var checkInPhrases = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"morning": true, "how's it going": true, "hows it going": true,
	"what's up": true, "whats up": true, "checking in": true,
	"how are you": true,
}

func isCheckIn(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	m = strings.TrimRight(m, "!.? ")
	return checkInPhrases[m]
}

// checkInReply builds the deterministic plan-aware greeting: outstanding
// checklist items, pending plan tasks, and any running fast. It never calls
// a model and never mutates logs.
func (o *Orchestrator) checkInReply(ctx context.Context, user *store.User, settings *store.UserSettings, referenceUTC time.Time) string {
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil || settings.Timezone == "" {
		loc = time.UTC
	}
	localDate := referenceUTC.In(loc).Format("2006-01-02")

	var sb strings.Builder
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	fmt.Fprintf(&sb, "Hi %s! ", name)

	var pending []string
	if items, err := o.Store.ChecklistForDate(ctx, user.ID, localDate); err == nil {
		for _, it := range items {
			if !it.Completed {
				pending = append(pending, it.ItemName)
			}
		}
	}
	switch {
	case len(pending) == 1:
		fmt.Fprintf(&sb, "Still on today's list: %s. ", pending[0])
	case len(pending) > 1:
		fmt.Fprintf(&sb, "Still on today's list: %s. ", strings.Join(pending, ", "))
	}

	if tasks, err := o.Store.PlanTasksForUser(ctx, user.ID, nil); err == nil {
		open := 0
		next := ""
		for _, t := range tasks {
			if t.Status == "pending" || t.Status == "in_progress" {
				open++
				if next == "" {
					next = t.Title
				}
			}
		}
		if open > 0 {
			fmt.Fprintf(&sb, "You have %d open plan task(s); next up: %s. ", open, next)
		}
	}

	if fast, err := o.Store.OpenFast(ctx, user.ID); err == nil {
		hours := referenceUTC.Sub(fast.FastStart).Hours()
		fmt.Fprintf(&sb, "Your fast is at %.1f hours. ", hours)
	}

	sb.WriteString("How can I help?")
	return sb.String()
}
