package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/timeinfer"
)

// timeConfirmPayload is the structured state of a time_confirmation
// notification.
type timeConfirmPayload struct {
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Category    string `json:"category"`
	RecordID    int64  `json:"record_id"`
	Field       string `json:"field"`
	InferredISO string `json:"inferred_iso"`
	Reason      string `json:"reason"`
	Confidence  string `json:"confidence"`
}

// gateOutcome is what the confirmation gate did with the message.
type gateOutcome struct {
	// Consumed means the message was a standalone confirmation reply; the
	// log-parse step is skipped for this turn.
	Consumed bool
	// ContextNote, when set, is injected into the system prompt.
	ContextNote string
}

var (
	ackRe    = regexp.MustCompile(`^\s*(yes|yep|yeah|yup|correct|right|that'?s right|sounds right|confirmed|looks good)\b`)
	rejectRe = regexp.MustCompile(`^\s*(no|nope|nah|wrong|not right|incorrect|that'?s wrong)\b`)
)

// consumableReply reports whether a message is short and single-purpose
// enough for the gate to swallow it. An explicit clock or date in a longer
// message still corrects the time, but the rest of the message flows on to
// normal processing.
func consumableReply(message string) bool {
	if strings.ContainsAny(message, ",;") {
		return false
	}
	words := strings.Fields(message)
	if len(words) > 12 {
		return false
	}
	for _, w := range words {
		if w == "and" || w == "also" || w == "but" {
			return false
		}
	}
	return true
}

// confirmationGate resolves a pending time_confirmation against the current
// message. Ack closes it, a clock or date token corrects the saved row, a
// rejection keeps it pending and asks for the exact time.
func (o *Orchestrator) confirmationGate(ctx context.Context, user *store.User, settings *store.UserSettings, message string, referenceUTC time.Time) gateOutcome {
	n, err := o.Store.LatestUnread(ctx, user.ID, store.NotificationTimeConfirmation)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && o.Log != nil {
			o.Log.Warn(ctx, "turn: confirmation lookup failed", "error", err)
		}
		return gateOutcome{}
	}
	var payload timeConfirmPayload
	if json.Unmarshal([]byte(n.Payload), &payload) != nil || payload.Kind != "time_confirmation" {
		return gateOutcome{}
	}

	lower := strings.ToLower(strings.TrimSpace(message))
	_, _, hasClock := timeinfer.ParseClock(lower)
	hasDate := timeinfer.HasDateToken(lower)

	switch {
	case hasClock || hasDate:
		res := timeinfer.Infer(message, referenceUTC, settings.Timezone)
		if err := o.rewriteLoggedTime(ctx, user.ID, &payload, res.EventUTC); err != nil {
			if o.Log != nil {
				o.Log.Warn(ctx, "turn: time correction failed", "error", err)
			}
			return gateOutcome{}
		}
		payload.Status = "corrected"
		payload.InferredISO = res.EventUTC.Format(time.RFC3339)
		o.closeConfirmation(ctx, user.ID, n.ID, &payload)
		return gateOutcome{
			Consumed: consumableReply(lower) && !ackRe.MatchString(lower),
			ContextNote: fmt.Sprintf(
				"The user corrected the time of their last %s entry to %s.",
				strings.TrimPrefix(payload.Category, "log_"),
				res.EventUTC.Format(time.RFC3339)),
		}
	case ackRe.MatchString(lower):
		payload.Status = "confirmed"
		o.closeConfirmation(ctx, user.ID, n.ID, &payload)
		return gateOutcome{
			Consumed:    consumableReply(lower),
			ContextNote: "The user confirmed the inferred time of their last log entry.",
		}
	case rejectRe.MatchString(lower):
		// Stays pending; the reply should ask for the exact time.
		return gateOutcome{
			Consumed:    consumableReply(lower),
			ContextNote: "The user said the inferred time of their last log entry is wrong. Ask for the exact time.",
		}
	}
	return gateOutcome{}
}

func (o *Orchestrator) closeConfirmation(ctx context.Context, userID, id int64, payload *timeConfirmPayload) {
	if data, err := json.Marshal(payload); err == nil {
		_ = o.Store.UpdateNotificationPayload(ctx, userID, id, string(data))
	}
	if err := o.Store.MarkNotificationRead(ctx, userID, id); err != nil && o.Log != nil {
		o.Log.Warn(ctx, "turn: mark confirmation read failed", "error", err)
	}
}

// rewriteLoggedTime overwrites the event field the notification points at.
func (o *Orchestrator) rewriteLoggedTime(ctx context.Context, userID int64, p *timeConfirmPayload, eventUTC time.Time) error {
	switch p.Field {
	case "logged_at":
		switch p.Category {
		case "log_food":
			return o.Store.UpdateFoodLogTime(ctx, userID, p.RecordID, eventUTC)
		case "log_hydration":
			return o.Store.UpdateHydrationLogTime(ctx, userID, p.RecordID, eventUTC)
		case "log_vitals":
			return o.Store.UpdateVitalsLogTime(ctx, userID, p.RecordID, eventUTC)
		case "log_exercise":
			return o.Store.UpdateExerciseLogTime(ctx, userID, p.RecordID, eventUTC)
		case "log_supplement":
			return o.Store.UpdateSupplementLogTime(ctx, userID, p.RecordID, eventUTC)
		}
		return fmt.Errorf("turn: no logged_at rewrite for category %q", p.Category)
	case "fast_start":
		return o.Store.UpdateFastTimes(ctx, userID, p.RecordID, &eventUTC, nil)
	case "fast_end":
		return o.Store.UpdateFastTimes(ctx, userID, p.RecordID, nil, &eventUTC)
	case "sleep_start":
		return o.Store.UpdateSleepTimes(ctx, userID, p.RecordID, &eventUTC, nil)
	case "sleep_end":
		return o.Store.UpdateSleepTimes(ctx, userID, p.RecordID, nil, &eventUTC)
	}
	return fmt.Errorf("turn: unknown time field %q", p.Field)
}

// createTimeConfirmation records a pending confirmation for a low-confidence
// inferred time. An existing pending confirmation is replaced so at most one
// is outstanding per user.
func (o *Orchestrator) createTimeConfirmation(ctx context.Context, userID int64, payload *timeConfirmPayload) {
	payload.Kind = "time_confirmation"
	payload.Status = "pending"
	if existing, err := o.Store.LatestUnread(ctx, userID, store.NotificationTimeConfirmation); err == nil {
		_ = o.Store.MarkNotificationRead(ctx, userID, existing.ID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, err = o.Store.AddNotification(ctx, &store.Notification{
		UserID:   userID,
		Category: store.NotificationTimeConfirmation,
		Title:    "Confirm the time of your last entry",
		Message:  fmt.Sprintf("I assumed %s — reply yes to confirm or tell me the right time.", payload.InferredISO),
		Payload:  string(data),
	})
	if err != nil && o.Log != nil {
		o.Log.Warn(ctx, "turn: create time confirmation failed", "error", err)
	}
}
