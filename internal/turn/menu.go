package turn

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/tools"
)

var (
	menuCmdRe  = regexp.MustCompile(`\b(save|add|update)\b.*\b(menu|template)s?\b`)
	menuNameRe = regexp.MustCompile(`\b(?:as|called|named)\s+"?([a-z0-9][a-z0-9 '-]{1,60}?)"?\s*$`)

	// modification cues on a template-resolved food log suggest the base
	// template should change too.
	menuModRe = regexp.MustCompile(`\b(added|extra|without|no |swapped|instead of|left out)\b`)

	// foodDescRe distinguishes "save this to my menu" from a message that
	// also describes a meal.
	foodDescRe = regexp.MustCompile(`\b(ate|had|eggs|oatmeal|salad|chicken|rice|with|and a)\b`)

	// menuLookbackWindow bounds how old a food log a menu command may target.
	menuLookbackWindow = 12 * time.Hour
)

// menuCommand reports whether the message is a pure save/update-menu
// command and extracts an explicit template name when given.
func menuCommand(message string) (string, bool) {
	m := strings.ToLower(strings.TrimSpace(message))
	if !menuCmdRe.MatchString(m) {
		return "", false
	}
	if foodDescRe.MatchString(m) {
		return "", false
	}
	if match := menuNameRe.FindStringSubmatch(m); match != nil {
		return strings.TrimSpace(match[1]), true
	}
	return "", true
}

// menuUpsertFromRecent saves the latest recent food log as a template (or
// versions the one it already resolves to). Returns the context note for
// the reply.
func (o *Orchestrator) menuUpsertFromRecent(ctx context.Context, ec *tools.ExecCtx, name string, referenceUTC time.Time) string {
	log, err := o.Store.LatestFoodLog(ctx, ec.User.ID, referenceUTC.Add(-menuLookbackWindow))
	if errors.Is(err, store.ErrNotFound) {
		return "Menu action failed: no recent food log to save. Tell the user to log the meal first."
	}
	if err != nil {
		if o.Log != nil {
			o.Log.Warn(ctx, "turn: menu lookup failed", "error", err)
		}
		return "Menu action failed: could not look up the recent meal."
	}

	if name == "" {
		name = log.MealLabel
	}
	if name == "" {
		name = "saved meal"
	}
	args := map[string]any{
		"name":          name,
		"base_servings": 1,
		"calories":      log.Calories,
		"protein_g":     log.ProteinG,
		"carbs_g":       log.CarbsG,
		"fat_g":         log.FatG,
		"sodium_mg":     log.SodiumMg,
		"ingredients":   log.ItemsJSON,
	}
	if log.MealTemplateID != nil {
		args["template_id"] = *log.MealTemplateID
	}
	result, err := o.Tools.Execute(ctx, "meal_template_upsert", args, ec)
	if err != nil {
		return fmt.Sprintf("Menu action failed: %v. Tell the user the save did not go through.", err)
	}
	return fmt.Sprintf("Menu action: saved %q to the user's menu (status %v). Confirm this briefly.", name, result["status"])
}

// menuFollowUp decides the post-write hint for a food log: offer to save a
// new meal, or to update the base template after a modified logged meal.
// Only called for log_food writes.
func menuFollowUp(message string, writeResult map[string]any) string {
	if writeResult == nil || writeResult["status"] != "saved" {
		return ""
	}
	if _, usedTemplate := writeResult["template_id"]; usedTemplate {
		if menuModRe.MatchString(strings.ToLower(message)) {
			return "Want me to update the base menu item to match this version?"
		}
		return ""
	}
	return "Want me to save this meal to your menu for quicker logging next time?"
}
