package tools

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/structured"
)

func registerTemplateTools(r *Registry) {
	r.Register(&Tool{
		Spec: Spec{
			Name:        "meal_template_list",
			Description: "List the user's saved meal templates.",
			ReadOnly:    true,
			Tags:        []string{"templates"},
		},
		Run: mealTemplateList,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "meal_template_get",
			Description: "Fetch one meal template by id.",
			Required:    []string{"template_id"},
			ReadOnly:    true,
			Tags:        []string{"templates"},
		},
		Run: mealTemplateGet,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "meal_template_versions",
			Description: "Return a template's version history, oldest first.",
			Required:    []string{"template_id"},
			ReadOnly:    true,
			Tags:        []string{"templates"},
		},
		Run: mealTemplateVersions,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "meal_template_resolve_name",
			Description: "Resolve a meal name or alias to a template.",
			Required:    []string{"name"},
			ReadOnly:    true,
			Tags:        []string{"templates"},
		},
		Run: mealTemplateResolveName,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "meal_template_upsert",
			Description: "Create a meal template or update it, recording a new version.",
			Required:    []string{"name"},
			Tags:        []string{"templates"},
		},
		Run: mealTemplateUpsert,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "meal_template_archive",
			Description: "Archive a template so it no longer resolves by name.",
			Required:    []string{"template_id"},
			Tags:        []string{"templates"},
		},
		Run: mealTemplateArchive,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "meal_template_delete",
			Description: "Permanently delete a template and its version history.",
			Required:    []string{"template_id"},
			Tags:        []string{"templates"},
		},
		Run: mealTemplateDelete,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "meal_response_signal_write",
			Description: "Record post-meal energy and GI response, linked to a template when known.",
			Tags:        []string{"templates", "signals"},
		},
		Run: mealResponseSignalWrite,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "meal_response_insights",
			Description: "Summarize response signals per template.",
			ReadOnly:    true,
			Tags:        []string{"templates", "signals"},
		},
		Run: mealResponseInsights,
	})
}

func templateSummary(t *store.MealTemplate) map[string]any {
	return map[string]any{
		"template_id":   t.ID,
		"name":          t.Name,
		"aliases":       t.Aliases,
		"base_servings": t.BaseServings,
		"calories":      t.Calories,
		"protein_g":     t.ProteinG,
		"carbs_g":       t.CarbsG,
		"fat_g":         t.FatG,
		"sodium_mg":     t.SodiumMg,
		"archived":      t.IsArchived,
	}
}

func mealTemplateList(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	includeArchived, _ := argBool(args, "include_archived")
	templates, err := ec.Store.ListMealTemplates(ctx, ec.User.ID, includeArchived)
	if err != nil {
		return nil, wrapExecErr("meal_template_list", err)
	}
	out := make([]map[string]any, 0, len(templates))
	for i := range templates {
		out = append(out, templateSummary(&templates[i]))
	}
	return map[string]any{"templates": out, "count": len(out)}, nil
}

func mealTemplateGet(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	id, ok := argInt64(args, "template_id")
	if !ok {
		return nil, execErr("meal_template_get", "template_id must be an integer")
	}
	t, err := ec.Store.GetMealTemplate(ctx, ec.User.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundResult("meal_template", id), nil
	}
	if err != nil {
		return nil, wrapExecErr("meal_template_get", err)
	}
	out := templateSummary(t)
	out["ingredients"] = t.Ingredients
	return out, nil
}

func mealTemplateVersions(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	id, ok := argInt64(args, "template_id")
	if !ok {
		return nil, execErr("meal_template_versions", "template_id must be an integer")
	}
	versions, err := ec.Store.ListTemplateVersions(ctx, ec.User.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundResult("meal_template", id), nil
	}
	if err != nil {
		return nil, wrapExecErr("meal_template_versions", err)
	}
	out := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		out = append(out, map[string]any{
			"version":    v.Version,
			"payload":    v.PayloadJSON,
			"created_at": v.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return map[string]any{"template_id": id, "versions": out}, nil
}

func mealTemplateResolveName(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	name := argString(args, "name")
	t, err := ec.Store.ResolveMealTemplate(ctx, ec.User.ID, name)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]any{"status": "not_found", "name": name}, nil
	}
	if err != nil {
		return nil, wrapExecErr("meal_template_resolve_name", err)
	}
	out := templateSummary(t)
	out["status"] = "resolved"
	return out, nil
}

func mealTemplateUpsert(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	name := argString(args, "name")

	t := &store.MealTemplate{UserID: ec.User.ID, Name: name, BaseServings: 1}
	var existing *store.MealTemplate
	if id, ok := argInt64(args, "template_id"); ok {
		found, err := ec.Store.GetMealTemplate(ctx, ec.User.ID, id)
		if errors.Is(err, store.ErrNotFound) {
			return notFoundResult("meal_template", id), nil
		}
		if err != nil {
			return nil, wrapExecErr("meal_template_upsert", err)
		}
		existing = found
	} else if found, err := ec.Store.ResolveMealTemplate(ctx, ec.User.ID, name); err == nil {
		existing = found
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, wrapExecErr("meal_template_upsert", err)
	}
	if existing != nil {
		*t = *existing
		t.Name = name
	}

	if aliases, ok := args["aliases"].([]any); ok {
		t.Aliases = t.Aliases[:0]
		for _, a := range aliases {
			if s, ok := a.(string); ok && strings.TrimSpace(s) != "" {
				t.Aliases = append(t.Aliases, strings.TrimSpace(s))
			}
		}
	}
	if items := argItems(args, "ingredients"); len(items) > 0 {
		raw, err := structured.Serialize(items)
		if err != nil {
			return nil, wrapExecErr("meal_template_upsert", err)
		}
		t.Ingredients = raw
	}
	if v, ok := argFloat(args, "base_servings"); ok && v > 0 {
		t.BaseServings = v
	}
	if v, ok := argFloat(args, "calories"); ok {
		t.Calories = v
	}
	if v, ok := argFloat(args, "protein_g"); ok {
		t.ProteinG = v
	}
	if v, ok := argFloat(args, "carbs_g"); ok {
		t.CarbsG = v
	}
	if v, ok := argFloat(args, "fat_g"); ok {
		t.FatG = v
	}
	if v, ok := argFloat(args, "sodium_mg"); ok {
		t.SodiumMg = v
	}

	if existing == nil {
		id, err := ec.Store.CreateMealTemplate(ctx, t)
		if err != nil {
			return nil, wrapExecErr("meal_template_upsert", err)
		}
		return map[string]any{"status": "created", "template_id": id, "version": 1}, nil
	}
	if err := ec.Store.UpdateMealTemplate(ctx, t); err != nil {
		return nil, wrapExecErr("meal_template_upsert", err)
	}
	versions, err := ec.Store.ListTemplateVersions(ctx, ec.User.ID, t.ID)
	if err != nil {
		return nil, wrapExecErr("meal_template_upsert", err)
	}
	latest := 0
	if n := len(versions); n > 0 {
		latest = versions[n-1].Version
	}
	return map[string]any{"status": "updated", "template_id": t.ID, "version": latest}, nil
}

func mealTemplateArchive(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	id, ok := argInt64(args, "template_id")
	if !ok {
		return nil, execErr("meal_template_archive", "template_id must be an integer")
	}
	err := ec.Store.ArchiveMealTemplate(ctx, ec.User.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundResult("meal_template", id), nil
	}
	if err != nil {
		return nil, wrapExecErr("meal_template_archive", err)
	}
	return map[string]any{"status": "archived", "template_id": id}, nil
}

func mealTemplateDelete(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	id, ok := argInt64(args, "template_id")
	if !ok {
		return nil, execErr("meal_template_delete", "template_id must be an integer")
	}
	err := ec.Store.DeleteMealTemplate(ctx, ec.User.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundResult("meal_template", id), nil
	}
	if err != nil {
		return nil, wrapExecErr("meal_template_delete", err)
	}
	return map[string]any{"status": "deleted", "template_id": id}, nil
}

func mealResponseSignalWrite(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	sig := &store.MealResponseSignal{
		UserID:      ec.User.ID,
		EnergyLevel: strings.ToLower(argString(args, "energy_level")),
		GIComfort:   strings.ToLower(argString(args, "gi_comfort")),
		Notes:       argString(args, "notes"),
	}
	if sig.EnergyLevel == "" && sig.GIComfort == "" && sig.Notes == "" {
		return nil, execErr("meal_response_signal_write", "no signal content provided")
	}
	for field, v := range map[string]string{"energy_level": sig.EnergyLevel, "gi_comfort": sig.GIComfort} {
		switch v {
		case "", "low", "neutral", "high", "poor", "ok", "good":
		default:
			return nil, execErr("meal_response_signal_write", "field %q: unsupported value %q", field, v)
		}
	}

	at, err := ec.argTime("meal_response_signal_write", args, "signal_at")
	if err != nil {
		return nil, err
	}
	sig.SignalAt = at

	// An explicit template beats inference; otherwise link to the most
	// recent template-backed food log.
	if id, ok := argInt64(args, "template_id"); ok {
		if _, err := ec.Store.GetMealTemplate(ctx, ec.User.ID, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFoundResult("meal_template", id), nil
			}
			return nil, wrapExecErr("meal_response_signal_write", err)
		}
		sig.TemplateID = &id
	} else if latest, err := ec.Store.LatestFoodLog(ctx, ec.User.ID, sig.SignalAt.Add(-6*time.Hour)); err == nil {
		sig.FoodLogID = &latest.ID
		if latest.MealTemplateID != nil {
			sig.TemplateID = latest.MealTemplateID
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, wrapExecErr("meal_response_signal_write", err)
	}

	id, err := ec.Store.AddMealResponseSignal(ctx, sig)
	if err != nil {
		return nil, wrapExecErr("meal_response_signal_write", err)
	}
	out := map[string]any{"status": "saved", "signal_id": id}
	if sig.TemplateID != nil {
		out["template_id"] = *sig.TemplateID
	}
	return out, nil
}

func mealResponseInsights(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	templates, err := ec.Store.ListMealTemplates(ctx, ec.User.ID, true)
	if err != nil {
		return nil, wrapExecErr("meal_response_insights", err)
	}

	type insight struct {
		name    string
		total   int
		energy  map[string]int
		comfort map[string]int
	}
	var insights []insight
	for i := range templates {
		signals, err := ec.Store.ResponseSignalsForTemplate(ctx, ec.User.ID, templates[i].ID)
		if err != nil {
			return nil, wrapExecErr("meal_response_insights", err)
		}
		if len(signals) == 0 {
			continue
		}
		in := insight{name: templates[i].Name, total: len(signals), energy: map[string]int{}, comfort: map[string]int{}}
		for _, s := range signals {
			if s.EnergyLevel != "" {
				in.energy[s.EnergyLevel]++
			}
			if s.GIComfort != "" {
				in.comfort[s.GIComfort]++
			}
		}
		insights = append(insights, in)
	}
	sort.Slice(insights, func(i, j int) bool { return insights[i].total > insights[j].total })

	out := make([]map[string]any, 0, len(insights))
	for _, in := range insights {
		out = append(out, map[string]any{
			"template":     in.name,
			"signal_count": in.total,
			"energy":       in.energy,
			"gi_comfort":   in.comfort,
		})
	}
	return map[string]any{"insights": out}, nil
}
