package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/structured"
)

func registerProfileTools(r *Registry) {
	r.Register(&Tool{
		Spec: Spec{
			Name:        "profile_read",
			Description: "Read the user's profile and health settings.",
			ReadOnly:    true,
			Tags:        []string{"profile"},
		},
		Run: profileRead,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "profile_patch",
			Description: "Apply a partial update to the user's profile fields.",
			Tags:        []string{"profile"},
		},
		Run: profilePatch,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "medication_set",
			Description: "Replace the medication list with the given items.",
			Required:    []string{"items"},
			Tags:        []string{"profile", "medications"},
		},
		Run: itemListSet("medication_set", medicationField),
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "medication_upsert",
			Description: "Merge items into the medication list; newer doses win.",
			Required:    []string{"items"},
			Tags:        []string{"profile", "medications"},
		},
		Run: itemListUpsert("medication_upsert", medicationField),
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "supplement_set",
			Description: "Replace the supplement list with the given items.",
			Required:    []string{"items"},
			Tags:        []string{"profile", "supplements"},
		},
		Run: itemListSet("supplement_set", supplementField),
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "supplement_upsert",
			Description: "Merge items into the supplement list; newer doses win.",
			Required:    []string{"items"},
			Tags:        []string{"profile", "supplements"},
		},
		Run: itemListUpsert("supplement_upsert", supplementField),
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "medication_resolve_reference",
			Description: "Expand phrases like 'my morning meds' against the medication list.",
			Required:    []string{"query"},
			ReadOnly:    true,
			Tags:        []string{"medications"},
		},
		Run: resolveReference("medication_resolve_reference", medicationField),
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "supplement_resolve_reference",
			Description: "Expand phrases like 'my evening supplements' against the supplement list.",
			Required:    []string{"query"},
			ReadOnly:    true,
			Tags:        []string{"supplements"},
		},
		Run: resolveReference("supplement_resolve_reference", supplementField),
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "framework_sync_from_profile",
			Description: "Derive active health frameworks from conditions and goals.",
			Tags:        []string{"profile", "frameworks"},
		},
		Run: frameworkSyncFromProfile,
	})
}

func profileRead(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	st, err := ec.Store.GetSettings(ctx, ec.User.ID)
	if err != nil {
		return nil, wrapExecErr("profile_read", err)
	}
	meds, _ := structured.Parse(st.MedicationsJSON)
	supps, _ := structured.Parse(st.SupplementsJSON)
	return map[string]any{
		"age":                 st.Age,
		"sex":                 st.Sex,
		"height_cm":           st.HeightCm,
		"weight_kg":           st.WeightKg,
		"goal_weight_kg":      st.GoalWeightKg,
		"timezone":            st.Timezone,
		"medical_conditions":  st.MedicalConditions,
		"dietary_preferences": st.DietaryPreferences,
		"health_goals":        st.HealthGoals,
		"family_history":      st.FamilyHistory,
		"medications":         meds,
		"supplements":         supps,
	}, nil
}

// profilePatch applies only the fields present in args, validating each.
func profilePatch(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	st, err := ec.Store.GetSettings(ctx, ec.User.ID)
	if err != nil {
		return nil, wrapExecErr("profile_patch", err)
	}

	changed := []string{}
	if v, ok := argInt(args, "age"); ok {
		if v < 0 || v > 130 {
			return nil, execErr("profile_patch", "age %d out of range", v)
		}
		st.Age = v
		changed = append(changed, "age")
	}
	if v := argString(args, "sex"); v != "" {
		st.Sex = strings.ToLower(v)
		changed = append(changed, "sex")
	}
	if v, ok := argFloat(args, "height_cm"); ok {
		if v <= 0 || v > 280 {
			return nil, execErr("profile_patch", "height_cm %v out of range", v)
		}
		st.HeightCm = v
		changed = append(changed, "height_cm")
	}
	if v, ok := argFloat(args, "weight_kg"); ok {
		if v <= 0 || v > 650 {
			return nil, execErr("profile_patch", "weight_kg %v out of range", v)
		}
		st.WeightKg = v
		changed = append(changed, "weight_kg")
	}
	if v, ok := argFloat(args, "goal_weight_kg"); ok {
		st.GoalWeightKg = v
		changed = append(changed, "goal_weight_kg")
	}
	if v := argString(args, "timezone"); v != "" {
		st.Timezone = v
		changed = append(changed, "timezone")
	}
	for key, dst := range map[string]*[]string{
		"medical_conditions":  &st.MedicalConditions,
		"dietary_preferences": &st.DietaryPreferences,
		"health_goals":        &st.HealthGoals,
		"family_history":      &st.FamilyHistory,
	} {
		if list, ok := argStringList(args, key); ok {
			*dst = list
			changed = append(changed, key)
		}
	}

	if len(changed) == 0 {
		return map[string]any{"status": "no_changes"}, nil
	}
	if err := ec.Store.SaveSettings(ctx, st); err != nil {
		return nil, wrapExecErr("profile_patch", err)
	}
	return map[string]any{"status": "updated", "fields": changed}, nil
}

func argStringList(args map[string]any, key string) ([]string, bool) {
	raw, ok := args[key]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out, true
}

// itemField selects which canonical item list a tool operates on.
type itemField int

const (
	medicationField itemField = iota
	supplementField
)

func (f itemField) get(st *store.UserSettings) string {
	if f == medicationField {
		return st.MedicationsJSON
	}
	return st.SupplementsJSON
}

func (f itemField) set(st *store.UserSettings, raw string) {
	if f == medicationField {
		st.MedicationsJSON = raw
	} else {
		st.SupplementsJSON = raw
	}
}

func itemListSet(tool string, field itemField) Handler {
	return func(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
		items := argItems(args, "items")
		return saveItems(ctx, ec, tool, field, items)
	}
}

func itemListUpsert(tool string, field itemField) Handler {
	return func(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
		updates := argItems(args, "items")
		if len(updates) == 0 {
			return nil, execErr(tool, "no concrete items after placeholder filtering")
		}
		st, err := ec.Store.GetSettings(ctx, ec.User.ID)
		if err != nil {
			return nil, wrapExecErr(tool, err)
		}
		existing, _ := structured.Parse(field.get(st))
		return saveItems(ctx, ec, tool, field, structured.Merge(existing, updates))
	}
}

func saveItems(ctx context.Context, ec *ExecCtx, tool string, field itemField, items []structured.Item) (map[string]any, error) {
	st, err := ec.Store.GetSettings(ctx, ec.User.ID)
	if err != nil {
		return nil, wrapExecErr(tool, err)
	}
	raw, err := structured.Serialize(items)
	if err != nil {
		return nil, wrapExecErr(tool, err)
	}
	field.set(st, raw)
	if err := ec.Store.SaveSettings(ctx, st); err != nil {
		return nil, wrapExecErr(tool, err)
	}
	return map[string]any{"status": "saved", "count": len(items), "names": structured.Names(items)}, nil
}

// timingCues maps reference-phrase tokens to timing substrings.
var timingCues = map[string]string{
	"morning": "morning", "am": "morning",
	"evening": "evening", "pm": "evening",
	"night": "night", "bedtime": "night",
	"noon": "noon", "midday": "noon", "lunch": "noon",
}

func resolveReference(tool string, field itemField) Handler {
	return func(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
		query := strings.ToLower(argString(args, "query"))
		st, err := ec.Store.GetSettings(ctx, ec.User.ID)
		if err != nil {
			return nil, wrapExecErr(tool, err)
		}
		items, err := structured.Parse(field.get(st))
		if err != nil {
			return nil, wrapExecErr(tool, err)
		}

		matched := resolveItemReference(query, items)
		return map[string]any{"names": structured.Names(matched), "count": len(matched)}, nil
	}
}

// resolveItemReference expands a loose phrase against the canonical list:
// a timing cue ("morning meds") narrows by timing, a name fragment ("BP
// meds" → lisinopril is not matched by name, but "magnesium" is) narrows by
// name, and a bare collective phrase returns everything.
func resolveItemReference(query string, items []structured.Item) []structured.Item {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})

	var timing string
	for _, w := range words {
		if cue, ok := timingCues[w]; ok {
			timing = cue
			break
		}
	}

	var nameHits []structured.Item
	for _, item := range items {
		lower := strings.ToLower(item.Name)
		for _, w := range words {
			if len(w) >= 3 && strings.Contains(lower, w) {
				nameHits = append(nameHits, item)
				break
			}
		}
	}
	if len(nameHits) > 0 {
		return nameHits
	}

	if timing != "" {
		var out []structured.Item
		for _, item := range items {
			if strings.Contains(strings.ToLower(item.Timing), timing) {
				out = append(out, item)
			}
		}
		return out
	}

	// Collective phrase: the whole list.
	return items
}

// conditionFrameworks maps condition keywords to the framework derived from
// them.
var conditionFrameworks = []struct {
	keyword       string
	frameworkType string
	name          string
	description   string
	priority      int
}{
	{"hypertension", "dietary", "DASH-style sodium awareness", "Prioritize lower-sodium choices and track sodium per meal.", 90},
	{"high blood pressure", "dietary", "DASH-style sodium awareness", "Prioritize lower-sodium choices and track sodium per meal.", 90},
	{"diabetes", "dietary", "Glycemic load awareness", "Favor low-glycemic meals and steady carbohydrate intake.", 90},
	{"prediabetes", "dietary", "Glycemic load awareness", "Favor low-glycemic meals and steady carbohydrate intake.", 80},
	{"high cholesterol", "dietary", "Lipid-aware eating", "Favor unsaturated fats and soluble fiber.", 70},
	{"kidney", "monitoring", "Renal load monitoring", "Watch protein and sodium totals.", 85},
}

// frameworkSyncFromProfile derives frameworks from medical conditions,
// creating missing ones and leaving existing rows untouched.
func frameworkSyncFromProfile(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	st, err := ec.Store.GetSettings(ctx, ec.User.ID)
	if err != nil {
		return nil, wrapExecErr("framework_sync_from_profile", err)
	}
	active, err := ec.Store.ActiveFrameworks(ctx, ec.User.ID)
	if err != nil {
		return nil, wrapExecErr("framework_sync_from_profile", err)
	}
	have := make(map[string]bool, len(active))
	for _, f := range active {
		have[strings.ToLower(f.Name)] = true
	}

	var created []string
	for _, condition := range st.MedicalConditions {
		lower := strings.ToLower(condition)
		for _, rule := range conditionFrameworks {
			if !strings.Contains(lower, rule.keyword) || have[strings.ToLower(rule.name)] {
				continue
			}
			_, err := ec.Store.AddFramework(ctx, &store.HealthFramework{
				UserID:        ec.User.ID,
				FrameworkType: rule.frameworkType,
				Name:          rule.name,
				Description:   rule.description,
				Priority:      rule.priority,
				IsActive:      true,
			})
			if err != nil {
				return nil, wrapExecErr("framework_sync_from_profile", err)
			}
			have[strings.ToLower(rule.name)] = true
			created = append(created, rule.name)
		}
	}
	return map[string]any{"status": "synced", "created": created}, nil
}

func notFoundResult(kind string, id int64) map[string]any {
	return map[string]any{"status": "not_found", "kind": kind, "id": fmt.Sprint(id)}
}
