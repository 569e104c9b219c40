package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/haasonsaas/vitalcoach/internal/store"
	"github.com/haasonsaas/vitalcoach/internal/structured"
)

func registerUtilityTools(r *Registry) {
	r.Register(&Tool{
		Spec: Spec{
			Name:        "checklist_mark_taken",
			Description: "Mark medications or supplements taken for the day; expands loose references against the profile lists.",
			Required:    []string{"item_type"},
			Tags:        []string{"checklist"},
		},
		Run: checklistMarkTaken,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "notification_create",
			Description: "Create a user notification.",
			Required:    []string{"category", "title"},
			Tags:        []string{"notifications"},
		},
		Run: notificationCreate,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "notification_mark_read",
			Description: "Mark a notification read.",
			Required:    []string{"notification_id"},
			Tags:        []string{"notifications"},
		},
		Run: notificationMarkRead,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "notification_list",
			Description: "List unread notifications, newest first.",
			ReadOnly:    true,
			Tags:        []string{"notifications"},
		},
		Run: notificationList,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "time_now",
			Description: "Report the reference instant in UTC and the user's local zone.",
			ReadOnly:    true,
			Tags:        []string{"time"},
		},
		Run: timeNow,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "web_search",
			Description: "Search the public web across the configured backends.",
			Required:    []string{"query"},
			ReadOnly:    true,
			Tags:        []string{"search"},
		},
		Run: webSearch("web_search", ""),
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "health_search",
			Description: "Search with a health-literature bias; the query is scoped toward medical sources.",
			Required:    []string{"query"},
			ReadOnly:    true,
			Tags:        []string{"search", "health"},
		},
		Run: webSearch("health_search", "health"),
	})
}

// checklistMarkTaken marks profile items taken for the local day. An
// explicit items list wins; otherwise reference_query expands against the
// profile list ("my morning meds"), and no query at all marks everything.
func checklistMarkTaken(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	itemType := strings.ToLower(argString(args, "item_type"))
	var field itemField
	switch itemType {
	case "medication", "medications":
		itemType, field = "medication", medicationField
	case "supplement", "supplements":
		itemType, field = "supplement", supplementField
	default:
		return nil, execErr("checklist_mark_taken", "item_type must be medication or supplement, got %q", itemType)
	}

	var names []string
	if explicit := argItems(args, "items"); len(explicit) > 0 {
		names = structured.Names(explicit)
	} else {
		st, err := ec.Store.GetSettings(ctx, ec.User.ID)
		if err != nil {
			return nil, wrapExecErr("checklist_mark_taken", err)
		}
		items, err := structured.Parse(field.get(st))
		if err != nil {
			return nil, wrapExecErr("checklist_mark_taken", err)
		}
		query := strings.ToLower(argString(args, "reference_query"))
		if query != "" {
			items = resolveItemReference(query, items)
		}
		names = structured.Names(items)
	}
	if len(names) == 0 {
		return map[string]any{"status": "no_items", "item_type": itemType}, nil
	}

	date := argString(args, "target_date")
	if date == "" {
		date = ec.localDate()
	}
	completed := true
	if v, ok := argBool(args, "completed"); ok {
		completed = v
	}
	for _, name := range names {
		err := ec.Store.UpsertChecklistItem(ctx, &store.ChecklistItem{
			UserID:     ec.User.ID,
			TargetDate: date,
			ItemType:   itemType,
			ItemName:   strings.ToLower(name),
			Completed:  completed,
		})
		if err != nil {
			return nil, wrapExecErr("checklist_mark_taken", err)
		}
	}
	return map[string]any{
		"status":      "marked",
		"item_type":   itemType,
		"target_date": date,
		"names":       names,
	}, nil
}

func notificationCreate(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	category := strings.ToLower(argString(args, "category"))
	switch category {
	case store.NotificationTimeConfirmation, store.NotificationAnalysisReady, store.NotificationCheckIn:
	default:
		return nil, execErr("notification_create", "unsupported category %q", category)
	}
	id, err := ec.Store.AddNotification(ctx, &store.Notification{
		UserID:   ec.User.ID,
		Category: category,
		Title:    argString(args, "title"),
		Message:  argString(args, "message"),
		Payload:  argString(args, "payload"),
	})
	if err != nil {
		return nil, wrapExecErr("notification_create", err)
	}
	return map[string]any{"status": "created", "notification_id": id}, nil
}

func notificationMarkRead(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	id, ok := argInt64(args, "notification_id")
	if !ok {
		return nil, execErr("notification_mark_read", "notification_id must be an integer")
	}
	err := ec.Store.MarkNotificationRead(ctx, ec.User.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundResult("notification", id), nil
	}
	if err != nil {
		return nil, wrapExecErr("notification_mark_read", err)
	}
	return map[string]any{"status": "read", "notification_id": id}, nil
}

func notificationList(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	limit, _ := argInt(args, "limit")
	notes, err := ec.Store.UnreadNotifications(ctx, ec.User.ID, limit)
	if err != nil {
		return nil, wrapExecErr("notification_list", err)
	}
	out := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		out = append(out, map[string]any{
			"notification_id": n.ID,
			"category":        n.Category,
			"title":           n.Title,
			"message":         n.Message,
			"created_at":      n.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return map[string]any{"notifications": out, "count": len(out)}, nil
}

func timeNow(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	ref := ec.reference()
	return map[string]any{
		"utc":        ref.Format("2006-01-02T15:04:05Z07:00"),
		"local_date": ec.localDate(),
		"timezone":   ec.timezone(),
	}, nil
}

// webSearch wraps the search client. scope, when set, prefixes the query so
// results skew toward that literature.
func webSearch(tool, scope string) Handler {
	return func(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
		if ec.Search == nil {
			return nil, execErr(tool, "search client is not configured")
		}
		query := argString(args, "query")
		if scope != "" && !strings.Contains(strings.ToLower(query), scope) {
			query = scope + " " + query
		}
		resp, err := ec.Search.Search(ctx, query)
		if err != nil {
			return nil, wrapExecErr(tool, err)
		}
		results := make([]map[string]any, 0, len(resp.Results))
		for _, r := range resp.Results {
			results = append(results, map[string]any{
				"title":   r.Title,
				"url":     r.URL,
				"snippet": r.Snippet,
				"source":  string(r.Source),
			})
		}
		out := map[string]any{"query": resp.Query, "results": results}
		if len(resp.Skipped) > 0 {
			skipped := make([]string, 0, len(resp.Skipped))
			for _, b := range resp.Skipped {
				skipped = append(skipped, string(b))
			}
			out["skipped_backends"] = skipped
		}
		return out, nil
	}
}
