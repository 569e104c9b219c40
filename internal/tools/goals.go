package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/store"
)

func registerGoalTools(r *Registry) {
	r.Register(&Tool{
		Spec: Spec{
			Name:        "create_goal",
			Description: "Create a health goal.",
			Required:    []string{"title"},
			Tags:        []string{"goals", "ai"},
		},
		Run: createGoal,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "update_goal",
			Description: "Update a goal's title, description, status, or target date.",
			Required:    []string{"goal_id"},
			Tags:        []string{"goals", "ai"},
		},
		Run: updateGoal,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "goal_upsert",
			Description: "Create a goal, or update one matched by id or exact title.",
			Required:    []string{"title"},
			Tags:        []string{"goals"},
		},
		Run: goalUpsert,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "list_goals",
			Description: "List goals, optionally filtered by status.",
			ReadOnly:    true,
			Tags:        []string{"goals"},
		},
		Run: listGoals,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "exercise_plan_upsert",
			Description: "Install an exercise plan with its task rows, deactivating prior plans.",
			Required:    []string{"name"},
			Tags:        []string{"plans"},
		},
		Run: exercisePlanUpsert,
	})
	r.Register(&Tool{
		Spec: Spec{
			Name:        "plan_task_update_status",
			Description: "Move a plan task between pending, in_progress, done, and skipped.",
			Required:    []string{"task_id", "status"},
			Tags:        []string{"plans", "ai"},
		},
		Run: planTaskUpdateStatus,
	})
}

func goalResult(g *store.Goal) map[string]any {
	out := map[string]any{
		"goal_id": g.ID,
		"title":   g.Title,
		"status":  g.Status,
	}
	if g.Description != "" {
		out["description"] = g.Description
	}
	if g.TargetDate != nil {
		out["target_date"] = g.TargetDate.Format("2006-01-02")
	}
	return out
}

func (ec *ExecCtx) argDate(tool string, args map[string]any, key string) (*time.Time, error) {
	raw := argString(args, key)
	if raw == "" {
		return nil, nil
	}
	t, err := ec.resolveTime(raw)
	if err != nil {
		return nil, execErr(tool, "field %q: %v", key, err)
	}
	return &t, nil
}

func createGoal(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	target, err := ec.argDate("create_goal", args, "target_date")
	if err != nil {
		return nil, err
	}
	g := &store.Goal{
		UserID:      ec.User.ID,
		Title:       argString(args, "title"),
		Description: argString(args, "description"),
		Status:      "active",
		TargetDate:  target,
	}
	id, err := ec.Store.AddGoal(ctx, g)
	if err != nil {
		return nil, wrapExecErr("create_goal", err)
	}
	g.ID = id
	out := goalResult(g)
	out["status_detail"] = "created"
	return out, nil
}

func updateGoal(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	id, ok := argInt64(args, "goal_id")
	if !ok {
		return nil, execErr("update_goal", "goal_id must be an integer")
	}
	g, err := ec.Store.GetGoal(ctx, ec.User.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundResult("goal", id), nil
	}
	if err != nil {
		return nil, wrapExecErr("update_goal", err)
	}

	changed := false
	if title := argString(args, "title"); title != "" && title != g.Title {
		g.Title = title
		changed = true
	}
	if _, present := args["description"]; present {
		if desc := argString(args, "description"); desc != g.Description {
			g.Description = desc
			changed = true
		}
	}
	if status := strings.ToLower(argString(args, "status")); status != "" {
		switch status {
		case "active", "completed", "abandoned":
		default:
			return nil, execErr("update_goal", "unsupported status %q", status)
		}
		if status != g.Status {
			g.Status = status
			changed = true
		}
	}
	if target, err := ec.argDate("update_goal", args, "target_date"); err != nil {
		return nil, err
	} else if target != nil {
		g.TargetDate = target
		changed = true
	}

	if !changed {
		out := goalResult(g)
		out["status_detail"] = "no_changes"
		return out, nil
	}
	if err := ec.Store.UpdateGoal(ctx, g); err != nil {
		return nil, wrapExecErr("update_goal", err)
	}
	out := goalResult(g)
	out["status_detail"] = "updated"
	return out, nil
}

func goalUpsert(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	if id, ok := argInt64(args, "goal_id"); ok && id > 0 {
		return updateGoal(ctx, ec, args)
	}
	title := argString(args, "title")
	goals, err := ec.Store.GoalsByStatus(ctx, ec.User.ID, "active")
	if err != nil {
		return nil, wrapExecErr("goal_upsert", err)
	}
	for i := range goals {
		if strings.EqualFold(goals[i].Title, title) {
			args["goal_id"] = goals[i].ID
			return updateGoal(ctx, ec, args)
		}
	}
	return createGoal(ctx, ec, args)
}

func listGoals(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	status := strings.ToLower(argString(args, "status"))
	if status == "" {
		status = "active"
	}
	var goals []store.Goal
	var err error
	if status == "all" {
		for _, s := range []string{"active", "completed", "abandoned"} {
			batch, berr := ec.Store.GoalsByStatus(ctx, ec.User.ID, s)
			if berr != nil {
				return nil, wrapExecErr("list_goals", berr)
			}
			goals = append(goals, batch...)
		}
	} else {
		goals, err = ec.Store.GoalsByStatus(ctx, ec.User.ID, status)
		if err != nil {
			return nil, wrapExecErr("list_goals", err)
		}
	}
	out := make([]map[string]any, 0, len(goals))
	for i := range goals {
		out = append(out, goalResult(&goals[i]))
	}
	return map[string]any{"goals": out, "count": len(out)}, nil
}

func exercisePlanUpsert(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	plan := &store.ExercisePlan{
		UserID:   ec.User.ID,
		Name:     argString(args, "name"),
		IsActive: true,
	}
	if raw, ok := args["plan"]; ok {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, execErr("exercise_plan_upsert", "plan not serializable: %v", err)
		}
		plan.PlanJSON = string(data)
	} else {
		plan.PlanJSON = "{}"
	}

	if err := ec.Store.DeactivateExercisePlans(ctx, ec.User.ID); err != nil {
		return nil, wrapExecErr("exercise_plan_upsert", err)
	}
	id, err := ec.Store.AddExercisePlan(ctx, plan)
	if err != nil {
		return nil, wrapExecErr("exercise_plan_upsert", err)
	}

	var taskIDs []int64
	if tasks, ok := args["tasks"].([]any); ok {
		for _, entry := range tasks {
			title := ""
			switch e := entry.(type) {
			case string:
				title = strings.TrimSpace(e)
			case map[string]any:
				title = stringField(e, "title")
			}
			if title == "" {
				continue
			}
			taskID, err := ec.Store.AddPlanTask(ctx, &store.PlanTask{
				UserID: ec.User.ID,
				PlanID: &id,
				Title:  title,
			})
			if err != nil {
				return nil, wrapExecErr("exercise_plan_upsert", err)
			}
			taskIDs = append(taskIDs, taskID)
		}
	}
	return map[string]any{
		"status":  "saved",
		"plan_id": id,
		"tasks":   len(taskIDs),
	}, nil
}

func planTaskUpdateStatus(ctx context.Context, ec *ExecCtx, args map[string]any) (map[string]any, error) {
	id, ok := argInt64(args, "task_id")
	if !ok {
		return nil, execErr("plan_task_update_status", "task_id must be an integer")
	}
	status := strings.ToLower(argString(args, "status"))
	switch status {
	case "pending", "in_progress", "done", "skipped":
	default:
		return nil, execErr("plan_task_update_status", "unsupported status %q", status)
	}
	task, err := ec.Store.GetPlanTask(ctx, ec.User.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundResult("plan_task", id), nil
	}
	if err != nil {
		return nil, wrapExecErr("plan_task_update_status", err)
	}
	if task.Status == status {
		return map[string]any{"status": "no_changes", "task_id": id, "task_status": status}, nil
	}
	if err := ec.Store.UpdatePlanTaskStatus(ctx, ec.User.ID, id, status); err != nil {
		return nil, wrapExecErr("plan_task_update_status", err)
	}
	return map[string]any{"status": "updated", "task_id": id, "task_status": status}, nil
}
