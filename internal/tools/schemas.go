package tools

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// aiSchemas is the allow-list of model-initiated tools. Arguments from
// <tool_call> blocks are untrusted, so each entry gets a strict schema with
// additionalProperties disabled. Every other tool is host-initiated only.
var aiSchemas = map[string]*jsonschema.Schema{
	"plan_task_update_status": jsonschema.MustCompileString("plan_task_update_status.json", `{
		"type": "object",
		"properties": {
			"task_id": {"type": "integer", "minimum": 1},
			"status": {"type": "string", "enum": ["pending", "in_progress", "done", "skipped"]}
		},
		"required": ["task_id", "status"],
		"additionalProperties": false
	}`),
	"create_goal": jsonschema.MustCompileString("create_goal.json", `{
		"type": "object",
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 200},
			"description": {"type": "string", "maxLength": 2000},
			"target_date": {"type": "string"}
		},
		"required": ["title"],
		"additionalProperties": false
	}`),
	"update_goal": jsonschema.MustCompileString("update_goal.json", `{
		"type": "object",
		"properties": {
			"goal_id": {"type": "integer", "minimum": 1},
			"title": {"type": "string", "minLength": 1, "maxLength": 200},
			"description": {"type": "string", "maxLength": 2000},
			"status": {"type": "string", "enum": ["active", "completed", "abandoned"]},
			"target_date": {"type": "string"}
		},
		"required": ["goal_id"],
		"additionalProperties": false
	}`),
}

// normalizeForSchema round-trips args through JSON so integers arrive as
// json.Number-compatible float64 values the validator understands.
func normalizeForSchema(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}
