package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Spec describes one tool to the LLM: its name, when to use it, and a JSON
// Schema for its arguments.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Catalog returns the schema for every registered task tool, in the order
// they are presented to the model.
func Catalog() []Spec {
	return []Spec{
		{
			Name:        "add_task",
			Description: "Create a new task for the authenticated user. Use when user wants to add a todo or reminder.",
			Parameters: objectSchema(map[string]any{
				"title":       stringProp("Task title (required)"),
				"description": stringProp("Optional task description"),
				"priority":    stringProp("Task priority: low, medium, or high"),
				"due_date":    stringProp("Due date in YYYY-MM-DD format"),
				"recurrence":  stringProp("Repeat pattern: none, daily, weekly, or monthly"),
			}, "title"),
		},
		{
			Name:        "list_tasks",
			Description: "List tasks with optional filtering. Use when user wants to see their tasks.",
			Parameters: objectSchema(map[string]any{
				"status":   stringProp("Filter by status: pending or completed"),
				"priority": stringProp("Filter by priority: low, medium, or high"),
				"limit":    map[string]any{"type": "integer", "description": "Maximum number of tasks to return (default 50)"},
			}),
		},
		{
			Name:        "mark_complete",
			Description: "Mark a task as completed or reopen it. Use when user wants to complete or reopen a task.",
			Parameters: objectSchema(map[string]any{
				"task_id":   map[string]any{"type": "integer", "description": "ID of the task to update"},
				"completed": map[string]any{"type": "boolean", "description": "True to mark complete, false to reopen"},
			}, "task_id", "completed"),
		},
		{
			Name:        "update_task",
			Description: "Update an existing task's attributes. Use when user wants to modify title, priority, or due date.",
			Parameters: objectSchema(map[string]any{
				"task_id":  map[string]any{"type": "integer", "description": "ID of the task to update"},
				"title":    stringProp("New task title"),
				"priority": stringProp("New priority: low, medium, or high"),
				"due_date": stringProp("New due date in YYYY-MM-DD format"),
			}, "task_id"),
		},
		{
			Name:        "delete_task",
			Description: "Delete a task permanently. ALWAYS confirm with user before calling this tool.",
			Parameters: objectSchema(map[string]any{
				"task_id": map[string]any{"type": "integer", "description": "ID of the task to delete"},
			}, "task_id"),
		},
		{
			Name:        "get_current_user",
			Description: "Get the current authenticated user's information. Use when user asks 'Who am I?' or about their email.",
			Parameters:  objectSchema(map[string]any{}),
		},
	}
}

// CompileCatalog compiles every tool's parameter schema, failing fast on a
// malformed definition. Returns the compiled schemas keyed by tool name.
func CompileCatalog(catalog []Spec) (map[string]*jsonschema.Schema, error) {
	compiled := make(map[string]*jsonschema.Schema, len(catalog))
	for _, spec := range catalog {
		raw, err := json.Marshal(spec.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", spec.Name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema for %s: %w", spec.Name, err)
		}
		c := jsonschema.NewCompiler()
		resource := spec.Name + ".json"
		if err := c.AddResource(resource, doc); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", spec.Name, err)
		}
		sch, err := c.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", spec.Name, err)
		}
		compiled[spec.Name] = sch
	}
	return compiled, nil
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
