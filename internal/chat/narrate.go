package chat

import (
	"fmt"
	"strings"

	"github.com/basket/taskchat/internal/tools"
)

// Narrate turns one tool result into the sentence shown to the user.
// Tool names without a branch keep the model's own reply text.
func Narrate(tool string, res tools.Result, fallback string) string {
	switch tool {
	case "add_task":
		if res.OK {
			title := payloadString(res.Payload, "title", "the task")
			return fmt.Sprintf("I've added '%s' to your tasks!", title)
		}
		return fmt.Sprintf("Sorry, I couldn't add the task: %s", errMessage(res))

	case "list_tasks":
		if res.OK {
			return narrateTaskList(res.Payload)
		}
		return fmt.Sprintf("Sorry, I couldn't retrieve your tasks: %s", errMessage(res))

	case "mark_complete":
		if res.OK {
			status := "reopened"
			if b, ok := res.Payload["completed"].(bool); ok && b {
				status = "completed"
			}
			return fmt.Sprintf("Task marked as %s!", status)
		}
		return fmt.Sprintf("Sorry, I couldn't update the task: %s", errMessage(res))

	case "update_task":
		if res.OK {
			fields := payloadStrings(res.Payload, "updated_fields")
			return fmt.Sprintf("Task updated: %s", strings.Join(fields, ", "))
		}
		return fmt.Sprintf("Sorry, I couldn't update the task: %s", errMessage(res))

	case "delete_task":
		if res.OK {
			if ok, _ := res.Payload["success"].(bool); ok {
				return "Task deleted successfully!"
			}
		}
		return fmt.Sprintf("Sorry, I couldn't delete the task: %s", errMessage(res))

	case "get_current_user":
		if res.OK {
			return fmt.Sprintf("You are logged in as %s", payloadString(res.Payload, "email", "unknown"))
		}
		return fmt.Sprintf("Sorry, I couldn't get your info: %s", errMessage(res))
	}
	return fallback
}

func narrateTaskList(payload map[string]any) string {
	count := payloadInt(payload, "count")
	if count == 0 {
		return "You're all caught up! No tasks yet. Would you like to add one?"
	}

	entries := payloadMaps(payload, "tasks")
	var lines []string
	for i, t := range entries {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. **%s** - %s (Priority: %s)",
			i+1,
			payloadString(t, "title", ""),
			payloadString(t, "status", ""),
			payloadString(t, "priority", "")))
	}
	return fmt.Sprintf("You have %d task(s):\n\n%s", count, strings.Join(lines, "\n"))
}

func errMessage(res tools.Result) string {
	if msg := strings.TrimSpace(res.Message); msg != "" {
		return msg
	}
	if msg := payloadString(res.Payload, "message", ""); msg != "" {
		return msg
	}
	return "Unknown error"
}

func payloadString(payload map[string]any, key, fallback string) string {
	if s, ok := payload[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func payloadMaps(payload map[string]any, key string) []map[string]any {
	switch v := payload[key].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func payloadStrings(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
