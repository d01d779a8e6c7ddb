package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basket/taskchat/internal/store"
)

// DateLayout is the calendar-date format accepted for due dates.
const DateLayout = "2006-01-02"

// AddTask creates a task. Validation is deliberately lenient: an unknown
// priority is coerced to "medium" and an unparsable due_date is dropped,
// so a slightly-off model call still produces a task. update_task is the
// strict counterpart.
func AddTask(st *store.Store) Handler {
	return func(ctx context.Context, ownerID string, args map[string]any) Result {
		title, _ := argString(args, "title")
		if strings.TrimSpace(title) == "" {
			return Failure(ErrValidation, "title is required")
		}

		priority, _ := argString(args, "priority")
		priority = strings.ToLower(strings.TrimSpace(priority))
		if !store.IsValidPriority(priority) {
			priority = "medium"
		}

		task := store.Task{
			UserID:   ownerID,
			Title:    title,
			Priority: priority,
		}
		if desc, ok := argString(args, "description"); ok {
			task.Description = desc
		}
		if raw, ok := argString(args, "due_date"); ok && raw != "" {
			if due, err := time.Parse(DateLayout, raw); err == nil {
				task.DueDate = &due
			}
		}
		if rec, ok := argString(args, "recurrence"); ok {
			rec = strings.ToLower(strings.TrimSpace(rec))
			if store.IsValidRecurrence(rec) {
				task.Recurrence = rec
			}
		}

		created, err := st.CreateTask(ctx, task)
		if err != nil {
			return Failure(ErrDatabase, err.Error())
		}
		return Success(map[string]any{
			"task_id": created.ID,
			"title":   created.Title,
			"status":  "created",
		})
	}
}

// ListTasks lists the owner's tasks, newest first. Unrecognized status or
// priority values are ignored as filters rather than rejected.
func ListTasks(st *store.Store) Handler {
	return func(ctx context.Context, ownerID string, args map[string]any) Result {
		filter := store.TaskFilter{Limit: 50}
		if status, ok := argString(args, "status"); ok {
			filter.Status = status
		}
		if priority, ok := argString(args, "priority"); ok {
			filter.Priority = priority
		}
		if limit, ok := argInt64(args, "limit"); ok && limit > 0 {
			filter.Limit = int(limit)
		}

		tasks, err := st.ListTasks(ctx, ownerID, filter)
		if err != nil {
			return Failure(ErrDatabase, err.Error())
		}

		entries := make([]map[string]any, 0, len(tasks))
		for _, t := range tasks {
			status := "pending"
			if t.Completed {
				status = "completed"
			}
			var dueDate, completedAt any
			if t.DueDate != nil {
				dueDate = t.DueDate.Format(DateLayout)
			}
			if t.CompletedAt != nil {
				completedAt = t.CompletedAt.Format(time.RFC3339)
			}
			entries = append(entries, map[string]any{
				"task_id":      t.ID,
				"title":        t.Title,
				"status":       status,
				"priority":     t.Priority,
				"due_date":     dueDate,
				"completed_at": completedAt,
			})
		}
		return Success(map[string]any{
			"tasks": entries,
			"count": len(entries),
		})
	}
}

// MarkComplete flips a task's completion flag. Completing stamps
// completed_at; reopening clears it.
func MarkComplete(st *store.Store) Handler {
	return func(ctx context.Context, ownerID string, args map[string]any) Result {
		taskID, ok := argInt64(args, "task_id")
		if !ok {
			return Failure(ErrValidation, "task_id is required")
		}
		completed, ok := argBool(args, "completed")
		if !ok {
			return Failure(ErrValidation, "completed is required")
		}

		_, res := fetchOwned(ctx, st, taskID, ownerID)
		if !res.OK {
			return res
		}

		updated, err := st.UpdateTask(ctx, taskID, store.TaskUpdate{Completed: &completed})
		if err != nil {
			return Failure(ErrDatabase, err.Error())
		}

		var completedAt any
		if updated.CompletedAt != nil {
			completedAt = updated.CompletedAt.Format(time.RFC3339)
		}
		return Success(map[string]any{
			"task_id":      taskID,
			"completed":    completed,
			"completed_at": completedAt,
		})
	}
}

// UpdateTask updates a task's title, priority, or due date. Unlike AddTask
// it validates strictly: any bad field fails the whole call and the task is
// left untouched.
func UpdateTask(st *store.Store) Handler {
	return func(ctx context.Context, ownerID string, args map[string]any) Result {
		taskID, ok := argInt64(args, "task_id")
		if !ok {
			return Failure(ErrValidation, "task_id is required")
		}

		_, res := fetchOwned(ctx, st, taskID, ownerID)
		if !res.OK {
			return res
		}

		var (
			upd           store.TaskUpdate
			updatedFields []string
		)
		if raw, ok := args["title"]; ok && raw != nil {
			title, isStr := raw.(string)
			if !isStr || len(strings.TrimSpace(title)) == 0 {
				return Failure(ErrValidation, "Title cannot be empty")
			}
			if len(title) > store.MaxTitleLen {
				return Failure(ErrValidation, fmt.Sprintf("Title must be %d characters or less", store.MaxTitleLen))
			}
			upd.Title = &title
			updatedFields = append(updatedFields, "title")
		}
		if raw, ok := args["priority"]; ok && raw != nil {
			priority, isStr := raw.(string)
			if isStr {
				priority = strings.ToLower(priority)
			}
			if !isStr || !store.IsValidPriority(priority) {
				return Failure(ErrValidation, fmt.Sprintf("Priority must be one of: %s", strings.Join(store.ValidPriorities, ", ")))
			}
			upd.Priority = &priority
			updatedFields = append(updatedFields, "priority")
		}
		if raw, ok := args["due_date"]; ok && raw != nil {
			dateStr, isStr := raw.(string)
			if !isStr {
				return Failure(ErrValidation, "due_date must be in YYYY-MM-DD format")
			}
			due, err := time.Parse(DateLayout, dateStr)
			if err != nil {
				return Failure(ErrValidation, "due_date must be in YYYY-MM-DD format")
			}
			upd.DueDate = &due
			updatedFields = append(updatedFields, "due_date")
		}

		if _, err := st.UpdateTask(ctx, taskID, upd); err != nil {
			return Failure(ErrDatabase, err.Error())
		}
		return Success(map[string]any{
			"task_id":        taskID,
			"updated_fields": updatedFields,
		})
	}
}

// DeleteTask deletes a task permanently. Confirmation is the chat layer's
// responsibility; once dispatched the delete is unconditional.
func DeleteTask(st *store.Store) Handler {
	return func(ctx context.Context, ownerID string, args map[string]any) Result {
		taskID, ok := argInt64(args, "task_id")
		if !ok {
			return Failure(ErrValidation, "task_id is required")
		}

		task, res := fetchOwned(ctx, st, taskID, ownerID)
		if !res.OK {
			return res
		}

		if err := st.DeleteTask(ctx, taskID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Failure(ErrNotFound, fmt.Sprintf("Task %d not found", taskID))
			}
			return Failure(ErrDatabase, err.Error())
		}
		return Success(map[string]any{
			"success": true,
			"message": fmt.Sprintf("Task '%s' deleted successfully", task.Title),
		})
	}
}

// fetchOwned loads a task and enforces ownership. The order matters: a
// missing id reports NotFoundError, an existing task under another owner
// reports AuthenticationError, never the other way around.
func fetchOwned(ctx context.Context, st *store.Store, taskID int64, ownerID string) (store.Task, Result) {
	task, err := st.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Task{}, Failure(ErrNotFound, fmt.Sprintf("Task %d not found", taskID))
	}
	if err != nil {
		return store.Task{}, Failure(ErrDatabase, err.Error())
	}
	if task.UserID != ownerID {
		return store.Task{}, Failure(ErrAuthentication, "Task does not belong to this user")
	}
	return task, Result{OK: true}
}
