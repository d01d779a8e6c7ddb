package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/taskchat/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "taskchat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func mustCreateTask(t *testing.T, st *store.Store, task store.Task) store.Task {
	t.Helper()
	created, err := st.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return created
}

func TestStore_OpenConfiguresWALAndSchema(t *testing.T) {
	st := openTestStore(t)
	db := st.DB()

	var journal string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journal); err != nil {
		t.Fatalf("pragma journal_mode: %v", err)
	}
	if journal != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journal)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&foreignKeys); err != nil {
		t.Fatalf("pragma foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", foreignKeys)
	}

	for _, table := range []string{"users", "tasks", "conversations", "messages"} {
		var got string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&got); err != nil {
			t.Fatalf("table %s not found: %v", table, err)
		}
	}
}

func TestStore_TaskCreateGetDefaults(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	created := mustCreateTask(t, st, store.Task{UserID: "alice@example.com", Title: "Buy milk", Priority: "medium"})
	if created.ID == 0 {
		t.Fatalf("expected assigned id")
	}

	got, err := st.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Title != "Buy milk" || got.UserID != "alice@example.com" {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.Completed {
		t.Fatalf("new task should not be completed")
	}
	if got.Recurrence != "none" {
		t.Fatalf("expected recurrence none, got %q", got.Recurrence)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}
}

func TestStore_GetTaskNotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.GetTask(context.Background(), 9999)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_UpdateTaskCompletedStampsAndClears(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	created := mustCreateTask(t, st, store.Task{UserID: "u", Title: "t", Priority: "low"})

	done := true
	updated, err := st.UpdateTask(ctx, created.ID, store.TaskUpdate{Completed: &done})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !updated.Completed || updated.CompletedAt == nil {
		t.Fatalf("expected completed with timestamp, got %+v", updated)
	}

	undone := false
	updated, err = st.UpdateTask(ctx, created.ID, store.TaskUpdate{Completed: &undone})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if updated.Completed || updated.CompletedAt != nil {
		t.Fatalf("expected reopened with cleared timestamp, got %+v", updated)
	}
}

func TestStore_UpdateTaskClearDue(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	created := mustCreateTask(t, st, store.Task{UserID: "u", Title: "t", Priority: "low", DueDate: &due})

	updated, err := st.UpdateTask(ctx, created.ID, store.TaskUpdate{ClearDue: true})
	if err != nil {
		t.Fatalf("clear due: %v", err)
	}
	if updated.DueDate != nil {
		t.Fatalf("expected nil due date, got %v", updated.DueDate)
	}
}

func TestStore_DeleteTask(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	created := mustCreateTask(t, st, store.Task{UserID: "u", Title: "t", Priority: "low"})
	if err := st.DeleteTask(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetTask(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := st.DeleteTask(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStore_ListTasksFiltersAndOrdering(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first := mustCreateTask(t, st, store.Task{UserID: "u", Title: "first", Priority: "low", Tags: []string{"home"}})
	second := mustCreateTask(t, st, store.Task{UserID: "u", Title: "second", Priority: "high"})
	mustCreateTask(t, st, store.Task{UserID: "other", Title: "not mine", Priority: "high"})

	done := true
	if _, err := st.UpdateTask(ctx, first.ID, store.TaskUpdate{Completed: &done}); err != nil {
		t.Fatalf("complete first: %v", err)
	}

	all, err := st.ListTasks(ctx, "u", store.TaskFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks for owner, got %d", len(all))
	}
	// Newest first.
	if all[0].ID != second.ID {
		t.Fatalf("expected newest task first, got id %d", all[0].ID)
	}

	pending, err := st.ListTasks(ctx, "u", store.TaskFilter{Status: "pending"})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("unexpected pending list: %+v", pending)
	}

	high, err := st.ListTasks(ctx, "u", store.TaskFilter{Priority: "high"})
	if err != nil {
		t.Fatalf("list high: %v", err)
	}
	if len(high) != 1 || high[0].ID != second.ID {
		t.Fatalf("unexpected priority list: %+v", high)
	}

	tagged, err := st.ListTasks(ctx, "u", store.TaskFilter{Tag: "home"})
	if err != nil {
		t.Fatalf("list tagged: %v", err)
	}
	if len(tagged) != 1 || tagged[0].ID != first.ID {
		t.Fatalf("unexpected tag list: %+v", tagged)
	}

	found, err := st.ListTasks(ctx, "u", store.TaskFilter{Search: "sec"})
	if err != nil {
		t.Fatalf("list search: %v", err)
	}
	if len(found) != 1 || found[0].ID != second.ID {
		t.Fatalf("unexpected search list: %+v", found)
	}
}

func TestStore_RollRecurringTasks(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	due := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	daily := mustCreateTask(t, st, store.Task{UserID: "u", Title: "water plants", Priority: "low", Recurrence: "daily", DueDate: &due})
	weekly := mustCreateTask(t, st, store.Task{UserID: "u", Title: "laundry", Priority: "low", Recurrence: "weekly", DueDate: &due})
	oneOff := mustCreateTask(t, st, store.Task{UserID: "u", Title: "one off", Priority: "low"})

	done := true
	for _, id := range []int64{daily.ID, weekly.ID, oneOff.ID} {
		if _, err := st.UpdateTask(ctx, id, store.TaskUpdate{Completed: &done}); err != nil {
			t.Fatalf("complete %d: %v", id, err)
		}
	}

	spawned, err := st.RollRecurringTasks(ctx, now)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if spawned != 2 {
		t.Fatalf("expected 2 spawned, got %d", spawned)
	}

	tasks, err := st.ListTasks(ctx, "u", store.TaskFilter{Status: "pending"})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 pending occurrences, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.DueDate == nil {
			t.Fatalf("expected due date on occurrence %q", task.Title)
		}
		want := due.AddDate(0, 0, 1)
		if task.Title == "laundry" {
			want = due.AddDate(0, 0, 7)
		}
		if !task.DueDate.Equal(want) {
			t.Fatalf("task %q: expected due %v, got %v", task.Title, want, task.DueDate)
		}
	}

	// A second roll must not double-spawn: sources had recurrence cleared.
	spawned, err = st.RollRecurringTasks(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second roll: %v", err)
	}
	if spawned != 0 {
		t.Fatalf("expected no tasks on second roll, got %d", spawned)
	}
}

func TestStore_TaskCounts(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := mustCreateTask(t, st, store.Task{UserID: "u", Title: "a", Priority: "low"})
	mustCreateTask(t, st, store.Task{UserID: "u", Title: "b", Priority: "low"})

	done := true
	if _, err := st.UpdateTask(ctx, a.ID, store.TaskUpdate{Completed: &done}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	total, pending, completed, err := st.TaskCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if total != 2 || pending != 1 || completed != 1 {
		t.Fatalf("unexpected counts: total=%d pending=%d completed=%d", total, pending, completed)
	}
}

func TestStore_UsersUniqueEmail(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.CreateUser(ctx, "alice@example.com", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := st.CreateUser(ctx, "alice@example.com", "hash2"); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	user, err := st.GetUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.HashedPassword != "hash" {
		t.Fatalf("unexpected hash %q", user.HashedPassword)
	}

	if _, err := st.GetUser(ctx, "nobody@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ConversationsAndMessages(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "u", "Groceries")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if conv.ID == 0 || conv.Title != "Groceries" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	for i, content := range []string{"one", "two", "three"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if _, err := st.AppendMessage(ctx, conv.ID, role, content); err != nil {
			t.Fatalf("append %q: %v", content, err)
		}
	}

	msgs, err := st.RecentMessages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	// Newest first.
	if msgs[0].Content != "three" || msgs[1].Content != "two" {
		t.Fatalf("unexpected order: %q, %q", msgs[0].Content, msgs[1].Content)
	}

	convs, err := st.ListConversations(ctx, "u", 10)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != conv.ID {
		t.Fatalf("unexpected conversations: %+v", convs)
	}

	if _, err := st.GetConversation(ctx, 404); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_AppendMessageWritesOneRowAndBumpsConversation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "u", "Errands")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := st.AppendMessage(ctx, conv.ID, "user", "hello"); err != nil {
		t.Fatalf("append message: %v", err)
	}

	var count int
	if err := st.DB().QueryRow(
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ?;", conv.ID,
	).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 message row, got %d", count)
	}

	after, err := st.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !after.UpdatedAt.After(conv.UpdatedAt) {
		t.Fatalf("updated_at not bumped: before=%v after=%v", conv.UpdatedAt, after.UpdatedAt)
	}
}
