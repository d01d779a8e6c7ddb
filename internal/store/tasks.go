package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Valid priority and recurrence values, mirrored by the schema CHECK constraints.
var (
	ValidPriorities  = []string{"low", "medium", "high"}
	ValidRecurrences = []string{"none", "daily", "weekly", "monthly"}
)

const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
)

// Task is a row in the tasks table. Tags are stored as a JSON array string.
type Task struct {
	ID          int64      `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Priority    string     `json:"priority"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Recurrence  string     `json:"recurrence"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskUpdate names the mutable task fields. Nil pointers are left unchanged.
// Setting Completed also stamps or clears completed_at.
type TaskUpdate struct {
	Title       *string
	Description *string
	Completed   *bool
	Priority    *string
	Tags        *[]string
	DueDate     *time.Time
	ClearDue    bool
	Recurrence  *string
}

// TaskFilter narrows ListTasks. Zero values mean "no filter". Status accepts
// "pending" or "completed"; anything else is ignored, as is an unknown
// priority.
type TaskFilter struct {
	Status   string
	Priority string
	Tag      string
	Search   string
	Sort     string
	Limit    int
}

func IsValidPriority(p string) bool {
	for _, v := range ValidPriorities {
		if p == v {
			return true
		}
	}
	return false
}

func IsValidRecurrence(r string) bool {
	for _, v := range ValidRecurrences {
		if r == v {
			return true
		}
	}
	return false
}

func encodeTags(tags []string) any {
	if len(tags) == 0 {
		return nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil
	}
	return string(b)
}

func decodeTags(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return nil
	}
	return tags
}

const taskColumns = `id, user_id, title, COALESCE(description, ''), completed, completed_at,
	priority, tags, due_date, recurrence, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var (
		t           Task
		completed   int
		completedAt sql.NullTime
		tags        sql.NullString
		dueDate     sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &completed, &completedAt,
		&t.Priority, &tags, &dueDate, &t.Recurrence, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	t.Completed = completed != 0
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	t.Tags = decodeTags(tags)
	if dueDate.Valid {
		ts := dueDate.Time
		t.DueDate = &ts
	}
	return t, nil
}

// CreateTask inserts a task for the owner and returns the stored row.
func (s *Store) CreateTask(ctx context.Context, t Task) (Task, error) {
	if t.Priority == "" {
		t.Priority = "medium"
	}
	if t.Recurrence == "" {
		t.Recurrence = "none"
	}
	now := time.Now().UTC()

	var id int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (user_id, title, description, completed, priority, tags, due_date, recurrence, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			t.UserID, t.Title, nullIfEmpty(t.Description), boolToInt(t.Completed),
			t.Priority, encodeTags(t.Tags), nullTime(t.DueDate), t.Recurrence, now, now,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return s.GetTask(ctx, id)
}

// GetTask fetches a task by id regardless of owner. Callers enforce
// ownership themselves so that "absent" and "not yours" stay distinguishable.
func (s *Store) GetTask(ctx context.Context, id int64) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// UpdateTask applies the non-nil fields of upd and refreshes updated_at.
// Returns ErrNotFound when the id matches no row.
func (s *Store) UpdateTask(ctx context.Context, id int64, upd TaskUpdate) (Task, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullIfEmpty(*upd.Description))
	}
	if upd.Completed != nil {
		sets = append(sets, "completed = ?", "completed_at = ?")
		if *upd.Completed {
			args = append(args, 1, time.Now().UTC())
		} else {
			args = append(args, 0, nil)
		}
	}
	if upd.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *upd.Priority)
	}
	if upd.Tags != nil {
		sets = append(sets, "tags = ?")
		args = append(args, encodeTags(*upd.Tags))
	}
	if upd.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, *upd.DueDate)
	} else if upd.ClearDue {
		sets = append(sets, "due_date = NULL")
	}
	if upd.Recurrence != nil {
		sets = append(sets, "recurrence = ?")
		args = append(args, *upd.Recurrence)
	}

	args = append(args, id)
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?;`, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err == ErrNotFound {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	return s.GetTask(ctx, id)
}

// DeleteTask removes a task permanently. Returns ErrNotFound for a missing id.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err == ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

// ListTasks returns the owner's tasks, newest-created-first unless the filter
// asks for a different sort.
func (s *Store) ListTasks(ctx context.Context, owner string, f TaskFilter) ([]Task, error) {
	where := []string{"user_id = ?"}
	args := []any{owner}

	switch strings.ToLower(f.Status) {
	case "pending":
		where = append(where, "completed = 0")
	case "completed":
		where = append(where, "completed = 1")
	}
	if p := strings.ToLower(f.Priority); IsValidPriority(p) {
		where = append(where, "priority = ?")
		args = append(args, p)
	}
	if f.Tag != "" {
		where = append(where, "tags LIKE ?")
		args = append(args, "%"+f.Tag+"%")
	}
	if f.Search != "" {
		where = append(where, "(title LIKE ? OR description LIKE ?)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}

	order := "created_at DESC, id DESC"
	switch f.Sort {
	case "title":
		order = "title ASC"
	case "priority":
		order = "priority ASC"
	case "due_date":
		order = "due_date ASC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + order + ` LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// RollRecurringTasks finds completed tasks with a recurrence and creates each
// one's next occurrence (due date advanced by the recurrence interval),
// clearing the source row's recurrence so it is rolled exactly once.
// Returns the number of tasks spawned.
func (s *Store) RollRecurringTasks(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin recurrence tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE completed = 1 AND recurrence != 'none';`)
	if err != nil {
		return 0, fmt.Errorf("query recurring tasks: %w", err)
	}
	var due []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan recurring task: %w", err)
		}
		due = append(due, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var spawned int64
	for _, t := range due {
		next := nextOccurrence(t, now)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (user_id, title, description, completed, priority, tags, due_date, recurrence, created_at, updated_at)
			VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?);`,
			t.UserID, t.Title, nullIfEmpty(t.Description), t.Priority,
			encodeTags(t.Tags), nullTime(next), t.Recurrence, now.UTC(), now.UTC(),
		); err != nil {
			return 0, fmt.Errorf("spawn next occurrence of task %d: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET recurrence = 'none', updated_at = ? WHERE id = ?;`,
			now.UTC(), t.ID,
		); err != nil {
			return 0, fmt.Errorf("clear recurrence on task %d: %w", t.ID, err)
		}
		spawned++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit recurrence tx: %w", err)
	}
	return spawned, nil
}

// nextOccurrence advances the due date by one recurrence interval. A task with
// no due date gets one interval from now.
func nextOccurrence(t Task, now time.Time) *time.Time {
	base := now
	if t.DueDate != nil {
		base = *t.DueDate
	}
	var next time.Time
	switch t.Recurrence {
	case "daily":
		next = base.AddDate(0, 0, 1)
	case "weekly":
		next = base.AddDate(0, 0, 7)
	case "monthly":
		next = base.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &next
}

// TaskCounts reports per-owner totals for the metrics endpoint.
func (s *Store) TaskCounts(ctx context.Context) (total, pending, completed int64, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN completed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN completed = 1 THEN 1 ELSE 0 END), 0)
		FROM tasks;`)
	if err = row.Scan(&total, &pending, &completed); err != nil {
		return 0, 0, 0, fmt.Errorf("count tasks: %w", err)
	}
	return total, pending, completed, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
