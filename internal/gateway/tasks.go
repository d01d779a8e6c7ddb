package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/basket/taskchat/internal/store"
	"github.com/basket/taskchat/internal/tools"
)

type taskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Completed   *bool    `json:"completed"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
	DueDate     string   `json:"due_date"`
	Recurrence  string   `json:"recurrence"`
}

func (s *Server) handleTaskCollection(w http.ResponseWriter, r *http.Request, owner string) {
	switch r.Method {
	case http.MethodGet:
		s.listTasks(w, r, owner)
	case http.MethodPost:
		s.createTask(w, r, owner)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, owner string) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		Tag:      q.Get("tag"),
		Search:   q.Get("search"),
		Sort:     q.Get("sort"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	tasks, err := s.cfg.Store.ListTasks(r.Context(), owner, filter)
	if err != nil {
		s.logger.Error("list tasks failed", "user_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list tasks")
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request, owner string) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusUnprocessableEntity, "Title cannot be empty")
		return
	}
	if len(title) > store.MaxTitleLen {
		writeError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("Title must be %d characters or less", store.MaxTitleLen))
		return
	}
	if len(req.Description) > store.MaxDescriptionLen {
		writeError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("Description must be %d characters or less", store.MaxDescriptionLen))
		return
	}
	if req.Priority != "" && !store.IsValidPriority(req.Priority) {
		writeError(w, http.StatusUnprocessableEntity, "Priority must be one of: low, medium, high")
		return
	}
	if req.Recurrence != "" && !store.IsValidRecurrence(req.Recurrence) {
		writeError(w, http.StatusUnprocessableEntity, "Recurrence must be one of: none, daily, weekly, monthly")
		return
	}

	task := store.Task{
		UserID:      owner,
		Title:       title,
		Description: req.Description,
		Priority:    req.Priority,
		Tags:        req.Tags,
		Recurrence:  req.Recurrence,
	}
	if req.DueDate != "" {
		due, err := time.Parse(tools.DateLayout, req.DueDate)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "due_date must be in YYYY-MM-DD format")
			return
		}
		task.DueDate = &due
	}

	created, err := s.cfg.Store.CreateTask(r.Context(), task)
	if err != nil {
		s.logger.Error("create task failed", "user_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "could not create task")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request, owner, rest string) {
	idText := strings.TrimSuffix(rest, "/")
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "task id must be an integer")
		return
	}

	task, err := s.cfg.Store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load task")
		return
	}
	if task.UserID != owner {
		// Do not reveal other users' task ids.
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, task)
	case http.MethodPut:
		s.updateTask(w, r, id)
	case http.MethodDelete:
		if err := s.cfg.Store.DeleteTask(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "could not delete task")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, id int64) {
	var req struct {
		Title       *string   `json:"title"`
		Description *string   `json:"description"`
		Completed   *bool     `json:"completed"`
		Priority    *string   `json:"priority"`
		Tags        *[]string `json:"tags"`
		DueDate     *string   `json:"due_date"`
		Recurrence  *string   `json:"recurrence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	upd := store.TaskUpdate{
		Description: req.Description,
		Completed:   req.Completed,
		Tags:        req.Tags,
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusUnprocessableEntity, "Title cannot be empty")
			return
		}
		if len(title) > store.MaxTitleLen {
			writeError(w, http.StatusUnprocessableEntity,
				fmt.Sprintf("Title must be %d characters or less", store.MaxTitleLen))
			return
		}
		upd.Title = &title
	}
	if req.Priority != nil {
		if !store.IsValidPriority(*req.Priority) {
			writeError(w, http.StatusUnprocessableEntity, "Priority must be one of: low, medium, high")
			return
		}
		upd.Priority = req.Priority
	}
	if req.Recurrence != nil {
		if !store.IsValidRecurrence(*req.Recurrence) {
			writeError(w, http.StatusUnprocessableEntity, "Recurrence must be one of: none, daily, weekly, monthly")
			return
		}
		upd.Recurrence = req.Recurrence
	}
	if req.DueDate != nil {
		if *req.DueDate == "" {
			upd.ClearDue = true
		} else {
			due, err := time.Parse(tools.DateLayout, *req.DueDate)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "due_date must be in YYYY-MM-DD format")
				return
			}
			upd.DueDate = &due
		}
	}

	updated, err := s.cfg.Store.UpdateTask(r.Context(), id, upd)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not update task")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
