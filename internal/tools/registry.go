package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/basket/taskchat/internal/store"
)

// Handler executes one tool call for an authenticated owner. The owner id is
// injected by the dispatcher and never read from args, so a spoofed user_id
// argument has no effect.
type Handler func(ctx context.Context, ownerID string, args map[string]any) Result

// Registry maps tool names to handlers.
type Registry struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register associates a tool name with a handler. Re-registering a name
// overwrites the previous handler.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
	r.logger.Debug("registered tool", "tool", name)
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch resolves a tool by name and invokes it with the authenticated
// owner identity. All failure modes come back as error results: an
// unregistered name yields UnknownTool and a panicking handler is recovered
// into HandlerFailure. Dispatch itself never panics or returns a Go error.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any, ownerID string) (res Result) {
	h, ok := r.handlers[name]
	if !ok {
		r.logger.Error("unknown tool requested", "tool", name)
		return Failure(ErrUnknownTool, fmt.Sprintf("Unknown tool: %s", name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", fmt.Sprint(rec))
			res = Failure(ErrHandlerFailure, fmt.Sprint(rec))
		}
	}()

	if args == nil {
		args = map[string]any{}
	}
	// The model must not be able to redirect a call at another user.
	delete(args, "user_id")

	res = h(ctx, ownerID, args)
	if res.OK {
		r.logger.Info("executed tool", "tool", name, "user_id", ownerID)
	} else {
		r.logger.Info("tool returned error result", "tool", name, "user_id", ownerID, "kind", res.ErrKind)
	}
	return res
}

// NewTaskRegistry builds a Registry with the full task toolset registered.
func NewTaskRegistry(st *store.Store, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register("add_task", AddTask(st))
	r.Register("list_tasks", ListTasks(st))
	r.Register("mark_complete", MarkComplete(st))
	r.Register("update_task", UpdateTask(st))
	r.Register("delete_task", DeleteTask(st))
	r.Register("get_current_user", GetCurrentUser(st))
	return r
}
