package tools_test

import (
	"context"
	"sort"
	"testing"

	"github.com/basket/taskchat/internal/tools"
)

func TestRegistry_UnknownTool(t *testing.T) {
	r := tools.NewRegistry(nil)

	res := r.Dispatch(context.Background(), "launch_rocket", nil, "u")
	if res.OK {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.ErrKind != tools.ErrUnknownTool {
		t.Fatalf("expected UnknownTool, got %q", res.ErrKind)
	}
	if res.Message != "Unknown tool: launch_rocket" {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestRegistry_PanicRecovered(t *testing.T) {
	r := tools.NewRegistry(nil)
	r.Register("boom", func(context.Context, string, map[string]any) tools.Result {
		panic("handler blew up")
	})

	res := r.Dispatch(context.Background(), "boom", nil, "u")
	if res.OK || res.ErrKind != tools.ErrHandlerFailure {
		t.Fatalf("expected HandlerFailure, got %+v", res)
	}
	if res.Message != "handler blew up" {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := tools.NewRegistry(nil)
	r.Register("echo", func(context.Context, string, map[string]any) tools.Result {
		return tools.Success(map[string]any{"version": 1})
	})
	r.Register("echo", func(context.Context, string, map[string]any) tools.Result {
		return tools.Success(map[string]any{"version": 2})
	})

	res := r.Dispatch(context.Background(), "echo", nil, "u")
	if res.Payload["version"] != 2 {
		t.Fatalf("expected second handler, got %+v", res.Payload)
	}
	if names := r.Names(); len(names) != 1 {
		t.Fatalf("expected single registration, got %v", names)
	}
}

func TestRegistry_OwnerIDOverridesSpoofedArg(t *testing.T) {
	r := tools.NewRegistry(nil)
	var sawOwner string
	var sawUserIDArg any
	r.Register("whoami", func(_ context.Context, ownerID string, args map[string]any) tools.Result {
		sawOwner = ownerID
		sawUserIDArg = args["user_id"]
		return tools.Success(nil)
	})

	r.Dispatch(context.Background(), "whoami", map[string]any{"user_id": "mallory"}, "alice")
	if sawOwner != "alice" {
		t.Fatalf("expected owner alice, got %q", sawOwner)
	}
	if sawUserIDArg != nil {
		t.Fatalf("expected spoofed user_id stripped, got %v", sawUserIDArg)
	}
}

func TestTaskRegistry_RegistersFullToolset(t *testing.T) {
	r, _ := newTestRegistry(t)

	want := []string{"add_task", "delete_task", "get_current_user", "list_tasks", "mark_complete", "update_task"}
	got := r.Names()
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("expected %d tools, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestCompileCatalog(t *testing.T) {
	schemas, err := tools.CompileCatalog(tools.Catalog())
	if err != nil {
		t.Fatalf("compile catalog: %v", err)
	}
	for _, spec := range tools.Catalog() {
		if schemas[spec.Name] == nil {
			t.Fatalf("missing compiled schema for %q", spec.Name)
		}
	}
}
