package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/taskchat/internal/config"
)

func TestWatcher_DetectsPersonaChange(t *testing.T) {
	homeDir := t.TempDir()

	personaPath := config.PersonaPath(homeDir)
	if err := os.WriteFile(personaPath, []byte("initial persona"), 0o644); err != nil {
		t.Fatalf("write initial persona: %v", err)
	}

	w := config.NewWatcher(homeDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	// Retry the write at short intervals until an event lands; filesystem
	// notification readiness varies by platform.
	deadline := time.After(3 * time.Second)
	writeTick := time.NewTicker(50 * time.Millisecond)
	defer writeTick.Stop()

	if err := os.WriteFile(personaPath, []byte("updated persona"), 0o644); err != nil {
		t.Fatalf("write updated persona: %v", err)
	}

	for {
		select {
		case ev := <-w.Events():
			if filepath.Base(ev.Path) != "PERSONA.md" {
				t.Fatalf("expected PERSONA.md event, got %s", ev.Path)
			}
			return
		case <-writeTick.C:
			_ = os.WriteFile(personaPath, []byte("updated persona"), 0o644)
		case <-deadline:
			t.Fatalf("timed out waiting for PERSONA.md change event")
		}
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	homeDir := t.TempDir()

	w := config.NewWatcher(homeDir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	if err := os.WriteFile(filepath.Join(homeDir, "notes.txt"), []byte("scratch"), 0o644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(300 * time.Millisecond):
	}
}
