package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

func TestFSWatcher_DetectsFileCreation(t *testing.T) {
	root := t.TempDir()

	w := NewFSWatcher(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := w.Watch(ctx, []string{root})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	target := filepath.Join(root, "new.yaml")
	if err := os.WriteFile(target, []byte("x: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cs := <-changes:
		if len(cs.Changes) == 0 {
			t.Fatalf("expected at least one change")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change notification")
	}
}

func TestFSWatcher_ClosesChannelOnCancel(t *testing.T) {
	root := t.TempDir()
	w := NewFSWatcher(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	changes, err := w.Watch(ctx, []string{root})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	cancel()

	select {
	case _, ok := <-changes:
		if ok {
			t.Fatalf("expected channel to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func TestClassify(t *testing.T) {
	if classify(fsnotify.Create) != ChangeCreated {
		t.Fatalf("expected created")
	}
	if classify(fsnotify.Remove) != ChangeRemoved {
		t.Fatalf("expected removed")
	}
	if classify(fsnotify.Write) != ChangeModified {
		t.Fatalf("expected modified")
	}
}
