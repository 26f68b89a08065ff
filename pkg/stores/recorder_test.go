package stores

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyocore/pkg/eventbus"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "froyo.db")})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestRecorder_PersistsSchedulerEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID := "run-1"
	if err := store.CreateRun(ctx, &Run{ID: runID, ProjectPath: "/tmp/p", Status: RunStatusRunning, Metadata: "{}"}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	bus := eventbus.New(zerolog.Nop())
	NewRecorder(store, runID, zerolog.Nop()).Attach(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventTaskPending, Key: "build.api.abc", BaseKey: "build.api"})
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskProcessing, Key: "build.api.abc", BaseKey: "build.api"})
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskComplete, Key: "build.api.abc", BaseKey: "build.api", Payload: map[string]interface{}{"image": "api:1"}})

	events, err := store.GetEvents(ctx, &runID, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 persisted events, got %d", len(events))
	}

	var sawComplete bool
	for _, e := range events {
		if e.Message == string(eventbus.EventTaskComplete) {
			sawComplete = true
			if e.TaskID == nil || *e.TaskID != "build.api.abc" {
				t.Errorf("complete event task id = %v", e.TaskID)
			}
			if e.Level != EventLevelInfo {
				t.Errorf("complete event level = %s", e.Level)
			}
		}
	}
	if !sawComplete {
		t.Error("taskComplete was not persisted")
	}
}

func TestRecorder_ErrorEventsUseErrorLevel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID := "run-2"
	if err := store.CreateRun(ctx, &Run{ID: runID, ProjectPath: "/tmp/p", Status: RunStatusRunning, Metadata: "{}"}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	bus := eventbus.New(zerolog.Nop())
	NewRecorder(store, runID, zerolog.Nop()).Attach(bus)
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskError, Key: "build.api.abc", BaseKey: "build.api"})

	level := EventLevelError
	events, err := store.GetEvents(ctx, &runID, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 error-level event, got %d", len(events))
	}
}
