package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/froyocore/pkg/model"
)

// setupTestStore creates a migrated SQLite store on a temp file.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "froyo.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	return store
}

func createTestRun(t *testing.T, store *SQLiteStore, id string) {
	t.Helper()
	err := store.CreateRun(context.Background(), &Run{
		ID:          id,
		ProjectPath: "/srv/project",
		Status:      RunStatusRunning,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
}

func TestStoreLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	// Migrate is idempotent.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestRun(t, store, "run-1")

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != RunStatusRunning || run.ProjectPath != "/srv/project" {
		t.Errorf("got %+v", run)
	}
	if run.StartedAt.IsZero() {
		t.Error("started_at must be stamped on create")
	}

	errMsg := "two tasks failed"
	if err := store.UpdateRunStatus(ctx, "run-1", RunStatusFailed, &errMsg); err != nil {
		t.Fatalf("update status: %v", err)
	}
	run, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != RunStatusFailed || run.Error == nil || *run.Error != errMsg {
		t.Errorf("got %+v", run)
	}
	if run.CompletedAt == nil {
		t.Error("terminal status must stamp completed_at")
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("list runs: %v %d", err, len(runs))
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-1"); err == nil {
		t.Error("deleted run must not be found")
	}
	if err := store.UpdateRunStatus(ctx, "ghost", RunStatusCompleted, nil); err == nil {
		t.Error("updating an unknown run must fail")
	}
}

func TestTaskResults_WriteOnce(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestRun(t, store, "run-1")

	output := `{"image":"api:1"}`
	deps := `{"build.lib":{"path":"/out/lib"}}`
	row := &TaskResult{
		RunID:             "run-1",
		Key:               "build.api.4f2a91c0",
		BaseKey:           "build.api",
		Type:              "build",
		Module:            "api",
		Description:       "build api",
		Version:           "abc123",
		Status:            ResultCompleted,
		Output:            &output,
		DependencyResults: &deps,
		StartedAt:         time.Now().Add(-time.Second),
		CompletedAt:       time.Now(),
	}
	if err := store.RecordTaskResult(ctx, row); err != nil {
		t.Fatalf("record: %v", err)
	}

	// The scheduler emits at most one terminal state per key; a second
	// write for the same (run, key) must be rejected.
	if err := store.RecordTaskResult(ctx, row); err == nil {
		t.Error("duplicate (run, key) must be rejected")
	}

	got, err := store.GetTaskResult(ctx, "run-1", "build.api.4f2a91c0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BaseKey != "build.api" || got.Type != "build" || got.Status != ResultCompleted {
		t.Errorf("got %+v", got)
	}
	if got.Output == nil || *got.Output != output {
		t.Errorf("output = %v", got.Output)
	}
	if got.DependencyResults == nil || *got.DependencyResults != deps {
		t.Errorf("dependency results = %v", got.DependencyResults)
	}
}

func TestListTaskResults_CompletionOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestRun(t, store, "run-1")

	base := time.Now().Add(-time.Minute)
	for i, key := range []string{"build.c.1", "build.a.1", "build.b.1"} {
		err := store.RecordTaskResult(ctx, &TaskResult{
			RunID:       "run-1",
			Key:         key,
			BaseKey:     key[:len(key)-2],
			Type:        "build",
			Status:      ResultCompleted,
			StartedAt:   base,
			CompletedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("record %s: %v", key, err)
		}
	}

	results, err := store.ListTaskResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	// Ordered by completion, not by key.
	if results[0].Key != "build.c.1" || results[2].Key != "build.b.1" {
		t.Errorf("order = %s, %s, %s", results[0].Key, results[1].Key, results[2].Key)
	}
}

func TestRecordResults_FromSchedulerShapes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestRun(t, store, "run-1")

	started := time.Now().Add(-2 * time.Second)
	completed := time.Now()
	results := map[string]*model.TaskResult{
		"build.api": {
			Type: "build", BaseKey: "build.api", Key: "build.api.1",
			Output:            map[string]interface{}{"image": "api:1"},
			DependencyResults: map[string]interface{}{"build.lib": "ok"},
			StartedAt:         started, CompletedAt: completed,
		},
		"build.bad": {
			Type: "build", BaseKey: "build.bad", Key: "build.bad.1",
			Error:     errors.New("compile failed"),
			StartedAt: started, CompletedAt: completed,
		},
		"deployService.web": {
			// Cancelled dependant: terminal error, never started.
			Type: "deployService", BaseKey: "deployService.web", Key: "deployService.web.1",
			Error: errors.New("dependency failed"),
		},
	}

	if err := store.RecordResults(ctx, "run-1", results); err != nil {
		t.Fatalf("record results: %v", err)
	}

	ok, err := store.GetTaskResult(ctx, "run-1", "build.api.1")
	if err != nil || ok.Status != ResultCompleted || ok.Output == nil {
		t.Errorf("completed row: %+v err=%v", ok, err)
	}

	failed, err := store.GetTaskResult(ctx, "run-1", "build.bad.1")
	if err != nil || failed.Status != ResultFailed || failed.Error == nil {
		t.Errorf("failed row: %+v err=%v", failed, err)
	}

	cancelled, err := store.GetTaskResult(ctx, "run-1", "deployService.web.1")
	if err != nil || cancelled.Status != ResultCancelled {
		t.Errorf("cancelled row: %+v err=%v", cancelled, err)
	}
}

func TestEvents_AppendAndFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestRun(t, store, "run-1")

	runID := "run-1"
	taskID := "build.api.1"
	for _, level := range []EventLevel{EventLevelInfo, EventLevelInfo, EventLevelError} {
		err := store.AppendEvent(ctx, &Event{
			RunID:   &runID,
			TaskID:  &taskID,
			Level:   level,
			Message: "taskComplete",
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := store.GetEvents(ctx, &runID, nil, nil, 10, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("all events: %v %d", err, len(all))
	}
	if all[0].ID >= all[1].ID {
		t.Error("events must list oldest first")
	}

	errLevel := EventLevelError
	onlyErrors, err := store.GetEvents(ctx, &runID, nil, &errLevel, 10, 0)
	if err != nil || len(onlyErrors) != 1 {
		t.Fatalf("error events: %v %d", err, len(onlyErrors))
	}
}

func TestModuleVersions_Upsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestRun(t, store, "run-1")

	mv := &ModuleVersion{
		Module:        "api",
		ModuleType:    "container",
		VersionString: "v-one",
		Outputs:       `{"image":"api:1"}`,
		RunID:         "run-1",
	}
	if err := store.UpsertModuleVersion(ctx, mv); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetModuleVersion(ctx, "api")
	if err != nil || got.VersionString != "v-one" {
		t.Fatalf("get: %+v err=%v", got, err)
	}

	// A new resolution replaces the row in place.
	mv.VersionString = "v-two"
	mv.Outputs = `{"image":"api:2"}`
	if err := store.UpsertModuleVersion(ctx, mv); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err = store.GetModuleVersion(ctx, "api")
	if err != nil || got.VersionString != "v-two" {
		t.Fatalf("get after upsert: %+v err=%v", got, err)
	}

	versions, err := store.ListModuleVersions(ctx, 10, 0)
	if err != nil || len(versions) != 1 {
		t.Fatalf("list: %v %d", err, len(versions))
	}
}

func TestDeleteRun_CascadesTaskResults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestRun(t, store, "run-1")

	err := store.RecordTaskResult(ctx, &TaskResult{
		RunID: "run-1", Key: "build.api.1", BaseKey: "build.api", Type: "build",
		Status: ResultCompleted, StartedAt: time.Now(), CompletedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	if _, err := store.GetTaskResult(ctx, "run-1", "build.api.1"); err == nil {
		t.Error("task results must cascade with their run")
	}
}
