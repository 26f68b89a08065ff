package stores_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/froyocore/pkg/stores"
)

func exampleStore() (*stores.SQLiteStore, func()) {
	dir, err := os.MkdirTemp("", "froyo-stores-example")
	if err != nil {
		log.Fatal(err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            filepath.Join(dir, "froyo.db"),
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	return store, func() {
		store.Close()
		os.RemoveAll(dir)
	}
}

// ExampleNewSQLiteStore demonstrates creating and initializing a store.
func ExampleNewSQLiteStore() {
	store, cleanup := exampleStore()
	defer cleanup()

	if err := store.HealthCheck(context.Background()); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_RecordTaskResult shows one run with its terminal task
// rows, keyed the way the scheduler keys them.
func ExampleSQLiteStore_RecordTaskResult() {
	store, cleanup := exampleStore()
	defer cleanup()
	ctx := context.Background()

	if err := store.CreateRun(ctx, &stores.Run{
		ID:          "run-1",
		ProjectPath: "/srv/project",
		Status:      stores.RunStatusRunning,
	}); err != nil {
		log.Fatal(err)
	}

	output := `{"image":"api:1"}`
	if err := store.RecordTaskResult(ctx, &stores.TaskResult{
		RunID:       "run-1",
		Key:         "build.api.4f2a91c0",
		BaseKey:     "build.api",
		Type:        "build",
		Module:      "api",
		Status:      stores.ResultCompleted,
		Output:      &output,
		StartedAt:   time.Now().Add(-time.Second),
		CompletedAt: time.Now(),
	}); err != nil {
		log.Fatal(err)
	}

	results, err := store.ListTaskResults(ctx, "run-1")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s %s\n", results[0].BaseKey, results[0].Status)
	// Output: build.api completed
}

// ExampleSQLiteStore_UpsertModuleVersion shows the per-module version
// record a later run consults to skip an unchanged rebuild.
func ExampleSQLiteStore_UpsertModuleVersion() {
	store, cleanup := exampleStore()
	defer cleanup()
	ctx := context.Background()

	if err := store.UpsertModuleVersion(ctx, &stores.ModuleVersion{
		Module:        "api",
		ModuleType:    "container",
		VersionString: "3e4f5a",
		Outputs:       `{"image":"api:3e4f5a"}`,
	}); err != nil {
		log.Fatal(err)
	}

	mv, err := store.GetModuleVersion(ctx, "api")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s@%s\n", mv.Module, mv.VersionString)
	// Output: api@3e4f5a
}
