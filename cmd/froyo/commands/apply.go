package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/openfroyo/froyocore/pkg/config"
	"github.com/openfroyo/froyocore/pkg/dispatch"
	"github.com/openfroyo/froyocore/pkg/eventbus"
	"github.com/openfroyo/froyocore/pkg/ferrors"
	"github.com/openfroyo/froyocore/pkg/graph"
	"github.com/openfroyo/froyocore/pkg/model"
	"github.com/openfroyo/froyocore/pkg/scheduler"
	"github.com/openfroyo/froyocore/pkg/stores"
	"github.com/openfroyo/froyocore/pkg/telemetry"
	"github.com/openfroyo/froyocore/pkg/version"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// buildTask adapts a build-graph node to scheduler.Task, dispatching the
// "build" action for its module type and falling back to a no-op when no
// provider has registered a build handler.
type buildTask struct {
	module  *model.Module
	deps    []*buildTask
	version model.ModuleVersion
	d       *dispatch.Dispatcher
	force   bool
	runID   string
}

func (t *buildTask) Type() string    { return "build" }
func (t *buildTask) BaseKey() string { return "build." + t.module.Name }
func (t *buildTask) Key() string {
	h := sha256.Sum256([]byte(t.version.VersionString))
	return t.BaseKey() + "." + hex.EncodeToString(h[:4])
}
func (t *buildTask) Version() model.ModuleVersion { return t.version }
func (t *buildTask) Force() bool                  { return t.force }
func (t *buildTask) ConcurrencyLimit() int         { return 0 }
func (t *buildTask) Description() string          { return "build " + t.module.Name }

func (t *buildTask) Dependencies() ([]scheduler.Task, error) {
	tasks := make([]scheduler.Task, len(t.deps))
	for i, d := range t.deps {
		tasks[i] = d
	}
	return tasks, nil
}

func (t *buildTask) Process(ctx context.Context, dependencyResults map[string]interface{}) (result interface{}, err error) {
	ctx, end := telemetry.StartTask(ctx, telemetry.TaskInfo{
		RunID:   t.runID,
		Key:     t.Key(),
		BaseKey: t.BaseKey(),
		Module:  t.module.Name,
		Version: t.version.VersionString,
	})
	defer func() { end(err) }()

	params, marshalErr := json.Marshal(map[string]interface{}{
		"module":  t.module.Name,
		"path":    t.module.Path,
		"spec":    t.module.Spec,
		"version": t.version.VersionString,
	})
	if marshalErr != nil {
		return nil, marshalErr
	}

	var out []byte
	dispatchErr := telemetry.ObserveDispatch(ctx, t.module.Type, "build", func() error {
		var dErr error
		out, dErr = t.d.Dispatch(ctx, dispatch.ActionType("build"), t.module.Type, "", params, nil)
		return dErr
	})
	if dispatchErr != nil {
		if ferrors.IsNoHandlerError(dispatchErr) {
			return map[string]interface{}{"skipped": true, "reason": "no build handler for module type " + t.module.Type}, nil
		}
		return nil, dispatchErr
	}
	if len(out) > 0 {
		if err := json.Unmarshal(out, &result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// runBuildPipeline loads the Project/Module declarations rooted at path,
// builds the build-dependency graph, and runs every named module's "build"
// action through the scheduler, printing a one-line summary per module.
// It backs "froyo apply".
func runBuildPipeline(ctx context.Context, path string, targets []string, parallelism int, force bool, recordDB string) (runErr error) {
	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceName = "froyo-apply"
	telCfg.Tracing.Exporter = "none"
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()
	ctx = tel.WithContext(ctx)

	runID := uuid.NewString()
	ctx, endRun := telemetry.StartRun(ctx, runID)
	defer func() { endRun(runErr) }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	loader, err := newProjectLoader(abs)
	if err != nil {
		return err
	}
	result, err := loader.Load(ctx, abs)
	if err != nil {
		return err
	}

	resolved, err := config.Resolve(result, config.ResolveOptions{
		Platform: localPlatform(),
		Env:      processEnv(),
	})
	if err != nil {
		return err
	}

	modules := make(map[string]*model.Module, len(resolved))
	builder := graph.NewBuilder()
	for _, m := range resolved {
		modules[m.Name] = m
		if err := builder.AddModule(m); err != nil {
			return err
		}
	}
	if _, err := builder.Build(); err != nil {
		return err
	}

	lookup := func(name string) (*model.Module, bool) { m, ok := modules[name]; return m, ok }
	resolver := version.NewResolver(version.NewFSTreeHasher(), lookup)

	d := dispatch.New()

	buildTasks := make(map[string]*buildTask, len(modules))
	var resolve func(name string) (*buildTask, error)
	resolve = func(name string) (*buildTask, error) {
		if t, ok := buildTasks[name]; ok {
			return t, nil
		}
		m, ok := modules[name]
		if !ok {
			return nil, fmt.Errorf("unknown module %q", name)
		}
		mv, err := resolver.Resolve(name)
		if err != nil {
			return nil, err
		}
		t := &buildTask{module: m, version: mv, d: d, force: force, runID: runID}
		buildTasks[name] = t
		for _, dep := range m.BuildDependencies {
			depTask, err := resolve(dep.ModuleName)
			if err != nil {
				return nil, err
			}
			t.deps = append(t.deps, depTask)
		}
		return t, nil
	}

	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(targets) > 0 {
		names = targets
	}

	tasks := make([]scheduler.Task, 0, len(names))
	for _, name := range names {
		t, err := resolve(name)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
	}

	bus := eventbus.New(tel.Log)
	tel.NewObserver(runID).Attach(bus)

	var store *stores.SQLiteStore
	if recordDB != "" {
		var storeErr error
		store, storeErr = stores.NewSQLiteStore(stores.Config{Path: recordDB})
		if storeErr != nil {
			return storeErr
		}
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return err
		}
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		if err := store.CreateRun(ctx, &stores.Run{ID: runID, ProjectPath: abs, Status: stores.RunStatusRunning}); err != nil {
			return err
		}
		stores.NewRecorder(store, runID, log.Logger).Attach(bus)
		defer func() {
			status := stores.RunStatusCompleted
			var msg *string
			if runErr != nil {
				status = stores.RunStatusFailed
				s := runErr.Error()
				msg = &s
			}
			_ = store.UpdateRunStatus(context.Background(), runID, status, msg)
		}()
	}

	bus.Subscribe(eventbus.EventTaskComplete, func(evt eventbus.Event) {
		fmt.Printf("✓ %s\n", evt.BaseKey)
	})
	bus.Subscribe(eventbus.EventTaskError, func(evt eventbus.Event) {
		fmt.Printf("✗ %s\n", evt.BaseKey)
	})

	sched := scheduler.New(bus, log.Logger, scheduler.WithMaxParallel(parallelism))
	results, err := sched.Process(ctx, tasks, nil)
	if store != nil && len(results) > 0 {
		if recErr := store.RecordResults(context.Background(), runID, results); recErr != nil {
			log.Warn().Err(recErr).Msg("failed to persist task results")
		}
	}
	if err != nil {
		return err
	}

	for _, name := range names {
		r := results["build."+name]
		if r == nil {
			continue
		}
		if r.Error != nil {
			fmt.Printf("  build.%s: error: %v\n", name, r.Error)
			continue
		}
		fmt.Printf("  build.%s: %v\n", name, r.Output)
	}

	return nil
}

func newApplyCommand() *cobra.Command {
	var (
		targets     []string
		parallelism int
		force       bool
		recordDB    string
	)

	cmd := &cobra.Command{
		Use:   "apply [path]",
		Short: "Build every module in dependency order",
		Long: `Load Project/Module declarations, build the build-dependency graph, and
run each module's "build" action through the task scheduler, respecting
declared build dependencies and running independent modules in parallel.

Module types with no registered build handler are skipped rather than
treated as a failure, since a handler is supplied by a loaded provider
plugin and not every module type has one.`,
		Example: `  # Build every module
  froyo apply

  # Build specific modules (and their dependencies)
  froyo apply --target web --target api

  # Force rebuild, bypassing the result cache
  froyo apply --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runBuildPipeline(cmd.Context(), path, targets, parallelism, force, recordDB)
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "limit build to specific modules")
	cmd.Flags().IntVar(&parallelism, "parallelism", 10, "max parallel builds")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the result cache")
	cmd.Flags().StringVar(&recordDB, "record-db", "", "persist the run and its scheduler events to this SQLite database")

	return cmd
}
