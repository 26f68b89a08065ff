// Package telemetry provides observability for the execution core:
// structured logging (zerolog), distributed tracing (OpenTelemetry), and
// Prometheus metrics, all shaped around the scheduler's vocabulary — runs,
// task keys/baseKeys, task families, modules, and provider dispatches.
//
// The scheduler's event stream itself lives in pkg/eventbus; this package
// consumes it rather than duplicating it. Observer subscribes to the six
// lifecycle events (taskPending, taskProcessing, taskComplete, taskError,
// taskGraphProcessing, taskGraphComplete) and projects them onto spans,
// per-family metrics, and logs, so wiring one subscriber instruments a
// whole run.
//
// # Setup
//
//	cfg := telemetry.FromEnv() // DefaultConfig + FROYO_* overrides
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    ...
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// # Instrumenting a run
//
// Attach an Observer to the scheduler's bus and bracket the outermost
// Process call with StartRun:
//
//	bus := eventbus.New(tel.Log)
//	tel.NewObserver(runID).Attach(bus)
//
//	ctx, endRun := telemetry.StartRun(ctx, runID)
//	results, err := sched.Process(ctx, tasks, nil)
//	endRun(err)
//
// Task bodies that want their own span (in addition to what the Observer
// records from events) use StartTask with the scheduler's identity fields,
// and wrap provider calls with ObserveDispatch:
//
//	ctx, end := telemetry.StartTask(ctx, telemetry.TaskInfo{
//	    RunID: runID, Key: t.Key(), BaseKey: t.BaseKey(), Module: m.Name,
//	})
//	defer func() { end(err) }()
//
//	err = telemetry.ObserveDispatch(ctx, moduleType, "build", func() error {
//	    _, dErr := d.Dispatch(ctx, "build", moduleType, "", params, nil)
//	    return dErr
//	})
//
// # Logging vocabulary
//
// NewLogger returns a plain zerolog.Logger; the field-binding helpers keep
// every component emitting the same keys:
//
//	run_id        one outermost Process call
//	task_key      scheduler key (baseKey.paramsHash8)
//	task_base_key scheduler baseKey (type.name)
//	task_type     task family, the type tag embedded in the baseKey
//	module        module name, module_type its handler family
//	provider      provider plugin registry name
//
// # Metrics
//
// All metrics live under the froyocore namespace: graph-run counters and
// durations, per-family task execution counters and durations, provider
// call/error counters, queued-task and active-run gauges.
package telemetry
