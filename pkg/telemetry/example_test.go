package telemetry_test

import (
	"context"
	"errors"

	"github.com/openfroyo/froyocore/pkg/eventbus"
	"github.com/openfroyo/froyocore/pkg/telemetry"
)

func newQuietTelemetry() *telemetry.Telemetry {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Tracing.Exporter = "none"
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	return tel
}

// Example_basicSetup shows process-level initialization.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"
	cfg.Tracing.Exporter = "none"
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	_ = ctx

	// Output:
}

// Example_runAndTaskSpans brackets an outermost Process call and one task
// body with the closure-based span helpers.
func Example_runAndTaskSpans() {
	tel := newQuietTelemetry()
	defer tel.Shutdown(context.Background())
	ctx := tel.WithContext(context.Background())

	ctx, endRun := telemetry.StartRun(ctx, "run-1")

	taskCtx, endTask := telemetry.StartTask(ctx, telemetry.TaskInfo{
		RunID:   "run-1",
		Key:     "build.api.4f2a91c0",
		BaseKey: "build.api",
		Module:  "api",
	})
	err := telemetry.ObserveDispatch(taskCtx, "container", "build", func() error {
		return nil // the provider handler would run here
	})
	endTask(err)

	endRun(nil)

	// Output:
}

// Example_observer wires the scheduler's event stream into telemetry with
// a single subscriber.
func Example_observer() {
	tel := newQuietTelemetry()
	defer tel.Shutdown(context.Background())

	bus := eventbus.New(tel.Log)
	tel.NewObserver("run-2").Attach(bus)

	// The scheduler emits these; published by hand here for the example.
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskGraphProcessing})
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskPending, Key: "build.api.4f2a91c0", BaseKey: "build.api"})
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskProcessing, Key: "build.api.4f2a91c0", BaseKey: "build.api"})
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskComplete, Key: "build.api.4f2a91c0", BaseKey: "build.api"})
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskGraphComplete})

	// Output:
}

// Example_dispatchError shows error accounting on a failed provider call.
func Example_dispatchError() {
	tel := newQuietTelemetry()
	defer tel.Shutdown(context.Background())
	ctx := tel.WithContext(context.Background())

	err := telemetry.ObserveDispatch(ctx, "container", "deployService", func() error {
		return errors.New("image pull failed")
	})
	if err == nil {
		panic("expected the handler error back")
	}

	// Output:
}
