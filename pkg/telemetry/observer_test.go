package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyocore/pkg/eventbus"
)

func newTestTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Tracing.Enabled = false
	cfg.Tracing.Exporter = "none"
	cfg.Metrics.Enabled = false
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	return tel
}

func TestTaskFamily(t *testing.T) {
	cases := map[string]string{
		"build.api":               "build",
		"deployService.web.x":     "deployService",
		"runTask.migrate":         "runTask",
		"nodots":                  "nodots",
	}
	for baseKey, want := range cases {
		if got := TaskFamily(baseKey); got != want {
			t.Errorf("TaskFamily(%q) = %q, want %q", baseKey, got, want)
		}
	}
}

func TestObserver_TracksLifecycle(t *testing.T) {
	tel := newTestTelemetry(t)
	o := tel.NewObserver("run-1")
	bus := eventbus.New(zerolog.Nop())
	o.Attach(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventTaskPending, Key: "build.api.1", BaseKey: "build.api"})
	if o.pending != 1 {
		t.Fatalf("pending = %d after taskPending", o.pending)
	}

	bus.Publish(eventbus.Event{Type: eventbus.EventTaskProcessing, Key: "build.api.1", BaseKey: "build.api"})
	if o.pending != 0 {
		t.Errorf("pending = %d after taskProcessing", o.pending)
	}
	if _, ok := o.open["build.api.1"]; !ok {
		t.Fatal("taskProcessing must open span state for the key")
	}

	bus.Publish(eventbus.Event{Type: eventbus.EventTaskComplete, Key: "build.api.1", BaseKey: "build.api"})
	if _, ok := o.open["build.api.1"]; ok {
		t.Error("taskComplete must close span state for the key")
	}
}

func TestObserver_CacheHitHasNoOpenSpan(t *testing.T) {
	tel := newTestTelemetry(t)
	o := tel.NewObserver("run-1")
	bus := eventbus.New(zerolog.Nop())
	o.Attach(bus)

	// A cache hit emits taskComplete with no prior taskProcessing.
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskComplete, Key: "build.api.1", BaseKey: "build.api"})
	if len(o.open) != 0 {
		t.Errorf("cache-hit completion must not leave span state, got %d", len(o.open))
	}
}

func TestObserver_ErrorPayloadHandling(t *testing.T) {
	tel := newTestTelemetry(t)
	o := tel.NewObserver("run-1")
	bus := eventbus.New(zerolog.Nop())
	o.Attach(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventTaskProcessing, Key: "build.api.1", BaseKey: "build.api"})
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskError, Key: "build.api.1", BaseKey: "build.api", Payload: errors.New("boom")})
	if len(o.open) != 0 {
		t.Error("taskError must close span state")
	}

	// A taskError with a non-error payload must still close cleanly.
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskProcessing, Key: "build.api.2", BaseKey: "build.api"})
	bus.Publish(eventbus.Event{Type: eventbus.EventTaskError, Key: "build.api.2", BaseKey: "build.api", Payload: "not an error"})
	if len(o.open) != 0 {
		t.Error("taskError with odd payload must still close span state")
	}
}

func TestStartRunAndTask_NoTelemetryIsNoop(t *testing.T) {
	ctx := context.Background()
	ctx, endRun := StartRun(ctx, "run-x")
	_, endTask := StartTask(ctx, TaskInfo{RunID: "run-x", Key: "build.a.1", BaseKey: "build.a"})
	endTask(nil)
	endRun(errors.New("ignored"))
}

func TestObserveDispatch_ReturnsHandlerError(t *testing.T) {
	tel := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	want := errors.New("handler exploded")
	if err := ObserveDispatch(ctx, "container", "build", func() error { return want }); err != want {
		t.Errorf("got %v", err)
	}
	if err := ObserveDispatch(ctx, "container", "build", func() error { return nil }); err != nil {
		t.Errorf("got %v", err)
	}
}
