package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/froyocore/pkg/eventbus"
	"github.com/openfroyo/froyocore/pkg/model"
)

// Observer projects the scheduler's lifecycle events onto the telemetry
// backends, so a caller that only wires the event bus still gets spans,
// per-family task metrics, and structured logs without instrumenting its
// task bodies. Each of the six event types maps as follows:
//
//	taskPending         queued-task gauge up, debug log
//	taskProcessing      span opened per key, queued gauge down
//	taskComplete        span closed ok, task metrics with measured duration
//	taskError           span closed with error, task metrics, error counter
//	taskGraphProcessing log (run accounting belongs to StartRun)
//	taskGraphComplete   log, pending state dropped
//
// A taskComplete for a key with no open span is a cache hit (the scheduler
// re-emits completion without a processing phase); it is counted but gets
// no span or duration.
type Observer struct {
	tel   *Telemetry
	runID string

	mu      sync.Mutex
	pending int
	open    map[string]openTask // key -> span opened at taskProcessing
}

type openTask struct {
	span      trace.Span
	baseKey   string
	startedAt time.Time
}

// NewObserver builds an Observer recording under runID.
func (t *Telemetry) NewObserver(runID string) *Observer {
	return &Observer{
		tel:   t,
		runID: runID,
		open:  make(map[string]openTask),
	}
}

// Attach subscribes the observer to every scheduler lifecycle event on bus.
func (o *Observer) Attach(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTaskPending, o.onPending)
	bus.Subscribe(eventbus.EventTaskProcessing, o.onProcessing)
	bus.Subscribe(eventbus.EventTaskComplete, o.onComplete)
	bus.Subscribe(eventbus.EventTaskError, o.onError)
	bus.Subscribe(eventbus.EventTaskGraphProcessing, o.onGraphProcessing)
	bus.Subscribe(eventbus.EventTaskGraphComplete, o.onGraphComplete)
}

func (o *Observer) onPending(evt eventbus.Event) {
	o.mu.Lock()
	o.pending++
	o.tel.Metrics.SetQueuedTasks(float64(o.pending))
	o.mu.Unlock()

	pendingLogger := TaskLogger(o.tel.Log, o.runID, evt.Key, evt.BaseKey)
	pendingLogger.Debug().Msg("task pending")
}

func (o *Observer) onProcessing(evt eventbus.Event) {
	_, span := o.tel.Tracer.StartTaskSpan(
		context.Background(), evt.Key, evt.BaseKey, "", versionFromPayload(evt.Payload))

	o.mu.Lock()
	if o.pending > 0 {
		o.pending--
	}
	o.tel.Metrics.SetQueuedTasks(float64(o.pending))
	o.open[evt.Key] = openTask{span: span, baseKey: evt.BaseKey, startedAt: time.Now()}
	o.mu.Unlock()

	processingLogger := TaskLogger(o.tel.Log, o.runID, evt.Key, evt.BaseKey)
	processingLogger.Debug().Msg("task processing")
}

func (o *Observer) onComplete(evt eventbus.Event) {
	o.finish(evt, nil)
}

func (o *Observer) onError(evt eventbus.Event) {
	err, ok := evt.Payload.(error)
	if !ok || err == nil {
		err = errors.New("task failed")
	}
	o.finish(evt, err)
}

func (o *Observer) finish(evt eventbus.Event, err error) {
	o.mu.Lock()
	ot, wasOpen := o.open[evt.Key]
	delete(o.open, evt.Key)
	o.mu.Unlock()

	status := "completed"
	if err != nil {
		status = "failed"
	}

	log := TaskLogger(o.tel.Log, o.runID, evt.Key, evt.BaseKey)
	if !wasOpen {
		// Cache hit: terminal event with no processing phase.
		o.tel.Metrics.RecordTaskExecution(TaskFamily(evt.BaseKey), "cached", 0)
		log.Debug().Msg("task served from result cache")
		return
	}

	duration := time.Since(ot.startedAt)
	if err != nil {
		RecordError(ot.span, err)
		o.tel.Metrics.RecordError("TaskError", TaskFamily(evt.BaseKey))
	} else {
		RecordSuccess(ot.span)
	}
	ot.span.End()

	o.tel.Metrics.RecordTaskExecution(TaskFamily(evt.BaseKey), status, duration)
	log.Info().Str("status", status).Dur("duration", duration).Err(err).Msg("task finished")
}

func (o *Observer) onGraphProcessing(evt eventbus.Event) {
	graphLogger := RunLogger(o.tel.Log, o.runID)
	graphLogger.Debug().Msg("task graph processing")
}

func (o *Observer) onGraphComplete(evt eventbus.Event) {
	o.mu.Lock()
	o.pending = 0
	o.tel.Metrics.SetQueuedTasks(0)
	o.mu.Unlock()

	graphCompleteLogger := RunLogger(o.tel.Log, o.runID)
	graphCompleteLogger.Debug().Msg("task graph complete")
}

// versionFromPayload extracts the version string the scheduler attaches to
// taskProcessing events, tolerating any payload shape.
func versionFromPayload(payload interface{}) string {
	switch v := payload.(type) {
	case string:
		return v
	case model.ModuleVersion:
		return v.VersionString
	default:
		return ""
	}
}
