package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyocore/pkg/eventbus"
)

// Recorder persists scheduler lifecycle events as append-only store Events
// tied to a run, giving the dashboard and post-mortem tooling a durable
// trail of what the scheduler did. Persistence failures are logged and
// dropped; the scheduler never blocks on the database.
type Recorder struct {
	store Store
	runID string
	log   zerolog.Logger
}

// NewRecorder constructs a Recorder writing under runID.
func NewRecorder(store Store, runID string, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, runID: runID, log: log}
}

// Attach subscribes the recorder to every scheduler lifecycle event on bus.
func (r *Recorder) Attach(bus *eventbus.Bus) {
	for _, t := range []eventbus.EventType{
		eventbus.EventTaskPending, eventbus.EventTaskProcessing,
		eventbus.EventTaskComplete, eventbus.EventTaskError,
		eventbus.EventTaskGraphProcessing, eventbus.EventTaskGraphComplete,
	} {
		bus.Subscribe(t, r.record)
	}
}

func (r *Recorder) record(evt eventbus.Event) {
	level := EventLevelInfo
	if evt.Type == eventbus.EventTaskError {
		level = EventLevelError
	}

	var details *string
	if evt.Payload != nil {
		if b, err := json.Marshal(map[string]interface{}{"payload": describePayload(evt.Payload)}); err == nil {
			s := string(b)
			details = &s
		}
	}

	var taskID *string
	if evt.Key != "" {
		k := evt.Key
		taskID = &k
	}

	row := &Event{
		RunID:     &r.runID,
		TaskID:    taskID,
		Level:     level,
		Message:   string(evt.Type),
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.AppendEvent(ctx, row); err != nil {
		r.log.Warn().Err(err).Str("event", string(evt.Type)).Msg("failed to persist scheduler event")
	}
}

// describePayload flattens a payload into something JSON-encodable; errors
// become their message.
func describePayload(payload interface{}) interface{} {
	if err, ok := payload.(error); ok {
		return err.Error()
	}
	return payload
}
