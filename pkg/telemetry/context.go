package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logging, tracing, and metrics backends one process
// shares. The scheduler's event stream stays in pkg/eventbus; Observer
// (observer.go) is the piece that projects those events onto these
// backends.
type Telemetry struct {
	Log     zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Log:     log,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, telemetryContextKey{}, t)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil if none is attached.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components. The metrics
// server keeps serving until process exit so final scrapes still land.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// TaskInfo identifies one scheduler task the way the scheduler itself does.
type TaskInfo struct {
	RunID   string
	Key     string // baseKey.paramsHash8
	BaseKey string // type.name
	Module  string // owning module, when the task is module-scoped
	Version string // resolved ModuleVersion string, if known at start
}

// StartRun opens a span and timer for one outermost Process call. The
// returned end closure records the measured duration, the terminal status,
// and the run-level metrics; call it exactly once.
func StartRun(ctx context.Context, runID string) (context.Context, func(err error)) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx, func(error) {}
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID)
	startedAt := time.Now()
	tel.Metrics.RecordRunStarted("cli")
	startLogger := RunLogger(tel.Log, runID)
	startLogger.Info().Msg("run started")

	return spanCtx, func(err error) {
		duration := time.Since(startedAt)
		status := "completed"
		if err != nil {
			status = "failed"
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
		tel.Metrics.RecordRunCompleted(status, duration)
		finishLogger := RunLogger(tel.Log, runID)
		finishLogger.Info().
			Str("status", status).
			Dur("duration", duration).
			Err(err).
			Msg("run finished")
	}
}

// StartTask opens a span and timer for one task body. The end closure
// mirrors the scheduler's terminal states: a nil error is a taskComplete,
// a non-nil error a taskError. Per-family metrics use the type tag
// embedded in the baseKey.
func StartTask(ctx context.Context, info TaskInfo) (context.Context, func(err error)) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx, func(error) {}
	}

	spanCtx, span := tel.Tracer.StartTaskSpan(ctx, info.Key, info.BaseKey, info.Module, info.Version)
	startedAt := time.Now()
	log := TaskLogger(tel.Log, info.RunID, info.Key, info.BaseKey)
	log.Debug().Msg("task started")

	return spanCtx, func(err error) {
		duration := time.Since(startedAt)
		status := "completed"
		if err != nil {
			status = "failed"
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
		tel.Metrics.RecordTaskExecution(TaskFamily(info.BaseKey), status, duration)
		log.Info().
			Str("status", status).
			Dur("duration", duration).
			Err(err).
			Msg("task finished")
	}
}

// ObserveDispatch wraps one provider action dispatch with a span, the
// provider call metrics, and error accounting.
func ObserveDispatch(ctx context.Context, provider, action string, fn func() error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn()
	}

	var span trace.Span
	ctx, span = tel.Tracer.StartProviderSpan(ctx, provider, action)
	defer span.End()

	startedAt := time.Now()
	err := fn()
	duration := time.Since(startedAt)

	tel.Metrics.RecordProviderCall(provider, action, duration)
	if err != nil {
		tel.Metrics.RecordProviderError(provider, action)
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	return err
}
