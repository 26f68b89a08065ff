package stores

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of one outermost scheduler Process call.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ResultStatus is the terminal state of one scheduler task. There is no
// in-progress state on disk: the scheduler emits at most one terminal
// event per key, and that is the moment a row is written.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
	ResultCancelled ResultStatus = "cancelled"
)

// EventLevel is the severity of an append-only event row.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one outermost Process call: the unit the CLI starts, the
// dashboard lists, and task results and events hang off.
type Run struct {
	ID          string     `json:"id"`
	ProjectPath string     `json:"project_path"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskResult is the durable form of one scheduler TaskResult: the task's
// full identity (key, baseKey, the family tag embedded in the baseKey),
// the module it acted on, and its terminal output or error. Rows are
// written once when the task reaches a terminal state and never updated.
type TaskResult struct {
	RunID string `json:"run_id"`

	// Key is the scheduler key, baseKey.paramsHash8; unique within a run.
	Key string `json:"key"`

	// BaseKey is the de-duplication identity, type.name.
	BaseKey string `json:"base_key"`

	// Type is the task family: build, deployService, runTask, ...
	Type string `json:"type"`

	// Module is the owning module's name, when the task is module-scoped.
	Module string `json:"module,omitempty"`

	Description string `json:"description,omitempty"`

	// Version is the resolved ModuleVersion string the task ran against.
	Version string `json:"version,omitempty"`

	Status ResultStatus `json:"status"`

	// Output is the task's JSON-encoded output, nil for failures.
	Output *string `json:"output,omitempty"`

	// Error is the terminal error text, nil for successes.
	Error *string `json:"error,omitempty"`

	// DependencyResults is the JSON object of dependency outputs keyed by
	// baseKey, as the task body received them.
	DependencyResults *string `json:"dependency_results,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event is one append-only log row, written by Recorder from the
// scheduler's event bus.
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	TaskID    *string    `json:"task_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// ModuleVersion is the last version the VersionResolver computed for a
// module, with the build outputs produced at that version. A later run
// whose resolved versionString matches can reuse the outputs without
// rebuilding.
type ModuleVersion struct {
	Module        string     `json:"module"`
	ModuleType    string     `json:"module_type"`
	VersionString string     `json:"version_string"`
	DirtyAt       *time.Time `json:"dirty_at,omitempty"`
	Outputs       string     `json:"outputs"` // JSON blob of build outputs
	RunID         string     `json:"run_id"`
	ResolvedAt    time.Time  `json:"resolved_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Store is the persistence contract the execution core writes through.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Task results (terminal, write-once)
	RecordTaskResult(ctx context.Context, result *TaskResult) error
	GetTaskResult(ctx context.Context, runID, key string) (*TaskResult, error)
	ListTaskResults(ctx context.Context, runID string) ([]*TaskResult, error)

	// Events
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, taskID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Module versions
	UpsertModuleVersion(ctx context.Context, mv *ModuleVersion) error
	GetModuleVersion(ctx context.Context, module string) (*ModuleVersion, error)
	ListModuleVersions(ctx context.Context, limit, offset int) ([]*ModuleVersion, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
