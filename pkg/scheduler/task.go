package scheduler

import (
	"context"

	"github.com/openfroyo/froyocore/pkg/model"
)

// Task is the contract a caller's build/deploy/test/run-task unit must
// satisfy to be submitted to the scheduler.
type Task interface {
	// Type tags which task family this instance belongs to (e.g. "build",
	// "deployService", "runTask").
	Type() string

	// BaseKey returns "type.name"; used for de-duplication and per-type
	// concurrency accounting.
	BaseKey() string

	// Key returns "baseKey.paramsHash8"; distinguishes param variants of
	// the same BaseKey. Must be stable for a given set of params.
	Key() string

	// Version returns the task's resolved ModuleVersion, surfaced on the
	// taskProcessing event.
	Version() model.ModuleVersion

	// Force reports whether this submission bypasses the result cache.
	Force() bool

	// ConcurrencyLimit returns the per-type concurrency ceiling, or 0 for
	// no per-type limit.
	ConcurrencyLimit() int

	// Dependencies returns this task's dependency tasks. Must be
	// deterministic for a given Key; the scheduler calls it on every add
	// and memoises the dependencies' base keys per Key.
	Dependencies() ([]Task, error)

	// Description is a short human-readable label surfaced on events.
	Description() string

	// Process executes the task body given its dependencies' outputs
	// keyed by BaseKey, returning an output or an error.
	Process(ctx context.Context, dependencyResults map[string]interface{}) (interface{}, error)
}
