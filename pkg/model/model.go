// Package model defines the shared data records that flow between the
// execution core's components: Module, Service, Task, TestConfig, Provider,
// ModuleVersion, TaskNode, and TaskResult. ConfigGraph owns Modules; Modules
// own their Service/Task/TestConfig declarations; TaskGraph owns TaskNodes.
// Providers and Modules have a weak, look-up-only relation — modules
// reference providers by name, never by pointer, so graph edges never form
// reference cycles.
package model

import (
	"encoding/json"
	"time"
)

// NodeKind names one of the four kinds of node a ConfigGraph can hold.
type NodeKind string

const (
	// NodeBuild is a module's build node.
	NodeBuild NodeKind = "build"
	// NodeService is a long-running deployable node.
	NodeService NodeKind = "service"
	// NodeTask is a one-shot runnable node.
	NodeTask NodeKind = "task"
	// NodeTest is a module-scoped test suite node.
	NodeTest NodeKind = "test"
)

// BuildDependency is one entry in a Module's declared build dependency
// list, with an optional file-copy spec used when the dependency's build
// artifact must be staged into this module's build context.
type BuildDependency struct {
	// ModuleName is the name of the depended-on module.
	ModuleName string `json:"moduleName" validate:"required"`

	// CopyFiles optionally stages files from the dependency's build
	// output into this module before the build command runs.
	CopyFiles []FileCopySpec `json:"copyFiles,omitempty"`
}

// FileCopySpec describes a single source→destination file-copy performed
// as part of resolving a build dependency, potentially across a remote
// transport when the dependency's module lives on a different host.
type FileCopySpec struct {
	// Source is a path relative to the dependency module's build output.
	Source string `json:"source" validate:"required"`

	// Destination is a path relative to this module's build context.
	Destination string `json:"destination" validate:"required"`
}

// Module is the unit of code and artifact: a name, a type tag selecting its
// handler family, a filesystem path, build dependencies, and the
// services/tasks/tests it declares.
type Module struct {
	// Name is unique across the project after type-aware key composition.
	Name string `json:"name" validate:"required"`

	// Type selects the handler family (e.g. "node.service", "go.binary").
	Type string `json:"type" validate:"required"`

	// Path is the absolute filesystem path to the module's source tree.
	Path string `json:"path" validate:"required"`

	// BuildDependencies lists other modules this module's build depends on.
	// The induced build↔build subgraph must be acyclic.
	BuildDependencies []BuildDependency `json:"buildDependencies,omitempty"`

	// Services are the long-running deployables this module declares.
	Services []*Service `json:"services,omitempty"`

	// Tasks are the one-shot runnables this module declares.
	Tasks []*Task `json:"tasks,omitempty"`

	// Tests are the module-scoped test suites this module declares.
	Tests []*TestConfig `json:"tests,omitempty"`

	// Spec is free-form provider-specific configuration, resolved from
	// template expressions before the module is considered final.
	Spec json.RawMessage `json:"spec,omitempty"`

	// Outputs is computed after the build completes; lazily exposed to
	// the ConfigContext as modules.<name>.outputs.
	Outputs map[string]interface{} `json:"outputs,omitempty"`

	// Labels and Annotations carry selection and tooling metadata; inert
	// unless a caller consumes them.
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Service is a long-running deployable defined by a module.
type Service struct {
	// Name is globally unique across the project; must not collide with
	// any Task name.
	Name string `json:"name" validate:"required"`

	// Module is the owning module's name.
	Module string `json:"module" validate:"required"`

	// SourceModule is set when the service deploys code built by a
	// different module than its owner.
	SourceModule string `json:"sourceModule,omitempty"`

	// DependsOnServices lists other service names that must be running
	// before this service is considered startable.
	DependsOnServices []string `json:"dependsOnServices,omitempty"`

	// DependsOnTasks lists task names that must have succeeded first.
	DependsOnTasks []string `json:"dependsOnTasks,omitempty"`

	// HotReloadable marks the service as eligible for HotReloadTask
	// instead of a full DeployTask when only its code changed.
	HotReloadable bool `json:"hotReloadable,omitempty"`

	Spec        json.RawMessage   `json:"spec,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Task is a one-shot runnable defined by a module.
type Task struct {
	// Name is globally unique across the project; must not collide with
	// any Service name.
	Name string `json:"name" validate:"required"`

	// Module is the owning module's name.
	Module string `json:"module" validate:"required"`

	// DependsOnServices lists services that must be running first.
	DependsOnServices []string `json:"dependsOnServices,omitempty"`

	// DependsOnTasks lists other tasks that must have succeeded first.
	DependsOnTasks []string `json:"dependsOnTasks,omitempty"`

	// Timeout bounds how long the task's own process body may run;
	// enforced by the task implementation, not the scheduler.
	Timeout time.Duration `json:"timeout,omitempty"`

	Spec        json.RawMessage   `json:"spec,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// TestConfig is a module-scoped test suite. Its key is "<module>.<name>";
// names are unique only within their owning module.
type TestConfig struct {
	// Name is unique within Module.
	Name string `json:"name" validate:"required"`

	// Module is the owning module's name.
	Module string `json:"module" validate:"required"`

	DependsOnServices []string `json:"dependsOnServices,omitempty"`
	DependsOnTasks    []string `json:"dependsOnTasks,omitempty"`

	Spec        json.RawMessage   `json:"spec,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Key returns the TestConfig's graph key, "<module>.<name>".
func (t *TestConfig) Key() string {
	return t.Module + "." + t.Name
}

// ProviderLifecycle names a stage in a Provider's lifecycle.
type ProviderLifecycle string

const (
	ProviderLoaded    ProviderLifecycle = "loaded"
	ProviderConfigured ProviderLifecycle = "configured"
	ProviderPrepared  ProviderLifecycle = "prepared"
	ProviderCleanedUp ProviderLifecycle = "cleanedUp"
)

// Provider is a configured plugin instance.
type Provider struct {
	// Name is the plugin name, unique within the registry.
	Name string `json:"name" validate:"required"`

	// DependsOn lists other provider names this provider requires to be
	// loaded and configured first.
	DependsOn []string `json:"dependsOn,omitempty"`

	// Config is the provider-specific configuration merged from all
	// project declarations of this provider.
	Config json.RawMessage `json:"config,omitempty"`

	// Outputs becomes available after prepareEnvironment runs.
	Outputs map[string]interface{} `json:"outputs,omitempty"`

	// Lifecycle tracks where in loaded→configured→prepared→cleanedUp the
	// provider currently is.
	Lifecycle ProviderLifecycle `json:"lifecycle"`

	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// ModuleVersion is a module's resolved, deterministic version.
type ModuleVersion struct {
	// VersionString is a digest of the module's tracked file contents
	// combined with its build dependencies' VersionStrings. Identical
	// source and identical dependency versions always produce an
	// identical VersionString.
	VersionString string `json:"versionString"`

	// DirtyTimestamp is set when the module's working tree has
	// uncommitted changes; it is the max of the module's own and any
	// dependency's dirty timestamp.
	DirtyTimestamp *time.Time `json:"dirtyTimestamp,omitempty"`

	// DependencyVersions maps dependency module name to its resolved
	// VersionString, for diagnostics and cache-key composition.
	DependencyVersions map[string]string `json:"dependencyVersions,omitempty"`
}

// TaskNode is a scheduler-internal wrapper around a submitted task
// instance, carrying the identity and bookkeeping fields the scheduler
// needs to de-duplicate, order, and cancel it.
type TaskNode struct {
	// Type tags which task family this node belongs to.
	Type string `json:"type"`

	// BaseKey is "type.name"; used for de-duplication and per-type
	// concurrency accounting.
	BaseKey string `json:"baseKey"`

	// Key is "baseKey.paramsHash8"; distinguishes param variants of the
	// same baseKey.
	Key string `json:"key"`

	// ID is unique per add call, even for nodes sharing a Key (a node
	// that piggy-backs on an in-progress predecessor still gets its own
	// ID so its dependants can be tracked individually).
	ID string `json:"id"`

	// DependencyKeys are the Keys of this node's dependency nodes.
	DependencyKeys []string `json:"dependencyKeys,omitempty"`

	// ParentID is the ID of the task that enqueued this node via a
	// sub-scheduling call, or "" if submitted directly. Used solely for
	// the same-type concurrency-throttle exception.
	ParentID string `json:"parentId,omitempty"`
}

// TaskResult is the terminal record for a TaskNode's execution.
type TaskResult struct {
	Type        string                 `json:"type"`
	BaseKey     string                 `json:"baseKey"`
	Key         string                 `json:"key"`
	ID          string                 `json:"id"`
	Description string                 `json:"description,omitempty"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
	Output      interface{}            `json:"output,omitempty"`
	Error       error                  `json:"-"`
	ErrorText   string                 `json:"error,omitempty"`

	// DependencyResults maps each dependency's BaseKey to its output, the
	// shape a task's process(dependencyResults) receives.
	DependencyResults map[string]interface{} `json:"dependencyResults,omitempty"`
}

// RelationKind names one of the four ConfigGraph dependency relation
// families used by getDependencies/getDependants/modulesForRelations.
type RelationKind string

const (
	RelationBuild   RelationKind = "build"
	RelationService RelationKind = "service"
	RelationTask    RelationKind = "task"
	RelationTest    RelationKind = "test"
)
