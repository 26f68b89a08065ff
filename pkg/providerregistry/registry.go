// Package providerregistry implements the ProviderRegistry: loading
// provider plugins by name, validating their descriptor, merging declared
// config across registrations, and installing their handlers into a
// dispatch.Dispatcher. A plugin factory is either an in-process callable,
// a subprocess behind pkg/pluginrpc, or a bundled WASM module hosted by
// pkg/providers/host.
package providerregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/froyocore/pkg/cueval"
	"github.com/openfroyo/froyocore/pkg/dispatch"
	"github.com/openfroyo/froyocore/pkg/ferrors"
	"github.com/openfroyo/froyocore/pkg/version"
)

// FactoryInput is passed to a plugin factory on load.
type FactoryInput struct {
	ProjectName string
}

// ActionSpec is one entry in a descriptor's Actions or ModuleActions map:
// the handler plus its optional input/output schema.
type ActionSpec struct {
	Handler      dispatch.Handler
	InputSchema  string
	OutputSchema string
}

// Descriptor is what a plugin factory returns: its plugin-level actions,
// per-module-type actions, bundled module paths, optional config schema,
// and declared inter-provider dependencies.
type Descriptor struct {
	Actions       map[dispatch.ActionType]ActionSpec
	ModuleActions map[string]map[dispatch.ActionType]ActionSpec // moduleType -> action -> spec
	Modules       []string
	ConfigSchema  string
	DependsOn     []string

	// Version is the plugin's own semantic version, checked against any
	// constraint the project declares for this provider.
	Version string
}

// Factory constructs a plugin's Descriptor. Factories are registered by
// name; name doubles as a locatable module path when the factory is a thin
// loader wrapping an external module.
type Factory func(ctx context.Context, in FactoryInput) (*Descriptor, error)

type loadedPlugin struct {
	descriptor *Descriptor
	config     map[string]interface{}
	configRaw  json.RawMessage
}

// Registry loads provider plugins and installs their handlers into a
// dispatch.Dispatcher.
type Registry struct {
	mu         sync.Mutex
	factories  map[string]Factory
	loaded     map[string]*loadedPlugin
	dispatcher *dispatch.Dispatcher
	validator  *cueval.Validator
}

// New constructs a Registry that installs loaded plugins' handlers into d.
func New(d *dispatch.Dispatcher) *Registry {
	return &Registry{
		factories:  make(map[string]Factory),
		loaded:     make(map[string]*loadedPlugin),
		dispatcher: d,
		validator:  cueval.New(),
	}
}

// RegisterFactory registers a plugin factory under name. Re-registering the
// same name replaces the factory for subsequent Load calls; it does not
// affect an already-loaded plugin.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// LoadOption adjusts a single Load call.
type LoadOption func(*loadOpts)

type loadOpts struct {
	versionConstraint string
}

// WithVersionConstraint requires the loaded plugin's declared Version to
// satisfy the given semver constraint (e.g. ">=1.0.0").
func WithVersionConstraint(constraint string) LoadOption {
	return func(o *loadOpts) { o.versionConstraint = constraint }
}

// Load runs the full load sequence for a named plugin: invoke the
// factory, validate the descriptor, merge declaredConfig with any prior
// registration for the same name, validate the merged config against the
// plugin's config schema, and install its handlers into the dispatcher.
func (r *Registry) Load(ctx context.Context, name string, projectName string, declaredConfig map[string]interface{}, opts ...LoadOption) error {
	var o loadOpts
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	factory, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return ferrors.NewPluginError(fmt.Sprintf("no factory registered for provider %q", name), nil).WithResource(name)
	}

	descriptor, err := factory(ctx, FactoryInput{ProjectName: projectName})
	if err != nil {
		return ferrors.NewPluginError(fmt.Sprintf("factory for provider %q failed", name), err).WithResource(name)
	}
	if err := validateDescriptor(descriptor); err != nil {
		return ferrors.NewPluginError(fmt.Sprintf("invalid descriptor for provider %q", name), err).WithResource(name)
	}

	if o.versionConstraint != "" {
		if descriptor.Version == "" {
			return ferrors.NewPluginError(fmt.Sprintf("provider %q declares no version but constraint %q was required", name, o.versionConstraint), nil).WithResource(name)
		}
		ok, err := version.MatchConstraint(o.versionConstraint, descriptor.Version)
		if err != nil {
			return err
		}
		if !ok {
			return ferrors.NewConfigError(fmt.Sprintf("provider %q version %s does not satisfy constraint %q", name, descriptor.Version, o.versionConstraint), nil).WithResource(name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	merged := declaredConfig
	if prior, exists := r.loaded[name]; exists {
		merged = mergeConfig(prior.config, declaredConfig)
	}

	var schema cueval.Schema
	if descriptor.ConfigSchema != "" {
		schema, err = r.validator.Compile(descriptor.ConfigSchema)
		if err != nil {
			return ferrors.NewPluginError(fmt.Sprintf("invalid config schema for provider %q", name), err).WithResource(name)
		}
		if err := r.validator.Validate(schema, merged); err != nil {
			return ferrors.NewConfigError(fmt.Sprintf("config for provider %q failed schema validation", name), err).WithResource(name)
		}
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return ferrors.NewConfigError(fmt.Sprintf("failed to encode merged config for provider %q", name), err).WithResource(name)
	}

	r.loaded[name] = &loadedPlugin{descriptor: descriptor, config: merged, configRaw: raw}
	r.installHandlers(name, descriptor)
	return nil
}

func (r *Registry) installHandlers(name string, d *Descriptor) {
	for action, spec := range d.Actions {
		r.dispatcher.Register(action, name, spec.Handler, dispatch.RegisterOptions{
			InputSchema: spec.InputSchema, OutputSchema: spec.OutputSchema,
		})
	}
	for moduleType, actions := range d.ModuleActions {
		for action, spec := range actions {
			r.dispatcher.Register(action, name, spec.Handler, dispatch.RegisterOptions{
				ModuleType: moduleType, InputSchema: spec.InputSchema, OutputSchema: spec.OutputSchema,
			})
		}
	}
}

// Config returns the merged, validated config for a loaded plugin.
func (r *Registry) Config(name string) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.loaded[name]
	if !ok {
		return nil, false
	}
	return p.configRaw, true
}

// Loaded returns the names of every currently loaded plugin, sorted.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.loaded))
	for name := range r.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependencyOrder returns loaded plugin names topologically sorted by each
// plugin's declared DependsOn, so callers can configure/init providers in
// an order respecting inter-provider dependencies.
func (r *Registry) DependencyOrder() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	visited := make(map[string]int) // 0 unvisited, 1 in-progress, 2 done
	var order []string
	var visit func(name string) error
	visit = func(name string) error {
		switch visited[name] {
		case 2:
			return nil
		case 1:
			return ferrors.NewConfigError(fmt.Sprintf("circular provider dependency involving %q", name), nil)
		}
		visited[name] = 1
		p, ok := r.loaded[name]
		if ok {
			for _, dep := range p.descriptor.DependsOn {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		visited[name] = 2
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(r.loaded))
	for name := range r.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func validateDescriptor(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("descriptor is nil")
	}
	return nil
}

// mergeConfig merges declared over prior: scalar fields (anything not a
// nested map) last-wins, nested maps are merged key by key, recursively.
func mergeConfig(prior, declared map[string]interface{}) map[string]interface{} {
	if prior == nil {
		return declared
	}
	merged := make(map[string]interface{}, len(prior)+len(declared))
	for k, v := range prior {
		merged[k] = v
	}
	for k, v := range declared {
		priorVal, exists := merged[k]
		if !exists {
			merged[k] = v
			continue
		}
		priorMap, priorIsMap := priorVal.(map[string]interface{})
		newMap, newIsMap := v.(map[string]interface{})
		if priorIsMap && newIsMap {
			merged[k] = mergeConfig(priorMap, newMap)
		} else {
			merged[k] = v
		}
	}
	return merged
}
