package template

import (
	"strings"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

// Value is anything a Context can resolve a path step to: a primitive
// (string/number/bool), a nested Context, or a LazyCallable that must be
// invoked to obtain the next Value.
type Value interface{}

// LazyCallable defers expensive resolution (e.g. a provider's getOutputs)
// until a template expression actually walks through it.
type LazyCallable func() (Value, error)

// Context is a node in the ConfigContext tree. Resolve walks a single dotted
// path step at a time; the engine repeatedly calls Resolve as it descends.
type Context interface {
	// Resolve returns the value bound to key within this context, or
	// ok=false if key is undefined (including all keys beginning with "_",
	// which are always private).
	Resolve(key string) (Value, bool)
}

// MapContext is a Context backed by a plain map, the leaf representation
// most layers use for their concrete bindings.
type MapContext map[string]Value

// Resolve implements Context.
func (m MapContext) Resolve(key string) (Value, bool) {
	if strings.HasPrefix(key, "_") {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// ProjectContext is the root layer: exposes local.env (process environment)
// and local.platform.
type ProjectContext struct {
	Local MapContext
}

// NewProjectContext builds a ProjectContext from the process environment and
// the given platform string (e.g. runtime.GOOS/GOARCH composed by the
// caller).
func NewProjectContext(env map[string]string, platform string) *ProjectContext {
	envCtx := make(MapContext, len(env))
	for k, v := range env {
		envCtx[k] = v
	}
	return &ProjectContext{
		Local: MapContext{
			"env":      envCtx,
			"platform": platform,
		},
	}
}

// Resolve implements Context.
func (p *ProjectContext) Resolve(key string) (Value, bool) {
	if key == "local" {
		return p.Local, true
	}
	return nil, false
}

// ProviderOutputsFunc lazily fetches a named provider's outputs; bound by
// the caller to the ProviderRegistry/ActionDispatcher so this package has
// no dependency on them.
type ProviderOutputsFunc func(providerName string) (map[string]interface{}, error)

// ProviderContext extends ProjectContext with environment.name,
// providers.<name> (lazy), and variables.* (merged project+environment).
type ProviderContext struct {
	*ProjectContext
	EnvironmentName string
	Variables       MapContext
	GetOutputs      ProviderOutputsFunc
}

// NewProviderContext builds layer 2 over an existing ProjectContext.
func NewProviderContext(parent *ProjectContext, envName string, variables map[string]interface{}, getOutputs ProviderOutputsFunc) *ProviderContext {
	vars := make(MapContext, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	return &ProviderContext{
		ProjectContext:  parent,
		EnvironmentName: envName,
		Variables:       vars,
		GetOutputs:      getOutputs,
	}
}

// Resolve implements Context.
func (p *ProviderContext) Resolve(key string) (Value, bool) {
	switch key {
	case "environment":
		return MapContext{"name": p.EnvironmentName}, true
	case "variables":
		return p.Variables, true
	case "providers":
		return providersNode{get: p.GetOutputs}, true
	}
	return p.ProjectContext.Resolve(key)
}

// providersNode resolves providers.<name> to a LazyCallable that fetches
// that provider's outputs on first access.
type providersNode struct {
	get ProviderOutputsFunc
}

func (n providersNode) Resolve(key string) (Value, bool) {
	if strings.HasPrefix(key, "_") || n.get == nil {
		return nil, false
	}
	name := key
	return LazyCallable(func() (Value, error) {
		outputs, err := n.get(name)
		if err != nil {
			return nil, ferrors.NewTemplateError("failed to resolve provider outputs", err).WithResource(name)
		}
		m := make(MapContext, len(outputs))
		for k, v := range outputs {
			m[k] = v
		}
		return m, nil
	}), true
}

// ModuleLookup resolves a module's path/buildPath/outputs/version/service
// outputs on demand; bound by the caller to the ConfigGraph/VersionResolver.
type ModuleLookup interface {
	ModulePath(name string) (string, bool)
	ModuleBuildPath(name string) (string, bool)
	ModuleOutputs(name string) (map[string]interface{}, bool)
	ModuleVersion(name string) (string, bool)
	ServiceOutputs(moduleName, serviceName string) (map[string]interface{}, error)
}

// ModuleContext extends ProviderContext with modules.<name>.{path,
// buildPath, outputs, version, services.<name>.outputs}.
type ModuleContext struct {
	*ProviderContext
	Lookup ModuleLookup
}

// NewModuleContext builds layer 3, the full tree a module's own template
// expressions are evaluated against.
func NewModuleContext(parent *ProviderContext, lookup ModuleLookup) *ModuleContext {
	return &ModuleContext{ProviderContext: parent, Lookup: lookup}
}

// Resolve implements Context.
func (m *ModuleContext) Resolve(key string) (Value, bool) {
	if key == "modules" {
		return modulesNode{lookup: m.Lookup}, true
	}
	return m.ProviderContext.Resolve(key)
}

type modulesNode struct {
	lookup ModuleLookup
}

func (n modulesNode) Resolve(key string) (Value, bool) {
	if strings.HasPrefix(key, "_") || n.lookup == nil {
		return nil, false
	}
	return moduleNode{name: key, lookup: n.lookup}, true
}

type moduleNode struct {
	name   string
	lookup ModuleLookup
}

func (n moduleNode) Resolve(key string) (Value, bool) {
	switch key {
	case "path":
		return n.lookup.ModulePath(n.name)
	case "buildPath":
		return n.lookup.ModuleBuildPath(n.name)
	case "version":
		return n.lookup.ModuleVersion(n.name)
	case "outputs":
		outputs, ok := n.lookup.ModuleOutputs(n.name)
		if !ok {
			return nil, false
		}
		m := make(MapContext, len(outputs))
		for k, v := range outputs {
			m[k] = v
		}
		return m, true
	case "services":
		return moduleServicesNode{moduleName: n.name, lookup: n.lookup}, true
	}
	return nil, false
}

type moduleServicesNode struct {
	moduleName string
	lookup     ModuleLookup
}

func (n moduleServicesNode) Resolve(key string) (Value, bool) {
	if strings.HasPrefix(key, "_") {
		return nil, false
	}
	serviceName := key
	moduleName := n.moduleName
	lookup := n.lookup
	return MapContext{
		"outputs": LazyCallable(func() (Value, error) {
			outputs, err := lookup.ServiceOutputs(moduleName, serviceName)
			if err != nil {
				return nil, ferrors.NewTemplateError("failed to resolve service outputs", err).
					WithResource(moduleName + "." + serviceName)
			}
			m := make(MapContext, len(outputs))
			for k, v := range outputs {
				m[k] = v
			}
			return m, nil
		}),
	}, true
}
