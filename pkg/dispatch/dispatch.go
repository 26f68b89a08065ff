// Package dispatch implements the ActionDispatcher: typed entry points for
// named plugin/module/service/task actions, selecting a registered handler
// by (actionType, moduleType?, pluginName?). The action set (configure,
// build, deploy, runTask, hotReloadService, ...) is open-ended and
// provider-defined, so handlers live in registrable tables rather than a
// fixed interface.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openfroyo/froyocore/pkg/cueval"
	"github.com/openfroyo/froyocore/pkg/ferrors"
)

// ActionType names one of the dispatcher's registrable actions (e.g.
// "configure", "build", "deployService", "getSecret", "runTask").
type ActionType string

// Handler is a registered action implementation. params/output are raw
// JSON so the dispatcher can schema-validate them without knowing the
// plugin's concrete Go types.
type Handler func(ctx context.Context, pc *PluginContext, params json.RawMessage) (json.RawMessage, error)

// handlerKey identifies one registration slot. ModuleType is empty for
// plugin-level actions.
type handlerKey struct {
	action     ActionType
	moduleType string
	pluginName string
}

type registration struct {
	handler      Handler
	inputSchema  cueval.Schema
	outputSchema cueval.Schema
}

// PluginContext is the narrow capability object handed to a handler: the
// plugin gets a restricted view rather than a handle to the whole core.
type PluginContext struct {
	PluginName string
	locks      *NamedLock
}

// Lock acquires the dispatcher-wide named lock "pluginName:name" and
// returns the unlock function. Handlers wrapping an external tool that is
// not safe for concurrent use declare and acquire their lock here.
func (pc *PluginContext) Lock(name string) func() {
	return pc.locks.Lock(pc.PluginName + ":" + name)
}

// Dispatcher holds the per-(actionType, moduleType?, pluginName?) handler
// tables and dispatches validated calls into them.
type Dispatcher struct {
	mu              sync.RWMutex
	handlers        map[handlerKey]registration
	order           map[ActionType][]string // plugin names in registration order, for "last wins" / fan-out
	defaultHandlers map[ActionType]Handler
	validator       *cueval.Validator
	locks           *NamedLock
}

// New constructs an empty Dispatcher and installs the provider-independent
// default fallbacks for actions that have a sensible no-provider answer.
func New() *Dispatcher {
	d := &Dispatcher{
		handlers:        make(map[handlerKey]registration),
		order:           make(map[ActionType][]string),
		defaultHandlers: make(map[ActionType]Handler),
		validator:       cueval.New(),
		locks:           NewNamedLock(),
	}
	d.registerBuiltinDefaults()
	return d
}

func jsonHandler(v interface{}) Handler {
	return func(ctx context.Context, pc *PluginContext, params json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(v)
	}
}

func (d *Dispatcher) registerBuiltinDefaults() {
	d.defaultHandlers["publishModule"] = jsonHandler(map[string]interface{}{"published": false})
	d.defaultHandlers["pushModule"] = jsonHandler(map[string]interface{}{"pushed": false})
	d.defaultHandlers["getTestResult"] = jsonHandler(nil)
	d.defaultHandlers["getBuildStatus"] = jsonHandler(map[string]interface{}{"ready": false})
}

// RegisterOptions configure a single handler registration.
type RegisterOptions struct {
	// ModuleType scopes this handler to a module action; leave empty for a plugin-level action.
	ModuleType string
	// InputSchema/OutputSchema are optional CUE schema text validating the
	// handler's params and return value.
	InputSchema, OutputSchema string
}

// Register installs handler for (action, pluginName), optionally scoped to
// a moduleType, compiling any supplied schemas up front so a malformed
// schema fails at registration rather than at first dispatch.
func (d *Dispatcher) Register(action ActionType, pluginName string, handler Handler, opts RegisterOptions) error {
	reg := registration{handler: handler}
	if opts.InputSchema != "" {
		s, err := d.validator.Compile(opts.InputSchema)
		if err != nil {
			return ferrors.NewConfigError("invalid input schema for action "+string(action), err)
		}
		reg.inputSchema = s
	}
	if opts.OutputSchema != "" {
		s, err := d.validator.Compile(opts.OutputSchema)
		if err != nil {
			return ferrors.NewConfigError("invalid output schema for action "+string(action), err)
		}
		reg.outputSchema = s
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	key := handlerKey{action: action, moduleType: opts.ModuleType, pluginName: pluginName}
	if _, exists := d.handlers[key]; !exists {
		d.order[action] = append(d.order[action], pluginName)
	}
	d.handlers[key] = reg
	return nil
}

// Dispatch invokes the handler selected by (action, moduleType,
// pluginName). moduleType is empty for plugin-level actions. If
// pluginName is empty, the last-registered handler for (action, moduleType)
// is used. defaultHandler, if non-nil, is tried when no handler is
// registered; otherwise the built-in default for action, if any; otherwise
// a NoHandlerError is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, action ActionType, moduleType, pluginName string, params json.RawMessage, defaultHandler Handler) (json.RawMessage, error) {
	reg, name, ok := d.resolve(action, moduleType, pluginName)
	if !ok {
		if defaultHandler != nil {
			return defaultHandler(ctx, &PluginContext{PluginName: pluginName, locks: d.locks}, params)
		}
		if fb, ok := d.defaultHandlers[action]; ok {
			return fb(ctx, &PluginContext{locks: d.locks}, params)
		}
		return nil, ferrors.NewNoHandlerError(fmt.Sprintf("no handler for action %q (moduleType=%q, plugin=%q)", action, moduleType, pluginName), nil).WithOperation(string(action))
	}

	if err := d.validator.Validate(reg.inputSchema, params); err != nil {
		return nil, ferrors.NewConfigError(fmt.Sprintf("invalid params for action %q", action), err).WithOperation(string(action))
	}

	out, err := reg.handler(ctx, &PluginContext{PluginName: name, locks: d.locks}, params)
	if err != nil {
		return nil, ferrors.NewPluginError(fmt.Sprintf("handler for action %q failed", action), err).WithOperation(string(action)).WithResource(name)
	}

	if err := d.validator.Validate(reg.outputSchema, out); err != nil {
		return nil, ferrors.NewPluginError(fmt.Sprintf("invalid output for action %q", action), err).WithOperation(string(action)).WithResource(name)
	}
	return out, nil
}

// DispatchAll fans a plugin-level action out over every plugin that has
// registered a handler for it, returning a map keyed by plugin name — used
// for aggregate operations like getEnvironmentStatus without a pluginName
//.
func (d *Dispatcher) DispatchAll(ctx context.Context, action ActionType, moduleType string, params json.RawMessage) (map[string]json.RawMessage, error) {
	d.mu.RLock()
	names := append([]string(nil), d.order[action]...)
	d.mu.RUnlock()

	results := make(map[string]json.RawMessage, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out, err := d.Dispatch(ctx, action, moduleType, name, params, nil)
		if err != nil {
			return nil, err
		}
		results[name] = out
	}
	return results, nil
}

// ModuleTypeResolver maps a service or task name to its owning module's
// type tag. Callers bind it to the ConfigGraph's name registries.
type ModuleTypeResolver func(name string) (string, bool)

// DispatchServiceAction invokes a service- or task-scoped action
// (deployService, runTask, getServiceLogs, ...), deriving the moduleType
// from the named service/task's owning module via resolve.
func (d *Dispatcher) DispatchServiceAction(ctx context.Context, action ActionType, name, pluginName string, resolve ModuleTypeResolver, params json.RawMessage, defaultHandler Handler) (json.RawMessage, error) {
	moduleType, ok := resolve(name)
	if !ok {
		return nil, ferrors.NewParameterError(fmt.Sprintf("unknown service or task %q", name), nil).
			WithResource(name).WithOperation(string(action))
	}
	return d.Dispatch(ctx, action, moduleType, pluginName, params, defaultHandler)
}

// resolve finds the registration for (action, moduleType, pluginName). An
// empty pluginName means "the last-registered handler for this
// (action, moduleType)".
func (d *Dispatcher) resolve(action ActionType, moduleType, pluginName string) (registration, string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if pluginName != "" {
		reg, ok := d.handlers[handlerKey{action: action, moduleType: moduleType, pluginName: pluginName}]
		return reg, pluginName, ok
	}

	names := d.order[action]
	for i := len(names) - 1; i >= 0; i-- {
		key := handlerKey{action: action, moduleType: moduleType, pluginName: names[i]}
		if reg, ok := d.handlers[key]; ok {
			return reg, names[i], true
		}
	}
	return registration{}, "", false
}
