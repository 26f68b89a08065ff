package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/openfroyo/froyocore/pkg/ferrors"
	"github.com/openfroyo/froyocore/pkg/model"
	"github.com/openfroyo/froyocore/pkg/template"
)

// buildDirName is the per-module build staging directory, relative to the
// module's own path; exposed to templates as modules.<name>.buildPath.
const buildDirName = ".froyo/build"

// ResolveOptions bind the lazy edges of the ConfigContext tree to their
// collaborators. Every field is optional; a template that walks an unbound
// edge fails with a TemplateError naming the path.
type ResolveOptions struct {
	// EnvironmentName selects which of the project's environments supplies
	// variables; empty falls back to the project's defaultEnvironment.
	EnvironmentName string

	// Platform is the local.platform value, e.g. "linux/amd64".
	Platform string

	// Env is the process environment exposed as local.env.*.
	Env map[string]string

	// ProviderOutputs lazily fetches a named provider's outputs when a
	// template resolves providers.<name>.*.
	ProviderOutputs template.ProviderOutputsFunc

	// ModuleVersion lazily resolves a module's version string when a
	// template resolves modules.<name>.version.
	ModuleVersion func(moduleName string) (string, bool)

	// ServiceOutputs lazily fetches a deployed service's outputs when a
	// template resolves modules.<name>.services.<svc>.outputs.*.
	ServiceOutputs func(moduleName, serviceName string) (map[string]interface{}, error)
}

// Resolve turns loader output into fully-resolved model.Modules: every
// template expression in each module's type-specific spec is evaluated
// against the layered ConfigContext (project → provider → module), and each
// declared service/task/test dependency is disambiguated against the
// project-wide service and task name registries.
func Resolve(res *Result, opts ResolveOptions) ([]*model.Module, error) {
	if res == nil || res.Project == nil {
		return nil, ferrors.NewConfigError("cannot resolve a nil project", nil)
	}

	envName := opts.EnvironmentName
	if envName == "" {
		envName = res.Project.DefaultEnvironment
	}
	variables, err := environmentVariables(res.Project, envName)
	if err != nil {
		return nil, err
	}

	lookup := &declarationLookup{
		decls: make(map[string]*ModuleDeclaration, len(res.Modules)),
		opts:  opts,
	}
	serviceOwner := make(map[string]string)
	taskOwner := make(map[string]string)
	for _, decl := range res.Modules {
		lookup.decls[decl.Name] = decl
		for _, svc := range decl.Services {
			serviceOwner[svc.Name] = decl.Name
		}
		for _, task := range decl.Tasks {
			taskOwner[task.Name] = decl.Name
		}
	}

	pctx := template.NewProjectContext(opts.Env, opts.Platform)
	vctx := template.NewProviderContext(pctx, envName, variables, opts.ProviderOutputs)
	mctx := template.NewModuleContext(vctx, lookup)
	engine := template.NewEngine()

	modules := make([]*model.Module, 0, len(res.Modules))
	for _, decl := range res.Modules {
		m, err := resolveModule(decl, engine, mctx, serviceOwner, taskOwner)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func environmentVariables(proj *ProjectDeclaration, envName string) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(proj.EnvironmentDefaults))
	for k, v := range proj.EnvironmentDefaults {
		merged[k] = v
	}
	if envName == "" {
		return merged, nil
	}
	for _, env := range proj.Environments {
		if env.Name != envName {
			continue
		}
		for k, v := range env.Variables {
			merged[k] = v
		}
		return merged, nil
	}
	return nil, ferrors.NewParameterError(fmt.Sprintf("unknown environment %q", envName), nil).
		WithResource(proj.Name)
}

func resolveModule(decl *ModuleDeclaration, engine *template.Engine, root template.Context, serviceOwner, taskOwner map[string]string) (*model.Module, error) {
	spec, err := resolveSpec(decl, engine, root)
	if err != nil {
		return nil, err
	}

	m := &model.Module{
		Name: decl.Name,
		Type: decl.Type,
		Path: filepath.Dir(decl.SourceFile),
		Spec: spec,
	}
	for _, dep := range decl.Build.Dependencies {
		bd := model.BuildDependency{ModuleName: dep.Name}
		for _, c := range dep.Copy {
			target := c.Target
			if target == "" {
				target = c.Source
			}
			bd.CopyFiles = append(bd.CopyFiles, model.FileCopySpec{Source: c.Source, Destination: target})
		}
		m.BuildDependencies = append(m.BuildDependencies, bd)
	}

	splitDeps := func(names []string) (services, tasks []string) {
		for _, name := range names {
			if _, ok := taskOwner[name]; ok {
				tasks = append(tasks, name)
			} else {
				// Unknown names land in the service list so graph
				// construction reports them against the right registry.
				services = append(services, name)
			}
		}
		return services, tasks
	}

	for _, svc := range decl.Services {
		svcSpec, err := resolveValueTree("modules."+decl.Name+".services."+svc.Name, svc.Spec, engine, root)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(svcSpec)
		if err != nil {
			return nil, ferrors.NewConfigError(fmt.Sprintf("encoding resolved spec for service %q", svc.Name), err).WithResource(svc.Name)
		}
		depServices, depTasks := splitDeps(svc.Dependencies)
		m.Services = append(m.Services, &model.Service{
			Name:              svc.Name,
			Module:            decl.Name,
			SourceModule:      svc.SourceModule,
			DependsOnServices: depServices,
			DependsOnTasks:    depTasks,
			HotReloadable:     svc.HotReload,
			Spec:              raw,
		})
	}

	for _, task := range decl.Tasks {
		taskSpec, err := resolveValueTree("modules."+decl.Name+".tasks."+task.Name, task.Spec, engine, root)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(taskSpec)
		if err != nil {
			return nil, ferrors.NewConfigError(fmt.Sprintf("encoding resolved spec for task %q", task.Name), err).WithResource(task.Name)
		}
		depServices, depTasks := splitDeps(task.Dependencies)
		m.Tasks = append(m.Tasks, &model.Task{
			Name:              task.Name,
			Module:            decl.Name,
			DependsOnServices: depServices,
			DependsOnTasks:    depTasks,
			Timeout:           time.Duration(task.Timeout) * time.Second,
			Spec:              raw,
		})
	}

	for _, test := range decl.Tests {
		testSpec, err := resolveValueTree("modules."+decl.Name+".tests."+test.Name, test.Spec, engine, root)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(testSpec)
		if err != nil {
			return nil, ferrors.NewConfigError(fmt.Sprintf("encoding resolved spec for test %q", test.Name), err).WithResource(test.Name)
		}
		depServices, depTasks := splitDeps(test.Dependencies)
		m.Tests = append(m.Tests, &model.TestConfig{
			Name:              test.Name,
			Module:            decl.Name,
			DependsOnServices: depServices,
			DependsOnTasks:    depTasks,
			Spec:              raw,
		})
	}

	return m, nil
}

// resolveSpec decodes a module's raw type-specific spec and resolves every
// template expression inside it.
func resolveSpec(decl *ModuleDeclaration, engine *template.Engine, root template.Context) (json.RawMessage, error) {
	if len(decl.Spec) == 0 {
		return decl.Spec, nil
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(decl.Spec, &tree); err != nil {
		return nil, ferrors.NewConfigError(fmt.Sprintf("decoding spec for module %q", decl.Name), err).WithResource(decl.Name)
	}
	resolved, err := resolveValueTree("modules."+decl.Name, tree, engine, root)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(resolved)
	if err != nil {
		return nil, ferrors.NewConfigError(fmt.Sprintf("encoding resolved spec for module %q", decl.Name), err).WithResource(decl.Name)
	}
	return raw, nil
}

// resolveValueTree walks a decoded YAML/JSON value and evaluates every
// string through the template engine, preserving structure. scope names the
// enclosing config location for error reporting.
func resolveValueTree(scope string, v interface{}, engine *template.Engine, root template.Context) (interface{}, error) {
	switch t := v.(type) {
	case string:
		out, err := engine.Evaluate(t, root)
		if err != nil {
			if ce, ok := err.(*ferrors.CoreError); ok && ce.Resource == "" {
				ce.WithResource(scope)
			}
			return nil, err
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			r, err := resolveValueTree(scope+"."+k, val, engine, root)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			r, err := resolveValueTree(fmt.Sprintf("%s[%d]", scope, i), val, engine, root)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// declarationLookup implements template.ModuleLookup over the declaration
// set being resolved, so module specs can reference each other's paths and
// declared outputs before any build has run. Outputs at configuration time
// are whatever the module's spec declares under its "outputs" key, with
// their own template expressions still unresolved — the engine resolves
// them on access, which is where cross-module reference cycles surface.
type declarationLookup struct {
	decls map[string]*ModuleDeclaration
	opts  ResolveOptions
}

func (l *declarationLookup) ModulePath(name string) (string, bool) {
	decl, ok := l.decls[name]
	if !ok {
		return "", false
	}
	return filepath.Dir(decl.SourceFile), true
}

func (l *declarationLookup) ModuleBuildPath(name string) (string, bool) {
	path, ok := l.ModulePath(name)
	if !ok {
		return "", false
	}
	return filepath.Join(path, buildDirName), true
}

func (l *declarationLookup) ModuleOutputs(name string) (map[string]interface{}, bool) {
	decl, ok := l.decls[name]
	if !ok || len(decl.Spec) == 0 {
		return nil, false
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(decl.Spec, &tree); err != nil {
		return nil, false
	}
	outputs, ok := tree["outputs"].(map[string]interface{})
	return outputs, ok
}

func (l *declarationLookup) ModuleVersion(name string) (string, bool) {
	if l.opts.ModuleVersion == nil {
		return "", false
	}
	return l.opts.ModuleVersion(name)
}

func (l *declarationLookup) ServiceOutputs(moduleName, serviceName string) (map[string]interface{}, error) {
	if l.opts.ServiceOutputs == nil {
		return nil, ferrors.NewTemplateError("service outputs are not available at configuration time", nil).
			WithResource(moduleName + "." + serviceName)
	}
	return l.opts.ServiceOutputs(moduleName, serviceName)
}
