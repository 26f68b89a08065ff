package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DeclarationKind discriminates the flat YAML style's top-level "kind"
// field.
type DeclarationKind string

const (
	KindProject DeclarationKind = "Project"
	KindModule  DeclarationKind = "Module"
)

// ProjectDeclaration is a project's top-level declaration record.
type ProjectDeclaration struct {
	Name                string                 `yaml:"name" validate:"required"`
	DefaultEnvironment  string                 `yaml:"defaultEnvironment,omitempty"`
	EnvironmentDefaults map[string]interface{} `yaml:"environmentDefaults,omitempty"`
	Environments        []EnvironmentDeclaration `yaml:"environments,omitempty"`
	Sources             []SourceDeclaration    `yaml:"sources,omitempty"`
	RepositoryURL       string                 `yaml:"repositoryUrl,omitempty"`

	// SourceFile is the path this declaration was read from, for error
	// reporting; not part of the YAML shape.
	SourceFile string `yaml:"-"`
}

// EnvironmentDeclaration is one entry of Project.environments.
type EnvironmentDeclaration struct {
	Name      string                 `yaml:"name" validate:"required"`
	Variables map[string]interface{} `yaml:"variables,omitempty"`
	Providers []ProviderDeclaration  `yaml:"providers,omitempty"`
}

// ProviderDeclaration configures one provider plugin for an environment.
// Version is an optional semver constraint the loaded plugin must satisfy;
// Config is merged across registrations of the same name, last-wins for
// scalars, per-key for maps.
type ProviderDeclaration struct {
	Name         string                 `yaml:"name" validate:"required"`
	Version      string                 `yaml:"version,omitempty"`
	Dependencies []string               `yaml:"dependencies,omitempty"`
	Config       map[string]interface{} `yaml:"config,omitempty"`
}

// SourceDeclaration names an additional remote source the project scans.
type SourceDeclaration struct {
	Name          string `yaml:"name" validate:"required"`
	RepositoryURL string `yaml:"repositoryUrl" validate:"required"`
}

// BuildDeclaration is a Module's build block.
type BuildDeclaration struct {
	Command      string                       `yaml:"command,omitempty"`
	Dependencies []BuildDependencyDeclaration `yaml:"dependencies,omitempty"`
}

// BuildDependencyDeclaration is one build dependency: either a bare module
// name, or a mapping with an optional copy spec staging files from the
// dependency's build output.
type BuildDependencyDeclaration struct {
	Name string         `yaml:"name" validate:"required"`
	Copy []FileCopyDecl `yaml:"copy,omitempty"`
}

// FileCopyDecl is one source→target copy entry on a build dependency.
type FileCopyDecl struct {
	Source string `yaml:"source" validate:"required"`
	Target string `yaml:"target,omitempty"`
}

// UnmarshalYAML accepts both declaration forms: a scalar module name and a
// full mapping.
func (d *BuildDependencyDeclaration) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&d.Name)
	case yaml.MappingNode:
		type plain BuildDependencyDeclaration
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*d = BuildDependencyDeclaration(p)
		return nil
	default:
		return fmt.Errorf("build dependency must be a module name or a mapping, got %v", node.Kind)
	}
}

// ServiceDeclaration is one entry of a Module's services list.
type ServiceDeclaration struct {
	Name          string                 `yaml:"name" validate:"required"`
	SourceModule  string                 `yaml:"sourceModule,omitempty"`
	Dependencies  []string               `yaml:"dependencies,omitempty"`
	HotReload     bool                   `yaml:"hotReload,omitempty"`
	Spec          map[string]interface{} `yaml:"spec,omitempty"`
}

// TaskDeclaration is one entry of a Module's tasks list. Timeout is in
// seconds; zero means the task imposes no bound of its own.
type TaskDeclaration struct {
	Name         string                 `yaml:"name" validate:"required"`
	Dependencies []string               `yaml:"dependencies,omitempty"`
	Timeout      int                    `yaml:"timeout,omitempty"`
	Spec         map[string]interface{} `yaml:"spec,omitempty"`
}

// TestDeclaration is one entry of a Module's tests list. Test names are
// unique only within their module; the graph keys them as <module>.<name>.
type TestDeclaration struct {
	Name         string                 `yaml:"name" validate:"required"`
	Dependencies []string               `yaml:"dependencies,omitempty"`
	Spec         map[string]interface{} `yaml:"spec,omitempty"`
}

// ModuleDeclaration is a module's declaration record.
// Type-specific fields are captured in Spec as raw JSON, resolved later by
// whatever provider plugin owns ModuleDeclaration.Type.
type ModuleDeclaration struct {
	Type          string           `yaml:"type" validate:"required"`
	Name          string           `yaml:"name" validate:"required"`
	Description   string           `yaml:"description,omitempty"`
	RepositoryURL string           `yaml:"repositoryUrl,omitempty"`
	AllowPublish  bool             `yaml:"allowPublish,omitempty"`
	Build         BuildDeclaration `yaml:"build,omitempty"`

	Services []ServiceDeclaration `yaml:"services,omitempty"`
	Tasks    []TaskDeclaration    `yaml:"tasks,omitempty"`
	Tests    []TestDeclaration    `yaml:"tests,omitempty"`

	Spec json.RawMessage `yaml:"-"`

	// SourceFile is the path this declaration was read from.
	SourceFile string `yaml:"-"`
}
