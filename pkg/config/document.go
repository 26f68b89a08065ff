package config

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

var structValidator = validator.New()

// knownModuleFields are the Module record's typed fields; everything else
// in the mapping is type-specific and captured verbatim into Spec.
var knownModuleFields = map[string]bool{
	"type": true, "name": true, "description": true, "repositoryUrl": true,
	"allowPublish": true, "build": true, "services": true, "tasks": true,
	"tests": true,
}

// parseDocument decodes a single YAML document (one "---" section) into a
// Project record, zero or more Module records, or both, supporting the
// flat ("kind: Project|Module") and nested ("project:"/"module:" keys)
// styles. A document with keys but no "kind" and no "project"/"module"
// keys is a ConfigError, since a declaration document is expected to
// declare something; a document with no content at all yields nothing.
func parseDocument(raw []byte, sourceFile string) (*ProjectDeclaration, []*ModuleDeclaration, error) {
	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, nil, ferrors.NewConfigError(fmt.Sprintf("malformed YAML in %s", sourceFile), err).WithPath(sourceFile)
	}
	if generic == nil {
		return nil, nil, nil
	}

	if kindRaw, ok := generic["kind"]; ok {
		kind, _ := kindRaw.(string)
		delete(generic, "kind")
		switch DeclarationKind(kind) {
		case KindProject:
			proj, err := decodeProject(generic, sourceFile)
			if err != nil {
				return nil, nil, err
			}
			return proj, nil, nil
		case KindModule:
			mod, err := decodeModule(generic, sourceFile)
			if err != nil {
				return nil, nil, err
			}
			return nil, []*ModuleDeclaration{mod}, nil
		default:
			return nil, nil, ferrors.NewConfigError(fmt.Sprintf("unknown kind %q in %s", kind, sourceFile), nil).WithPath(sourceFile)
		}
	}

	var proj *ProjectDeclaration
	var modules []*ModuleDeclaration

	if projRaw, ok := generic["project"]; ok {
		m, ok := projRaw.(map[string]interface{})
		if !ok {
			return nil, nil, ferrors.NewConfigError(fmt.Sprintf("project in %s must be a mapping", sourceFile), nil).WithPath(sourceFile)
		}
		p, err := decodeProject(m, sourceFile)
		if err != nil {
			return nil, nil, err
		}
		proj = p
	}

	if modRaw, ok := generic["module"]; ok {
		m, ok := modRaw.(map[string]interface{})
		if !ok {
			return nil, nil, ferrors.NewConfigError(fmt.Sprintf("module in %s must be a mapping", sourceFile), nil).WithPath(sourceFile)
		}
		mod, err := decodeModule(m, sourceFile)
		if err != nil {
			return nil, nil, err
		}
		modules = append(modules, mod)
	}

	if proj == nil && len(modules) == 0 {
		return nil, nil, ferrors.NewConfigError(fmt.Sprintf("document in %s declares neither a project nor a module", sourceFile), nil).WithPath(sourceFile)
	}
	return proj, modules, nil
}

func decodeProject(m map[string]interface{}, sourceFile string) (*ProjectDeclaration, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, ferrors.NewConfigError(fmt.Sprintf("re-encoding project in %s", sourceFile), err).WithPath(sourceFile)
	}
	var proj ProjectDeclaration
	if err := yaml.Unmarshal(b, &proj); err != nil {
		return nil, ferrors.NewConfigError(fmt.Sprintf("malformed project declaration in %s", sourceFile), err).WithPath(sourceFile)
	}
	if err := structValidator.Struct(&proj); err != nil {
		return nil, ferrors.NewConfigError(fmt.Sprintf("invalid project declaration in %s", sourceFile), err).WithPath(sourceFile)
	}
	proj.SourceFile = sourceFile
	return &proj, nil
}

func decodeModule(m map[string]interface{}, sourceFile string) (*ModuleDeclaration, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, ferrors.NewConfigError(fmt.Sprintf("re-encoding module in %s", sourceFile), err).WithPath(sourceFile)
	}
	var mod ModuleDeclaration
	if err := yaml.Unmarshal(b, &mod); err != nil {
		return nil, ferrors.NewConfigError(fmt.Sprintf("malformed module declaration in %s", sourceFile), err).WithPath(sourceFile)
	}
	if err := structValidator.Struct(&mod); err != nil {
		return nil, ferrors.NewConfigError(fmt.Sprintf("invalid module declaration in %s", sourceFile), err).WithPath(sourceFile)
	}

	extra := make(map[string]interface{})
	for k, v := range m {
		if !knownModuleFields[k] {
			extra[k] = v
		}
	}
	specJSON, err := json.Marshal(extra)
	if err != nil {
		return nil, ferrors.NewConfigError(fmt.Sprintf("encoding type-specific fields for module %q in %s", mod.Name, sourceFile), err).WithPath(sourceFile)
	}
	mod.Spec = specJSON
	mod.SourceFile = sourceFile
	return &mod, nil
}
