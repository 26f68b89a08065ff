package config

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/froyocore/pkg/ferrors"
)

func loadAndResolve(t *testing.T, root string, opts ResolveOptions) ([]*modelModule, error) {
	t.Helper()
	res, err := NewLoader().Load(context.Background(), root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	mods, err := Resolve(res, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*modelModule, len(mods))
	for i, m := range mods {
		out[i] = &modelModule{name: m.Name, spec: m.Spec, services: len(m.Services), tasks: len(m.Tasks)}
		for _, s := range m.Services {
			out[i].serviceDeps = append(out[i].serviceDeps, s.DependsOnServices...)
			out[i].taskDeps = append(out[i].taskDeps, s.DependsOnTasks...)
		}
	}
	return out, nil
}

// modelModule is a flattened view for assertions, keeping the tests
// independent of the full model.Module shape.
type modelModule struct {
	name        string
	spec        json.RawMessage
	services    int
	tasks       int
	serviceDeps []string
	taskDeps    []string
}

func TestResolve_TemplateExpressionsInSpec(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "froyo.yaml"), `
kind: Project
name: demo
defaultEnvironment: dev
environmentDefaults:
  registry: registry.local
environments:
  - name: dev
    variables:
      replicas: 2
`)
	writeFile(t, filepath.Join(root, "api", "froyo.yaml"), `
kind: Module
type: container
name: api
image: ${variables.registry}/api
replicas: ${variables.replicas}
env: ${environment.name}
`)

	mods, err := loadAndResolve(t, root, ResolveOptions{Platform: "linux/amd64"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var spec map[string]interface{}
	if err := json.Unmarshal(mods[0].spec, &spec); err != nil {
		t.Fatalf("decode spec: %v", err)
	}
	if spec["image"] != "registry.local/api" {
		t.Errorf("image = %v", spec["image"])
	}
	// A single-expression template keeps its native type.
	if spec["replicas"] != float64(2) && spec["replicas"] != 2 {
		t.Errorf("replicas = %v (%T)", spec["replicas"], spec["replicas"])
	}
	if spec["env"] != "dev" {
		t.Errorf("env = %v", spec["env"])
	}
}

func TestResolve_CrossModulePathReference(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "froyo.yaml"), "kind: Project\nname: demo\n")
	writeFile(t, filepath.Join(root, "lib", "froyo.yaml"), "kind: Module\ntype: lib\nname: lib\n")
	writeFile(t, filepath.Join(root, "app", "froyo.yaml"), `
kind: Module
type: container
name: app
libPath: ${modules.lib.path}
`)

	mods, err := loadAndResolve(t, root, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, m := range mods {
		if m.name != "app" {
			continue
		}
		var spec map[string]interface{}
		if err := json.Unmarshal(m.spec, &spec); err != nil {
			t.Fatalf("decode spec: %v", err)
		}
		if spec["libPath"] != filepath.Join(root, "lib") {
			t.Errorf("libPath = %v", spec["libPath"])
		}
	}
}

func TestResolve_CircularCrossModuleReference(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "froyo.yaml"), "kind: Project\nname: demo\n")
	writeFile(t, filepath.Join(root, "a", "froyo.yaml"), `
kind: Module
type: exec
name: moduleA
build:
  command: echo
outputs:
  cmd: ${modules.moduleB.outputs.cmd}
`)
	writeFile(t, filepath.Join(root, "b", "froyo.yaml"), `
kind: Module
type: exec
name: moduleB
build:
  command: echo
outputs:
  cmd: ${modules.moduleA.outputs.cmd}
`)

	_, err := loadAndResolve(t, root, ResolveOptions{})
	if err == nil {
		t.Fatal("expected circular reference error")
	}
	if !ferrors.IsTemplateError(err) {
		t.Fatalf("expected TemplateError, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "modules.moduleA") || !strings.Contains(msg, "modules.moduleB") {
		t.Errorf("cycle message should name both modules: %s", msg)
	}
}

func TestResolve_DependencyDisambiguation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "froyo.yaml"), "kind: Project\nname: demo\n")
	writeFile(t, filepath.Join(root, "app", "froyo.yaml"), `
kind: Module
type: container
name: app
services:
  - name: web
    dependencies: [db, migrate]
tasks:
  - name: migrate
`)
	writeFile(t, filepath.Join(root, "db", "froyo.yaml"), `
kind: Module
type: container
name: db
services:
  - name: db
`)

	mods, err := loadAndResolve(t, root, ResolveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, m := range mods {
		if m.name != "app" {
			continue
		}
		if len(m.serviceDeps) != 1 || m.serviceDeps[0] != "db" {
			t.Errorf("service deps = %v", m.serviceDeps)
		}
		if len(m.taskDeps) != 1 || m.taskDeps[0] != "migrate" {
			t.Errorf("task deps = %v", m.taskDeps)
		}
	}
}

func TestResolve_UnknownEnvironment(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "froyo.yaml"), "kind: Project\nname: demo\nenvironments:\n  - name: dev\n")

	res, err := NewLoader().Load(context.Background(), root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = Resolve(res, ResolveOptions{EnvironmentName: "staging"})
	if !ferrors.IsParameterError(err) {
		t.Fatalf("expected ParameterError, got %v", err)
	}
}

func TestResolve_LocalEnvReference(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "froyo.yaml"), "kind: Project\nname: demo\n")
	writeFile(t, filepath.Join(root, "m", "froyo.yaml"), `
kind: Module
type: exec
name: m
home: ${local.env.FROYO_TEST_HOME}
`)

	mods, err := loadAndResolve(t, root, ResolveOptions{Env: map[string]string{"FROYO_TEST_HOME": "/home/tester"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var spec map[string]interface{}
	if err := json.Unmarshal(mods[0].spec, &spec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if spec["home"] != "/home/tester" {
		t.Errorf("home = %v", spec["home"])
	}
}
