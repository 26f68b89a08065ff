// Package graph builds the in-memory, immutable-after-construction
// ConfigGraph: a typed dependency graph over a project's modules, services,
// tasks, and tests. Nodes come in four kinds (build/service/task/test)
// and edges carry one of four relation kinds. Edges are stored as
// name-keyed adjacency indices rather than direct pointers, so the
// Module/Service/Task records never form reference cycles.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/froyocore/pkg/ferrors"
	"github.com/openfroyo/froyocore/pkg/model"
)

// NodeID uniquely identifies a graph node: "<kind>:<key>", where key is a
// module name for build nodes, a service/task name, or "<module>.<name>"
// for test nodes.
type NodeID struct {
	Kind model.NodeKind
	Key  string
}

func (n NodeID) String() string { return string(n.Kind) + ":" + n.Key }

// edge carries the relation kind alongside the target, so dependency and
// dependant walks can filter by relation.
type edge struct {
	to   NodeID
	rel  model.RelationKind
}

// Graph is the immutable, constructed ConfigGraph.
type Graph struct {
	nodes     map[NodeID]struct{}
	deps      map[NodeID][]edge // outgoing: node -> nodes it depends on
	dependants map[NodeID][]edge // incoming: node -> nodes that depend on it
	nodeModule map[NodeID]string // which module a node belongs to, for modulesForRelations
}

// Builder accumulates Modules and constructs the Graph.
type Builder struct {
	modules map[string]*model.Module
	// global name registries to detect service∩task collisions and
	// cross-module name collisions.
	serviceOwner map[string]string
	taskOwner    map[string]string
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		modules:      make(map[string]*model.Module),
		serviceOwner: make(map[string]string),
		taskOwner:    make(map[string]string),
	}
}

// AddModule registers a module (and its declared services/tasks/tests) with
// the builder. Call Build after adding every module in the project.
func (b *Builder) AddModule(m *model.Module) error {
	if _, exists := b.modules[m.Name]; exists {
		return ferrors.NewConfigError("duplicate module name", nil).WithResource(m.Name)
	}
	b.modules[m.Name] = m

	for _, svc := range m.Services {
		if owner, exists := b.serviceOwner[svc.Name]; exists {
			return ferrors.NewConfigError("duplicate service name", nil).
				WithResource(svc.Name).WithDetail("firstOwner", owner).WithDetail("secondOwner", m.Name)
		}
		if owner, exists := b.taskOwner[svc.Name]; exists {
			return ferrors.NewConfigError("service name collides with a task name", nil).
				WithResource(svc.Name).WithDetail("taskOwner", owner)
		}
		b.serviceOwner[svc.Name] = m.Name
	}
	for _, task := range m.Tasks {
		if owner, exists := b.taskOwner[task.Name]; exists {
			return ferrors.NewConfigError("duplicate task name", nil).
				WithResource(task.Name).WithDetail("firstOwner", owner).WithDetail("secondOwner", m.Name)
		}
		if owner, exists := b.serviceOwner[task.Name]; exists {
			return ferrors.NewConfigError("task name collides with a service name", nil).
				WithResource(task.Name).WithDetail("serviceOwner", owner)
		}
		b.taskOwner[task.Name] = m.Name
	}

	return nil
}

// Build constructs the ConfigGraph, validating that every referenced
// dependency resolves to a known node and that the graph is acyclic.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{
		nodes:      make(map[NodeID]struct{}),
		deps:       make(map[NodeID][]edge),
		dependants: make(map[NodeID][]edge),
		nodeModule: make(map[NodeID]string),
	}

	buildID := func(module string) NodeID { return NodeID{Kind: model.NodeBuild, Key: module} }

	for name := range b.modules {
		id := buildID(name)
		g.addNode(id, name)
	}
	for _, m := range b.modules {
		for _, svc := range m.Services {
			g.addNode(NodeID{Kind: model.NodeService, Key: svc.Name}, m.Name)
		}
		for _, task := range m.Tasks {
			g.addNode(NodeID{Kind: model.NodeTask, Key: task.Name}, m.Name)
		}
		for _, test := range m.Tests {
			g.addNode(NodeID{Kind: model.NodeTest, Key: test.Key()}, m.Name)
		}
	}

	// build↔build edges per declared build dependencies.
	for _, m := range b.modules {
		from := buildID(m.Name)
		for _, dep := range m.BuildDependencies {
			to := buildID(dep.ModuleName)
			if _, ok := g.nodes[to]; !ok {
				return nil, ferrors.NewConfigError("unknown build dependency", nil).
					WithResource(m.Name).WithPath(dep.ModuleName)
			}
			g.addEdge(from, to, model.RelationBuild)
		}
	}

	resolveServiceOrTask := func(name string) (NodeID, bool) {
		if _, ok := b.serviceOwner[name]; ok {
			return NodeID{Kind: model.NodeService, Key: name}, true
		}
		if _, ok := b.taskOwner[name]; ok {
			return NodeID{Kind: model.NodeTask, Key: name}, true
		}
		return NodeID{}, false
	}

	addDeps := func(from NodeID, owner string, services, tasks []string) error {
		// every service/task/test node depends on its module's build node.
		g.addEdge(from, buildID(owner), model.RelationBuild)
		for _, name := range services {
			to, ok := resolveServiceOrTask(name)
			if !ok {
				return ferrors.NewConfigError("unknown service dependency", nil).
					WithResource(string(from.Kind)+":"+from.Key).WithPath(name)
			}
			g.addEdge(from, to, model.RelationService)
		}
		for _, name := range tasks {
			to, ok := resolveServiceOrTask(name)
			if !ok {
				return ferrors.NewConfigError("unknown task dependency", nil).
					WithResource(string(from.Kind)+":"+from.Key).WithPath(name)
			}
			g.addEdge(from, to, model.RelationTask)
		}
		return nil
	}

	for _, m := range b.modules {
		for _, svc := range m.Services {
			if err := addDeps(NodeID{Kind: model.NodeService, Key: svc.Name}, m.Name, svc.DependsOnServices, svc.DependsOnTasks); err != nil {
				return nil, err
			}
		}
		for _, task := range m.Tasks {
			if err := addDeps(NodeID{Kind: model.NodeTask, Key: task.Name}, m.Name, task.DependsOnServices, task.DependsOnTasks); err != nil {
				return nil, err
			}
		}
		for _, test := range m.Tests {
			if err := addDeps(NodeID{Kind: model.NodeTest, Key: test.Key()}, m.Name, test.DependsOnServices, test.DependsOnTasks); err != nil {
				return nil, err
			}
		}
	}

	if cycle, ok := g.detectCycle(); !ok {
		return nil, ferrors.NewConfigError("circular dependency in config graph", nil).
			WithDetail("cycle", formatCycle(cycle))
	}

	return g, nil
}

func (g *Graph) addNode(id NodeID, module string) {
	g.nodes[id] = struct{}{}
	g.nodeModule[id] = module
	if g.deps[id] == nil {
		g.deps[id] = nil
	}
}

func (g *Graph) addEdge(from, to NodeID, rel model.RelationKind) {
	g.deps[from] = append(g.deps[from], edge{to: to, rel: rel})
	g.dependants[to] = append(g.dependants[to], edge{to: from, rel: rel})
}

// detectCycle runs DFS coloring over the dependency edges; ok is false if a
// cycle was found, in which case cycle names the offending path.
func (g *Graph) detectCycle() (cycle []NodeID, ok bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeID]int, len(g.nodes))
	var path []NodeID
	var dfs func(NodeID) []NodeID
	dfs = func(n NodeID) []NodeID {
		color[n] = gray
		path = append(path, n)
		for _, e := range g.deps[n] {
			switch color[e.to] {
			case white:
				if cyc := dfs(e.to); cyc != nil {
					return cyc
				}
			case gray:
				start := -1
				for i, p := range path {
					if p == e.to {
						start = i
						break
					}
				}
				return append(append([]NodeID{}, path[start:]...), e.to)
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return nil
	}

	ids := g.sortedNodeIDs()
	for _, id := range ids {
		if color[id] == white {
			if cyc := dfs(id); cyc != nil {
				return cyc, false
			}
		}
	}
	return nil, true
}

func (g *Graph) sortedNodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Kind != ids[j].Kind {
			return ids[i].Kind < ids[j].Kind
		}
		return ids[i].Key < ids[j].Key
	})
	return ids
}

func formatCycle(cycle []NodeID) string {
	parts := make([]string, len(cycle))
	for i, n := range cycle {
		parts[i] = n.String()
	}
	return strings.Join(parts, " -> ")
}

// RelationFilter optionally restricts a dependency/dependant walk to a set
// of relation kinds; nil means "all relations".
type RelationFilter map[model.RelationKind]bool

func (f RelationFilter) allows(rel model.RelationKind) bool {
	if f == nil {
		return true
	}
	return f[rel]
}

// GetDependencies returns the nodes that (kind, name) depends on. When
// recursive is true, the transitive closure is returned.
func (g *Graph) GetDependencies(kind model.NodeKind, name string, recursive bool, filter RelationFilter) ([]NodeID, error) {
	id := NodeID{Kind: kind, Key: name}
	if _, ok := g.nodes[id]; !ok {
		return nil, ferrors.NewParameterError("unknown graph node", nil).WithResource(id.String())
	}
	return g.walk(id, g.deps, recursive, filter), nil
}

// GetDependants returns the nodes that depend on (kind, name), symmetric to
// GetDependencies.
func (g *Graph) GetDependants(kind model.NodeKind, name string, recursive bool, filter RelationFilter) ([]NodeID, error) {
	id := NodeID{Kind: kind, Key: name}
	if _, ok := g.nodes[id]; !ok {
		return nil, ferrors.NewParameterError("unknown graph node", nil).WithResource(id.String())
	}
	return g.walk(id, g.dependants, recursive, filter), nil
}

func (g *Graph) walk(start NodeID, edges map[NodeID][]edge, recursive bool, filter RelationFilter) []NodeID {
	seen := map[NodeID]bool{}
	var result []NodeID
	var visit func(NodeID)
	visit = func(n NodeID) {
		for _, e := range edges[n] {
			if !filter.allows(e.rel) {
				continue
			}
			if seen[e.to] {
				continue
			}
			seen[e.to] = true
			result = append(result, e.to)
			if recursive {
				visit(e.to)
			}
		}
	}
	visit(start)
	return result
}

// GetDependenciesForMany unions GetDependencies over several starting nodes.
func (g *Graph) GetDependenciesForMany(ids []NodeID, recursive bool, filter RelationFilter) ([]NodeID, error) {
	return g.manyWalk(ids, g.deps, recursive, filter)
}

// GetDependantsForMany unions GetDependants over several starting nodes.
func (g *Graph) GetDependantsForMany(ids []NodeID, recursive bool, filter RelationFilter) ([]NodeID, error) {
	return g.manyWalk(ids, g.dependants, recursive, filter)
}

func (g *Graph) manyWalk(ids []NodeID, edges map[NodeID][]edge, recursive bool, filter RelationFilter) ([]NodeID, error) {
	seen := map[NodeID]bool{}
	var result []NodeID
	for _, id := range ids {
		if _, ok := g.nodes[id]; !ok {
			return nil, ferrors.NewParameterError("unknown graph node", nil).WithResource(id.String())
		}
		for _, n := range g.walk(id, edges, recursive, filter) {
			if !seen[n] {
				seen[n] = true
				result = append(result, n)
			}
		}
	}
	return result, nil
}

// ModulesForRelations returns the unique set of module names touched by any
// node participating in one of the given relation kinds, either as source
// or target of an edge.
func (g *Graph) ModulesForRelations(rels ...model.RelationKind) []string {
	want := make(map[model.RelationKind]bool, len(rels))
	for _, r := range rels {
		want[r] = true
	}
	seen := map[string]bool{}
	var modules []string
	for from, edges := range g.deps {
		for _, e := range edges {
			if !want[e.rel] {
				continue
			}
			for _, n := range []NodeID{from, e.to} {
				if m := g.nodeModule[n]; m != "" && !seen[m] {
					seen[m] = true
					modules = append(modules, m)
				}
			}
		}
	}
	sort.Strings(modules)
	return modules
}

// WithDependantModules returns modules ∪ transitive-dependant-modules: for
// every build node of a given module, every module whose build/service/
// task/test nodes transitively depend on it. Used for watch-mode fan-out.
func (g *Graph) WithDependantModules(modules []string) []string {
	seen := map[string]bool{}
	for _, m := range modules {
		seen[m] = true
	}
	for _, m := range modules {
		buildNode := NodeID{Kind: model.NodeBuild, Key: m}
		if _, ok := g.nodes[buildNode]; !ok {
			continue
		}
		for _, dep := range g.walk(buildNode, g.dependants, true, nil) {
			if mod := g.nodeModule[dep]; mod != "" {
				seen[mod] = true
			}
		}
	}
	result := make([]string, 0, len(seen))
	for m := range seen {
		result = append(result, m)
	}
	sort.Strings(result)
	return result
}

// Nodes returns every node currently in the graph, sorted for deterministic
// iteration in tests and diagnostics.
func (g *Graph) Nodes() []NodeID { return g.sortedNodeIDs() }

// Contains reports whether (kind, name) is a known node.
func (g *Graph) Contains(kind model.NodeKind, name string) bool {
	_, ok := g.nodes[NodeID{Kind: kind, Key: name}]
	return ok
}

// GoString renders a NodeID for %#v formatting in error messages and logs.
func (n NodeID) GoString() string { return fmt.Sprintf("NodeID{%s, %s}", n.Kind, n.Key) }
