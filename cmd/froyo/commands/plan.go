package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openfroyo/froyocore/pkg/config"
	"github.com/openfroyo/froyocore/pkg/graph"
	"github.com/openfroyo/froyocore/pkg/model"
	"github.com/openfroyo/froyocore/pkg/version"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// planEntry is one build-node row in a persisted plan.
type planEntry struct {
	Module       string   `json:"module"`
	Type         string   `json:"type"`
	Version      string   `json:"version"`
	Dirty        bool     `json:"dirty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// planDocument is the JSON shape written to --out.
type planDocument struct {
	Project string      `json:"project"`
	Entries []planEntry `json:"entries"`
}

func newPlanCommand() *cobra.Command {
	var (
		outFile string
		dotFile string
		targets []string
	)

	cmd := &cobra.Command{
		Use:   "plan [path]",
		Short: "Generate an execution plan",
		Long: `Generate an execution plan by loading Project/Module declarations, building
the build-dependency graph, and resolving each module's deterministic
version.

The plan:
  - Loads declarations via the config loader
  - Builds the build↔build dependency graph, rejecting cycles
  - Resolves each module's version from its tree digest and dependency chain
  - Persists a summary to --out (JSON) and optionally a DOT graph to --dot`,
		Example: `  # Generate plan and save to file
  froyo plan --out plan.json

  # Generate plan with execution graph visualization
  froyo plan --out plan.json --dot plan.dot

  # Plan for specific modules only
  froyo plan --out plan.json --target web --target api`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", path, err)
			}

			log.Info().Str("path", abs).Str("out", outFile).Strs("targets", targets).Msg("generating plan")

			loader, err := newProjectLoader(abs)
			if err != nil {
				return err
			}
			result, err := loader.Load(cmd.Context(), abs)
			if err != nil {
				return err
			}

			resolved, err := config.Resolve(result, config.ResolveOptions{
				Platform: localPlatform(),
				Env:      processEnv(),
			})
			if err != nil {
				return err
			}

			modules := make(map[string]*model.Module, len(resolved))
			builder := graph.NewBuilder()
			for _, m := range resolved {
				modules[m.Name] = m
				if err := builder.AddModule(m); err != nil {
					return err
				}
			}

			g, err := builder.Build()
			if err != nil {
				return err
			}

			lookup := func(name string) (*model.Module, bool) { m, ok := modules[name]; return m, ok }
			resolver := version.NewResolver(version.NewFSTreeHasher(), lookup)

			names := make([]string, 0, len(modules))
			for name := range modules {
				names = append(names, name)
			}
			sort.Strings(names)
			if len(targets) > 0 {
				names = targets
			}

			doc := planDocument{Project: result.Project.Name}
			for _, name := range names {
				m, ok := modules[name]
				if !ok {
					return fmt.Errorf("unknown target module %q", name)
				}
				mv, err := resolver.Resolve(name)
				if err != nil {
					return err
				}
				deps := make([]string, 0, len(m.BuildDependencies))
				for _, d := range m.BuildDependencies {
					deps = append(deps, d.ModuleName)
				}
				doc.Entries = append(doc.Entries, planEntry{
					Module:       name,
					Type:         m.Type,
					Version:      mv.VersionString,
					Dirty:        mv.DirtyTimestamp != nil,
					Dependencies: deps,
				})
			}

			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding plan: %w", err)
			}
			if err := os.WriteFile(outFile, out, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outFile, err)
			}
			fmt.Printf("✓ Wrote plan: %s (%d module(s))\n", outFile, len(doc.Entries))

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(renderDOT(g, names)), 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", dotFile, err)
				}
				fmt.Printf("✓ Wrote graph: %s\n", dotFile)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "plan.json", "output plan file path")
	cmd.Flags().StringVar(&dotFile, "dot", "", "output DOT graph file (optional)")
	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "limit plan to specific modules")

	return cmd
}

// renderDOT emits a DOT graph of the build-dependency edges among names.
func renderDOT(g *graph.Graph, names []string) string {
	var b strings.Builder
	b.WriteString("digraph plan {\n")
	for _, name := range names {
		deps, err := g.GetDependencies(model.NodeBuild, name, false, graph.RelationFilter{model.RelationBuild: true})
		if err != nil {
			continue
		}
		for _, d := range deps {
			fmt.Fprintf(&b, "  %q -> %q;\n", name, d.Key)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
