package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/openfroyo/froyocore/pkg/config"
	"github.com/openfroyo/froyocore/pkg/graph"
	"github.com/openfroyo/froyocore/pkg/localstore"
	"github.com/openfroyo/froyocore/pkg/remotesource"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// newProjectLoader builds the loader every command shares: remote sources
// are checked out under <root>/.froyo/sources, and any linked source in the
// project's local config store preempts its checkout.
func newProjectLoader(root string) (*config.Loader, error) {
	store, err := localstore.Open(filepath.Join(root, ".froyo", "local.yaml"))
	if err != nil {
		return nil, err
	}
	sources := remotesource.New(filepath.Join(root, ".froyo", "sources"), log.Logger)
	return config.NewLoader(
		config.WithRemoteSourceProvider(sources),
		config.WithLocalOverrideProvider(store),
	), nil
}

// processEnv snapshots the process environment as a map for the template
// context's local.env layer.
func processEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

func localPlatform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

func newValidateCommand() *cobra.Command {
	var (
		verboseModules bool
		environment    string
	)

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate Project and Module declarations",
		Long: `Validate the full configuration pipeline for the project rooted at path.

This command checks:
  - YAML syntax and struct-tag validity of every froyo.yaml/froyo.yml
  - Exactly one Project declaration across the scanned tree
  - No duplicate Module names
  - .froyoignore patterns are honoured while scanning
  - Every template expression resolves (including cross-module references,
    with circular references rejected)
  - The module/service/task/test graph is complete and acyclic`,
		Example: `  # Validate the project in the current directory
  froyo validate

  # Validate a specific project root against an environment
  froyo validate ./infra --env staging`,
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

			log.Info().Str("path", abs).Msg("Validating configuration")

			loader, err := newProjectLoader(abs)
			if err != nil {
				return err
			}
			result, err := loader.Load(cmd.Context(), abs)
			if err != nil {
				return err
			}

			modules, err := config.Resolve(result, config.ResolveOptions{
				EnvironmentName: environment,
				Platform:        localPlatform(),
				Env:             processEnv(),
			})
			if err != nil {
				return err
			}

			builder := graph.NewBuilder()
			for _, m := range modules {
				if err := builder.AddModule(m); err != nil {
					return err
				}
			}
			if _, err := builder.Build(); err != nil {
				return err
			}

			fmt.Printf("✓ Project %q is valid (%d module declaration(s))\n", result.Project.Name, len(result.Modules))
			if verboseModules {
				for _, m := range result.Modules {
					fmt.Printf("  - %s (%s) from %s\n", m.Name, m.Type, m.SourceFile)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&verboseModules, "verbose-modules", false, "list every discovered module declaration")
	cmd.Flags().StringVar(&environment, "env", "", "environment to resolve variables against (default: the project's defaultEnvironment)")

	return cmd
}
