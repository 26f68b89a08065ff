package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/openfroyo/froyocore/pkg/config"
	"github.com/openfroyo/froyocore/pkg/dispatch"
	"github.com/openfroyo/froyocore/pkg/providerregistry"
	"github.com/openfroyo/froyocore/pkg/providers/host"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var (
		moduleName    string
		paramsJSON    string
		providersDir  string
	)

	cmd := &cobra.Command{
		Use:   "run <action>",
		Short: "Dispatch a single action through the loaded providers",
		Long: `Load every provider manifest found under --providers-dir, install their
declared actions into the dispatcher, and invoke action once against the
module named by --module (or as a plugin-level action, if --module is
omitted).

This exercises the same ActionDispatcher path "froyo apply" uses for
builds, but for a single ad-hoc action and without a scheduler.`,
		Example: `  # Run a plugin-level action with no module scoping
  froyo run getEnvironmentStatus --providers-dir ./providers

  # Run a module-scoped action with JSON params
  froyo run configure --module web --providers-dir ./providers --params '{"replicas":3}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]

			log.Info().Str("action", action).Str("module", moduleName).Msg("dispatching action")

			d := dispatch.New()
			pr := providerregistry.New(d)

			var moduleType string
			if moduleName != "" {
				abs, err := filepath.Abs(".")
				if err != nil {
					return err
				}
				loader := config.NewLoader()
				result, err := loader.Load(cmd.Context(), abs)
				if err != nil {
					return err
				}
				for _, m := range result.Modules {
					if m.Name == moduleName {
						moduleType = m.Type
						break
					}
				}
				if moduleType == "" {
					return fmt.Errorf("module %q not found", moduleName)
				}
			}

			if providersDir != "" {
				hostRegistry := host.NewRegistry(providersDir, nil)
				if err := hostRegistry.ScanDirectory(cmd.Context(), providersDir); err != nil {
					return fmt.Errorf("scanning providers: %w", err)
				}
				metas, err := hostRegistry.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, meta := range metas {
					pr.RegisterFactory(meta.Name, hostRegistry.Factory(meta.Name, meta.Version))
					if err := pr.Load(cmd.Context(), meta.Name, "froyo", nil); err != nil {
						return fmt.Errorf("loading provider %s: %w", meta.Name, err)
					}
				}
			}

			params := json.RawMessage(paramsJSON)
			if len(params) == 0 {
				params = json.RawMessage("{}")
			}

			out, err := d.Dispatch(cmd.Context(), dispatch.ActionType(action), moduleType, "", params, nil)
			if err != nil {
				return err
			}

			if len(out) > 0 {
				var pretty interface{}
				if err := json.Unmarshal(out, &pretty); err == nil {
					encoded, _ := json.MarshalIndent(pretty, "", "  ")
					fmt.Println(string(encoded))
					return nil
				}
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&moduleName, "module", "", "module to scope the action to (omit for a plugin-level action)")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "JSON action parameters")
	cmd.Flags().StringVar(&providersDir, "providers-dir", "", "directory of provider manifests to load before dispatching")

	return cmd
}
