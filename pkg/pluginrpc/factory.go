package pluginrpc

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyocore/pkg/dispatch"
	"github.com/openfroyo/froyocore/pkg/providerregistry"
)

// Factory adapts a plugin binary at path into a providerregistry.Factory:
// loading the provider starts the subprocess, its HELLO becomes the
// descriptor, and every installed handler forwards its call over the wire.
// This is the "locatable module path" realization of the plugin interface;
// in-process factories and WASM-hosted plugins are the other two.
func Factory(path string, log zerolog.Logger) providerregistry.Factory {
	return func(ctx context.Context, in providerregistry.FactoryInput) (*providerregistry.Descriptor, error) {
		client, err := Start(ctx, path, log, "--project", in.ProjectName)
		if err != nil {
			return nil, err
		}
		return descriptorFor(client), nil
	}
}

func descriptorFor(client *Client) *providerregistry.Descriptor {
	hello := client.Hello()

	d := &providerregistry.Descriptor{
		Version:      hello.PluginVersion,
		ConfigSchema: hello.ConfigSchema,
		DependsOn:    hello.Dependencies,
	}

	if len(hello.Actions) > 0 {
		d.Actions = make(map[dispatch.ActionType]providerregistry.ActionSpec, len(hello.Actions))
		for _, action := range hello.Actions {
			d.Actions[dispatch.ActionType(action)] = providerregistry.ActionSpec{
				Handler: forwardingHandler(client, action, ""),
			}
		}
	}

	if len(hello.ModuleActions) > 0 {
		d.ModuleActions = make(map[string]map[dispatch.ActionType]providerregistry.ActionSpec, len(hello.ModuleActions))
		for moduleType, actions := range hello.ModuleActions {
			specs := make(map[dispatch.ActionType]providerregistry.ActionSpec, len(actions))
			for _, action := range actions {
				specs[dispatch.ActionType(action)] = providerregistry.ActionSpec{
					Handler: forwardingHandler(client, action, moduleType),
				}
			}
			d.ModuleActions[moduleType] = specs
		}
	}

	return d
}

func forwardingHandler(client *Client, action, moduleType string) dispatch.Handler {
	return func(ctx context.Context, pc *dispatch.PluginContext, params json.RawMessage) (json.RawMessage, error) {
		return client.Invoke(ctx, action, moduleType, params)
	}
}
