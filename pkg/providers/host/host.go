package host

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/froyocore/pkg/dispatch"
	"github.com/openfroyo/froyocore/pkg/providerregistry"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASMHostProvider hosts a single bundled WASM module instance and exposes
// its manifest-declared actions as a providerregistry.Descriptor. The
// provider contract is the open-ended (action, moduleType) pair from
// pkg/dispatch, so the bundled module's exports are looked up by name per
// manifest-declared action rather than fixed at compile time. Each action
// invocation first checks the action's declared capability set against the
// manifest grant through the provider's Sandbox.
type WASMHostProvider struct {
	manifest *Manifest
	runtime  wazero.Runtime
	module   api.Module
	bridge   *WASMBridge
	sandbox  *Sandbox

	initialized bool
	timeout     time.Duration
}

// WASMHostConfig contains configuration for the WASM host.
type WASMHostConfig struct {
	// Timeout is the default timeout for WASM operations.
	Timeout time.Duration

	// MemoryLimitPages is the maximum memory limit in pages (64KB each).
	// Default is 256 pages (16MB).
	MemoryLimitPages uint32

	// ScratchDir roots the per-provider fs:temp scratch area.
	ScratchDir string

	// WorkDir roots fs:read and fs:write for this provider.
	WorkDir string

	// EnvPassthrough lists environment variable names (or "PREFIX*"
	// patterns) snapshotted into the sandbox for env:read.
	EnvPassthrough []string

	// ExecToolPath is the host executable handed to plugins holding the
	// exec:host capability.
	ExecToolPath string
}

// NewWASMHostProvider creates a new WASM host provider from a manifest and WASM module.
func NewWASMHostProvider(ctx context.Context, manifest *Manifest, wasmModule []byte, hostConfig *WASMHostConfig) (*WASMHostProvider, error) {
	cfg := WASMHostConfig{}
	if hostConfig != nil {
		cfg = *hostConfig
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256
	}
	scratchDir := cfg.ScratchDir
	if scratchDir == "" {
		scratchDir = filepath.Join(os.TempDir(), "froyo-provider-"+manifest.Raw.Metadata.Name)
	}

	granted := append([]Capability(nil), manifest.Raw.Metadata.RequiredCapabilities...)
	sandbox := NewSandbox(SandboxConfig{
		Capabilities:   granted,
		ScratchDir:     scratchDir,
		WorkDir:        cfg.WorkDir,
		EnvPassthrough: cfg.EnvPassthrough,
		ExecTool:       cfg.ExecToolPath,
		HTTPTimeout:    cfg.Timeout,
	})

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	builder := runtime.NewHostModuleBuilder("env")
	if err := registerHostFunctions(builder, sandbox); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	module, err := runtime.Instantiate(ctx, wasmModule)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	bridge, err := NewWASMBridge(module, cfg.Timeout)
	if err != nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to create WASM bridge: %w", err)
	}

	provider := &WASMHostProvider{
		manifest: manifest,
		runtime:  runtime,
		module:   module,
		bridge:   bridge,
		sandbox:  sandbox,
		timeout:  cfg.Timeout,
	}

	return provider, nil
}

// registerHostFunctions registers the capability-gated host functions a
// bundled module may import: outbound HTTP, scratch-file IO, environment
// reads from the allowlist snapshot, and secret opening.
func registerHostFunctions(builder wazero.HostModuleBuilder, sandbox *Sandbox) error {
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, urlPtr, urlLen, methodPtr, methodLen uint32) uint64 {
			urlBytes, ok := mod.Memory().Read(urlPtr, urlLen)
			if !ok {
				return packError("failed to read URL from memory")
			}
			methodBytes, ok := mod.Memory().Read(methodPtr, methodLen)
			if !ok {
				return packError("failed to read method from memory")
			}

			resp, err := sandbox.HTTPRequest(ctx, string(methodBytes), string(urlBytes), nil)
			if err != nil {
				return packError(err.Error())
			}
			defer resp.Body.Close()

			return uint64(resp.StatusCode)
		}).
		Export("http_request")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, dataPtr, dataLen uint32) uint32 {
			nameBytes, ok := mod.Memory().Read(namePtr, nameLen)
			if !ok {
				return 1
			}
			dataBytes, ok := mod.Memory().Read(dataPtr, dataLen)
			if !ok {
				return 1
			}

			if err := sandbox.WriteScratch(string(nameBytes), dataBytes); err != nil {
				return 1
			}
			return 0
		}).
		Export("write_scratch_file")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen uint32) uint64 {
			nameBytes, ok := mod.Memory().Read(namePtr, nameLen)
			if !ok {
				return packError("failed to read name from memory")
			}

			data, err := sandbox.ReadScratch(string(nameBytes))
			if err != nil {
				return packError(err.Error())
			}

			return uint64(len(data))
		}).
		Export("read_scratch_file")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) uint64 {
			keyBytes, ok := mod.Memory().Read(keyPtr, keyLen)
			if !ok {
				return packError("failed to read key from memory")
			}

			value, found, err := sandbox.Env(string(keyBytes))
			if err != nil {
				return packError(err.Error())
			}
			if !found {
				return 0
			}
			return uint64(len(value))
		}).
		Export("read_env")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, sealedPtr, sealedLen uint32) uint64 {
			sealedBytes, ok := mod.Memory().Read(sealedPtr, sealedLen)
			if !ok {
				return packError("failed to read sealed secret from memory")
			}

			opened, err := sandbox.OpenSecret(string(sealedBytes))
			if err != nil {
				return packError(err.Error())
			}

			return uint64(len(opened))
		}).
		Export("open_secret")

	return nil
}

// packError packs an error message into a uint64 return value.
// Format: error_code (upper 32 bits) | length (lower 32 bits)
// error_code = 1 for errors, 0 for success
func packError(msg string) uint64 {
	errorCode := uint64(1) << 32
	return errorCode | uint64(len(msg))
}

// Init checks every declared action's capability set against the manifest
// grant up front, then marks the provider ready for dispatch. A manifest
// whose actions ask for more than its metadata grants is rejected before
// any handler is installed.
func (p *WASMHostProvider) Init(ctx context.Context) error {
	if p.initialized {
		return fmt.Errorf("provider already initialized")
	}
	for name, schema := range p.manifest.Schemas {
		if err := p.sandbox.Check(schema.Capabilities); err != nil {
			return fmt.Errorf("action %q: %w", name, err)
		}
	}
	p.initialized = true
	return nil
}

// Descriptor builds a providerregistry.Descriptor exposing this module's
// manifest-declared actions as dispatch handlers, each forwarding its raw
// JSON params to the matching WASM export through the bridge.
func (p *WASMHostProvider) Descriptor() *providerregistry.Descriptor {
	d := &providerregistry.Descriptor{
		Actions:       make(map[dispatch.ActionType]providerregistry.ActionSpec),
		ModuleActions: make(map[string]map[dispatch.ActionType]providerregistry.ActionSpec),
		ConfigSchema:  p.manifest.Raw.ConfigSchema,
		DependsOn:     p.manifest.Raw.DependsOn,
	}

	for name, schema := range p.manifest.Schemas {
		spec := providerregistry.ActionSpec{
			Handler:      p.actionHandler(schema),
			InputSchema:  schema.ConfigSchema,
			OutputSchema: schema.StateSchema,
		}
		if schema.ModuleType == "" {
			d.Actions[dispatch.ActionType(name)] = spec
			continue
		}
		if d.ModuleActions[schema.ModuleType] == nil {
			d.ModuleActions[schema.ModuleType] = make(map[dispatch.ActionType]providerregistry.ActionSpec)
		}
		d.ModuleActions[schema.ModuleType][dispatch.ActionType(name)] = spec
	}

	return d
}

// actionHandler wraps a single manifest-declared action as a
// dispatch.Handler, re-checking its capability set on every invocation.
func (p *WASMHostProvider) actionHandler(schema *ActionSchemas) dispatch.Handler {
	return func(ctx context.Context, pc *dispatch.PluginContext, params json.RawMessage) (json.RawMessage, error) {
		if !p.initialized {
			return nil, fmt.Errorf("provider not initialized")
		}
		if err := p.sandbox.Check(schema.Capabilities); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.bridge.Invoke(ctx, schema.Export, params)
	}
}

// Close closes the provider and releases resources, including the
// sandbox's scratch directory.
func (p *WASMHostProvider) Close(ctx context.Context) error {
	_ = p.sandbox.Close()

	if p.module != nil {
		if err := p.module.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM module: %w", err)
		}
	}

	if p.runtime != nil {
		if err := p.runtime.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM runtime: %w", err)
		}
	}

	return nil
}

// GetManifest returns the provider manifest.
func (p *WASMHostProvider) GetManifest() *Manifest {
	return p.manifest
}

// GetCapabilities returns every capability the manifest declares, at
// metadata level and per action.
func (p *WASMHostProvider) GetCapabilities() []string {
	return p.manifest.GetCapabilities()
}

// IsInitialized returns true if the provider has been initialized.
func (p *WASMHostProvider) IsInitialized() bool {
	return p.initialized
}
