package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/openfroyo/froyocore/pkg/providerregistry"
)

// Registry tracks bundled WASM provider manifests and the WASM module bytes
// backing them, keyed by "name@version", and lazily instantiates a
// WASMHostProvider on first Get.
type Registry struct {
	mu sync.RWMutex

	providers   map[string]*WASMHostProvider
	manifests   map[string]*Manifest
	wasmModules map[string][]byte

	loader     *ManifestLoader
	hostConfig *WASMHostConfig

	allowedCapabilities map[string]bool
}

// NewRegistry creates a new provider registry.
func NewRegistry(baseDir string, hostConfig *WASMHostConfig) *Registry {
	if hostConfig == nil {
		hostConfig = &WASMHostConfig{
			Timeout:          30 * time.Second,
			MemoryLimitPages: 256,
		}
	}

	return &Registry{
		providers:           make(map[string]*WASMHostProvider),
		manifests:           make(map[string]*Manifest),
		wasmModules:         make(map[string][]byte),
		loader:              NewManifestLoader(baseDir),
		hostConfig:          hostConfig,
		allowedCapabilities: make(map[string]bool),
	}
}

// SetAllowedCapabilities sets the capabilities allowed in this registry.
func (r *Registry) SetAllowedCapabilities(capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.allowedCapabilities = make(map[string]bool)
	for _, cap := range capabilities {
		r.allowedCapabilities[cap] = true
	}
}

// RegisterFromPath registers a provider from a manifest file and WASM module.
func (r *Registry) RegisterFromPath(ctx context.Context, manifestPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := r.loader.LoadFromFile(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	wasmModule, err := os.ReadFile(manifest.WasmPath)
	if err != nil {
		return fmt.Errorf("failed to read WASM module: %w", err)
	}

	if manifest.Raw.Checksum != "" {
		if err := manifest.VerifyChecksum(wasmModule); err != nil {
			return fmt.Errorf("checksum verification failed: %w", err)
		}
	}

	key := buildProviderKey(manifest.Raw.Metadata.Name, manifest.Raw.Metadata.Version)
	if _, exists := r.providers[key]; exists {
		return fmt.Errorf("provider %s already registered", key)
	}

	if err := r.validateCapabilitiesLocked(manifest.GetCapabilities()); err != nil {
		return fmt.Errorf("capability validation failed: %w", err)
	}

	r.manifests[key] = manifest
	r.wasmModules[key] = wasmModule

	return nil
}

// Get lazily instantiates (or returns the cached) provider for name/version.
// version accepts an exact version, "latest"/"", a tilde range ("~1.0.0"),
// or a caret range ("^1.0.0").
func (r *Registry) Get(ctx context.Context, name, version string) (*WASMHostProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.resolveVersion(name, version)
	if err != nil {
		return nil, err
	}

	if provider, exists := r.providers[key]; exists {
		return provider, nil
	}

	manifest, exists := r.manifests[key]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", key)
	}

	wasmModule, exists := r.wasmModules[key]
	if !exists {
		return nil, fmt.Errorf("WASM module for provider %s not found", key)
	}

	provider, err := NewWASMHostProvider(ctx, manifest, wasmModule, r.hostConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	r.providers[key] = provider
	return provider, nil
}

// Factory returns a providerregistry.Factory that resolves name/version
// through this registry and exposes the resulting provider's manifest-
// declared actions as a Descriptor — the bridge from a bundled WASM module
// to the ProviderRegistry's plugin-loading contract.
func (r *Registry) Factory(name, version string) providerregistry.Factory {
	return func(ctx context.Context, in providerregistry.FactoryInput) (*providerregistry.Descriptor, error) {
		provider, err := r.Get(ctx, name, version)
		if err != nil {
			return nil, err
		}
		if !provider.IsInitialized() {
			if err := provider.Init(ctx); err != nil {
				return nil, err
			}
		}
		return provider.Descriptor(), nil
	}
}

// List lists all registered providers' metadata.
func (r *Registry) List(ctx context.Context) ([]Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata := make([]Metadata, 0, len(r.manifests))
	for _, manifest := range r.manifests {
		metadata = append(metadata, manifest.Raw.Metadata)
	}

	return metadata, nil
}

// Unregister removes a provider from the registry.
func (r *Registry) Unregister(ctx context.Context, name, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := buildProviderKey(name, version)

	if provider, exists := r.providers[key]; exists {
		if err := provider.Close(ctx); err != nil {
			return fmt.Errorf("failed to close provider: %w", err)
		}
		delete(r.providers, key)
	}

	delete(r.manifests, key)
	delete(r.wasmModules, key)

	return nil
}

// ValidateCapabilities validates that requested capabilities are allowed.
func (r *Registry) ValidateCapabilities(ctx context.Context, capabilities []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validateCapabilitiesLocked(capabilities)
}

func (r *Registry) validateCapabilitiesLocked(capabilities []string) error {
	if len(r.allowedCapabilities) == 0 {
		return nil
	}

	var denied []string
	for _, cap := range capabilities {
		if !r.allowedCapabilities[cap] {
			denied = append(denied, cap)
		}
	}

	if len(denied) > 0 {
		return fmt.Errorf("capabilities not allowed: %v", denied)
	}

	return nil
}

// Close closes all loaded providers and releases resources.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, provider := range r.providers {
		if err := provider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close provider %s: %w", key, err))
		}
	}

	r.providers = make(map[string]*WASMHostProvider)
	r.manifests = make(map[string]*Manifest)
	r.wasmModules = make(map[string][]byte)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing providers: %v", errs)
	}

	return nil
}

// resolveVersion resolves a version constraint to an exact provider key.
// Supports an exact version, "latest"/"", and any semver range Masterminds
// accepts ("~1.0.0", "^1.0.0", ">=1.2.0 <2.0.0", ...).
func (r *Registry) resolveVersion(name, version string) (string, error) {
	if version == "" || version == "latest" {
		if best := r.bestMatch(name, nil); best != "" {
			return best, nil
		}
		return "", fmt.Errorf("provider %s not found", name)
	}

	if key := buildProviderKey(name, version); r.manifests[key] != nil {
		return key, nil
	}

	constraint, err := semver.NewConstraint(version)
	if err != nil {
		return "", fmt.Errorf("invalid version constraint %q for provider %s: %w", version, name, err)
	}
	if best := r.bestMatch(name, constraint); best != "" {
		return best, nil
	}
	return "", fmt.Errorf("no version matching %s found for provider %s", version, name)
}

// bestMatch returns the registered key with the highest semver version of
// name that satisfies constraint (nil means any).
func (r *Registry) bestMatch(name string, constraint *semver.Constraints) string {
	var bestKey string
	var bestVersion *semver.Version
	for key := range r.manifests {
		if !strings.HasPrefix(key, name+"@") {
			continue
		}
		v, err := semver.NewVersion(strings.TrimPrefix(key, name+"@"))
		if err != nil {
			continue
		}
		if constraint != nil && !constraint.Check(v) {
			continue
		}
		if bestVersion == nil || v.GreaterThan(bestVersion) {
			bestKey, bestVersion = key, v
		}
	}
	return bestKey
}

// buildProviderKey builds a unique key for a provider.
func buildProviderKey(name, version string) string {
	return name + "@" + version
}

// ScanDirectory scans a directory for provider manifests and registers them.
func (r *Registry) ScanDirectory(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			manifestPath := filepath.Join(dir, entry.Name(), "manifest.yaml")
			if _, err := os.Stat(manifestPath); err == nil {
				if err := r.RegisterFromPath(ctx, manifestPath); err != nil {
					fmt.Printf("Warning: failed to register provider from %s: %v\n", manifestPath, err)
				}
			}
		}
	}

	return nil
}

// GetProviderInfo returns metadata about a registered provider.
func (r *Registry) GetProviderInfo(name, version string) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := buildProviderKey(name, version)
	manifest, exists := r.manifests[key]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", key)
	}

	metadata := manifest.Raw.Metadata
	return &metadata, nil
}
