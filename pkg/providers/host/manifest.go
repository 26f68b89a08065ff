package host

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest represents a parsed provider manifest with loaded schemas.
type Manifest struct {
	// Raw is the raw manifest data from the YAML file.
	Raw *ManifestSpec

	// Schemas maps action names to their declared export, schema text, and
	// capabilities.
	Schemas map[string]*ActionSchemas

	// Path is the file path where the manifest was loaded from.
	Path string

	// WasmPath is the path to the WASM module.
	WasmPath string

	// Verified indicates if the WASM module checksum has been verified.
	Verified bool
}

// ActionSchemas holds one declared action's export, module type, schema
// text, and capabilities, as read from the manifest.
type ActionSchemas struct {
	Name         string
	Export       string
	ModuleType   string
	ConfigSchema string
	StateSchema  string
	Capabilities []Capability
}

// ManifestLoader loads and parses provider manifests.
type ManifestLoader struct {
	// BaseDir is the base directory for resolving relative paths.
	BaseDir string
}

// NewManifestLoader creates a new manifest loader.
func NewManifestLoader(baseDir string) *ManifestLoader {
	return &ManifestLoader{BaseDir: baseDir}
}

// LoadFromFile loads a manifest from a YAML file.
func (m *ManifestLoader) LoadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var raw ManifestSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := m.validateManifest(&raw); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	manifest := &Manifest{
		Raw:     &raw,
		Path:    path,
		Schemas: make(map[string]*ActionSchemas),
	}

	if err := m.resolveWasmPath(manifest); err != nil {
		return nil, fmt.Errorf("failed to resolve WASM path: %w", err)
	}

	if err := m.loadSchemas(manifest); err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	return manifest, nil
}

// LoadFromBytes loads a manifest from raw bytes, verifying wasmModule against
// the manifest's declared checksum when present.
func (m *ManifestLoader) LoadFromBytes(data []byte, wasmModule []byte) (*Manifest, error) {
	var raw ManifestSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := m.validateManifest(&raw); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	manifest := &Manifest{
		Raw:     &raw,
		Schemas: make(map[string]*ActionSchemas),
	}

	if raw.Checksum != "" {
		hash := sha256.Sum256(wasmModule)
		computedChecksum := hex.EncodeToString(hash[:])
		if computedChecksum != raw.Checksum {
			return nil, fmt.Errorf("WASM module checksum mismatch: expected %s, got %s",
				raw.Checksum, computedChecksum)
		}
		manifest.Verified = true
	}

	if err := m.loadSchemas(manifest); err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	return manifest, nil
}

// validateManifest validates the basic structure of a manifest.
func (m *ManifestLoader) validateManifest(manifest *ManifestSpec) error {
	if manifest.Metadata.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if manifest.Metadata.Version == "" {
		return fmt.Errorf("provider version is required")
	}
	if manifest.Metadata.Author == "" {
		return fmt.Errorf("provider author is required")
	}
	if manifest.Metadata.License == "" {
		return fmt.Errorf("provider license is required")
	}

	if manifest.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}

	if manifest.Schema.Version == "" {
		return fmt.Errorf("schema version is required")
	}
	if len(manifest.Schema.Actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}

	for name, a := range manifest.Schema.Actions {
		if a.Name != name {
			return fmt.Errorf("action name mismatch: key=%s, name=%s", name, a.Name)
		}
		if a.Export == "" {
			return fmt.Errorf("action %s: export is required", name)
		}
	}

	return nil
}

// resolveWasmPath resolves the path to the WASM module.
func (m *ManifestLoader) resolveWasmPath(manifest *Manifest) error {
	if filepath.IsAbs(manifest.Raw.Entrypoint) {
		manifest.WasmPath = manifest.Raw.Entrypoint
		return nil
	}

	if manifest.Path != "" {
		manifestDir := filepath.Dir(manifest.Path)
		manifest.WasmPath = filepath.Join(manifestDir, manifest.Raw.Entrypoint)
	} else {
		manifest.WasmPath = filepath.Join(m.BaseDir, manifest.Raw.Entrypoint)
	}

	if _, err := os.Stat(manifest.WasmPath); err != nil {
		return fmt.Errorf("WASM module not found at %s: %w", manifest.WasmPath, err)
	}

	return nil
}

// loadSchemas copies each declared action into manifest.Schemas. The schema
// text is stored as written; it is not parsed here.
func (m *ManifestLoader) loadSchemas(manifest *Manifest) error {
	for name, a := range manifest.Raw.Schema.Actions {
		manifest.Schemas[name] = &ActionSchemas{
			Name:         name,
			Export:       a.Export,
			ModuleType:   a.ModuleType,
			ConfigSchema: a.ConfigSchema,
			StateSchema:  a.StateSchema,
			Capabilities: a.Capabilities,
		}
	}
	return nil
}

// VerifyChecksum verifies the WASM module checksum against the manifest.
func (m *Manifest) VerifyChecksum(wasmModule []byte) error {
	if m.Raw.Checksum == "" {
		return fmt.Errorf("no checksum in manifest")
	}

	hash := sha256.Sum256(wasmModule)
	computedChecksum := hex.EncodeToString(hash[:])

	if computedChecksum != m.Raw.Checksum {
		return fmt.Errorf("WASM module checksum mismatch: expected %s, got %s",
			m.Raw.Checksum, computedChecksum)
	}

	m.Verified = true
	return nil
}

// GetCapabilities returns all capabilities required by this provider, merging
// the metadata-level set with each action's own requirements.
func (m *Manifest) GetCapabilities() []string {
	capSet := make(map[string]bool)

	for _, c := range m.Raw.Metadata.RequiredCapabilities {
		capSet[string(c)] = true
	}

	for _, schemas := range m.Schemas {
		for _, c := range schemas.Capabilities {
			capSet[string(c)] = true
		}
	}

	caps := make([]string, 0, len(capSet))
	for c := range capSet {
		caps = append(caps, c)
	}

	return caps
}

// GetActions returns a list of all declared action names.
func (m *Manifest) GetActions() []string {
	actions := make([]string, 0, len(m.Schemas))
	for name := range m.Schemas {
		actions = append(actions, name)
	}
	return actions
}

// GetActionSchema returns the schema for a specific declared action.
func (m *Manifest) GetActionSchema(action string) (*ActionSchemas, error) {
	schema, ok := m.Schemas[action]
	if !ok {
		return nil, fmt.Errorf("action %s not found in manifest", action)
	}
	return schema, nil
}
