package host

// Metadata describes a bundled WASM provider module, read from its
// manifest's metadata block.
type Metadata struct {
	Name                  string       `yaml:"name" json:"name"`
	Version               string       `yaml:"version" json:"version"`
	Author                string       `yaml:"author,omitempty" json:"author,omitempty"`
	License               string       `yaml:"license,omitempty" json:"license,omitempty"`
	Description           string       `yaml:"description,omitempty" json:"description,omitempty"`
	RequiredCapabilities  []Capability `yaml:"requiredCapabilities,omitempty" json:"requiredCapabilities,omitempty"`
}

// Capability names one sandboxed syscall class a WASM provider may request,
// enforced at the host function boundary by Sandbox.
type Capability string

const (
	CapabilityNetOutbound Capability = "net:outbound"
	CapabilityFSTemp      Capability = "fs:temp"
	CapabilityFSRead      Capability = "fs:read"
	CapabilityFSWrite     Capability = "fs:write"
	CapabilityEnvRead     Capability = "env:read"
	CapabilitySecretsRead Capability = "secrets:read"
	CapabilityExecHost    Capability = "exec:host"
)

// ActionSchema declares one WASM-exported action: the export name the
// bridge invokes, the moduleType it is scoped to (empty for a plugin-level
// action), and the CUE schema text for its input/output.
type ActionSchema struct {
	Name         string       `yaml:"name" json:"name"`
	Description  string       `yaml:"description,omitempty" json:"description,omitempty"`
	Export       string       `yaml:"export" json:"export"`
	ModuleType   string       `yaml:"moduleType,omitempty" json:"moduleType,omitempty"`
	ConfigSchema string       `yaml:"configSchema,omitempty" json:"configSchema,omitempty"`
	StateSchema  string       `yaml:"stateSchema,omitempty" json:"stateSchema,omitempty"`
	Capabilities []Capability `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// SchemaSpec is the manifest's "schema" block: the action declarations a
// bundled module exposes.
type SchemaSpec struct {
	Version string                   `yaml:"version" json:"version"`
	Actions map[string]*ActionSchema `yaml:"actions" json:"actions"`
}

// ManifestSpec is the parsed shape of a manifest.yaml manifest accompanying
// a .wasm module.
type ManifestSpec struct {
	Metadata     Metadata   `yaml:"metadata" json:"metadata"`
	Schema       SchemaSpec `yaml:"schema" json:"schema"`
	Entrypoint   string     `yaml:"entrypoint,omitempty" json:"entrypoint,omitempty"`
	Checksum     string     `yaml:"checksum,omitempty" json:"checksum,omitempty"`
	ConfigSchema string     `yaml:"configSchema,omitempty" json:"configSchema,omitempty"`
	DependsOn    []string   `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
}
