// Package main implements the linux.pkg provider module: Linux package
// management across apt, dnf, yum, and zypper, compiled as a standalone
// WASM module and loaded by pkg/providers/host per its accompanying
// manifest.yaml action declarations.
package main

import (
	"encoding/json"
	"fmt"
)

// Provider implements the manifest-declared "configure"/"read"/"plan"/
// "apply"/"destroy"/"validate" actions for module type "linux.pkg". Its
// actions are described by its manifest and invoked by name through
// host.WASMBridge, so the exported surface has no Go-level interface to
// satisfy.
type Provider struct {
	config         *ProviderConfig
	capabilities   map[string]bool
	initialized    bool
	packageManager string
}

// ProviderConfig holds provider-specific configuration.
type ProviderConfig struct {
	DefaultManager       string `json:"default_manager,omitempty"`
	UpdateCache          bool   `json:"update_cache,omitempty"`
	CacheValidityMinutes int    `json:"cache_validity_minutes,omitempty"`
}

// ConfigureParams is the "configure" action's input.
type ConfigureParams struct {
	Capabilities []string        `json:"capabilities,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
}

// PackageConfig represents the desired configuration for a package resource.
type PackageConfig struct {
	Package    string   `json:"package"`
	State      string   `json:"state"`
	Version    string   `json:"version,omitempty"`
	Repository string   `json:"repository,omitempty"`
	Manager    string   `json:"manager,omitempty"`
	Options    []string `json:"options,omitempty"`
}

// PackageState represents the current state of a package.
type PackageState struct {
	Package          string `json:"package"`
	Installed        bool   `json:"installed"`
	Version          string `json:"version,omitempty"`
	Manager          string `json:"manager"`
	AvailableVersion string `json:"available_version,omitempty"`
	Repository       string `json:"repository,omitempty"`
}

// Change describes one field transition in a plan.
type Change struct {
	Path   string      `json:"path"`
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
	Action string      `json:"action"`
}

const (
	OperationNoop   = "noop"
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"

	ChangeActionAdd    = "add"
	ChangeActionModify = "modify"
	ChangeActionRemove = "remove"
)

// PlanResult is the "plan" action's output.
type PlanResult struct {
	Operation        string                 `json:"operation"`
	Changes          []Change               `json:"changes,omitempty"`
	RequiresRecreate bool                   `json:"requiresRecreate"`
	Warnings         []string               `json:"warnings,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// PlanParams is the "plan" action's input.
type PlanParams struct {
	DesiredState json.RawMessage `json:"desiredState"`
	ActualState  json.RawMessage `json:"actualState,omitempty"`
}

// Configure initializes the provider with its requested capabilities and
// raw config block, per the manifest's "configure" action.
func (p *Provider) Configure(params ConfigureParams) error {
	p.config = &ProviderConfig{UpdateCache: true, CacheValidityMinutes: 60}

	if len(params.Config) > 0 {
		if err := json.Unmarshal(params.Config, p.config); err != nil {
			return fmt.Errorf("failed to parse provider config: %w", err)
		}
	}

	p.capabilities = make(map[string]bool)
	for _, cap := range params.Capabilities {
		p.capabilities[cap] = true
	}

	if !p.capabilities["exec:host"] {
		return fmt.Errorf("provider requires exec:host capability")
	}

	if p.config.DefaultManager != "" {
		if !isValidPackageManager(p.config.DefaultManager) {
			return fmt.Errorf("invalid package manager: %s", p.config.DefaultManager)
		}
		p.packageManager = p.config.DefaultManager
	}

	p.initialized = true
	return nil
}

// Read validates a package resource config and returns what
// getPackageState reports for it.
func (p *Provider) Read(configJSON json.RawMessage) (*PackageState, error) {
	if !p.initialized {
		return nil, fmt.Errorf("provider not initialized")
	}

	var config PackageConfig
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return nil, fmt.Errorf("failed to parse resource config: %w", err)
	}
	if err := validatePackageConfig(&config); err != nil {
		return nil, err
	}

	manager, err := p.resolvePackageManager(config.Manager)
	if err != nil {
		return nil, err
	}

	return p.getPackageState(manager, config.Package)
}

// Plan computes the operations needed to reach desired state.
func (p *Provider) Plan(params PlanParams) (*PlanResult, error) {
	if !p.initialized {
		return nil, fmt.Errorf("provider not initialized")
	}

	var desired PackageConfig
	if err := json.Unmarshal(params.DesiredState, &desired); err != nil {
		return nil, fmt.Errorf("failed to parse desired state: %w", err)
	}

	var actual PackageState
	actualExists := len(params.ActualState) > 0
	if actualExists {
		if err := json.Unmarshal(params.ActualState, &actual); err != nil {
			return nil, fmt.Errorf("failed to parse actual state: %w", err)
		}
	}

	operation := OperationNoop
	var changes []Change
	var warnings []string

	switch desired.State {
	case "present":
		if !actualExists || !actual.Installed {
			operation = OperationCreate
			changes = append(changes, Change{Path: ".installed", Before: false, After: true, Action: ChangeActionAdd})
			if desired.Version != "" {
				changes = append(changes, Change{Path: ".version", Before: nil, After: desired.Version, Action: ChangeActionAdd})
			}
		} else if desired.Version != "" && actual.Version != desired.Version {
			operation = OperationUpdate
			changes = append(changes, Change{Path: ".version", Before: actual.Version, After: desired.Version, Action: ChangeActionModify})
		}

	case "absent":
		if actualExists && actual.Installed {
			operation = OperationDelete
			changes = append(changes, Change{Path: ".installed", Before: true, After: false, Action: ChangeActionRemove})
			if actual.Version != "" {
				changes = append(changes, Change{Path: ".version", Before: actual.Version, After: nil, Action: ChangeActionRemove})
			}
		}

	case "latest":
		if !actualExists || !actual.Installed {
			operation = OperationCreate
			changes = append(changes, Change{Path: ".installed", Before: false, After: true, Action: ChangeActionAdd})
			changes = append(changes, Change{Path: ".version", Before: nil, After: "latest", Action: ChangeActionAdd})
		} else if actual.AvailableVersion != "" && actual.Version != actual.AvailableVersion {
			operation = OperationUpdate
			changes = append(changes, Change{Path: ".version", Before: actual.Version, After: actual.AvailableVersion, Action: ChangeActionModify})
		}
	}

	return &PlanResult{
		Operation:        operation,
		Changes:          changes,
		RequiresRecreate: false,
		Warnings:         warnings,
		Metadata:         map[string]interface{}{"package": desired.Package, "state": desired.State},
	}, nil
}

// Apply executes the planned operation to reach desired state.
func (p *Provider) Apply(operation string, desiredStateJSON json.RawMessage) (*PackageState, error) {
	if !p.initialized {
		return nil, fmt.Errorf("provider not initialized")
	}

	var desired PackageConfig
	if err := json.Unmarshal(desiredStateJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to parse desired state: %w", err)
	}

	manager, err := p.resolvePackageManager(desired.Manager)
	if err != nil {
		return nil, err
	}

	switch operation {
	case OperationCreate:
		if err := p.installPackage(manager, &desired); err != nil {
			return nil, fmt.Errorf("failed to install package: %w", err)
		}
	case OperationUpdate:
		if err := p.updatePackage(manager, &desired); err != nil {
			return nil, fmt.Errorf("failed to update package: %w", err)
		}
	case OperationDelete:
		if err := p.removePackage(manager, &desired); err != nil {
			return nil, fmt.Errorf("failed to remove package: %w", err)
		}
	case OperationNoop:
	default:
		return nil, fmt.Errorf("unsupported operation: %s", operation)
	}

	return p.getPackageState(manager, desired.Package)
}

// Destroy hands an installed package's state to removePackage; a state
// with Installed false is a no-op.
func (p *Provider) Destroy(stateJSON json.RawMessage) error {
	if !p.initialized {
		return fmt.Errorf("provider not initialized")
	}

	var state PackageState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return fmt.Errorf("failed to parse state: %w", err)
	}

	if !state.Installed {
		return nil
	}

	config := PackageConfig{Package: state.Package, State: "absent", Manager: state.Manager}
	return p.removePackage(state.Manager, &config)
}

// Validate validates a resource configuration against the provider's schema.
func (p *Provider) Validate(configJSON json.RawMessage) error {
	var pkgConfig PackageConfig
	if err := json.Unmarshal(configJSON, &pkgConfig); err != nil {
		return fmt.Errorf("invalid configuration format: %w", err)
	}
	return validatePackageConfig(&pkgConfig)
}

// resolvePackageManager determines which package manager to use.
func (p *Provider) resolvePackageManager(requested string) (string, error) {
	if requested != "" {
		if !isValidPackageManager(requested) {
			return "", fmt.Errorf("invalid package manager: %s", requested)
		}
		return requested, nil
	}

	if p.packageManager != "" {
		return p.packageManager, nil
	}

	return "", fmt.Errorf("package manager must be specified or configured")
}

// getPackageState makes no host call: it returns a PackageState carrying
// only the package and manager names, with Installed false and no version.
func (p *Provider) getPackageState(manager, packageName string) (*PackageState, error) {
	return &PackageState{Package: packageName, Manager: manager}, nil
}

// installPackage makes no host call and returns nil; no package is
// installed.
func (p *Provider) installPackage(manager string, config *PackageConfig) error {
	return nil
}

// updatePackage makes no host call and returns nil; no package is
// upgraded.
func (p *Provider) updatePackage(manager string, config *PackageConfig) error {
	return nil
}

// removePackage makes no host call and returns nil; no package is
// removed.
func (p *Provider) removePackage(manager string, config *PackageConfig) error {
	return nil
}

// validatePackageConfig validates a package configuration.
func validatePackageConfig(config *PackageConfig) error {
	if config.Package == "" {
		return fmt.Errorf("package name is required")
	}

	if config.State == "" {
		config.State = "present"
	}

	validStates := map[string]bool{"present": true, "absent": true, "latest": true}
	if !validStates[config.State] {
		return fmt.Errorf("invalid state: %s (must be present, absent, or latest)", config.State)
	}

	if config.Manager != "" && !isValidPackageManager(config.Manager) {
		return fmt.Errorf("invalid package manager: %s", config.Manager)
	}

	if config.State == "absent" && config.Version != "" {
		return fmt.Errorf("version cannot be specified when state is absent")
	}

	if config.State == "latest" && config.Version != "" {
		return fmt.Errorf("version cannot be specified when state is latest")
	}

	return nil
}

// isValidPackageManager checks if a package manager is supported.
func isValidPackageManager(manager string) bool {
	validManagers := map[string]bool{"apt": true, "dnf": true, "yum": true, "zypper": true}
	return validManagers[manager]
}

// main is required for the WASM build target; a build step exports
// Configure/Read/Plan/Apply/Destroy/Validate per the packed-pointer
// calling convention pkg/providers/host.WASMBridge expects.
func main() {}
