package main

import (
	"encoding/json"
	"testing"
)

// TestProviderConfigure tests provider configuration.
func TestProviderConfigure(t *testing.T) {
	tests := []struct {
		name        string
		params      ConfigureParams
		expectError bool
	}{
		{
			name:        "valid config with capabilities",
			params:      ConfigureParams{Capabilities: []string{"exec:host"}},
			expectError: false,
		},
		{
			name:        "missing required capability",
			params:      ConfigureParams{Capabilities: []string{}},
			expectError: true,
		},
		{
			name: "valid config with custom settings",
			params: ConfigureParams{
				Capabilities: []string{"exec:host"},
				Config: json.RawMessage(`{
					"default_manager": "apt",
					"update_cache": true,
					"cache_validity_minutes": 120
				}`),
			},
			expectError: false,
		},
		{
			name: "invalid JSON config",
			params: ConfigureParams{
				Capabilities: []string{"exec:host"},
				Config:       json.RawMessage(`{invalid json`),
			},
			expectError: true,
		},
		{
			name: "invalid package manager in config",
			params: ConfigureParams{
				Capabilities: []string{"exec:host"},
				Config:       json.RawMessage(`{"default_manager": "homebrew"}`),
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Provider{}
			err := p.Configure(tt.params)

			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			if !tt.expectError && !p.initialized {
				t.Error("Provider should be initialized")
			}
		})
	}
}

// TestValidatePackageConfig tests package configuration validation.
func TestValidatePackageConfig(t *testing.T) {
	tests := []struct {
		name        string
		config      PackageConfig
		expectError bool
		errorMsg    string
	}{
		{name: "valid config - present state", config: PackageConfig{Package: "nginx", State: "present"}, expectError: false},
		{name: "valid config - absent state", config: PackageConfig{Package: "nginx", State: "absent"}, expectError: false},
		{name: "valid config - latest state", config: PackageConfig{Package: "nginx", State: "latest"}, expectError: false},
		{name: "valid config - with version", config: PackageConfig{Package: "nginx", State: "present", Version: "1.18.0"}, expectError: false},
		{name: "valid config - with manager", config: PackageConfig{Package: "nginx", State: "present", Manager: "apt"}, expectError: false},
		{
			name:        "missing package name",
			config:      PackageConfig{State: "present"},
			expectError: true,
			errorMsg:    "package name is required",
		},
		{
			name:        "invalid state",
			config:      PackageConfig{Package: "nginx", State: "installed"},
			expectError: true,
			errorMsg:    "invalid state",
		},
		{
			name:        "version with absent state",
			config:      PackageConfig{Package: "nginx", State: "absent", Version: "1.18.0"},
			expectError: true,
			errorMsg:    "version cannot be specified when state is absent",
		},
		{
			name:        "version with latest state",
			config:      PackageConfig{Package: "nginx", State: "latest", Version: "1.18.0"},
			expectError: true,
			errorMsg:    "version cannot be specified when state is latest",
		},
		{
			name:        "invalid package manager",
			config:      PackageConfig{Package: "nginx", State: "present", Manager: "homebrew"},
			expectError: true,
			errorMsg:    "invalid package manager",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePackageConfig(&tt.config)

			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			if tt.expectError && err != nil && tt.errorMsg != "" {
				if !containsMiddle(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error message containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
			}
		})
	}
}

// TestProviderValidate tests the Validate method.
func TestProviderValidate(t *testing.T) {
	p := &Provider{}

	tests := []struct {
		name        string
		config      string
		expectError bool
	}{
		{name: "valid config", config: `{"package": "nginx", "state": "present"}`, expectError: false},
		{name: "invalid JSON", config: `{invalid`, expectError: true},
		{name: "missing required field", config: `{"state": "present"}`, expectError: true},
		{name: "invalid state", config: `{"package": "nginx", "state": "running"}`, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Validate(json.RawMessage(tt.config))

			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

// TestIsValidPackageManager tests package manager validation.
func TestIsValidPackageManager(t *testing.T) {
	tests := []struct {
		manager string
		valid   bool
	}{
		{"apt", true},
		{"dnf", true},
		{"yum", true},
		{"zypper", true},
		{"homebrew", false},
		{"pacman", false},
		{"", false},
		{"APT", false},
	}

	for _, tt := range tests {
		t.Run(tt.manager, func(t *testing.T) {
			result := isValidPackageManager(tt.manager)
			if result != tt.valid {
				t.Errorf("isValidPackageManager(%s) = %v, want %v", tt.manager, result, tt.valid)
			}
		})
	}
}

// TestPlanOperation tests the Plan method's diffing logic.
func TestPlanOperation(t *testing.T) {
	p := &Provider{
		initialized:    true,
		packageManager: "apt",
		config:         &ProviderConfig{UpdateCache: true, CacheValidityMinutes: 60},
		capabilities:   map[string]bool{"exec:host": true},
	}

	tests := []struct {
		name              string
		desired           PackageConfig
		actual            *PackageState
		expectedOperation string
		expectedChanges   int
	}{
		{
			name:              "install package - not installed",
			desired:           PackageConfig{Package: "nginx", State: "present"},
			actual:            nil,
			expectedOperation: OperationCreate,
			expectedChanges:   1,
		},
		{
			name:              "package already installed",
			desired:           PackageConfig{Package: "nginx", State: "present"},
			actual:            &PackageState{Package: "nginx", Installed: true, Version: "1.18.0"},
			expectedOperation: OperationNoop,
			expectedChanges:   0,
		},
		{
			name:              "remove installed package",
			desired:           PackageConfig{Package: "nginx", State: "absent"},
			actual:            &PackageState{Package: "nginx", Installed: true, Version: "1.18.0"},
			expectedOperation: OperationDelete,
			expectedChanges:   2,
		},
		{
			name:              "upgrade to latest",
			desired:           PackageConfig{Package: "nginx", State: "latest"},
			actual:            &PackageState{Package: "nginx", Installed: true, Version: "1.18.0", AvailableVersion: "1.20.0"},
			expectedOperation: OperationUpdate,
			expectedChanges:   1,
		},
		{
			name:              "change version",
			desired:           PackageConfig{Package: "nginx", State: "present", Version: "1.20.0"},
			actual:            &PackageState{Package: "nginx", Installed: true, Version: "1.18.0"},
			expectedOperation: OperationUpdate,
			expectedChanges:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desiredJSON, _ := json.Marshal(tt.desired)
			var actualJSON json.RawMessage
			if tt.actual != nil {
				actualJSON, _ = json.Marshal(tt.actual)
			}

			resp, err := p.Plan(PlanParams{DesiredState: desiredJSON, ActualState: actualJSON})
			if err != nil {
				t.Fatalf("Plan() error: %v", err)
			}

			if resp.Operation != tt.expectedOperation {
				t.Errorf("Expected operation %s, got %s", tt.expectedOperation, resp.Operation)
			}

			if len(resp.Changes) != tt.expectedChanges {
				t.Errorf("Expected %d changes, got %d", tt.expectedChanges, len(resp.Changes))
			}
		})
	}
}

// TestResolvePackageManager tests package manager resolution logic.
func TestResolvePackageManager(t *testing.T) {
	tests := []struct {
		name            string
		requested       string
		providerDefault string
		expectedManager string
		expectError     bool
	}{
		{name: "use requested manager", requested: "dnf", providerDefault: "apt", expectedManager: "dnf", expectError: false},
		{name: "use provider default", requested: "", providerDefault: "apt", expectedManager: "apt", expectError: false},
		{name: "invalid requested manager", requested: "homebrew", providerDefault: "apt", expectError: true},
		{name: "no manager specified", requested: "", providerDefault: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Provider{packageManager: tt.providerDefault}

			manager, err := p.resolvePackageManager(tt.requested)

			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			if !tt.expectError && manager != tt.expectedManager {
				t.Errorf("Expected manager '%s', got '%s'", tt.expectedManager, manager)
			}
		})
	}
}

func containsMiddle(s, substr string) bool {
	if len(substr) > len(s) {
		return false
	}
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
