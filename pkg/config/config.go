// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/taskmesh/taskmesh/pkg/types"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads configuration from a file
func (m *Manager) LoadConfig(path string) (*types.TaskmeshConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.TaskmeshConfig

	// Try JSON first
	if err := json.Unmarshal(data, &cfg); err == nil {
		return m.finalize(&cfg)
	}

	// Fall back to YAML
	if err := yaml.Unmarshal(data, &cfg); err == nil {
		return m.finalize(&cfg)
	}

	return nil, fmt.Errorf("failed to parse config as JSON or YAML")
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.TaskmeshConfig) error {
	if cfg.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}

	if c := cfg.Coordinator; c != nil {
		if c.MaxConcurrentTasks < 0 {
			return fmt.Errorf("maxConcurrentTasks must not be negative")
		}
		if c.DesiredActiveBuffer < 0 {
			return fmt.Errorf("desiredActiveBuffer must not be negative")
		}
		if c.MaxReworkAttempts < 0 {
			return fmt.Errorf("maxReworkAttempts must not be negative")
		}
	}

	if s := cfg.Supervisor; s != nil {
		if s.GlobalMaxRetries < s.LocalMaxRetries {
			return fmt.Errorf("globalMaxRetries must not be lower than localMaxRetries")
		}
	}

	if st := cfg.Structure; st != nil && st.TimeoutSeconds <= 0 {
		return fmt.Errorf("structure timeout must be positive")
	}

	return nil
}

// GetDefaultConfig returns the default configuration
func (m *Manager) GetDefaultConfig() *types.TaskmeshConfig {
	enabled := true

	return &types.TaskmeshConfig{
		Version:   "1.0",
		ProjectID: "default",
		Coordinator: &types.CoordinatorConfig{
			MaxConcurrentTasks:  10,
			DesiredActiveBuffer: 12,
			MaxReworkAttempts:   3,
			TestableExtensions:  DefaultTestableExtensions(),
			ActiveCycleMS:       2000,
			PendingCycleMS:      5000,
			IdleCycleMS:         10000,
		},
		Supervisor: &types.SupervisorConfig{
			LocalMaxRetries:  3,
			GlobalMaxRetries: 5,
		},
		Structure: &types.StructureConfig{
			TimeoutSeconds: 300,
			PollIntervalMS: 2000,
		},
		Generation: &types.GenerationConfig{
			Backend:     "command",
			MaxAttempts: 3,
		},
		Server: &types.ServerConfig{
			Addr: ":8765",
		},
		Notifications: &types.NotificationConfig{
			Enabled: &enabled,
		},
		Logging: &types.LoggingConfig{
			Level: types.LogLevelInfo,
		},
	}
}

// ApplyDefaults fills in any missing sections of a loaded config
func (m *Manager) ApplyDefaults(cfg *types.TaskmeshConfig) {
	def := m.GetDefaultConfig()

	if cfg.Coordinator == nil {
		cfg.Coordinator = def.Coordinator
	} else if len(cfg.Coordinator.TestableExtensions) == 0 {
		cfg.Coordinator.TestableExtensions = DefaultTestableExtensions()
	}
	if cfg.Supervisor == nil {
		cfg.Supervisor = def.Supervisor
	}
	if cfg.Structure == nil {
		cfg.Structure = def.Structure
	}
	if cfg.Generation == nil {
		cfg.Generation = def.Generation
	}
	if cfg.Server == nil {
		cfg.Server = def.Server
	}
	if cfg.Notifications == nil {
		cfg.Notifications = def.Notifications
	}
	if cfg.Logging == nil {
		cfg.Logging = def.Logging
	}
}

// DefaultTestableExtensions returns the fixed extension set that makes a
// file eligible for a tester task.
func DefaultTestableExtensions() []string {
	return []string{".py", ".go", ".js", ".ts", ".java", ".rb"}
}

// Private methods

func (m *Manager) finalize(cfg *types.TaskmeshConfig) (*types.TaskmeshConfig, error) {
	m.ApplyDefaults(cfg)
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
