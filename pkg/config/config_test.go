package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/taskmesh/taskmesh/pkg/config"
	"github.com/taskmesh/taskmesh/pkg/types"
)

func TestGetDefaultConfig(t *testing.T) {
	mgr := config.NewManager()
	cfg := mgr.GetDefaultConfig()

	if cfg.Version != "1.0" {
		t.Errorf("default version = %s, want 1.0", cfg.Version)
	}
	if cfg.Coordinator.MaxConcurrentTasks != 10 {
		t.Errorf("maxConcurrentTasks = %d, want 10", cfg.Coordinator.MaxConcurrentTasks)
	}
	if cfg.Coordinator.DesiredActiveBuffer != 12 {
		t.Errorf("desiredActiveBuffer = %d, want 12", cfg.Coordinator.DesiredActiveBuffer)
	}
	if cfg.Coordinator.MaxReworkAttempts != 3 {
		t.Errorf("maxReworkAttempts = %d, want 3", cfg.Coordinator.MaxReworkAttempts)
	}
	if cfg.Supervisor.LocalMaxRetries != 3 || cfg.Supervisor.GlobalMaxRetries != 5 {
		t.Errorf("retry caps = %d/%d, want 3/5",
			cfg.Supervisor.LocalMaxRetries, cfg.Supervisor.GlobalMaxRetries)
	}

	if err := mgr.ValidateConfig(cfg); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskmesh.config.json")

	content := `{
		"version": "1.0",
		"projectId": "proj-1",
		"coordinator": {
			"maxConcurrentTasks": 4,
			"desiredActiveBuffer": 6,
			"maxReworkAttempts": 2
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ProjectID != "proj-1" {
		t.Errorf("projectId = %s, want proj-1", cfg.ProjectID)
	}
	if cfg.Coordinator.MaxConcurrentTasks != 4 {
		t.Errorf("maxConcurrentTasks = %d, want 4", cfg.Coordinator.MaxConcurrentTasks)
	}
	// Defaults are filled in for sections the file omits
	if cfg.Supervisor == nil || cfg.Supervisor.GlobalMaxRetries != 5 {
		t.Error("expected supervisor defaults to be applied")
	}
	if len(cfg.Coordinator.TestableExtensions) == 0 {
		t.Error("expected testable extension defaults to be applied")
	}
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskmesh.config.yaml")

	content := `version: "1.0"
projectId: proj-yaml
supervisor:
  localMaxRetries: 2
  globalMaxRetries: 4
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ProjectID != "proj-yaml" {
		t.Errorf("projectId = %s, want proj-yaml", cfg.ProjectID)
	}
	if cfg.Supervisor.GlobalMaxRetries != 4 {
		t.Errorf("globalMaxRetries = %d, want 4", cfg.Supervisor.GlobalMaxRetries)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := config.NewManager().LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	mgr := config.NewManager()

	tests := []struct {
		name    string
		mutate  func(cfg *types.TaskmeshConfig)
		wantErr bool
	}{
		{"valid defaults", func(cfg *types.TaskmeshConfig) {}, false},
		{"bad version", func(cfg *types.TaskmeshConfig) { cfg.Version = "2.0" }, true},
		{"negative concurrency", func(cfg *types.TaskmeshConfig) {
			cfg.Coordinator.MaxConcurrentTasks = -1
		}, true},
		{"negative rework cap", func(cfg *types.TaskmeshConfig) {
			cfg.Coordinator.MaxReworkAttempts = -1
		}, true},
		{"global below local retries", func(cfg *types.TaskmeshConfig) {
			cfg.Supervisor.LocalMaxRetries = 6
		}, true},
		{"zero structure timeout", func(cfg *types.TaskmeshConfig) {
			cfg.Structure.TimeoutSeconds = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mgr.GetDefaultConfig()
			tt.mutate(cfg)
			err := mgr.ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
