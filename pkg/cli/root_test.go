package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestInitConfigReadsJSONConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, "taskmesh.config.json")
	if err := os.WriteFile(path, []byte(`{"projectId": "demo"}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfgFile = ""
	projectRoot = dir
	defer func() { projectRoot = "." }()

	initConfig()

	if used := viper.ConfigFileUsed(); used != path {
		t.Fatalf("config file used = %q, want %q", used, path)
	}
	if got := viper.GetString("projectId"); got != "demo" {
		t.Errorf("projectId = %q, want demo", got)
	}
}

func TestInitConfigFallsBackToYAML(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, "taskmesh.config.yaml")
	if err := os.WriteFile(path, []byte("projectId: demo\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfgFile = ""
	projectRoot = dir
	defer func() { projectRoot = "." }()

	initConfig()

	if used := viper.ConfigFileUsed(); used != path {
		t.Fatalf("config file used = %q, want %q", used, path)
	}
	if got := viper.GetString("projectId"); got != "demo" {
		t.Errorf("projectId = %q, want demo", got)
	}
}

func TestInitConfigPrefersJSONWhenBothExist(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "taskmesh.config.json")
	if err := os.WriteFile(jsonPath, []byte(`{"projectId": "from-json"}`), 0644); err != nil {
		t.Fatal(err)
	}
	yamlPath := filepath.Join(dir, "taskmesh.config.yaml")
	if err := os.WriteFile(yamlPath, []byte("projectId: from-yaml\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfgFile = ""
	projectRoot = dir
	defer func() { projectRoot = "." }()

	initConfig()

	if got := viper.GetString("projectId"); got != "from-json" {
		t.Errorf("projectId = %q, want from-json", got)
	}
}
