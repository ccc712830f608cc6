package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/pkg/config"
)

func newInitCmd() *cobra.Command {
	var projectID string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new Taskmesh configuration",
		Long: `Initialize a new Taskmesh configuration file in the project root
with sensible defaults for concurrency, retries and the decision engine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(projectID, force)
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project identifier")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

func runInit(projectID string, force bool) error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration already exists. Use --force to overwrite")
	}

	cfg := config.NewManager().GetDefaultConfig()
	if projectID != "" {
		cfg.ProjectID = projectID
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	printSuccess(fmt.Sprintf("Created configuration at %s", configPath))
	printInfo("Edit the configuration to tune concurrency, retries and the generation backend")

	return nil
}
