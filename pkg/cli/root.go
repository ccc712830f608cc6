// Package cli provides the command-line interface for Taskmesh
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	projectRoot string
	verbosity   string
	version     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "taskmesh",
	Short: "Multi-agent task orchestration for code generation",
	Long: `🕸 Taskmesh - Coordinated code generation across executor, tester
and documenter agents

Taskmesh turns a project structure into per-file generation tasks, feeds
them to role-specific workers through a central hub, and drives test
results through an accept/rework/escalate decision engine.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("🕸 Taskmesh v%s\n", version)
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v

	initializeRootCommand()

	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
// This replaces the init() function to make initialization explicit and testable.
func initializeRootCommand() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: taskmesh.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Viper keeps a single name/type pair, so probe the candidate
		// files explicitly: JSON first, YAML as the fallback
		jsonPath := filepath.Join(projectRoot, "taskmesh.config.json")
		yamlPath := filepath.Join(projectRoot, "taskmesh.config.yaml")
		if _, err := os.Stat(jsonPath); err == nil {
			viper.SetConfigFile(jsonPath)
		} else if _, err := os.Stat(yamlPath); err == nil {
			viper.SetConfigFile(yamlPath)
		} else {
			viper.SetConfigFile(jsonPath)
		}
	}

	viper.SetEnvPrefix("TASKMESH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// Helper functions

func printSuccess(message string) {
	web := "🕸"
	fmt.Printf("%s %s %s\n", web, color.GreenString("[Taskmesh]"), message)
}

func printError(message string) {
	web := "🕸"
	fmt.Fprintf(os.Stderr, "%s %s %s\n", web, color.RedString("[Taskmesh]"), message)
}

func printInfo(message string) {
	web := "🕸"
	fmt.Printf("%s %s %s\n", web, color.CyanString("[Taskmesh]"), message)
}

func printWarning(message string) {
	web := "🕸"
	fmt.Printf("%s %s %s\n", web, color.YellowString("[Taskmesh]"), message)
}

func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(projectRoot, "taskmesh.config.json")
}
