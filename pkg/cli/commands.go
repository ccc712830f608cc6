package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/pkg/config"
	"github.com/taskmesh/taskmesh/pkg/daemon"
	"github.com/taskmesh/taskmesh/pkg/types"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a generation project in the foreground",
		Long: `Start the coordinator, workers and API server and block until
every task reaches a terminal state or the process is interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show status of all tasks",
		Long:  `Display the current state of every file/role task in the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the Taskmesh daemon",
		Long:  `Control the Taskmesh background daemon process.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start the daemon",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDaemonStart()
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the daemon",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDaemonStop()
			},
		},
		&cobra.Command{
			Use:   "restart",
			Short: "Restart the daemon",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDaemonRestart()
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show daemon status",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDaemonStatus()
			},
		},
	)

	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long:  `Check that the configuration file is valid and internally consistent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of Taskmesh",
		Long:  `Print the version number of Taskmesh`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("🕸 Taskmesh v%s\n", version)
		},
	}
}

// Implementation functions

func runRun() error {
	mgr := newDaemonManager()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printInfo("Starting generation run...")
	if err := mgr.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	if eng := mgr.Engine(); eng != nil {
		printTaskTable(eng.Coordinator().Statuses())
	}
	printSuccess("Run finished")
	return nil
}

func runStatus() error {
	mgr := newDaemonManager()
	status, err := mgr.Status()
	if err != nil {
		return err
	}
	if !status.Running {
		printWarning("No run in progress")
		return nil
	}
	printInfo(fmt.Sprintf("Run in progress (pid %d)", status.PID))
	return nil
}

// printTaskTable renders a file/role status snapshot, colored by outcome
func printTaskTable(statuses map[types.TaskKey]types.TaskState) {
	keys := make([]types.TaskKey, 0, len(statuses))
	for key := range statuses {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Filename != keys[j].Filename {
			return keys[i].Filename < keys[j].Filename
		}
		return keys[i].Role < keys[j].Role
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tROLE\tSTATUS")
	fmt.Fprintln(w, "----\t----\t------")

	for _, key := range keys {
		state := statuses[key]

		statusColor := color.WhiteString(string(state))
		switch {
		case state.IsSuccess():
			statusColor = color.GreenString(string(state))
		case state == types.TaskStatePermanentlyFailed || state == types.TaskStateErrorProcessing:
			statusColor = color.RedString(string(state))
		case state == types.TaskStateReviewNeeded || state == types.TaskStateNeedsRework:
			statusColor = color.YellowString(string(state))
		}

		fmt.Fprintf(w, "%s\t%s\t%s\n", key.Filename, key.Role, statusColor)
	}

	w.Flush()
}

func runDaemonStart() error {
	mgr := newDaemonManager()

	if err := mgr.Start(); err != nil {
		return err
	}
	printSuccess("Daemon started")
	return nil
}

func runDaemonStop() error {
	mgr := newDaemonManager()

	if err := mgr.Stop(); err != nil {
		return err
	}
	printSuccess("Daemon stopped")
	return nil
}

func runDaemonRestart() error {
	mgr := newDaemonManager()

	if err := mgr.Restart(); err != nil {
		return err
	}
	printSuccess("Daemon restarted")
	return nil
}

func runDaemonStatus() error {
	mgr := newDaemonManager()

	status, err := mgr.Status()
	if err != nil {
		return err
	}

	if !status.Running {
		printWarning("Daemon is not running")
		return nil
	}
	printSuccess(fmt.Sprintf("Daemon is running (pid %d)", status.PID))
	return nil
}

func runValidate() error {
	mgr := config.NewManager()

	cfg, err := mgr.LoadConfig(getConfigPath())
	if err != nil {
		printError(fmt.Sprintf("Configuration is invalid: %v", err))
		return err
	}

	printSuccess(fmt.Sprintf("Configuration is valid (project: %s)", cfg.ProjectID))
	return nil
}

func newDaemonManager() *daemon.Manager {
	return daemon.NewManager(daemon.Config{
		ProjectRoot: projectRoot,
		ConfigPath:  getConfigPath(),
		LogLevel:    verbosity,
	})
}
