package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/trobanga/stagehand/internal/pipeline"
	"github.com/trobanga/stagehand/internal/services"
	"github.com/trobanga/stagehand/internal/ui"
)

var (
	delaySeconds   int
	recheckMinutes int
)

// tasksCmd represents the tasks command group
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Create and reconcile storage provisioning tasks",
	Long: `Create and reconcile storage provisioning tasks.

Available subcommands:
  create - Write task files for allocation users awaiting storage
  check  - Reconcile task files the agent has completed
  list   - List task ids in the queue, running and completed directories`,
}

// tasksCreateCmd represents the tasks create command
var tasksCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Write task files for allocation users awaiting storage",
	Long: `Write one task file into the queue directory for every allocation user
whose storage status is New, UpdateQuota, NewPermissions or ChangePermissions,
then mark them Pending.

Users whose shell account is not validated yet are skipped; an account
request is written for each of them unless their profile changed in the
last --recheck minutes or validation has failed repeatedly.

Examples:
  # Run once
  stagehand tasks create

  # Stagger account requests by 10 seconds, re-request after 30 minutes
  stagehand tasks create --delay 10 --recheck 30`,
	RunE: runTasksCreate,
}

// tasksCheckCmd represents the tasks check command
var tasksCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Reconcile completed task files",
	Long: `Scan the completed directory, mark the matching allocation users
Provisioned and archive each file with a completion timestamp.

Files that cannot be matched to an allocation user are moved to the
dead-letter directory (default: <archive_path>/dead_letter).

Example:
  stagehand tasks check`,
	RunE: runTasksCheck,
}

// tasksListCmd represents the tasks list command
var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List task ids in the task directories",
	Long: `List the task ids found in the queue, running and completed directories,
plus the dependencies referenced by queued tasks.

Example:
  stagehand tasks list`,
	RunE: runTasksList,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksCreateCmd)
	tasksCmd.AddCommand(tasksCheckCmd)
	tasksCmd.AddCommand(tasksListCmd)

	tasksCreateCmd.Flags().IntVarP(&delaySeconds, "delay", "d", 0, "seconds to wait between account requests (default from config)")
	tasksCreateCmd.Flags().IntVarP(&recheckMinutes, "recheck", "r", 0, "minutes before re-requesting an account (default from config)")
}

func runTasksCreate(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("delay") {
		services.SetConfigValue("provisioning.delay_seconds", delaySeconds)
	}
	if cmd.Flags().Changed("recheck") {
		services.SetConfigValue("provisioning.recheck_minutes", recheckMinutes)
	}

	logger := newLogger()
	rt, cleanup, err := openRuntime(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	start := time.Now()

	return services.WithRunLock(rt.Config.LockDir(), pipeline.PipelineProducer, logger, func() error {
		result, err := pipeline.ProducePendingTasks(ctx, rt)
		if err != nil {
			return err
		}
		fmt.Println(result.Summary(time.Since(start).Round(time.Millisecond)))

		followUp := &pipeline.AccountFollowUp{
			Runtime:  rt,
			Notifier: services.LogNotifier{Logger: logger},
			Settings: rt.Config.Provisioning,
		}
		report, err := followUp.Run(ctx, result.Unprovisioned)
		if err != nil {
			return err
		}
		if len(report.Requested)+len(report.GaveUp) > 0 {
			fmt.Printf("Account requests: %d written, %d given up\n", len(report.Requested), len(report.GaveUp))
		}
		return nil
	})
}

func runTasksCheck(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	rt, cleanup, err := openRuntime(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	start := time.Now()
	return services.WithRunLock(rt.Config.LockDir(), pipeline.PipelineConsumer, logger, func() error {
		report, err := pipeline.ReconcileCompletedTasks(cmd.Context(), rt)
		if err != nil {
			return err
		}

		if len(report.Results) == 0 {
			fmt.Println("No completed tasks")
			return nil
		}

		for _, r := range report.Results {
			fmt.Printf("%s %-18s %-12s %s\n", getOutcomeSymbol(r.Outcome), r.TaskID, r.Outcome, r.Destination)
		}
		fmt.Printf("\nTotal: %d completed task(s), %d provisioned, %d dead-lettered in %s\n",
			len(report.Results),
			report.Count(pipeline.OutcomeProvisioned),
			report.Count(pipeline.OutcomeDeadLetter),
			ui.FormatDuration(time.Since(start)))
		return nil
	})
}

func runTasksList(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	queue := services.NewTaskQueue(afero.NewOsFs(), config.Storage, logger)

	dirs := []struct {
		name string
		path string
	}{
		{"queued", config.Storage.QueuePath},
		{"running", config.Storage.RunningPath},
		{"completed", config.Storage.CompletedPath},
	}

	fmt.Printf("%-10s %-18s %s\n", "STATE", "TASK ID", "DIRECTORY")
	fmt.Println("------------------------------------------------------------------------")

	total := 0
	for _, dir := range dirs {
		ids, err := queue.ListIDs(dir.path)
		if err != nil {
			return fmt.Errorf("failed to list %s tasks: %w", dir.name, err)
		}
		for _, id := range ids {
			fmt.Printf("%-10s %-18s %s\n", dir.name, id, dir.path)
		}
		total += len(ids)
	}
	fmt.Printf("\nTotal: %d tasks\n", total)

	dependencies, err := queuedDependencies(queue)
	if err != nil {
		return err
	}
	if len(dependencies) > 0 {
		fmt.Println("\nDependencies of queued tasks:")
		for _, id := range dependencies {
			fmt.Printf("  %s\n", id)
		}
	}
	return nil
}

// queuedDependencies returns the distinct dependency ids referenced by queued tasks
func queuedDependencies(queue *services.TaskQueue) ([]string, error) {
	names, err := queue.QueuedFiles()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, name := range names {
		task, err := queue.ReadQueued(name)
		if err != nil {
			return nil, err
		}
		for _, id := range task.DependentTasks {
			seen[id] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func getOutcomeSymbol(outcome pipeline.ReconcileOutcome) string {
	switch outcome {
	case pipeline.OutcomeProvisioned:
		return "✓"
	case pipeline.OutcomeUnchanged, pipeline.OutcomeSuperseded:
		return "○"
	case pipeline.OutcomeDeadLetter, pipeline.OutcomeStuck:
		return "✗"
	default:
		return " "
	}
}
