package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/trobanga/stagehand/internal/pipeline"
	"github.com/trobanga/stagehand/internal/services"
	"github.com/trobanga/stagehand/internal/ui"
)

var (
	usageApply      bool
	usageDryRun     bool
	usageExportDir  string
	usageNoProgress bool
)

// usageCmd represents the usage command group
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Synchronize Lustre storage usage",
}

// usageSyncCmd represents the usage sync command
var usageSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy Lustre usage into allocations and telemetry exports",
	Long: `Query the Lustre quota of every active storage allocation that tracks usage.

With --sync the space used (GB) and file count are written to the allocation's
quota attributes. With --export-dir a JSON telemetry file is written to that
directory. Both may be combined; --dry-run only logs what would happen.

Examples:
  # Update allocations
  stagehand usage sync --sync

  # Update allocations and write a telemetry export
  stagehand usage sync --sync --export-dir /var/spool/xdmod

  # Show what would change
  stagehand usage sync --sync --dry-run -v`,
	RunE: runUsageSync,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageSyncCmd)

	usageSyncCmd.Flags().BoolVarP(&usageApply, "sync", "s", false, "write usage to allocation attributes")
	usageSyncCmd.Flags().BoolVarP(&usageDryRun, "dry-run", "n", false, "log usage without writing anything")
	usageSyncCmd.Flags().StringVarP(&usageExportDir, "export-dir", "x", "", "directory for the telemetry export file")
	usageSyncCmd.Flags().BoolVar(&usageNoProgress, "no-progress", false, "disable the progress bar")
	_ = usageSyncCmd.MarkFlagDirname("export-dir")
}

func runUsageSync(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	rt, cleanup, err := openRuntime(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	sync := &pipeline.UsageSync{
		Runtime:  rt,
		Exporter: services.NewTelemetryExporter(nil, logger),
	}
	if rt.Config.Storage.LFSCommand != "" {
		sync.Source = services.NewLFSUsageSource(rt.Config.Storage.LFSCommand)
	}
	if !usageNoProgress {
		sync.NewProgress = func(total int64) pipeline.Progress {
			return ui.NewProgressBar(total, "Syncing usage")
		}
	}

	mode := pipeline.UsageMode{
		Apply:     usageApply,
		ExportDir: usageExportDir,
		DryRun:    usageDryRun,
	}

	start := time.Now()
	return services.WithRunLock(rt.Config.LockDir(), pipeline.PipelineUsage, logger, func() error {
		report, err := sync.Run(cmd.Context(), mode)
		if err != nil {
			return err
		}

		fmt.Printf("%-12s %s\n", "RESULT", "ALLOCATIONS")
		fmt.Println("------------------------")
		total := 0
		for _, result := range []pipeline.UsageResult{
			pipeline.UsageUpdated,
			pipeline.UsageExported,
			pipeline.UsageSimulated,
			pipeline.UsageAbsent,
			pipeline.UsageDeprecated,
			pipeline.UsageUntracked,
			pipeline.UsageFailed,
		} {
			if n := report.Results[result]; n > 0 {
				fmt.Printf("%-12s %d\n", result, n)
				total += n
			}
		}
		fmt.Printf("\nTotal: %d allocations, %s used, in %s\n",
			total, ui.FormatBytes(report.BytesUsed), ui.FormatDuration(time.Since(start)))
		if report.ExportPath != "" {
			fmt.Printf("Export: %s\n", report.ExportPath)
		}
		return nil
	})
}
