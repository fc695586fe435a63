package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/models"
	"github.com/trobanga/stagehand/internal/services"
)

// UsageMode selects what a usage sync does with the samples it reads.
// Apply and export may be combined; DryRun overrides both.
type UsageMode struct {
	Apply     bool
	ExportDir string
	DryRun    bool
}

// Enabled reports whether the mode asks for any work at all
func (m UsageMode) Enabled() bool {
	return m.Apply || m.ExportDir != ""
}

// UsageResult is what happened to one allocation
type UsageResult string

const (
	UsageUpdated    UsageResult = "updated"
	UsageExported   UsageResult = "exported"
	UsageSimulated  UsageResult = "simulated"
	UsageAbsent     UsageResult = "absent"
	UsageDeprecated UsageResult = "deprecated"
	UsageUntracked  UsageResult = "untracked"
	UsageFailed     UsageResult = "failed"
)

// UsageReport summarizes a usage sync
type UsageReport struct {
	Results    map[UsageResult]int
	Records    []models.TelemetryRecord
	ExportPath string
	BytesUsed  int64
}

// Progress receives one tick per allocation visited
type Progress interface {
	Add(amount int64) error
	Finish() error
}

// UsageSync copies Lustre usage into allocation attributes and/or a telemetry export
type UsageSync struct {
	Runtime  *Runtime
	Source   services.UsageSource
	Exporter *services.TelemetryExporter
	// NewProgress is called once the number of allocations is known; nil disables progress
	NewProgress func(total int64) Progress
}

// Run performs one sync. Per-allocation failures are logged and skipped; an export
// failure is logged and not returned.
func (s *UsageSync) Run(ctx context.Context, mode UsageMode) (*UsageReport, error) {
	rt := s.Runtime
	startTime := rt.Clock.Now()
	report := &UsageReport{Results: make(map[UsageResult]int)}

	if s.Source == nil {
		rt.Logger.Warn(lib.ErrNotConfigured("usage sync", "storage.lfs_command").Error())
		return report, nil
	}
	if !mode.Enabled() {
		rt.Logger.Warn("Usage sync has nothing to do; pass --sync and/or --export-dir")
		return report, nil
	}
	if mode.DryRun {
		rt.Logger.Warn("Using dry run, no values will be updated")
	}

	lib.LogRunStarted(rt.Logger, PipelineUsage)

	var allocations []models.Allocation
	err := rt.withRetry(ctx, "list storage allocations", func(ctx context.Context) error {
		var err error
		allocations, err = rt.Store.ListActiveStorageAllocations(ctx)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("failed to list storage allocations: %w", err)
	}

	var progress Progress
	if s.NewProgress != nil {
		progress = s.NewProgress(int64(len(allocations)))
	}

	for _, allocation := range allocations {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := s.syncOne(ctx, allocation, mode, startTime, report)
		report.Results[result]++
		rt.Metrics.UsageRecord(string(result))
		if progress != nil {
			_ = progress.Add(1)
		}
	}
	if progress != nil {
		_ = progress.Finish()
	}

	if mode.ExportDir != "" && !mode.DryRun {
		path, err := s.Exporter.Export(ctx, mode.ExportDir, startTime, report.Records)
		if err != nil {
			rt.Logger.Error("Failed to write telemetry export", "dir", mode.ExportDir, "error", err)
		} else {
			report.ExportPath = path
		}
	}

	rt.Metrics.RunCompleted(PipelineUsage, rt.Clock.Now())
	lib.LogRunCompleted(rt.Logger, PipelineUsage, len(allocations), rt.Clock.Now().Sub(startTime))
	return report, nil
}

func (s *UsageSync) syncOne(ctx context.Context, allocation models.Allocation, mode UsageMode, at time.Time, report *UsageReport) UsageResult {
	rt := s.Runtime
	names := rt.Config.Storage.Attributes

	if allocation.IsDeprecated() {
		return UsageDeprecated
	}

	attrs, err := models.ParseAttributes(allocation.Attributes, names)
	if err != nil {
		rt.Logger.Error(lib.ErrInvalidAllocation(allocation.ID, err).Error())
		return UsageFailed
	}
	if !attrs.HasUsageAttribute() {
		return UsageUntracked
	}

	projectID, _ := attrs.Get(models.AttrProjectID)
	if projectID == "" {
		rt.Logger.Warn("Allocation tracks usage but has no storage project id", "allocation_id", allocation.ID)
		return UsageFailed
	}
	rootPath := attrs.RootPath()
	if rootPath == "" {
		rt.Logger.Debug("No storage path; querying the default mount", "project_id", projectID)
	}

	usage, ok, err := s.Source.Usage(ctx, projectID, rootPath)
	if err != nil {
		rt.Logger.Error(lib.ErrUsageUnavailable(projectID, err).Error(), "allocation_id", allocation.ID)
		return UsageFailed
	}
	if !ok {
		rt.Logger.Debug("No usage reported yet", "project_id", projectID)
		return UsageAbsent
	}

	if mode.DryRun {
		rt.Logger.Info("Simulating usage update",
			"allocation_id", allocation.ID,
			"space_gb", usage.SpaceUsedGB(),
			"files", usage.FilesUsed)
		return UsageSimulated
	}

	result := UsageExported
	if mode.Apply {
		if err := s.apply(ctx, allocation.ID, names, usage); err != nil {
			rt.Logger.Error("Failed to set usage", "allocation_id", allocation.ID, "error", err)
			return UsageFailed
		}
		result = UsageUpdated
	}

	if mode.ExportDir != "" {
		report.Records = append(report.Records, models.NewTelemetryRecord(rt.Config.Storage.Export, projectID, usage, at))
	}
	report.BytesUsed += usage.SpaceUsedBytes()

	lib.LogUsageSynced(rt.Logger, allocation.ID, projectID, usage.SpaceUsedGB(), usage.FilesUsed)
	return result
}

func (s *UsageSync) apply(ctx context.Context, allocationID int64, names models.AttributeNames, usage models.Usage) error {
	rt := s.Runtime
	return rt.withRetry(ctx, "set usage", func(ctx context.Context) error {
		if err := rt.Store.SetUsage(ctx, allocationID, names.QuotaGB, usage.SpaceUsedGB()); err != nil {
			return err
		}
		return rt.Store.SetUsage(ctx, allocationID, names.FileCount, float64(usage.FilesUsed))
	})
}
