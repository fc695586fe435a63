package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/models"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// TelemetryExporter writes storage telemetry batches to a local directory or any afs URL
type TelemetryExporter struct {
	fs     afs.Service
	logger *lib.Logger
}

// NewTelemetryExporter creates an exporter over the given storage service
func NewTelemetryExporter(fs afs.Service, logger *lib.Logger) *TelemetryExporter {
	if fs == nil {
		fs = afs.New()
	}
	return &TelemetryExporter{fs: fs, logger: logger}
}

// ExportFileName returns "<YYYY-MM-DDTHH:MM:SSZ>.json"
func ExportFileName(at time.Time) string {
	return at.UTC().Format(models.TelemetryTimeLayout) + ".json"
}

// Export writes one JSON array of records into dir and returns its location
func (e *TelemetryExporter) Export(ctx context.Context, dir string, at time.Time, records []models.TelemetryRecord) (string, error) {
	if records == nil {
		records = []models.TelemetryRecord{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	exists, err := e.fs.Exists(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("failed to check export directory %s: %w", dir, err)
	}
	if !exists {
		if err := e.fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return "", fmt.Errorf("failed to create export directory %s: %w", dir, err)
		}
	}

	target := url.Join(url.Normalize(dir, file.Scheme), ExportFileName(at))
	if err := e.fs.Upload(ctx, target, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to write telemetry file %s: %w", target, err)
	}

	e.logger.Debug("Wrote telemetry file", "path", target, "records", len(records))
	return target, nil
}
