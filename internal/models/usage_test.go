package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/trobanga/stagehand/internal/models"
)

func TestUsage_Conversions(t *testing.T) {
	u := models.Usage{SpaceUsedKB: 1048576, FilesUsed: 12, SpaceQuotaKB: 10, HardSpaceQuotaKB: 20}

	assert.InDelta(t, 1.0, u.SpaceUsedGB(), 1e-9)
	assert.Equal(t, int64(1073741824), u.SpaceUsedBytes())
	assert.Equal(t, int64(10240), u.SoftQuotaBytes())
	assert.Equal(t, int64(20480), u.HardQuotaBytes())
}

func TestNewTelemetryRecord(t *testing.T) {
	export := models.DefaultConfig().Storage.Export
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	u := models.Usage{SpaceUsedKB: 10, FilesUsed: 3, SpaceQuotaKB: 100, HardSpaceQuotaKB: 200}

	record := models.NewTelemetryRecord(export, "2000123001", u, at)

	assert.Equal(t, "Work", record.Resource)
	assert.Equal(t, "/projects", record.Mountpoint)
	assert.Equal(t, "combined_project_users", record.User)
	assert.Equal(t, "2000123001", record.PI)
	assert.Equal(t, "2026-03-04T05:06:07Z", record.DT)
	assert.Equal(t, int64(10240), record.LogicalUsage)
	assert.Equal(t, record.LogicalUsage, record.PhysicalUsage)
	assert.Equal(t, int64(102400), record.SoftThreshold)
	assert.Equal(t, int64(204800), record.HardThreshold)
	assert.Equal(t, int64(3), record.FileCount)
}
