package models

import "time"

const kilobyte = 1024

// Usage is a project's consumption as reported by Lustre, in kilobytes
type Usage struct {
	SpaceUsedKB      float64 `json:"space_used"`
	FilesUsed        int64   `json:"files_used"`
	SpaceQuotaKB     float64 `json:"space_quota"`
	HardSpaceQuotaKB float64 `json:"hard_space_quota"`
}

// SpaceUsedGB converts the used space to gigabytes
func (u Usage) SpaceUsedGB() float64 {
	return u.SpaceUsedKB / (kilobyte * kilobyte)
}

// SpaceUsedBytes converts the used space to bytes
func (u Usage) SpaceUsedBytes() int64 {
	return int64(u.SpaceUsedKB * kilobyte)
}

// SoftQuotaBytes converts the soft quota to bytes
func (u Usage) SoftQuotaBytes() int64 {
	return int64(u.SpaceQuotaKB * kilobyte)
}

// HardQuotaBytes converts the hard quota to bytes
func (u Usage) HardQuotaBytes() int64 {
	return int64(u.HardSpaceQuotaKB * kilobyte)
}

// TelemetryTimeLayout is used both for the record timestamp and the export file name
const TelemetryTimeLayout = "2006-01-02T15:04:05Z"

// TelemetryRecord is one entry of the storage telemetry export
type TelemetryRecord struct {
	Resource      string `json:"resource"`
	Mountpoint    string `json:"mountpoint"`
	User          string `json:"user"`
	PI            string `json:"pi"`
	DT            string `json:"dt"`
	SoftThreshold int64  `json:"soft_threshold"`
	HardThreshold int64  `json:"hard_threshold"`
	FileCount     int64  `json:"file_count"`
	LogicalUsage  int64  `json:"logical_usage"`
	PhysicalUsage int64  `json:"physical_usage"`
}

// NewTelemetryRecord converts a usage sample into an export record
func NewTelemetryRecord(export ExportConfig, projectID string, usage Usage, at time.Time) TelemetryRecord {
	used := usage.SpaceUsedBytes()
	return TelemetryRecord{
		Resource:      export.Resource,
		Mountpoint:    export.Mountpoint,
		User:          export.User,
		PI:            projectID,
		DT:            at.UTC().Format(TelemetryTimeLayout),
		SoftThreshold: usage.SoftQuotaBytes(),
		HardThreshold: usage.HardQuotaBytes(),
		FileCount:     usage.FilesUsed,
		LogicalUsage:  used,
		PhysicalUsage: used,
	}
}
