package models

import (
	"fmt"
	"path/filepath"
	"time"
)

// ProjectConfig is the top-level configuration for stagehand
type ProjectConfig struct {
	Database     string             `yaml:"database" json:"database"`
	Storage      StorageConfig      `yaml:"storage" json:"storage"`
	Provisioning ProvisioningConfig `yaml:"provisioning" json:"provisioning"`
	Retry        RetryConfig        `yaml:"retry" json:"retry"`
	Metrics      MetricsConfig      `yaml:"metrics" json:"metrics"`
}

// StorageConfig holds the task directories and Lustre settings.
// Empty directories are allowed: operations that need them become no-ops.
type StorageConfig struct {
	QueuePath        string         `yaml:"queue_path" json:"queue_path"`
	RunningPath      string         `yaml:"running_path" json:"running_path"`
	CompletedPath    string         `yaml:"completed_path" json:"completed_path"`
	ArchivePath      string         `yaml:"archive_path" json:"archive_path"`
	DeadLetterPath   string         `yaml:"dead_letter_path" json:"dead_letter_path"`
	AccountQueuePath string         `yaml:"account_queue_path" json:"account_queue_path"`
	LockPath         string         `yaml:"lock_path" json:"lock_path"` // Run locks; defaults to the database directory
	LFSCommand       string         `yaml:"lfs_command" json:"lfs_command"`
	Attributes       AttributeNames `yaml:"attributes" json:"attributes"`
	Export           ExportConfig   `yaml:"export" json:"export"`
}

// ExportConfig holds the constant fields of storage telemetry records
type ExportConfig struct {
	Resource   string `yaml:"resource" json:"resource"`
	Mountpoint string `yaml:"mountpoint" json:"mountpoint"`
	User       string `yaml:"user" json:"user"`
}

// ProvisioningConfig controls the account follow-up after a producer run
type ProvisioningConfig struct {
	RepeatedChecks int `yaml:"repeated_checks" json:"repeated_checks"`
	RecheckMinutes int `yaml:"recheck_minutes" json:"recheck_minutes"`
	DelaySeconds   int `yaml:"delay_seconds" json:"delay_seconds"`
}

// RetryConfig controls retry of transient store lookups
type RetryConfig struct {
	MaxAttempts      int   `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoffMs int64 `yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
	MaxBackoffMs     int64 `yaml:"max_backoff_ms" json:"max_backoff_ms"`
}

// MetricsConfig controls the Prometheus textfile output
type MetricsConfig struct {
	Textfile string `yaml:"textfile" json:"textfile"`
}

// DefaultConfig returns the documented fallback configuration
func DefaultConfig() ProjectConfig {
	return ProjectConfig{
		Database: "./stagehand.db",
		Storage: StorageConfig{
			Attributes: DefaultAttributeNames(),
			Export: ExportConfig{
				Resource:   "Work",
				Mountpoint: "/projects",
				User:       "combined_project_users",
			},
		},
		Provisioning: ProvisioningConfig{
			RepeatedChecks: 3,
			RecheckMinutes: 5,
			DelaySeconds:   0,
		},
		Retry: RetryConfig{
			MaxAttempts:      2, // one retry
			InitialBackoffMs: 200,
			MaxBackoffMs:     2000,
		},
	}
}

// Validate checks values that have no sensible fallback
func (c *ProjectConfig) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}

	names := c.Storage.Attributes
	for _, key := range []AttributeKey{AttrQuotaGB, AttrFileCount, AttrProjectID, AttrPath} {
		if names.Name(key) == "" {
			return fmt.Errorf("storage.attributes.%s must not be empty", key)
		}
	}

	if c.Provisioning.RepeatedChecks <= 0 {
		return fmt.Errorf("provisioning.repeated_checks must be > 0, got %d", c.Provisioning.RepeatedChecks)
	}
	if c.Provisioning.RecheckMinutes < 0 {
		return fmt.Errorf("provisioning.recheck_minutes must be >= 0, got %d", c.Provisioning.RecheckMinutes)
	}
	if c.Provisioning.DelaySeconds < 0 {
		return fmt.Errorf("provisioning.delay_seconds must be >= 0, got %d", c.Provisioning.DelaySeconds)
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return fmt.Errorf("retry.max_backoff_ms (%d) must be >= retry.initial_backoff_ms (%d)",
			c.Retry.MaxBackoffMs, c.Retry.InitialBackoffMs)
	}

	return nil
}

// ProducerConfigured reports whether the producer has somewhere to write
func (c *StorageConfig) ProducerConfigured() bool {
	return c.QueuePath != ""
}

// ConsumerConfigured reports whether the consumer can poll and archive
func (c *StorageConfig) ConsumerConfigured() bool {
	return c.CompletedPath != "" && c.ArchivePath != ""
}

// LockDir returns where pipeline run locks live: storage.lock_path, else the database directory
func (c *ProjectConfig) LockDir() string {
	if c.Storage.LockPath != "" {
		return c.Storage.LockPath
	}
	return filepath.Dir(c.Database)
}

// DeadLetterDir returns the configured dead-letter directory or its default under the archive
func (c *StorageConfig) DeadLetterDir() string {
	if c.DeadLetterPath != "" {
		return c.DeadLetterPath
	}
	if c.ArchivePath == "" {
		return ""
	}
	return filepath.Join(c.ArchivePath, "dead_letter")
}

// RecheckInterval returns the minimum age of a profile change before re-requesting an account
func (c *ProvisioningConfig) RecheckInterval() time.Duration {
	return time.Duration(c.RecheckMinutes) * time.Minute
}

// Delay returns the stagger between account requests
func (c *ProvisioningConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds) * time.Second
}
