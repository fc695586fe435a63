package services

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/models"
)

// LoadConfig loads configuration from file and merges with environment overrides
// Priority order (highest to lowest):
//  1. Values set at runtime via SetConfigValue (CLI flags)
//  2. Environment variables (STAGEHAND_STORAGE_QUEUE_PATH, ...)
//  3. Configuration file
//  4. Default values
func LoadConfig(configFile string) (*models.ProjectConfig, error) {
	return LoadConfigWith(viper.GetViper(), configFile)
}

// LoadConfigWith loads configuration through a specific viper instance
// Useful for tests that must not share the global instance
func LoadConfigWith(v *viper.Viper, configFile string) (*models.ProjectConfig, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("stagehand")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/stagehand")
		v.AddConfigPath("/etc/stagehand")
	}

	v.SetEnvPrefix("STAGEHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Build config manually from viper values
	// (AutomaticEnv only applies to keys read through Get*)
	config := models.ProjectConfig{
		Database: v.GetString("database"),
		Storage: models.StorageConfig{
			QueuePath:        v.GetString("storage.queue_path"),
			RunningPath:      v.GetString("storage.running_path"),
			CompletedPath:    v.GetString("storage.completed_path"),
			ArchivePath:      v.GetString("storage.archive_path"),
			DeadLetterPath:   v.GetString("storage.dead_letter_path"),
			AccountQueuePath: v.GetString("storage.account_queue_path"),
			LFSCommand:       v.GetString("storage.lfs_command"),
			Attributes: models.AttributeNames{
				QuotaGB:   v.GetString("storage.attributes.quota_gb"),
				FileCount: v.GetString("storage.attributes.file_count"),
				ProjectID: v.GetString("storage.attributes.project_id"),
				Path:      v.GetString("storage.attributes.path"),
			},
			Export: models.ExportConfig{
				Resource:   v.GetString("storage.export.resource"),
				Mountpoint: v.GetString("storage.export.mountpoint"),
				User:       v.GetString("storage.export.user"),
			},
		},
		Provisioning: models.ProvisioningConfig{
			RepeatedChecks: v.GetInt("provisioning.repeated_checks"),
			RecheckMinutes: v.GetInt("provisioning.recheck_minutes"),
			DelaySeconds:   v.GetInt("provisioning.delay_seconds"),
		},
		Retry: models.RetryConfig{
			MaxAttempts:      v.GetInt("retry.max_attempts"),
			InitialBackoffMs: v.GetInt64("retry.initial_backoff_ms"),
			MaxBackoffMs:     v.GetInt64("retry.max_backoff_ms"),
		},
		Metrics: models.MetricsConfig{
			Textfile: v.GetString("metrics.textfile"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, lib.ErrInvalidConfig(err)
	}

	return &config, nil
}

// setDefaults registers every key with its fallback so env overrides apply to all of them
func setDefaults(v *viper.Viper) {
	d := models.DefaultConfig()

	v.SetDefault("database", d.Database)
	v.SetDefault("storage.queue_path", d.Storage.QueuePath)
	v.SetDefault("storage.running_path", d.Storage.RunningPath)
	v.SetDefault("storage.completed_path", d.Storage.CompletedPath)
	v.SetDefault("storage.archive_path", d.Storage.ArchivePath)
	v.SetDefault("storage.dead_letter_path", d.Storage.DeadLetterPath)
	v.SetDefault("storage.account_queue_path", d.Storage.AccountQueuePath)
	v.SetDefault("storage.lock_path", d.Storage.LockPath)
	v.SetDefault("storage.lfs_command", d.Storage.LFSCommand)
	v.SetDefault("storage.attributes.quota_gb", d.Storage.Attributes.QuotaGB)
	v.SetDefault("storage.attributes.file_count", d.Storage.Attributes.FileCount)
	v.SetDefault("storage.attributes.project_id", d.Storage.Attributes.ProjectID)
	v.SetDefault("storage.attributes.path", d.Storage.Attributes.Path)
	v.SetDefault("storage.export.resource", d.Storage.Export.Resource)
	v.SetDefault("storage.export.mountpoint", d.Storage.Export.Mountpoint)
	v.SetDefault("storage.export.user", d.Storage.Export.User)
	v.SetDefault("provisioning.repeated_checks", d.Provisioning.RepeatedChecks)
	v.SetDefault("provisioning.recheck_minutes", d.Provisioning.RecheckMinutes)
	v.SetDefault("provisioning.delay_seconds", d.Provisioning.DelaySeconds)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_backoff_ms", d.Retry.InitialBackoffMs)
	v.SetDefault("retry.max_backoff_ms", d.Retry.MaxBackoffMs)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}

// GetConfigFilePath returns the path to the config file that was loaded
func GetConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// SetConfigValue allows runtime override of config values
// Useful for CLI flag overrides
func SetConfigValue(key string, value interface{}) {
	viper.Set(key, value)
}
