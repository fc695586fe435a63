package models_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/trobanga/stagehand/internal/models"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	config := models.DefaultConfig()
	assert.NoError(t, config.Validate())
	assert.False(t, config.Storage.ProducerConfigured())
	assert.False(t, config.Storage.ConsumerConfigured())
}

func TestConfig_ValidateRejects(t *testing.T) {
	cases := map[string]func(c *models.ProjectConfig){
		"empty database":       func(c *models.ProjectConfig) { c.Database = "" },
		"empty attribute":      func(c *models.ProjectConfig) { c.Storage.Attributes.Path = "" },
		"zero checks":          func(c *models.ProjectConfig) { c.Provisioning.RepeatedChecks = 0 },
		"negative recheck":     func(c *models.ProjectConfig) { c.Provisioning.RecheckMinutes = -1 },
		"negative delay":       func(c *models.ProjectConfig) { c.Provisioning.DelaySeconds = -1 },
		"zero attempts":        func(c *models.ProjectConfig) { c.Retry.MaxAttempts = 0 },
		"backoff out of order": func(c *models.ProjectConfig) { c.Retry.MaxBackoffMs = c.Retry.InitialBackoffMs - 1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			config := models.DefaultConfig()
			mutate(&config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestStorageConfig_DeadLetterDir(t *testing.T) {
	c := models.StorageConfig{}
	assert.Equal(t, "", c.DeadLetterDir())

	c.ArchivePath = "/srv/archive"
	assert.Equal(t, filepath.Join("/srv/archive", "dead_letter"), c.DeadLetterDir())

	c.DeadLetterPath = "/srv/rejected"
	assert.Equal(t, "/srv/rejected", c.DeadLetterDir())
}

func TestProjectConfig_LockDir(t *testing.T) {
	c := models.DefaultConfig()
	c.Database = "/var/lib/stagehand/stagehand.db"
	c.Storage.QueuePath = "/srv/storage/queue"
	assert.Equal(t, "/var/lib/stagehand", c.LockDir(), "locks stay out of the task directories")

	c.Storage.LockPath = "/run/stagehand"
	assert.Equal(t, "/run/stagehand", c.LockDir())
}

func TestProvisioningConfig_Durations(t *testing.T) {
	c := models.ProvisioningConfig{RecheckMinutes: 5, DelaySeconds: 2}
	assert.Equal(t, 5*time.Minute, c.RecheckInterval())
	assert.Equal(t, 2*time.Second, c.Delay())
}
