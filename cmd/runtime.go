package cmd

import (
	"fmt"

	"github.com/juju/clock"
	"github.com/spf13/afero"
	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/pipeline"
	"github.com/trobanga/stagehand/internal/services"
)

// openRuntime loads configuration and opens the store and task directories.
// The returned cleanup closes the store and writes the metrics textfile.
func openRuntime(logger *lib.Logger) (*pipeline.Runtime, func(), error) {
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := services.OpenSQLiteStore(config.Database, clock.WallClock)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open allocation store: %w", err)
	}

	rt := &pipeline.Runtime{
		Config:  config,
		Store:   store,
		Queue:   services.NewTaskQueue(afero.NewOsFs(), config.Storage, logger),
		Clock:   clock.WallClock,
		Logger:  logger,
		Metrics: services.NewRunMetrics(),
	}

	cleanup := func() {
		if err := rt.Metrics.WriteTextfile(config.Metrics.Textfile); err != nil {
			logger.Warn("Failed to write metrics", "path", config.Metrics.Textfile, "error", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("Failed to close allocation store", "error", err)
		}
	}
	return rt, cleanup, nil
}
