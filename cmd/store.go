package cmd

import (
	"fmt"
	"sort"

	"github.com/juju/clock"
	"github.com/spf13/cobra"
	"github.com/trobanga/stagehand/internal/models"
	"github.com/trobanga/stagehand/internal/services"
)

// storeCmd represents the store command group
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the local allocation store",
	Long: `Manage the SQLite allocation store the pipelines read and update.

Available subcommands:
  init   - Create the database schema
  seed   - Load allocations, users and profiles from a YAML fixture
  status - Show allocation users and their storage status`,
}

// storeInitCmd represents the store init command
var storeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database schema",
	RunE:  runStoreInit,
}

// storeSeedCmd represents the store seed command
var storeSeedCmd = &cobra.Command{
	Use:   "seed <fixture.yaml>",
	Short: "Load a YAML fixture into the store",
	Long: `Load allocations, allocation users, storage history and profiles from a
YAML fixture. Existing rows with the same ids are updated; recorded
storage and validation history is kept.

Example:
  stagehand store seed ./testdata/portal.yaml`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeYAML,
	RunE:              runStoreSeed,
}

// storeStatusCmd represents the store status command
var storeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show allocation users and their storage status",
	RunE:  runStoreStatus,
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeInitCmd)
	storeCmd.AddCommand(storeSeedCmd)
	storeCmd.AddCommand(storeStatusCmd)
}

func openStore() (*services.SQLiteStore, *models.ProjectConfig, error) {
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := services.OpenSQLiteStore(config.Database, clock.WallClock)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open allocation store: %w", err)
	}
	return store, config, nil
}

func runStoreInit(cmd *cobra.Command, args []string) error {
	store, config, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("Initialized store at %s\n", config.Database)
	return nil
}

func runStoreSeed(cmd *cobra.Command, args []string) error {
	fixture, err := services.LoadFixture(args[0])
	if err != nil {
		return err
	}

	store, config, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Seed(cmd.Context(), *fixture); err != nil {
		return fmt.Errorf("failed to seed store: %w", err)
	}

	fmt.Printf("Seeded %s: %d allocations, %d allocation users, %d profiles\n",
		config.Database, len(fixture.Allocations), len(fixture.AllocationUsers), len(fixture.Profiles))
	return nil
}

func runStoreStatus(cmd *cobra.Command, args []string) error {
	store, config, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListAllocationUsers(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list allocation users: %w", err)
	}

	if path := services.GetConfigFilePath(); path != "" {
		fmt.Printf("Config: %s\n", path)
	}
	fmt.Printf("Store:  %s\n\n", config.Database)

	if len(users) == 0 {
		fmt.Println("No allocation users found")
		return nil
	}

	fmt.Printf("%-8s %-8s %-16s %-18s %-18s %s\n", "ALLOC", "ID", "USER", "STATUS", "STORAGE STATUS", "PERMISSION")
	fmt.Println("----------------------------------------------------------------------------------------------")

	counts := make(map[models.StorageStatus]int)
	for _, u := range users {
		fmt.Printf("%-8d %-8d %-16s %-18s %-18s %s\n",
			u.AllocationID, u.ID, u.Username, u.Status, u.StorageStatus, u.StoragePermission)
		counts[u.StorageStatus]++
	}

	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	fmt.Printf("\nTotal: %d allocation users\n", len(users))
	for _, status := range statuses {
		fmt.Printf("  %-18s %d\n", status, counts[models.StorageStatus(status)])
	}
	return nil
}
