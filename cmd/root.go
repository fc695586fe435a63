/*
Copyright © 2025 Stagehand Contributors

Stagehand drives the storage provisioning task pipeline of the allocation portal.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/trobanga/stagehand/internal/lib"
)

var (
	// Global flags
	cfgFile   string
	verbose   bool
	verbosity int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Stagehand - storage provisioning task pipeline",
	Long: `Stagehand hands storage provisioning work for allocation users to the
Lustre provisioning agent and reconciles its results.

It is meant to run from cron on the portal host:
  - tasks create  writes task files for allocation users awaiting storage
  - tasks check   marks users provisioned once the agent has finished
  - usage sync    copies Lustre usage into allocations and telemetry exports

Task files are exchanged through shared directories; every run is a single
bounded pass and is safe to repeat.

Example:
  stagehand tasks create --delay 5
  stagehand tasks check
  stagehand usage sync --sync --export-dir /var/spool/xdmod

For more information, visit: https://github.com/trobanga/stagehand`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var provisionErr *lib.ProvisionError
		if errors.As(err, &provisionErr) {
			fmt.Fprint(os.Stderr, provisionErr.UserMessage())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./stagehand.yaml, ~/.config/stagehand/stagehand.yaml)")
	rootCmd.PersistentFlags().IntVar(&verbosity, "verbosity", 1, "log verbosity: 0 error, 1 warn, 2 info, 3 debug")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging (same as --verbosity 3)")
	_ = rootCmd.RegisterFlagCompletionFunc("config", completeYAML)

	rootCmd.SetVersionTemplate("Stagehand version {{.Version}}\n")
}

// newLogger builds the logger selected by --verbosity and --verbose
func newLogger() *lib.Logger {
	level := lib.LevelFromVerbosity(verbosity)
	if verbose {
		level = lib.LogLevelDebug
	}
	return lib.NewLogger(level)
}
