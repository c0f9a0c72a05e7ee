package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
	"github.com/obentoo/triggerdockerbuild/internal/common/output"
	"github.com/obentoo/triggerdockerbuild/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded versions",
	Long:  `Show the version recorded for each application, including changes waiting out their grace period.`,
	Run:   runStatus,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <key>",
	Short: "Drop the record of an application",
	Long: `Remove the record stored under key (as shown by "status"). The next pass
treats the application as never seen and records its version without acting.`,
	Args: cobra.ExactArgs(1),
	Run:  runForget,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(forgetCmd)
}

// openStore opens the state file without requiring a complete configuration
func openStore() (*state.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path, err := cfg.ResolveStatePath()
	if err != nil {
		return nil, err
	}
	return state.Open(path)
}

func runStatus(cmd *cobra.Command, args []string) {
	store, err := openStore()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	entries := store.List()
	if len(entries) == 0 {
		output.Info.Printf("No records in %s\n", store.Path())
		return
	}

	output.Header.Printf("Records (%s):\n", store.Path())
	for _, e := range entries {
		displayRecord(e)
	}
}

func displayRecord(e state.Entry) {
	rec := e.Record
	fmt.Printf("  %s %s", output.Package.Sprint(e.Key), rec.PreviousVersion)
	if rec.Pending() {
		fmt.Printf(" %s %s", output.Pending.Sprintf("-> %s", rec.CurrentVersion),
			output.Dim.Sprintf("(pending since %s)", rec.PendingSince.Local().Format(time.DateTime)))
	} else if rec.CurrentVersion != rec.PreviousVersion {
		fmt.Printf(" %s", output.Throttled.Sprintf("-> %s (waiting)", rec.CurrentVersion))
	}
	fmt.Println()

	if rec.LastTriggerAt != nil {
		fmt.Printf("      %s\n", output.Dim.Sprintf("last release %s", rec.LastTriggerAt.Local().Format(time.DateTime)))
	}
	if rec.SourceURL != "" {
		fmt.Printf("      %s\n", output.Dim.Sprint(rec.SourceURL))
	}
}

func runForget(cmd *cobra.Command, args []string) {
	store, err := openStore()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	if err := store.Delete(args[0]); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	output.Success.Printf("✓ Forgot %s\n", args[0])
}
