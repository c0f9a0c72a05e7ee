package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
	"github.com/obentoo/triggerdockerbuild/internal/common/output"
	"github.com/obentoo/triggerdockerbuild/internal/monitor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single pass over all applications",
	Long: `Fetch the upstream version of every enabled application in apps.toml and
act on changes: create a GitHub release for "trigger" applications and send
notifications for "notify" applications.

An interrupt (Ctrl+C) lets the application being processed finish, then stops.
Exits with status 1 if state could not be saved.`,
	Run: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) {
	env, err := newEnvironment()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	defer logger.Default().Close()

	appsCfg, err := env.loadApps()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pass, err := env.monitor.RunPass(ctx, appsCfg)
	printPass(pass)
	if err != nil {
		logger.Error("%v", err)
		logger.Default().Close()
		os.Exit(1)
	}
}

// printPass displays the per-application results of a pass
func printPass(pass *monitor.Pass) {
	if pass == nil || quiet {
		return
	}

	fmt.Println()
	output.Header.Printf("Pass %s\n", pass.ID)
	for _, r := range pass.Results {
		if r.Key == "" {
			fmt.Printf("  %s %v\n", output.FormatStatus(string(r.Decision)), r.Err)
			continue
		}

		fmt.Printf("  %s %s", output.FormatStatus(string(r.Decision)), output.FormatApp(string(r.Kind), r.App))
		switch {
		case r.Previous != "" && r.Current != "" && r.Previous != r.Current:
			fmt.Printf(" %s -> %s", r.Previous, r.Current)
		case r.Current != "":
			fmt.Printf(" %s", r.Current)
		}
		if r.Tag != "" {
			fmt.Printf(" %s", output.Dim.Sprintf("(%s)", r.Tag))
		}
		if r.Detail != "" {
			fmt.Printf(" %s", output.Dim.Sprint(r.Detail))
		}
		fmt.Println()
		if r.Err != nil {
			output.Error.Printf("      %v\n", r.Err)
		}
		if r.NotifyErr != nil {
			output.Warning.Printf("      notification: %v\n", r.NotifyErr)
		}
	}

	fmt.Println()
	fmt.Printf("%s triggered, %s notified, %s pending, %s throttled, %s failed",
		output.Triggered.Sprint(pass.Count(monitor.DecisionTriggered)),
		output.Notified.Sprint(pass.Count(monitor.DecisionNotified)),
		output.Pending.Sprint(pass.Count(monitor.DecisionPending)),
		output.Throttled.Sprint(pass.Count(monitor.DecisionThrottled)),
		output.Failed.Sprint(pass.Count(monitor.DecisionFailed)+pass.Count(monitor.DecisionError)),
	)
	if pass.Skipped > 0 {
		fmt.Printf(", %d disabled", pass.Skipped)
	}
	fmt.Printf(" in %s\n", pass.Finished.Sub(pass.Started).Round(time.Millisecond))
	if pass.Interrupted {
		output.Warning.Println("Pass interrupted before all applications were processed")
	}
}
