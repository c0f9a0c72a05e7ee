package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
	"github.com/obentoo/triggerdockerbuild/internal/common/output"
	"github.com/obentoo/triggerdockerbuild/internal/monitor"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Show upstream versions without acting on them",
	Long: `Fetch the upstream version of every enabled application and compare it
with the recorded one. Nothing is written, released or notified.`,
	Run: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) {
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

	results, errs := env.monitor.Check(ctx, appsCfg)
	for _, err := range errs {
		output.Error.Printf("✗ %v\n", err)
	}
	displayCheck(results)
}

func displayCheck(results []monitor.CheckResult) {
	if len(results) == 0 {
		output.Info.Println("No enabled applications")
		return
	}

	output.Header.Println("Upstream versions:")
	changed := 0
	for _, r := range results {
		name := output.FormatApp(string(r.App.SourceKind), r.App.SourceAppName)
		if !r.Fetched.OK {
			fmt.Printf("  %s %s %s\n", output.Error.Sprint("✗"), name,
				output.Dim.Sprintf("%s: %v", r.Fetched.Kind, r.Fetched.Err))
			continue
		}

		switch {
		case !r.Known:
			fmt.Printf("  %s %s %s %s\n", output.Info.Sprint("+"), name, r.Fetched.Version,
				output.Dim.Sprint("(not seen yet)"))
		case r.Changed:
			changed++
			fmt.Printf("  %s %s %s -> %s %s\n", output.Warning.Sprint("↑"), name, r.Previous,
				output.Success.Sprint(r.Fetched.Version), output.Dim.Sprintf("[%s]", r.App.Action))
		default:
			fmt.Printf("  %s %s %s\n", output.Success.Sprint("✓"), name, r.Fetched.Version)
		}
	}

	fmt.Println()
	if changed > 0 {
		output.Warning.Printf("%d application(s) changed\n", changed)
	} else {
		output.Success.Println("No changes")
	}
}
