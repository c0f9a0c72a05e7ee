package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/obentoo/triggerdockerbuild/internal/apps"
	"github.com/obentoo/triggerdockerbuild/internal/common/config"
	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
	"github.com/obentoo/triggerdockerbuild/internal/monitor"
	"github.com/obentoo/triggerdockerbuild/internal/scheduler"
)

var (
	daemonInterval  int
	daemonCron      string
	daemonPidfile   string
	daemonMaxAborts int
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run passes on a schedule",
	Long: `Run an initial pass, then keep running passes on a schedule until
interrupted. The schedule is taken from --cron or --interval, falling back to
general.schedule_cron and general.schedule_check_mins in config.yaml.

Passes never overlap. Changes to apps.toml are picked up at the start of the
next pass. A pass that cannot save state is abandoned and retried on the next
schedule; --max-aborted-passes stops the daemon after that many in a row.
The process stays in the foreground; use systemd or a container runtime to
supervise it.

Examples:
  triggerdockerbuild daemon --interval 30
  triggerdockerbuild daemon --cron "0 */6 * * *" --pidfile /run/tdb.pid`,
	Run: runDaemon,
}

func init() {
	daemonCmd.Flags().IntVar(&daemonInterval, "interval", 0, "Minutes between passes")
	daemonCmd.Flags().StringVar(&daemonCron, "cron", "", "Cron expression for passes (overrides --interval)")
	daemonCmd.Flags().StringVar(&daemonPidfile, "pidfile", "", "Write the process id to this file")
	daemonCmd.Flags().IntVar(&daemonMaxAborts, "max-aborted-passes", 0, "Stop after this many consecutive aborted passes (0: never)")
	rootCmd.AddCommand(daemonCmd)
}

// scheduleExpr picks the schedule from flags, then config
func scheduleExpr(cfg *config.Config) string {
	switch {
	case daemonCron != "":
		return daemonCron
	case daemonInterval > 0:
		return scheduler.IntervalSpec(daemonInterval)
	case cfg.General.ScheduleCron != "":
		return cfg.General.ScheduleCron
	case cfg.General.ScheduleCheckMins > 0:
		return scheduler.IntervalSpec(cfg.General.ScheduleCheckMins)
	default:
		return scheduler.IntervalSpec(config.DefaultScheduleMins)
	}
}

func writePidfile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

func runDaemon(cmd *cobra.Command, args []string) {
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

	if daemonPidfile != "" {
		if err := writePidfile(daemonPidfile); err != nil {
			logger.Error("Failed to write pidfile: %v", err)
			os.Exit(1)
		}
		defer os.Remove(daemonPidfile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := scheduler.NewFileWatcher(env.appsPath, logger.Default())
	if err != nil {
		logger.Warn("Not watching %s for changes: %v", env.appsPath, err)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	job := &passJob{
		runner:    env.monitor,
		appsPath:  env.appsPath,
		apps:      appsCfg,
		watcher:   watcher,
		maxAborts: abortLimit(cmd, env.cfg),
		stop:      stop,
	}

	sched, err := scheduler.New(scheduleExpr(env.cfg), job.Run, scheduler.WithLogger(logger.Default()))
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	logger.Info("Daemon started (pid %d), monitoring %s", os.Getpid(), env.appsPath)
	sched.RunNow(ctx)
	if ctx.Err() == nil {
		sched.Run(ctx)
	}

	if job.err != nil {
		logger.Error("Stopping: %v", job.err)
		if daemonPidfile != "" {
			os.Remove(daemonPidfile)
		}
		logger.Default().Close()
		os.Exit(1)
	}
	logger.Info("Daemon stopped")
}

// abortLimit returns the consecutive aborted pass limit, flag first
func abortLimit(cmd *cobra.Command, cfg *config.Config) int {
	if cmd.Flags().Changed("max-aborted-passes") {
		return daemonMaxAborts
	}
	return cfg.General.MaxAbortedPasses
}

// passRunner runs one pass over the application list
type passRunner interface {
	RunPass(ctx context.Context, cfg *apps.AppsConfig) (*monitor.Pass, error)
}

// passJob is the scheduled daemon job. A pass aborted by a state write
// failure is retried on the next tick. The daemon is stopped only once
// maxAborts passes in a row were aborted; zero means never.
type passJob struct {
	runner    passRunner
	appsPath  string
	apps      *apps.AppsConfig
	watcher   *scheduler.FileWatcher
	maxAborts int
	aborts    int
	stop      context.CancelFunc
	err       error
}

// Run reloads the application list if it changed, then runs a pass
func (j *passJob) Run(ctx context.Context) {
	if j.watcher != nil && j.watcher.TakeStale() {
		j.apps = reloadApps(j.appsPath, j.apps)
	}

	pass, err := j.runner.RunPass(ctx, j.apps)
	printPass(pass)
	if err == nil {
		j.aborts = 0
		return
	}

	j.aborts++
	logger.Error("Pass aborted (%d in a row), retrying at next scheduled pass: %v", j.aborts, err)
	if j.maxAborts > 0 && j.aborts >= j.maxAborts {
		j.err = fmt.Errorf("%d consecutive passes aborted: %w", j.aborts, err)
		j.stop()
	}
}

// reloadApps re-reads the apps file, keeping the current list if the new one
// does not load or contains no valid application.
func reloadApps(path string, current *apps.AppsConfig) *apps.AppsConfig {
	next, err := apps.LoadApps(path)
	if err != nil {
		logger.Error("Keeping previous application list: %v", err)
		return current
	}
	valid, errs := next.Validate()
	for _, err := range errs {
		logger.Warn("%v", err)
	}
	if len(valid) == 0 && len(next.Apps) > 0 {
		logger.Error("Keeping previous application list: %s has no valid application", path)
		return current
	}
	logger.Info("Reloaded %d applications from %s", len(next.Apps), path)
	return next
}
