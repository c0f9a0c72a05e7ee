package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
	"github.com/obentoo/triggerdockerbuild/internal/common/output"
	"github.com/obentoo/triggerdockerbuild/internal/common/version"
)

var (
	verbose     bool
	quiet       bool
	noColor     bool
	configPath  string
	appsPath    string
	statePath   string
	logFile     string
	envFile     string
	githubToken string
	notifyFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "triggerdockerbuild",
	Short: "Trigger Docker image builds when upstream versions change",
	Long: `Polls upstream registries (GitHub, GitLab, PyPI, Arch Linux, AUR and
arbitrary web pages) for new versions of the applications listed in apps.toml,
and creates a GitHub release on the matching build repository when a version
changes. Changes can also be reported by email and Kodi notification.`,
	Version: version.Short(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetVerbose(true)
		}
		if quiet {
			logger.SetQuiet(true)
		}
		if noColor {
			output.NoColor()
		}
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				logger.Warn("Failed to load env file %s: %v", envFile, err)
			}
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&appsPath, "apps", "", "Path to apps.toml")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "Path to the state file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append log lines to this file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load credentials from a dotenv file")
	rootCmd.PersistentFlags().StringVar(&githubToken, "github-token", "", "GitHub token (overrides config and environment)")
	rootCmd.PersistentFlags().BoolVar(&notifyFlag, "notify", false, "Send notifications even if disabled in config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
