package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
	"github.com/obentoo/triggerdockerbuild/internal/common/output"
	"github.com/obentoo/triggerdockerbuild/internal/common/version"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check config.yaml and apps.toml",
	Long:  `Load both configuration files and report every problem found. Exits with status 1 if any is invalid.`,
	Run:   runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	failed := false
	if err := cfg.Validate(); err != nil {
		output.Error.Printf("✗ config: %v\n", err)
		failed = true
	} else {
		output.Success.Println("✓ config")
	}

	appsCfg, path, err := readApps(cfg)
	if err != nil {
		output.Error.Printf("✗ %v\n", err)
		os.Exit(1)
	}

	valid, errs := appsCfg.Validate()
	for _, err := range errs {
		output.Error.Printf("✗ %v\n", err)
	}
	if len(errs) > 0 {
		failed = true
	}

	enabled := 0
	for _, app := range valid {
		if app.IsEnabled() {
			enabled++
		}
	}
	fmt.Printf("%s: %d applications, %d valid, %d enabled\n", path, len(appsCfg.Apps), len(valid), enabled)

	if failed {
		os.Exit(1)
	}
}
