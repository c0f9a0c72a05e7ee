package main

import (
	"fmt"

	"github.com/obentoo/triggerdockerbuild/internal/apps"
	"github.com/obentoo/triggerdockerbuild/internal/common/config"
	"github.com/obentoo/triggerdockerbuild/internal/common/httpclient"
	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
	"github.com/obentoo/triggerdockerbuild/internal/monitor"
	"github.com/obentoo/triggerdockerbuild/internal/notify"
	"github.com/obentoo/triggerdockerbuild/internal/release"
	"github.com/obentoo/triggerdockerbuild/internal/source"
	"github.com/obentoo/triggerdockerbuild/internal/state"
)

// environment holds everything a command needs to run a pass
type environment struct {
	cfg      *config.Config
	appsPath string
	store    *state.Store
	monitor  *monitor.Monitor
}

// loadConfig reads config.yaml and applies environment and flag overrides
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyEnv()
	if githubToken != "" {
		cfg.GitHub.Token = githubToken
	}
	if appsPath != "" {
		cfg.General.AppsPath = appsPath
	}
	if statePath != "" {
		cfg.General.StatePath = statePath
	}
	if logFile != "" {
		cfg.General.LogFile = logFile
	}
	return cfg, nil
}

// setupLogging applies the configured level and opens the log file.
// Command line -v and -q take precedence over log_level.
func setupLogging(cfg *config.Config) error {
	if !verbose && !quiet && cfg.General.LogLevel != "" {
		level, err := logger.ParseLevel(cfg.General.LogLevel)
		if err != nil {
			return err
		}
		logger.Default().SetLevel(level)
	}
	if cfg.General.LogFile != "" {
		path, err := config.ExpandPath(cfg.General.LogFile)
		if err != nil {
			return err
		}
		return logger.Default().EnableFileLogging(path)
	}
	return nil
}

// readApps reads and parses the apps file
func readApps(cfg *config.Config) (*apps.AppsConfig, string, error) {
	path, err := cfg.ResolveAppsPath()
	if err != nil {
		return nil, "", err
	}
	appsCfg, err := apps.LoadApps(path)
	if err != nil {
		return nil, path, err
	}
	return appsCfg, path, nil
}

// newHTTPClient creates the shared client with forge credentials
func newHTTPClient(cfg *config.Config) *httpclient.Client {
	client := httpclient.New()
	client.SetGitHubToken(cfg.GitHub.Token)
	client.SetGitLabToken(cfg.GitLab.Token)
	return client
}

// newNotifier builds the configured notification channels.
// Notifications are off unless enabled in config or forced with --notify.
func newNotifier(cfg *config.Config, client *httpclient.Client) notify.Notifier {
	if !cfg.Notification.Enabled && !notifyFlag {
		return notify.NoopNotifier{}
	}

	var channels []notify.Notifier
	if cfg.Notification.Email.Configured() {
		channels = append(channels, notify.NewEmailNotifier(cfg.Notification.Email))
	}
	if cfg.Notification.Kodi.URL != "" {
		channels = append(channels, notify.NewKodiNotifier(cfg.Notification.Kodi, client))
	}
	if len(channels) == 0 {
		logger.Warn("Notifications enabled but no channel is configured")
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(channels...)
}

// newEnvironment loads configuration and state and wires the monitor.
func newEnvironment() (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	path, err := cfg.ResolveStatePath()
	if err != nil {
		return nil, err
	}
	store, err := state.Open(path)
	if err != nil {
		return nil, err
	}

	apPath, err := cfg.ResolveAppsPath()
	if err != nil {
		return nil, err
	}

	log := logger.Default()
	client := newHTTPClient(cfg)
	registry := source.NewRegistry(client, source.WithLogger(log))
	creator := release.NewCreator(client, cfg.General.TargetRepoOwner,
		release.WithToken(cfg.GitHub.Token),
		release.WithLogger(log),
	)
	engine := monitor.NewEngine(store, creator,
		monitor.WithNotifier(newNotifier(cfg, client)),
		monitor.WithDockerHubOwner(cfg.DockerHubOwner()),
		monitor.WithEngineLogger(log),
	)

	return &environment{
		cfg:      cfg,
		appsPath: apPath,
		store:    store,
		monitor:  monitor.New(registry, engine, monitor.WithLogger(log)),
	}, nil
}

// loadApps reads the apps file of the environment
func (e *environment) loadApps() (*apps.AppsConfig, error) {
	return apps.LoadApps(e.appsPath)
}
