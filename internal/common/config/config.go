package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrTargetOwnerNotSet = errors.New("general.target_repo_owner is not configured")
	ErrInvalidSchedule   = errors.New("schedule_check_mins must be positive")
	ErrEmailIncomplete   = errors.New("email notification requires host, from and to")
	ErrInvalidAbortLimit = errors.New("max_aborted_passes must not be negative")
)

// Environment variables overriding credentials from the config file.
const (
	EnvGitHubToken   = "TDB_GITHUB_TOKEN"
	EnvGitLabToken   = "TDB_GITLAB_TOKEN"
	EnvEmailPassword = "TDB_EMAIL_PASSWORD"
)

// DefaultScheduleMins is the interval between passes when none is configured.
const DefaultScheduleMins = 60

// Config represents the application configuration
type Config struct {
	General      GeneralConfig      `yaml:"general"`
	GitHub       TokenConfig        `yaml:"github"`
	GitLab       TokenConfig        `yaml:"gitlab"`
	Notification NotificationConfig `yaml:"notification"`
	Docker       DockerConfig       `yaml:"docker"`
}

// GeneralConfig holds scheduling and path settings
type GeneralConfig struct {
	ScheduleCheckMins int    `yaml:"schedule_check_mins"`
	ScheduleCron      string `yaml:"schedule_cron,omitempty"` // overrides schedule_check_mins
	TargetRepoOwner   string `yaml:"target_repo_owner"`
	AppsPath          string `yaml:"apps_path,omitempty"`
	StatePath         string `yaml:"state_path,omitempty"`
	LogFile           string `yaml:"log_file,omitempty"`
	LogLevel          string `yaml:"log_level,omitempty"`
	// MaxAbortedPasses stops the daemon after this many consecutive passes
	// failed to save state. Zero keeps retrying.
	MaxAbortedPasses int `yaml:"max_aborted_passes,omitempty"`
}

// TokenConfig holds API credentials for a forge
type TokenConfig struct {
	Token string `yaml:"token"`
}

// NotificationConfig selects and configures notification channels
type NotificationConfig struct {
	Enabled bool        `yaml:"enabled"`
	Email   EmailConfig `yaml:"email"`
	Kodi    KodiConfig  `yaml:"kodi"`
}

// EmailConfig holds SMTP settings
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Configured reports whether enough settings are present to send mail.
func (e EmailConfig) Configured() bool {
	return e.Host != ""
}

// KodiConfig holds the JSON-RPC endpoint of a Kodi instance
type KodiConfig struct {
	URL      string `yaml:"url"` // e.g. http://kodi.local:8080/jsonrpc
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DockerConfig holds Docker Hub settings used in notification links
type DockerConfig struct {
	HubOwner string `yaml:"hub_owner"` // defaults to general.target_repo_owner
}

// ConfigDir returns the configuration directory
// ($XDG_CONFIG_HOME/triggerdockerbuild or ~/.config/triggerdockerbuild).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	return filepath.Join(xdgConfig, "triggerdockerbuild"), nil
}

// StateDir returns the default directory for the state document
func StateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	xdgState := os.Getenv("XDG_STATE_HOME")
	if xdgState == "" {
		xdgState = filepath.Join(home, ".local", "state")
	}

	return filepath.Join(xdgState, "triggerdockerbuild"), nil
}

// ConfigPaths returns all possible config file paths in priority order
// 1. ~/.config/triggerdockerbuild/config.yaml (XDG standard - priority)
// 2. ~/.triggerdockerbuild/config.yaml (legacy fallback)
func ConfigPaths() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}

	return []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(home, ".triggerdockerbuild", "config.yaml"),
	}, nil
}

// FindConfigPath returns the first existing config file path
// Returns the default path if no config file exists yet
func FindConfigPath() (string, error) {
	paths, err := ConfigPaths()
	if err != nil {
		return "", err
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return paths[0], nil
}

// Default returns a configuration with defaults filled in
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			ScheduleCheckMins: DefaultScheduleMins,
			LogLevel:          "info",
		},
		Notification: NotificationConfig{
			Email: EmailConfig{Port: 587},
		},
	}
}

// Load reads configuration from the first available config file
func Load() (*Config, error) {
	configPath, err := FindConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom reads configuration from a specific file path.
// A missing file is created with defaults.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if saveErr := cfg.SaveTo(path); saveErr != nil {
				return nil, saveErr
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// SaveTo writes configuration to a specific file path
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ApplyEnv overrides credentials with values from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvGitHubToken); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv(EnvGitLabToken); v != "" {
		c.GitLab.Token = v
	}
	if v := os.Getenv(EnvEmailPassword); v != "" {
		c.Notification.Email.Password = v
	}
}

// Validate checks settings required to run a pass.
func (c *Config) Validate() error {
	if c.General.TargetRepoOwner == "" {
		return ErrTargetOwnerNotSet
	}
	if c.General.ScheduleCron == "" && c.General.ScheduleCheckMins <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSchedule, c.General.ScheduleCheckMins)
	}
	if c.General.MaxAbortedPasses < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAbortLimit, c.General.MaxAbortedPasses)
	}
	email := c.Notification.Email
	if c.Notification.Enabled && email.Configured() && (email.From == "" || len(email.To) == 0) {
		return ErrEmailIncomplete
	}
	return nil
}

// DockerHubOwner returns the Docker Hub namespace used in build links.
func (c *Config) DockerHubOwner() string {
	if c.Docker.HubOwner != "" {
		return c.Docker.HubOwner
	}
	return c.General.TargetRepoOwner
}

// ExpandPath expands a leading ~ to the user's home directory
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

// ResolveStatePath returns the configured state path or the default one
func (c *Config) ResolveStatePath() (string, error) {
	if c.General.StatePath != "" {
		return ExpandPath(c.General.StatePath)
	}
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.json"), nil
}

// ResolveAppsPath returns the configured apps file or apps.toml next to the config
func (c *Config) ResolveAppsPath() (string, error) {
	if c.General.AppsPath != "" {
		return ExpandPath(c.General.AppsPath)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "apps.toml"), nil
}
