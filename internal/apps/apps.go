// Package apps loads and validates the list of monitored applications.
package apps

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Error variables for descriptor errors
var (
	// ErrAppsConfigNotFound is returned when the apps file does not exist
	ErrAppsConfigNotFound = errors.New("apps file not found")
	// ErrConfiguration wraps every descriptor validation failure
	ErrConfiguration = errors.New("invalid application descriptor")
	// ErrInvalidSourceKind is returned for an unknown source_site_name
	ErrInvalidSourceKind = errors.New("unknown source kind")
	// ErrInvalidQueryType is returned for an unknown source_query_type
	ErrInvalidQueryType = errors.New("unknown query type")
	// ErrInvalidAction is returned for an action other than trigger or notify
	ErrInvalidAction = errors.New("action must be 'trigger' or 'notify'")
	// ErrMissingAppName is returned when source_app_name is empty
	ErrMissingAppName = errors.New("missing required field: source_app_name")
	// ErrMissingRepoName is returned when a forge source lacks source_repo_name
	ErrMissingRepoName = errors.New("missing required field: source_repo_name")
	// ErrMissingTargetRepo is returned when target_repo_name is empty
	ErrMissingTargetRepo = errors.New("missing required field: target_repo_name")
	// ErrMissingBranch is returned when a branch query has no source_branch_name
	ErrMissingBranch = errors.New("missing required field: source_branch_name (required for branch query)")
	// ErrMissingTargetBranch is returned when a trigger action has no target_repo_branch
	ErrMissingTargetBranch = errors.New("missing required field: target_repo_branch (required for trigger action)")
	// ErrMissingURL is returned when a regex source has no source_url
	ErrMissingURL = errors.New("missing required field: source_url (required for regex source)")
	// ErrNegativeDuration is returned for negative grace or cadence settings
	ErrNegativeDuration = errors.New("grace_period_minutes and target_release_days must not be negative")
	// ErrDuplicateKey is returned when two descriptors share a state key
	ErrDuplicateKey = errors.New("duplicate application key")
)

// SourceKind selects the upstream adapter.
type SourceKind string

const (
	KindGitHub       SourceKind = "github"
	KindGitLab       SourceKind = "gitlab"
	KindPyPI         SourceKind = "pypi"
	KindArchOfficial SourceKind = "arch_official"
	KindArchUser     SourceKind = "arch_user"
	KindRegex        SourceKind = "regex"
)

// kindAliases maps legacy names to source kinds
var kindAliases = map[string]SourceKind{
	"aor": KindArchOfficial,
	"aur": KindArchUser,
}

// Kinds returns all source kinds
func Kinds() []SourceKind {
	return []SourceKind{KindGitHub, KindGitLab, KindPyPI, KindArchOfficial, KindArchUser, KindRegex}
}

// ParseSourceKind resolves a configured name, including legacy aliases.
func ParseSourceKind(name string) (SourceKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if k, ok := kindAliases[name]; ok {
		return k, nil
	}
	for _, k := range Kinds() {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSourceKind, name)
}

// UnmarshalText resolves aliases. An unknown name is kept verbatim so
// ValidateApp can report it against the offending descriptor.
func (k *SourceKind) UnmarshalText(text []byte) error {
	if kind, err := ParseSourceKind(string(text)); err == nil {
		*k = kind
		return nil
	}
	*k = SourceKind(text)
	return nil
}

// QueryType selects what a forge adapter reads.
type QueryType string

const (
	QueryTag        QueryType = "tag"
	QueryRelease    QueryType = "release"
	QueryPreRelease QueryType = "pre_release"
	QueryBranch     QueryType = "branch"
)

// Action is what happens when a change is detected.
type Action string

const (
	ActionTrigger Action = "trigger"
	ActionNotify  Action = "notify"
)

// App describes one monitored application.
type App struct {
	SourceKind       SourceKind `toml:"source_site_name"`
	SourceAppName    string     `toml:"source_app_name"`
	SourceRepoName   string     `toml:"source_repo_name"`
	SourceQueryType  QueryType  `toml:"source_query_type"`
	SourceBranchName string     `toml:"source_branch_name"`
	TargetRepoName   string     `toml:"target_repo_name"`
	TargetRepoBranch string     `toml:"target_repo_branch"`
	Action           Action     `toml:"action"`
	// GracePeriodMinutes delays a trigger until the change has been stable this long
	GracePeriodMinutes int `toml:"grace_period_minutes"`
	// TargetReleaseDays is the minimum spacing between releases in the target repo
	TargetReleaseDays int   `toml:"target_release_days"`
	Enabled           *bool `toml:"enabled"`

	// Fields below apply to the regex source kind.
	SourceURL       string            `toml:"source_url"`
	SourceSiteURL   string            `toml:"source_site_url"`
	Parser          string            `toml:"parser"`
	Path            string            `toml:"path"`
	Pattern         string            `toml:"pattern"`
	Selector        string            `toml:"selector"`
	XPath           string            `toml:"xpath"`
	FallbackURL     string            `toml:"fallback_url"`
	FallbackParser  string            `toml:"fallback_parser"`
	FallbackPattern string            `toml:"fallback_pattern"`
	Headers         map[string]string `toml:"headers"`
}

// Key returns the state key for this application.
func (a *App) Key() string {
	return fmt.Sprintf("%s_%s_%s", a.SourceKind, a.SourceAppName, a.TargetRepoName)
}

// IsEnabled reports whether the app takes part in passes. Defaults to true.
func (a *App) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// String identifies the app in log lines.
func (a *App) String() string {
	return fmt.Sprintf("%s/%s -> %s", a.SourceKind, a.SourceAppName, a.TargetRepoName)
}

// AppsConfig is the parsed apps file. Order is preserved.
type AppsConfig struct {
	Apps []App `toml:"app"`
}

// LoadApps loads and parses the apps file.
func LoadApps(path string) (*AppsConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrAppsConfigNotFound, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return ParseApps(data)
}

// ParseApps parses apps TOML content.
func ParseApps(data []byte) (*AppsConfig, error) {
	var cfg AppsConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse apps file: %w", err)
	}
	return &cfg, nil
}

// ValidateApp checks a single descriptor. Every returned error wraps
// ErrConfiguration.
func ValidateApp(app *App) error {
	fail := func(err error) error {
		return fmt.Errorf("%w: %s: %w", ErrConfiguration, app.SourceAppName, err)
	}

	if app.SourceAppName == "" {
		return fail(ErrMissingAppName)
	}
	if _, err := ParseSourceKind(string(app.SourceKind)); err != nil {
		return fail(err)
	}
	if app.TargetRepoName == "" {
		return fail(ErrMissingTargetRepo)
	}

	switch app.SourceKind {
	case KindGitHub:
		if app.SourceRepoName == "" {
			return fail(ErrMissingRepoName)
		}
		switch app.SourceQueryType {
		case QueryTag, QueryRelease, QueryPreRelease, QueryBranch:
		case "":
			// defaults to tag
		default:
			return fail(fmt.Errorf("%w: %q", ErrInvalidQueryType, app.SourceQueryType))
		}
	case KindGitLab:
		if app.SourceRepoName == "" {
			return fail(ErrMissingRepoName)
		}
		if app.SourceQueryType != QueryBranch && app.SourceQueryType != "" {
			return fail(fmt.Errorf("%w: gitlab supports only %q, got %q", ErrInvalidQueryType, QueryBranch, app.SourceQueryType))
		}
		if app.SourceBranchName == "" {
			return fail(ErrMissingBranch)
		}
	case KindRegex:
		if err := validateCustom(app); err != nil {
			return fail(err)
		}
	}

	if app.SourceQueryType == QueryBranch && app.SourceBranchName == "" {
		return fail(ErrMissingBranch)
	}

	switch app.Action {
	case ActionTrigger:
		if app.TargetRepoBranch == "" {
			return fail(ErrMissingTargetBranch)
		}
	case ActionNotify:
	default:
		return fail(fmt.Errorf("%w: got %q", ErrInvalidAction, app.Action))
	}

	if app.GracePeriodMinutes < 0 || app.TargetReleaseDays < 0 {
		return fail(ErrNegativeDuration)
	}

	return nil
}

// validateCustom checks the extraction settings of a regex source.
func validateCustom(app *App) error {
	if app.SourceURL == "" {
		return ErrMissingURL
	}
	if err := validateParser(app.Parser, app.Path, app.Pattern, app.Selector, app.XPath); err != nil {
		return err
	}
	if app.FallbackParser != "" {
		pattern := app.FallbackPattern
		if app.FallbackParser == "json" {
			pattern = ""
		}
		if err := validateParser(app.FallbackParser, app.Path, pattern, app.Selector, app.XPath); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
		if app.FallbackParser == "regex" && app.FallbackPattern == "" {
			return errors.New("fallback_pattern required for regex fallback parser")
		}
	}
	return nil
}

// Parser settings errors
var (
	ErrMissingParser     = errors.New("missing required field: parser")
	ErrInvalidParserType = errors.New("invalid parser type: must be 'json', 'regex' or 'html'")
	ErrMissingPath       = errors.New("missing required field: path (required for json parser)")
	ErrMissingPattern    = errors.New("missing required field: pattern (required for regex parser)")
	ErrMissingSelector   = errors.New("missing required field: selector or xpath (required for html parser)")
)

func validateParser(parser, path, pattern, selector, xpath string) error {
	switch parser {
	case "":
		return ErrMissingParser
	case "json":
		if path == "" {
			return ErrMissingPath
		}
	case "regex":
		if pattern == "" {
			return ErrMissingPattern
		}
	case "html":
		if selector == "" && xpath == "" {
			return ErrMissingSelector
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidParserType, parser)
	}
	return nil
}

// Validate checks every descriptor and returns the valid ones in file order
// together with one error per rejected descriptor.
func (c *AppsConfig) Validate() ([]App, []error) {
	var valid []App
	var errs []error
	seen := make(map[string]bool)

	for i := range c.Apps {
		app := c.Apps[i]
		if err := ValidateApp(&app); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[app.Key()] {
			errs = append(errs, fmt.Errorf("%w: %w: %s", ErrConfiguration, ErrDuplicateKey, app.Key()))
			continue
		}
		seen[app.Key()] = true
		valid = append(valid, app)
	}
	return valid, errs
}

// ValidateAll returns the first validation error, or nil if all are valid.
func (c *AppsConfig) ValidateAll() error {
	if _, errs := c.Validate(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
