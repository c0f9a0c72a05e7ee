package apps

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const sampleApps = `
[[app]]
source_site_name = "github"
source_app_name = "sabnzbd"
source_repo_name = "sabnzbd"
source_query_type = "release"
target_repo_name = "arch-sabnzbd"
target_repo_branch = "master"
action = "trigger"
grace_period_minutes = 30

[[app]]
source_site_name = "aur"
source_app_name = "jackett"
target_repo_name = "arch-jackett"
target_repo_branch = "master"
action = "trigger"
target_release_days = 7

[[app]]
source_site_name = "aor"
source_app_name = "python"
target_repo_name = "arch-base"
action = "notify"

[[app]]
source_site_name = "regex"
source_app_name = "minecraft-server"
source_url = "https://example.com/download"
parser = "html"
selector = "a.download"
pattern = "server-([0-9.]+)\\.zip"
target_repo_name = "arch-minecraftserver"
target_repo_branch = "master"
action = "trigger"
enabled = false

[app.headers]
Authorization = "Bearer ${MC_TOKEN}"
`

// genAppName generates application names
func genAppName() gopter.Gen {
	return gen.RegexMatch(`^[a-z][a-z0-9-]{0,20}$`)
}

func validApp() App {
	return App{
		SourceKind:       KindGitHub,
		SourceAppName:    "sabnzbd",
		SourceRepoName:   "sabnzbd",
		SourceQueryType:  QueryRelease,
		TargetRepoName:   "arch-sabnzbd",
		TargetRepoBranch: "master",
		Action:           ActionTrigger,
	}
}

func TestParseAppsPreservesOrderAndAliases(t *testing.T) {
	cfg, err := ParseApps([]byte(sampleApps))
	if err != nil {
		t.Fatalf("ParseApps failed: %v", err)
	}

	if len(cfg.Apps) != 4 {
		t.Fatalf("Expected 4 apps, got %d", len(cfg.Apps))
	}

	wantKinds := []SourceKind{KindGitHub, KindArchUser, KindArchOfficial, KindRegex}
	for i, want := range wantKinds {
		if cfg.Apps[i].SourceKind != want {
			t.Errorf("app %d kind = %q, want %q", i, cfg.Apps[i].SourceKind, want)
		}
	}

	if cfg.Apps[0].GracePeriodMinutes != 30 {
		t.Errorf("grace_period_minutes = %d, want 30", cfg.Apps[0].GracePeriodMinutes)
	}
	if cfg.Apps[1].TargetReleaseDays != 7 {
		t.Errorf("target_release_days = %d, want 7", cfg.Apps[1].TargetReleaseDays)
	}
	if cfg.Apps[3].IsEnabled() {
		t.Error("Expected regex app to be disabled")
	}
	if !cfg.Apps[0].IsEnabled() {
		t.Error("Expected enabled to default to true")
	}
	if cfg.Apps[3].Headers["Authorization"] != "Bearer ${MC_TOKEN}" {
		t.Errorf("headers not parsed: %v", cfg.Apps[3].Headers)
	}

	if err := cfg.ValidateAll(); err != nil {
		t.Errorf("Expected sample to validate, got %v", err)
	}
}

func TestLoadAppsMissingFile(t *testing.T) {
	_, err := LoadApps(filepath.Join(t.TempDir(), "apps.toml"))
	if !errors.Is(err, ErrAppsConfigNotFound) {
		t.Errorf("Expected ErrAppsConfigNotFound, got %v", err)
	}
}

func TestLoadAppsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.toml")
	if err := os.WriteFile(path, []byte(sampleApps), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadApps(path)
	if err != nil {
		t.Fatalf("LoadApps: %v", err)
	}
	if len(cfg.Apps) != 4 {
		t.Errorf("Expected 4 apps, got %d", len(cfg.Apps))
	}
}

func TestParseAppsInvalidTOML(t *testing.T) {
	if _, err := ParseApps([]byte("[[app]\nsource_app_name =")); err == nil {
		t.Error("Expected parse error")
	}
}

func TestKey(t *testing.T) {
	app := validApp()
	if got := app.Key(); got != "github_sabnzbd_arch-sabnzbd" {
		t.Errorf("Key() = %q", got)
	}
}

func TestValidateApp(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*App)
		wantErr error
	}{
		{"valid", func(a *App) {}, nil},
		{"missing app name", func(a *App) { a.SourceAppName = "" }, ErrMissingAppName},
		{"unknown kind", func(a *App) { a.SourceKind = "sourceforge" }, ErrInvalidSourceKind},
		{"missing target", func(a *App) { a.TargetRepoName = "" }, ErrMissingTargetRepo},
		{"github without repo", func(a *App) { a.SourceRepoName = "" }, ErrMissingRepoName},
		{"bad query type", func(a *App) { a.SourceQueryType = "nightly" }, ErrInvalidQueryType},
		{"branch without name", func(a *App) { a.SourceQueryType = QueryBranch }, ErrMissingBranch},
		{"branch with name", func(a *App) { a.SourceQueryType = QueryBranch; a.SourceBranchName = "develop" }, nil},
		{"trigger without target branch", func(a *App) { a.TargetRepoBranch = "" }, ErrMissingTargetBranch},
		{"notify without target branch", func(a *App) { a.TargetRepoBranch = ""; a.Action = ActionNotify }, nil},
		{"bad action", func(a *App) { a.Action = "deploy" }, ErrInvalidAction},
		{"negative grace", func(a *App) { a.GracePeriodMinutes = -1 }, ErrNegativeDuration},
		{"gitlab tag query", func(a *App) {
			a.SourceKind = KindGitLab
			a.SourceQueryType = QueryTag
			a.SourceBranchName = "main"
		}, ErrInvalidQueryType},
		{"gitlab without branch", func(a *App) {
			a.SourceKind = KindGitLab
			a.SourceQueryType = ""
		}, ErrMissingBranch},
		{"pypi needs no repo", func(a *App) {
			a.SourceKind = KindPyPI
			a.SourceRepoName = ""
			a.SourceQueryType = ""
		}, nil},
		{"regex without url", func(a *App) {
			a.SourceKind = KindRegex
			a.Parser = "json"
			a.Path = "version"
		}, ErrMissingURL},
		{"regex json without path", func(a *App) {
			a.SourceKind = KindRegex
			a.SourceURL = "https://example.com/v.json"
			a.Parser = "json"
		}, ErrMissingPath},
		{"regex html without selector", func(a *App) {
			a.SourceKind = KindRegex
			a.SourceURL = "https://example.com"
			a.Parser = "html"
		}, ErrMissingSelector},
		{"regex unknown parser", func(a *App) {
			a.SourceKind = KindRegex
			a.SourceURL = "https://example.com"
			a.Parser = "yaml"
		}, ErrInvalidParserType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := validApp()
			tt.mutate(&app)
			err := ValidateApp(&app)

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("Expected error to wrap ErrConfiguration, got %v", err)
			}
		})
	}
}

// TestBranchQueryRequiresBranchName tests the descriptor invariant for branch queries
func TestBranchQueryRequiresBranchName(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("branch query is valid iff a branch is named", prop.ForAll(
		func(appName, branch string) bool {
			app := validApp()
			app.SourceAppName = appName
			app.SourceQueryType = QueryBranch
			app.SourceBranchName = branch

			err := ValidateApp(&app)
			if branch == "" {
				return errors.Is(err, ErrMissingBranch)
			}
			return err == nil
		},
		genAppName(),
		gen.OneConstOf("", "main", "master", "develop"),
	))

	properties.Property("trigger action is valid iff a target branch is named", prop.ForAll(
		func(appName, branch string) bool {
			app := validApp()
			app.SourceAppName = appName
			app.TargetRepoBranch = branch

			err := ValidateApp(&app)
			if branch == "" {
				return errors.Is(err, ErrMissingTargetBranch)
			}
			return err == nil
		},
		genAppName(),
		gen.OneConstOf("", "main", "master"),
	))

	properties.TestingRun(t)
}

func TestValidateSkipsInvalidAndDuplicates(t *testing.T) {
	good := validApp()
	bad := validApp()
	bad.SourceAppName = "broken"
	bad.TargetRepoBranch = ""
	dup := validApp()
	other := validApp()
	other.SourceAppName = "nzbget"

	cfg := &AppsConfig{Apps: []App{good, bad, dup, other}}
	valid, errs := cfg.Validate()

	if len(valid) != 2 {
		t.Fatalf("Expected 2 valid apps, got %d", len(valid))
	}
	if valid[0].SourceAppName != "sabnzbd" || valid[1].SourceAppName != "nzbget" {
		t.Errorf("Expected file order preserved, got %s, %s", valid[0].SourceAppName, valid[1].SourceAppName)
	}
	if len(errs) != 2 {
		t.Fatalf("Expected 2 errors, got %d: %v", len(errs), errs)
	}
	if !errors.Is(errs[1], ErrDuplicateKey) {
		t.Errorf("Expected duplicate key error, got %v", errs[1])
	}
}
