package output

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestColorOutputMatchesOutcome tests that each outcome gets its ANSI color
func TestColorOutputMatchesOutcome(t *testing.T) {
	ForceColor()
	defer NoColor()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	outcomeColorCodes := map[string]string{
		"notified":  "\x1b[32m", // Green
		"pending":   "\x1b[33m", // Yellow
		"failed":    "\x1b[31m", // Red
		"duplicate": "\x1b[36m", // Cyan
		"throttled": "\x1b[35m", // Magenta
	}

	outcomeGen := gen.OneConstOf("notified", "pending", "failed", "duplicate", "throttled")

	properties.Property("FormatStatus contains correct ANSI code for outcome", prop.ForAll(
		func(status string) bool {
			return strings.Contains(FormatStatus(status), outcomeColorCodes[status])
		},
		outcomeGen,
	))

	properties.Property("FormatStatus output contains the outcome text", prop.ForAll(
		func(status string) bool {
			return strings.Contains(FormatStatus(status), status)
		},
		outcomeGen,
	))

	properties.TestingRun(t)
}

// TestNoColorFlagDisablesANSICodes tests that --no-color strips escape codes
func TestNoColorFlagDisablesANSICodes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	outcomeGen := gen.OneConstOf("triggered", "notified", "pending", "throttled", "duplicate", "failed", "unchanged")

	properties.Property("FormatStatus contains no ANSI codes when NoColor is set", prop.ForAll(
		func(status string) bool {
			NoColor()
			return !strings.Contains(FormatStatus(status), "\x1b[")
		},
		outcomeGen,
	))

	properties.Property("FormatApp contains no ANSI codes when NoColor is set", prop.ForAll(
		func(app string) bool {
			NoColor()
			return !strings.Contains(FormatApp("github", app), "\x1b[")
		},
		gen.RegexMatch(`^[a-z][a-z0-9-]{0,20}$`),
	))

	properties.TestingRun(t)
}

func TestFormatApp(t *testing.T) {
	NoColor()

	if got := FormatApp("pypi", "sabnzbd"); got != "pypi/sabnzbd" {
		t.Errorf("FormatApp = %q, want pypi/sabnzbd", got)
	}
	if got := FormatApp("", "sabnzbd"); got != "sabnzbd" {
		t.Errorf("FormatApp without kind = %q, want sabnzbd", got)
	}
}
