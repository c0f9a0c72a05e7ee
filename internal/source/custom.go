package source

import (
	"context"
	"fmt"

	"github.com/obentoo/triggerdockerbuild/internal/apps"
)

// Custom extracts a version from an arbitrary page or API using the parser
// settings of the descriptor, with an optional fallback URL.
type Custom struct {
	client Fetcher
}

// NewCustom creates the adapter for the regex source kind
func NewCustom(client Fetcher) *Custom {
	return &Custom{client: client}
}

// FetchVersion fetches source_url and extracts the version. When that fails
// and a fallback is configured, fallback_url is tried with fallback_parser.
// An unreachable primary with no fallback is reported as unreachable.
func (c *Custom) FetchVersion(ctx context.Context, app *apps.App) *FetchResult {
	if app.SourceURL == "" {
		return misconfigured(apps.ErrMissingURL)
	}

	primary := ParserSpec{
		Type:     app.Parser,
		Path:     app.Path,
		Pattern:  app.Pattern,
		Selector: app.Selector,
		XPath:    app.XPath,
	}
	if _, err := NewParser(primary); err != nil {
		return misconfigured(err)
	}

	siteURL := app.SourceSiteURL
	if siteURL == "" {
		siteURL = app.SourceURL
	}

	var fallback *ParserSpec
	if app.FallbackParser != "" {
		fallback = &ParserSpec{
			Type:     app.FallbackParser,
			Path:     app.Path,
			Pattern:  app.FallbackPattern,
			Selector: app.Selector,
			XPath:    app.XPath,
		}
	}

	// Without a fallback URL the fallback parser reads the primary content.
	var sameContent *ParserSpec
	if app.FallbackURL == "" {
		sameContent = fallback
	}

	result := c.fetchAndParse(ctx, app.SourceURL, primary, sameContent, app.Headers)
	if result.OK {
		result.SourceURL = siteURL
		return result
	}

	if app.FallbackURL == "" || fallback == nil {
		return result
	}

	fallbackResult := c.fetchAndParse(ctx, app.FallbackURL, *fallback, nil, app.Headers)
	if fallbackResult.OK {
		fallbackResult.SourceURL = siteURL
		return fallbackResult
	}

	// Report the primary failure, mentioning the fallback.
	result.Err = fmt.Errorf("%w (fallback %s: %v)", result.Err, app.FallbackURL, fallbackResult.Err)
	return result
}

func (c *Custom) fetchAndParse(ctx context.Context, url string, spec ParserSpec, fallback *ParserSpec, headers map[string]string) *FetchResult {
	resp := c.client.Get(ctx, url, headers)
	if !resp.OK {
		return unreachable(url, resp)
	}

	version, err := ParseVersion(resp.Body, spec, fallback)
	if err != nil {
		return unexpected(url, err)
	}
	return success(version, url, url)
}
