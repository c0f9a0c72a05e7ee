package source

import (
	"context"
	"fmt"
	"net/url"

	"github.com/obentoo/triggerdockerbuild/internal/apps"
)

// PyPI reads the current version of a package from the PyPI JSON API.
type PyPI struct {
	BaseURL string
	client  Fetcher
}

// NewPyPI creates a PyPI adapter for pypi.org
func NewPyPI(client Fetcher) *PyPI {
	return &PyPI{BaseURL: "https://pypi.org", client: client}
}

// FetchVersion returns info.version of the package.
func (p *PyPI) FetchVersion(ctx context.Context, app *apps.App) *FetchResult {
	name := url.PathEscape(app.SourceAppName)
	requestURL := fmt.Sprintf("%s/pypi/%s/json", p.BaseURL, name)

	version, failed := getJSONField(ctx, p.client, requestURL, "info.version", nil)
	if failed != nil {
		return failed
	}
	return success(version, fmt.Sprintf("https://pypi.org/project/%s/", name), requestURL)
}
