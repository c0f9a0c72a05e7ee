package source

import (
	"context"
	"fmt"
	"net/url"

	"github.com/obentoo/triggerdockerbuild/internal/apps"
)

// GitHub reads tags, releases and branch heads through the GitHub REST API.
type GitHub struct {
	BaseURL string
	WebURL  string
	client  Fetcher
}

// NewGitHub creates a GitHub adapter for api.github.com
func NewGitHub(client Fetcher) *GitHub {
	return &GitHub{
		BaseURL: "https://api.github.com",
		WebURL:  "https://github.com",
		client:  client,
	}
}

var githubHeaders = map[string]string{
	"Accept":               "application/vnd.github+json",
	"X-GitHub-Api-Version": "2022-11-28",
}

// FetchVersion returns the newest tag, latest release, newest release
// including pre-releases, or branch head commit depending on the query type.
func (g *GitHub) FetchVersion(ctx context.Context, app *apps.App) *FetchResult {
	repo := fmt.Sprintf("%s/%s", app.SourceRepoName, app.SourceAppName)

	var requestURL, path, siteURL string
	switch app.SourceQueryType {
	case apps.QueryTag, "":
		requestURL = fmt.Sprintf("%s/repos/%s/tags?per_page=1", g.BaseURL, repo)
		path = "[0].name"
		siteURL = fmt.Sprintf("%s/%s/tags", g.WebURL, repo)
	case apps.QueryRelease:
		requestURL = fmt.Sprintf("%s/repos/%s/releases/latest", g.BaseURL, repo)
		path = "tag_name"
		siteURL = fmt.Sprintf("%s/%s/releases", g.WebURL, repo)
	case apps.QueryPreRelease:
		requestURL = fmt.Sprintf("%s/repos/%s/releases?per_page=1", g.BaseURL, repo)
		path = "[0].tag_name"
		siteURL = fmt.Sprintf("%s/%s/releases", g.WebURL, repo)
	case apps.QueryBranch:
		if app.SourceBranchName == "" {
			return misconfigured(apps.ErrMissingBranch)
		}
		requestURL = fmt.Sprintf("%s/repos/%s/commits?sha=%s&per_page=1", g.BaseURL, repo, url.QueryEscape(app.SourceBranchName))
		path = "[0].sha"
		siteURL = fmt.Sprintf("%s/%s/commits/%s", g.WebURL, repo, app.SourceBranchName)
	default:
		return misconfigured(fmt.Errorf("%w: %q", apps.ErrInvalidQueryType, app.SourceQueryType))
	}

	version, failed := getJSONField(ctx, g.client, requestURL, path, githubHeaders)
	if failed != nil {
		return failed
	}
	return success(version, siteURL, requestURL)
}
