package source

import (
	"context"
	"fmt"
	"net/url"

	"github.com/obentoo/triggerdockerbuild/internal/apps"
)

// GitLab reads the head commit of a branch through the GitLab REST API.
type GitLab struct {
	BaseURL string
	WebURL  string
	client  Fetcher
}

// NewGitLab creates a GitLab adapter for gitlab.com
func NewGitLab(client Fetcher) *GitLab {
	return &GitLab{
		BaseURL: "https://gitlab.com/api/v4",
		WebURL:  "https://gitlab.com",
		client:  client,
	}
}

// FetchVersion returns the id of the newest commit on the configured branch.
func (g *GitLab) FetchVersion(ctx context.Context, app *apps.App) *FetchResult {
	if app.SourceQueryType != apps.QueryBranch && app.SourceQueryType != "" {
		return misconfigured(fmt.Errorf("%w: gitlab supports only branch, got %q", apps.ErrInvalidQueryType, app.SourceQueryType))
	}
	if app.SourceBranchName == "" {
		return misconfigured(apps.ErrMissingBranch)
	}

	project := fmt.Sprintf("%s/%s", app.SourceRepoName, app.SourceAppName)
	requestURL := fmt.Sprintf("%s/projects/%s/repository/commits?ref_name=%s&per_page=1",
		g.BaseURL, url.PathEscape(project), url.QueryEscape(app.SourceBranchName))
	siteURL := fmt.Sprintf("%s/%s/-/commits/%s", g.WebURL, project, app.SourceBranchName)

	version, failed := getJSONField(ctx, g.client, requestURL, "[0].id", nil)
	if failed != nil {
		return failed
	}
	return success(version, siteURL, requestURL)
}
