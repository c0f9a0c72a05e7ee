package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/obentoo/triggerdockerbuild/internal/apps"
)

// ErrPackageNotListed is returned when a registry search has no exact match
var ErrPackageNotListed = errors.New("package not listed")

// ArchOfficial reads package versions from the Arch Linux package search API.
type ArchOfficial struct {
	BaseURL string
	client  Fetcher
}

// NewArchOfficial creates an adapter for archlinux.org
func NewArchOfficial(client Fetcher) *ArchOfficial {
	return &ArchOfficial{BaseURL: "https://archlinux.org", client: client}
}

type archSearchResponse struct {
	Results []archPackage `json:"results"`
}

type archPackage struct {
	Pkgname string `json:"pkgname"`
	Pkgver  string `json:"pkgver"`
	Pkgrel  string `json:"pkgrel"`
	Epoch   int    `json:"epoch"`
	Repo    string `json:"repo"`
	Arch    string `json:"arch"`
}

// version renders [epoch:]pkgver-pkgrel
func (p archPackage) version() string {
	v := fmt.Sprintf("%s-%s", p.Pkgver, p.Pkgrel)
	if p.Epoch > 0 {
		v = fmt.Sprintf("%d:%s", p.Epoch, v)
	}
	return v
}

// FetchVersion searches for the package and reads the exact name match.
func (a *ArchOfficial) FetchVersion(ctx context.Context, app *apps.App) *FetchResult {
	requestURL := fmt.Sprintf("%s/packages/search/json/?q=%s&arch=any&arch=x86_64", a.BaseURL, url.QueryEscape(app.SourceAppName))

	resp := a.client.Get(ctx, requestURL, nil)
	if !resp.OK {
		return unreachable(requestURL, resp)
	}

	var search archSearchResponse
	if err := resp.DecodeJSON(&search); err != nil {
		return unexpected(requestURL, err)
	}

	for _, pkg := range search.Results {
		if pkg.Pkgname != app.SourceAppName {
			continue
		}
		if pkg.Pkgver == "" || pkg.Pkgrel == "" {
			return unexpected(requestURL, fmt.Errorf("%s: missing pkgver or pkgrel", pkg.Pkgname))
		}
		siteURL := fmt.Sprintf("%s/packages/%s/%s/%s/", a.BaseURL, pkg.Repo, pkg.Arch, pkg.Pkgname)
		return success(pkg.version(), siteURL, requestURL)
	}

	return unexpected(requestURL, fmt.Errorf("%w: %q in %d search results", ErrPackageNotListed, app.SourceAppName, len(search.Results)))
}

// ArchUser reads package versions from the AUR RPC interface.
type ArchUser struct {
	BaseURL string
	client  Fetcher
}

// NewArchUser creates an adapter for aur.archlinux.org
func NewArchUser(client Fetcher) *ArchUser {
	return &ArchUser{BaseURL: "https://aur.archlinux.org", client: client}
}

type aurResponse struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Results []struct {
		Name    string `json:"Name"`
		Version string `json:"Version"`
	} `json:"results"`
}

// FetchVersion returns results[0].Version of an info query.
func (a *ArchUser) FetchVersion(ctx context.Context, app *apps.App) *FetchResult {
	requestURL := fmt.Sprintf("%s/rpc/?v=5&type=info&arg[]=%s", a.BaseURL, url.QueryEscape(app.SourceAppName))

	resp := a.client.Get(ctx, requestURL, nil)
	if !resp.OK {
		return unreachable(requestURL, resp)
	}

	var info aurResponse
	if err := resp.DecodeJSON(&info); err != nil {
		return unexpected(requestURL, err)
	}
	if info.Type == "error" {
		return unexpected(requestURL, fmt.Errorf("AUR error: %s", info.Error))
	}
	if len(info.Results) == 0 {
		return unexpected(requestURL, fmt.Errorf("%w: %q", ErrPackageNotListed, app.SourceAppName))
	}
	if info.Results[0].Version == "" {
		return unexpected(requestURL, errors.New("empty Version field"))
	}

	siteURL := fmt.Sprintf("%s/packages/%s/", a.BaseURL, app.SourceAppName)
	return success(info.Results[0].Version, siteURL, requestURL)
}
