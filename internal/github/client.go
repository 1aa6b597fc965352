// Package github fetches repository metadata from the GitHub REST API and
// produces bounded heuristic summaries of README content.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var ErrBadRepoURL = errors.New("invalid repository url")

// RepoInfo is everything the summarizer endpoint needs about a repository.
// Optional fields are nil when the corresponding API call failed; only the
// core metadata call is load-bearing.
type RepoInfo struct {
	Owner         string  `json:"owner"`
	Repo          string  `json:"repo"`
	Stars         int     `json:"stars"`
	LatestVersion *string `json:"latest_version"`
	ReadmeContent string  `json:"readme_content"`
	WebsiteURL    *string `json:"website_url"`
	LicenseType   *string `json:"license_type"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a GitHub API client. The timeout bounds every outbound
// call; a timed-out optional fetch degrades to a nil field, a timed-out
// metadata fetch fails the whole operation.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ParseRepoURL extracts owner and repo from a github.com URL.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	_, tail, found := strings.Cut(repoURL, "github.com/")
	if !found {
		return "", "", ErrBadRepoURL
	}
	parts := strings.Split(tail, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrBadRepoURL
	}
	return parts[0], parts[1], nil
}

// FetchRepo gathers metadata, latest release, raw README, and license for a
// repository, issuing the four requests concurrently.
func (c *Client) FetchRepo(ctx context.Context, owner, repo string) (RepoInfo, error) {
	base := fmt.Sprintf("%s/repos/%s/%s", c.baseURL, owner, repo)

	var (
		wg          sync.WaitGroup
		metaBody    []byte
		metaErr     error
		releaseBody []byte
		releaseErr  error
		readmeBody  []byte
		readmeErr   error
		licenseBody []byte
		licenseErr  error
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		metaBody, metaErr = c.get(ctx, base, "application/vnd.github.v3+json")
	}()
	go func() {
		defer wg.Done()
		releaseBody, releaseErr = c.get(ctx, base+"/releases/latest", "application/vnd.github.v3+json")
	}()
	go func() {
		defer wg.Done()
		readmeBody, readmeErr = c.get(ctx, base+"/readme", "application/vnd.github.v3.raw")
	}()
	go func() {
		defer wg.Done()
		licenseBody, licenseErr = c.get(ctx, base+"/license", "application/vnd.github.v3+json")
	}()
	wg.Wait()

	if metaErr != nil {
		return RepoInfo{}, fmt.Errorf("fetch repository metadata: %w", metaErr)
	}

	var meta struct {
		StargazersCount int    `json:"stargazers_count"`
		Homepage        string `json:"homepage"`
	}
	if err := json.Unmarshal(metaBody, &meta); err != nil {
		return RepoInfo{}, fmt.Errorf("decode repository metadata: %w", err)
	}

	info := RepoInfo{
		Owner: owner,
		Repo:  repo,
		Stars: meta.StargazersCount,
	}
	if meta.Homepage != "" {
		info.WebsiteURL = &meta.Homepage
	}

	if releaseErr == nil {
		var release struct {
			TagName string `json:"tag_name"`
		}
		if err := json.Unmarshal(releaseBody, &release); err == nil && release.TagName != "" {
			info.LatestVersion = &release.TagName
		}
	}

	if readmeErr == nil {
		info.ReadmeContent = string(readmeBody)
	}

	if licenseErr == nil {
		var license struct {
			License struct {
				SPDXID string `json:"spdx_id"`
			} `json:"license"`
		}
		if err := json.Unmarshal(licenseBody, &license); err == nil && license.License.SPDXID != "" {
			info.LicenseType = &license.License.SPDXID
		}
	}

	return info, nil
}

func (c *Client) get(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}
