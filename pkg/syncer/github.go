package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	acceptJSON    = "application/vnd.github+json"
	acceptCommits = "application/vnd.github.cloak-preview+json"
	syncUserAgent = "AceDataCloud-Roadmap-PR-Sync"

	searchPerPage = 100
	maxListItems  = 5000
)

// GithubClient talks to the GitHub REST and search APIs.
type GithubClient struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewGithubClient creates a client for the given API base, e.g. https://api.github.com.
// Token may be empty for unauthenticated access.
func NewGithubClient(baseURL, token string, timeout time.Duration) *GithubClient {
	return &GithubClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// SearchResult is one entry from the issue search, a merged PR.
type SearchResult struct {
	HTMLURL string `json:"html_url"`
	Title   string `json:"title"`
}

// CommitResult is one entry from the commit search.
type CommitResult struct {
	SHA        string       `json:"sha"`
	HTMLURL    string       `json:"html_url"`
	Commit     CommitDetail `json:"commit"`
	Author     *UserRef     `json:"author"`
	Committer  *UserRef     `json:"committer"`
	Parents    []ParentRef  `json:"parents"`
	Repository RepoRef      `json:"repository"`
}

// CommitDetail carries the commit message and committer timestamp.
type CommitDetail struct {
	Message   string `json:"message"`
	Committer struct {
		Date time.Time `json:"date"`
	} `json:"committer"`
}

// UserRef is a GitHub account reference.
type UserRef struct {
	Login string `json:"login"`
}

// ParentRef is a parent commit reference.
type ParentRef struct {
	SHA string `json:"sha"`
}

// RepoRef is the repository a commit belongs to.
type RepoRef struct {
	FullName string `json:"full_name"`
}

// PullRequest is the detail payload for one PR.
type PullRequest struct {
	Title    string     `json:"title"`
	Body     string     `json:"body"`
	HTMLURL  string     `json:"html_url"`
	MergedAt *time.Time `json:"merged_at"`
	User     *UserRef   `json:"user"`
}

// PullFile is one changed file in a PR.
type PullFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch"`
}

// FilesDigest is a compact description of a PR's changed files for summarization.
type FilesDigest struct {
	Files        []PullFile `json:"files"`
	PatchExcerpt string     `json:"patch_excerpt"`
	FilesCount   int        `json:"files_count"`
}

const (
	maxDigestFiles      = 60
	maxFilePatchChars   = 900
	maxDigestPatchChars = 12000
)

// SearchMergedPRs returns merged PRs in the org updated since the given date
// (YYYY-MM-DD), newest first, capped at maxItems.
func (g *GithubClient) SearchMergedPRs(ctx context.Context, org, sinceDate string, maxItems int) ([]SearchResult, error) {
	query := fmt.Sprintf("org:%s is:pr is:merged merged:>=%s", org, sinceDate)

	var items []SearchResult
	for page := 1; len(items) < maxItems; page++ {
		params := url.Values{
			"q":        {query},
			"sort":     {"updated"},
			"order":    {"desc"},
			"per_page": {strconv.Itoa(searchPerPage)},
			"page":     {strconv.Itoa(page)},
		}
		var payload struct {
			Items []SearchResult `json:"items"`
		}
		if err := g.getJSON(ctx, g.baseURL+"/search/issues?"+params.Encode(), acceptJSON, &payload); err != nil {
			return nil, fmt.Errorf("search merged prs: %w", err)
		}
		if len(payload.Items) == 0 {
			break
		}
		items = append(items, payload.Items...)
		if len(payload.Items) < searchPerPage {
			break
		}
	}
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

// SearchCommits returns org commits with committer date since the given date,
// newest first, capped at maxItems. Uses the commit-search preview media type.
func (g *GithubClient) SearchCommits(ctx context.Context, org, sinceDate string, maxItems int) ([]CommitResult, error) {
	query := fmt.Sprintf("org:%s committer-date:>=%s", org, sinceDate)

	var items []CommitResult
	for page := 1; len(items) < maxItems; page++ {
		params := url.Values{
			"q":        {query},
			"sort":     {"committer-date"},
			"order":    {"desc"},
			"per_page": {strconv.Itoa(searchPerPage)},
			"page":     {strconv.Itoa(page)},
		}
		var payload struct {
			Items []CommitResult `json:"items"`
		}
		if err := g.getJSON(ctx, g.baseURL+"/search/commits?"+params.Encode(), acceptCommits, &payload); err != nil {
			return nil, fmt.Errorf("search commits: %w", err)
		}
		if len(payload.Items) == 0 {
			break
		}
		items = append(items, payload.Items...)
		if len(payload.Items) < searchPerPage {
			break
		}
	}
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

// AllowedLogins returns the lower-cased set of org members and outside
// collaborators. A failure to list outside collaborators is tolerated since
// the endpoint needs elevated scopes.
func (g *GithubClient) AllowedLogins(ctx context.Context, org string) (map[string]bool, error) {
	allowed := map[string]bool{}

	var members []UserRef
	if err := g.listJSON(ctx, fmt.Sprintf("%s/orgs/%s/members", g.baseURL, org), &members); err != nil {
		return nil, fmt.Errorf("list org members: %w", err)
	}
	for _, u := range members {
		if login := strings.ToLower(strings.TrimSpace(u.Login)); login != "" {
			allowed[login] = true
		}
	}

	var outside []UserRef
	if err := g.listJSON(ctx, fmt.Sprintf("%s/orgs/%s/outside_collaborators", g.baseURL, org), &outside); err == nil {
		for _, u := range outside {
			if login := strings.ToLower(strings.TrimSpace(u.Login)); login != "" {
				allowed[login] = true
			}
		}
	}

	return allowed, nil
}

// GetPR fetches one PR's detail.
func (g *GithubClient) GetPR(ctx context.Context, org, repo string, number int) (*PullRequest, error) {
	var pr PullRequest
	u := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", g.baseURL, org, repo, number)
	if err := g.getJSON(ctx, u, acceptJSON, &pr); err != nil {
		return nil, fmt.Errorf("get pr %s/%s#%d: %w", org, repo, number, err)
	}
	return &pr, nil
}

// GetPRFilesDigest fetches the PR's changed files and builds a bounded digest
// with per-file stats and a truncated combined patch excerpt.
func (g *GithubClient) GetPRFilesDigest(ctx context.Context, org, repo string, number int) (*FilesDigest, error) {
	var files []PullFile
	for page := 1; len(files) < maxDigestFiles; page++ {
		u := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/files?per_page=%d&page=%d",
			g.baseURL, org, repo, number, searchPerPage, page)
		var payload []PullFile
		if err := g.getJSON(ctx, u, acceptJSON, &payload); err != nil {
			return nil, fmt.Errorf("get pr files %s/%s#%d: %w", org, repo, number, err)
		}
		if len(payload) == 0 {
			break
		}
		files = append(files, payload...)
		if len(payload) < searchPerPage {
			break
		}
	}
	if len(files) > maxDigestFiles {
		files = files[:maxDigestFiles]
	}

	var patches []string
	simplified := make([]PullFile, 0, len(files))
	for _, f := range files {
		simplified = append(simplified, PullFile{
			Filename:  f.Filename,
			Status:    f.Status,
			Additions: f.Additions,
			Deletions: f.Deletions,
			Changes:   f.Changes,
		})
		snippet := strings.TrimSpace(f.Patch)
		if snippet == "" {
			continue
		}
		if len(snippet) > maxFilePatchChars {
			snippet = snippet[:maxFilePatchChars] + "\n…(truncated)…"
		}
		patches = append(patches, fmt.Sprintf("--- %s (%s, +%d/-%d)\n%s",
			f.Filename, f.Status, f.Additions, f.Deletions, snippet))
	}

	patchText := strings.Join(patches, "\n\n")
	if len(patchText) > maxDigestPatchChars {
		patchText = patchText[:maxDigestPatchChars] + "\n…(truncated)…"
	}

	return &FilesDigest{Files: simplified, PatchExcerpt: patchText, FilesCount: len(simplified)}, nil
}

// getJSON performs an authenticated GET and decodes the JSON response.
func (g *GithubClient) getJSON(ctx context.Context, rawURL, accept string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", syncUserAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		details, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("github api error %d for %s: %s", resp.StatusCode, rawURL, string(details))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// listJSON pages through a list endpoint collecting all items.
func (g *GithubClient) listJSON(ctx context.Context, rawURL string, out *[]UserRef) error {
	for page := 1; len(*out) < maxListItems; page++ {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		pageURL := fmt.Sprintf("%s%sper_page=%d&page=%d", rawURL, sep, searchPerPage, page)
		var payload []UserRef
		if err := g.getJSON(ctx, pageURL, acceptJSON, &payload); err != nil {
			return err
		}
		if len(payload) == 0 {
			break
		}
		*out = append(*out, payload...)
		if len(payload) < searchPerPage {
			break
		}
	}
	return nil
}

var pullURLRe = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/pull/(\d+)(?:/.*)?$`)

// ParsePullURL extracts owner, repo and number from a PR html url.
func ParsePullURL(htmlURL string) (owner, repo string, number int, ok bool) {
	m := pullURLRe.FindStringSubmatch(strings.TrimSpace(htmlURL))
	if m == nil {
		return "", "", 0, false
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return "", "", 0, false
	}
	return m[1], m[2], n, true
}

// IsMergeCommit reports whether a commit search result is a merge commit,
// either by parent count or by conventional subject.
func IsMergeCommit(c CommitResult) bool {
	if len(c.Parents) > 1 {
		return true
	}
	subject := firstLine(c.Commit.Message)
	return strings.HasPrefix(subject, "Merge pull request #") || strings.HasPrefix(subject, "Merge branch")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
