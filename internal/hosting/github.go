package hosting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acheong08/depaudit/pkg/models"
)

// DefaultAPIURL is the public GitHub REST API
const DefaultAPIURL = "https://api.github.com"

// ErrNotFound is returned when the repository or file does not exist
var ErrNotFound = errors.New("not found on GitHub")

// ErrInvalidPath is returned for owner, name or file path segments that
// would leave the repository on the API side
var ErrInvalidPath = errors.New("invalid repository path")

// maxErrorMessage bounds the upstream message carried in errors
const maxErrorMessage = 200

// LogCallback is an optional function for forwarding log messages
type LogCallback func(message, level string)

// GitHubClient provides access to the GitHub REST API
type GitHubClient struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	Verbose    bool
	// Now is the clock used to derive repository age
	Now func() time.Time

	logCb LogCallback
}

// NewGitHubClient creates a new GitHub API client. token may be empty
// for unauthenticated (rate limited) access.
func NewGitHubClient(token, baseURL string, timeout time.Duration) *GitHubClient {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &GitHubClient{
		Token:      token,
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Now:        time.Now,
	}
}

// SetLogCallback sets an optional callback for forwarding log messages.
func (c *GitHubClient) SetLogCallback(cb LogCallback) {
	c.logCb = cb
}

func (c *GitHubClient) logMsg(message, level string) {
	if c.Verbose {
		log.Printf("[%s] %s", strings.ToUpper(level), message)
	}
	if c.logCb != nil {
		c.logCb(message, level)
	}
}

// Repository is the subset of GET /repos/{owner}/{repo} we read.
// Pointers distinguish a missing field from a zero count.
type Repository struct {
	FullName        string  `json:"full_name"`
	StargazersCount *int    `json:"stargazers_count"`
	ForksCount      *int    `json:"forks_count"`
	CreatedAt       *string `json:"created_at"`
}

func (c *GitHubClient) newRequest(ctx context.Context, path, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "depaudit")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *GitHubClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	case isRateLimited(resp):
		return nil, fmt.Errorf("GitHub API rate limit exceeded (status %d); set GITHUB_TOKEN to raise the limit", resp.StatusCode)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("access denied (status 403)%s", errorMessage(body))
	default:
		return nil, fmt.Errorf("unexpected status %d%s", resp.StatusCode, errorMessage(body))
	}
}

// isRateLimited tells a rate limit apart from other 403s, which GitHub also
// returns for private or blocked repositories
func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// errorMessage extracts the "message" field of a GitHub error body. Anything
// else in the body is dropped since errors may be relayed to remote clients.
func errorMessage(body []byte) string {
	var apiErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) != nil || apiErr.Message == "" {
		return ""
	}
	msg := apiErr.Message
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage] + "..."
	}
	return ": " + msg
}

// validSegment reports whether s can be used as a single path segment
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".."
}

// GetRepository fetches repository metadata
func (c *GitHubClient) GetRepository(ctx context.Context, ref models.RepositoryRef) (*Repository, error) {
	if !validSegment(ref.Owner) || !validSegment(ref.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, ref.String())
	}
	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(ref.Owner), url.PathEscape(ref.Name))

	req, err := c.newRequest(ctx, path, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var repo Repository
	if err := json.Unmarshal(body, &repo); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &repo, nil
}

// FetchStats returns the adoption statistics of a repository. The result is
// all-or-nothing: a response missing any of stars, forks or creation time is an error.
func (c *GitHubClient) FetchStats(ctx context.Context, ref models.RepositoryRef) (*models.RepositoryStats, error) {
	repo, err := c.GetRepository(ctx, ref)
	if err != nil {
		return nil, err
	}

	if repo.StargazersCount == nil || repo.ForksCount == nil || repo.CreatedAt == nil {
		return nil, fmt.Errorf("incomplete statistics for %s", ref)
	}

	createdAt, err := time.Parse(time.RFC3339, *repo.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at for %s: %w", ref, err)
	}

	return models.NewRepositoryStats(*repo.StargazersCount, *repo.ForksCount, createdAt, c.Now())
}

// LookupRepositoryStats tries the repository name and its naming variations
// in order and returns the first statistics that resolve.
func (c *GitHubClient) LookupRepositoryStats(ctx context.Context, ref models.RepositoryRef) (*models.RepositoryStats, bool) {
	for _, name := range Variations(ref.Name) {
		candidate := ref.WithName(name)
		stats, err := c.FetchStats(ctx, candidate)
		if err != nil {
			c.logMsg(fmt.Sprintf("statistics lookup failed for %s: %v", candidate, err), "warning")
			if ctx.Err() != nil {
				return nil, false
			}
			continue
		}
		if name != ref.Name {
			c.logMsg(fmt.Sprintf("resolved %s as %s", ref, candidate), "info")
		}
		return stats, true
	}
	return nil, false
}

// Variations returns the repository names to try, exact name first.
// JavaScript projects are often published as "foo" from a "foo.js" or
// "foo-js" repository, or the other way round. The match is a heuristic and
// may pick an unrelated repository with a similar name.
func Variations(name string) []string {
	switch {
	case strings.HasSuffix(name, ".js"):
		base := strings.TrimSuffix(name, ".js")
		return []string{name, base, base + "-js"}
	case strings.HasSuffix(name, "-js"):
		base := strings.TrimSuffix(name, "-js")
		return []string{name, base, base + ".js"}
	default:
		return []string{name, name + ".js", name + "-js"}
	}
}

// GetFileContents downloads a raw file from a repository. ref may be empty
// for the default branch.
func (c *GitHubClient) GetFileContents(ctx context.Context, repo models.RepositoryRef, filePath, ref string) ([]byte, error) {
	if !validSegment(repo.Owner) || !validSegment(repo.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, repo.String())
	}
	var escaped []string
	for _, seg := range strings.Split(strings.Trim(filePath, "/"), "/") {
		if !validSegment(seg) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, filePath)
		}
		escaped = append(escaped, url.PathEscape(seg))
	}
	path := fmt.Sprintf("/repos/%s/%s/contents/%s",
		url.PathEscape(repo.Owner), url.PathEscape(repo.Name), strings.Join(escaped, "/"))
	if ref != "" {
		path += "?ref=" + url.QueryEscape(ref)
	}

	req, err := c.newRequest(ctx, path, "application/vnd.github.raw+json")
	if err != nil {
		return nil, err
	}
	return c.do(req)
}
