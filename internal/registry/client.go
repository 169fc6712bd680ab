package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/acheong08/depaudit/pkg/models"
)

// DefaultBaseURL is the public npm registry
const DefaultBaseURL = "https://registry.npmjs.org"

// LogCallback is an optional function for forwarding log messages (e.g. to WebSocket).
type LogCallback func(message, level string)

// VersionMetadata is the subset of a registry version document we read.
// license and repository come in several historical shapes, so they stay raw.
type VersionMetadata struct {
	Name       string          `json:"name"`
	Version    string          `json:"version"`
	License    json.RawMessage `json:"license"`
	Licenses   json.RawMessage `json:"licenses"`
	Repository json.RawMessage `json:"repository"`
}

// Client reads package metadata from an npm registry
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Verbose    bool // print soft failures to the standard logger
	logCb      LogCallback

	mu    sync.Mutex
	cache map[string]*fetchResult
}

type fetchResult struct {
	done chan struct{}
	meta *VersionMetadata
	err  error
}

// NewClient creates a new registry client
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		cache: make(map[string]*fetchResult),
	}
}

// SetLogCallback sets an optional callback for forwarding log messages.
func (c *Client) SetLogCallback(cb LogCallback) {
	c.logCb = cb
}

func (c *Client) logMsg(message, level string) {
	if c.Verbose {
		log.Printf("[%s] %s", strings.ToUpper(level), message)
	}
	if c.logCb != nil {
		c.logCb(message, level)
	}
}

// FetchPackageMetadata fetches the metadata of one package version.
// version may also be a dist-tag such as "latest".
func (c *Client) FetchPackageMetadata(ctx context.Context, name, version string) (*VersionMetadata, error) {
	url := fmt.Sprintf("%s/%s/%s", c.BaseURL, escapePackageName(name), version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// npm registry doesn't require auth for public packages
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("failed to fetch metadata: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var meta VersionMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	return &meta, nil
}

// metadata returns the version document, fetching it at most once per client.
// Concurrent callers for the same key wait on the first fetch.
func (c *Client) metadata(ctx context.Context, name, version string) (*VersionMetadata, error) {
	key := name + "@" + version

	c.mu.Lock()
	if c.cache == nil {
		c.cache = make(map[string]*fetchResult)
	}
	if res, ok := c.cache[key]; ok {
		c.mu.Unlock()
		select {
		case <-res.done:
			return res.meta, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	res := &fetchResult{done: make(chan struct{})}
	c.cache[key] = res
	c.mu.Unlock()

	res.meta, res.err = c.FetchPackageMetadata(ctx, name, version)
	close(res.done)
	return res.meta, res.err
}

// LookupLicense returns the declared license of a package version, or
// models.UnknownLicense when it cannot be determined.
func (c *Client) LookupLicense(ctx context.Context, name, version string) models.LicenseIdentifier {
	meta, err := c.metadata(ctx, name, version)
	if err != nil {
		c.logMsg(fmt.Sprintf("license lookup failed for %s@%s: %v", name, version, err), "warning")
		return models.UnknownLicense
	}

	license := ExtractLicense(meta)
	if license == models.UnknownLicense {
		c.logMsg(fmt.Sprintf("no license declared for %s@%s", name, version), "warning")
	}
	return license
}

// LookupRepository returns the GitHub repository declared by a package version
func (c *Client) LookupRepository(ctx context.Context, name, version string) (models.RepositoryRef, bool) {
	meta, err := c.metadata(ctx, name, version)
	if err != nil {
		c.logMsg(fmt.Sprintf("repository lookup failed for %s@%s: %v", name, version, err), "warning")
		return models.RepositoryRef{}, false
	}

	ref, ok := ExtractRepository(meta)
	if !ok {
		c.logMsg(fmt.Sprintf("no GitHub repository declared for %s@%s", name, version), "info")
	}
	return ref, ok
}

// ExtractLicense reads the license from the "license" field (string or
// {"type": ...}) or the legacy "licenses" array. The value is not normalized.
func ExtractLicense(meta *VersionMetadata) models.LicenseIdentifier {
	if meta == nil {
		return models.UnknownLicense
	}

	if lic := licenseValue(meta.License); lic != "" {
		return models.LicenseIdentifier(lic)
	}

	var legacy []json.RawMessage
	if len(meta.Licenses) > 0 && json.Unmarshal(meta.Licenses, &legacy) == nil {
		for _, entry := range legacy {
			if lic := licenseValue(entry); lic != "" {
				return models.LicenseIdentifier(lic)
			}
		}
	}

	return models.UnknownLicense
}

func licenseValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return ""
		}
		return s
	}

	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Type) != "" {
		return obj.Type
	}
	return ""
}

// ExtractRepository reads the "repository" field (string or {"url": ...})
// and returns the GitHub repository it points to
func ExtractRepository(meta *VersionMetadata) (models.RepositoryRef, bool) {
	if meta == nil || len(meta.Repository) == 0 {
		return models.RepositoryRef{}, false
	}

	var url string
	var s string
	if err := json.Unmarshal(meta.Repository, &s); err == nil {
		url = s
	} else {
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(meta.Repository, &obj); err != nil {
			return models.RepositoryRef{}, false
		}
		url = obj.URL
	}

	return ParseGitHubRepository(url)
}

// ParseGitHubRepository extracts owner/name from the repository spellings npm allows:
//
//	github:user/repo
//	user/repo
//	git+https://github.com/user/repo.git
//	git://github.com/user/repo.git
//	git+ssh://git@github.com/user/repo.git
//	git@github.com:user/repo.git
//	https://github.com/user/repo/tree/main/packages/x
func ParseGitHubRepository(raw string) (models.RepositoryRef, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return models.RepositoryRef{}, false
	}
	if idx := strings.IndexAny(v, "#?"); idx != -1 {
		v = v[:idx]
	}

	var path string
	switch {
	case strings.HasPrefix(v, "github:"):
		path = strings.TrimPrefix(v, "github:")
	case strings.HasPrefix(v, "gitlab:"), strings.HasPrefix(v, "bitbucket:"), strings.HasPrefix(v, "gist:"):
		return models.RepositoryRef{}, false
	case strings.Contains(v, "github.com"):
		idx := strings.Index(v, "github.com") + len("github.com")
		path = strings.TrimLeft(v[idx:], ":/")
	case !strings.Contains(v, ":") && strings.Count(v, "/") == 1:
		// user/repo shorthand
		path = v
	default:
		return models.RepositoryRef{}, false
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return models.RepositoryRef{}, false
	}
	owner := parts[0]
	name := strings.TrimSuffix(parts[1], ".git")
	if owner == "" || name == "" {
		return models.RepositoryRef{}, false
	}

	return models.RepositoryRef{Owner: owner, Name: name}, true
}

// escapePackageName escapes the slash of a scoped package for use in a URL path
func escapePackageName(name string) string {
	// Replace @scope/name with @scope%2Fname
	if strings.HasPrefix(name, "@") {
		parts := strings.SplitN(name, "/", 2)
		if len(parts) == 2 {
			return parts[0] + "%2F" + parts[1]
		}
	}
	return name
}
