package metadata

import (
	"context"
	"sync"

	"github.com/acheong08/depaudit/internal/hosting"
	"github.com/acheong08/depaudit/internal/registry"
	"github.com/acheong08/depaudit/pkg/models"
)

// Provider answers the three metadata questions asked about each dependency.
// Lookups never fail: an unavailable answer is reported as Unknown or !ok.
type Provider interface {
	LookupLicense(ctx context.Context, name, version string) models.LicenseIdentifier
	LookupRepository(ctx context.Context, name, version string) (models.RepositoryRef, bool)
	LookupRepositoryStats(ctx context.Context, ref models.RepositoryRef) (*models.RepositoryStats, bool)
}

// StatsSource resolves repository statistics, trying name variations
type StatsSource interface {
	LookupRepositoryStats(ctx context.Context, ref models.RepositoryRef) (*models.RepositoryStats, bool)
}

var (
	_ Provider    = (*NPMGitHub)(nil)
	_ StatsSource = (*hosting.GitHubClient)(nil)
)

// NPMGitHub reads license and repository from the npm registry and
// statistics from GitHub. Statistics are memoized per repository so
// packages from the same monorepo cost one round of GitHub calls.
type NPMGitHub struct {
	Registry *registry.Client
	Hosting  StatsSource

	mu    sync.Mutex
	stats map[string]*statsEntry
}

type statsEntry struct {
	done  chan struct{}
	stats *models.RepositoryStats
	ok    bool
}

// NewNPMGitHub creates a provider from its two clients
func NewNPMGitHub(reg *registry.Client, gh StatsSource) *NPMGitHub {
	return &NPMGitHub{
		Registry: reg,
		Hosting:  gh,
		stats:    make(map[string]*statsEntry),
	}
}

// LookupLicense returns the declared license or models.UnknownLicense
func (p *NPMGitHub) LookupLicense(ctx context.Context, name, version string) models.LicenseIdentifier {
	return p.Registry.LookupLicense(ctx, name, version)
}

// LookupRepository returns the GitHub repository the package declares
func (p *NPMGitHub) LookupRepository(ctx context.Context, name, version string) (models.RepositoryRef, bool) {
	return p.Registry.LookupRepository(ctx, name, version)
}

// LookupRepositoryStats returns adoption statistics for ref
func (p *NPMGitHub) LookupRepositoryStats(ctx context.Context, ref models.RepositoryRef) (*models.RepositoryStats, bool) {
	key := ref.String()

	p.mu.Lock()
	if p.stats == nil {
		p.stats = make(map[string]*statsEntry)
	}
	if e, ok := p.stats[key]; ok {
		p.mu.Unlock()
		select {
		case <-e.done:
			return copyStats(e.stats), e.ok
		case <-ctx.Done():
			return nil, false
		}
	}
	e := &statsEntry{done: make(chan struct{})}
	p.stats[key] = e
	p.mu.Unlock()

	e.stats, e.ok = p.Hosting.LookupRepositoryStats(ctx, ref)
	close(e.done)
	return copyStats(e.stats), e.ok
}

func copyStats(s *models.RepositoryStats) *models.RepositoryStats {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
