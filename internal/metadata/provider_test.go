package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/acheong08/depaudit/internal/registry"
	"github.com/acheong08/depaudit/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStats struct {
	mock.Mock
}

func (m *mockStats) LookupRepositoryStats(ctx context.Context, ref models.RepositoryRef) (*models.RepositoryStats, bool) {
	args := m.Called(ctx, ref)
	stats, _ := args.Get(0).(*models.RepositoryStats)
	return stats, args.Bool(1)
}

func TestNPMGitHubDelegatesToRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"license":"MIT","repository":"github:babel/babel"}`))
	}))
	defer srv.Close()

	p := NewNPMGitHub(registry.NewClient(srv.URL, 5*time.Second), &mockStats{})
	ctx := context.Background()

	assert.Equal(t, models.LicenseIdentifier("MIT"), p.LookupLicense(ctx, "@babel/core", "7.24.0"))
	ref, ok := p.LookupRepository(ctx, "@babel/core", "7.24.0")
	require.True(t, ok)
	assert.Equal(t, models.RepositoryRef{Owner: "babel", Name: "babel"}, ref)
}

func TestNPMGitHubMemoizesStats(t *testing.T) {
	ref := models.RepositoryRef{Owner: "babel", Name: "babel"}
	gh := &mockStats{}
	gh.On("LookupRepositoryStats", mock.Anything, ref).
		Return(&models.RepositoryStats{Stars: 43000, Forks: 5600, AgeInMonths: 120}, true).
		Once()

	p := NewNPMGitHub(registry.NewClient("http://unused", time.Second), gh)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, ok := p.LookupRepositoryStats(context.Background(), ref)
			assert.True(t, ok)
			assert.Equal(t, 43000, stats.Stars)
		}()
	}
	wg.Wait()

	gh.AssertExpectations(t)
	gh.AssertNumberOfCalls(t, "LookupRepositoryStats", 1)
}

func TestNPMGitHubMemoizesAbsence(t *testing.T) {
	ref := models.RepositoryRef{Owner: "ghost", Name: "missing"}
	gh := &mockStats{}
	gh.On("LookupRepositoryStats", mock.Anything, ref).Return(nil, false).Once()

	p := NewNPMGitHub(registry.NewClient("http://unused", time.Second), gh)
	for i := 0; i < 2; i++ {
		stats, ok := p.LookupRepositoryStats(context.Background(), ref)
		assert.False(t, ok)
		assert.Nil(t, stats)
	}
	gh.AssertNumberOfCalls(t, "LookupRepositoryStats", 1)
}

func TestNPMGitHubStatsAreCopies(t *testing.T) {
	ref := models.RepositoryRef{Owner: "o", Name: "r"}
	gh := &mockStats{}
	gh.On("LookupRepositoryStats", mock.Anything, ref).
		Return(&models.RepositoryStats{Stars: 1, Forks: 1, AgeInMonths: 1}, true)

	p := NewNPMGitHub(registry.NewClient("http://unused", time.Second), gh)
	first, _ := p.LookupRepositoryStats(context.Background(), ref)
	first.Stars = 999

	second, _ := p.LookupRepositoryStats(context.Background(), ref)
	assert.Equal(t, 1, second.Stars)
}
