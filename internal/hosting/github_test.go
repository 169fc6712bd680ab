package hosting

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/acheong08/depaudit/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GitHubClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewGitHubClient("test-token", srv.URL, 5*time.Second)
	c.Now = func() time.Time { return fixedNow }
	return c
}

func TestVariations(t *testing.T) {
	tests := []struct {
		name     string
		expected []string
	}{
		{"chart", []string{"chart", "chart.js", "chart-js"}},
		{"chart.js", []string{"chart.js", "chart", "chart-js"}},
		{"chart-js", []string{"chart-js", "chart", "chart.js"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Variations(tt.name))
		})
	}
}

func TestFetchStats(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))
		assert.Equal(t, "/repos/lodash/lodash", r.URL.Path)
		w.Write([]byte(`{"full_name":"lodash/lodash","stargazers_count":59000,"forks_count":7000,"created_at":"2012-04-07T04:11:46Z"}`))
	})

	stats, err := c.FetchStats(context.Background(), models.RepositoryRef{Owner: "lodash", Name: "lodash"})
	require.NoError(t, err)
	assert.Equal(t, &models.RepositoryStats{Stars: 59000, Forks: 7000, AgeInMonths: 146}, stats)
}

func TestFetchStatsIncomplete(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing stars", `{"forks_count":1,"created_at":"2020-01-01T00:00:00Z"}`},
		{"missing forks", `{"stargazers_count":1,"created_at":"2020-01-01T00:00:00Z"}`},
		{"missing created_at", `{"stargazers_count":1,"forks_count":1}`},
		{"bad created_at", `{"stargazers_count":1,"forks_count":1,"created_at":"yesterday"}`},
		{"negative stars", `{"stargazers_count":-1,"forks_count":1,"created_at":"2020-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := c.FetchStats(context.Background(), models.RepositoryRef{Owner: "o", Name: "r"})
			assert.Error(t, err)
		})
	}
}

func TestFetchStatsErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		remaining string
		body      string
		isNF      bool
		want      string
	}{
		{"not found", http.StatusNotFound, "", "", true, "not found"},
		{"rate limited", http.StatusForbidden, "0", "", false, "rate limit exceeded"},
		{"too many requests", http.StatusTooManyRequests, "", "", false, "rate limit exceeded"},
		{"access denied", http.StatusForbidden, "4999", `{"message":"Repository access blocked"}`, false, "access denied (status 403): Repository access blocked"},
		{"server error", http.StatusBadGateway, "", "", false, "unexpected status 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.remaining != "" {
					w.Header().Set("X-RateLimit-Remaining", tt.remaining)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.FetchStats(context.Background(), models.RepositoryRef{Owner: "o", Name: "r"})
			require.Error(t, err)
			assert.Equal(t, tt.isNF, errors.Is(err, ErrNotFound))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestErrorsOmitUpstreamBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("internal-detail"))
	})

	_, err := c.GetFileContents(context.Background(), models.RepositoryRef{Owner: "o", Name: "r"}, "package.json", "")
	require.Error(t, err)
	assert.Equal(t, "unexpected status 418", err.Error())
}

func TestRejectsDotSegments(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	})
	ctx := context.Background()

	for _, filePath := range []string{"../../user/repos/package.json", "a/./package.json", "a//package.json"} {
		_, err := c.GetFileContents(ctx, models.RepositoryRef{Owner: "o", Name: "r"}, filePath, "")
		assert.ErrorIs(t, err, ErrInvalidPath, filePath)
	}
	_, err := c.GetFileContents(ctx, models.RepositoryRef{Owner: "o", Name: ".."}, "package.json", "")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = c.GetRepository(ctx, models.RepositoryRef{Owner: "..", Name: "r"})
	assert.ErrorIs(t, err, ErrInvalidPath)

	assert.Equal(t, 0, calls)
}

func TestLookupRepositoryStatsFallsBackToVariation(t *testing.T) {
	var mu sync.Mutex
	var requested []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested = append(requested, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/repos/chartjs/Chart.js" {
			w.Write([]byte(`{"stargazers_count":60000,"forks_count":11000,"created_at":"2013-03-17T00:00:00Z"}`))
			return
		}
		http.NotFound(w, r)
	})

	stats, ok := c.LookupRepositoryStats(context.Background(), models.RepositoryRef{Owner: "chartjs", Name: "Chart"})
	require.True(t, ok)
	assert.Equal(t, 60000, stats.Stars)
	assert.Equal(t, []string{"/repos/chartjs/Chart", "/repos/chartjs/Chart.js"}, requested)
}

func TestLookupRepositoryStatsExhausted(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	})

	stats, ok := c.LookupRepositoryStats(context.Background(), models.RepositoryRef{Owner: "o", Name: "thing"})
	assert.False(t, ok)
	assert.Nil(t, stats)
	assert.Equal(t, 3, calls)
}

func TestLookupRepositoryStatsCancelled(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := c.LookupRepositoryStats(ctx, models.RepositoryRef{Owner: "o", Name: "thing"})
	assert.False(t, ok)
	assert.Equal(t, 0, calls)
}

func TestGetFileContents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github.raw+json", r.Header.Get("Accept"))
		assert.Equal(t, "/repos/vercel/next.js/contents/packages/next/package.json", r.URL.Path)
		assert.Equal(t, "canary", r.URL.Query().Get("ref"))
		w.Write([]byte(`{"name":"next"}`))
	})

	data, err := c.GetFileContents(context.Background(),
		models.RepositoryRef{Owner: "vercel", Name: "next.js"}, "packages/next/package.json", "canary")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"next"}`, string(data))
}
