package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acheong08/depaudit/internal/config"
)

// setup points the CLI at a fake registry and GitHub API and returns a
// project directory holding manifest
func setup(t *testing.T, manifest string) string {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/npm/", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/npm/") {
		case "typescript/5.4.0":
			fmt.Fprint(w, `{"license":"Apache-2.0"}`)
		case "tiny/0.0.1":
			fmt.Fprint(w, `{"license":"MIT","repository":"someone/tiny"}`)
		case "gpl-thing/1.0.0":
			fmt.Fprint(w, `{"license":"GPL-3.0"}`)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/gh/repos/someone/tiny", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"stargazers_count":2,"forks_count":1,"created_at":"2015-01-01T00:00:00Z"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	chdirForTest(t, dir)
	t.Setenv("NPM_REGISTRY_URL", srv.URL+"/npm")
	t.Setenv("GITHUB_API_URL", srv.URL+"/gh")
	t.Setenv("GITHUB_TOKEN", "test")
	t.Setenv("DEPAUDIT_POLICY", "")
	t.Setenv("AUDIT_CONCURRENCY", "")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(manifest), 0o644))
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestHelp(t *testing.T) {
	for _, arg := range []string{"-h", "--help"} {
		t.Run(arg, func(t *testing.T) {
			code, stdout, _ := runCLI(t, arg)
			assert.Equal(t, 0, code)
			assert.Contains(t, stdout, "Usage:")
			assert.Contains(t, stdout, "-policy")
		})
	}
}

func TestAllApproved(t *testing.T) {
	setup(t, `{"name":"demo","version":"1.0.0","dependencies":{"typescript":"^5.4.0"}}`)

	code, stdout, stderr := runCLI(t)
	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "📦 Auditing: demo@1.0.0 (1 dependencies)")
	assert.Contains(t, stdout, "✓ PASSED: all dependencies approved")
}

func TestNeedsReviewExitsZero(t *testing.T) {
	setup(t, `{"name":"demo","version":"1.0.0","dependencies":{"typescript":"^5.4.0","tiny":"0.0.1"}}`)

	code, stdout, _ := runCLI(t, "--no-color", ".")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "⚠ PASSED WITH WARNINGS: 1 dependency need manual review")
	assert.Contains(t, stdout, "adoption is insufficient")
}

func TestRejectedJSON(t *testing.T) {
	dir := setup(t, `{
		"name": "demo",
		"version": "1.0.0",
		"dependencies": {"typescript": "^5.4.0"},
		"devDependencies": {"gpl-thing": "~1.0.0", "unpublished": "1.0.0"}
	}`)

	code, stdout, stderr := runCLI(t, dir, "--json", "--concurrency", "2")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "📦 Auditing")

	var doc struct {
		RunID    string `json:"run_id"`
		Status   string `json:"status"`
		Rejected []struct {
			License string `json:"license"`
		} `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.NotEmpty(t, doc.RunID)
	assert.Equal(t, "rejected", doc.Status)
	require.Len(t, doc.Rejected, 2)
	assert.Equal(t, "GPL-3.0", doc.Rejected[0].License)
	assert.Equal(t, "Unknown", doc.Rejected[1].License)
}

func TestCustomPolicy(t *testing.T) {
	dir := setup(t, `{"name":"demo","version":"1.0.0","dependencies":{"gpl-thing":"1.0.0"}}`)
	policyPath := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(policyPath, []byte("auto_approved:\n  - GPL-3.0\n"), 0o644))

	code, _, stderr := runCLI(t, "--policy", policyPath)
	assert.Equal(t, 0, code, stderr)
}

func TestFatalErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing manifest", []string{"emptydir"}, "package.json not found"},
		{"unrecognized source", []string{"not a source"}, "unrecognized source"},
		{"two sources", []string{".", "."}, "at most one source"},
		{"bad flag", []string{"--frobnicate"}, "frobnicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setup(t, `{"name":"demo"}`)
			require.NoError(t, os.Mkdir(filepath.Join(dir, "emptydir"), 0o755))

			code, stdout, stderr := runCLI(t, tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stdout+stderr, tt.want)
		})
	}
}

func TestBrokenPolicyIsFatal(t *testing.T) {
	dir := setup(t, `{"name":"demo"}`)
	policyPath := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(policyPath, []byte("auto_approved: [MIT]\nconditionally_approved: [MIT]\n"), 0o644))

	code, _, stderr := runCLI(t, "--policy", policyPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid policy")
}

func TestParseArgsInterleaved(t *testing.T) {
	cfg := &config.Config{PolicyPath: "p.yml", Concurrency: 4}
	opts, err := parseArgs([]string{"--json", "owner/name", "--no-color"}, cfg, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "owner/name", opts.source)
	assert.True(t, opts.jsonOutput)
	assert.True(t, opts.noColor)
	assert.Equal(t, "p.yml", opts.policyPath)
	assert.Equal(t, 4, opts.concurrency)
}

// chdirForTest changes the working directory for the duration of the test
// and restores it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("chdir: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("chdir restore: %v", err)
		}
	})
}
