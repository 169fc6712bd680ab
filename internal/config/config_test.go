package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PORT", "GITHUB_TOKEN", "GITHUB_API_URL", "NPM_REGISTRY_URL",
	"AUDIT_CONCURRENCY", "DEPAUDIT_POLICY", "DEPAUDIT_VERBOSE", "HTTP_TIMEOUT_SECONDS",
}

// isolate runs the test in an empty directory with every config key cleared
func isolate(t *testing.T) {
	t.Helper()
	chdirForTest(t, t.TempDir())
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg := Load()
	assert.Equal(t, &Config{
		Port:         "8080",
		GitHubAPIURL: "https://api.github.com",
		RegistryURL:  "https://registry.npmjs.org",
		Concurrency:  4,
		PolicyPath:   ".depaudit-policy.yml",
		HTTPTimeout:  30 * time.Second,
	}, cfg)
}

func TestLoadFromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("AUDIT_CONCURRENCY", "6")
	t.Setenv("DEPAUDIT_VERBOSE", "true")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "5")
	t.Setenv("NPM_REGISTRY_URL", "http://localhost:4873")

	cfg := Load()
	assert.Equal(t, "ghp_test", cfg.GitHubToken)
	assert.Equal(t, 6, cfg.Concurrency)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "http://localhost:4873", cfg.RegistryURL)
}

func TestLoadClampsAndIgnoresGarbage(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"32", 8},
		{"1", 1},
		{"0", 4},
		{"four", 4},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			isolate(t)
			t.Setenv("AUDIT_CONCURRENCY", tt.value)
			assert.Equal(t, tt.want, Load().Concurrency)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	// godotenv does not override variables that are already set
	os.Unsetenv("GITHUB_TOKEN")
	os.Unsetenv("PORT")
	t.Cleanup(func() {
		os.Unsetenv("GITHUB_TOKEN")
		os.Unsetenv("PORT")
	})
	require.NoError(t, os.WriteFile(filepath.Join(".", ".env"), []byte("GITHUB_TOKEN=from-dotenv\nPORT=9090\n"), 0o644))

	cfg := Load()
	assert.Equal(t, "from-dotenv", cfg.GitHubToken)
	assert.Equal(t, "9090", cfg.Port)
}

func TestLoadHTTPTimeout(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"10", 10 * time.Second},
		{"0", DefaultHTTPTimeout},
		{"-5", DefaultHTTPTimeout},
		{"soon", DefaultHTTPTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			isolate(t)
			t.Setenv("HTTP_TIMEOUT_SECONDS", tt.value)
			assert.Equal(t, tt.want, Load().HTTPTimeout)
		})
	}
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
