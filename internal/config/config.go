package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/acheong08/depaudit/internal/audit"
	"github.com/acheong08/depaudit/internal/hosting"
	"github.com/acheong08/depaudit/internal/policy"
	"github.com/acheong08/depaudit/internal/registry"
)

// Config holds all environment configuration
type Config struct {
	// Server
	Port string

	// GitHub
	GitHubToken  string
	GitHubAPIURL string

	// npm
	RegistryURL string

	// Audit
	Concurrency int
	PolicyPath  string
	Verbose     bool
	HTTPTimeout time.Duration
}

// Load reads configuration from the environment, after loading .env if present
func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:         getEnv("PORT", "8080"),
		GitHubToken:  getEnv("GITHUB_TOKEN", ""),
		GitHubAPIURL: getEnv("GITHUB_API_URL", hosting.DefaultAPIURL),
		RegistryURL:  getEnv("NPM_REGISTRY_URL", registry.DefaultBaseURL),
		Concurrency:  audit.ClampConcurrency(getEnvInt("AUDIT_CONCURRENCY", audit.DefaultConcurrency)),
		PolicyPath:   getEnv("DEPAUDIT_POLICY", policy.DefaultFile),
		Verbose:      getEnvBool("DEPAUDIT_VERBOSE", false),
		HTTPTimeout:  httpTimeout(getEnvInt("HTTP_TIMEOUT_SECONDS", 0)),
	}
}

// DefaultHTTPTimeout applies when HTTP_TIMEOUT_SECONDS is unset or not positive
const DefaultHTTPTimeout = 30 * time.Second

// httpTimeout never returns zero, which http.Client treats as no timeout
func httpTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultHTTPTimeout
	}
	return time.Duration(seconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
