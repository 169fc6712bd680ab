package main

import (
	"log"
	"net/http"

	"github.com/acheong08/depaudit/internal/config"
	"github.com/acheong08/depaudit/internal/policy"
	"github.com/acheong08/depaudit/internal/server"
)

func main() {
	cfg := config.Load()

	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("Failed to load policy: %v", err)
	}

	if cfg.GitHubToken == "" {
		log.Printf("[WARN] GITHUB_TOKEN not set, GitHub API calls are rate limited")
	}

	handler := server.NewHandler(server.Settings{
		RegistryURL:  cfg.RegistryURL,
		GitHubAPIURL: cfg.GitHubAPIURL,
		GitHubToken:  cfg.GitHubToken,
		HTTPTimeout:  cfg.HTTPTimeout,
		Concurrency:  cfg.Concurrency,
		Verbose:      cfg.Verbose,
		Policy:       pol,
	})

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
