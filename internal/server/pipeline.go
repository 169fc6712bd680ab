package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/acheong08/depaudit/internal/audit"
	"github.com/acheong08/depaudit/internal/compliance"
	"github.com/acheong08/depaudit/internal/hosting"
	"github.com/acheong08/depaudit/internal/metadata"
	"github.com/acheong08/depaudit/internal/parser"
	"github.com/acheong08/depaudit/internal/policy"
	"github.com/acheong08/depaudit/internal/registry"
	"github.com/acheong08/depaudit/internal/report"
	"github.com/acheong08/depaudit/internal/source"
	"github.com/acheong08/depaudit/pkg/models"
)

// ProgressSender interface for sending progress updates
type ProgressSender interface {
	SendMessage(msg Message)
	SendLog(message, level string)
	SendProgress(done, total int, message string)
	SendError(message string, err error)
}

// Settings configures the clients each audit creates
type Settings struct {
	RegistryURL  string
	GitHubAPIURL string
	GitHubToken  string
	HTTPTimeout  time.Duration
	Concurrency  int
	Verbose      bool
	Policy       *policy.Policy
}

// Pipeline runs one audit for a WebSocket client
type Pipeline struct {
	settings Settings
	runID    string

	// Progress sender
	sender ProgressSender
}

// NewPipeline creates a new pipeline instance
func NewPipeline(settings Settings, runID string, sender ProgressSender) *Pipeline {
	if settings.Policy == nil {
		settings.Policy = policy.Default()
	}
	return &Pipeline{
		settings: settings,
		runID:    runID,
		sender:   sender,
	}
}

// log sends a log message both to the WebSocket client and to the console
func (p *Pipeline) log(message, level string) {
	// Send to WebSocket client
	p.sender.SendLog(message, level)

	// Also log to console with level indicator
	prefix := "[INFO]"
	switch level {
	case "success":
		prefix = "[SUCCESS]"
	case "warning":
		prefix = "[WARN]"
	case "error":
		prefix = "[ERROR]"
	}
	log.Printf("%s [%s] %s", prefix, p.runID, message)
}

// logf is a formatted version of log
func (p *Pipeline) logf(format string, args ...interface{}) {
	p.log(fmt.Sprintf(format, args...), "info")
}

// Run executes the audit and returns the report document
func (p *Pipeline) Run(ctx context.Context, payload *AuditPayload) (*report.Document, error) {
	regClient := registry.NewClient(p.settings.RegistryURL, p.settings.HTTPTimeout)
	regClient.Verbose = p.settings.Verbose
	regClient.SetLogCallback(p.forwardLog)

	ghClient := hosting.NewGitHubClient(p.settings.GitHubToken, p.settings.GitHubAPIURL, p.settings.HTTPTimeout)
	ghClient.Verbose = p.settings.Verbose
	ghClient.SetLogCallback(p.forwardLog)

	// Step 1: Acquire the manifest
	manifest, err := p.loadManifest(ctx, payload, ghClient)
	if err != nil {
		return nil, err
	}

	project := manifest.ToPackage()
	deps := manifest.GetAllDependencies()
	p.logf("Auditing %d dependencies of %s", len(deps), project.ID)
	p.sender.SendProgress(0, len(deps), "Starting audit...")

	// Step 2: Evaluate every dependency, streaming verdicts as they arrive
	provider := metadata.NewNPMGitHub(regClient, ghClient)
	auditor := audit.NewAuditor(provider, compliance.NewEvaluator(p.settings.Policy), p.settings.Concurrency)
	auditor.SetProgressFunc(func(done, total int, result models.EvaluationResult) {
		p.sender.SendMessage(NewResultMessage(result))
		p.sender.SendProgress(done, total, fmt.Sprintf("%s: %s", result.Dependency.ID(), result.Verdict))
	})

	rep, status, err := auditor.Run(ctx, project, deps)
	if err != nil {
		return nil, fmt.Errorf("audit failed: %w", err)
	}

	// Step 3: Summarize
	doc := report.NewDocument(p.runID, rep, status)
	c := doc.Summary
	level := "success"
	switch status {
	case models.StatusRejected:
		level = "error"
	case models.StatusNeedsReview:
		level = "warning"
	}
	p.log(fmt.Sprintf("%d approved, %d need review, %d rejected", c.Approved, c.NeedsReview, c.Rejected), level)

	return &doc, nil
}

// forwardLog passes client soft failures to the WebSocket only; the clients
// print to the console themselves when verbose.
func (p *Pipeline) forwardLog(message, level string) {
	p.sender.SendLog(message, level)
}

func (p *Pipeline) loadManifest(ctx context.Context, payload *AuditPayload, gh source.FileFetcher) (*parser.PackageJSON, error) {
	if payload.PackageJSON != "" {
		manifest, err := parser.ParsePackageJSONBytes([]byte(payload.PackageJSON))
		if err != nil {
			return nil, err
		}
		return manifest, nil
	}

	// Never read the server's own filesystem on behalf of a client
	src, err := source.ResolveRemote(payload.Source)
	if err != nil {
		return nil, err
	}

	p.logf("Fetching %s from %s", parser.ManifestFile, src)
	return source.Load(ctx, src, gh)
}
