package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/acheong08/depaudit/internal/compliance"
	"github.com/acheong08/depaudit/internal/metadata"
	"github.com/acheong08/depaudit/pkg/models"
)

const (
	// DefaultConcurrency is the number of dependencies audited at once
	DefaultConcurrency = 4
	// MaxConcurrency caps fan-out against rate-limited metadata services
	MaxConcurrency = 8
)

// ProgressFunc is called after each dependency is evaluated.
// Calls are serialized; done counts completed dependencies.
type ProgressFunc func(done, total int, result models.EvaluationResult)

// Auditor evaluates every dependency of a project and assembles the report
type Auditor struct {
	provider    metadata.Provider
	evaluator   *compliance.Evaluator
	concurrency int
	progressCb  ProgressFunc
}

// job is one dependency together with its manifest position
type job struct {
	index int
	dep   models.Dependency
}

type outcome struct {
	index  int
	result models.EvaluationResult
	err    error
}

// NewAuditor creates a new auditor. concurrency is clamped to 1..MaxConcurrency.
func NewAuditor(provider metadata.Provider, evaluator *compliance.Evaluator, concurrency int) *Auditor {
	return &Auditor{
		provider:    provider,
		evaluator:   evaluator,
		concurrency: ClampConcurrency(concurrency),
	}
}

// SetProgressFunc sets an optional callback for per-dependency progress
func (a *Auditor) SetProgressFunc(fn ProgressFunc) {
	a.progressCb = fn
}

// ClampConcurrency maps n into 1..MaxConcurrency, treating n <= 0 as the default
func ClampConcurrency(n int) int {
	switch {
	case n <= 0:
		return DefaultConcurrency
	case n > MaxConcurrency:
		return MaxConcurrency
	default:
		return n
	}
}

// Run audits deps and returns the report with its aggregate status.
// Report buckets list dependencies in the order of deps, whatever order
// the workers finish in. Metadata failures degrade the affected result;
// Run itself fails only on cancellation or invalid input.
func (a *Auditor) Run(ctx context.Context, project *models.Package, deps []models.Dependency) (*models.ComplianceReport, models.Status, error) {
	report := models.NewComplianceReport(project)
	if len(deps) == 0 {
		return report, report.Status(), nil
	}

	workChan := make(chan job, len(deps))
	resultChan := make(chan outcome, len(deps))

	for i, dep := range deps {
		workChan <- job{index: i, dep: dep}
	}
	close(workChan)

	workers := min(a.concurrency, len(deps))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.worker(ctx, workChan, resultChan)
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]models.EvaluationResult, len(deps))
	completed := 0
	var firstErr error

	for out := range resultChan {
		if out.err != nil {
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}
		results[out.index] = out.result
		completed++
		if a.progressCb != nil {
			a.progressCb(completed, len(deps), out.result)
		}
	}

	// A cancellation after the last result is in does not discard the report
	if err := ctx.Err(); err != nil && completed < len(deps) {
		return nil, "", fmt.Errorf("audit cancelled after %d/%d dependencies: %w", completed, len(deps), err)
	}
	if firstErr != nil {
		return nil, "", firstErr
	}

	for _, result := range results {
		if err := report.Add(result); err != nil {
			return nil, "", err
		}
	}

	return report, report.Status(), nil
}

// worker audits dependencies from the work channel until it is drained or ctx ends
func (a *Auditor) worker(ctx context.Context, workChan <-chan job, resultChan chan<- outcome) {
	for j := range workChan {
		// Skip remaining work once cancelled
		if ctx.Err() != nil {
			return
		}
		result, err := a.auditDependency(ctx, j.dep)
		// Lookups cut short by cancellation degrade silently; don't report them
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		resultChan <- outcome{index: j.index, result: result, err: err}
	}
}

// auditDependency runs license -> repository -> statistics lookups and evaluates the result
func (a *Auditor) auditDependency(ctx context.Context, dep models.Dependency) (models.EvaluationResult, error) {
	version := dep.Version()

	license := a.provider.LookupLicense(ctx, dep.Name, version)

	var repo *models.RepositoryRef
	var stats *models.RepositoryStats
	if ref, ok := a.provider.LookupRepository(ctx, dep.Name, version); ok {
		repo = &ref
		if s, ok := a.provider.LookupRepositoryStats(ctx, ref); ok {
			stats = s
		}
	}

	return a.evaluator.EvaluateDependency(dep, license, repo, stats)
}
