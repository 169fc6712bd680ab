package models

import (
	"errors"
	"fmt"
)

// ErrDuplicateDependency is returned when a dependency is added to a report twice
var ErrDuplicateDependency = errors.New("dependency already in report")

// Status is the aggregate outcome of an audit run
type Status string

const (
	StatusSuccess     Status = "success"
	StatusNeedsReview Status = "needs_review"
	StatusRejected    Status = "rejected"
)

// Summary contains the derived counts of a ComplianceReport
type Summary struct {
	Approved    int `json:"approved"`
	NeedsReview int `json:"needs_review"`
	Rejected    int `json:"rejected"`
	Total       int `json:"total"`
}

// ComplianceReport groups evaluation results by verdict. Each dependency
// name appears in exactly one bucket.
type ComplianceReport struct {
	Project     *Package           `json:"project,omitempty"`
	Approved    []EvaluationResult `json:"approved"`
	NeedsReview []EvaluationResult `json:"needs_review"`
	Rejected    []EvaluationResult `json:"rejected"`

	seen map[string]struct{}
}

// NewComplianceReport creates an empty report for the given project
func NewComplianceReport(project *Package) *ComplianceReport {
	return &ComplianceReport{
		Project:     project,
		Approved:    []EvaluationResult{},
		NeedsReview: []EvaluationResult{},
		Rejected:    []EvaluationResult{},
		seen:        make(map[string]struct{}),
	}
}

// Add appends a result to the bucket matching its verdict
func (r *ComplianceReport) Add(result EvaluationResult) error {
	if r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	name := result.Dependency.Name
	if _, dup := r.seen[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateDependency, name)
	}

	switch result.Verdict {
	case VerdictApproved:
		r.Approved = append(r.Approved, result)
	case VerdictNeedsReview:
		r.NeedsReview = append(r.NeedsReview, result)
	case VerdictRejected:
		r.Rejected = append(r.Rejected, result)
	default:
		return fmt.Errorf("%w: unknown verdict %q for %s", ErrInvalidInput, result.Verdict, name)
	}

	r.seen[name] = struct{}{}
	return nil
}

// Counts returns the number of results in each bucket
func (r *ComplianceReport) Counts() Summary {
	s := Summary{
		Approved:    len(r.Approved),
		NeedsReview: len(r.NeedsReview),
		Rejected:    len(r.Rejected),
	}
	s.Total = s.Approved + s.NeedsReview + s.Rejected
	return s
}

// Status derives the aggregate status: any rejection wins, then any review item
func (r *ComplianceReport) Status() Status {
	switch {
	case len(r.Rejected) > 0:
		return StatusRejected
	case len(r.NeedsReview) > 0:
		return StatusNeedsReview
	default:
		return StatusSuccess
	}
}

// Results returns all results, approved first, then needs-review, then rejected
func (r *ComplianceReport) Results() []EvaluationResult {
	all := make([]EvaluationResult, 0, len(r.Approved)+len(r.NeedsReview)+len(r.Rejected))
	all = append(all, r.Approved...)
	all = append(all, r.NeedsReview...)
	all = append(all, r.Rejected...)
	return all
}
