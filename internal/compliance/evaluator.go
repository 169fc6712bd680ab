// Package compliance decides whether a dependency's license and adoption
// signals satisfy the license policy.
package compliance

import (
	"fmt"

	"github.com/acheong08/depaudit/internal/policy"
	"github.com/acheong08/depaudit/pkg/models"
)

// Rules is the part of a policy the evaluator consults
type Rules interface {
	IsAutoApproved(license models.LicenseIdentifier) bool
	IsConditionallyApproved(license models.LicenseIdentifier) bool
	Adoption() policy.Adoption
}

// Compile-time interface satisfaction check.
var _ Rules = (*policy.Policy)(nil)

// Decision is a verdict plus the human-readable reason for it
type Decision struct {
	Verdict       models.Verdict
	Justification string
}

// Evaluator applies a policy to license and repository metadata
type Evaluator struct {
	rules Rules
}

// NewEvaluator creates an evaluator bound to the given policy
func NewEvaluator(rules Rules) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate classifies a license. stats may be nil when the repository or its
// statistics could not be resolved. Rules are checked in order:
// auto-approval, conditional approval (with adoption gate), rejection.
func (e *Evaluator) Evaluate(license models.LicenseIdentifier, stats *models.RepositoryStats) (Decision, error) {
	if stats != nil {
		if err := stats.Validate(); err != nil {
			return Decision{}, err
		}
	}

	switch {
	case e.rules.IsAutoApproved(license):
		return Decision{
			Verdict:       models.VerdictApproved,
			Justification: fmt.Sprintf("License %s is automatically approved", license),
		}, nil

	case e.rules.IsConditionallyApproved(license):
		if stats == nil {
			return Decision{
				Verdict: models.VerdictNeedsReview,
				Justification: fmt.Sprintf("License %s is on the approved list but unable to verify substantial use (repository statistics unavailable)",
					license),
			}, nil
		}
		if e.rules.Adoption().Passes(*stats) {
			return Decision{
				Verdict: models.VerdictApproved,
				Justification: fmt.Sprintf("License %s is approved with substantial use (%s)",
					license, describeStats(*stats)),
			}, nil
		}
		return Decision{
			Verdict: models.VerdictNeedsReview,
			Justification: fmt.Sprintf("License %s is on the approved list but adoption is insufficient (%s)",
				license, describeStats(*stats)),
		}, nil

	default:
		return Decision{
			Verdict:       models.VerdictRejected,
			Justification: fmt.Sprintf("License %s is not on the approved list", license),
		}, nil
	}
}

// EvaluateDependency evaluates one dependency and wraps the decision in an EvaluationResult
func (e *Evaluator) EvaluateDependency(
	dep models.Dependency,
	license models.LicenseIdentifier,
	repo *models.RepositoryRef,
	stats *models.RepositoryStats,
) (models.EvaluationResult, error) {
	decision, err := e.Evaluate(license, stats)
	if err != nil {
		return models.EvaluationResult{}, fmt.Errorf("evaluate %s: %w", dep.Name, err)
	}

	result := models.EvaluationResult{
		Dependency:    dep,
		License:       license,
		Verdict:       decision.Verdict,
		Justification: decision.Justification,
	}
	// copies so the result does not alias the caller's values
	if repo != nil {
		r := *repo
		result.Repository = &r
	}
	if stats != nil {
		s := *stats
		result.Stats = &s
	}
	return result, nil
}

func describeStats(s models.RepositoryStats) string {
	return fmt.Sprintf("%d stars, %d forks, %d months old", s.Stars, s.Forks, s.AgeInMonths)
}
