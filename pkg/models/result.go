package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInput marks structurally invalid input, such as negative star counts
var ErrInvalidInput = errors.New("invalid input")

// LicenseIdentifier is an opaque license string compared by exact match
type LicenseIdentifier string

// UnknownLicense is used whenever license metadata could not be determined
const UnknownLicense LicenseIdentifier = "Unknown"

// Verdict is the terminal classification of a dependency
type Verdict string

const (
	VerdictApproved    Verdict = "approved"
	VerdictNeedsReview Verdict = "needs_review"
	VerdictRejected    Verdict = "rejected"
)

// RepositoryRef identifies a repository on the hosting provider
type RepositoryRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (r RepositoryRef) String() string {
	return r.Owner + "/" + r.Name
}

// WithName returns a copy of the ref pointing at a different repository name
func (r RepositoryRef) WithName(name string) RepositoryRef {
	return RepositoryRef{Owner: r.Owner, Name: name}
}

// RepositoryStats holds the adoption signals of a source repository.
// A nil *RepositoryStats means the statistics could not be retrieved,
// which is not the same thing as a repository with zero stars.
type RepositoryStats struct {
	Stars       int `json:"stars"`
	Forks       int `json:"forks"`
	AgeInMonths int `json:"age_months"`
}

// NewRepositoryStats validates the raw counts and derives the age in whole months
func NewRepositoryStats(stars, forks int, createdAt, now time.Time) (*RepositoryStats, error) {
	if createdAt.IsZero() {
		return nil, fmt.Errorf("%w: missing repository creation time", ErrInvalidInput)
	}
	stats := &RepositoryStats{
		Stars:       stars,
		Forks:       forks,
		AgeInMonths: MonthsBetween(createdAt, now),
	}
	if err := stats.Validate(); err != nil {
		return nil, err
	}
	return stats, nil
}

// Validate rejects negative counts
func (s RepositoryStats) Validate() error {
	if s.Stars < 0 || s.Forks < 0 || s.AgeInMonths < 0 {
		return fmt.Errorf("%w: negative repository statistics (stars=%d forks=%d age=%d)",
			ErrInvalidInput, s.Stars, s.Forks, s.AgeInMonths)
	}
	return nil
}

// MonthsBetween counts the whole calendar months elapsed from start to end.
// Partial months are dropped, never rounded. Returns 0 when end precedes start.
func MonthsBetween(start, end time.Time) int {
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return 0
	}

	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	for months > 0 && addMonths(start, months).After(end) {
		months--
	}
	return months
}

// addMonths is AddDate(0, n, 0) without the day overflow: Jan 31 + 1 month
// lands on the last day of February instead of early March.
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := min(t.Day(), lastDay)
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// EvaluationResult is the verdict for one dependency. It is never mutated
// after the evaluator produces it.
type EvaluationResult struct {
	Dependency    Dependency        `json:"dependency"`
	License       LicenseIdentifier `json:"license"`
	Repository    *RepositoryRef    `json:"repository,omitempty"`
	Stats         *RepositoryStats  `json:"stats,omitempty"`
	Verdict       Verdict           `json:"verdict"`
	Justification string            `json:"justification"`
}
