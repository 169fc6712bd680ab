// Package policy holds the license allowlist used by the compliance evaluator.
package policy

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/acheong08/depaudit/pkg/models"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the policy file looked up in the working directory
const DefaultFile = ".depaudit-policy.yml"

// Adoption holds the thresholds of the adoption gate. A repository passes
// when it is old enough AND has enough stars OR enough forks.
type Adoption struct {
	MinAgeMonths int `yaml:"min_age_months" json:"min_age_months"`
	MinStars     int `yaml:"min_stars" json:"min_stars"`
	MinForks     int `yaml:"min_forks" json:"min_forks"`
}

// DefaultAdoption returns the stock thresholds: 12 months, 10 stars or 10 forks
func DefaultAdoption() Adoption {
	return Adoption{MinAgeMonths: 12, MinStars: 10, MinForks: 10}
}

// Passes reports whether the statistics clear the gate
func (a Adoption) Passes(stats models.RepositoryStats) bool {
	if stats.AgeInMonths < a.MinAgeMonths {
		return false
	}
	return stats.Stars >= a.MinStars || stats.Forks >= a.MinForks
}

// DefaultAutoApproved lists licenses that skip the adoption gate.
// Both spellings of Apache are listed because matching is exact.
func DefaultAutoApproved() []string {
	return []string{"Apache-2.0", "Apache 2.0"}
}

// DefaultConditionallyApproved lists licenses that are allowed once the adoption gate passes
func DefaultConditionallyApproved() []string {
	return []string{
		"MIT",
		"MIT-0",
		"ISC",
		"BSD-2-Clause",
		"BSD-3-Clause",
		"0BSD",
		"Unlicense",
		"CC0-1.0",
		"CC-BY-4.0",
		"Zlib",
		"BlueOak-1.0.0",
		"Python-2.0",
	}
}

// Policy is an immutable license policy. Build it once and pass it to the evaluator.
type Policy struct {
	autoApproved map[models.LicenseIdentifier]struct{}
	conditional  map[models.LicenseIdentifier]struct{}
	adoption     Adoption
}

// New builds a Policy. A license listed in both sets, or a negative threshold, is an error.
func New(autoApproved, conditional []string, adoption Adoption) (*Policy, error) {
	if adoption.MinAgeMonths < 0 || adoption.MinStars < 0 || adoption.MinForks < 0 {
		return nil, fmt.Errorf("adoption thresholds must not be negative: %+v", adoption)
	}

	p := &Policy{
		autoApproved: make(map[models.LicenseIdentifier]struct{}, len(autoApproved)),
		conditional:  make(map[models.LicenseIdentifier]struct{}, len(conditional)),
		adoption:     adoption,
	}
	for _, lic := range autoApproved {
		p.autoApproved[models.LicenseIdentifier(lic)] = struct{}{}
	}
	for _, lic := range conditional {
		id := models.LicenseIdentifier(lic)
		if _, dup := p.autoApproved[id]; dup {
			return nil, fmt.Errorf("license %q appears in both auto_approved and conditionally_approved", lic)
		}
		p.conditional[id] = struct{}{}
	}

	return p, nil
}

// Default returns the built-in policy
func Default() *Policy {
	p, err := New(DefaultAutoApproved(), DefaultConditionallyApproved(), DefaultAdoption())
	if err != nil {
		panic(err) // built-in lists are disjoint
	}
	return p
}

// File is the on-disk YAML shape of a policy. Omitted keys keep their defaults.
type File struct {
	AutoApproved          []string `yaml:"auto_approved"`
	ConditionallyApproved []string `yaml:"conditionally_approved"`
	Adoption              Adoption `yaml:"adoption"`
}

// Load reads a policy file.
// Load returns Default when the file does not exist.
// Load returns an error if the file exists but is malformed.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return p, nil
}

// Parse builds a Policy from YAML bytes
func Parse(data []byte) (*Policy, error) {
	file := File{Adoption: DefaultAdoption()}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	if file.AutoApproved == nil {
		file.AutoApproved = DefaultAutoApproved()
	}
	if file.ConditionallyApproved == nil {
		file.ConditionallyApproved = DefaultConditionallyApproved()
	}

	return New(file.AutoApproved, file.ConditionallyApproved, file.Adoption)
}

// IsAutoApproved reports whether the license bypasses the adoption gate
func (p *Policy) IsAutoApproved(license models.LicenseIdentifier) bool {
	_, ok := p.autoApproved[license]
	return ok
}

// IsConditionallyApproved reports whether the license is allowed subject to the adoption gate.
// Matching is exact; "mit" does not match "MIT".
func (p *Policy) IsConditionallyApproved(license models.LicenseIdentifier) bool {
	_, ok := p.conditional[license]
	return ok
}

// Adoption returns the adoption gate thresholds
func (p *Policy) Adoption() Adoption {
	return p.adoption
}

// AutoApproved returns the auto-approved licenses, sorted
func (p *Policy) AutoApproved() []string {
	return sortedKeys(p.autoApproved)
}

// ConditionallyApproved returns the conditionally approved licenses, sorted
func (p *Policy) ConditionallyApproved() []string {
	return sortedKeys(p.conditional)
}

func sortedKeys(set map[models.LicenseIdentifier]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}
