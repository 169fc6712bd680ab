package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/acheong08/depaudit/pkg/models"
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500"))
	styleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// ExitCode maps the aggregate status to the process exit code.
// Needs-review items are warnings and do not fail the run.
func ExitCode(status models.Status) int {
	if status == models.StatusRejected {
		return 1
	}
	return 0
}

// ColorEnabled reports whether output to f should be styled
func ColorEnabled(f *os.File, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// TextRenderer writes a human readable report grouped by verdict
type TextRenderer struct {
	color bool
}

// NewTextRenderer creates a text renderer; color=false emits plain text
func NewTextRenderer(color bool) *TextRenderer {
	return &TextRenderer{color: color}
}

func (r *TextRenderer) paint(style lipgloss.Style, s string) string {
	if !r.color {
		return s
	}
	return style.Render(s)
}

type section struct {
	icon    string
	title   string
	style   lipgloss.Style
	results []models.EvaluationResult
}

// Render writes the report and its status line to w
func (r *TextRenderer) Render(w io.Writer, report *models.ComplianceReport, status models.Status) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", r.paint(styleTitle, "License compliance report for "+projectName(report.Project)))

	sections := []section{
		{"✓", "Approved", styleSuccess, report.Approved},
		{"⚠", "Needs review", styleWarn, report.NeedsReview},
		{"✗", "Rejected", styleErr, report.Rejected},
	}

	for _, s := range sections {
		if len(s.results) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s\n", r.paint(s.style, fmt.Sprintf("%s %s (%d)", s.icon, s.title, len(s.results))))

		idWidth, licWidth := 0, 0
		for _, res := range s.results {
			idWidth = max(idWidth, len(res.Dependency.ID()))
			licWidth = max(licWidth, len(res.License))
		}
		for _, res := range s.results {
			fmt.Fprintf(&b, "  %-*s  %-*s  %s\n",
				idWidth, res.Dependency.ID(),
				licWidth, res.License,
				r.paint(styleDim, res.Justification))
		}
	}

	c := report.Counts()
	fmt.Fprintf(&b, "\nSummary: %d approved, %d need review, %d rejected (%d total)\n",
		c.Approved, c.NeedsReview, c.Rejected, c.Total)
	fmt.Fprintf(&b, "%s\n", r.statusLine(status, c))

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *TextRenderer) statusLine(status models.Status, c models.Summary) string {
	switch status {
	case models.StatusRejected:
		return r.paint(styleErr, fmt.Sprintf("✗ FAILED: %d %s rejected", c.Rejected, plural(c.Rejected)))
	case models.StatusNeedsReview:
		return r.paint(styleWarn, fmt.Sprintf("⚠ PASSED WITH WARNINGS: %d %s need manual review", c.NeedsReview, plural(c.NeedsReview)))
	default:
		return r.paint(styleSuccess, "✓ PASSED: all dependencies approved")
	}
}

func plural(n int) string {
	if n == 1 {
		return "dependency"
	}
	return "dependencies"
}

func projectName(p *models.Package) string {
	switch {
	case p == nil || p.Name == "":
		return "unnamed project"
	case p.Version == "":
		return p.Name
	default:
		return p.Name + "@" + p.Version
	}
}

// Document is the JSON form of a report
type Document struct {
	RunID       string                    `json:"run_id"`
	Project     *models.Package           `json:"project,omitempty"`
	Status      models.Status             `json:"status"`
	Summary     models.Summary            `json:"summary"`
	Approved    []models.EvaluationResult `json:"approved"`
	NeedsReview []models.EvaluationResult `json:"needs_review"`
	Rejected    []models.EvaluationResult `json:"rejected"`
}

// NewDocument builds the JSON document for a report. An empty runID is
// replaced with a fresh UUID.
func NewDocument(runID string, report *models.ComplianceReport, status models.Status) Document {
	if runID == "" {
		runID = uuid.New().String()
	}
	return Document{
		RunID:       runID,
		Project:     report.Project,
		Status:      status,
		Summary:     report.Counts(),
		Approved:    nonNil(report.Approved),
		NeedsReview: nonNil(report.NeedsReview),
		Rejected:    nonNil(report.Rejected),
	}
}

func nonNil(results []models.EvaluationResult) []models.EvaluationResult {
	if results == nil {
		return []models.EvaluationResult{}
	}
	return results
}

// WriteJSON writes the report as indented JSON
func WriteJSON(w io.Writer, report *models.ComplianceReport, status models.Status) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument("", report, status)); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
