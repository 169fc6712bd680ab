package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/acheong08/depaudit/internal/audit"
	"github.com/acheong08/depaudit/internal/compliance"
	"github.com/acheong08/depaudit/internal/config"
	"github.com/acheong08/depaudit/internal/hosting"
	"github.com/acheong08/depaudit/internal/metadata"
	"github.com/acheong08/depaudit/internal/policy"
	"github.com/acheong08/depaudit/internal/registry"
	"github.com/acheong08/depaudit/internal/report"
	"github.com/acheong08/depaudit/internal/source"
	"github.com/acheong08/depaudit/pkg/models"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	source      string
	policyPath  string
	jsonOutput  bool
	concurrency int
	noColor     bool
	verbose     bool
}

func printUsage(w io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(w, "depaudit - npm dependency license compliance auditor")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  depaudit [options] [source]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Source (default: current directory):")
	fmt.Fprintln(w, "  ./path/to/project                         Local directory or package.json")
	fmt.Fprintln(w, "  https://github.com/owner/name[/tree/ref/dir]  GitHub repository URL")
	fmt.Fprintln(w, "  owner/name                                GitHub shorthand")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Options:")
	flags.PrintDefaults()
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Exit codes:")
	fmt.Fprintln(w, "  0  all dependencies approved, or some need review")
	fmt.Fprintln(w, "  1  a dependency was rejected, or the manifest could not be read")
}

// parseArgs accepts flags before and after the positional source
func parseArgs(args []string, cfg *config.Config, stdout io.Writer) (*options, error) {
	opts := &options{}

	flags := flag.NewFlagSet("depaudit", flag.ContinueOnError)
	flags.SetOutput(stdout)
	flags.StringVar(&opts.policyPath, "policy", cfg.PolicyPath, "Policy file (YAML); built-in policy when missing")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Write the report as JSON")
	flags.IntVar(&opts.concurrency, "concurrency", cfg.Concurrency, fmt.Sprintf("Dependencies audited in parallel (1-%d)", audit.MaxConcurrency))
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&opts.verbose, "verbose", cfg.Verbose, "Log metadata lookup failures")
	flags.Usage = func() { printUsage(stdout, flags) }

	var positional []string
	for {
		if err := flags.Parse(args); err != nil {
			return nil, err
		}
		args = flags.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}

	switch len(positional) {
	case 0:
		opts.source = "."
	case 1:
		opts.source = positional[0]
	default:
		return nil, fmt.Errorf("expected at most one source, got %d", len(positional))
	}

	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	opts, err := parseArgs(args, cfg, stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	pol, err := policy.Load(opts.policyPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	src, err := source.Resolve(opts.source)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ghClient := hosting.NewGitHubClient(cfg.GitHubToken, cfg.GitHubAPIURL, cfg.HTTPTimeout)
	ghClient.Verbose = opts.verbose
	regClient := registry.NewClient(cfg.RegistryURL, cfg.HTTPTimeout)
	regClient.Verbose = opts.verbose

	manifest, err := source.Load(ctx, src, ghClient)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Keep stdout clean for JSON consumers
	progress := stdout
	if opts.jsonOutput {
		progress = stderr
	}

	project := manifest.ToPackage()
	deps := manifest.GetAllDependencies()
	fmt.Fprintf(progress, "📦 Auditing: %s (%d dependencies)\n", project.ID, len(deps))
	if cfg.GitHubToken == "" {
		fmt.Fprintln(progress, "⚠️  GITHUB_TOKEN not set, repository statistics may be rate limited")
	}

	auditor := audit.NewAuditor(
		metadata.NewNPMGitHub(regClient, ghClient),
		compliance.NewEvaluator(pol),
		opts.concurrency,
	)
	auditor.SetProgressFunc(func(done, total int, result models.EvaluationResult) {
		fmt.Fprintf(progress, "   [%d/%d] %s %s\n", done, total, verdictIcon(result.Verdict), result.Dependency.ID())
	})

	rep, status, err := auditor.Run(ctx, project, deps)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(progress)

	if opts.jsonOutput {
		err = report.WriteJSON(stdout, rep, status)
	} else {
		err = report.NewTextRenderer(colorEnabled(stdout, opts.noColor)).Render(stdout, rep, status)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	return report.ExitCode(status)
}

func colorEnabled(w io.Writer, noColor bool) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return report.ColorEnabled(f, noColor)
}

func verdictIcon(v models.Verdict) string {
	switch v {
	case models.VerdictApproved:
		return "✓"
	case models.VerdictNeedsReview:
		return "⚠"
	default:
		return "✗"
	}
}
