package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/acheong08/depaudit/internal/hosting"
	"github.com/acheong08/depaudit/internal/parser"
	"github.com/acheong08/depaudit/pkg/models"
)

// ErrUnrecognizedSource is returned for selectors that are neither an
// existing path, a GitHub URL nor an owner/name shorthand
var ErrUnrecognizedSource = errors.New("unrecognized source")

// Kind says where a manifest comes from
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "github"
)

var shorthandRe = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?/[A-Za-z0-9._-]+$`)

// Source is a resolved manifest location
type Source struct {
	Kind Kind
	// Path is set for local sources
	Path string
	// Repo, Ref and Subdir are set for remote sources. An empty Ref
	// means the default branch.
	Repo   models.RepositoryRef
	Ref    string
	Subdir string
}

func (s Source) String() string {
	if s.Kind == KindLocal {
		return s.Path
	}
	out := "github.com/" + s.Repo.String()
	if s.Ref != "" {
		out += "@" + s.Ref
	}
	if s.Subdir != "" {
		out += ":" + s.Subdir
	}
	return out
}

// Resolve classifies a selector:
//
//	.  ./app  app/package.json                          existing local path
//	https://github.com/owner/name[.git][/tree/ref[/dir]] GitHub URL
//	owner/name                                           GitHub shorthand
func Resolve(selector string) (Source, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		selector = "."
	}

	if _, err := os.Stat(selector); err == nil {
		return Source{Kind: KindLocal, Path: selector}, nil
	}
	return ResolveRemote(selector)
}

// ResolveRemote is Resolve without the local filesystem check
func ResolveRemote(selector string) (Source, error) {
	selector = strings.TrimSpace(selector)
	if src, ok := parseGitHubURL(selector); ok {
		return src, nil
	}

	if shorthandRe.MatchString(selector) {
		owner, name, _ := strings.Cut(selector, "/")
		name = strings.TrimSuffix(name, ".git")
		if validSegment(name) {
			return Source{
				Kind: KindRemote,
				Repo: models.RepositoryRef{Owner: owner, Name: name},
			}, nil
		}
	}

	return Source{}, fmt.Errorf("%w: %q is not a local path, GitHub URL or owner/name", ErrUnrecognizedSource, selector)
}

func parseGitHubURL(selector string) (Source, bool) {
	rest := selector
	for _, prefix := range []string{"https://", "http://"} {
		rest = strings.TrimPrefix(rest, prefix)
	}
	rest = strings.TrimPrefix(rest, "www.")
	if !strings.HasPrefix(rest, "github.com/") {
		return Source{}, false
	}
	rest = strings.TrimPrefix(rest, "github.com/")
	if idx := strings.IndexAny(rest, "?#"); idx != -1 {
		rest = rest[:idx]
	}

	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 {
		return Source{}, false
	}

	src := Source{
		Kind: KindRemote,
		Repo: models.RepositoryRef{Owner: parts[0], Name: strings.TrimSuffix(parts[1], ".git")},
	}
	if !validSegment(src.Repo.Owner) || !validSegment(src.Repo.Name) {
		return Source{}, false
	}

	if len(parts) > 2 {
		// only /tree/<ref>[/subdir] and /blob/<ref>/.../package.json are meaningful
		if len(parts) < 4 || (parts[2] != "tree" && parts[2] != "blob") || parts[3] == "" {
			return Source{}, false
		}
		src.Ref = parts[3]
		for _, seg := range parts[4:] {
			if !validSegment(seg) {
				return Source{}, false
			}
		}
		subdir := strings.Join(parts[4:], "/")
		if parts[2] == "blob" {
			subdir = strings.Trim(path.Dir("/"+subdir), "/")
		}
		src.Subdir = subdir
	}

	return src, true
}

// validSegment rejects empty and dot segments, which would move the
// contents request outside the repository
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".."
}

// FileFetcher downloads a single file from a GitHub repository
type FileFetcher interface {
	GetFileContents(ctx context.Context, repo models.RepositoryRef, filePath, ref string) ([]byte, error)
}

var _ FileFetcher = (*hosting.GitHubClient)(nil)

// Load reads and parses the manifest at src. Remote sources are fetched via gh.
func Load(ctx context.Context, src Source, gh FileFetcher) (*parser.PackageJSON, error) {
	switch src.Kind {
	case KindLocal:
		manifest, err := parser.FindPackageJSON(src.Path)
		if err != nil {
			return nil, err
		}
		return parser.ParsePackageJSON(manifest)

	case KindRemote:
		if gh == nil {
			return nil, fmt.Errorf("no GitHub client configured for %s", src)
		}
		manifest := path.Join(src.Subdir, parser.ManifestFile)
		data, err := gh.GetFileContents(ctx, src.Repo, manifest, src.Ref)
		if err != nil {
			if errors.Is(err, hosting.ErrNotFound) {
				return nil, fmt.Errorf("%w in %s: %w", parser.ErrManifestNotFound, src, err)
			}
			return nil, fmt.Errorf("failed to fetch %s from %s: %w", manifest, src, err)
		}
		return parser.ParsePackageJSONBytes(data)

	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnrecognizedSource, src.Kind)
	}
}
