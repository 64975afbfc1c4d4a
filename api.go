// Package pylock resolves Python package requirements to an exact,
// reproducible set of pins and renders them as a lockfile.
//
// The resolver is round-based: it repeatedly merges the caller's
// requirements with the constraints implied by the current pins, picks the
// best matching version for each, and expands dependencies, until the
// requirement set stops changing. Repositories are pluggable through the
// PackageRepository interface; PyPIRepository talks to a real index and
// MemoryRepository serves fixtures.
//
// Basic use:
//
//	repo := pylock.NewPyPIRepository()
//	reqs := []*pylock.Requirement{
//		pylock.MustParseRequirement("flask>=1.0"),
//	}
//	res, err := pylock.Resolve(ctx, repo, reqs)
//
// The sibling packages build on this core: depcache persists dependency
// metadata between runs, lockfile renders and diffs lock documents, and
// pipfile reads TOML manifests.
package pylock

import "context"

// Resolve pins the given requirements against the repository. It is the
// one-shot form of NewResolver plus Resolver.Resolve.
func Resolve(ctx context.Context, repo PackageRepository, reqs []*Requirement, opts ...Option) (*Resolution, error) {
	r, err := NewResolver(repo, reqs, opts...)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx)
}

// ResolveIndex pins the given requirements against a PyPI-style index
// repository built from the options: WithIndexURL selects the index,
// WithHTTPClient and WithTimeout shape its HTTP behavior.
func ResolveIndex(ctx context.Context, reqs []*Requirement, opts ...Option) (*Resolution, error) {
	config, err := newResolverConfig(opts...)
	if err != nil {
		return nil, err
	}

	var repo *PyPIRepository
	if config.httpClient != nil {
		repo = NewPyPIRepositoryWithClient(config.indexURL, config.httpClient)
	} else {
		repo = NewPyPIRepository(config.indexURL)
		if config.timeout > 0 {
			repo.client.Timeout = config.timeout
		}
	}
	return Resolve(ctx, repo, reqs, opts...)
}

// ResolveLines parses requirement lines and pins them against the
// repository. Lines prefixed with "-c " are treated as constraints: they
// narrow versions without being installed or expanded.
func ResolveLines(ctx context.Context, repo PackageRepository, lines []string, opts ...Option) (*Resolution, error) {
	reqs := make([]*Requirement, 0, len(lines))
	for _, line := range lines {
		constraint := false
		if rest, ok := cutConstraintPrefix(line); ok {
			constraint = true
			line = rest
		}
		req, err := ParseRequirement(line)
		if err != nil {
			return nil, err
		}
		req.Constraint = constraint
		reqs = append(reqs, req)
	}
	return Resolve(ctx, repo, reqs, opts...)
}

func cutConstraintPrefix(line string) (string, bool) {
	const prefix = "-c "
	trimmed := line
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\t') {
		trimmed = trimmed[1:]
	}
	if len(trimmed) >= len(prefix) && trimmed[:len(prefix)] == prefix {
		return trimmed[len(prefix):], true
	}
	return line, false
}
