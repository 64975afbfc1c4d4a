package pylock

import (
	"context"
)

// Candidate is a repository's concrete answer for one installable release:
// an exact version plus where it came from.
type Candidate struct {
	// Name is the package name as known to the index.
	Name string `json:"name"`

	// Version is the exact release version.
	Version string `json:"version"`

	// Location is the artifact URL or path, informational.
	Location string `json:"location,omitempty"`

	// RequiresPython is the release's python_requires metadata, if any.
	RequiresPython string `json:"requires_python,omitempty"`
}

// PackageRepository abstracts the package index for the resolver: find the
// best concrete candidate for a constraint, expand a pinned candidate's
// dependencies, and collect artifact hashes.
//
// Implementations are stateless per call aside from their own I/O and
// response caching; the resolver owns all resolution-level caching policy.
// All methods must be safe for concurrent use: the resolver issues
// FindBestMatch calls in parallel within a round.
type PackageRepository interface {
	// FindBestMatch returns a pinned requirement for the best (highest)
	// candidate version satisfying req's specifier.
	//
	// The prereleases argument is an explicit tri-state policy and must be
	// honored exactly: false never admits pre-releases, even when the
	// intersected specifier's own heuristic would (a transitive clause
	// like ">=4.2.0rc1" must not leak prerelease acceptance), and even
	// when no stable candidate matches at all. nil defers to the
	// specifier's heuristic. Returns NoMatchingCandidateError when nothing
	// satisfies.
	FindBestMatch(ctx context.Context, req *Requirement, prereleases *bool) (*Requirement, error)

	// GetDependencies returns the direct dependencies of a pinned
	// requirement. Returns NotPinnedError for requirements that are
	// neither pinned nor VCS/URL/editable.
	GetDependencies(ctx context.Context, req *Requirement) ([]*Requirement, error)

	// GetHashes returns "algorithm:hexdigest" strings for every artifact
	// of a pinned requirement. VCS links and existing local directories
	// are unhashable by policy and yield an empty set.
	GetHashes(ctx context.Context, req *Requirement) ([]string, error)

	// FindAllCandidates lists every known release of a package.
	// ignorePlatformCompat widens matching to artifacts for foreign
	// platforms, used during hash collection so that hashes for all
	// platforms land in the lockfile.
	FindAllCandidates(ctx context.Context, name string, ignorePlatformCompat bool) ([]Candidate, error)

	// ClearCache drops any response caches the repository holds.
	ClearCache()
}
