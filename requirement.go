package pylock

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pydeps/pylock/markers"
	"github.com/pydeps/pylock/pep440"
)

// VCSSource identifies a version-control source for a requirement.
type VCSSource struct {
	// Type is the VCS kind: "git", "hg", "svn" or "bzr".
	Type string `json:"type"`

	// URL is the repository URL, without the "<vcs>+" scheme prefix.
	URL string `json:"url"`

	// Ref is the revision, tag or branch after "@". Empty means the
	// default branch.
	Ref string `json:"ref,omitempty"`

	// Subdirectory is the package location inside the checkout, if any.
	Subdirectory string `json:"subdirectory,omitempty"`
}

// String renders the source as a pip-style URL.
func (v *VCSSource) String() string {
	s := v.Type + "+" + v.URL
	if v.Ref != "" {
		s += "@" + v.Ref
	}
	return s
}

// Requirement is a named (or name-pending) constraint on an acceptable
// package version or source. Once normalized it is treated as an immutable
// value; all combining operations return new Requirements.
type Requirement struct {
	// Name is the package name as written. May be empty for URL
	// requirements whose name is not yet known.
	Name string

	// Extras are the requested extras, kept sorted for determinism.
	Extras []string

	// Specifier is the version constraint set.
	Specifier pep440.SpecifierSet

	// Markers gates whether the requirement applies in an environment.
	// Nil means unconditional.
	Markers *markers.Marker

	// VCS is set for version-control sources. At most one of VCS, URL and
	// Path is set.
	VCS *VCSSource

	// URL is set for direct archive URL sources.
	URL string

	// Path is set for local filesystem sources.
	Path string

	// Editable marks an editable install. Valid only for VCS and Path
	// sources.
	Editable bool

	// Constraint marks a pip-style constraint: it narrows versions but
	// neither installs nor has its dependencies expanded.
	Constraint bool

	// ComesFrom records provenance: the requirements that introduced this
	// one, as display strings, sorted. Empty means user-specified.
	ComesFrom []string

	// Index is the name of a non-default package index to fetch from.
	Index string
}

var canonicalNameRe = regexp.MustCompile(`[-_.]+`)

// CanonicalName lowercases a package name and collapses separator runs to a
// single hyphen (PEP 503 normalization).
func CanonicalName(name string) string {
	return strings.ToLower(canonicalNameRe.ReplaceAllString(name, "-"))
}

// Key returns the canonical merge/lookup key for the requirement. Nameless
// URL requirements fall back to a stable key derived from their normalized
// location, so identical URLs still merge.
func (r *Requirement) Key() string {
	if r.Name != "" {
		return CanonicalName(r.Name)
	}
	if loc := r.location(); loc != "" {
		return strings.ToLower(loc)
	}
	return ""
}

// location returns the requirement's source location, empty for index
// requirements.
func (r *Requirement) location() string {
	switch {
	case r.VCS != nil:
		return r.VCS.String()
	case r.URL != "":
		return r.URL
	case r.Path != "":
		return r.Path
	}
	return ""
}

// HasLocation reports whether the requirement is sourced from VCS, a direct
// URL or a local path rather than an index.
func (r *Requirement) HasLocation() bool {
	return r.VCS != nil || r.URL != "" || r.Path != ""
}

// IsPinned reports whether the requirement denotes exactly one installable
// artifact: a single ==/=== specifier, or any VCS/URL/path source (those
// are pinned by identity).
func (r *Requirement) IsPinned() bool {
	if r.HasLocation() {
		return true
	}
	_, ok := r.Specifier.PinnedVersion()
	return ok
}

// PinnedVersion returns the exact version for an index-pinned requirement.
func (r *Requirement) PinnedVersion() (string, bool) {
	if r.HasLocation() {
		return "", false
	}
	return r.Specifier.PinnedVersion()
}

// String renders the requirement pip-style: name, extras, specifier,
// markers.
func (r *Requirement) String() string {
	var sb strings.Builder
	if r.Editable {
		sb.WriteString("-e ")
	}
	if loc := r.location(); loc != "" {
		sb.WriteString(loc)
		if r.Name != "" {
			sb.WriteString("#egg=")
			sb.WriteString(r.Name)
		}
		if r.VCS != nil && r.VCS.Subdirectory != "" {
			sb.WriteString("&subdirectory=")
			sb.WriteString(r.VCS.Subdirectory)
		}
	} else {
		sb.WriteString(r.Name)
		if len(r.Extras) > 0 {
			sb.WriteString("[" + strings.Join(r.Extras, ",") + "]")
		}
		sb.WriteString(r.Specifier.String())
	}
	if r.Markers != nil {
		sb.WriteString("; " + r.Markers.String())
	}
	return sb.String()
}

// Clone returns a deep copy. The specifier and marker values are immutable
// and shared.
func (r *Requirement) Clone() *Requirement {
	out := *r
	out.Extras = append([]string(nil), r.Extras...)
	out.ComesFrom = append([]string(nil), r.ComesFrom...)
	if r.VCS != nil {
		vcs := *r.VCS
		out.VCS = &vcs
	}
	return &out
}

// ComesFromDisplay returns the canonical provenance for display: the
// shortest entry, ties broken alphabetically. Empty for direct
// requirements.
func (r *Requirement) ComesFromDisplay() string {
	if len(r.ComesFrom) == 0 {
		return ""
	}
	best := r.ComesFrom[0]
	for _, candidate := range r.ComesFrom[1:] {
		if len(candidate) < len(best) || (len(candidate) == len(best) && candidate < best) {
			best = candidate
		}
	}
	return best
}

// Summary is the reduced requirement identity used for round-over-round
// convergence detection: key, specifier and extras only. Markers and
// provenance deliberately do not participate, so dependency-equivalent
// requirements discovered along different paths compare equal.
type Summary struct {
	Key       string
	Specifier string
	Extras    string
}

// Summarize builds the convergence summary for a requirement.
func (r *Requirement) Summarize() Summary {
	return Summary{
		Key:       r.Key(),
		Specifier: r.Specifier.String(),
		Extras:    strings.Join(r.Extras, ","),
	}
}

// String renders the summary as a stable tuple.
func (s Summary) String() string {
	return fmt.Sprintf("[%s, %q, %q]", s.Key, s.Specifier, s.Extras)
}

// sortExtras sorts and de-duplicates an extras list in place, returning it.
func sortExtras(extras []string) []string {
	if len(extras) == 0 {
		return nil
	}
	sort.Strings(extras)
	out := extras[:0]
	prev := ""
	for _, e := range extras {
		if e == "" || e == prev {
			continue
		}
		out = append(out, e)
		prev = e
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
