package pep440

import (
	"fmt"
	"sort"
	"strings"
)

// Specifier is a single version clause such as ">=1.4.2" or "==1.2.*".
//
// Reference: https://peps.python.org/pep-0440/#version-specifiers
type Specifier struct {
	// Op is one of "==", "!=", "<=", ">=", "<", ">", "~=", "===".
	Op string

	// Version is the clause's version text, possibly with a trailing ".*"
	// for prefix matching.
	Version string

	parsed   *Version
	wildcard bool
}

// InvalidSpecifierError is returned when a specifier clause cannot be parsed.
type InvalidSpecifierError struct {
	Specifier string
}

func (e *InvalidSpecifierError) Error() string {
	return fmt.Sprintf("invalid specifier %q", e.Specifier)
}

var specifierOps = []string{"===", "==", "~=", "!=", "<=", ">=", "<", ">"}

// ParseSpecifier parses a single clause.
func ParseSpecifier(s string) (Specifier, error) {
	text := strings.TrimSpace(s)

	var op string
	for _, candidate := range specifierOps {
		if strings.HasPrefix(text, candidate) {
			op = candidate
			break
		}
	}
	if op == "" {
		return Specifier{}, &InvalidSpecifierError{Specifier: s}
	}

	versionText := strings.TrimSpace(text[len(op):])
	if versionText == "" {
		return Specifier{}, &InvalidSpecifierError{Specifier: s}
	}

	spec := Specifier{Op: op, Version: versionText}

	if op == "===" {
		// Arbitrary equality compares the raw strings, nothing to parse.
		return spec, nil
	}

	if strings.HasSuffix(versionText, ".*") {
		if op != "==" && op != "!=" {
			return Specifier{}, &InvalidSpecifierError{Specifier: s}
		}
		spec.wildcard = true
		versionText = strings.TrimSuffix(versionText, ".*")
	}

	parsed, err := Parse(versionText)
	if err != nil {
		return Specifier{}, &InvalidSpecifierError{Specifier: s}
	}
	if op == "~=" && len(parsed.Release) < 2 {
		// Compatible release needs at least two release segments.
		return Specifier{}, &InvalidSpecifierError{Specifier: s}
	}
	spec.parsed = parsed

	return spec, nil
}

// String returns the clause in canonical form.
func (s Specifier) String() string {
	return s.Op + s.Version
}

// Match reports whether the version satisfies this single clause, ignoring
// prerelease policy (the set owns that decision).
func (s Specifier) Match(v *Version) bool {
	switch s.Op {
	case "===":
		return strings.EqualFold(strings.TrimSpace(v.Original()), s.Version) ||
			v.String() == strings.ToLower(s.Version)
	case "==":
		if s.wildcard {
			return matchPrefix(v, s.parsed)
		}
		return matchEqual(v, s.parsed)
	case "!=":
		if s.wildcard {
			return !matchPrefix(v, s.parsed)
		}
		return !matchEqual(v, s.parsed)
	case "<=":
		return Compare(v, s.parsed) <= 0
	case ">=":
		return Compare(v, s.parsed) >= 0
	case "<":
		// Exclusive upper bound: a pre-release of the bound itself does not
		// match unless the bound is a pre-release too (PEP 440 exclusive
		// ordered comparison).
		if Compare(v, s.parsed) >= 0 {
			return false
		}
		if !s.parsed.IsPrerelease() && v.IsPrerelease() && sameRelease(v, s.parsed) {
			return false
		}
		return true
	case ">":
		// Exclusive lower bound: post-releases and local variants of the
		// bound itself do not match.
		if Compare(v, s.parsed) <= 0 {
			return false
		}
		if !s.parsed.IsPostrelease() && v.IsPostrelease() && sameRelease(v, s.parsed) {
			return false
		}
		if v.Local != "" && sameRelease(v, s.parsed) {
			return false
		}
		return true
	case "~=":
		// "~= X.Y.Z" is ">= X.Y.Z, == X.Y.*".
		if Compare(v, s.parsed) < 0 {
			return false
		}
		truncated := &Version{
			Epoch:   s.parsed.Epoch,
			Release: s.parsed.Release[:len(s.parsed.Release)-1],
		}
		return matchPrefix(v, truncated)
	}
	return false
}

// matchEqual implements "==": local labels on the candidate are ignored
// unless the clause itself pins one.
func matchEqual(v, clause *Version) bool {
	if clause.Local == "" {
		stripped := *v
		stripped.Local = ""
		return Compare(&stripped, clause) == 0
	}
	return Compare(v, clause) == 0
}

// matchPrefix implements "== X.Y.*": epoch must match and the release tuple
// must start with the clause's release tuple.
func matchPrefix(v, clause *Version) bool {
	if v.Epoch != clause.Epoch {
		return false
	}
	release := v.Release
	for i, want := range clause.Release {
		got := 0
		if i < len(release) {
			got = release[i]
		}
		if got != want {
			return false
		}
	}
	return true
}

// sameRelease reports whether both versions share epoch and release tuple.
func sameRelease(a, b *Version) bool {
	return a.Epoch == b.Epoch && compareRelease(a.Release, b.Release) == 0
}

// IsPrereleaseClause reports whether the clause's own version literal is a
// pre-release (the specifier-set heuristic input).
func (s Specifier) IsPrereleaseClause() bool {
	return s.parsed != nil && s.parsed.IsPrerelease()
}

// SpecifierSet is a conjunction of clauses ("Django<1.9,>=1.4.2"). The zero
// value matches every version.
type SpecifierSet struct {
	clauses []Specifier
}

// ParseSpecifierSet parses a comma-separated list of clauses. The empty
// string yields the universal set.
func ParseSpecifierSet(s string) (SpecifierSet, error) {
	var set SpecifierSet
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		clause, err := ParseSpecifier(part)
		if err != nil {
			return SpecifierSet{}, err
		}
		set.clauses = append(set.clauses, clause)
	}
	set.normalize()
	return set, nil
}

// normalize sorts and de-duplicates clauses so that structurally equal sets
// render identically regardless of construction order.
func (ss *SpecifierSet) normalize() {
	sort.Slice(ss.clauses, func(i, j int) bool {
		a, b := ss.clauses[i], ss.clauses[j]
		if a.Version != b.Version {
			if c := compareVersionText(a.Version, b.Version); c != 0 {
				return c < 0
			}
		}
		return a.Op < b.Op
	})
	deduped := ss.clauses[:0]
	var prev string
	for i, clause := range ss.clauses {
		if i > 0 && clause.String() == prev {
			continue
		}
		deduped = append(deduped, clause)
		prev = clause.String()
	}
	ss.clauses = deduped
}

// compareVersionText orders clause version texts, numerically where both
// parse and lexically otherwise.
func compareVersionText(a, b string) int {
	av, aErr := Parse(strings.TrimSuffix(a, ".*"))
	bv, bErr := Parse(strings.TrimSuffix(b, ".*"))
	if aErr == nil && bErr == nil {
		if c := Compare(av, bv); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}

// Empty reports whether the set has no clauses.
func (ss SpecifierSet) Empty() bool {
	return len(ss.clauses) == 0
}

// Len returns the number of clauses.
func (ss SpecifierSet) Len() int {
	return len(ss.clauses)
}

// Clauses returns a copy of the clause list.
func (ss SpecifierSet) Clauses() []Specifier {
	out := make([]Specifier, len(ss.clauses))
	copy(out, ss.clauses)
	return out
}

// String renders the set in canonical (sorted, de-duplicated) form.
func (ss SpecifierSet) String() string {
	parts := make([]string, len(ss.clauses))
	for i, clause := range ss.clauses {
		parts[i] = clause.String()
	}
	return strings.Join(parts, ",")
}

// Intersect returns the conjunction of both sets. Specifier sets are pure
// conjunctions, so intersection is clause union.
func (ss SpecifierSet) Intersect(other SpecifierSet) SpecifierSet {
	merged := SpecifierSet{
		clauses: make([]Specifier, 0, len(ss.clauses)+len(other.clauses)),
	}
	merged.clauses = append(merged.clauses, ss.clauses...)
	merged.clauses = append(merged.clauses, other.clauses...)
	merged.normalize()
	return merged
}

// HasPrereleaseClause reports whether any clause mentions a pre-release
// version. This is the set's own prerelease heuristic; it must only be
// consulted when the caller did not state an explicit prerelease policy.
func (ss SpecifierSet) HasPrereleaseClause() bool {
	for _, clause := range ss.clauses {
		if clause.IsPrereleaseClause() {
			return true
		}
	}
	return false
}

// Contains reports whether the version satisfies every clause.
//
// The prereleases argument is a tri-state policy:
//   - non-nil false: pre-releases never match, even when every clause only
//     admits pre-releases. There is no fallback.
//   - non-nil true: pre-releases match like any other version.
//   - nil: legacy behavior, pre-releases match only when some clause itself
//     names a pre-release version.
func (ss SpecifierSet) Contains(v *Version, prereleases *bool) bool {
	if v.IsPrerelease() {
		allow := ss.HasPrereleaseClause()
		if prereleases != nil {
			allow = *prereleases
		}
		if !allow {
			return false
		}
	}
	for _, clause := range ss.clauses {
		if !clause.Match(v) {
			return false
		}
	}
	return true
}

// Filter returns the versions satisfying the set under the given prerelease
// policy, preserving input order.
func (ss SpecifierSet) Filter(versions []*Version, prereleases *bool) []*Version {
	var out []*Version
	for _, v := range versions {
		if ss.Contains(v, prereleases) {
			out = append(out, v)
		}
	}
	return out
}

// PinnedVersion returns the version string when the set pins exactly one
// version ("==1.2.3" or "===1.2.3" as the sole clause) and true, otherwise
// "" and false.
func (ss SpecifierSet) PinnedVersion() (string, bool) {
	if len(ss.clauses) != 1 {
		return "", false
	}
	clause := ss.clauses[0]
	if clause.wildcard {
		return "", false
	}
	if clause.Op == "==" || clause.Op == "===" {
		return clause.Version, true
	}
	return "", false
}

// MustParseSpecifierSet parses a specifier set and panics on error. For
// tests and constants only.
func MustParseSpecifierSet(s string) SpecifierSet {
	set, err := ParseSpecifierSet(s)
	if err != nil {
		panic(err)
	}
	return set
}

// Pin builds the "==version" set for an exact version.
func Pin(version string) SpecifierSet {
	return SpecifierSet{clauses: []Specifier{{Op: "==", Version: version, parsed: mustParseOrNil(version)}}}
}

func mustParseOrNil(version string) *Version {
	v, err := Parse(version)
	if err != nil {
		return nil
	}
	return v
}
