package pylock

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for common repository failures.
var (
	// ErrPackageNotFound indicates the requested package does not exist in
	// the index.
	ErrPackageNotFound = errors.New("package not found")

	// ErrRateLimited indicates the index is rate limiting requests.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnauthorized indicates authentication is required or failed.
	ErrUnauthorized = errors.New("unauthorized")
)

// MalformedRequirementError is returned when a requirement cannot be parsed
// or its name cannot be determined. A nameless requirement cannot serve as
// a merge key; callers must supply a name (for URLs, via an egg fragment or
// a metadata fetch) before resolution can use it.
type MalformedRequirementError struct {
	// Input is the requirement text or URL as given.
	Input string

	// Reason describes what could not be determined.
	Reason string
}

func (e *MalformedRequirementError) Error() string {
	return fmt.Sprintf("malformed requirement %q: %s", e.Input, e.Reason)
}

// NoMatchingCandidateError is returned by a PackageRepository when no
// candidate version satisfies a requirement's (possibly intersected)
// specifier. It is fatal to the whole resolution: no partial lockfile is
// ever written.
type NoMatchingCandidateError struct {
	// Requirement is the constraint that could not be satisfied.
	Requirement *Requirement

	// Tried lists the candidate versions that were considered.
	Tried []string
}

func (e *NoMatchingCandidateError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("no candidates found for %s", e.Requirement)
	}
	return fmt.Sprintf("no candidate for %s matches (tried %s)",
		e.Requirement, strings.Join(e.Tried, ", "))
}

// NotPinnedError is returned when GetDependencies is called for a
// requirement that does not denote exactly one installable artifact.
// Only resolved identities may be expanded.
type NotPinnedError struct {
	// Requirement is the offending, unpinned requirement.
	Requirement *Requirement
}

func (e *NotPinnedError) Error() string {
	return fmt.Sprintf("expected a pinned or editable requirement, got %s", e.Requirement)
}

// MaxRoundsExceededError is returned when the resolve loop fails to reach a
// fixed point within the allowed number of rounds. It signals either a
// dependency graph whose metadata never stabilizes or a resolver bug, and
// is never swallowed.
type MaxRoundsExceededError struct {
	// Rounds is the number of rounds that were attempted.
	Rounds int

	// Unstable lists the requirement keys still changing in the last round.
	Unstable []string
}

func (e *MaxRoundsExceededError) Error() string {
	msg := fmt.Sprintf("no stable set of concrete packages could be found after %d rounds of resolving", e.Rounds)
	if len(e.Unstable) > 0 {
		msg += fmt.Sprintf(" (still changing: %s)", strings.Join(e.Unstable, ", "))
	}
	return msg
}

// SourceConflictError is returned when two requirements share a key but
// point at different VCS/URL/path sources. Such requirements never merge:
// identical normalized locations are required.
type SourceConflictError struct {
	Key     string
	SourceA string
	SourceB string
}

func (e *SourceConflictError) Error() string {
	return fmt.Sprintf("conflicting sources for %s: %s vs %s", e.Key, e.SourceA, e.SourceB)
}

// RepositoryError represents an index failure with an HTTP status.
type RepositoryError struct {
	// Package is the package being looked up.
	Package string

	// StatusCode is the HTTP status returned by the index.
	StatusCode int

	// URL is the request URL.
	URL string
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("index returned status %d for package %s (%s)", e.StatusCode, e.Package, e.URL)
}

// Unwrap maps well-known status codes onto the package sentinels, so
// callers can test with errors.Is.
func (e *RepositoryError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return ErrPackageNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return nil
}
