// Package lockfile models the lock document: the exact, hash-verified pin
// set produced by a resolution, split into a default and a development
// category, with resolution metadata under "_meta".
//
// Serialization is deterministic: object keys are emitted sorted and HTML
// escaping is off, so resolving the same inputs twice produces
// byte-identical documents and lockfile diffs stay meaningful.
package lockfile

import (
	"fmt"
)

// SpecVersion is the manifest spec revision recorded under
// "_meta"."pipfile-spec".
const SpecVersion = 6

// CategoryDefault and CategoryDevelop name the two pin categories.
const (
	CategoryDefault = "default"
	CategoryDevelop = "develop"
)

// Source is a package index entry recorded in the lockfile metadata.
type Source struct {
	Name      string `json:"name" toml:"name"`
	URL       string `json:"url" toml:"url"`
	VerifySSL bool   `json:"verify_ssl" toml:"verify_ssl"`
}

// Meta is the "_meta" block: everything needed to decide whether the
// lockfile is stale relative to its manifest and to reinstall from it.
type Meta struct {
	// Hash is the manifest content hash, keyed by algorithm.
	Hash map[string]string

	// PipfileSpec is the manifest spec revision.
	PipfileSpec int

	// Requires carries interpreter requirements such as python_version.
	Requires map[string]string

	// Sources lists the package indexes, first one default.
	Sources []Source
}

// Entry is one locked package. Exactly one locator is set: Version for
// index pins, VCS for version-control pins, File for direct archive URLs,
// Path for local trees.
type Entry struct {
	// Version is the exact pin as a "==" specifier, e.g. "==2.8.1".
	Version string

	// Hashes are "algorithm:hexdigest" artifact hashes, sorted. Empty for
	// unhashable sources (VCS links, local directories).
	Hashes []string

	// Markers is the folded environment marker, empty when unconditional.
	Markers string

	// Index names a non-default source the package must come from.
	Index string

	// Extras are the requested extras, sorted.
	Extras []string

	// VCSType and VCSURL identify a version-control pin ("git",
	// "https://..."). Ref is the exact revision.
	VCSType string
	VCSURL  string
	Ref     string

	// Subdirectory is the package location inside a VCS checkout.
	Subdirectory string

	// File is a direct archive URL locator.
	File string

	// Path is a local filesystem locator.
	Path string

	// Editable marks an editable install.
	Editable bool
}

// Lockfile is the whole lock document.
type Lockfile struct {
	Meta    Meta
	Default map[string]Entry
	Develop map[string]Entry
}

// New creates an empty lockfile with the current spec revision.
func New() *Lockfile {
	return &Lockfile{
		Meta:    Meta{PipfileSpec: SpecVersion},
		Default: make(map[string]Entry),
		Develop: make(map[string]Entry),
	}
}

// Category returns the named pin category.
func (l *Lockfile) Category(name string) (map[string]Entry, error) {
	switch name {
	case CategoryDefault:
		return l.Default, nil
	case CategoryDevelop:
		return l.Develop, nil
	}
	return nil, fmt.Errorf("unknown lockfile category %q", name)
}

// locatorCount reports how many locators the entry carries.
func (e *Entry) locatorCount() int {
	n := 0
	if e.Version != "" {
		n++
	}
	if e.VCSType != "" {
		n++
	}
	if e.File != "" {
		n++
	}
	if e.Path != "" {
		n++
	}
	return n
}

// Validate checks the locator invariant for every entry.
func (l *Lockfile) Validate() error {
	for _, category := range []struct {
		name    string
		entries map[string]Entry
	}{
		{CategoryDefault, l.Default},
		{CategoryDevelop, l.Develop},
	} {
		for name, entry := range category.entries {
			if n := entry.locatorCount(); n != 1 {
				return fmt.Errorf("lockfile entry %s in %s has %d locators, want exactly 1",
					name, category.name, n)
			}
		}
	}
	return nil
}

// PinnedVersion returns the bare version for an index-pinned entry.
func (e *Entry) PinnedVersion() (string, bool) {
	if len(e.Version) > 2 && e.Version[:2] == "==" {
		return e.Version[2:], true
	}
	return "", false
}
