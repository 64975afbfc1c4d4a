// Package pipfile reads TOML manifests: the declared (loose) requirements
// that a resolution turns into exact pins.
//
// A manifest names its package indexes, its interpreter requirements and
// two dependency categories. A dependency is either a bare version string
// or a table:
//
//	[packages]
//	requests = ">=2.8.1"
//	records = { version = "*", extras = ["pandas"] }
//	flask = { git = "https://github.com/pallets/flask.git", ref = "1.0.2" }
//	local = { path = ".", editable = true }
package pipfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	pylock "github.com/pydeps/pylock"
	"github.com/pydeps/pylock/lockfile"
	"github.com/pydeps/pylock/markers"
	"github.com/pydeps/pylock/pep440"
)

// DefaultName is the conventional manifest filename.
const DefaultName = "Pipfile"

// Manifest is a parsed manifest plus the content hash recorded in
// lockfiles built from it.
type Manifest struct {
	// Sources lists the package indexes, first one default.
	Sources []lockfile.Source

	// Requires carries interpreter requirements such as python_version.
	Requires map[string]string

	// Packages and DevPackages are the two dependency categories, keyed by
	// name as written.
	Packages    map[string]Dependency
	DevPackages map[string]Dependency

	hash string
}

// Dependency is one manifest entry in normalized form.
type Dependency struct {
	// Version is the version constraint; "*" and "" mean any.
	Version string

	// Extras are requested extras.
	Extras []string

	// Markers is the combined environment marker, shorthand keys folded in.
	Markers string

	// VCSType and VCSURL identify a version-control source. Ref is the
	// revision, Subdirectory the package location inside the checkout.
	VCSType      string
	VCSURL       string
	Ref          string
	Subdirectory string

	// File is a direct archive URL source.
	File string

	// Path is a local filesystem source.
	Path string

	// Editable marks an editable install.
	Editable bool

	// Index names a non-default source the package must come from.
	Index string
}

// rawManifest is the TOML shape before entry normalization.
type rawManifest struct {
	Source      []lockfile.Source `toml:"source"`
	Packages    map[string]any    `toml:"packages"`
	DevPackages map[string]any    `toml:"dev-packages"`
	Requires    map[string]string `toml:"requires"`
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse parses manifest TOML data.
func Parse(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest TOML: %w", err)
	}

	m := &Manifest{
		Sources:  raw.Source,
		Requires: raw.Requires,
	}

	var err error
	if m.Packages, err = normalizeCategory(raw.Packages); err != nil {
		return nil, err
	}
	if m.DevPackages, err = normalizeCategory(raw.DevPackages); err != nil {
		return nil, err
	}
	if m.hash, err = contentHash(&raw); err != nil {
		return nil, err
	}
	return m, nil
}

// Hash returns the hex SHA256 of the manifest's semantic content. It is
// stable under formatting-only edits: the hash covers the parsed structure,
// not the bytes.
func (m *Manifest) Hash() string {
	return m.hash
}

// contentHash hashes the canonical JSON rendering of the parsed manifest.
// encoding/json sorts map keys, which provides the canonical ordering.
func contentHash(raw *rawManifest) (string, error) {
	canonical := map[string]any{
		"_meta": map[string]any{
			"requires": raw.Requires,
			"sources":  raw.Source,
		},
		"default": raw.Packages,
		"develop": raw.DevPackages,
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("hash manifest: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func normalizeCategory(entries map[string]any) (map[string]Dependency, error) {
	out := make(map[string]Dependency, len(entries))
	for name, entry := range entries {
		dep, err := normalizeEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %s: %w", name, err)
		}
		out[name] = dep
	}
	return out, nil
}

var vcsKeys = []string{"git", "hg", "svn", "bzr"}

func normalizeEntry(entry any) (Dependency, error) {
	switch v := entry.(type) {
	case string:
		return Dependency{Version: v}, nil
	case map[string]any:
		return normalizeTable(v)
	}
	return Dependency{}, fmt.Errorf("expected a version string or a table, got %T", entry)
}

func normalizeTable(table map[string]any) (Dependency, error) {
	dep := Dependency{}
	shorthand := make(map[string]string)

	for key, value := range table {
		switch key {
		case "version":
			dep.Version, _ = value.(string)
		case "extras":
			items, ok := value.([]any)
			if !ok {
				return dep, fmt.Errorf("extras must be an array")
			}
			for _, item := range items {
				if s, ok := item.(string); ok {
					dep.Extras = append(dep.Extras, s)
				}
			}
			sort.Strings(dep.Extras)
		case "ref":
			dep.Ref, _ = value.(string)
		case "subdirectory":
			dep.Subdirectory, _ = value.(string)
		case "file":
			dep.File, _ = value.(string)
		case "path":
			dep.Path, _ = value.(string)
		case "editable":
			dep.Editable, _ = value.(bool)
		case "index":
			dep.Index, _ = value.(string)
		case "markers":
			if s, ok := value.(string); ok {
				shorthand["markers"] = s
			}
		default:
			if isVCSKey(key) {
				dep.VCSType = key
				dep.VCSURL, _ = value.(string)
			} else if markers.IsVariable(key) {
				if s, ok := value.(string); ok {
					shorthand[key] = s
				}
			}
			// Anything else is tool-specific metadata this code does not
			// interpret.
		}
	}

	folded, err := markers.Translate(shorthand)
	if err != nil {
		return dep, err
	}
	dep.Markers = folded["markers"]
	return dep, nil
}

func isVCSKey(key string) bool {
	for _, k := range vcsKeys {
		if key == k {
			return true
		}
	}
	return false
}

// Requirements converts a category into resolver requirements. Category is
// one of the lockfile category names.
func (m *Manifest) Requirements(category string) ([]*pylock.Requirement, error) {
	var entries map[string]Dependency
	switch category {
	case lockfile.CategoryDefault:
		entries = m.Packages
	case lockfile.CategoryDevelop:
		entries = m.DevPackages
	default:
		return nil, fmt.Errorf("unknown manifest category %q", category)
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	reqs := make([]*pylock.Requirement, 0, len(names))
	for _, name := range names {
		req, err := entries[name].requirement(name)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %s: %w", name, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// requirement builds the resolver form of one entry.
func (d Dependency) requirement(name string) (*pylock.Requirement, error) {
	req := &pylock.Requirement{
		Name:     name,
		Extras:   append([]string(nil), d.Extras...),
		Editable: d.Editable,
		Index:    d.Index,
	}

	switch {
	case d.VCSType != "":
		req.VCS = &pylock.VCSSource{
			Type:         d.VCSType,
			URL:          d.VCSURL,
			Ref:          d.Ref,
			Subdirectory: d.Subdirectory,
		}
	case d.File != "":
		req.URL = d.File
	case d.Path != "":
		req.Path = d.Path
	default:
		if d.Version != "" && d.Version != "*" {
			spec, err := pep440.ParseSpecifierSet(d.Version)
			if err != nil {
				return nil, err
			}
			req.Specifier = spec
		}
	}

	if d.Markers != "" {
		marker, err := markers.Parse(d.Markers)
		if err != nil {
			return nil, err
		}
		req.Markers = marker
	}
	return req, nil
}

// LockOptions builds the lockfile metadata options for this manifest.
func (m *Manifest) LockOptions() lockfile.BuildOptions {
	return lockfile.BuildOptions{
		Sources:      m.Sources,
		Requires:     m.Requires,
		ManifestHash: m.hash,
	}
}
