package lockfile

import (
	"fmt"
	"sort"

	pylock "github.com/pydeps/pylock"
	"github.com/pydeps/pylock/markers"
)

// BuildOptions carries the metadata recorded alongside the pins.
type BuildOptions struct {
	// Sources lists the package indexes, first one default.
	Sources []Source

	// Requires carries interpreter requirements such as python_version.
	Requires map[string]string

	// ManifestHash is the hex SHA256 of the manifest the pins were
	// resolved from, recorded so staleness is detectable.
	ManifestHash string
}

// Build renders resolutions into a lock document. def fills the default
// category and dev, which may be nil, the develop category.
//
// Each entry's markers are folded upward through provenance: a package
// pulled in only by marker-gated requirers inherits the disjunction of
// their effective markers, conjoined with its own. A package reachable
// through any unconditional path keeps only its own markers. Dependency
// cycles break the fold and the cycle members stay unconditional.
func Build(def, dev *pylock.Resolution, opts BuildOptions) (*Lockfile, error) {
	lf := New()
	lf.Meta.Requires = opts.Requires
	lf.Meta.Sources = opts.Sources
	if opts.ManifestHash != "" {
		lf.Meta.Hash = map[string]string{"sha256": opts.ManifestHash}
	}

	if err := fillCategory(lf.Default, def); err != nil {
		return nil, err
	}
	if dev != nil {
		if err := fillCategory(lf.Develop, dev); err != nil {
			return nil, err
		}
	}

	if err := lf.Validate(); err != nil {
		return nil, err
	}
	return lf, nil
}

func fillCategory(entries map[string]Entry, res *pylock.Resolution) error {
	if res == nil {
		return nil
	}

	fold := newMarkerFolder(res.Resolved)
	for _, pin := range res.Resolved {
		entry, err := entryFor(pin, res.Hashes[pin.String()], fold.effective(pin.Key()))
		if err != nil {
			return err
		}
		entries[pin.Key()] = entry
	}
	return nil
}

// entryFor renders one pin. The pin's shape decides the locator; exactly
// one is ever set.
func entryFor(pin *pylock.Requirement, hashes []string, marker *markers.Marker) (Entry, error) {
	entry := Entry{
		Index:    pin.Index,
		Extras:   append([]string(nil), pin.Extras...),
		Editable: pin.Editable,
	}
	if marker != nil {
		entry.Markers = marker.String()
	}

	switch {
	case pin.VCS != nil:
		entry.VCSType = pin.VCS.Type
		entry.VCSURL = pin.VCS.URL
		entry.Ref = pin.VCS.Ref
		entry.Subdirectory = pin.VCS.Subdirectory
	case pin.URL != "":
		entry.File = pin.URL
	case pin.Path != "":
		entry.Path = pin.Path
	default:
		version, ok := pin.PinnedVersion()
		if !ok {
			return Entry{}, fmt.Errorf("cannot lock unpinned requirement %s", pin)
		}
		entry.Version = "==" + version
	}

	// VCS links and local trees have no stable artifact to hash.
	if pin.VCS == nil && pin.Path == "" && !pin.Editable {
		entry.Hashes = append([]string(nil), hashes...)
		sort.Strings(entry.Hashes)
	}
	return entry, nil
}

// markerFolder computes effective markers over the provenance graph of a
// pin set.
type markerFolder struct {
	pins    map[string]*pylock.Requirement
	parents map[string][]string
}

func newMarkerFolder(resolved []*pylock.Requirement) *markerFolder {
	f := &markerFolder{
		pins:    make(map[string]*pylock.Requirement, len(resolved)),
		parents: make(map[string][]string, len(resolved)),
	}
	for _, pin := range resolved {
		f.pins[pin.Key()] = pin
	}
	for _, pin := range resolved {
		keys := make([]string, 0, len(pin.ComesFrom))
		for _, from := range pin.ComesFrom {
			parent, err := pylock.ParseRequirement(from)
			if err != nil {
				continue
			}
			if _, known := f.pins[parent.Key()]; known {
				keys = append(keys, parent.Key())
			}
		}
		sort.Strings(keys)
		f.parents[pin.Key()] = keys
	}
	return f
}

// effective returns the folded marker for a key, nil when unconditional.
func (f *markerFolder) effective(key string) *markers.Marker {
	return f.fold(key, make(map[string]bool))
}

func (f *markerFolder) fold(key string, visited map[string]bool) *markers.Marker {
	if visited[key] {
		// Cycle: no finite gate exists, treat as unconditional.
		return nil
	}
	visited[key] = true
	defer delete(visited, key)

	pin, ok := f.pins[key]
	if !ok {
		return nil
	}
	own := pin.Markers

	parents := f.parents[key]
	if len(parents) == 0 {
		return own
	}

	var inherited *markers.Marker
	for _, parent := range parents {
		pm := f.fold(parent, visited)
		if pm == nil {
			// An ungated path exists, so only the pin's own markers gate it.
			return own
		}
		inherited = markers.Or(inherited, pm)
	}
	return markers.And(own, inherited)
}
