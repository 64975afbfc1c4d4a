package lockfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// lockfilePermissions is the file permission mode for lockfiles.
const lockfilePermissions = 0o644

// vcsTypes are the entry keys that denote a version-control locator.
var vcsTypes = map[string]bool{"git": true, "hg": true, "svn": true, "bzr": true}

// ReadFile reads and parses a lockfile from the given path.
func ReadFile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lockfile: %w", err)
	}
	return Parse(data)
}

// Parse parses lockfile JSON data.
func Parse(data []byte) (*Lockfile, error) {
	var raw struct {
		Meta    metaJSON         `json:"_meta"`
		Default map[string]Entry `json:"default"`
		Develop map[string]Entry `json:"develop"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse lockfile JSON: %w", err)
	}

	lf := New()
	lf.Meta = Meta{
		Hash:        raw.Meta.Hash,
		PipfileSpec: raw.Meta.PipfileSpec,
		Requires:    raw.Meta.Requires,
		Sources:     raw.Meta.Sources,
	}
	if raw.Default != nil {
		lf.Default = raw.Default
	}
	if raw.Develop != nil {
		lf.Develop = raw.Develop
	}
	return lf, nil
}

// WriteFile writes the lockfile to the given path with deterministic
// formatting.
func (l *Lockfile) WriteFile(path string) error {
	data, err := l.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, lockfilePermissions)
}

// WriteTo writes the lockfile to the given writer.
func (l *Lockfile) WriteTo(w io.Writer) (int64, error) {
	data, err := l.Marshal()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Marshal serializes the lockfile to indented JSON with sorted keys.
func (l *Lockfile) Marshal() ([]byte, error) {
	ordered := orderedLockfile{
		Meta: metaJSON{
			Hash:        l.Meta.Hash,
			PipfileSpec: l.Meta.PipfileSpec,
			Requires:    l.Meta.Requires,
			Sources:     l.Meta.Sources,
		},
		Default: sortedEntries(l.Default),
		Develop: sortedEntries(l.Develop),
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(ordered); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// orderedLockfile is used for deterministic JSON output.
type orderedLockfile struct {
	Meta    metaJSON        `json:"_meta"`
	Default orderedEntryMap `json:"default"`
	Develop orderedEntryMap `json:"develop"`
}

// metaJSON is the wire form of Meta. Requires and Hash are small maps whose
// keys encoding/json already sorts.
type metaJSON struct {
	Hash        map[string]string `json:"hash,omitempty"`
	PipfileSpec int               `json:"pipfile-spec"`
	Requires    map[string]string `json:"requires,omitempty"`
	Sources     []Source          `json:"sources,omitempty"`
}

// orderedEntryMap emits package entries in sorted name order.
type orderedEntryMap struct {
	keys   []string
	values map[string]Entry
}

func sortedEntries(m map[string]Entry) orderedEntryMap {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return orderedEntryMap{keys: keys, values: m}
}

func (o orderedEntryMap) MarshalJSON() ([]byte, error) {
	if len(o.keys) == 0 {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(k)
		valJSON, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders an entry with sorted keys. The VCS locator key is the
// VCS type itself ("git": "<url>"), so keys are assembled dynamically.
func (e Entry) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any)
	if e.Editable {
		fields["editable"] = true
	}
	if len(e.Extras) > 0 {
		fields["extras"] = e.Extras
	}
	if e.File != "" {
		fields["file"] = e.File
	}
	if e.VCSType != "" {
		fields[e.VCSType] = e.VCSURL
		if e.Ref != "" {
			fields["ref"] = e.Ref
		}
		if e.Subdirectory != "" {
			fields["subdirectory"] = e.Subdirectory
		}
	}
	if len(e.Hashes) > 0 {
		sorted := append([]string(nil), e.Hashes...)
		sort.Strings(sorted)
		fields["hashes"] = sorted
	}
	if e.Index != "" {
		fields["index"] = e.Index
	}
	if e.Markers != "" {
		fields["markers"] = e.Markers
	}
	if e.Path != "" {
		fields["path"] = e.Path
	}
	if e.Version != "" {
		fields["version"] = e.Version
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(k)
		valJSON, err := json.Marshal(fields[k])
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses an entry, recognizing whichever VCS type key is
// present.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = Entry{}
	for key, value := range raw {
		var err error
		switch key {
		case "version":
			err = json.Unmarshal(value, &e.Version)
		case "hashes":
			err = json.Unmarshal(value, &e.Hashes)
		case "markers":
			err = json.Unmarshal(value, &e.Markers)
		case "index":
			err = json.Unmarshal(value, &e.Index)
		case "extras":
			err = json.Unmarshal(value, &e.Extras)
		case "ref":
			err = json.Unmarshal(value, &e.Ref)
		case "subdirectory":
			err = json.Unmarshal(value, &e.Subdirectory)
		case "file":
			err = json.Unmarshal(value, &e.File)
		case "path":
			err = json.Unmarshal(value, &e.Path)
		case "editable":
			err = json.Unmarshal(value, &e.Editable)
		default:
			if vcsTypes[key] {
				e.VCSType = key
				err = json.Unmarshal(value, &e.VCSURL)
			}
			// Unknown keys are preserved-by-ignoring: round-tripping a
			// document from a newer writer drops only what this code
			// cannot represent.
		}
		if err != nil {
			return fmt.Errorf("lockfile entry key %q: %w", key, err)
		}
	}
	sort.Strings(e.Hashes)
	sort.Strings(e.Extras)
	return nil
}

// Exists returns true if a lockfile exists at the given path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DefaultPath returns the default lockfile path relative to a project root.
func DefaultPath(projectRoot string) string {
	if projectRoot == "" {
		return "Pipfile.lock"
	}
	return projectRoot + "/Pipfile.lock"
}
