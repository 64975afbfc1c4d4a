// Package depcache persists the "pinned requirement -> dependency lines"
// memo table that makes repeated resolver runs cheap.
//
// The cache is one JSON document:
//
//	{"__format__": 1, "dependencies": {"flask": {"1.0.2": ["Werkzeug>=0.14", ...]}}}
//
// keyed by canonical package name and a version-plus-extras string. Values
// are unparsed requirement lines: re-parsing on every hit is deliberate, so
// no stale parsed objects survive between runs. Entries are only ever
// written for immutable identities (exact versions, VCS refs), never for
// floating requirements.
//
// Writes rewrite the whole document to a temporary file and rename it into
// place, and take an advisory file lock, so resolver processes sharing a
// cache file cannot interleave partial writes.
package depcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// FormatVersion is the supported cache document format.
const FormatVersion = 1

const cachePermissions = 0o600

// CorruptCacheError is returned when the cache file exists but cannot be
// parsed. Corruption is surfaced, never masked: silently treating the file
// as empty would discard prior resolution work without a trace.
type CorruptCacheError struct {
	// Path is the cache file location to inspect or delete.
	Path string
}

func (e *CorruptCacheError) Error() string {
	return fmt.Sprintf("the dependency cache at %s seems to have been corrupted; inspect or delete it", e.Path)
}

// UnknownFormatError is returned when the cache document declares a format
// this code does not understand. Unknown formats are rejected, not guessed
// at.
type UnknownFormatError struct {
	Path   string
	Format int
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown dependency cache format %d in %s (supported: %d)", e.Format, e.Path, FormatVersion)
}

// document is the on-disk JSON shape.
type document struct {
	Format       int                            `json:"__format__"`
	Dependencies map[string]map[string][]string `json:"dependencies"`
}

// Cache is the persistent dependency memo table. It is lazily loaded on
// first access and rewritten after every mutation. A single Cache value is
// safe for concurrent use; separate processes sharing the file are
// serialized by the advisory lock.
type Cache struct {
	path string
	lock *flock.Flock

	mu      sync.Mutex
	entries map[string]map[string][]string
	loaded  bool
}

// New creates a cache backed by the given file path. The file need not
// exist yet; its directory is created on first write.
func New(path string) *Cache {
	return &Cache{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// DefaultPath returns the conventional cache location under a cache
// directory for an interpreter tag such as "cp3.7".
func DefaultPath(cacheDir, interpreterTag string) string {
	return filepath.Join(cacheDir, fmt.Sprintf("depcache-%s.json", interpreterTag))
}

// Path returns the backing file path.
func (c *Cache) Path() string {
	return c.path
}

// CacheKey builds the (name, version-and-extras) key pair for a pinned
// identity. Extras are sorted before key formation:
//
//	CacheKey("ipython", "2.1.0", nil)                     -> ("ipython", "2.1.0")
//	CacheKey("ipython", "2.1.0", []string{"b", "a"})      -> ("ipython", "2.1.0[a,b]")
//
// The bracketed shape is kept for backward compatibility with existing
// cache files.
func CacheKey(name, version string, extras []string) (string, string) {
	if len(extras) == 0 {
		return canonicalName(name), version
	}
	sorted := append([]string(nil), extras...)
	sort.Strings(sorted)
	return canonicalName(name), fmt.Sprintf("%s[%s]", version, strings.Join(sorted, ","))
}

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// canonicalName applies PEP 503 name normalization. Kept local so the
// package stays free of resolver imports.
func canonicalName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// load reads the cache file into memory. Caller holds c.mu.
func (c *Cache) load() error {
	if c.loaded {
		return nil
	}

	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("lock dependency cache: %w", err)
	}
	defer c.lock.Unlock() //nolint:errcheck // unlock of a held flock

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		c.entries = make(map[string]map[string][]string)
		c.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read dependency cache: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return &CorruptCacheError{Path: c.path}
	}
	if doc.Format != FormatVersion {
		return &UnknownFormatError{Path: c.path, Format: doc.Format}
	}

	if doc.Dependencies == nil {
		doc.Dependencies = make(map[string]map[string][]string)
	}
	c.entries = doc.Dependencies
	c.loaded = true
	return nil
}

// persist rewrites the whole document atomically. Caller holds c.mu.
func (c *Cache) persist() error {
	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("lock dependency cache: %w", err)
	}
	defer c.lock.Unlock() //nolint:errcheck // unlock of a held flock

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	doc := document{Format: FormatVersion, Dependencies: c.entries}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode dependency cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".depcache-*")
	if err != nil {
		return fmt.Errorf("write dependency cache: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write dependency cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write dependency cache: %w", err)
	}
	if err := os.Chmod(tmpPath, cachePermissions); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write dependency cache: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write dependency cache: %w", err)
	}
	return nil
}

// Get returns the cached dependency lines for a key pair, if present.
func (c *Cache) Get(name, versionAndExtras string) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(); err != nil {
		return nil, false, err
	}
	versions, ok := c.entries[name]
	if !ok {
		return nil, false, nil
	}
	deps, ok := versions[versionAndExtras]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), deps...), true, nil
}

// Set stores dependency lines for a key pair and persists immediately.
// Lines are sorted and de-duplicated so the document is deterministic.
func (c *Cache) Set(name, versionAndExtras string, deps []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(); err != nil {
		return err
	}

	sorted := append([]string(nil), deps...)
	sort.Strings(sorted)
	deduped := sorted[:0]
	prev := ""
	for i, d := range sorted {
		if i > 0 && d == prev {
			continue
		}
		deduped = append(deduped, d)
		prev = d
	}

	if c.entries[name] == nil {
		c.entries[name] = make(map[string][]string)
	}
	c.entries[name][versionAndExtras] = deduped
	return c.persist()
}

// Clear drops all entries and persists the empty document.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]map[string][]string)
	c.loaded = true
	return c.persist()
}

// Len returns the number of cached (name, version) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(); err != nil {
		return 0
	}
	n := 0
	for _, versions := range c.entries {
		n += len(versions)
	}
	return n
}

// ReverseDependencies builds a requirer lookup from the cached dependency
// lists of the given key pairs:
//
//	{"pep8": ["flake8"], "mccabe": ["flake8"], "flake8": []}
//
// It only sees what is already cached, so it is meaningful after a full
// resolution, not during one.
func (c *Cache) ReverseDependencies(keys [][2]string) (map[string][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.load(); err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(keys))
	for _, key := range keys {
		out[key[0]] = nil
	}
	for _, key := range keys {
		name, versionAndExtras := key[0], key[1]
		for _, line := range c.entries[name][versionAndExtras] {
			dep := canonicalName(nameFromLine(line))
			if dep == "" {
				continue
			}
			out[dep] = append(out[dep], name)
		}
	}
	for dep := range out {
		out[dep] = sortUnique(out[dep])
	}
	return out, nil
}

// nameFromLine extracts the leading package name from a requirement line.
func nameFromLine(line string) string {
	trimmed := strings.TrimSpace(line)
	end := len(trimmed)
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c == '[' || c == '<' || c == '>' || c == '=' || c == '!' || c == '~' ||
			c == ';' || c == ' ' || c == '(' {
			end = i
			break
		}
	}
	return trimmed[:end]
}

func sortUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:0]
	prev := ""
	for i, s := range in {
		if i > 0 && s == prev {
			continue
		}
		out = append(out, s)
		prev = s
	}
	return out
}
