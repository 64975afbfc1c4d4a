package pylock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pydeps/pylock/pep440"
)

// Compile-time interface compliance check.
var _ PackageRepository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory PackageRepository. It serves as the
// reference implementation of the repository contract and as the test
// double for resolver tests: releases, dependency metadata and hashes are
// declared up front, no I/O happens.
type MemoryRepository struct {
	mu       sync.RWMutex
	packages map[string]*memoryPackage

	// FindBestMatchCalls counts FindBestMatch invocations, for tests
	// asserting on round behavior.
	FindBestMatchCalls int
}

type memoryPackage struct {
	name     string
	releases map[string]*memoryRelease
}

type memoryRelease struct {
	version *pep440.Version
	deps    []string
	hashes  []string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{packages: make(map[string]*memoryPackage)}
}

// AddRelease declares a release with its dependency requirement lines.
// Panics on an unparseable version: test fixtures fail loudly.
func (m *MemoryRepository) AddRelease(name, version string, deps ...string) *MemoryRepository {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := CanonicalName(name)
	pkg, ok := m.packages[key]
	if !ok {
		pkg = &memoryPackage{name: name, releases: make(map[string]*memoryRelease)}
		m.packages[key] = pkg
	}
	pkg.releases[version] = &memoryRelease{
		version: pep440.MustParse(version),
		deps:    append([]string(nil), deps...),
		hashes:  []string{fmt.Sprintf("sha256:%064x", fnvDigest(name+"-"+version))},
	}
	return m
}

// SetHashes overrides the hash set for a declared release.
func (m *MemoryRepository) SetHashes(name, version string, hashes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pkg, ok := m.packages[CanonicalName(name)]; ok {
		if rel, ok := pkg.releases[version]; ok {
			rel.hashes = append([]string(nil), hashes...)
		}
	}
}

// fnvDigest derives a deterministic fake digest for test fixtures.
func fnvDigest(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// FindBestMatch implements PackageRepository. Pinned and located
// requirements return themselves without touching the candidate list.
func (m *MemoryRepository) FindBestMatch(ctx context.Context, req *Requirement, prereleases *bool) (*Requirement, error) {
	m.mu.Lock()
	m.FindBestMatchCalls++
	m.mu.Unlock()

	if req.Editable || req.HasLocation() || req.IsPinned() {
		return req, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	pkg, ok := m.packages[req.Key()]
	if !ok {
		return nil, &NoMatchingCandidateError{Requirement: req}
	}

	var best *memoryRelease
	var bestVersion string
	tried := make([]string, 0, len(pkg.releases))
	for version, rel := range pkg.releases {
		tried = append(tried, version)
		if !req.Specifier.Contains(rel.version, prereleases) {
			continue
		}
		if best == nil || pep440.Compare(rel.version, best.version) > 0 {
			best = rel
			bestVersion = version
		}
	}
	if best == nil {
		sort.Strings(tried)
		return nil, &NoMatchingCandidateError{Requirement: req, Tried: tried}
	}

	return pinRequirement(req, pkg.name, bestVersion), nil
}

// pinRequirement builds the pinned form of a constraint for a selected
// version, preserving extras, markers, constraint flag and provenance.
func pinRequirement(req *Requirement, name, version string) *Requirement {
	pinned := req.Clone()
	pinned.Name = name
	pinned.Specifier = pep440.Pin(version)
	return pinned
}

// GetDependencies implements PackageRepository.
func (m *MemoryRepository) GetDependencies(ctx context.Context, req *Requirement) ([]*Requirement, error) {
	if !req.IsPinned() && !req.Editable {
		return nil, &NotPinnedError{Requirement: req}
	}
	if req.HasLocation() {
		// The in-memory double has no checkouts to inspect.
		return nil, nil
	}

	version, _ := req.PinnedVersion()

	m.mu.RLock()
	defer m.mu.RUnlock()

	pkg, ok := m.packages[req.Key()]
	if !ok {
		return nil, nil
	}
	rel, ok := pkg.releases[version]
	if !ok {
		return nil, nil
	}

	deps := make([]*Requirement, 0, len(rel.deps))
	for _, line := range rel.deps {
		dep, err := ParseRequirement(line)
		if err != nil {
			return nil, fmt.Errorf("dependency of %s: %w", req, err)
		}
		dep.ComesFrom = []string{req.String()}
		deps = append(deps, dep)
	}
	return deps, nil
}

// GetHashes implements PackageRepository.
func (m *MemoryRepository) GetHashes(ctx context.Context, req *Requirement) ([]string, error) {
	if req.VCS != nil || req.Path != "" {
		return nil, nil
	}

	version, ok := req.PinnedVersion()
	if !ok {
		return nil, &NotPinnedError{Requirement: req}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	pkg, ok := m.packages[req.Key()]
	if !ok {
		return nil, nil
	}
	rel, ok := pkg.releases[version]
	if !ok {
		return nil, nil
	}
	out := append([]string(nil), rel.hashes...)
	sort.Strings(out)
	return out, nil
}

// FindAllCandidates implements PackageRepository.
func (m *MemoryRepository) FindAllCandidates(ctx context.Context, name string, ignorePlatformCompat bool) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pkg, ok := m.packages[CanonicalName(name)]
	if !ok {
		return nil, ErrPackageNotFound
	}

	candidates := make([]Candidate, 0, len(pkg.releases))
	for version := range pkg.releases {
		candidates = append(candidates, Candidate{Name: pkg.name, Version: version})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return pep440.Compare(
			pep440.MustParse(candidates[i].Version),
			pep440.MustParse(candidates[j].Version),
		) < 0
	})
	return candidates, nil
}

// ClearCache implements PackageRepository. The in-memory repository holds
// no response cache.
func (m *MemoryRepository) ClearCache() {}
