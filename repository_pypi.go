package pylock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pydeps/pylock/markers"
	"github.com/pydeps/pylock/pep440"
)

// DefaultIndexURL is the canonical public package index.
const DefaultIndexURL = "https://pypi.org"

// Compile-time interface compliance check.
var _ PackageRepository = (*PyPIRepository)(nil)

// PyPIRepository serves the PackageRepository contract from a PyPI-style
// JSON API, with response caching and connection pooling.
//
// It cannot inspect VCS checkouts or local directories, so GetDependencies
// answers only for index-pinned requirements; located requirements yield no
// dependencies. Dependencies gated on an extra are settled at fetch time:
// a dependency whose marker references "extra" is included, marker
// dropped, when one of the requirement's requested extras satisfies it.
type PyPIRepository struct {
	baseURL string
	client  *http.Client
	cache   sync.Map
}

// NewPyPIRepository creates a repository client for the given index base
// URL ("" means DefaultIndexURL) with tuned HTTP settings.
func NewPyPIRepository(baseURL string) *PyPIRepository {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return NewPyPIRepositoryWithClient(baseURL, &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	})
}

// NewPyPIRepositoryWithClient creates a repository client using the given
// HTTP client, for callers that need custom transports or timeouts.
func NewPyPIRepositoryWithClient(baseURL string, client *http.Client) *PyPIRepository {
	if baseURL == "" {
		baseURL = DefaultIndexURL
	}
	return &PyPIRepository{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// BaseURL returns the index base URL.
func (r *PyPIRepository) BaseURL() string {
	return r.baseURL
}

// projectPage is the /pypi/<name>/json response shape.
type projectPage struct {
	Info     projectInfo              `json:"info"`
	Releases map[string][]releaseFile `json:"releases"`
}

type projectInfo struct {
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	RequiresDist   []string `json:"requires_dist"`
	RequiresPython string   `json:"requires_python"`
}

type releaseFile struct {
	URL            string            `json:"url"`
	Digests        map[string]string `json:"digests"`
	RequiresPython string            `json:"requires_python"`
	Yanked         bool              `json:"yanked"`
	PackageType    string            `json:"packagetype"`
}

// releasePage is the /pypi/<name>/<version>/json response shape.
type releasePage struct {
	Info projectInfo `json:"info"`
}

// fetchJSON gets a URL and decodes the response, caching by URL.
func (r *PyPIRepository) fetchJSON(ctx context.Context, pkg, url string, out any) error {
	if cached, ok := r.cache.Load(url); ok {
		return json.Unmarshal(cached.([]byte), out)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &RepositoryError{Package: pkg, StatusCode: resp.StatusCode, URL: url}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode index response for %s: %w", pkg, err)
	}
	r.cache.Store(url, data)
	return nil
}

func (r *PyPIRepository) getProject(ctx context.Context, name string) (*projectPage, error) {
	url := fmt.Sprintf("%s/pypi/%s/json", r.baseURL, CanonicalName(name))
	var page projectPage
	if err := r.fetchJSON(ctx, name, url, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (r *PyPIRepository) getRelease(ctx context.Context, name, version string) (*releasePage, error) {
	url := fmt.Sprintf("%s/pypi/%s/%s/json", r.baseURL, CanonicalName(name), version)
	var page releasePage
	if err := r.fetchJSON(ctx, name, url, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// installable reports whether a release has at least one non-yanked file.
func installable(files []releaseFile) bool {
	for _, f := range files {
		if !f.Yanked {
			return true
		}
	}
	return false
}

// FindBestMatch implements PackageRepository. Pinned and located
// requirements are their own best match; fully yanked releases are never
// candidates.
func (r *PyPIRepository) FindBestMatch(ctx context.Context, req *Requirement, prereleases *bool) (*Requirement, error) {
	if req.Editable || req.HasLocation() || req.IsPinned() {
		return req, nil
	}

	page, err := r.getProject(ctx, req.Name)
	if err != nil {
		return nil, err
	}

	var best *pep440.Version
	bestRaw := ""
	tried := make([]string, 0, len(page.Releases))
	for raw, files := range page.Releases {
		v, err := pep440.Parse(raw)
		if err != nil {
			// Legacy, non-PEP-440 versions still appear on old projects.
			continue
		}
		if !installable(files) {
			continue
		}
		tried = append(tried, raw)
		if !req.Specifier.Contains(v, prereleases) {
			continue
		}
		if best == nil || pep440.Compare(v, best) > 0 {
			best = v
			bestRaw = raw
		}
	}
	if best == nil {
		sort.Strings(tried)
		return nil, &NoMatchingCandidateError{Requirement: req, Tried: tried}
	}
	return pinRequirement(req, page.Info.Name, bestRaw), nil
}

// GetDependencies implements PackageRepository.
func (r *PyPIRepository) GetDependencies(ctx context.Context, req *Requirement) ([]*Requirement, error) {
	if !req.IsPinned() && !req.Editable {
		return nil, &NotPinnedError{Requirement: req}
	}
	if req.HasLocation() {
		// An index has no view into checkouts or local trees.
		return nil, nil
	}

	version, _ := req.PinnedVersion()
	page, err := r.getRelease(ctx, req.Name, version)
	if err != nil {
		return nil, err
	}

	deps := make([]*Requirement, 0, len(page.Info.RequiresDist))
	for _, line := range page.Info.RequiresDist {
		dep, err := ParseRequirement(line)
		if err != nil {
			return nil, fmt.Errorf("dependency of %s: %w", req, err)
		}
		if dep.Markers != nil && dep.Markers.References("extra") {
			if !extraApplies(dep.Markers, req.Extras) {
				continue
			}
			dep.Markers = nil
		}
		dep.ComesFrom = []string{req.String()}
		deps = append(deps, dep)
	}
	return deps, nil
}

// extraApplies reports whether a marker referencing "extra" holds for any
// of the requested extras, evaluated against the default environment.
func extraApplies(m *markers.Marker, extras []string) bool {
	base := markers.DefaultEnvironment()
	for _, extra := range extras {
		if m.Eval(base.WithExtra(extra)) {
			return true
		}
	}
	return false
}

// GetHashes implements PackageRepository. All of a release's artifacts
// contribute, regardless of platform, so lockfiles stay installable on
// machines other than the one that resolved them.
func (r *PyPIRepository) GetHashes(ctx context.Context, req *Requirement) ([]string, error) {
	if req.VCS != nil || req.Path != "" {
		return nil, nil
	}

	version, ok := req.PinnedVersion()
	if !ok {
		return nil, &NotPinnedError{Requirement: req}
	}

	page, err := r.getProject(ctx, req.Name)
	if err != nil {
		return nil, err
	}

	var hashes []string
	for _, f := range page.Releases[version] {
		if f.Yanked {
			continue
		}
		if digest, ok := f.Digests["sha256"]; ok && digest != "" {
			hashes = append(hashes, "sha256:"+digest)
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

// FindAllCandidates implements PackageRepository.
func (r *PyPIRepository) FindAllCandidates(ctx context.Context, name string, ignorePlatformCompat bool) ([]Candidate, error) {
	page, err := r.getProject(ctx, name)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(page.Releases))
	for raw, files := range page.Releases {
		v, err := pep440.Parse(raw)
		if err != nil {
			continue
		}
		if !ignorePlatformCompat && !installable(files) {
			continue
		}
		c := Candidate{Name: page.Info.Name, Version: v.String()}
		for _, f := range files {
			c.Location = f.URL
			c.RequiresPython = f.RequiresPython
			break
		}
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return pep440.Compare(
			pep440.MustParse(candidates[i].Version),
			pep440.MustParse(candidates[j].Version),
		) < 0
	})
	return candidates, nil
}

// ClearCache implements PackageRepository.
func (r *PyPIRepository) ClearCache() {
	r.cache.Range(func(key, _ any) bool {
		r.cache.Delete(key)
		return true
	})
}
