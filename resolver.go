package pylock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pydeps/pylock/depcache"
	"github.com/pydeps/pylock/markers"
)

// Resolver pins a set of requirements to exact versions by iterating rounds
// until the requirement set reaches a fixed point.
//
// Each round merges the caller's requirements with the constraints implied
// by the previous round's pins, asks the repository for the best matching
// version of every merged requirement, and expands those pins into their
// dependencies. The implied constraints are replaced wholesale each round,
// never accumulated, so constraints from versions that are no longer
// selected do not linger. The loop stops when a round discovers no
// requirement summary it has not seen the round before.
type Resolver struct {
	repo   PackageRepository
	config *resolverConfig

	// ours are the caller's requirements, fixed for the resolver's
	// lifetime. theirs are the constraints implied by the current pins.
	ours   []*Requirement
	theirs []*Requirement
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	// Resolved are the pinned requirements, sorted by key. Constraint-only
	// inputs and unsafe packages are excluded.
	Resolved []*Requirement

	// Unsafe are pinned packaging-tool packages (setuptools, pip) excluded
	// from Resolved because nothing outside the unsafe set requires them.
	// An unsafe package a real package depends on stays in Resolved. Empty
	// when resolving with WithAllowUnsafe.
	Unsafe []*Requirement

	// Hashes maps each resolved requirement's rendered form to its sorted
	// artifact hashes. Requirements without hashable artifacts are absent.
	Hashes map[string][]string

	// Rounds is the number of rounds the resolve loop ran.
	Rounds int

	// Warnings carries non-fatal conditions encountered while resolving,
	// such as a failed retry under the primary marker environment.
	Warnings []string
}

// NewResolver creates a resolver over the given repository and
// requirements. The requirements are merged up front, so conflicting
// sources fail before any network traffic.
func NewResolver(repo PackageRepository, reqs []*Requirement, opts ...Option) (*Resolver, error) {
	config, err := newResolverConfig(opts...)
	if err != nil {
		return nil, err
	}
	merged, err := MergeRequirements(reqs)
	if err != nil {
		return nil, err
	}
	return &Resolver{repo: repo, config: config, ours: merged}, nil
}

// Resolve runs the resolve loop to a fixed point and collects artifact
// hashes for the result. When a retry environment is configured and the
// primary environment fails, the retry runs from scratch and a warning
// records the original failure.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	if r.config.clearCaches {
		r.repo.ClearCache()
		if r.config.depCache != nil {
			if err := r.config.depCache.Clear(); err != nil {
				return nil, fmt.Errorf("clear dependency cache: %w", err)
			}
		}
	}

	res, err := r.resolveIn(ctx, r.config.environment)
	if err != nil && r.config.retryEnv != nil {
		primaryErr := err
		r.theirs = nil
		res, err = r.resolveIn(ctx, r.config.retryEnv)
		if err == nil {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("resolution failed under the primary environment (%v); succeeded under the retry environment", primaryErr))
		}
	}
	if err != nil {
		return nil, err
	}

	hashes, err := r.collectHashes(ctx, res.Resolved)
	if err != nil {
		return nil, err
	}
	res.Hashes = hashes
	return res, nil
}

// resolveIn runs the round loop under one marker environment.
func (r *Resolver) resolveIn(ctx context.Context, env markers.Environment) (*Resolution, error) {
	log := r.config.log()

	var best []*Requirement
	for round := 1; round <= r.config.maxRounds; round++ {
		r.config.progress(ProgressEvent{Stage: StageRoundStart, Round: round})
		log.Debug("starting resolution round", "round", round,
			"ours", len(r.ours), "theirs", len(r.theirs))

		changed, matches, err := r.resolveOneRound(ctx, env, round)
		if err != nil {
			return nil, err
		}
		best = matches

		if !changed {
			r.config.progress(ProgressEvent{Stage: StageConverged, Round: round})
			log.Debug("requirements converged", "round", round, "pinned", len(best))
			return r.finish(best, round), nil
		}
	}

	unstable := make([]string, 0, len(r.theirs))
	for _, req := range r.theirs {
		unstable = append(unstable, req.Key())
	}
	sort.Strings(unstable)
	return nil, &MaxRoundsExceededError{Rounds: r.config.maxRounds, Unstable: unstable}
}

// resolveOneRound performs one merge / pin / expand cycle. It reports
// whether the implied constraint set gained any summary it did not have
// before, and returns this round's pins.
func (r *Resolver) resolveOneRound(ctx context.Context, env markers.Environment, round int) (bool, []*Requirement, error) {
	merged, err := MergeRequirements(append(append([]*Requirement(nil), r.ours...), r.theirs...))
	if err != nil {
		return false, nil, err
	}

	best, err := r.bestMatches(ctx, merged, round)
	if err != nil {
		return false, nil, err
	}

	var discovered []*Requirement
	for _, pin := range best {
		deps, err := r.dependenciesOf(ctx, pin, env)
		if err != nil {
			return false, nil, err
		}
		discovered = append(discovered, deps...)
	}
	theirs, err := MergeRequirements(discovered)
	if err != nil {
		return false, nil, err
	}

	changed := r.summariesChanged(theirs)
	r.theirs = theirs
	return changed, best, nil
}

// summariesChanged reports whether the new implied set contains a summary
// absent from the current one. Summaries compare key, specifier and extras
// only, so marker or provenance churn does not prevent convergence.
func (r *Resolver) summariesChanged(theirs []*Requirement) bool {
	seen := make(map[Summary]bool, len(r.theirs))
	for _, req := range r.theirs {
		seen[req.Summarize()] = true
	}
	for _, req := range theirs {
		if !seen[req.Summarize()] {
			return true
		}
	}
	return len(theirs) != len(r.theirs)
}

// bestMatches pins every merged requirement, querying the repository in
// parallel up to the configured concurrency. Result order follows the
// input order, which MergeRequirements already made deterministic.
func (r *Resolver) bestMatches(ctx context.Context, merged []*Requirement, round int) ([]*Requirement, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*Requirement, len(merged))
	sem := make(chan struct{}, r.config.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, req := range merged {
		wg.Add(1)
		go func(i int, req *Requirement) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				if firstErr == nil {
					firstErr = ctx.Err()
				}
				mu.Unlock()
				return
			}

			pinned, err := r.getBestMatch(ctx, req)
			mu.Lock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
			} else {
				results[i] = pinned
			}
			mu.Unlock()
		}(i, req)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	for _, pinned := range results {
		r.config.progress(ProgressEvent{Stage: StagePinned, Round: round, Subject: pinned.String()})
	}
	return results, nil
}

// getBestMatch pins a single requirement. Already-pinned, located and
// editable requirements are their own best match; everything else goes to
// the repository under the configured pre-release policy.
func (r *Resolver) getBestMatch(ctx context.Context, req *Requirement) (*Requirement, error) {
	if req.Editable || req.HasLocation() || req.IsPinned() {
		return req, nil
	}
	pinned, err := r.repo.FindBestMatch(ctx, req, r.config.prereleases)
	if err != nil {
		return nil, err
	}
	// The repository answers for the specifier; everything else carries
	// over from the requirement being pinned.
	pinned.Constraint = req.Constraint
	return pinned, nil
}

// dependenciesOf expands one pin into the requirements it implies for the
// next round. Constraint-only requirements narrow versions but are never
// expanded. Dependencies whose markers do not match the environment are
// dropped here, so inapplicable subtrees never influence resolution.
func (r *Resolver) dependenciesOf(ctx context.Context, pin *Requirement, env markers.Environment) ([]*Requirement, error) {
	if pin.Constraint {
		return nil, nil
	}

	deps, err := r.lookupDependencies(ctx, pin)
	if err != nil {
		return nil, err
	}

	applicable := deps[:0]
	for _, dep := range deps {
		if dep.Markers != nil && !dep.Markers.Eval(env) {
			continue
		}
		applicable = append(applicable, dep)
	}
	return applicable, nil
}

// lookupDependencies fetches a pin's dependencies, consulting the
// persistent cache for immutable identities. Editable checkouts and plain
// URL archives can change under the same identity, so they always go to
// the repository. A cache write failure is reported but does not fail the
// resolution.
func (r *Resolver) lookupDependencies(ctx context.Context, pin *Requirement) ([]*Requirement, error) {
	cache := r.config.depCache
	name, versionKey, cacheable := cacheIdentity(pin)
	if cache == nil || !cacheable {
		return r.repo.GetDependencies(ctx, pin)
	}

	lines, hit, err := cache.Get(name, versionKey)
	if err != nil {
		return nil, err
	}
	if hit {
		deps := make([]*Requirement, 0, len(lines))
		for _, line := range lines {
			dep, err := ParseRequirement(line)
			if err != nil {
				return nil, fmt.Errorf("cached dependency of %s: %w", pin, err)
			}
			dep.ComesFrom = []string{pin.String()}
			deps = append(deps, dep)
		}
		return deps, nil
	}

	deps, err := r.repo.GetDependencies(ctx, pin)
	if err != nil {
		return nil, err
	}
	lines = make([]string, 0, len(deps))
	for _, dep := range deps {
		lines = append(lines, dep.String())
	}
	if err := cache.Set(name, versionKey, lines); err != nil {
		r.config.log().Warn("dependency cache write failed", "package", pin.Key(), "error", err)
	}
	return deps, nil
}

// cacheIdentity returns the dependency-cache key for a pin and whether the
// pin is cacheable at all. Index pins cache under their exact version, VCS
// pins under their full source URL (the ref makes it immutable enough);
// editable and plain-URL requirements are not cached.
func cacheIdentity(pin *Requirement) (name, versionKey string, cacheable bool) {
	if pin.Editable || pin.URL != "" || pin.Path != "" || pin.Name == "" {
		return "", "", false
	}
	if pin.VCS != nil {
		_, versionKey = depcache.CacheKey(pin.Name, pin.VCS.String(), pin.Extras)
		return CanonicalName(pin.Name), versionKey, true
	}
	version, ok := pin.PinnedVersion()
	if !ok {
		return "", "", false
	}
	_, versionKey = depcache.CacheKey(pin.Name, version, pin.Extras)
	return CanonicalName(pin.Name), versionKey, true
}

// finish partitions the converged pins into the final resolution.
func (r *Resolver) finish(best []*Requirement, rounds int) *Resolution {
	res := &Resolution{Rounds: rounds}

	pins := make([]*Requirement, 0, len(best))
	for _, pin := range best {
		if pin.Constraint {
			continue
		}
		pins = append(pins, pin)
	}

	removed := r.filterUnsafe(pins)
	for _, pin := range pins {
		if removed[pin.Key()] {
			res.Unsafe = append(res.Unsafe, pin)
			continue
		}
		res.Resolved = append(res.Resolved, pin)
	}
	sortByKey(res.Resolved)
	sortByKey(res.Unsafe)
	return res
}

// filterUnsafe decides which unsafe pins to drop, using the provenance
// reverse-dependency view: an unsafe package with at least one requirer
// outside the unsafe set is kept, one required only by unsafe packages
// (or by nothing, a direct request) is dropped.
func (r *Resolver) filterUnsafe(pins []*Requirement) map[string]bool {
	if r.config.allowUnsafe {
		return nil
	}
	unsafe := r.config.unsafeSet()

	keys := make(map[string]bool, len(pins))
	for _, pin := range pins {
		keys[pin.Key()] = true
	}
	requirers := make(map[string][]string, len(pins))
	for _, pin := range pins {
		for _, from := range pin.ComesFrom {
			parent, err := ParseRequirement(from)
			if err != nil || !keys[parent.Key()] {
				continue
			}
			requirers[pin.Key()] = append(requirers[pin.Key()], parent.Key())
		}
	}

	removed := make(map[string]bool)
	for _, pin := range pins {
		key := pin.Key()
		if !unsafe[key] {
			continue
		}
		kept := false
		for _, requirer := range requirers[key] {
			if !unsafe[requirer] {
				kept = true
				break
			}
		}
		if !kept {
			removed[key] = true
		}
	}
	return removed
}

func sortByKey(reqs []*Requirement) {
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Key() < reqs[j].Key() })
}

// collectHashes gathers artifact hashes for every resolved pin in
// parallel. Requirements the repository cannot hash (VCS links, local
// directories) are simply absent from the map.
func (r *Resolver) collectHashes(ctx context.Context, resolved []*Requirement) (map[string][]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hashes := make(map[string][]string, len(resolved))
	sem := make(chan struct{}, r.config.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, pin := range resolved {
		if pin.Editable {
			continue
		}
		wg.Add(1)
		go func(pin *Requirement) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			hs, err := r.repo.GetHashes(ctx, pin)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			if len(hs) > 0 {
				sorted := append([]string(nil), hs...)
				sort.Strings(sorted)
				hashes[pin.String()] = sorted
			}
		}(pin)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return hashes, nil
}
