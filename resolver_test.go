package pylock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pydeps/pylock/depcache"
	"github.com/pydeps/pylock/markers"
)

// flaskRepo builds the fixture tree used across resolver tests.
func flaskRepo() *MemoryRepository {
	return NewMemoryRepository().
		AddRelease("Flask", "0.10.1", "Werkzeug>=0.7", "Jinja2>=2.4", "itsdangerous>=0.21").
		AddRelease("Jinja2", "2.7.3", "MarkupSafe").
		AddRelease("MarkupSafe", "0.23").
		AddRelease("Werkzeug", "0.9.6").
		AddRelease("Werkzeug", "0.10.4").
		AddRelease("itsdangerous", "0.24")
}

func resolvedVersions(t *testing.T, res *Resolution) map[string]string {
	t.Helper()
	out := make(map[string]string, len(res.Resolved))
	for _, pin := range res.Resolved {
		version, ok := pin.PinnedVersion()
		if !ok && !pin.HasLocation() {
			t.Fatalf("unpinned requirement in result: %s", pin)
		}
		out[pin.Key()] = version
	}
	return out
}

func TestResolveConvergesOnTransitiveTree(t *testing.T) {
	res, err := Resolve(context.Background(), flaskRepo(), []*Requirement{
		MustParseRequirement("flask>=0.10"),
	})
	if err != nil {
		t.Fatal(err)
	}

	got := resolvedVersions(t, res)
	want := map[string]string{
		"flask":        "0.10.1",
		"werkzeug":     "0.10.4",
		"jinja2":       "2.7.3",
		"markupsafe":   "0.23",
		"itsdangerous": "0.24",
	}
	if len(got) != len(want) {
		t.Fatalf("resolved %v, want %v", got, want)
	}
	for name, version := range want {
		if got[name] != version {
			t.Errorf("%s = %q, want %q", name, got[name], version)
		}
	}
	if res.Rounds < 2 || res.Rounds > 6 {
		t.Errorf("converged in %d rounds, expected between 2 and depth+1", res.Rounds)
	}

	// Every index pin carries hashes.
	for _, pin := range res.Resolved {
		if len(res.Hashes[pin.String()]) == 0 {
			t.Errorf("no hashes for %s", pin)
		}
	}
}

func TestResolveResultIsDeterministic(t *testing.T) {
	first, err := Resolve(context.Background(), flaskRepo(), []*Requirement{
		MustParseRequirement("flask>=0.10"),
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Resolve(context.Background(), flaskRepo(), []*Requirement{
			MustParseRequirement("flask>=0.10"),
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(again.Resolved) != len(first.Resolved) {
			t.Fatal("result size changed between runs")
		}
		for j := range first.Resolved {
			if again.Resolved[j].String() != first.Resolved[j].String() {
				t.Fatalf("run %d differs: %s vs %s",
					i, again.Resolved[j], first.Resolved[j])
			}
		}
	}
}

func TestResolveConstraintNarrowsWithoutInstalling(t *testing.T) {
	repo := NewMemoryRepository().
		AddRelease("app", "1.0", "six>=1.0").
		AddRelease("six", "1.5.0").
		AddRelease("six", "2.1.0").
		AddRelease("unrelated", "3.0")

	constraint := MustParseRequirement("six<2.0")
	constraint.Constraint = true
	onlyConstraint := MustParseRequirement("unrelated>=1.0")
	onlyConstraint.Constraint = true

	res, err := Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("app"),
		constraint,
		onlyConstraint,
	})
	if err != nil {
		t.Fatal(err)
	}

	got := resolvedVersions(t, res)
	if got["six"] != "1.5.0" {
		t.Errorf("six = %q, want constraint-narrowed 1.5.0", got["six"])
	}
	if _, present := got["unrelated"]; present {
		t.Error("constraint-only package leaked into the result")
	}
}

func TestResolveFiltersUnrequiredUnsafePackages(t *testing.T) {
	repo := NewMemoryRepository().
		AddRelease("app", "1.0").
		AddRelease("setuptools", "41.0.0").
		AddRelease("pip", "20.0.2", "setuptools")

	// A directly requested setuptools has no requirer, so it is filtered.
	res, err := Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("app"),
		MustParseRequirement("setuptools"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, present := resolvedVersions(t, res)["setuptools"]; present {
		t.Error("directly requested setuptools must be filtered")
	}
	if len(res.Unsafe) != 1 || res.Unsafe[0].Key() != "setuptools" {
		t.Errorf("Unsafe = %v", res.Unsafe)
	}

	// A requirer that is itself unsafe does not rescue its dependency.
	res, err = Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("pip"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Resolved) != 0 {
		t.Errorf("Resolved = %v, want empty", res.Resolved)
	}
	if len(res.Unsafe) != 2 || res.Unsafe[0].Key() != "pip" || res.Unsafe[1].Key() != "setuptools" {
		t.Errorf("Unsafe = %v", res.Unsafe)
	}

	allowed, err := Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("app"),
		MustParseRequirement("setuptools"),
	}, WithAllowUnsafe())
	if err != nil {
		t.Fatal(err)
	}
	if _, present := resolvedVersions(t, allowed)["setuptools"]; !present {
		t.Error("WithAllowUnsafe must keep setuptools in the result")
	}
	if len(allowed.Unsafe) != 0 {
		t.Errorf("Unsafe = %v, want empty", allowed.Unsafe)
	}
}

func TestResolveKeepsRequiredUnsafePackages(t *testing.T) {
	repo := NewMemoryRepository().
		AddRelease("pytest-runner", "5.2", "setuptools").
		AddRelease("setuptools", "41.0.0")

	res, err := Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("pytest-runner"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := resolvedVersions(t, res)["setuptools"]; got != "41.0.0" {
		t.Errorf("setuptools = %q, want kept at 41.0.0 while a real package requires it", got)
	}
	if len(res.Unsafe) != 0 {
		t.Errorf("Unsafe = %v, want empty", res.Unsafe)
	}
}

// prereleaseRepo reproduces the policy trap: a transitive constraint whose
// specifier names a pre-release must not smuggle pre-release acceptance
// past an explicit "no pre-releases" policy.
func prereleaseRepo() *MemoryRepository {
	return NewMemoryRepository().
		AddRelease("app", "1.0", "lib>=4.2.0rc1").
		AddRelease("lib", "4.5.0").
		AddRelease("lib", "5.0.0").
		AddRelease("lib", "5.2.0").
		AddRelease("lib", "5.3.0b5")
}

func TestResolvePrereleasePolicyExplicitFalse(t *testing.T) {
	res, err := Resolve(context.Background(), prereleaseRepo(), []*Requirement{
		MustParseRequirement("app"),
		MustParseRequirement("lib>=4.5.0"),
	}, WithPrereleases(false))
	if err != nil {
		t.Fatal(err)
	}
	if got := resolvedVersions(t, res)["lib"]; got != "5.2.0" {
		t.Errorf("lib = %q, want 5.2.0 (no pre-release leakage)", got)
	}
}

func TestResolvePrereleasePolicyDefersToSpecifier(t *testing.T) {
	res, err := Resolve(context.Background(), prereleaseRepo(), []*Requirement{
		MustParseRequirement("app"),
		MustParseRequirement("lib>=4.5.0"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := resolvedVersions(t, res)["lib"]; got != "5.3.0b5" {
		t.Errorf("lib = %q, want 5.3.0b5 (specifier heuristic admits it)", got)
	}
}

func TestResolveDropsInapplicableMarkers(t *testing.T) {
	repo := NewMemoryRepository().
		AddRelease("app", "1.0", `legacy>=1.0; python_version < "3"`).
		AddRelease("legacy", "1.0")

	res, err := Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("app"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, present := resolvedVersions(t, res)["legacy"]; present {
		t.Error("python 2 only dependency resolved under a python 3 environment")
	}

	py2 := markers.DefaultEnvironment()
	py2["python_version"] = "2.7"
	res, err = Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("app"),
	}, WithEnvironment(py2))
	if err != nil {
		t.Fatal(err)
	}
	if _, present := resolvedVersions(t, res)["legacy"]; !present {
		t.Error("dependency missing under its own environment")
	}
}

func TestResolveDirectRequirementStaysUnconditional(t *testing.T) {
	// six is requested directly and also appears as a platform-gated
	// transitive dependency. The direct request applies everywhere, so the
	// pin must not inherit the transitive gate.
	repo := NewMemoryRepository().
		AddRelease("app", "1.0", `six>=1.0; sys_platform == "linux"`).
		AddRelease("six", "1.5.0")

	res, err := Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("app"),
		MustParseRequirement("six"),
	})
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, pin := range res.Resolved {
		if pin.Key() == "six" {
			found = true
			if pin.Markers != nil {
				t.Errorf("six pin gated by %q, want unconditional", pin.Markers)
			}
		}
	}
	if !found {
		t.Fatal("six missing from result")
	}
}

func TestResolveRetryEnvironment(t *testing.T) {
	// Under python 3 the fixture requires an unsatisfiable dependency; under
	// python 2 the marker drops it.
	repo := NewMemoryRepository().
		AddRelease("app", "1.0", `missing>=2.0; python_version >= "3"`)

	_, err := Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("app"),
	})
	if err == nil {
		t.Fatal("expected primary environment to fail")
	}

	py2 := markers.DefaultEnvironment()
	py2["python_version"] = "2.7"
	res, err := Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("app"),
	}, WithRetryEnvironment(py2))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) == 0 {
		t.Error("retry success must carry a warning about the primary failure")
	}
}

func TestResolveMaxRoundsExceeded(t *testing.T) {
	repo := NewMemoryRepository().
		AddRelease("a", "1.0", "b").
		AddRelease("b", "1.0", "c").
		AddRelease("c", "1.0", "d").
		AddRelease("d", "1.0", "e").
		AddRelease("e", "1.0")

	_, err := Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("a"),
	}, WithMaxRounds(2))

	var exceeded *MaxRoundsExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("error = %v, want MaxRoundsExceededError", err)
	}
	if exceeded.Rounds != 2 {
		t.Errorf("Rounds = %d, want 2", exceeded.Rounds)
	}
}

func TestResolveNoMatchingCandidateIsFatal(t *testing.T) {
	repo := NewMemoryRepository().AddRelease("six", "1.5.0")

	_, err := Resolve(context.Background(), repo, []*Requirement{
		MustParseRequirement("six>=2.0"),
	})
	var noMatch *NoMatchingCandidateError
	if !errors.As(err, &noMatch) {
		t.Fatalf("error = %v, want NoMatchingCandidateError", err)
	}
	if len(noMatch.Tried) != 1 || noMatch.Tried[0] != "1.5.0" {
		t.Errorf("Tried = %v", noMatch.Tried)
	}
}

func TestResolvePopulatesDependencyCache(t *testing.T) {
	cache := depcache.New(filepath.Join(t.TempDir(), "depcache.json"))

	res, err := Resolve(context.Background(), flaskRepo(), []*Requirement{
		MustParseRequirement("flask>=0.10"),
	}, WithDependencyCache(cache))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Resolved) != 5 {
		t.Fatalf("resolved %d packages", len(res.Resolved))
	}

	deps, hit, err := cache.Get("flask", "0.10.1")
	if err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Fatal("flask 0.10.1 not cached")
	}
	if len(deps) != 3 {
		t.Errorf("cached deps = %v", deps)
	}

	// A second run against an empty repository still resolves the tree's
	// dependencies from the cache.
	sparse := NewMemoryRepository().
		AddRelease("Flask", "0.10.1").
		AddRelease("Jinja2", "2.7.3").
		AddRelease("MarkupSafe", "0.23").
		AddRelease("Werkzeug", "0.10.4").
		AddRelease("itsdangerous", "0.24")
	res2, err := Resolve(context.Background(), sparse, []*Requirement{
		MustParseRequirement("flask>=0.10"),
	}, WithDependencyCache(cache))
	if err != nil {
		t.Fatal(err)
	}
	if len(res2.Resolved) != 5 {
		t.Errorf("cache-driven resolve pinned %d packages, want 5", len(res2.Resolved))
	}
}

func TestResolveEditableNeverCached(t *testing.T) {
	cache := depcache.New(filepath.Join(t.TempDir(), "depcache.json"))
	repo := NewMemoryRepository().AddRelease("six", "1.5.0")

	editable := MustParseRequirement("-e git+https://github.com/o/r.git@v1#egg=local-lib")
	res, err := Resolve(context.Background(), repo, []*Requirement{
		editable,
		MustParseRequirement("six"),
	}, WithDependencyCache(cache))
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, pin := range res.Resolved {
		if pin.Key() == "local-lib" {
			found = true
			if !pin.Editable {
				t.Error("editable flag lost through resolution")
			}
			if len(res.Hashes[pin.String()]) != 0 {
				t.Error("editable requirement must not carry hashes")
			}
		}
	}
	if !found {
		t.Fatal("editable requirement missing from result")
	}

	if _, hit, _ := cache.Get("local-lib", "git+https://github.com/o/r.git@v1"); hit {
		t.Error("editable dependency metadata must not be cached")
	}
}

func TestResolveLinesConstraintPrefix(t *testing.T) {
	repo := NewMemoryRepository().
		AddRelease("app", "1.0", "six>=1.0").
		AddRelease("six", "1.5.0").
		AddRelease("six", "2.1.0")

	res, err := ResolveLines(context.Background(), repo, []string{
		"app",
		"-c six<2.0",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := resolvedVersions(t, res)["six"]; got != "1.5.0" {
		t.Errorf("six = %q, want 1.5.0", got)
	}
}
