package lockfile

import (
	"bytes"
	"context"
	"strings"
	"testing"

	pylock "github.com/pydeps/pylock"
	"github.com/pydeps/pylock/markers"
)

func flaskResolution(t *testing.T) *pylock.Resolution {
	t.Helper()
	repo := pylock.NewMemoryRepository().
		AddRelease("Flask", "0.10.1", "Werkzeug>=0.7", "Jinja2>=2.4", "itsdangerous>=0.21").
		AddRelease("Jinja2", "2.7.3", "MarkupSafe").
		AddRelease("MarkupSafe", "0.23").
		AddRelease("Werkzeug", "0.10.4").
		AddRelease("itsdangerous", "0.24")
	res, err := pylock.Resolve(context.Background(), repo, []*pylock.Requirement{
		pylock.MustParseRequirement("flask>=0.10"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestBuildFromResolution(t *testing.T) {
	lf, err := Build(flaskResolution(t), nil, BuildOptions{
		Sources: []Source{{Name: "pypi", URL: "https://pypi.org/simple", VerifySSL: true}},
		Requires: map[string]string{
			"python_version": "3.7",
		},
		ManifestHash: "abc123",
	})
	if err != nil {
		t.Fatal(err)
	}

	if lf.Meta.PipfileSpec != SpecVersion {
		t.Errorf("PipfileSpec = %d", lf.Meta.PipfileSpec)
	}
	if lf.Meta.Hash["sha256"] != "abc123" {
		t.Errorf("Hash = %v", lf.Meta.Hash)
	}
	if len(lf.Develop) != 0 {
		t.Errorf("develop category not empty: %v", lf.Develop)
	}

	entry, ok := lf.Default["flask"]
	if !ok {
		t.Fatalf("flask missing from %v", lf.Default)
	}
	if entry.Version != "==0.10.1" {
		t.Errorf("flask version = %q", entry.Version)
	}
	if len(entry.Hashes) == 0 {
		t.Error("index pin lost its hashes")
	}
	for name := range lf.Default {
		if name != pylock.CanonicalName(name) {
			t.Errorf("entry key %q not canonical", name)
		}
	}
}

func TestBuildRejectsUnpinned(t *testing.T) {
	res := &pylock.Resolution{
		Resolved: []*pylock.Requirement{pylock.MustParseRequirement("flask>=0.10")},
	}
	if _, err := Build(res, nil, BuildOptions{}); err == nil {
		t.Fatal("unpinned requirement must not lock")
	}
}

func TestBuildLocatorsByShape(t *testing.T) {
	res := &pylock.Resolution{
		Resolved: []*pylock.Requirement{
			pylock.MustParseRequirement("requests==2.8.1"),
			pylock.MustParseRequirement("git+https://github.com/o/r.git@v1.2#egg=repo"),
			pylock.MustParseRequirement("https://files.example.com/pkg-1.0.tar.gz#egg=pkg"),
			pylock.MustParseRequirement("-e ./lib/local"),
		},
	}

	lf, err := Build(res, nil, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if got := lf.Default["repo"]; got.VCSType != "git" || got.Ref != "v1.2" {
		t.Errorf("vcs entry = %+v", got)
	}
	if got := lf.Default["pkg"]; got.File != "https://files.example.com/pkg-1.0.tar.gz" {
		t.Errorf("file entry = %+v", got)
	}
	if got := lf.Default["./lib/local"]; got.Path != "./lib/local" || !got.Editable {
		t.Errorf("path entry = %+v", got)
	}
	if err := lf.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuildFoldsMarkersThroughProvenance(t *testing.T) {
	gatedParent := pylock.MustParseRequirement(`a==1.0; os_name == "posix"`)
	child := pylock.MustParseRequirement("b==2.0")
	child.ComesFrom = []string{"a==1.0"}
	child.Markers = markers.MustParse(`sys_platform == "linux"`)

	res := &pylock.Resolution{Resolved: []*pylock.Requirement{gatedParent, child}}
	lf, err := Build(res, nil, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if got := lf.Default["a"].Markers; got != `os_name == 'posix'` {
		t.Errorf("a markers = %q", got)
	}
	want := `sys_platform == 'linux' and os_name == 'posix'`
	if got := lf.Default["b"].Markers; got != want {
		t.Errorf("b markers = %q, want %q", got, want)
	}
}

func TestBuildUngatedPathShortCircuits(t *testing.T) {
	root := pylock.MustParseRequirement("root==1.0")
	gated := pylock.MustParseRequirement(`a==1.0; os_name == "posix"`)
	child := pylock.MustParseRequirement("b==2.0")
	child.ComesFrom = []string{"a==1.0", "root==1.0"}

	res := &pylock.Resolution{Resolved: []*pylock.Requirement{root, gated, child}}
	lf, err := Build(res, nil, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := lf.Default["b"].Markers; got != "" {
		t.Errorf("b markers = %q, want unconditional", got)
	}
}

func TestBuildGatedParentsDisjoin(t *testing.T) {
	a := pylock.MustParseRequirement(`a==1.0; os_name == "posix"`)
	e := pylock.MustParseRequirement(`e==1.0; python_version < "3"`)
	d := pylock.MustParseRequirement("d==2.0")
	d.ComesFrom = []string{"a==1.0", "e==1.0"}

	res := &pylock.Resolution{Resolved: []*pylock.Requirement{a, e, d}}
	lf, err := Build(res, nil, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := `os_name == 'posix' or python_version < '3'`
	if got := lf.Default["d"].Markers; got != want {
		t.Errorf("d markers = %q, want %q", got, want)
	}
}

func TestBuildProvenanceCycleTerminates(t *testing.T) {
	x := pylock.MustParseRequirement("x==1.0")
	x.ComesFrom = []string{"y==1.0"}
	y := pylock.MustParseRequirement("y==1.0")
	y.ComesFrom = []string{"x==1.0"}

	res := &pylock.Resolution{Resolved: []*pylock.Requirement{x, y}}
	lf, err := Build(res, nil, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if lf.Default["x"].Markers != "" || lf.Default["y"].Markers != "" {
		t.Error("marker-free cycle must stay unconditional")
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	lf, err := Build(flaskResolution(t), nil, BuildOptions{
		Sources: []Source{{Name: "pypi", URL: "https://pypi.org/simple", VerifySSL: true}},
	})
	if err != nil {
		t.Fatal(err)
	}

	first, err := lf.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := lf.Marshal()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("serialization not byte-stable")
		}
	}

	text := string(first)
	meta := strings.Index(text, `"_meta"`)
	def := strings.Index(text, `"default"`)
	dev := strings.Index(text, `"develop"`)
	if !(meta < def && def < dev) {
		t.Error("top-level key order is not _meta, default, develop")
	}
	if strings.Index(text, `"flask"`) > strings.Index(text, `"werkzeug"`) {
		t.Error("package names not sorted")
	}
	if !strings.Contains(text, "    \"default\"") {
		t.Error("expected four-space indentation")
	}
}

func TestMarshalDoesNotEscapeHTML(t *testing.T) {
	lf := New()
	lf.Default["pkg"] = Entry{File: "https://files.example.com/pkg-1.0.tar.gz?a=1&b=2"}
	data, err := lf.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("a=1&b=2")) {
		t.Error("URL ampersand was HTML-escaped")
	}
}

func TestParseRoundTrip(t *testing.T) {
	lf := New()
	lf.Meta.Hash = map[string]string{"sha256": "abc"}
	lf.Meta.Requires = map[string]string{"python_version": "3.7"}
	lf.Meta.Sources = []Source{{Name: "pypi", URL: "https://pypi.org/simple", VerifySSL: true}}
	lf.Default["requests"] = Entry{
		Version: "==2.8.1",
		Hashes:  []string{"sha256:bbb", "sha256:aaa"},
		Markers: `python_version >= '3.6'`,
		Extras:  []string{"socks", "security"},
	}
	lf.Default["repo"] = Entry{
		VCSType:      "git",
		VCSURL:       "https://github.com/o/r.git",
		Ref:          "v1.2",
		Subdirectory: "src",
		Editable:     true,
	}
	lf.Develop["pytest"] = Entry{Version: "==5.2.0"}

	data, err := lf.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}

	if parsed.Meta.PipfileSpec != SpecVersion {
		t.Errorf("PipfileSpec = %d", parsed.Meta.PipfileSpec)
	}
	if len(parsed.Meta.Sources) != 1 || !parsed.Meta.Sources[0].VerifySSL {
		t.Errorf("Sources = %v", parsed.Meta.Sources)
	}

	req := parsed.Default["requests"]
	if req.Version != "==2.8.1" {
		t.Errorf("version = %q", req.Version)
	}
	if len(req.Hashes) != 2 || req.Hashes[0] != "sha256:aaa" {
		t.Errorf("hashes = %v, want sorted", req.Hashes)
	}
	if len(req.Extras) != 2 || req.Extras[0] != "security" {
		t.Errorf("extras = %v, want sorted", req.Extras)
	}

	repo := parsed.Default["repo"]
	if repo.VCSType != "git" || repo.VCSURL != "https://github.com/o/r.git" {
		t.Errorf("vcs = %+v", repo)
	}
	if repo.Ref != "v1.2" || repo.Subdirectory != "src" || !repo.Editable {
		t.Errorf("vcs = %+v", repo)
	}

	if parsed.Develop["pytest"].Version != "==5.2.0" {
		t.Errorf("develop = %v", parsed.Develop)
	}
}

func TestParseIgnoresUnknownEntryKeys(t *testing.T) {
	lf, err := Parse([]byte(`{
		"_meta": {"pipfile-spec": 6},
		"default": {"requests": {"version": "==2.8.1", "someday": true}},
		"develop": {}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if lf.Default["requests"].Version != "==2.8.1" {
		t.Errorf("entry = %+v", lf.Default["requests"])
	}
}

func TestValidateLocatorInvariant(t *testing.T) {
	lf := New()
	lf.Default["broken"] = Entry{}
	if err := lf.Validate(); err == nil {
		t.Error("zero locators must fail validation")
	}

	lf = New()
	lf.Default["broken"] = Entry{Version: "==1.0", Path: "./x"}
	if err := lf.Validate(); err == nil {
		t.Error("two locators must fail validation")
	}
}

func TestCompare(t *testing.T) {
	old := New()
	old.Default["requests"] = Entry{Version: "==2.8.0"}
	old.Default["gone"] = Entry{Version: "==1.0"}
	old.Develop["pytest"] = Entry{Version: "==5.2.0"}

	newer := New()
	newer.Default["requests"] = Entry{Version: "==2.8.1"}
	newer.Default["fresh"] = Entry{Version: "==0.1"}
	newer.Develop["pytest"] = Entry{Version: "==5.2.0"}

	diff := Compare(old, newer)
	if diff.IsEmpty() {
		t.Fatal("diff reported empty")
	}
	if len(diff.Added) != 1 || diff.Added[0] != "default/fresh" {
		t.Errorf("Added = %v", diff.Added)
	}
	if len(diff.Removed) != 1 || diff.Removed[0] != "default/gone" {
		t.Errorf("Removed = %v", diff.Removed)
	}
	if len(diff.Changed) != 1 || diff.Changed[0].Name != "requests" ||
		diff.Changed[0].Old != "==2.8.0" || diff.Changed[0].New != "==2.8.1" {
		t.Errorf("Changed = %v", diff.Changed)
	}

	if !Compare(newer, newer).IsEmpty() {
		t.Error("self-diff must be empty")
	}
}

func TestEntryPinnedVersion(t *testing.T) {
	e := Entry{Version: "==2.8.1"}
	if v, ok := e.PinnedVersion(); !ok || v != "2.8.1" {
		t.Errorf("PinnedVersion = (%q, %v)", v, ok)
	}
	if _, ok := (&Entry{Path: "./x"}).PinnedVersion(); ok {
		t.Error("path entry reported a pinned version")
	}
}
