package pylock

import (
	"errors"
	"testing"
)

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		input string
		check func(t *testing.T, r *Requirement)
	}{
		{
			input: "requests",
			check: func(t *testing.T, r *Requirement) {
				if r.Name != "requests" || !r.Specifier.Empty() {
					t.Errorf("got %+v", r)
				}
			},
		},
		{
			input: `requests[security,socks]>=2.8.1,==2.8.*; python_version < "2.7"`,
			check: func(t *testing.T, r *Requirement) {
				if r.Name != "requests" {
					t.Errorf("Name = %q", r.Name)
				}
				if len(r.Extras) != 2 || r.Extras[0] != "security" || r.Extras[1] != "socks" {
					t.Errorf("Extras = %v", r.Extras)
				}
				if got := r.Specifier.String(); got != "==2.8.*,>=2.8.1" {
					t.Errorf("Specifier = %q", got)
				}
				if r.Markers == nil || r.Markers.String() != `python_version < '2.7'` {
					t.Errorf("Markers = %v", r.Markers)
				}
			},
		},
		{
			input: "Django>=1.4.2,<1.9",
			check: func(t *testing.T, r *Requirement) {
				if r.Key() != "django" {
					t.Errorf("Key = %q", r.Key())
				}
			},
		},
		{
			input: "git+https://github.com/pallets/flask.git@1.0.2#egg=flask&subdirectory=src",
			check: func(t *testing.T, r *Requirement) {
				if r.VCS == nil {
					t.Fatal("VCS = nil")
				}
				if r.VCS.Type != "git" || r.VCS.URL != "https://github.com/pallets/flask.git" {
					t.Errorf("VCS = %+v", r.VCS)
				}
				if r.VCS.Ref != "1.0.2" || r.VCS.Subdirectory != "src" {
					t.Errorf("VCS = %+v", r.VCS)
				}
				if r.Name != "flask" {
					t.Errorf("Name = %q", r.Name)
				}
				if !r.IsPinned() {
					t.Error("VCS requirement must count as pinned")
				}
			},
		},
		{
			input: "git+ssh://git@github.com/owner/repo.git@main#egg=repo",
			check: func(t *testing.T, r *Requirement) {
				if r.VCS.URL != "ssh://git@github.com/owner/repo.git" || r.VCS.Ref != "main" {
					t.Errorf("user@host URL mangled: %+v", r.VCS)
				}
			},
		},
		{
			input: "https://files.example.com/requests-2.8.1.tar.gz",
			check: func(t *testing.T, r *Requirement) {
				if r.URL == "" || r.Name != "requests" {
					t.Errorf("archive name not recovered: %+v", r)
				}
			},
		},
		{
			input: "-e ./lib/local-package",
			check: func(t *testing.T, r *Requirement) {
				if !r.Editable || r.Path != "./lib/local-package" {
					t.Errorf("got %+v", r)
				}
			},
		},
		{
			input: "./vendored/thing/",
			check: func(t *testing.T, r *Requirement) {
				if r.Path != "./vendored/thing" {
					t.Errorf("Path = %q, want trailing slash trimmed", r.Path)
				}
			},
		},
		{
			input: `https://files.example.com/dl;v=2/pkg-1.0.tar.gz#egg=pkg; python_version < "3.8"`,
			check: func(t *testing.T, r *Requirement) {
				if r.URL != "https://files.example.com/dl;v=2/pkg-1.0.tar.gz" {
					t.Errorf("URL semicolon eaten: %q", r.URL)
				}
				if r.Name != "pkg" {
					t.Errorf("Name = %q", r.Name)
				}
				if r.Markers == nil || r.Markers.String() != `python_version < '3.8'` {
					t.Errorf("Markers = %v", r.Markers)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			r, err := ParseRequirement(tt.input)
			if err != nil {
				t.Fatalf("ParseRequirement(%q): %v", tt.input, err)
			}
			tt.check(t, r)
		})
	}
}

func TestParseRequirementErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"   ",
		"==1.0",
		"requests[security",
		"requests>=abc",
		"-e https://files.example.com/requests-2.8.1.tar.gz", // editable needs VCS or path
	} {
		_, err := ParseRequirement(input)
		if err == nil {
			t.Errorf("ParseRequirement(%q) succeeded, want error", input)
			continue
		}
		var malformed *MalformedRequirementError
		if !errors.As(err, &malformed) {
			t.Errorf("ParseRequirement(%q) error type %T", input, err)
		}
	}
}

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Django", "django"},
		{"zope.interface", "zope-interface"},
		{"ruamel_yaml", "ruamel-yaml"},
		{"A__b.c--d", "a-b-c-d"},
	}
	for _, tt := range tests {
		if got := CanonicalName(tt.input); got != tt.want {
			t.Errorf("CanonicalName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRequirementKeyForNamelessURL(t *testing.T) {
	a := MustParseRequirement("https://files.example.com/pkg-1.0.tar.gz#egg=pkg")
	b := MustParseRequirement("HTTPS://FILES.EXAMPLE.COM/pkg-1.0.tar.gz#egg=pkg")
	if a.Key() != "pkg" || b.Key() != "pkg" {
		t.Errorf("egg fragment should name the requirement: %q / %q", a.Key(), b.Key())
	}

	// A URL with no recoverable name falls back to a location key, so
	// identical URLs still merge.
	c := MustParseRequirement("https://files.example.com/download")
	d := MustParseRequirement("HTTPS://files.example.com/download")
	if c.Key() == "" || c.Key() != d.Key() {
		t.Errorf("location keys differ: %q vs %q", c.Key(), d.Key())
	}
}

func TestRequirementString(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"requests[socks,security]>=2.8.1", "requests[security,socks]>=2.8.1"},
		{"-e git+https://github.com/o/r.git@v1#egg=r", "-e git+https://github.com/o/r.git@v1#egg=r"},
		{`django; os_name == "posix"`, "django; os_name == 'posix'"},
	}
	for _, tt := range tests {
		if got := MustParseRequirement(tt.input).String(); got != tt.want {
			t.Errorf("String(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSummaryIgnoresMarkersAndProvenance(t *testing.T) {
	a := MustParseRequirement(`six>=1.10; python_version < "3"`)
	b := MustParseRequirement("six>=1.10")
	b.ComesFrom = []string{"requests==2.8.1"}

	if a.Summarize() != b.Summarize() {
		t.Errorf("summaries differ: %v vs %v", a.Summarize(), b.Summarize())
	}

	c := MustParseRequirement("six>=1.11")
	if a.Summarize() == c.Summarize() {
		t.Error("different specifiers must summarize differently")
	}
}

func TestComesFromDisplay(t *testing.T) {
	r := MustParseRequirement("six>=1.10")
	r.ComesFrom = []string{"requests==2.8.1", "pip-tools==1.0", "mock==2.0"}
	if got := r.ComesFromDisplay(); got != "mock==2.0" {
		t.Errorf("ComesFromDisplay = %q, want shortest entry", got)
	}
}

func TestPinnedVersion(t *testing.T) {
	r := MustParseRequirement("requests==2.8.1")
	if v, ok := r.PinnedVersion(); !ok || v != "2.8.1" {
		t.Errorf("PinnedVersion = (%q, %v)", v, ok)
	}
	if _, ok := MustParseRequirement("requests>=2.8.1").PinnedVersion(); ok {
		t.Error("range requirement reported as pinned")
	}
	if _, ok := MustParseRequirement("requests==2.8.*").PinnedVersion(); ok {
		t.Error("wildcard requirement reported as pinned")
	}
}
