package pipfile

import (
	"testing"

	"github.com/pydeps/pylock/lockfile"
)

const sampleManifest = `
[[source]]
name = "pypi"
url = "https://pypi.org/simple"
verify_ssl = true

[requires]
python_version = "3.7"

[packages]
requests = { version = ">=2.8.1", extras = ["socks", "security"] }
django = ">=1.11,<2.0"
flask = { git = "https://github.com/pallets/flask.git", ref = "1.0.2" }
archive = { file = "https://files.example.com/pkg-1.0.tar.gz" }
local = { path = ".", editable = true }
records = "*"
unixonly = { version = ">=1.0", os_name = "== 'posix'" }

[dev-packages]
pytest = ">=5.0"
`

func TestParseManifest(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Sources) != 1 {
		t.Fatalf("Sources = %v", m.Sources)
	}
	src := m.Sources[0]
	if src.Name != "pypi" || src.URL != "https://pypi.org/simple" || !src.VerifySSL {
		t.Errorf("source = %+v", src)
	}
	if m.Requires["python_version"] != "3.7" {
		t.Errorf("Requires = %v", m.Requires)
	}

	tests := []struct {
		name  string
		check func(t *testing.T, d Dependency)
	}{
		{"requests", func(t *testing.T, d Dependency) {
			if d.Version != ">=2.8.1" {
				t.Errorf("Version = %q", d.Version)
			}
			if len(d.Extras) != 2 || d.Extras[0] != "security" || d.Extras[1] != "socks" {
				t.Errorf("Extras = %v, want sorted", d.Extras)
			}
		}},
		{"django", func(t *testing.T, d Dependency) {
			if d.Version != ">=1.11,<2.0" {
				t.Errorf("Version = %q", d.Version)
			}
		}},
		{"flask", func(t *testing.T, d Dependency) {
			if d.VCSType != "git" || d.VCSURL != "https://github.com/pallets/flask.git" || d.Ref != "1.0.2" {
				t.Errorf("dep = %+v", d)
			}
		}},
		{"archive", func(t *testing.T, d Dependency) {
			if d.File != "https://files.example.com/pkg-1.0.tar.gz" {
				t.Errorf("File = %q", d.File)
			}
		}},
		{"local", func(t *testing.T, d Dependency) {
			if d.Path != "." || !d.Editable {
				t.Errorf("dep = %+v", d)
			}
		}},
		{"records", func(t *testing.T, d Dependency) {
			if d.Version != "*" {
				t.Errorf("Version = %q", d.Version)
			}
		}},
		{"unixonly", func(t *testing.T, d Dependency) {
			if d.Markers != `os_name == 'posix'` {
				t.Errorf("shorthand marker not folded: %q", d.Markers)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := m.Packages[tt.name]
			if !ok {
				t.Fatalf("%s missing from %v", tt.name, m.Packages)
			}
			tt.check(t, d)
		})
	}

	if _, ok := m.DevPackages["pytest"]; !ok {
		t.Errorf("DevPackages = %v", m.DevPackages)
	}
}

func TestParseManifestRejectsBadEntry(t *testing.T) {
	_, err := Parse([]byte("[packages]\nrequests = 42\n"))
	if err == nil {
		t.Fatal("numeric entry must not parse")
	}
}

func TestRequirements(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}

	reqs, err := m.Requirements(lockfile.CategoryDefault)
	if err != nil {
		t.Fatal(err)
	}

	// Entries come out sorted by name.
	byKey := map[string]string{}
	prev := ""
	for _, req := range reqs {
		if req.Name < prev {
			t.Errorf("requirements out of order: %q after %q", req.Name, prev)
		}
		prev = req.Name
		byKey[req.Key()] = req.String()
	}

	if got := byKey["requests"]; got != "requests[security,socks]>=2.8.1" {
		t.Errorf("requests = %q", got)
	}
	if got := byKey["flask"]; got != "git+https://github.com/pallets/flask.git@1.0.2#egg=flask" {
		t.Errorf("flask = %q", got)
	}
	if got := byKey["records"]; got != "records" {
		t.Errorf("wildcard version must become unconstrained, got %q", got)
	}
	if got := byKey["local"]; got != "-e .#egg=local" {
		t.Errorf("local = %q", got)
	}
	if got := byKey["unixonly"]; got != "unixonly>=1.0; os_name == 'posix'" {
		t.Errorf("unixonly = %q", got)
	}

	dev, err := m.Requirements(lockfile.CategoryDevelop)
	if err != nil {
		t.Fatal(err)
	}
	if len(dev) != 1 || dev[0].String() != "pytest>=5.0" {
		t.Errorf("dev = %v", dev)
	}

	if _, err := m.Requirements("optional"); err == nil {
		t.Error("unknown category must error")
	}
}

func TestHashStableUnderFormatting(t *testing.T) {
	a, err := Parse([]byte("[packages]\nrequests = \">=2.8.1\"\ndjango = \"*\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse([]byte("\n\n[packages]\n\ndjango   =   \"*\"\nrequests = \">=2.8.1\"   \n"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash() != b.Hash() {
		t.Error("hash changed under formatting-only edits")
	}

	c, err := Parse([]byte("[packages]\nrequests = \">=2.9\"\ndjango = \"*\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash() == c.Hash() {
		t.Error("hash must change when a constraint changes")
	}
}

func TestLockOptions(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	opts := m.LockOptions()
	if opts.ManifestHash != m.Hash() {
		t.Error("ManifestHash must match the manifest hash")
	}
	if len(opts.Sources) != 1 || opts.Requires["python_version"] != "3.7" {
		t.Errorf("opts = %+v", opts)
	}
}
