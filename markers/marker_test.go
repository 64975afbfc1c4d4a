package markers

import (
	"testing"
)

func TestParseNormalizes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`python_version < "2.7"`, `python_version < '2.7'`},
		{`os_name=='posix'`, `os_name == 'posix'`},
		{`python_version < "2.7" and os_name == "posix"`,
			`python_version < '2.7' and os_name == 'posix'`},
		{`python_version < "2.7" or os_name == "posix" and sys_platform == "linux"`,
			`python_version < '2.7' or (os_name == 'posix' and sys_platform == 'linux')`},
		{`(python_version < "2.7" or os_name == "nt") and sys_platform == "linux"`,
			`(python_version < '2.7' or os_name == 'nt') and sys_platform == 'linux'`},
		{`"linux" in sys_platform`, `'linux' in sys_platform`},
		{`extra == "security"`, `extra == 'security'`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			m, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			if got := m.String(); got != tt.want {
				t.Errorf("Parse(%q).String() = %q, want %q", tt.input, got, tt.want)
			}
			// Normalized output must be a fixed point.
			again, err := Parse(m.String())
			if err != nil {
				t.Fatalf("reparse %q: %v", m.String(), err)
			}
			if again.String() != m.String() {
				t.Errorf("normalization unstable: %q -> %q", m.String(), again.String())
			}
		})
	}
}

func TestParseEmptyIsNil(t *testing.T) {
	m, err := Parse("   ")
	if err != nil {
		t.Fatalf("Parse blank: %v", err)
	}
	if m != nil {
		t.Fatalf("Parse blank = %v, want nil", m)
	}
	if !m.Eval(DefaultEnvironment()) {
		t.Error("nil marker must be vacuously true")
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		`python_version <`,
		`== "2.7"`,
		`python_version < "2.7" and`,
		`(python_version < "2.7"`,
		`python_version < "2.7" trailing`,
	} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", input)
		}
	}
}

func TestEval(t *testing.T) {
	env := Environment{
		"python_version": "3.7",
		"os_name":        "posix",
		"sys_platform":   "linux",
	}

	tests := []struct {
		marker string
		want   bool
	}{
		{`python_version >= "3.6"`, true},
		{`python_version < "3.0"`, false},
		// Version ordering, not string ordering: 3.10 > 3.9
		{`python_version >= "2.7"`, true},
		{`os_name == "posix" and sys_platform == "linux"`, true},
		{`os_name == "nt" or sys_platform == "linux"`, true},
		{`os_name == "nt" and sys_platform == "linux"`, false},
		{`"inux" in sys_platform`, true},
		{`"win" not in sys_platform`, true},
		// Unknown variables never satisfy a comparison
		{`extra == "security"`, false},
		{`platform_machine == "x86_64"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.marker, func(t *testing.T) {
			if got := MustParse(tt.marker).Eval(env); got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.marker, got, tt.want)
			}
		})
	}
}

func TestEvalUsesVersionOrdering(t *testing.T) {
	env := Environment{"python_version": "3.10"}
	if !MustParse(`python_version >= "3.9"`).Eval(env) {
		t.Error(`"3.10" must order above "3.9" under version comparison`)
	}
}

func TestEvalWithExtra(t *testing.T) {
	m := MustParse(`extra == "security"`)
	env := DefaultEnvironment()
	if m.Eval(env) {
		t.Error("extra marker must not match without an extra bound")
	}
	if !m.Eval(env.WithExtra("security")) {
		t.Error("extra marker must match its own extra")
	}
	if m.Eval(env.WithExtra("socks")) {
		t.Error("extra marker must not match a different extra")
	}
}

func TestAndOr(t *testing.T) {
	a := MustParse(`os_name == 'posix'`)
	b := MustParse(`python_version < '2.7'`)

	if got := And(a, b).String(); got != `os_name == 'posix' and python_version < '2.7'` {
		t.Errorf("And rendered %q", got)
	}
	if got := Or(a, b).String(); got != `os_name == 'posix' or python_version < '2.7'` {
		t.Errorf("Or rendered %q", got)
	}

	// nil sides are identities
	if got := And(nil, a); got != a {
		t.Errorf("And(nil, a) = %v, want a", got)
	}
	if got := Or(a, nil); got != a {
		t.Errorf("Or(a, nil) = %v, want a", got)
	}
	// Equal texts collapse
	if got := And(a, MustParse(`os_name == "posix"`)); got.String() != a.String() {
		t.Errorf("And of equal markers rendered %q", got.String())
	}
}

func TestReferences(t *testing.T) {
	m := MustParse(`python_version < "3.0" and extra == "security"`)
	if !m.References("extra") {
		t.Error("References(extra) = false, want true")
	}
	if !m.References("python_version") {
		t.Error("References(python_version) = false, want true")
	}
	if m.References("os_name") {
		t.Error("References(os_name) = true, want false")
	}
	var nilMarker *Marker
	if nilMarker.References("extra") {
		t.Error("nil marker must reference nothing")
	}
}
