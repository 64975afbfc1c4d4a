package markers

import "sort"

// Environment supplies values for marker variables during evaluation.
// Variables absent from the map are treated as unknown and fail any
// comparison they appear in; "extra" is the usual example when no extra is
// in play.
type Environment map[string]string

// Lookup returns the value for a marker variable and whether it is set.
func (e Environment) Lookup(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	v, ok := e[name]
	return v, ok
}

// WithExtra returns a copy of the environment with "extra" set, for
// evaluating markers of extras-conditional dependencies.
func (e Environment) WithExtra(extra string) Environment {
	out := make(Environment, len(e)+1)
	for k, v := range e {
		out[k] = v
	}
	out["extra"] = extra
	return out
}

// Variables returns the environment's variable names, sorted.
func (e Environment) Variables() []string {
	names := make([]string, 0, len(e))
	for k := range e {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DefaultEnvironment returns a representative CPython-on-Linux environment.
// Callers locking for a specific interpreter should construct their own.
func DefaultEnvironment() Environment {
	return Environment{
		"python_version":                 "3.7",
		"python_full_version":            "3.7.3",
		"os_name":                        "posix",
		"sys_platform":                   "linux",
		"platform_system":                "Linux",
		"platform_machine":               "x86_64",
		"platform_python_implementation": "CPython",
		"implementation_name":            "cpython",
		"implementation_version":         "3.7.3",
	}
}
