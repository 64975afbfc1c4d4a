package markers

import (
	"sort"
	"strings"
)

// Translate folds manifest shorthand marker keys into one normalized marker
// string.
//
// A manifest entry may carry markers under the "markers" key or as bare
// marker-variable keys:
//
//	{"os_name": "== 'posix'", "markers": "python_version >= '3.6'"}
//
// Every shorthand key becomes a "<key> <expr>" clause. Clauses are
// de-duplicated, sorted and joined with "and": each key of an entry
// narrows where it applies, so all of them must hold together. A clause
// that already contains a boolean operator keeps its grouping. The result
// is deterministic for any key order.
//
// The input map is not modified. The returned map has all shorthand keys
// removed and, when any marker survived, a single "markers" key. Marker
// strings mentioning "extra" are dropped: extras are modeled structurally,
// not as markers.
func Translate(entry map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(entry))
	clauses := make(map[string]bool)

	for key, value := range entry {
		switch {
		case key == "markers":
			m, err := Parse(value)
			if err != nil {
				return nil, err
			}
			if m != nil && !m.References("extra") {
				clauses[m.String()] = true
			}
		case IsVariable(key):
			m, err := Parse(key + " " + value)
			if err != nil {
				return nil, err
			}
			if m != nil {
				clauses[m.String()] = true
			}
		default:
			out[key] = value
		}
	}

	if len(clauses) == 0 {
		return out, nil
	}

	sorted := make([]string, 0, len(clauses))
	for clause := range clauses {
		sorted = append(sorted, clause)
	}
	sort.Strings(sorted)

	parts := make([]string, len(sorted))
	for i, clause := range sorted {
		if strings.Contains(clause, " and ") || strings.Contains(clause, " or ") {
			parts[i] = "(" + clause + ")"
		} else {
			parts[i] = clause
		}
	}
	joined := strings.Join(parts, " and ")

	// Re-parse to normalize the combined expression.
	normalized, err := Parse(joined)
	if err != nil {
		return nil, err
	}
	out["markers"] = normalized.String()
	return out, nil
}
