package pylock

import (
	"sort"

	"github.com/pydeps/pylock/markers"
)

// MergeRequirements groups requirements by canonical key and combines each
// group into one requirement per package:
//
//	Django<1.9,>=1.4.2
//	django~=1.5
//	Flask~=0.7
//
// becomes
//
//	django~=1.5,<1.9,>=1.4.2
//	flask~=0.7
//
// Combination rules:
//   - An editable requirement wins its whole group; the other members only
//     contribute provenance (the editable identity is the one that counts).
//   - Specifiers are intersected, extras unioned. Markers union: the
//     merged requirement applies wherever any member applies, so a
//     marker-less member makes the group unconditional.
//   - A group is a constraint only if every member is: one real
//     requirement promotes the group.
//   - VCS/URL/path requirements merge only with byte-identical normalized
//     locations; anything else is a SourceConflictError.
//
// The result is deterministic for any input permutation: groups are
// processed in key order and members are ordered editables-first, then by
// their rendered form. Structural equality of two merges therefore implies
// byte equality, which is what round-over-round convergence detection
// relies on.
func MergeRequirements(reqs []*Requirement) ([]*Requirement, error) {
	groups := make(map[string][]*Requirement)
	keys := make([]string, 0, len(reqs))
	for _, req := range reqs {
		key := req.Key()
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], req)
	}
	sort.Strings(keys)

	merged := make([]*Requirement, 0, len(keys))
	for _, key := range keys {
		combined, err := mergeGroup(key, groups[key])
		if err != nil {
			return nil, err
		}
		merged = append(merged, combined)
	}
	return merged, nil
}

func mergeGroup(key string, group []*Requirement) (*Requirement, error) {
	sort.SliceStable(group, func(i, j int) bool {
		if group[i].Editable != group[j].Editable {
			return group[i].Editable
		}
		return group[i].String() < group[j].String()
	})

	combined := group[0].Clone()

	for _, req := range group[1:] {
		if combined.Editable {
			// The editable entry's identity wins; fold provenance only.
			combined.ComesFrom = append(combined.ComesFrom, req.ComesFrom...)
			combined.Constraint = combined.Constraint && req.Constraint
			continue
		}

		if combined.HasLocation() || req.HasLocation() {
			if combined.location() != req.location() {
				return nil, &SourceConflictError{
					Key:     key,
					SourceA: displayLocation(combined),
					SourceB: displayLocation(req),
				}
			}
		}

		combined.Specifier = combined.Specifier.Intersect(req.Specifier)
		combined.Extras = sortExtras(append(combined.Extras, req.Extras...))
		combined.Constraint = combined.Constraint && req.Constraint
		combined.Markers = unionMarkers(combined, req)
		combined.ComesFrom = append(combined.ComesFrom, req.ComesFrom...)
		if combined.Index == "" {
			combined.Index = req.Index
		}
	}

	combined.ComesFrom = dedupStrings(combined.ComesFrom)
	return combined, nil
}

func displayLocation(r *Requirement) string {
	if loc := r.location(); loc != "" {
		return loc
	}
	return "index:" + r.Specifier.String()
}

// unionMarkers merges the applicability of two group members. A nil
// marker means "everywhere", so either side being nil makes the merged
// requirement unconditional; two differing markers disjoin.
func unionMarkers(acc, req *Requirement) *markers.Marker {
	if acc.Markers == nil || req.Markers == nil {
		return nil
	}
	if req.Markers.String() == acc.Markers.String() {
		return acc.Markers
	}
	return markers.Or(acc.Markers, req.Markers)
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:0]
	prev := ""
	for _, s := range in {
		if s == "" || s == prev {
			continue
		}
		out = append(out, s)
		prev = s
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
