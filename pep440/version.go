// Package pep440 implements Python version parsing, ordering and version
// specifiers as defined by the PEP 440 versioning specification.
//
// Reference: https://peps.python.org/pep-0440/
//
// Version format: [N!]N(.N)*[{a|b|rc}N][.postN][.devN][+local]
//   - EPOCH: optional "N!" prefix, defaults to 0
//   - RELEASE: dot-separated numeric segments
//   - PRE: optional pre-release segment (a, b or rc)
//   - POST: optional post-release segment
//   - DEV: optional development-release segment
//   - LOCAL: ignored for public ordering beyond equality
//
// Ordering within one release number: .devN < aN < bN < rcN < final < .postN.
package pep440

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// versionPattern accepts the canonical PEP 440 form plus the normalizable
// spellings the index actually serves (alpha/beta/c/pre/preview, post/rev/r,
// optional separators).
var versionPattern = regexp.MustCompile(
	`^v?` +
		`(?:(?P<epoch>[0-9]+)!)?` +
		`(?P<release>[0-9]+(?:\.[0-9]+)*)` +
		`(?:[-_.]?(?P<pre_l>a|b|c|rc|alpha|beta|pre|preview)[-_.]?(?P<pre_n>[0-9]+)?)?` +
		`(?:(?:-(?P<post_n1>[0-9]+))|(?:[-_.]?(?P<post_l>post|rev|r)[-_.]?(?P<post_n2>[0-9]+)?))?` +
		`(?:[-_.]?(?P<dev_l>dev)[-_.]?(?P<dev_n>[0-9]+)?)?` +
		`(?:\+(?P<local>[a-z0-9]+(?:[-_.][a-z0-9]+)*))?$`,
)

// Version is a parsed PEP 440 version. The zero value is not meaningful;
// use Parse or MustParse.
type Version struct {
	// Epoch is the version epoch ("N!" prefix). Almost always 0.
	Epoch int

	// Release holds the numeric release segments ("1.2.3" -> [1, 2, 3]).
	Release []int

	// Pre is the pre-release segment, nil for final releases.
	Pre *Segment

	// Post is the post-release segment, nil if absent.
	Post *Segment

	// Dev is the development-release segment, nil if absent.
	Dev *Segment

	// Local is the local version label after "+", empty if absent.
	Local string

	original string
}

// Segment is a lettered, numbered version segment such as "rc1" or "post2".
type Segment struct {
	Letter string
	Number int
}

// ParseError is returned when a version string cannot be parsed.
type ParseError struct {
	Version string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Version, e.Message)
}

// normalizePreLetter maps the alternate pre-release spellings onto the
// canonical ones (PEP 440 "Pre-release spelling").
func normalizePreLetter(letter string) string {
	switch letter {
	case "alpha":
		return "a"
	case "beta":
		return "b"
	case "c", "pre", "preview":
		return "rc"
	}
	return letter
}

// Parse parses a version string. Surrounding whitespace is ignored and the
// comparison is case-insensitive per PEP 440.
func Parse(s string) (*Version, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return nil, &ParseError{Version: s, Message: "empty version string"}
	}

	match := versionPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return nil, &ParseError{Version: s, Message: "does not match PEP 440 version pattern"}
	}

	groups := make(map[string]string)
	for i, name := range versionPattern.SubexpNames() {
		if name != "" {
			groups[name] = match[i]
		}
	}

	v := &Version{original: strings.TrimSpace(s)}

	if groups["epoch"] != "" {
		epoch, err := strconv.Atoi(groups["epoch"])
		if err != nil {
			return nil, &ParseError{Version: s, Message: "epoch overflow"}
		}
		v.Epoch = epoch
	}

	for _, part := range strings.Split(groups["release"], ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, &ParseError{Version: s, Message: "release segment overflow"}
		}
		v.Release = append(v.Release, n)
	}

	if groups["pre_l"] != "" {
		v.Pre = &Segment{
			Letter: normalizePreLetter(groups["pre_l"]),
			Number: atoiOrZero(groups["pre_n"]),
		}
	}

	if groups["post_n1"] != "" {
		v.Post = &Segment{Letter: "post", Number: atoiOrZero(groups["post_n1"])}
	} else if groups["post_l"] != "" {
		v.Post = &Segment{Letter: "post", Number: atoiOrZero(groups["post_n2"])}
	}

	if groups["dev_l"] != "" {
		// The dev number may legitimately be empty ("1.0.dev").
		v.Dev = &Segment{Letter: "dev", Number: atoiOrZero(groups["dev_n"])}
	}

	v.Local = groups["local"]

	return v, nil
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// MustParse parses a version string and panics on error. For tests and
// constants only.
func MustParse(s string) *Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsPrerelease reports whether the version is a pre-release or a
// development release. Both are excluded by default during candidate
// selection.
func (v *Version) IsPrerelease() bool {
	return v.Pre != nil || v.Dev != nil
}

// IsPostrelease reports whether the version carries a post-release segment.
func (v *Version) IsPostrelease() bool {
	return v.Post != nil
}

// String returns the normalized form of the version.
func (v *Version) String() string {
	var sb strings.Builder

	if v.Epoch != 0 {
		fmt.Fprintf(&sb, "%d!", v.Epoch)
	}

	for i, n := range v.Release {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(n))
	}

	if v.Pre != nil {
		sb.WriteString(v.Pre.Letter)
		sb.WriteString(strconv.Itoa(v.Pre.Number))
	}
	if v.Post != nil {
		sb.WriteString(".post")
		sb.WriteString(strconv.Itoa(v.Post.Number))
	}
	if v.Dev != nil {
		sb.WriteString(".dev")
		sb.WriteString(strconv.Itoa(v.Dev.Number))
	}
	if v.Local != "" {
		sb.WriteByte('+')
		sb.WriteString(normalizeLocal(v.Local))
	}

	return sb.String()
}

// Original returns the version string as it was given to Parse.
func (v *Version) Original() string {
	return v.original
}

// normalizeLocal rewrites local label separators to dots per PEP 440.
func normalizeLocal(local string) string {
	return strings.NewReplacer("-", ".", "_", ".").Replace(local)
}

// Compare returns -1, 0 or 1 ordering a against b per PEP 440.
//
// The ordering key per release number is: dev < pre < final < post.
// Local labels break ties segment-wise (numeric segments before
// alphanumeric, mirroring the PEP 440 local ordering rules).
func Compare(a, b *Version) int {
	if c := cmpInt(a.Epoch, b.Epoch); c != 0 {
		return c
	}
	if c := compareRelease(a.Release, b.Release); c != 0 {
		return c
	}
	if c := comparePre(a, b); c != 0 {
		return c
	}
	if c := compareSegment(a.Post, b.Post, false); c != 0 {
		return c
	}
	if c := compareSegment(a.Dev, b.Dev, true); c != 0 {
		return c
	}
	return compareLocal(a.Local, b.Local)
}

// compareRelease compares release tuples, padding the shorter with zeros
// ("1.0" == "1.0.0").
func compareRelease(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if c := cmpInt(av, bv); c != 0 {
			return c
		}
	}
	return 0
}

// comparePre orders pre-release segments: a < b < rc < (absent).
//
// A version with neither pre nor post segment but a dev segment (1.0.dev1)
// sorts before every pre-release of the same release number, so its pre
// rank is negative infinity. A plain final release ranks above all
// pre-releases: positive infinity.
func comparePre(a, b *Version) int {
	ar, br := preRank(a), preRank(b)
	if c := cmpInt(ar, br); c != 0 {
		return c
	}
	if ar != 0 {
		return 0
	}
	if c := strings.Compare(a.Pre.Letter, b.Pre.Letter); c != 0 {
		return c
	}
	return cmpInt(a.Pre.Number, b.Pre.Number)
}

func preRank(v *Version) int {
	if v.Pre != nil {
		return 0
	}
	if v.Post == nil && v.Dev != nil {
		return -1
	}
	return 1
}

// compareSegment compares optional segments. When absentWins is true the
// version lacking the segment sorts higher (dev releases sort below their
// final release); otherwise it sorts lower (post releases sort above).
func compareSegment(a, b *Segment, absentWins bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		if absentWins {
			return 1
		}
		return -1
	case b == nil:
		if absentWins {
			return -1
		}
		return 1
	}
	return cmpInt(a.Number, b.Number)
}

// compareLocal orders local version labels: absent sorts below present,
// then segment-wise with numeric segments ordered before alphanumeric.
func compareLocal(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}

	as := strings.FieldsFunc(normalizeLocal(a), func(r rune) bool { return r == '.' })
	bs := strings.FieldsFunc(normalizeLocal(b), func(r rune) bool { return r == '.' })
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aErr := strconv.Atoi(as[i])
		bn, bErr := strconv.Atoi(bs[i])
		aIsNum, bIsNum := aErr == nil, bErr == nil
		switch {
		case aIsNum && bIsNum:
			if c := cmpInt(an, bn); c != 0 {
				return c
			}
		case aIsNum:
			return 1 // numeric segments sort after alphanumeric per PEP 440
		case bIsNum:
			return -1
		default:
			if c := strings.Compare(as[i], bs[i]); c != 0 {
				return c
			}
		}
	}
	return cmpInt(len(as), len(bs))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Equal reports whether two versions are equal under PEP 440 ordering.
func Equal(a, b *Version) bool {
	return Compare(a, b) == 0
}

// Max returns the greater of two versions.
func Max(a, b *Version) *Version {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}
