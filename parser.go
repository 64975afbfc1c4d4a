package pylock

import (
	"regexp"
	"strings"

	"github.com/pydeps/pylock/markers"
	"github.com/pydeps/pylock/pep440"
)

// vcsSchemes maps URL scheme prefixes to VCS types.
var vcsSchemes = map[string]string{
	"git": "git",
	"hg":  "hg",
	"svn": "svn",
	"bzr": "bzr",
}

// nameRe matches a package name at the start of a requirement line
// (PEP 508 identifier).
var nameRe = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)`)

// ParseRequirement parses a single requirement line in any of the supported
// shapes:
//
//	requests
//	requests[security]>=2.8.1,==2.8.*; python_version < "2.7"
//	git+https://github.com/owner/repo.git@v1.2#egg=name
//	https://files.example.com/pkg-1.0.tar.gz#egg=pkg
//	-e ./lib/local-package
//	./vendored/thing
//
// A MalformedRequirementError is returned when the line cannot be parsed.
// A URL requirement with no determinable name still parses: its merge key
// falls back to the normalized location until metadata supplies a name.
func ParseRequirement(line string) (*Requirement, error) {
	text := strings.TrimSpace(line)
	if text == "" {
		return nil, &MalformedRequirementError{Input: line, Reason: "empty requirement"}
	}

	editable := false
	if rest, ok := strings.CutPrefix(text, "-e "); ok {
		editable = true
		text = strings.TrimSpace(rest)
	} else if rest, ok := strings.CutPrefix(text, "--editable "); ok {
		editable = true
		text = strings.TrimSpace(rest)
	}

	// Split trailing environment markers. For URL forms a marker separator
	// must be "; " to avoid eating URL semicolons; plain names cannot
	// contain ";" at all.
	text, markerText := splitMarkers(text)
	var marker *markers.Marker
	if markerText != "" {
		m, err := markers.Parse(markerText)
		if err != nil {
			return nil, &MalformedRequirementError{Input: line, Reason: err.Error()}
		}
		marker = m
	}

	req, err := parseBody(line, text)
	if err != nil {
		return nil, err
	}
	req.Editable = editable
	req.Markers = marker

	if req.Editable && req.URL != "" && req.VCS == nil {
		return nil, &MalformedRequirementError{Input: line, Reason: "editable is only valid for VCS and local-path sources"}
	}
	if req.Key() == "" {
		return nil, &MalformedRequirementError{Input: line, Reason: "cannot determine a name"}
	}
	return req, nil
}

// MustParseRequirement parses a requirement line and panics on error. For
// tests and examples only.
func MustParseRequirement(line string) *Requirement {
	r, err := ParseRequirement(line)
	if err != nil {
		panic(err)
	}
	return r
}

// splitMarkers separates a trailing environment marker. URL and path
// bodies may legitimately contain ";", so they only split on "; "; plain
// name forms cannot contain ";" and split on the bare separator.
func splitMarkers(text string) (body, marker string) {
	sep := ";"
	if strings.Contains(text, "://") || isPathRequirement(text) {
		sep = "; "
	}
	idx := strings.Index(text, sep)
	if idx < 0 {
		return text, ""
	}
	return strings.TrimSpace(text[:idx]), strings.TrimSpace(text[idx+len(sep):])
}

func parseBody(line, text string) (*Requirement, error) {
	if scheme, rest, ok := strings.Cut(text, "+"); ok {
		if vcsType, isVCS := vcsSchemes[scheme]; isVCS && strings.Contains(rest, "://") {
			return parseVCS(line, vcsType, rest)
		}
	}

	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") ||
		strings.HasPrefix(text, "file://") {
		return parseURL(line, text)
	}

	if isPathRequirement(text) {
		return &Requirement{Path: normalizePath(text)}, nil
	}

	return parseNamed(line, text)
}

// parseVCS parses "<vcs>+<url>[@ref][#egg=name[&subdirectory=dir]]".
func parseVCS(line, vcsType, rest string) (*Requirement, error) {
	url, fragment := cutFragment(rest)

	ref := ""
	// The ref is the last "@" after the scheme's "://", so user@host URLs
	// survive.
	if slash := strings.Index(url, "://"); slash >= 0 {
		if at := strings.LastIndex(url[slash+3:], "@"); at >= 0 {
			tail := url[slash+3+at:]
			if !strings.Contains(tail, "/") {
				ref = strings.TrimPrefix(tail, "@")
				url = url[:slash+3+at]
			}
		}
	}

	name, subdir := parseFragment(fragment)
	req := &Requirement{
		Name: name,
		VCS:  &VCSSource{Type: vcsType, URL: url, Ref: ref, Subdirectory: subdir},
	}
	return req, nil
}

func parseURL(line, text string) (*Requirement, error) {
	url, fragment := cutFragment(text)
	name, _ := parseFragment(fragment)
	if name == "" {
		name = nameFromArchiveURL(url)
	}
	return &Requirement{Name: name, URL: url}, nil
}

func cutFragment(s string) (body, fragment string) {
	if idx := strings.Index(s, "#"); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// parseFragment extracts egg and subdirectory values from a URL fragment.
func parseFragment(fragment string) (egg, subdirectory string) {
	for _, part := range strings.Split(fragment, "&") {
		if v, ok := strings.CutPrefix(part, "egg="); ok {
			egg = v
		}
		if v, ok := strings.CutPrefix(part, "subdirectory="); ok {
			subdirectory = v
		}
	}
	return egg, subdirectory
}

// nameFromArchiveURL guesses a distribution name from an archive filename
// such as ".../requests-2.8.1.tar.gz". Empty when no guess is safe.
var archiveNameRe = regexp.MustCompile(`([A-Za-z0-9][A-Za-z0-9._-]*?)-[0-9][^/-]*?(?:\.tar\.gz|\.tar\.bz2|\.zip|\.whl)$`)

func nameFromArchiveURL(url string) string {
	base := url
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	m := archiveNameRe.FindStringSubmatch(base)
	if m == nil {
		return ""
	}
	return m[1]
}

func isPathRequirement(text string) bool {
	return text == "." || strings.HasPrefix(text, "./") || strings.HasPrefix(text, "../") ||
		strings.HasPrefix(text, "/") || strings.HasPrefix(text, "~/")
}

func normalizePath(p string) string {
	return strings.TrimSuffix(p, "/")
}

// parseNamed parses "name[extras]specifier" requirement bodies.
func parseNamed(line, text string) (*Requirement, error) {
	m := nameRe.FindString(text)
	if m == "" {
		return nil, &MalformedRequirementError{Input: line, Reason: "expected a package name"}
	}
	rest := strings.TrimSpace(text[len(m):])

	req := &Requirement{Name: m}

	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return nil, &MalformedRequirementError{Input: line, Reason: "unterminated extras list"}
		}
		extras := strings.Split(rest[1:end], ",")
		for i, extra := range extras {
			extras[i] = strings.TrimSpace(extra)
		}
		req.Extras = sortExtras(extras)
		rest = strings.TrimSpace(rest[end+1:])
	}

	if rest != "" {
		spec, err := pep440.ParseSpecifierSet(rest)
		if err != nil {
			return nil, &MalformedRequirementError{Input: line, Reason: err.Error()}
		}
		req.Specifier = spec
	}

	return req, nil
}
