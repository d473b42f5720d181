// Package pathmodel normalizes and glob-matches partition-relative
// paths. It generalizes the teacher's filesystem glob engine
// (www.velocidex.com/golang/velociraptor/glob) from walking a live host
// filesystem to walking the entry tree the Image Backend Adapter
// surfaces for a single partition: same fnmatch-style translation of
// `*`, `?` and `[...]`, but matched segment-by-segment against entries
// that come from an external mmls/fls process rather than os.ReadDir.
package pathmodel

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Segment is one normalized path component. Literal segments compare by
// name (case rule applied by the caller); glob segments compare via a
// pair of pre-compiled regexps translated from the shell pattern, one
// case-sensitive and one folded, since case sensitivity is a run-wide
// setting chosen at match time, not at parse time.
type Segment struct {
	Raw    string
	IsGlob bool
	reCS   *regexp.Regexp
	reCI   *regexp.Regexp
}

// PathPattern is a normalized, partition-relative sequence of segments.
type PathPattern struct {
	Segments []Segment

	// original is kept for diagnostics (e.g. the Pattern error kind's
	// "no match for a -f pattern" message).
	original string
}

func (p PathPattern) String() string {
	return p.original
}

// HasGlob reports whether any segment contains glob metacharacters. A
// pattern with no glob metacharacters matches exactly one entry path.
func (p PathPattern) HasGlob() bool {
	for _, s := range p.Segments {
		if s.IsGlob {
			return true
		}
	}
	return false
}

var globMagic = regexp.MustCompile(`[*?\[]`)

// Normalize turns a raw user-supplied path into a PathPattern. It strips
// a leading drive-letter prefix (C:), collapses mixed / and \ separators,
// strips a leading separator, and rejects intermediate empty segments
// (e.g. "Users//Desktop") as a Configuration error.
func Normalize(raw string) (PathPattern, error) {
	original := raw

	s := raw
	if len(s) >= 2 && s[1] == ':' && isDriveLetter(s[0]) {
		s = s[2:]
	}

	s = strings.ReplaceAll(s, "\\", "/")
	s = strings.TrimPrefix(s, "/")

	if s == "" {
		return PathPattern{original: original}, nil
	}

	parts := strings.Split(s, "/")
	segments := make([]Segment, 0, len(parts))
	for i, part := range parts {
		if part == "" {
			// A trailing separator normalizes away; an *intermediate*
			// empty segment is malformed input.
			if i == len(parts)-1 {
				continue
			}
			return PathPattern{}, errors.Errorf(
				"invalid path pattern %q: empty path segment", original)
		}

		seg, err := newSegment(part)
		if err != nil {
			return PathPattern{}, errors.Wrapf(err, "invalid glob segment %q", part)
		}
		segments = append(segments, seg)
	}

	return PathPattern{Segments: segments, original: original}, nil
}

func newSegment(part string) (Segment, error) {
	seg := Segment{Raw: part}
	if !globMagic.MatchString(part) {
		return seg, nil
	}
	seg.IsGlob = true

	body, err := translateBody(part)
	if err != nil {
		return Segment{}, err
	}

	reCS, err := regexp.Compile("^" + body + "$")
	if err != nil {
		return Segment{}, err
	}
	reCI, err := regexp.Compile("(?i:^" + body + "$)")
	if err != nil {
		return Segment{}, err
	}
	seg.reCS = reCS
	seg.reCI = reCI
	return seg, nil
}

func isDriveLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// MatchSegment reports whether name matches a single pattern segment,
// honoring the case-sensitivity flag. Separators never appear inside a
// segment so this never needs to worry about them.
func MatchSegment(seg Segment, name string, caseSensitive bool) bool {
	if !seg.IsGlob {
		if caseSensitive {
			return seg.Raw == name
		}
		return strings.EqualFold(seg.Raw, name)
	}

	if caseSensitive {
		return seg.reCS.MatchString(name)
	}
	return seg.reCI.MatchString(name)
}

// Match reports whether entryPath (a partition-relative path joined by
// "/", with no leading separator) matches pattern in full, honoring
// caseSensitive. Both sides are split on "/" and compared segment by
// segment; a pattern with no glob segments matches exactly one path.
func Match(pattern PathPattern, entryPath string, caseSensitive bool) bool {
	parts := Split(entryPath)

	if len(parts) != len(pattern.Segments) {
		return false
	}
	for i, seg := range pattern.Segments {
		if !MatchSegment(seg, parts[i], caseSensitive) {
			return false
		}
	}
	return true
}

// MatchLeaf is the no-separators variant used by the Dispatcher's filter
// on a bare leaf name rather than a full pattern.
func MatchLeaf(glob, name string, caseSensitive bool) (bool, error) {
	seg, err := newSegment(glob)
	if err != nil {
		return false, errors.Wrapf(err, "invalid filter glob %q", glob)
	}
	return MatchSegment(seg, name, caseSensitive), nil
}

// Join renders a pattern's segments (by their raw text) back into a
// "/"-joined partition-relative path. Used to build the canonical key
// for a pattern (runctx.KeyForPattern and fileset's requires graph).
func Join(segs []Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Raw
	}
	return strings.Join(parts, "/")
}

// Split breaks a partition-relative path into its segments, mirroring
// Join's inverse.
func Split(p string) []string {
	p = strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// translateBody converts one glob segment (*, ?, [...]) into the body of
// an anchored regexp (caller adds ^ and $), the same fnmatch-style
// translation as the teacher's fnmatch_translate but scoped to a single
// path segment (no "/" ever appears inside one, so "*" safely means "any
// run of characters" with no need to exclude the separator explicitly).
func translateBody(pat string) (string, error) {
	var b strings.Builder

	runes := []rune(pat)
	n := len(runes)
	for i := 0; i < n; {
		c := runes[i]
		i++
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			j := i
			if j < n && runes[j] == '!' {
				j++
			}
			if j < n && runes[j] == ']' {
				j++
			}
			for j < n && runes[j] != ']' {
				j++
			}
			if j >= n {
				b.WriteString(`\[`)
				continue
			}
			class := string(runes[i:j])
			i = j + 1
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[")
			b.WriteString(strings.ReplaceAll(class, `\`, `\\`))
			b.WriteString("]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	return b.String(), nil
}
