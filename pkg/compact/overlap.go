package compact

import (
	"strings"
	"unicode/utf8"
)

// nestedSep separates nested class names from their outer class.
const nestedSep = '$'

// OverlapPath abbreviates overlap against base, both being paths separated by
// sep. Leading segments shared with base are condensed to their first
// character; from the first differing segment onwards, segments are written in
// full.
//
// When sep is '.' and a differing segment contains a nested-class marker, the
// segment is itself abbreviated on '$', so that "a.b.Outer$1" followed by
// "a.b.Outer$2" becomes "a.b.O$2".
//
// An empty base returns overlap unchanged.
func OverlapPath(base, overlap string, sep byte) string {
	if base == "" {
		return overlap
	}

	baseSegs := strings.Split(base, string(sep))
	segs := strings.Split(overlap, string(sep))

	var b strings.Builder
	b.Grow(len(overlap))
	diverged := false
	for i, seg := range segs {
		if i > 0 {
			b.WriteByte(sep)
		}
		switch {
		case diverged || i >= len(baseSegs):
			b.WriteString(seg)
			diverged = true
		case seg != baseSegs[i]:
			if sep != nestedSep &&
				(strings.IndexByte(seg, nestedSep) >= 0 || strings.IndexByte(baseSegs[i], nestedSep) >= 0) {
				nested := OverlapPath(baseSegs[i], seg, nestedSep)
				b.WriteString(nested)
				// a partially condensed nested name still shares a prefix.
				diverged = nested == seg
			} else {
				b.WriteString(seg)
				diverged = true
			}
		default:
			b.WriteString(firstRune(seg))
		}
	}
	return b.String()
}

func firstRune(s string) string {
	if s == "" {
		return ""
	}
	_, n := utf8.DecodeRuneInString(s)
	return s[:n]
}
