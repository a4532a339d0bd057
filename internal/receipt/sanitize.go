package receipt

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength caps sanitized segments and whole file names
const DefaultMaxLength = 200

// fallbackSegment replaces input that sanitizes to nothing
const fallbackSegment = "Unnamed"

var (
	illegalChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]`)
	whitespace   = regexp.MustCompile(`[\s\p{Z}]+`)
	hyphenRuns   = regexp.MustCompile(`-{2,}`)
)

// Sanitize turns arbitrary text into a path segment that is safe on common
// filesystems. The second return value reports whether the text had to be
// truncated to fit maxLength bytes. The result is never empty.
func Sanitize(text string, maxLength int) (string, bool) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	s := strings.ToValidUTF8(text, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = illegalChars.ReplaceAllString(s, "")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = trimSegment(s)

	truncated := false
	if len(s) > maxLength {
		s = trimSegment(truncateBytes(s, maxLength))
		truncated = true
	}

	if s == "" {
		s = truncateBytes(fallbackSegment, maxLength)
	}
	return s, truncated
}

// trimSegment strips separators and dots from both ends so "." and ".."
// can never come out as a segment.
func trimSegment(s string) string {
	return strings.Trim(s, "-. ")
}

// truncateBytes cuts s to at most n bytes without splitting a rune
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
