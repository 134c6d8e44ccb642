package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxNameBytes bounds a sanitized name so a prefix and timestamp still fit
// within common 255-byte filename limits.
const MaxNameBytes = 200

// SanitizeFileName makes a playlist stem safe to embed in an output file
// name. Path separators, colons and asterisks become dashes; quotes, angle
// brackets, pipes, question marks and control characters are dropped. The
// result is NFC-normalized, stripped of surrounding whitespace and dots, and
// cut to MaxNameBytes on a rune boundary.
func SanitizeFileName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*':
			b.WriteByte('-')
		case r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(strings.TrimSpace(b.String()), ".")
	return truncate(out, MaxNameBytes)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " .")
}
