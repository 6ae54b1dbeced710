// Package textnorm canonicalizes free-text values (student names, class
// labels) so that comparisons between uploaded rows and stored records are
// symmetric: both sides are normalized with the same function before any
// matching happens.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD, drops combining marks (accents) and
// recomposes to NFC, e.g. "José" -> "Jose".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize returns the canonical comparison form of s: lower-cased,
// diacritics stripped, punctuation removed, whitespace collapsed to single
// spaces and trimmed. It never fails and is idempotent.
func Normalize(s string) string {
	folded, _, err := transform.String(stripMarks, strings.ToLower(s))
	if err != nil {
		// transform only fails on malformed input; fall back to the
		// lower-cased original so Normalize stays total.
		folded = strings.ToLower(s)
	}

	// After mark stripping, accented Latin letters are plain a-z. Everything
	// outside [a-z0-9] becomes a space, so letterlike symbols that do not
	// decompose (ordinal markers such as º in "5º Ano") are dropped rather
	// than kept.
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Key is Normalize under a name that reads better at call sites building
// class/group lookup keys.
func Key(s string) string {
	return Normalize(s)
}

// HasForbiddenRune reports whether s contains a rune outside the set allowed
// for roster text fields: letters (accented included), digits and spaces.
func HasForbiddenRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		return true
	}
	return false
}
