// Package names canonicalizes and compares person names.
package names

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters with no decomposition into a base letter plus marks.
var foldReplacer = strings.NewReplacer(
	"ß", "ss", "æ", "ae", "œ", "oe", "ø", "o", "đ", "d", "ð", "d",
	"ł", "l", "þ", "th", "ı", "i",
)

// Normalize lower-cases name, folds Latin letters to ASCII, strips
// punctuation and splits it into word tokens. Letters of other scripts are
// kept after their non-spacing marks are removed.
func Normalize(name string) []string {
	lowered := foldReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		folded = lowered
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.In(r, unicode.Mc), r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

// Match reports whether two names plausibly belong to one person. Blank names
// never match. Equal token sequences match. Otherwise both names need at least
// two tokens and must agree on the first and last token, so middle names and
// initials may differ.
func Match(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return false
	}
	ta, tb := Normalize(a), Normalize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	if slices.Equal(ta, tb) {
		return true
	}
	if len(ta) < 2 || len(tb) < 2 {
		return false
	}
	return ta[0] == tb[0] && ta[len(ta)-1] == tb[len(tb)-1]
}
