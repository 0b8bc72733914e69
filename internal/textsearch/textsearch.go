// Package textsearch folds product and customer text so that searches ignore
// case and diacritics ("Kopi Susu" matches "kópi SUSU").
package textsearch

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips combining marks and collapses whitespace.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)
	return strings.Join(strings.Fields(folded), " ")
}

// Tokens splits a folded query into its words.
func Tokens(query string) []string {
	return strings.Fields(Fold(query))
}

// Match reports whether every query token appears in at least one field.
// An empty query matches everything.
func Match(query string, fields ...string) bool {
	tokens := Tokens(query)
	if len(tokens) == 0 {
		return true
	}
	folded := make([]string, 0, len(fields))
	for _, field := range fields {
		if field != "" {
			folded = append(folded, Fold(field))
		}
	}
	for _, token := range tokens {
		found := false
		for _, field := range folded {
			if strings.Contains(field, token) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
