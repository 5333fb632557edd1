package search

import (
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "can": true, "what": true, "how": true,
}

// terms lowercases text and splits it on anything that is not a letter or
// digit, dropping stop words.
func terms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

// containsAll reports whether every query term appears in text. A query
// made only of stop words matches nothing.
func containsAll(text string, queryTerms []string) bool {
	if len(queryTerms) == 0 {
		return false
	}
	have := make(map[string]bool)
	for _, w := range terms(text) {
		have[w] = true
	}
	for _, q := range queryTerms {
		if !have[q] {
			return false
		}
	}
	return true
}
