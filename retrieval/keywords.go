package retrieval

import (
	"regexp"
	"strings"
)

var capitalisedPhrase = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

// leading words that are capitalised only because they start a sentence
var phraseStopwords = map[string]bool{
	"The": true, "A": true, "An": true, "In": true, "On": true, "At": true, "It": true,
	"He": true, "She": true, "They": true, "We": true, "This": true, "That": true,
	"But": true, "And": true, "For": true, "If": true, "When": true, "After": true,
	"Before": true, "As": true, "Of": true, "To": true, "By": true, "With": true,
}

// CapitalisedPhrases returns the distinct capitalised word runs in text, in
// order of first appearance, with sentence-initial stopwords stripped.
// limit <= 0 means no limit.
func CapitalisedPhrases(text string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range capitalisedPhrase.FindAllString(text, -1) {
		words := strings.Fields(m)
		for len(words) > 0 && phraseStopwords[words[0]] {
			words = words[1:]
		}
		if len(words) == 0 {
			continue
		}
		phrase := strings.Join(words, " ")
		if seen[phrase] {
			continue
		}
		seen[phrase] = true
		out = append(out, phrase)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// expansions maps a topic word to extra queries that reach rules phrased differently
var expansions = []struct {
	match []string
	extra []string
}{
	{[]string{"quotation"}, []string{"quotes", "quotation marks", "quote marks"}},
	{[]string{"dash"}, []string{"em dash", "en dash", "hyphen"}},
	{[]string{"capitalization", "capital"}, []string{"uppercase", "lowercase", "title case"}},
}

// ExpandQuery returns query followed by any expansion queries it triggers
func ExpandQuery(query string) []string {
	out := []string{query}
	lower := strings.ToLower(query)
	for _, e := range expansions {
		for _, m := range e.match {
			if strings.Contains(lower, m) {
				out = append(out, e.extra...)
				break
			}
		}
	}
	return out
}
