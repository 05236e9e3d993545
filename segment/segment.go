// Package segment splits raw article text into paragraphs and sentences.
package segment

import (
	"regexp"
	"strings"
	"unicode"
)

// Sentence is one sentence of a paragraph. Retrievable is false for
// sentences too short to be worth an independent retrieval query.
type Sentence struct {
	Text        string
	Start       int
	Retrievable bool
}

// Paragraph is an ordered span of the source document
type Paragraph struct {
	Index     int
	Text      string
	Start     int
	Sentences []Sentence
}

// RetrievableSentences returns the sentences that should trigger retrieval
func (p Paragraph) RetrievableSentences() []Sentence {
	var out []Sentence
	for _, s := range p.Sentences {
		if s.Retrievable {
			out = append(out, s)
		}
	}
	return out
}

var (
	blankLinePattern = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)
	sentenceEnd      = regexp.MustCompile(`[.!?]+["'”’)\]]*\s+`)
	wordPattern      = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’\-][\p{L}\p{N}]+)*`)
)

// abbreviations never end a sentence
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "sr": true, "jr": true,
	"st": true, "mt": true, "ft": true, "gen": true, "col": true, "lt": true, "sgt": true,
	"capt": true, "gov": true, "sen": true, "rep": true, "rev": true, "hon": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "aug": true, "sept": true,
	"sep": true, "oct": true, "nov": true, "dec": true,
	"inc": true, "ltd": true, "co": true, "corp": true, "no": true, "vs": true,
	"etc": true, "approx": true, "dept": true, "est": true, "ave": true, "blvd": true,
	"e.g": true, "i.e": true, "u.s": true, "u.k": true, "a.m": true, "p.m": true,
}

// Segment splits text into paragraphs on blank lines and each paragraph into
// sentences. Sentences with fewer than minSentenceWords words are kept in the
// paragraph but marked non-retrievable. Empty input yields nil.
func Segment(text string, minSentenceWords int) []Paragraph {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var paragraphs []Paragraph
	offset := 0
	bounds := blankLinePattern.FindAllStringIndex(text, -1)
	spans := make([][2]int, 0, len(bounds)+1)
	for _, b := range bounds {
		spans = append(spans, [2]int{offset, b[0]})
		offset = b[1]
	}
	spans = append(spans, [2]int{offset, len(text)})

	for _, span := range spans {
		raw := text[span[0]:span[1]]
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		start := span[0] + strings.Index(raw, trimmed)
		p := Paragraph{
			Index: len(paragraphs),
			Text:  trimmed,
			Start: start,
		}
		for _, s := range SplitSentences(trimmed) {
			s.Start += start
			s.Retrievable = WordCount(s.Text) >= minSentenceWords
			p.Sentences = append(p.Sentences, s)
		}
		paragraphs = append(paragraphs, p)
	}
	return paragraphs
}

// SplitSentences splits a paragraph on terminal punctuation followed by
// whitespace, skipping known abbreviations and single-letter initials.
// Start offsets are relative to the paragraph.
func SplitSentences(paragraph string) []Sentence {
	var sentences []Sentence
	last := 0
	for _, m := range sentenceEnd.FindAllStringIndex(paragraph, -1) {
		if isAbbreviation(paragraph[last:m[0]]) {
			continue
		}
		if m[1] < len(paragraph) && startsLowercase(paragraph[m[1]:]) {
			continue
		}
		sentences = appendSentence(sentences, paragraph, last, m[1])
		last = m[1]
	}
	return appendSentence(sentences, paragraph, last, len(paragraph))
}

// WordCount returns the number of words in s
func WordCount(s string) int {
	return len(wordPattern.FindAllStringIndex(s, -1))
}

func appendSentence(sentences []Sentence, paragraph string, from, to int) []Sentence {
	raw := paragraph[from:to]
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return sentences
	}
	return append(sentences, Sentence{
		Text:  trimmed,
		Start: from + strings.Index(raw, trimmed),
	})
}

// isAbbreviation reports whether the text before a period ends in an
// abbreviation or a single-letter initial.
func isAbbreviation(before string) bool {
	fields := strings.Fields(before)
	if len(fields) == 0 {
		return false
	}
	word := strings.TrimLeft(fields[len(fields)-1], "\"'“‘([")
	word = strings.ToLower(strings.TrimRight(word, "."))
	if abbreviations[word] {
		return true
	}
	runes := []rune(word)
	return len(runes) == 1 && unicode.IsLetter(runes[0])
}

func startsLowercase(s string) bool {
	for _, r := range s {
		return unicode.IsLower(r)
	}
	return false
}
