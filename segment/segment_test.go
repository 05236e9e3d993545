package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegment_EmptyInput(t *testing.T) {
	assert.Nil(t, Segment("", 5))
	assert.Nil(t, Segment("   \n\n\t  ", 5))
}

func TestSegment_SingleParagraph(t *testing.T) {
	paras := Segment("The Cabinet met yesterday.", 1)
	require.Len(t, paras, 1)
	assert.Equal(t, "The Cabinet met yesterday.", paras[0].Text)
	require.Len(t, paras[0].Sentences, 1)
	assert.True(t, paras[0].Sentences[0].Retrievable)
}

func TestSegment_SplitsOnBlankLines(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph here.\n   \nThird one."
	paras := Segment(text, 1)
	require.Len(t, paras, 3)
	for i, p := range paras {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, p.Text, text[p.Start:p.Start+len(p.Text)])
	}
	assert.Equal(t, "Third one.", paras[2].Text)
}

func TestSegment_ShortSentencesKeptButNotRetrievable(t *testing.T) {
	text := "Yes. The prime minister spoke to reporters on Monday morning."
	paras := Segment(text, 5)
	require.Len(t, paras, 1)
	require.Len(t, paras[0].Sentences, 2)

	assert.Equal(t, text, paras[0].Text)
	assert.False(t, paras[0].Sentences[0].Retrievable)
	assert.True(t, paras[0].Sentences[1].Retrievable)
	assert.Len(t, paras[0].RetrievableSentences(), 1)
}

func TestSplitSentences_Abbreviations(t *testing.T) {
	text := "Dr. Smith arrived in the U.S. on Jan. 5 with J. R. Jones. She left soon after! Did he?"
	sentences := SplitSentences(text)
	require.Len(t, sentences, 3)
	assert.Equal(t, "Dr. Smith arrived in the U.S. on Jan. 5 with J. R. Jones.", sentences[0].Text)
	assert.Equal(t, "She left soon after!", sentences[1].Text)
	assert.Equal(t, "Did he?", sentences[2].Text)
}

func TestSplitSentences_ClosingQuotes(t *testing.T) {
	sentences := SplitSentences(`He said "never." Then he left.`)
	require.Len(t, sentences, 2)
	assert.Equal(t, `He said "never."`, sentences[0].Text)
}

func TestSplitSentences_OffsetsPointIntoParagraph(t *testing.T) {
	text := "One two three.  Four five six."
	for _, s := range SplitSentences(text) {
		assert.Equal(t, s.Text, text[s.Start:s.Start+len(s.Text)])
	}
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount("  "))
	assert.Equal(t, 4, WordCount("It's a well-known fact."))
	assert.Equal(t, 3, WordCount("$5 million dollars"))
}
