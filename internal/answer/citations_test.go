package answer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCitations_BothForms(t *testing.T) {
	text := "Facts here [cid:3].\n\nMore facts [Source: paper.pdf | cid:7]. And again [cid:3]."
	assert.Equal(t, []int64{3, 7}, ExtractCitations(text))
}

func TestExtractCitations_IgnoresMalformed(t *testing.T) {
	assert.Empty(t, ExtractCitations("no citations [cid:] [Source: x] [cid:abc]"))
}

func TestSplitParagraphs(t *testing.T) {
	text := "first paragraph\nstill first\n\nsecond\n\n\n  \nthird"
	paras := SplitParagraphs(text)
	require.Len(t, paras, 3)
	assert.Equal(t, "first paragraph\nstill first", paras[0])
	assert.Equal(t, "second", paras[1])
	assert.Equal(t, "third", paras[2])
}

func TestValidateCitations_Valid(t *testing.T) {
	text := "One fact. [Source: a.txt | cid:1]\n\nAnother fact. [cid:2]"
	report := ValidateCitations(text, []int64{1, 2, 3}, DefaultPolicy())

	assert.True(t, report.Valid)
	assert.Equal(t, ReasonOK, report.Reason)
	assert.Equal(t, 2, report.ParagraphCount)
	assert.Equal(t, []int64{1, 2}, report.FoundCitations)
	assert.Equal(t, 2, report.UniqueCitationsCount)
	assert.Empty(t, report.InvalidIDs)
	assert.Empty(t, report.MissingParagraphs)
	assert.Equal(t, [][]int64{{1}, {2}}, report.PerParagraphCitations)
}

func TestValidateCitations_NoCitations(t *testing.T) {
	report := ValidateCitations("just prose, nothing cited", []int64{1}, DefaultPolicy())
	assert.False(t, report.Valid)
	assert.Equal(t, ReasonNotEnoughUnique, report.Reason)
	assert.Equal(t, 0, report.UniqueCitationsCount)
}

func TestValidateCitations_InvalidID(t *testing.T) {
	report := ValidateCitations("A claim. [cid:99]", []int64{1, 2}, DefaultPolicy())
	assert.False(t, report.Valid)
	assert.Equal(t, ReasonInvalidIDs, report.Reason)
	assert.Equal(t, []int64{99}, report.InvalidIDs)
}

func TestValidateCitations_MissingParagraph(t *testing.T) {
	text := "Cited. [cid:1]\n\nUncited paragraph.\n\nAlso cited. [cid:1]"
	report := ValidateCitations(text, []int64{1}, DefaultPolicy())

	assert.False(t, report.Valid)
	assert.Equal(t, ReasonMissingParagraph, report.Reason)
	assert.Equal(t, []int{1}, report.MissingParagraphs)
}

func TestValidateCitations_MinUniqueRaised(t *testing.T) {
	text := "Both claims share one source. [cid:1]\n\nStill the same source. [cid:1]"
	policy := Policy{MinUnique: 2, RequirePerParagraph: true}

	report := ValidateCitations(text, []int64{1, 2}, policy)
	assert.False(t, report.Valid)
	assert.Equal(t, ReasonNotEnoughUnique, report.Reason)

	text = "First source. [cid:1]\n\nSecond source. [cid:2]"
	report = ValidateCitations(text, []int64{1, 2}, policy)
	assert.True(t, report.Valid)
}

func TestValidateCitations_PerParagraphRelaxed(t *testing.T) {
	text := "Cited. [cid:1]\n\nUncited paragraph."
	policy := Policy{MinUnique: 1, RequirePerParagraph: false}

	report := ValidateCitations(text, []int64{1}, policy)
	assert.True(t, report.Valid)
	assert.Equal(t, ReasonOK, report.Reason)
	assert.Equal(t, []int{1}, report.MissingParagraphs, "diagnostics still recorded")
}

func TestValidateCitations_InvalidBeatsMissing(t *testing.T) {
	// Invalid ids are reported before missing paragraphs.
	text := "Bad cite. [cid:42]\n\nUncited."
	report := ValidateCitations(text, []int64{1}, DefaultPolicy())
	assert.Equal(t, ReasonInvalidIDs, report.Reason)
	assert.Equal(t, []int{1}, report.MissingParagraphs, "diagnostics still recorded")
}
