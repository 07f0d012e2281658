// Package answer assembles grounded, citation-validated answers from
// retrieved chunks and a chat model.
package answer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Citation token grammars. The bare form is kept for backward parsing;
// prompts ask for the readable Source form.
var (
	cidSimpleRe = regexp.MustCompile(`\[cid:(\d+)\]`)
	cidSourceRe = regexp.MustCompile(`\[Source:[^\]]*?\bcid:(\d+)\b[^\]]*\]`)
)

// Validation failure reasons.
const (
	ReasonOK               = "ok"
	ReasonNotEnoughUnique  = "not enough unique citations"
	ReasonInvalidIDs       = "contains invalid citation ids"
	ReasonMissingParagraph = "some paragraphs are missing citations"
)

// Report is the citation validation outcome for one answer.
type Report struct {
	Valid                 bool      `json:"valid"`
	Reason                string    `json:"reason"`
	ParagraphCount        int       `json:"paragraph_count"`
	FoundCitations        []int64   `json:"found_citations"`
	UniqueCitationsCount  int       `json:"unique_citations_count"`
	InvalidIDs            []int64   `json:"invalid_ids"`
	MissingParagraphs     []int     `json:"missing_paragraphs"`
	PerParagraphCitations [][]int64 `json:"per_paragraph_citations"`
}

var paragraphRe = regexp.MustCompile(`\n\s*\n+`)

// SplitParagraphs splits text into paragraphs on blank lines, dropping
// empty ones.
func SplitParagraphs(text string) []string {
	parts := paragraphRe.Split(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExtractCitations returns the sorted unique citation ids in text, in
// either token form.
func ExtractCitations(text string) []int64 {
	seen := make(map[int64]struct{})
	for _, re := range []*regexp.Regexp{cidSimpleRe, cidSourceRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				seen[id] = struct{}{}
			}
		}
	}
	return sortedIDs(seen)
}

// Policy is the enforcement contract an answer is validated against.
type Policy struct {
	// MinUnique is the minimum number of distinct cited ids.
	MinUnique int `json:"min_unique"`
	// RequirePerParagraph demands at least one citation per paragraph.
	RequirePerParagraph bool `json:"require_per_paragraph"`
}

// DefaultPolicy matches the system prompt: one citation minimum, every
// paragraph cited.
func DefaultPolicy() Policy {
	return Policy{MinUnique: 1, RequirePerParagraph: true}
}

// ValidateCitations checks an answer against the set of retrieved chunk
// ids under a policy. Valid means: at least MinUnique distinct citations,
// no id outside allowed, and, when the policy demands it, every paragraph
// carries at least one citation. Uncited paragraphs are always recorded
// in the report even when the policy tolerates them.
func ValidateCitations(text string, allowedIDs []int64, policy Policy) *Report {
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}

	paragraphs := SplitParagraphs(text)
	report := &Report{
		ParagraphCount:        len(paragraphs),
		FoundCitations:        []int64{},
		InvalidIDs:            []int64{},
		MissingParagraphs:     []int{},
		PerParagraphCitations: make([][]int64, 0, len(paragraphs)),
	}

	found := make(map[int64]struct{})
	for i, p := range paragraphs {
		cids := ExtractCitations(p)
		report.PerParagraphCitations = append(report.PerParagraphCitations, cids)
		if len(cids) == 0 {
			report.MissingParagraphs = append(report.MissingParagraphs, i)
		}
		for _, id := range cids {
			found[id] = struct{}{}
		}
	}

	report.FoundCitations = sortedIDs(found)
	report.UniqueCitationsCount = len(report.FoundCitations)
	for _, id := range report.FoundCitations {
		if _, ok := allowed[id]; !ok {
			report.InvalidIDs = append(report.InvalidIDs, id)
		}
	}

	switch {
	case report.UniqueCitationsCount < policy.MinUnique:
		report.Reason = ReasonNotEnoughUnique
	case len(report.InvalidIDs) > 0:
		report.Reason = ReasonInvalidIDs
	case policy.RequirePerParagraph && len(report.MissingParagraphs) > 0:
		report.Reason = ReasonMissingParagraph
	default:
		report.Valid = true
		report.Reason = ReasonOK
	}
	return report
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
