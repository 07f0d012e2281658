package store

import (
	"regexp"
	"strings"
)

// QueryMode selects how a user question becomes an FTS5 match expression.
type QueryMode string

const (
	// QueryModeRaw keeps every token of the question.
	QueryModeRaw QueryMode = "raw"
	// QueryModeHeuristic drops stopwords and short tokens, keeping top-N.
	QueryModeHeuristic QueryMode = "heuristic"
)

// DefaultMaxQueryTerms caps the heuristic match expression length.
const DefaultMaxQueryTerms = 10

// Questions are often instruction-shaped ("summarize the uploaded
// documents") and those words rarely appear in document text, so the
// heuristic mode filters them along with a small practical stopword set.
var defaultStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "not": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "for": {}, "with": {},
	"by": {}, "from": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "as": {}, "at": {}, "it": {},
	"this": {}, "that": {}, "these": {}, "those": {},
	"i": {}, "you": {}, "we": {}, "they": {}, "he": {}, "she": {},
	"my": {}, "your": {}, "our": {}, "their": {},
	"summarize": {}, "summary": {}, "main": {}, "points": {},
	"cite": {}, "sources": {}, "document": {}, "documents": {}, "uploaded": {},
}

var wordRe = regexp.MustCompile(`\w+`)

// MatchBuilder turns user questions into FTS5 match expressions.
// The zero value is not usable; construct with NewMatchBuilder.
type MatchBuilder struct {
	maxTerms  int
	stopwords map[string]struct{}
}

// NewMatchBuilder returns a builder with the given term cap and any extra
// stopwords merged over the built-in set. maxTerms <= 0 uses the default.
func NewMatchBuilder(maxTerms int, extraStopwords []string) *MatchBuilder {
	if maxTerms <= 0 {
		maxTerms = DefaultMaxQueryTerms
	}
	stopwords := make(map[string]struct{}, len(defaultStopwords)+len(extraStopwords))
	for w := range defaultStopwords {
		stopwords[w] = struct{}{}
	}
	for _, w := range extraStopwords {
		stopwords[strings.ToLower(w)] = struct{}{}
	}
	return &MatchBuilder{maxTerms: maxTerms, stopwords: stopwords}
}

// Build returns the FTS5 match expression for a question. Tokens are
// lowercase \w+ runs joined with spaces (implicit AND), so the result is
// always valid FTS5 syntax. An empty result means no lexical search.
//
// Raw FTS5 syntax (NEAR, phrases) is deliberately not passed through here;
// callers wanting it should query the store with their own expression.
func (b *MatchBuilder) Build(question string, mode QueryMode) string {
	return b.BuildN(question, mode, 0)
}

// BuildN is Build with a per-call term cap. maxTerms <= 0 uses the
// builder's cap.
func (b *MatchBuilder) BuildN(question string, mode QueryMode, maxTerms int) string {
	if maxTerms <= 0 {
		maxTerms = b.maxTerms
	}
	tokens := wordRe.FindAllString(strings.ToLower(question), -1)

	if mode == QueryModeRaw {
		return strings.TrimSpace(strings.Join(tokens, " "))
	}

	seen := make(map[string]struct{}, len(tokens))
	kept := make([]string, 0, maxTerms)
	for _, t := range tokens {
		if len(t) < 3 {
			continue
		}
		if _, stop := b.stopwords[t]; stop {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		kept = append(kept, t)
		if len(kept) >= maxTerms {
			break
		}
	}

	return strings.TrimSpace(strings.Join(kept, " "))
}

// Terms returns the individual terms of a built expression.
func Terms(matchExpr string) []string {
	if strings.TrimSpace(matchExpr) == "" {
		return nil
	}
	return strings.Fields(matchExpr)
}
