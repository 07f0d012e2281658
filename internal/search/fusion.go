// Package search runs hybrid retrieval: a lexical FTS5 leg and a vector
// leg fused with Reciprocal Rank Fusion.
package search

import (
	"sort"

	"github.com/ragkb/ragkb/internal/store"
	"github.com/ragkb/ragkb/internal/vector"
)

// DefaultRRFK is the standard RRF smoothing constant.
const DefaultRRFK = 60

// Weights are the per-leg RRF weights.
type Weights struct {
	Lexical float64
	Vector  float64
}

// DefaultWeights weighs both legs equally.
func DefaultWeights() Weights {
	return Weights{Lexical: 1.0, Vector: 1.0}
}

// FusedResult is one chunk after RRF fusion. Rank fields are 1-based; a
// rank of 0 means the chunk did not appear in that leg, and a missing leg
// contributes nothing to the score.
type FusedResult struct {
	ChunkID int64   `json:"chunk_id"`
	Score   float64 `json:"score"`

	LexRank         int     `json:"lex_rank"`
	LexScore        float64 `json:"lex_score"`
	LexContribution float64 `json:"lex_contribution"`

	VecRank         int     `json:"vec_rank"`
	VecScore        float64 `json:"vec_score"`
	VecContribution float64 `json:"vec_contribution"`

	InBoth bool `json:"in_both"`
}

// Fusion combines the two retrieval legs:
//
//	score(d) = Σ weight_leg / (k + rank_leg)
//
// with 1-based ranks and no contribution from legs the chunk is absent
// from. Ties break by ascending chunk id, so fusion is deterministic for
// a fixed corpus and query.
type Fusion struct {
	K int
}

// NewFusion creates a fusion with the given smoothing constant.
// Non-positive k falls back to DefaultRRFK.
func NewFusion(k int) *Fusion {
	if k <= 0 {
		k = DefaultRRFK
	}
	return &Fusion{K: k}
}

// Fuse merges the two legs, best first.
func (f *Fusion) Fuse(lex []*store.LexicalHit, vec []*vector.Result, weights Weights) []*FusedResult {
	if len(lex) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	fused := make(map[int64]*FusedResult, len(lex)+len(vec))

	get := func(id int64) *FusedResult {
		if r, ok := fused[id]; ok {
			return r
		}
		r := &FusedResult{ChunkID: id}
		fused[id] = r
		return r
	}

	for i, hit := range lex {
		r := get(hit.ChunkID)
		r.LexRank = i + 1
		r.LexScore = hit.Score
		r.LexContribution = weights.Lexical / float64(f.K+i+1)
		r.Score += r.LexContribution
	}

	for i, hit := range vec {
		r := get(hit.ChunkID)
		r.VecRank = i + 1
		r.VecScore = float64(hit.Score)
		r.VecContribution = weights.Vector / float64(f.K+i+1)
		r.Score += r.VecContribution
		r.InBoth = r.LexRank > 0
	}

	results := make([]*FusedResult, 0, len(fused))
	for _, r := range fused {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	return results
}
