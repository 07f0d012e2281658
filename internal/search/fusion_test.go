package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragkb/ragkb/internal/store"
	"github.com/ragkb/ragkb/internal/vector"
)

func lexHits(ids ...int64) []*store.LexicalHit {
	hits := make([]*store.LexicalHit, len(ids))
	for i, id := range ids {
		hits[i] = &store.LexicalHit{ChunkID: id, Score: -float64(10 - i)}
	}
	return hits
}

func vecHits(ids ...int64) []*vector.Result {
	hits := make([]*vector.Result, len(ids))
	for i, id := range ids {
		hits[i] = &vector.Result{ChunkID: id, Score: float32(1.0) - float32(i)*0.1}
	}
	return hits
}

func TestFuse_OverlappingLegs(t *testing.T) {
	f := NewFusion(60)
	fused := f.Fuse(lexHits(1, 2, 3), vecHits(2, 3, 4), DefaultWeights())

	require.Len(t, fused, 4)

	// 2: 1/62 + 1/61, 3: 1/63 + 1/62, 1: 1/61, 4: 1/63.
	assert.Equal(t, int64(2), fused[0].ChunkID)
	assert.Equal(t, int64(3), fused[1].ChunkID)
	assert.Equal(t, int64(1), fused[2].ChunkID)
	assert.Equal(t, int64(4), fused[3].ChunkID)

	assert.InDelta(t, 1.0/62+1.0/61, fused[0].Score, 1e-9)
	assert.InDelta(t, 1.0/63+1.0/62, fused[1].Score, 1e-9)
	assert.InDelta(t, 1.0/61, fused[2].Score, 1e-9)
	assert.InDelta(t, 1.0/63, fused[3].Score, 1e-9)

	assert.True(t, fused[0].InBoth)
	assert.True(t, fused[1].InBoth)
	assert.False(t, fused[2].InBoth)
	assert.False(t, fused[3].InBoth)
}

func TestFuse_MissingLegContributesNothing(t *testing.T) {
	f := NewFusion(60)
	fused := f.Fuse(lexHits(7), nil, DefaultWeights())

	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/61, fused[0].Score, 1e-9)
	assert.Equal(t, 1, fused[0].LexRank)
	assert.Equal(t, 0, fused[0].VecRank)
	assert.Zero(t, fused[0].VecContribution)
}

func TestFuse_TiesBreakByAscendingChunkID(t *testing.T) {
	f := NewFusion(60)

	// Same rank in opposite legs gives identical scores.
	fused := f.Fuse(lexHits(9), vecHits(4), DefaultWeights())

	require.Len(t, fused, 2)
	assert.Equal(t, fused[0].Score, fused[1].Score)
	assert.Equal(t, int64(4), fused[0].ChunkID)
	assert.Equal(t, int64(9), fused[1].ChunkID)
}

func TestFuse_WeightsScaleLegs(t *testing.T) {
	f := NewFusion(60)
	fused := f.Fuse(lexHits(1), vecHits(2), Weights{Lexical: 2.0, Vector: 0.5})

	require.Len(t, fused, 2)
	assert.Equal(t, int64(1), fused[0].ChunkID)
	assert.InDelta(t, 2.0/61, fused[0].Score, 1e-9)
	assert.InDelta(t, 0.5/61, fused[1].Score, 1e-9)
}

func TestFuse_EmptyLegs(t *testing.T) {
	f := NewFusion(60)
	fused := f.Fuse(nil, nil, DefaultWeights())
	assert.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestFuse_PreservesRawScores(t *testing.T) {
	f := NewFusion(60)
	lex := []*store.LexicalHit{{ChunkID: 1, Score: -4.2}}
	vec := []*vector.Result{{ChunkID: 1, Score: 0.87}}

	fused := f.Fuse(lex, vec, DefaultWeights())

	require.Len(t, fused, 1)
	assert.Equal(t, -4.2, fused[0].LexScore)
	assert.InDelta(t, 0.87, fused[0].VecScore, 1e-6)
}

func TestNewFusion_DefaultK(t *testing.T) {
	assert.Equal(t, DefaultRRFK, NewFusion(0).K)
	assert.Equal(t, 10, NewFusion(10).K)
}
