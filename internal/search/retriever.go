package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	ragerr "github.com/ragkb/ragkb/internal/errors"
	"github.com/ragkb/ragkb/internal/model"
	"github.com/ragkb/ragkb/internal/store"
	"github.com/ragkb/ragkb/internal/vector"
)

// Default retrieval depths.
const (
	DefaultKLex   = 20
	DefaultKVec   = 20
	DefaultFinalK = 8
)

// Options tune one retrieval call. Zero fields fall back to the
// retriever's defaults.
type Options struct {
	KLex    int
	KVec    int
	FinalK  int
	Mode    store.QueryMode
	Weights Weights
	RRFK    int

	// ExplicitExpr bypasses query preprocessing: the lexical leg runs
	// this expression verbatim instead of building one from the question.
	ExplicitExpr string
	// MaxTerms caps the heuristic match expression for this call only.
	MaxTerms int
}

func (o Options) withDefaults(d Options) Options {
	if o.KLex <= 0 {
		o.KLex = d.KLex
	}
	if o.KVec <= 0 {
		o.KVec = d.KVec
	}
	if o.FinalK <= 0 {
		o.FinalK = d.FinalK
	}
	if o.Mode == "" {
		o.Mode = d.Mode
	}
	if o.Weights == (Weights{}) {
		o.Weights = d.Weights
	}
	if o.RRFK <= 0 {
		o.RRFK = d.RRFK
	}
	return o
}

// Hit is one retrieved chunk, hydrated and fused.
type Hit struct {
	ChunkID    int64   `json:"chunk_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`

	LexRank  int     `json:"lex_rank"`
	LexScore float64 `json:"lex_score"`
	VecRank  int     `json:"vec_rank"`
	VecScore float64 `json:"vec_score"`
	InBoth   bool    `json:"in_both"`
}

// Timings records per-stage latency in milliseconds.
type Timings struct {
	LexicalMS float64 `json:"lexical_ms"`
	EmbedMS   float64 `json:"embed_ms"`
	VectorMS  float64 `json:"vector_ms"`
	FuseMS    float64 `json:"fuse_ms"`
	TotalMS   float64 `json:"total_ms"`
}

// Result is a full retrieval outcome, including the raw legs for
// debugging.
type Result struct {
	Hits []*Hit `json:"hits"`

	MatchExpr string          `json:"match_expr"`
	Terms     []string        `json:"terms"`
	Mode      store.QueryMode `json:"mode"`

	Lexical []*store.LexicalHit `json:"lexical"`
	Vector  []*vector.Result    `json:"vector"`
	Fused   []*FusedResult      `json:"fused"`

	DimensionMismatch bool   `json:"dimension_mismatch"`
	EmbedderDim       int    `json:"embedder_dim,omitempty"`
	IndexDim          int    `json:"index_dim,omitempty"`
	IndexCount        int    `json:"index_count"`
	VectorError       string `json:"vector_error,omitempty"`

	Timings Timings `json:"timings"`
}

// EmbedderSource yields the currently active embedder; the model registry
// satisfies this.
type EmbedderSource interface {
	Embedder() model.Embedder
}

// Retriever runs both retrieval legs and fuses them. The vector leg is
// best-effort: backend or index failures degrade the call to lexical-only
// instead of failing it.
type Retriever struct {
	store    *store.Store
	vectors  *vector.Manager
	embed    EmbedderSource
	matcher  *store.MatchBuilder
	defaults Options
	log      *slog.Logger
}

// NewRetriever wires a retriever. Zero-value defaults are filled in.
func NewRetriever(st *store.Store, vectors *vector.Manager, embed EmbedderSource, matcher *store.MatchBuilder, defaults Options) *Retriever {
	base := Options{
		KLex:    DefaultKLex,
		KVec:    DefaultKVec,
		FinalK:  DefaultFinalK,
		Mode:    store.QueryModeHeuristic,
		Weights: DefaultWeights(),
		RRFK:    DefaultRRFK,
	}
	return &Retriever{
		store:    st,
		vectors:  vectors,
		embed:    embed,
		matcher:  matcher,
		defaults: defaults.withDefaults(base),
		log:      slog.With("component", "retriever"),
	}
}

// Retrieve runs hybrid retrieval for a question. A lexical failure fails
// the call; a vector failure is recorded in the result instead.
func (r *Retriever) Retrieve(ctx context.Context, question string, opts Options) (*Result, error) {
	start := time.Now()
	opts = opts.withDefaults(r.defaults)

	expr := opts.ExplicitExpr
	if expr == "" {
		expr = r.matcher.BuildN(question, opts.Mode, opts.MaxTerms)
	}
	result := &Result{
		MatchExpr: expr,
		Mode:      opts.Mode,
	}
	result.Terms = store.Terms(result.MatchExpr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if result.MatchExpr == "" {
			result.Lexical = []*store.LexicalHit{}
			return nil
		}
		legStart := time.Now()
		hits, err := r.store.MatchChunks(gctx, result.MatchExpr, opts.KLex)
		result.Timings.LexicalMS = msSince(legStart)
		if err != nil {
			return ragerr.Wrap(ragerr.ErrCodeRetrievalFailed, err)
		}
		result.Lexical = hits
		return nil
	})

	g.Go(func() error {
		r.vectorLeg(gctx, question, opts, result)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	fuseStart := time.Now()
	result.Fused = NewFusion(opts.RRFK).Fuse(result.Lexical, result.Vector, opts.Weights)
	result.Timings.FuseMS = msSince(fuseStart)

	top := result.Fused
	if len(top) > opts.FinalK {
		top = top[:opts.FinalK]
	}

	hits, err := r.hydrate(ctx, top)
	if err != nil {
		return nil, err
	}
	result.Hits = hits
	result.Timings.TotalMS = msSince(start)

	r.log.Debug("retrieval_complete",
		slog.String("match_expr", result.MatchExpr),
		slog.Int("lexical_hits", len(result.Lexical)),
		slog.Int("vector_hits", len(result.Vector)),
		slog.Int("final_hits", len(result.Hits)),
		slog.Bool("degraded", result.VectorError != ""))
	return result, nil
}

// vectorLeg fills the vector side of the result. Every failure mode lands
// in result fields; it never returns an error.
func (r *Retriever) vectorLeg(ctx context.Context, question string, opts Options, result *Result) {
	result.Vector = []*vector.Result{}

	idx, err := r.vectors.Existing()
	if err != nil {
		result.VectorError = err.Error()
		return
	}
	if idx == nil {
		result.VectorError = "vector index not built yet"
		return
	}
	result.IndexDim = idx.Dim()
	result.IndexCount = idx.Count()

	embedder := r.embed.Embedder()

	dim, err := embedder.Dimensions(ctx)
	if err != nil {
		result.VectorError = fmt.Sprintf("embedding backend unavailable: %v", err)
		return
	}
	result.EmbedderDim = dim
	if dim != idx.Dim() {
		result.DimensionMismatch = true
		result.VectorError = fmt.Sprintf(
			"embedding model %s produces dimension %d but the index has dimension %d",
			embedder.ModelName(), dim, idx.Dim())
		return
	}

	embedStart := time.Now()
	query, err := embedder.Embed(ctx, question)
	result.Timings.EmbedMS = msSince(embedStart)
	if err != nil {
		result.VectorError = err.Error()
		return
	}

	searchStart := time.Now()
	hits, err := idx.Search(ctx, query, opts.KVec)
	result.Timings.VectorMS = msSince(searchStart)
	if err != nil {
		result.VectorError = err.Error()
		return
	}
	result.Vector = hits
}

// hydrate loads chunk rows for the fused ids, preserving fused order.
func (r *Retriever) hydrate(ctx context.Context, fused []*FusedResult) ([]*Hit, error) {
	if len(fused) == 0 {
		return []*Hit{}, nil
	}

	ids := make([]int64, len(fused))
	byID := make(map[int64]*FusedResult, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
		byID[f.ChunkID] = f
	}

	chunks, err := r.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeRetrievalFailed, err)
	}

	hits := make([]*Hit, 0, len(chunks))
	for _, c := range chunks {
		f := byID[c.ID]
		hits = append(hits, &Hit{
			ChunkID:    c.ID,
			Filename:   c.Filename,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Text,
			Score:      f.Score,
			LexRank:    f.LexRank,
			LexScore:   f.LexScore,
			VecRank:    f.VecRank,
			VecScore:   f.VecScore,
			InBoth:     f.InBoth,
		})
	}
	return hits, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
