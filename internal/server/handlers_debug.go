package server

import (
	"net/http"

	"github.com/ragkb/ragkb/internal/answer"
	ragerr "github.com/ragkb/ragkb/internal/errors"
	"github.com/ragkb/ragkb/internal/search"
	"github.com/ragkb/ragkb/internal/store"
)

// debugRetrievalRequest exposes every retrieval knob for one call. Query
// is canonical, Question an alias. ExplicitExpr runs the lexical leg
// verbatim, bypassing query preprocessing.
type debugRetrievalRequest struct {
	Query        string  `json:"query"`
	Question     string  `json:"question"`
	BM25K        int     `json:"bm25_k"`
	VecK         int     `json:"vec_k"`
	FinalK       int     `json:"final_k"`
	Mode         string  `json:"mode"`
	ExplicitExpr string  `json:"explicit_expr"`
	MaxTerms     int     `json:"max_terms"`
	RRFK         int     `json:"rrf_k"`
	WLex         float64 `json:"w_lex"`
	WVec         float64 `json:"w_vec"`
}

func (q debugRetrievalRequest) text() string {
	if q.Query != "" {
		return q.Query
	}
	return q.Question
}

type debugRetrievalResponse struct {
	Query   debugQuery     `json:"query"`
	Result  *search.Result `json:"result"`
	Overlap debugOverlap   `json:"overlap"`
	RRF     debugRRF       `json:"rrf"`
	Counts  store.Counts   `json:"store_counts"`
}

type debugQuery struct {
	Question  string   `json:"question"`
	MatchExpr string   `json:"match_expr"`
	Mode      string   `json:"mode"`
	Terms     []string `json:"terms"`
}

type debugOverlap struct {
	InBoth      int `json:"in_both"`
	LexicalOnly int `json:"lexical_only"`
	VectorOnly  int `json:"vector_only"`
}

type debugRRF struct {
	K             int     `json:"k"`
	LexicalWeight float64 `json:"lexical_weight"`
	VectorWeight  float64 `json:"vector_weight"`
	FinalK        int     `json:"final_k"`
}

func (s *Server) handleDebugRetrieval(w http.ResponseWriter, r *http.Request) {
	var req debugRetrievalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	question := req.text()
	if question == "" && req.ExplicitExpr == "" {
		writeError(w, ragerr.New(ragerr.ErrCodeEmptyQuestion, "field 'query' is required", nil))
		return
	}

	opts := search.Options{
		KLex:         req.BM25K,
		KVec:         req.VecK,
		FinalK:       req.FinalK,
		Mode:         store.QueryMode(req.Mode),
		RRFK:         req.RRFK,
		Weights:      search.Weights{Lexical: req.WLex, Vector: req.WVec},
		ExplicitExpr: req.ExplicitExpr,
		MaxTerms:     req.MaxTerms,
	}

	result, err := s.deps.Retriever.Retrieve(r.Context(), question, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	counts, err := s.deps.Store.Counts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var overlap debugOverlap
	for _, f := range result.Fused {
		switch {
		case f.InBoth:
			overlap.InBoth++
		case f.LexRank > 0:
			overlap.LexicalOnly++
		default:
			overlap.VectorOnly++
		}
	}

	cfg := s.deps.Config.Retrieval
	rrf := debugRRF{
		K:             pick(req.RRFK, cfg.RRFConstant),
		LexicalWeight: req.WLex,
		VectorWeight:  req.WVec,
		FinalK:        pick(req.FinalK, cfg.FinalK),
	}
	if req.WLex == 0 && req.WVec == 0 {
		rrf.LexicalWeight = cfg.LexicalWeight
		rrf.VectorWeight = cfg.VectorWeight
	}

	writeJSON(w, http.StatusOK, debugRetrievalResponse{
		Query: debugQuery{
			Question:  question,
			MatchExpr: result.MatchExpr,
			Mode:      string(result.Mode),
			Terms:     result.Terms,
		},
		Result:  result,
		Overlap: overlap,
		RRF:     rrf,
		Counts:  counts,
	})
}

// debugCitationsRequest either runs the full answer path for a query,
// returning the generated answer with its citation report, or, when
// Answer is set instead, validates that text standalone against
// AllowedIDs.
type debugCitationsRequest struct {
	Query     string `json:"query"`
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	TopK      int    `json:"top_k"`
	Mode      string `json:"mode"`

	MinUniqueCitations          int   `json:"min_unique_citations"`
	RequireCitationPerParagraph *bool `json:"require_citation_per_paragraph"`
	RewriteOnFail               *bool `json:"rewrite_on_fail"`

	Answer     string  `json:"answer"`
	AllowedIDs []int64 `json:"allowed_ids"`
}

func (q debugCitationsRequest) text() string {
	if q.Query != "" {
		return q.Query
	}
	return q.Question
}

type debugCitationsResponse struct {
	Answer         string          `json:"answer"`
	Sources        []answer.Source `json:"sources"`
	CitationOK     bool            `json:"citation_ok"`
	CitationReport *answer.Report  `json:"citation_report"`
	Debug          *answer.Debug   `json:"debug,omitempty"`
}

func (s *Server) handleDebugCitations(w http.ResponseWriter, r *http.Request) {
	var req debugCitationsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	// Standalone validation of caller-supplied text.
	if req.text() == "" {
		policy := answer.DefaultPolicy()
		if req.MinUniqueCitations > 0 {
			policy.MinUnique = req.MinUniqueCitations
		}
		if req.RequireCitationPerParagraph != nil {
			policy.RequirePerParagraph = *req.RequireCitationPerParagraph
		}
		report := answer.ValidateCitations(req.Answer, req.AllowedIDs, policy)
		writeJSON(w, http.StatusOK, debugCitationsResponse{
			Answer:         req.Answer,
			Sources:        []answer.Source{},
			CitationOK:     report.Valid,
			CitationReport: report,
		})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "debug-citations"
	}

	resp, err := s.deps.Assembler.Answer(r.Context(), sessionID, req.text(), answer.Opts{
		TopK:                req.TopK,
		Mode:                store.QueryMode(req.Mode),
		MinUnique:           req.MinUniqueCitations,
		RequirePerParagraph: req.RequireCitationPerParagraph,
		RewriteOnFail:       req.RewriteOnFail,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, debugCitationsResponse{
		Answer:         resp.Answer,
		Sources:        resp.Sources,
		CitationOK:     resp.Debug.CitationOK,
		CitationReport: resp.Debug.CitationReport,
		Debug:          &resp.Debug,
	})
}

func pick(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}
