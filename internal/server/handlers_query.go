package server

import (
	"net/http"
	"time"

	"github.com/ragkb/ragkb/internal/answer"
	"github.com/ragkb/ragkb/internal/store"
	"github.com/ragkb/ragkb/internal/telemetry"
)

// queryRequest carries one question. Query is the canonical field;
// Question is accepted as an alias. The per-request knobs override the
// configured defaults when set.
type queryRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Question  string `json:"question"`
	BM25K     int    `json:"bm25_k"`
	VecK      int    `json:"vec_k"`
	TopK      int    `json:"top_k"`
	MemoryK   *int   `json:"memory_k"`
	Mode      string `json:"mode"`
}

func (q queryRequest) text() string {
	if q.Query != "" {
		return q.Query
	}
	return q.Question
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	resp, err := s.deps.Assembler.Answer(r.Context(), req.SessionID, req.text(), answer.Opts{
		TopK:    req.TopK,
		KLex:    req.BM25K,
		KVec:    req.VecK,
		MemoryK: req.MemoryK,
		Mode:    store.QueryMode(req.Mode),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.deps.Metrics.Record(telemetry.QueryEvent{
		Question:    req.text(),
		Kind:        queryKind(resp),
		ResultCount: resp.Debug.Fused,
		Latency:     time.Since(start),
	})
	writeJSON(w, http.StatusOK, resp)
}

// queryKind classifies which retrieval legs served the answer.
func queryKind(resp *answer.Response) telemetry.QueryKind {
	switch {
	case resp.Debug.VectorError != "" || resp.Debug.VecHits == 0:
		return telemetry.KindLexicalOnly
	case resp.Debug.BM25Hits == 0:
		return telemetry.KindVectorOnly
	default:
		return telemetry.KindHybrid
	}
}
