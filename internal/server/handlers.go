package server

import (
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	ragerr "github.com/ragkb/ragkb/internal/errors"
	"github.com/ragkb/ragkb/internal/model"
	"github.com/ragkb/ragkb/internal/telemetry"
	"github.com/ragkb/ragkb/internal/vector"
)

type healthResponse struct {
	Status          string            `json:"status"`
	Models          map[string]string `json:"models"`
	OllamaReachable bool              `json:"ollama_reachable"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	chatModel, embedModel := s.deps.Registry.Current()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		Models:          map[string]string{"chat": chatModel, "embed": embedModel},
		OllamaReachable: model.Reachable(r.Context(), s.deps.Config.Ollama.BaseURL),
	})
}

type statsResponse struct {
	ChunkStore   chunkStoreStats    `json:"chunk_store"`
	VectorIndex  vectorIndexStats   `json:"vector_index"`
	Accelerator  acceleratorStats   `json:"accelerator"`
	Runtime      runtimeStats       `json:"runtime"`
	QueryMetrics telemetry.Snapshot `json:"query_metrics"`
}

type chunkStoreStats struct {
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	FTSEntries int `json:"fts_entries"`
}

type vectorIndexStats struct {
	Exists        bool   `json:"exists"`
	NTotal        int    `json:"ntotal"`
	Dim           int    `json:"dim"`
	IndexType     string `json:"index_type"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

// acceleratorStats reports GPU availability. The HNSW implementation is
// pure Go, so both fields are always zero; the shape is kept for clients.
type acceleratorStats struct {
	BuildHasGPU    bool `json:"build_has_gpu"`
	DevicesVisible int  `json:"devices_visible"`
}

type runtimeStats struct {
	BaseURL      string `json:"base_url"`
	ChatModel    string `json:"chat_model"`
	EmbedModel   string `json:"embed_model"`
	NumPredict   int    `json:"num_predict"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	RRFConstant  int    `json:"rrf_k"`
	FinalK       int    `json:"final_k"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Store.Counts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	indexPath := s.deps.Config.VectorIndexPath()
	dim, _ := vector.ReadIndexDim(indexPath)
	count, _ := vector.ReadIndexCount(indexPath)

	var sizeBytes int64
	exists := false
	if info, err := os.Stat(indexPath); err == nil {
		exists = true
		sizeBytes = info.Size()
	}

	chatModel, embedModel := s.deps.Registry.Current()
	cfg := s.deps.Config

	writeJSON(w, http.StatusOK, statsResponse{
		ChunkStore: chunkStoreStats{
			Documents:  counts.Documents,
			Chunks:     counts.Chunks,
			FTSEntries: counts.FTSEntries,
		},
		VectorIndex: vectorIndexStats{
			Exists:        exists,
			NTotal:        count,
			Dim:           dim,
			IndexType:     "hnsw",
			FileSizeBytes: sizeBytes,
		},
		Accelerator: acceleratorStats{},
		QueryMetrics: s.deps.Metrics.Snapshot(),
		Runtime: runtimeStats{
			BaseURL:      cfg.Ollama.BaseURL,
			ChatModel:    chatModel,
			EmbedModel:   embedModel,
			NumPredict:   cfg.Ollama.NumPredict,
			ChunkSize:    cfg.Ingest.ChunkSize,
			ChunkOverlap: cfg.Ingest.ChunkOverlap,
			RRFConstant:  cfg.Retrieval.RRFConstant,
			FinalK:       cfg.Retrieval.FinalK,
		},
	})
}

type chunkResponse struct {
	ChunkID    int64  `json:"chunk_id"`
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, ragerr.ValidationError("chunk id must be an integer", err))
		return
	}

	chunk, err := s.deps.Store.GetChunk(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chunkResponse{
		ChunkID:    chunk.ID,
		DocumentID: chunk.DocumentID,
		Filename:   chunk.Filename,
		ChunkIndex: chunk.ChunkIndex,
		Text:       chunk.Text,
	})
}

type installedModel struct {
	Name        string  `json:"name"`
	SizeGB      float64 `json:"size_gb"`
	IsEmbedding bool    `json:"is_embedding"`
}

type listModelsResponse struct {
	Models []installedModel  `json:"models"`
	Active map[string]string `json:"active"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	infos, err := model.ListModels(r.Context(), s.deps.Config.Ollama.BaseURL)
	if err != nil {
		writeError(w, ragerr.New(ragerr.ErrCodeModelUnreachable, err.Error(), err).
			WithSuggestion("check that Ollama is running ('ollama serve')"))
		return
	}

	models := make([]installedModel, len(infos))
	for i, info := range infos {
		models[i] = installedModel{
			Name:        info.Name,
			SizeGB:      info.SizeGB(),
			IsEmbedding: info.IsEmbedding(),
		}
	}

	chatModel, embedModel := s.deps.Registry.Current()
	writeJSON(w, http.StatusOK, listModelsResponse{
		Models: models,
		Active: map[string]string{"chat": chatModel, "embed": embedModel},
	})
}

func (s *Server) handleSwapModels(w http.ResponseWriter, r *http.Request) {
	var req model.SwapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result := s.deps.Registry.Swap(r.Context(), req)
	if len(result.Errors) > 0 {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
