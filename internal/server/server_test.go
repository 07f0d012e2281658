package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragkb/ragkb/internal/answer"
	"github.com/ragkb/ragkb/internal/config"
	ragerr "github.com/ragkb/ragkb/internal/errors"
	"github.com/ragkb/ragkb/internal/ingest"
	"github.com/ragkb/ragkb/internal/model"
	"github.com/ragkb/ragkb/internal/search"
	"github.com/ragkb/ragkb/internal/store"
	"github.com/ragkb/ragkb/internal/telemetry"
	"github.com/ragkb/ragkb/internal/vector"
)

type testChat struct {
	name  string
	reply string
	err   error
}

func (c *testChat) Chat(ctx context.Context, messages []model.Message) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}
func (c *testChat) ModelName() string { return c.name }
func (c *testChat) Close() error      { return nil }

type testEmbedder struct {
	name string
	dim  int
}

func (e *testEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dim)
	for i, r := range text {
		v[i%e.dim] += float32(r%7) + 1
	}
	return v, nil
}
func (e *testEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}
func (e *testEmbedder) Dimensions(ctx context.Context) (int, error) { return e.dim, nil }
func (e *testEmbedder) ModelName() string                           { return e.name }
func (e *testEmbedder) Available(ctx context.Context) bool          { return true }
func (e *testEmbedder) Close() error                                { return nil }

// testHarness wires a full server over temp storage and fake models.
type testHarness struct {
	server *Server
	store  *store.Store
	chat   *testChat
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	// Nothing listens here; health checks must come back unreachable.
	cfg.Ollama.BaseURL = "http://127.0.0.1:1"
	require.NoError(t, cfg.EnsureDataDirs())

	st, err := store.Open(cfg.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vm := vector.NewManager(cfg.VectorIndexPath(), vector.Config{})
	t.Cleanup(func() { _ = vm.Close() })

	chat := &testChat{name: cfg.Ollama.ChatModel, reply: "Answer. [cid:1]"}
	factories := model.Factories{
		NewChat: func(name string) model.ChatClient {
			if strings.HasPrefix(name, "missing") {
				return &testChat{name: name, err: ragerr.New(ragerr.ErrCodeUnknownModel, "not found", nil)}
			}
			chat.name = name
			return chat
		},
		NewEmbedder: func(name string) model.Embedder {
			// "small" models embed into a different dimension, so swapping
			// to one strands an existing index.
			dim := 4
			if strings.Contains(name, "small") {
				dim = 3
			}
			return &testEmbedder{name: name, dim: dim}
		},
	}
	registry := model.NewRegistry(factories, cfg.ModelConfigPath(), cfg.VectorIndexPath(),
		cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel)
	t.Cleanup(func() { _ = registry.Close() })

	splitter := ingest.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	pipeline := ingest.NewPipeline(st, vm, registry, splitter, cfg.RawDir())

	matcher := store.NewMatchBuilder(cfg.Retrieval.MaxQueryTerms, cfg.Retrieval.ExtraStopwords)
	retriever := search.NewRetriever(st, vm, registry, matcher, search.Options{})
	assembler := answer.NewAssembler(st, retriever, registry, answer.NewCleaner(nil), answer.Settings{
		MemoryK:             cfg.Answer.MemoryK,
		MinUnique:           cfg.Answer.MinUniqueCitations,
		RequirePerParagraph: cfg.Answer.RequireCitationPerParagraph,
		RewriteOnFail:       cfg.Answer.RewriteOnFail,
	})

	srv := New(Deps{
		Config:    cfg,
		Store:     st,
		Vectors:   vm,
		Registry:  registry,
		Pipeline:  pipeline,
		Retriever: retriever,
		Assembler: assembler,
		Metrics:   telemetry.NewQueryMetrics(),
	})

	return &testHarness{server: srv, store: st, chat: chat}
}

func (h *testHarness) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *testHarness) ingestFiles(t *testing.T, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return h.do(t, http.MethodPost, "/ingest", &buf, mw.FormDataContentType())
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[healthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "gemma3:1b", resp.Models["chat"])
	assert.Equal(t, "mxbai-embed-large", resp.Models["embed"])
	assert.False(t, resp.OllamaReachable)
}

func TestIngestEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.ingestFiles(t, map[string]string{
		"a.txt": "databases store rows in tables",
		"b.txt": "vectors approximate meaning",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decodeBody[ingest.Summary](t, rec)
	assert.Equal(t, 2, summary.DocumentsAdded)
	assert.Len(t, summary.Received, 2)
	assert.Empty(t, summary.Skipped)
	require.Len(t, summary.Files, 2)
	for _, f := range summary.Files {
		assert.Equal(t, ingest.StatusIngested, f.Status)
	}
}

func TestIngestEndpoint_DuplicateSkipped(t *testing.T) {
	h := newHarness(t)
	h.ingestFiles(t, map[string]string{"a.txt": "databases store rows in tables"})
	rec := h.ingestFiles(t, map[string]string{"copy.txt": "databases store rows in tables"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decodeBody[ingest.Summary](t, rec)
	assert.Equal(t, []string{"copy.txt"}, summary.Received)
	assert.Equal(t, []string{"copy.txt"}, summary.Skipped)
	assert.Zero(t, summary.DocumentsAdded)
}

func TestIngestEndpoint_NoFiles(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	rec := h.do(t, http.MethodPost, "/ingest", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[errorBody](t, rec)
	assert.Equal(t, ragerr.ErrCodeInvalidInput, resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Suggestion)
}

func TestStatsAfterIngest(t *testing.T) {
	h := newHarness(t)
	h.ingestFiles(t, map[string]string{"a.txt": "databases store rows in tables"})

	rec := h.do(t, http.MethodGet, "/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[statsResponse](t, rec)
	assert.Equal(t, 1, resp.ChunkStore.Documents)
	assert.Equal(t, resp.ChunkStore.Chunks, resp.ChunkStore.FTSEntries)
	assert.True(t, resp.VectorIndex.Exists)
	assert.Equal(t, resp.ChunkStore.Chunks, resp.VectorIndex.NTotal)
	assert.Equal(t, 4, resp.VectorIndex.Dim)
	assert.Equal(t, "hnsw", resp.VectorIndex.IndexType)
	assert.False(t, resp.Accelerator.BuildHasGPU)
	assert.Equal(t, "gemma3:1b", resp.Runtime.ChatModel)
	assert.Equal(t, 60, resp.Runtime.RRFConstant)
}

func TestQueryEndpoint(t *testing.T) {
	h := newHarness(t)
	h.ingestFiles(t, map[string]string{"a.txt": "databases store rows in tables"})

	body := strings.NewReader(`{"query": "databases", "session_id": "s1"}`)
	rec := h.do(t, http.MethodPost, "/query", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[answer.Response](t, rec)
	assert.True(t, resp.Debug.CitationOK)
	require.NotNil(t, resp.Debug.CitationReport)
	assert.False(t, resp.Debug.DimensionMismatch)
	assert.Contains(t, resp.Answer, "[cid:1]")
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, "a.txt", resp.Sources[0].Filename)
	assert.Equal(t, 0, resp.Sources[0].ChunkIndex)
	assert.Greater(t, resp.Sources[0].FusedScore, 0.0)
}

func TestQueryEndpoint_QuestionAlias(t *testing.T) {
	h := newHarness(t)
	h.ingestFiles(t, map[string]string{"a.txt": "databases store rows in tables"})

	body := strings.NewReader(`{"question": "databases", "session_id": "s1"}`)
	rec := h.do(t, http.MethodPost, "/query", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[answer.Response](t, rec)
	require.NotEmpty(t, resp.Sources)
}

func TestQueryEndpoint_PerRequestKnobs(t *testing.T) {
	h := newHarness(t)
	files := map[string]string{}
	for i := 0; i < 5; i++ {
		files[fmt.Sprintf("f%d.txt", i)] = fmt.Sprintf("databases entry %d describes databases", i)
	}
	h.ingestFiles(t, files)

	body := strings.NewReader(`{"query": "databases", "session_id": "s1",
		"bm25_k": 2, "vec_k": 2, "top_k": 2, "memory_k": 0}`)
	rec := h.do(t, http.MethodPost, "/query", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[answer.Response](t, rec)
	assert.LessOrEqual(t, len(resp.Sources), 2)
	assert.LessOrEqual(t, resp.Debug.BM25Hits, 2)
	assert.LessOrEqual(t, resp.Debug.VecHits, 2)
}

func TestQueryEndpoint_DimensionMismatchDegrades(t *testing.T) {
	h := newHarness(t)
	h.ingestFiles(t, map[string]string{"a.txt": "databases store rows in tables"})

	// Swap to an embedder with a different dimension; the index stays at 4.
	rec := h.do(t, http.MethodPost, "/models",
		strings.NewReader(`{"embed_model": "small-embed"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := strings.NewReader(`{"query": "databases", "session_id": "s1"}`)
	rec = h.do(t, http.MethodPost, "/query", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[answer.Response](t, rec)
	assert.True(t, resp.Debug.DimensionMismatch)
	assert.Zero(t, resp.Debug.VecHits, "vector leg skipped")
	assert.Greater(t, resp.Debug.BM25Hits, 0, "lexical leg still serves")
	require.NotEmpty(t, resp.Sources)
}

func TestQueryMetricsInStats(t *testing.T) {
	h := newHarness(t)
	h.ingestFiles(t, map[string]string{"a.txt": "databases store rows in tables"})

	body := strings.NewReader(`{"question": "databases", "session_id": "m1"}`)
	rec := h.do(t, http.MethodPost, "/query", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[statsResponse](t, rec)
	assert.Equal(t, int64(1), resp.QueryMetrics.TotalQueries)
	assert.Equal(t, int64(0), resp.QueryMetrics.ZeroResultCount)
	require.NotEmpty(t, resp.QueryMetrics.TopTerms)
	assert.Equal(t, "databases", resp.QueryMetrics.TopTerms[0].Term)
}

func TestQueryEndpoint_EmptyQuestion(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/query", strings.NewReader(`{"question": ""}`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[errorBody](t, rec)
	assert.Equal(t, ragerr.ErrCodeEmptyQuestion, resp.Error.Code)
}

func TestQueryEndpoint_MalformedJSON(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/query", strings.NewReader(`{"question": `), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChunkEndpoint(t *testing.T) {
	h := newHarness(t)
	h.ingestFiles(t, map[string]string{"a.txt": "databases store rows in tables"})

	rec := h.do(t, http.MethodGet, "/chunks/1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[chunkResponse](t, rec)
	assert.Equal(t, int64(1), resp.ChunkID)
	assert.Equal(t, "a.txt", resp.Filename)
	assert.Contains(t, resp.Text, "databases")
}

func TestChunkEndpoint_NotFound(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/chunks/9999", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeBody[errorBody](t, rec)
	assert.Equal(t, ragerr.ErrCodeChunkNotFound, resp.Error.Code)
}

func TestChunkEndpoint_BadID(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/chunks/abc", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDebugRetrieval(t *testing.T) {
	h := newHarness(t)
	h.ingestFiles(t, map[string]string{"a.txt": "databases store rows in tables"})

	body := strings.NewReader(`{"query": "databases", "final_k": 3}`)
	rec := h.do(t, http.MethodPost, "/debug/retrieval", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[debugRetrievalResponse](t, rec)
	assert.Equal(t, "databases", resp.Query.Question)
	assert.Equal(t, "databases", resp.Query.MatchExpr)
	assert.Equal(t, []string{"databases"}, resp.Query.Terms)
	assert.Equal(t, 60, resp.RRF.K)
	assert.Equal(t, 3, resp.RRF.FinalK)
	assert.Equal(t, 1.0, resp.RRF.LexicalWeight)
	assert.Equal(t, 1, resp.Counts.Documents)
	require.NotNil(t, resp.Result)
	assert.NotEmpty(t, resp.Result.Hits)
}

func TestDebugRetrieval_MissingQuery(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/debug/retrieval", strings.NewReader(`{}`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDebugRetrieval_ExplicitExpressionAndKnobs(t *testing.T) {
	h := newHarness(t)
	h.ingestFiles(t, map[string]string{
		"a.txt": "databases store rows in tables",
		"b.txt": "the weather was sunny all week",
	})

	body := strings.NewReader(`{"query": "unrelated", "explicit_expr": "weather",
		"rrf_k": 30, "w_lex": 2.0, "w_vec": 0.5}`)
	rec := h.do(t, http.MethodPost, "/debug/retrieval", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[debugRetrievalResponse](t, rec)
	assert.Equal(t, "weather", resp.Query.MatchExpr)
	assert.Equal(t, 30, resp.RRF.K)
	assert.Equal(t, 2.0, resp.RRF.LexicalWeight)
	assert.Equal(t, 0.5, resp.RRF.VectorWeight)
	require.NotEmpty(t, resp.Result.Lexical)
	assert.Equal(t, "b.txt", resp.Result.Lexical[0].Filename)
}

func TestDebugCitations_RunsQueryPath(t *testing.T) {
	h := newHarness(t)
	h.ingestFiles(t, map[string]string{"a.txt": "databases store rows in tables"})

	body := strings.NewReader(`{"query": "databases"}`)
	rec := h.do(t, http.MethodPost, "/debug/citations", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[debugCitationsResponse](t, rec)
	assert.Contains(t, resp.Answer, "[cid:1]")
	require.NotEmpty(t, resp.Sources)
	assert.True(t, resp.CitationOK)
	require.NotNil(t, resp.CitationReport)
	require.NotNil(t, resp.Debug)
	assert.Greater(t, resp.Debug.BM25Hits, 0)
}

func TestDebugCitations_StandaloneReport(t *testing.T) {
	h := newHarness(t)
	body := strings.NewReader(`{"answer": "Claim. [cid:5]", "allowed_ids": [5]}`)
	rec := h.do(t, http.MethodPost, "/debug/citations", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[debugCitationsResponse](t, rec)
	assert.True(t, resp.CitationOK)
	require.NotNil(t, resp.CitationReport)
	assert.Equal(t, answer.ReasonOK, resp.CitationReport.Reason)
}

func TestSwapModels_UnknownChatRejected(t *testing.T) {
	h := newHarness(t)
	body := strings.NewReader(`{"chat_model": "missing:1b"}`)
	rec := h.do(t, http.MethodPost, "/models", body, "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	result := decodeBody[model.SwapResult](t, rec)
	assert.Empty(t, result.Changes)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "missing:1b")
}

func TestSwapModels_EmbedApplied(t *testing.T) {
	h := newHarness(t)
	body := strings.NewReader(`{"embed_model": "nomic-embed-text"}`)
	rec := h.do(t, http.MethodPost, "/models", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decodeBody[model.SwapResult](t, rec)
	require.Contains(t, result.Changes, "embed_model")
	assert.Equal(t, "nomic-embed-text", result.Changes["embed_model"].To)
}

func TestListModels(t *testing.T) {
	// Fake Ollama serving /api/tags.
	tags := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"models": [
			{"name": "gemma3:1b", "size": 815000000},
			{"name": "mxbai-embed-large", "size": 670000000}
		]}`)
	}))
	defer tags.Close()

	h := newHarness(t)
	h.server.deps.Config.Ollama.BaseURL = tags.URL

	rec := h.do(t, http.MethodGet, "/models", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[listModelsResponse](t, rec)
	require.Len(t, resp.Models, 2)
	assert.False(t, resp.Models[0].IsEmbedding)
	assert.True(t, resp.Models[1].IsEmbedding)
	assert.Equal(t, "gemma3:1b", resp.Active["chat"])
}

func TestListModels_BackendDown(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/models", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decodeBody[errorBody](t, rec)
	assert.Equal(t, ragerr.ErrCodeModelUnreachable, resp.Error.Code)
}
