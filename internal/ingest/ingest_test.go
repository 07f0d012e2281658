package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragkb/ragkb/internal/model"
	"github.com/ragkb/ragkb/internal/store"
	"github.com/ragkb/ragkb/internal/vector"
)

// hashEmbedder produces deterministic unit vectors without a backend.
type hashEmbedder struct {
	dim      int
	embedErr error
	calls    int
}

func (h *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if h.embedErr != nil {
		return nil, h.embedErr
	}
	v := make([]float32, h.dim)
	for i, r := range text {
		v[i%h.dim] += float32(r % 13)
	}
	v[0] += 1
	return v, nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	h.calls++
	if h.embedErr != nil {
		return nil, h.embedErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *hashEmbedder) Dimensions(ctx context.Context) (int, error) { return h.dim, nil }
func (h *hashEmbedder) ModelName() string                           { return "hash-embed" }
func (h *hashEmbedder) Available(ctx context.Context) bool          { return true }
func (h *hashEmbedder) Close() error                                { return nil }

type staticSource struct{ e model.Embedder }

func (s staticSource) Embedder() model.Embedder { return s.e }

func newTestPipeline(t *testing.T, embedder model.Embedder) (*Pipeline, *store.Store, *vector.Manager, string) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "ragkb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vm := vector.NewManager(filepath.Join(dir, "vectors.hnsw"), vector.Config{})
	t.Cleanup(func() { _ = vm.Close() })

	rawDir := filepath.Join(dir, "raw")
	p := NewPipeline(st, vm, staticSource{embedder}, NewSplitter(200, 40), rawDir)
	return p, st, vm, rawDir
}

func TestIngest_TextFileEndToEnd(t *testing.T) {
	p, st, vm, rawDir := newTestPipeline(t, &hashEmbedder{dim: 8})

	var sb strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "Paragraph %d talks about the retrieval system.\n\n", i)
	}

	summary, err := p.Ingest(context.Background(), []File{
		{Name: "notes.txt", ContentType: "text/plain", Data: []byte(sb.String())},
	})
	require.NoError(t, err)

	require.Len(t, summary.Files, 1)
	result := summary.Files[0]
	assert.Equal(t, StatusIngested, result.Status)
	assert.Greater(t, result.Chunks, 1)
	assert.Equal(t, result.Chunks, result.Vectors)
	assert.Equal(t, 1, summary.DocumentsAdded)
	assert.Equal(t, result.Chunks, summary.ChunksAdded)
	assert.Equal(t, result.Vectors, summary.VectorsAdded)

	counts, err := st.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Documents)
	assert.Equal(t, result.Chunks, counts.Chunks)
	assert.Equal(t, result.Chunks, counts.FTSEntries)

	// Blob written under raw/ with the digest prefix.
	entries, err := os.ReadDir(rawDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "_notes.txt"))

	// Index checkpointed with one vector per chunk.
	idx, err := vm.Existing()
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, result.Chunks, idx.Count())
}

func TestIngest_DuplicateContentSkipped(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &hashEmbedder{dim: 8})
	data := []byte("the same content twice under different names")

	summary, err := p.Ingest(context.Background(), []File{
		{Name: "first.txt", Data: data},
		{Name: "second.txt", Data: data},
	})
	require.NoError(t, err)

	require.Len(t, summary.Files, 2)
	assert.Equal(t, StatusIngested, summary.Files[0].Status)
	assert.Equal(t, StatusDuplicate, summary.Files[1].Status)
	assert.Contains(t, summary.Files[1].Detail, "first.txt")
	assert.Equal(t, 1, summary.DocumentsAdded)
	assert.Equal(t, []string{"first.txt", "second.txt"}, summary.Received)
	assert.Equal(t, []string{"second.txt"}, summary.Skipped)
}

func TestIngest_EmptyFile(t *testing.T) {
	p, st, _, _ := newTestPipeline(t, &hashEmbedder{dim: 8})

	summary, err := p.Ingest(context.Background(), []File{
		{Name: "blank.txt", Data: []byte("   \n\n  ")},
	})
	require.NoError(t, err)

	require.Len(t, summary.Files, 1)
	assert.Equal(t, StatusEmpty, summary.Files[0].Status)
	assert.Equal(t, 0, summary.ChunksAdded)

	// The document row is kept so re-uploads dedupe.
	counts, err := st.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Documents)
	assert.Equal(t, 0, counts.Chunks)
}

func TestIngest_EmbedFailureLeavesChunksLexical(t *testing.T) {
	embedder := &hashEmbedder{dim: 8, embedErr: fmt.Errorf("backend down")}
	p, st, vm, _ := newTestPipeline(t, embedder)

	summary, err := p.Ingest(context.Background(), []File{
		{Name: "doc.txt", Data: []byte("searchable text that never gets a vector")},
	})
	require.NoError(t, err)

	require.Len(t, summary.Files, 1)
	result := summary.Files[0]
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Detail, "backend down")
	assert.Equal(t, 0, summary.VectorsAdded)

	// Lexical search still works.
	hits, err := st.MatchChunks(context.Background(), "searchable", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// No vector index was created.
	idx, err := vm.Existing()
	require.NoError(t, err)
	assert.Nil(t, idx)
}

func TestIngest_CorruptPDFReportsError(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &hashEmbedder{dim: 8})

	summary, err := p.Ingest(context.Background(), []File{
		{Name: "broken.pdf", ContentType: "application/pdf", Data: []byte("not a pdf at all")},
	})
	require.NoError(t, err)

	require.Len(t, summary.Files, 1)
	assert.Equal(t, StatusError, summary.Files[0].Status)
	assert.Equal(t, 0, summary.DocumentsAdded)
}

func TestIngest_PathStrippedFromFilename(t *testing.T) {
	p, st, _, _ := newTestPipeline(t, &hashEmbedder{dim: 8})

	summary, err := p.Ingest(context.Background(), []File{
		{Name: "../../etc/passwd.txt", Data: []byte("just some text")},
	})
	require.NoError(t, err)

	require.Len(t, summary.Files, 1)
	assert.Equal(t, "passwd.txt", summary.Files[0].Filename)

	docs, err := st.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "passwd.txt", docs[0].Filename)
}

func TestIngest_SecondBatchReusesIndex(t *testing.T) {
	p, _, vm, _ := newTestPipeline(t, &hashEmbedder{dim: 8})

	_, err := p.Ingest(context.Background(), []File{
		{Name: "a.txt", Data: []byte("first document body")},
	})
	require.NoError(t, err)

	_, err = p.Ingest(context.Background(), []File{
		{Name: "b.txt", Data: []byte("second document body")},
	})
	require.NoError(t, err)

	idx, err := vm.Existing()
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, 2, idx.Count())
	assert.Equal(t, 8, idx.Dim())
}
