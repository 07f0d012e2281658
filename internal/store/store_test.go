package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/ragkb/ragkb/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addDocument(t *testing.T, s *Store, filename, digest string) int64 {
	t.Helper()
	id, err := s.InsertDocument(context.Background(), &Document{
		Filename:    filename,
		StoredPath:  "raw/" + digest + "_" + filename,
		SHA256:      digest,
		ContentType: "text/plain",
	})
	require.NoError(t, err)
	return id
}

func TestInsertDocument_DuplicateDigestRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addDocument(t, s, "notes.txt", "abc123")

	_, err := s.InsertDocument(ctx, &Document{
		Filename:   "renamed.txt",
		StoredPath: "raw/abc123_renamed.txt",
		SHA256:     "abc123",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateDocument))

	var se *ragerr.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "notes.txt", se.Details["existing_filename"])

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Documents)
}

func TestFindDocumentBySHA256(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addDocument(t, s, "a.txt", "d1")

	doc, err := s.FindDocumentBySHA256(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "a.txt", doc.Filename)

	missing, err := s.FindDocumentBySHA256(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertChunks_MirrorsIntoFTS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID := addDocument(t, s, "a.txt", "d1")

	ids, err := s.InsertChunks(ctx, docID, []string{
		"the solar array generates power",
		"battery storage smooths the output",
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Less(t, ids[0], ids[1])

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Chunks)
	assert.Equal(t, 2, counts.FTSEntries)
}

func TestInsertChunks_MissingDocumentLeavesNoRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertChunks(ctx, 42, []string{"orphan one", "orphan two"})
	require.Error(t, err)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Chunks)
	assert.Equal(t, 0, counts.FTSEntries)
}

func TestGetChunk_JoinsFilename(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID := addDocument(t, s, "manual.txt", "d1")
	ids, err := s.InsertChunks(ctx, docID, []string{"alpha text"})
	require.NoError(t, err)

	chunk, err := s.GetChunk(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "alpha text", chunk.Text)
	assert.Equal(t, "manual.txt", chunk.Filename)
	assert.Equal(t, docID, chunk.DocumentID)
}

func TestGetChunk_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetChunk(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChunkNotFound))
}

func TestGetChunks_PreservesInputOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID := addDocument(t, s, "a.txt", "d1")
	ids, err := s.InsertChunks(ctx, docID, []string{"one", "two", "three"})
	require.NoError(t, err)

	chunks, err := s.GetChunks(ctx, []int64{ids[2], ids[0], 777})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "three", chunks[0].Text)
	assert.Equal(t, "one", chunks[1].Text)
}

func TestMatchChunks_RanksByBM25(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID := addDocument(t, s, "a.txt", "d1")
	ids, err := s.InsertChunks(ctx, docID, []string{
		"inverter inverter inverter maintenance",
		"the inverter converts current",
		"battery chemistry details",
	})
	require.NoError(t, err)

	hits, err := s.MatchChunks(ctx, "inverter", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Best match first, raw bm25() scores are negative.
	assert.Equal(t, ids[0], hits[0].ChunkID)
	assert.Negative(t, hits[0].Score)
	assert.LessOrEqual(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "a.txt", hits[0].Filename)
}

func TestMatchChunks_InvalidSyntaxYieldsNoHits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docID := addDocument(t, s, "a.txt", "d1")
	_, err := s.InsertChunks(ctx, docID, []string{"some text"})
	require.NoError(t, err)

	hits, err := s.MatchChunks(ctx, `"unbalanced`, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMatchChunks_EmptyExpression(t *testing.T) {
	s := newTestStore(t)

	hits, err := s.MatchChunks(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChatMessages_WindowedRecall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, content := range []string{"q1", "a1", "q2", "a2", "q3"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		require.NoError(t, s.AppendMessage(ctx, "sess-1", role, content))
	}
	require.NoError(t, s.AppendMessage(ctx, "sess-2", "user", "other session"))

	msgs, err := s.RecentMessages(ctx, "sess-1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	// Last three, oldest first.
	assert.Equal(t, "q2", msgs[0].Content)
	assert.Equal(t, "a2", msgs[1].Content)
	assert.Equal(t, "q3", msgs[2].Content)

	none, err := s.RecentMessages(ctx, "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "ragkb.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	docID := addDocument(t, s, "a.txt", "d1")
	_, err = s.InsertChunks(ctx, docID, []string{"persisted chunk"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	counts, err := s2.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Documents)
	assert.Equal(t, 1, counts.Chunks)

	hits, err := s2.MatchChunks(ctx, "persisted", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
