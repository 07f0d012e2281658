// Package ingest turns uploaded files into indexed chunks: content-hash
// dedupe, blob storage, text extraction, splitting, and indexing into
// both the lexical and vector indexes.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ragerr "github.com/ragkb/ragkb/internal/errors"
	"github.com/ragkb/ragkb/internal/model"
	"github.com/ragkb/ragkb/internal/store"
	"github.com/ragkb/ragkb/internal/vector"
)

// File is one uploaded file.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// File ingestion statuses.
const (
	StatusIngested  = "ingested"
	StatusDuplicate = "duplicate"
	StatusEmpty     = "empty"
	StatusError     = "error"
)

// FileResult reports what happened to one uploaded file.
type FileResult struct {
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	DocumentID int64  `json:"document_id,omitempty"`
	Chunks     int    `json:"chunks,omitempty"`
	Vectors    int    `json:"vectors,omitempty"`
}

// Summary aggregates an ingest call. Received lists every filename in
// the batch; Skipped lists the ones deduplicated away.
type Summary struct {
	Received       []string     `json:"received"`
	Files          []FileResult `json:"files"`
	DocumentsAdded int          `json:"documents_added"`
	ChunksAdded    int          `json:"chunks_added"`
	VectorsAdded   int          `json:"vectors_added"`
	Skipped        []string     `json:"skipped"`
}

// EmbedderSource yields the currently active embedder. The model registry
// satisfies this; ingestion always embeds with whatever model is active
// at call time.
type EmbedderSource interface {
	Embedder() model.Embedder
}

// Pipeline ingests files end to end.
type Pipeline struct {
	store    *store.Store
	vectors  *vector.Manager
	embed    EmbedderSource
	splitter *Splitter
	rawDir   string
	log      *slog.Logger
}

// NewPipeline wires an ingest pipeline.
func NewPipeline(st *store.Store, vectors *vector.Manager, embed EmbedderSource, splitter *Splitter, rawDir string) *Pipeline {
	return &Pipeline{
		store:    st,
		vectors:  vectors,
		embed:    embed,
		splitter: splitter,
		rawDir:   rawDir,
		log:      slog.With("component", "ingest"),
	}
}

// Ingest processes the files in order. Failures are reported per file;
// one bad file never aborts the batch.
func (p *Pipeline) Ingest(ctx context.Context, files []File) (*Summary, error) {
	if err := os.MkdirAll(p.rawDir, 0o755); err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeBlobWriteFailed, err)
	}

	summary := &Summary{Received: []string{}, Skipped: []string{}}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := p.ingestOne(ctx, f)
		summary.Received = append(summary.Received, result.Filename)
		summary.Files = append(summary.Files, result)
		if result.Status == StatusIngested || result.Status == StatusEmpty {
			summary.DocumentsAdded++
		}
		if result.Status == StatusDuplicate {
			summary.Skipped = append(summary.Skipped, result.Filename)
		}
		summary.ChunksAdded += result.Chunks
		summary.VectorsAdded += result.Vectors
	}

	p.log.Info("ingest_complete",
		slog.Int("files", len(files)),
		slog.Int("documents_added", summary.DocumentsAdded),
		slog.Int("chunks_added", summary.ChunksAdded),
		slog.Int("vectors_added", summary.VectorsAdded))
	return summary, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, f File) FileResult {
	name := sanitizeFilename(f.Name)
	result := FileResult{Filename: name}

	sum := sha256.Sum256(f.Data)
	digest := hex.EncodeToString(sum[:])

	// Dedupe on content, not filename.
	existing, err := p.store.FindDocumentBySHA256(ctx, digest)
	if err != nil {
		return errorResult(result, err)
	}
	if existing != nil {
		result.Status = StatusDuplicate
		result.Detail = fmt.Sprintf("content already ingested as %s", existing.Filename)
		result.DocumentID = existing.ID
		return result
	}

	storedPath := filepath.Join(p.rawDir, digest+"_"+name)
	if err := os.WriteFile(storedPath, f.Data, 0o644); err != nil {
		return errorResult(result, ragerr.Wrap(ragerr.ErrCodeBlobWriteFailed, err))
	}

	extraction, err := extractText(name, f.ContentType, f.Data)
	if err != nil {
		return errorResult(result, err)
	}

	docID, err := p.store.InsertDocument(ctx, &store.Document{
		Filename:    name,
		StoredPath:  storedPath,
		SHA256:      digest,
		ContentType: f.ContentType,
		MetaJSON:    extraction.MetaJSON,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateDocument) {
			result.Status = StatusDuplicate
			result.Detail = err.Error()
			return result
		}
		return errorResult(result, err)
	}
	result.DocumentID = docID

	texts := p.splitter.Split(extraction.Text)
	if len(texts) == 0 {
		result.Status = StatusEmpty
		result.Detail = "no extractable text"
		return result
	}

	chunkIDs, err := p.store.InsertChunks(ctx, docID, texts)
	if err != nil {
		return errorResult(result, err)
	}
	result.Chunks = len(chunkIDs)

	vectorsAdded, err := p.indexVectors(ctx, chunkIDs, texts)
	if err != nil {
		// Chunks stay lexically searchable; surface the vector failure.
		p.log.Warn("vector_indexing_failed",
			slog.String("filename", name),
			slog.String("error", err.Error()))
		result.Status = StatusError
		result.Detail = err.Error()
		return result
	}
	result.Vectors = vectorsAdded

	result.Status = StatusIngested
	return result
}

// indexVectors embeds the chunk texts and adds them to the vector index,
// creating the index from the first batch's dimension when needed. The
// index checkpoints before Add returns.
func (p *Pipeline) indexVectors(ctx context.Context, chunkIDs []int64, texts []string) (int, error) {
	embedder := p.embed.Embedder()
	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 {
		return 0, nil
	}

	idx, err := p.vectors.GetOrCreate(len(vecs[0]))
	if err != nil {
		return 0, err
	}

	if err := idx.Add(ctx, chunkIDs, vecs); err != nil {
		var mismatch vector.ErrDimensionMismatch
		if errors.As(err, &mismatch) {
			return 0, ragerr.New(ragerr.ErrCodeDimensionMismatch, mismatch.Error(), err).
				WithDetail("expected", fmt.Sprintf("%d", mismatch.Expected)).
				WithDetail("got", fmt.Sprintf("%d", mismatch.Got)).
				WithSuggestion("reset the data directory or switch back to the embedding model the index was built with")
		}
		return 0, err
	}
	return len(chunkIDs), nil
}

func errorResult(result FileResult, err error) FileResult {
	result.Status = StatusError
	result.Detail = err.Error()
	return result
}

// sanitizeFilename strips any path components from an uploaded name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "upload.bin"
	}
	return name
}
