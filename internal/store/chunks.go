package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	ragerr "github.com/ragkb/ragkb/internal/errors"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// ErrDuplicateDocument matches by code via errors.Is.
var ErrDuplicateDocument = ragerr.New(ragerr.ErrCodeDuplicateDocument, "document already ingested", nil)

// ErrChunkNotFound matches by code via errors.Is.
var ErrChunkNotFound = ragerr.New(ragerr.ErrCodeChunkNotFound, "chunk not found", nil)

// InsertDocument stores a document record and returns its id.
// A document whose sha256 is already present returns ErrDuplicateDocument
// carrying the stored filename in its details.
func (s *Store) InsertDocument(ctx context.Context, doc *Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (filename, stored_path, sha256, content_type, meta_json)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.Filename, doc.StoredPath, doc.SHA256, doc.ContentType, metaOrEmpty(doc.MetaJSON))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			existing, lookupErr := s.findBySHA256Locked(ctx, doc.SHA256)
			dup := ragerr.New(ragerr.ErrCodeDuplicateDocument,
				fmt.Sprintf("content of %s already ingested", doc.Filename), err)
			if lookupErr == nil {
				dup.WithDetail("existing_filename", existing.Filename)
			}
			return 0, dup
		}
		return 0, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}
	doc.ID = id
	return id, nil
}

// FindDocumentBySHA256 returns the document with the given digest, or nil
// when none exists.
func (s *Store) FindDocumentBySHA256(ctx context.Context, digest string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	return s.findBySHA256Locked(ctx, digest)
}

func (s *Store) findBySHA256Locked(ctx context.Context, digest string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, stored_path, sha256, content_type, meta_json, created_at
		 FROM documents WHERE sha256 = ?`, digest)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

// ListDocuments returns all documents ordered by id.
func (s *Store) ListDocuments(ctx context.Context) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, stored_path, sha256, content_type, meta_json, created_at
		 FROM documents ORDER BY id`)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// InsertChunks stores the chunk texts for a document and mirrors each into
// chunks_fts with the same rowid. All rows land in one transaction; any
// failure rolls the whole batch back. Returned ids are in input order.
func (s *Store) InsertChunks(ctx context.Context, documentID int64, texts []string) ([]int64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	chunkStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (document_id, chunk_index, text) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}
	defer chunkStmt.Close()

	ftsStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks_fts (rowid, text) VALUES (?, ?)`)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}
	defer ftsStmt.Close()

	ids := make([]int64, 0, len(texts))
	for i, text := range texts {
		res, err := chunkStmt.ExecContext(ctx, documentID, i, text)
		if err != nil {
			return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed,
				fmt.Errorf("failed to insert chunk %d: %w", i, err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
		}
		if _, err := ftsStmt.ExecContext(ctx, id, text); err != nil {
			return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed,
				fmt.Errorf("failed to mirror chunk %d into fts: %w", id, err))
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}
	return ids, nil
}

// GetChunk returns one chunk with its parent filename.
func (s *Store) GetChunk(ctx context.Context, id int64) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.document_id, c.chunk_index, c.text, d.filename
		 FROM chunks c JOIN documents d ON d.id = c.document_id
		 WHERE c.id = ?`, id)

	var c Chunk
	if err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &c.Filename); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ragerr.New(ragerr.ErrCodeChunkNotFound,
				fmt.Sprintf("chunk %d not found", id), nil)
		}
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}
	return &c, nil
}

// GetChunks hydrates a batch of chunk ids, preserving input order.
// Unknown ids are skipped.
func (s *Store) GetChunks(ctx context.Context, ids []int64) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(
		`SELECT c.id, c.document_id, c.chunk_index, c.text, d.filename
		 FROM chunks c JOIN documents d ON d.id = c.document_id
		 WHERE c.id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}
	defer rows.Close()

	byID := make(map[int64]*Chunk, len(ids))
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &c.Filename); err != nil {
			return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
		}
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}

	chunks := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// MatchChunks runs an FTS5 match expression and returns hits ordered by
// bm25() ascending (best first). An invalid expression yields no hits
// rather than an error; FTS5 syntax is not part of the public contract.
func (s *Store) MatchChunks(ctx context.Context, matchExpr string, limit int) ([]*LexicalHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if strings.TrimSpace(matchExpr) == "" || limit <= 0 {
		return []*LexicalHit{}, nil
	}

	query := `
		SELECT c.id, d.filename, c.text, bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, matchExpr, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalHit{}, nil
		}
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}
	defer rows.Close()

	var hits []*LexicalHit
	for rows.Next() {
		var h LexicalHit
		if err := rows.Scan(&h.ChunkID, &h.Filename, &h.Text, &h.Score); err != nil {
			return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
		}
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var createdAt string
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.StoredPath, &doc.SHA256,
		&doc.ContentType, &doc.MetaJSON, &createdAt); err != nil {
		return nil, err
	}
	if t, err := time.Parse(sqliteTimeLayout, createdAt); err == nil {
		doc.CreatedAt = t
	}
	return &doc, nil
}

func metaOrEmpty(meta string) string {
	if meta == "" {
		return "{}"
	}
	return meta
}
