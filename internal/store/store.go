// Package store persists documents, chunks, and chat history in a single
// SQLite database. The FTS5 mirror table chunks_fts shares rowids with the
// chunks table, so one chunk id keys both the relational row and the
// lexical index entry.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ragerr "github.com/ragkb/ragkb/internal/errors"
)

// Document is one ingested file.
type Document struct {
	ID          int64
	Filename    string
	StoredPath  string
	SHA256      string
	ContentType string
	MetaJSON    string
	CreatedAt   time.Time
}

// Chunk is one retrievable unit of text. Filename is denormalized from the
// parent document on read paths that need it.
type Chunk struct {
	ID         int64
	DocumentID int64
	ChunkIndex int
	Text       string
	Filename   string
}

// LexicalHit is one FTS5 match. Score is the raw bm25() value: negative,
// smaller (more negative) means a better match.
type LexicalHit struct {
	ChunkID  int64
	Filename string
	Text     string
	Score    float64
}

// ChatMessage is one turn in a session transcript.
type ChatMessage struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Counts summarizes store contents for stats and doctor checks.
type Counts struct {
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	FTSEntries int `json:"fts_entries"`
}

// Store wraps the SQLite database holding documents, chunks, the FTS5
// mirror, and chat history.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// validateIntegrity checks an existing database file before opening it for
// real use. A missing file is fine; it will be created.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Open opens (or creates) the store at path. An empty path opens an
// in-memory database for testing.
func Open(path string) (*Store, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, ragerr.New(ragerr.ErrCodeCorruptDatabase, err.Error(), err).
				WithDetail("path", path).
				WithSuggestion("run 'ragkb reset' and re-ingest your documents")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}

	// Single connection: SQLite has one writer, and the FTS mirror insert
	// must share the chunk insert's transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores DSN pragma parameters, set them explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, fmt.Errorf("failed to set pragma: %w", err))
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, fmt.Errorf("failed to initialize schema: %w", err))
	}

	slog.Debug("store_opened", slog.String("path", path))
	return s, nil
}

// initSchema creates the tables on first open.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		filename      TEXT NOT NULL,
		stored_path   TEXT NOT NULL,
		sha256        TEXT NOT NULL UNIQUE,
		content_type  TEXT NOT NULL DEFAULT '',
		meta_json     TEXT NOT NULL DEFAULT '{}',
		created_at    TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id  INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index  INTEGER NOT NULL,
		text         TEXT NOT NULL,
		created_at   TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	-- Lexical mirror. rowid is kept equal to chunks.id so the two indexes
	-- share one key space.
	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		text,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		created_at  TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_messages(session_id);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Counts returns row counts for documents, chunks, and the FTS mirror.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Counts{}, fmt.Errorf("store is closed")
	}

	var c Counts
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&c.Documents); err != nil {
		return Counts{}, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&c.Chunks); err != nil {
		return Counts{}, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks_fts`).Scan(&c.FTSEntries); err != nil {
		return Counts{}, fmt.Errorf("failed to count fts entries: %w", err)
	}
	return c, nil
}

// Path returns the database file path (empty for in-memory stores).
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
