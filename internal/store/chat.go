package store

import (
	"context"
	"fmt"
	"time"

	ragerr "github.com/ragkb/ragkb/internal/errors"
)

// AppendMessage records one chat turn for a session.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, role, content) VALUES (?, ?, ?)`,
		sessionID, role, content)
	if err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}
	return nil
}

// RecentMessages returns the last k messages of a session in chronological
// order. k <= 0 returns nothing.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, k int) ([]*ChatMessage, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	// Newest k by id, then reversed so callers replay them oldest first.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM chat_messages WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`, sessionID, k)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}
	defer rows.Close()

	var msgs []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
		}
		if t, err := time.Parse(sqliteTimeLayout, createdAt); err == nil {
			m.CreatedAt = t
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStorageFailed, err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
