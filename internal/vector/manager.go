package vector

import (
	"os"
	"sync"
)

// Manager lazily opens the index at a fixed path. The embedding dimension
// is unknown until the first batch is embedded, so creation is deferred
// until a caller can supply it; an existing checkpoint loads on demand.
type Manager struct {
	mu   sync.Mutex
	path string
	cfg  Config
	idx  *Index
}

// NewManager creates a manager for the index at path.
func NewManager(path string, cfg Config) *Manager {
	return &Manager{path: path, cfg: cfg}
}

// Path returns the index checkpoint path.
func (m *Manager) Path() string {
	return m.path
}

// Existing returns the open index, loading a checkpoint when one exists.
// Returns nil when no index has been created yet.
func (m *Manager) Existing() (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idx != nil {
		return m.idx, nil
	}
	if _, err := os.Stat(m.path); err != nil {
		return nil, nil
	}

	idx, err := Open(m.path, 0, m.cfg)
	if err != nil {
		return nil, err
	}
	m.idx = idx
	return idx, nil
}

// GetOrCreate returns the open index, creating an empty one with the
// given dimension when neither an open index nor a checkpoint exists.
func (m *Manager) GetOrCreate(dim int) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idx != nil {
		return m.idx, nil
	}

	if _, err := os.Stat(m.path); err == nil {
		dim = 0 // checkpoint dimension is authoritative
	}
	idx, err := Open(m.path, dim, m.cfg)
	if err != nil {
		return nil, err
	}
	m.idx = idx
	return idx, nil
}

// Close releases the open index, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idx == nil {
		return nil
	}
	err := m.idx.Close()
	m.idx = nil
	return err
}
