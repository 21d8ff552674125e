package checkout

import (
	"context"
	"sync"
	"time"
)

// Store is the durable session persistence contract. Implementations must
// never allow a write against a stale version.
type Store interface {
	// Load returns the current snapshot for id, or ErrNotFound.
	Load(ctx context.Context, id string) (*Session, error)
	// Save persists s. expectedVersion is the version the caller read;
	// zero means the session is new. A mismatch returns ErrVersionConflict
	// and leaves the stored snapshot untouched.
	Save(ctx context.Context, s *Session, expectedVersion int64) error
	// StaleIDs lists up to limit non-terminal sessions whose expiry
	// deadline is at or before cutoff.
	StaleIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for single-node deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Load returns a deep copy of the stored snapshot.
func (m *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Save stores a deep copy of s after the optimistic-concurrency check.
func (m *MemoryStore) Save(_ context.Context, s *Session, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.sessions[s.ID]
	if expectedVersion == 0 {
		if exists {
			return ErrVersionConflict
		}
	} else {
		if !exists {
			return ErrNotFound
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// StaleIDs scans for non-terminal sessions past their expiry deadline.
func (m *MemoryStore) StaleIDs(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, s := range m.sessions {
		if s.Status.Terminal() || s.ExpiresAt.IsZero() || s.ExpiresAt.After(cutoff) {
			continue
		}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}
