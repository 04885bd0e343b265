package credential

import (
	"context"
	"errors"
	"sync"
)

// ErrStoreUnavailable wraps backend failures (I/O, network, database).
var ErrStoreUnavailable = errors.New("credential store unavailable")

// Store persists one [Credentials] record.
//
// Load returns the zero Credentials and a nil error when nothing is stored.
// Clear is idempotent. Implementations must be safe for concurrent use; the
// last Save wins.
type Store interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, c Credentials) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the record in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	creds Credentials
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the held record.
func (s *MemoryStore) Load(context.Context) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, nil
}

// Save replaces the held record.
func (s *MemoryStore) Save(_ context.Context, c Credentials) error {
	s.mu.Lock()
	s.creds = c
	s.mu.Unlock()
	return nil
}

// Clear drops the held record.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.creds = Credentials{}
	s.mu.Unlock()
	return nil
}
