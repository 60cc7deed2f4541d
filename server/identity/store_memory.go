package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store, used in tests and single-instance
// deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[string]Identity
	byCode map[string]string // code -> userID
	now    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[string]Identity),
		byCode: make(map[string]string),
		now:    time.Now,
	}
}

// SetClock overrides the store clock (tests only).
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// ActiveForUser implements Store.
func (s *MemoryStore) ActiveForUser(ctx context.Context, userID string) (Identity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[userID]
	if !ok || !id.Active(s.now()) {
		return Identity{}, false, nil
	}
	return id, true, nil
}

// Save implements Store. The user's previous code stops resolving immediately.
func (s *MemoryStore) Save(ctx context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byUser[id.UserID]; ok {
		delete(s.byCode, prev.Code)
	}
	s.byUser[id.UserID] = id
	s.byCode[id.Code] = id.UserID
	return nil
}

// Resolve implements Store.
func (s *MemoryStore) Resolve(ctx context.Context, code string) (Identity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byCode[code]
	if !ok {
		return Identity{}, false, nil
	}
	id := s.byUser[userID]
	if id.Code != code || !id.Active(s.now()) {
		return Identity{}, false, nil
	}
	return id, true, nil
}
