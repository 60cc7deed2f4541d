package user

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-memory Directory and Blocks implementation, used in
// tests and single-instance deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]User
	blocks map[[2]string]bool // ordered pair (blocker, blocked)
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]User),
		blocks: make(map[[2]string]bool),
	}
}

// Add inserts or replaces a user record.
func (s *MemoryStore) Add(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddNew creates a user with a fresh ULID and returns it.
func (s *MemoryStore) AddNew(displayName string) (User, error) {
	id, err := NewID(time.Now().UTC())
	if err != nil {
		return User{}, err
	}
	u := User{ID: id, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	s.Add(u)
	return u, nil
}

// SetSuspended flips a user's suspended flag.
func (s *MemoryStore) SetSuspended(id string, suspended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Suspended = suspended
		s.users[id] = u
	}
}

// Block records that blocker blocked blocked.
func (s *MemoryStore) Block(blocker, blocked string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[[2]string{blocker, blocked}] = true
}

// Unblock removes a block edge.
func (s *MemoryStore) Unblock(blocker, blocked string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, [2]string{blocker, blocked})
}

// Lookup implements Directory.
func (s *MemoryStore) Lookup(ctx context.Context, id string) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

// Blocked implements Blocks: true when either direction has a block edge.
func (s *MemoryStore) Blocked(ctx context.Context, a, b string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[[2]string{a, b}] || s.blocks[[2]string{b, a}], nil
}
