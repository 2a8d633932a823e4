package progress

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps snapshots and leases in process. Expiry is checked on read.
type MemoryStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	snapshots map[string]memoryEntry
	leases    map[string]memoryEntry
}

type memoryEntry struct {
	snapshot  Snapshot
	owner     string
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:       ttl,
		now:       time.Now,
		snapshots: map[string]memoryEntry{},
		leases:    map[string]memoryEntry{},
	}
}

func (s *MemoryStore) Get(_ context.Context, operation string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.snapshots[operation]
	if !ok || !s.now().Before(entry.expiresAt) {
		delete(s.snapshots, operation)
		return nil, nil
	}
	snapshot := entry.snapshot
	return &snapshot, nil
}

func (s *MemoryStore) Put(_ context.Context, operation string, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[operation] = memoryEntry{snapshot: snapshot, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, operation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, operation)
	return nil
}

func (s *MemoryStore) Acquire(_ context.Context, operation, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.leases[operation]; ok && s.now().Before(entry.expiresAt) {
		return false, nil
	}
	s.leases[operation] = memoryEntry{owner: owner, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, operation, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.leases[operation]; ok && entry.owner == owner {
		delete(s.leases, operation)
	}
	return nil
}

func (s *MemoryStore) ForceRelease(_ context.Context, operation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.leases, operation)
	return nil
}

func (s *MemoryStore) Owner(_ context.Context, operation string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.leases[operation]
	if !ok || !s.now().Before(entry.expiresAt) {
		return "", nil
	}
	return entry.owner, nil
}
