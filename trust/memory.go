package trust

import (
	"context"
	"net/url"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps domain trust levels in process memory. A level set on a
// domain applies to all of its subdomains unless a more specific entry exists.
type MemoryStore struct {
	mu     sync.RWMutex
	levels map[string]Level
}

// NewMemoryStore returns a store seeded with levels.
func NewMemoryStore(levels map[string]Level) *MemoryStore {
	s := &MemoryStore{levels: make(map[string]Level, len(levels))}
	for domain, level := range levels {
		s.levels[normalizeDomain(domain)] = level
	}
	return s
}

// Set records level for domain.
func (s *MemoryStore) Set(_ context.Context, domain string, level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[normalizeDomain(domain)] = level
	return nil
}

// Remove deletes any entry for domain.
func (s *MemoryStore) Remove(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.levels, normalizeDomain(domain))
	return nil
}

// RequestToTrust returns the level of the most specific matching domain, or
// Unset.
func (s *MemoryStore) RequestToTrust(_ context.Context, u *url.URL) (Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, domain := range domainCandidates(u.Hostname()) {
		if level, ok := s.levels[domain]; ok {
			return level, nil
		}
	}
	return Unset, nil
}
