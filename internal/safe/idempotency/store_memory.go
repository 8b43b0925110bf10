package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	resp      *Response
	expiresAt time.Time
}

// InMemoryStore keeps keys in process memory. Suitable for a single instance.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithMemoryTTL overrides DefaultTTL.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(s *InMemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithNow overrides the store's clock.
func WithNow(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		s.now = now
	}
}

func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Reserve(_ context.Context, key, fingerprint string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if e.resp == nil {
			return nil, ErrInFlight
		}
		return check(e.resp, fingerprint)
	}
	s.entries[key] = memoryEntry{expiresAt: now.Add(s.ttl)}
	return nil, nil
}

func (s *InMemoryStore) Complete(_ context.Context, key string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{resp: &resp, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
