package checkpoint

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory store defaults. Idle threads expire; active conversations refresh
// their entry on every save.
const (
	DefaultMaxThreads = 4096
	DefaultThreadTTL  = 24 * time.Hour
)

// MemoryStore is an in-process checkpoint store backed by an expirable LRU.
// Suitable for single-instance deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *Snapshot]
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	maxThreads int
	ttl        time.Duration
}

// WithMaxThreads bounds how many threads are retained.
func WithMaxThreads(n int) MemoryOption {
	return func(o *memoryOptions) {
		o.maxThreads = n
	}
}

// WithThreadTTL sets how long an idle thread survives.
func WithThreadTTL(ttl time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		o.ttl = ttl
	}
}

// NewMemoryStore creates an in-memory checkpoint store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	o := &memoryOptions{
		maxThreads: DefaultMaxThreads,
		ttl:        DefaultThreadTTL,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &MemoryStore{
		cache: expirable.NewLRU[string, *Snapshot](o.maxThreads, nil, o.ttl),
	}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, threadID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.cache.Get(threadID)
	if !ok {
		return nil, ErrNotFound
	}
	// Copy so callers cannot mutate the stored snapshot.
	cp := *snapshot
	cp.State = append(json.RawMessage(nil), snapshot.State...)
	return &cp, nil
}

// Save implements Store with compare-and-set on the revision.
func (s *MemoryStore) Save(_ context.Context, threadID string, state json.RawMessage, expectedRevision uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.cache.Get(threadID)
	switch {
	case !exists && expectedRevision != 0:
		return 0, ErrRevisionMismatch
	case exists && current.Revision != expectedRevision:
		return 0, ErrRevisionMismatch
	}

	var revision uint64 = 1
	if exists {
		revision = current.Revision + 1
	}
	s.cache.Add(threadID, &Snapshot{
		ThreadID:  threadID,
		Revision:  revision,
		State:     append(json.RawMessage(nil), state...),
		UpdatedAt: time.Now(),
	})
	return revision, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(threadID)
	return nil
}
