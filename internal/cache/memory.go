package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	reply     []byte
	pending   bool
	expiresAt time.Time
}

// MemoryIdempotencyStore keeps idempotency state in process. It is meant for
// single-instance runs and tests; call Close to stop its cleanup loop.
type MemoryIdempotencyStore struct {
	mu        sync.Mutex
	entries   map[string]entry
	now       func() time.Time
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryIdempotencyStore starts a store that drops expired entries every
// cleanupEvery.
func NewMemoryIdempotencyStore(cleanupEvery time.Duration) *MemoryIdempotencyStore {
	if cleanupEvery <= 0 {
		cleanupEvery = 5 * time.Minute
	}
	s := &MemoryIdempotencyStore{
		entries: make(map[string]entry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.cleanupLoop(cleanupEvery)
	return s
}

func (s *MemoryIdempotencyStore) Claim(_ context.Context, key string, lease time.Duration) (bool, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if e.pending {
			return false, nil, nil
		}
		return false, e.reply, nil
	}
	s.entries[key] = entry{pending: true, expiresAt: now.Add(lease)}
	return true, nil, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, key string, reply []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{reply: append([]byte(nil), reply...), expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len reports stored entries, expired ones included until the next cleanup.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the cleanup loop. Safe to call more than once.
func (s *MemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
	return nil
}

func (s *MemoryIdempotencyStore) cleanupLoop(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryIdempotencyStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

var _ IdempotencyStore = (*MemoryIdempotencyStore)(nil)
