package challenge

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the process-local Store. Lookups evict lazily; a
// background sweeper additionally bounds memory for abandoned challenges.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Challenge

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryStore starts a store whose sweeper runs every sweepInterval.
// Close must be called to stop the sweeper.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}

	s := &MemoryStore{
		items: make(map[string]Challenge),
		done:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.sweep(sweepInterval)

	return s
}

// Put registers a new challenge.
func (s *MemoryStore) Put(_ context.Context, token string, ch Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[token] = ch
	return nil
}

// Validate returns the live record for token, evicting it when expired.
func (s *MemoryStore) Validate(_ context.Context, token string) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.items[token]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	if time.Now().After(ch.ExpiresAt) {
		delete(s.items, token)
		return Challenge{}, ErrNotFound
	}
	return ch, nil
}

// IncrementAttempts bumps the counter under the store lock, so concurrent
// increments for one token serialize. Absent tokens return 0.
func (s *MemoryStore) IncrementAttempts(_ context.Context, token string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.items[token]
	if !ok {
		return 0, nil
	}
	if time.Now().After(ch.ExpiresAt) {
		delete(s.items, token)
		return 0, nil
	}

	ch.Attempts++
	s.items[token] = ch
	return ch.Attempts, nil
}

// Invalidate removes token and reports whether it was present.
func (s *MemoryStore) Invalidate(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.items[token]
	delete(s.items, token)
	return ok, nil
}

// Close stops the sweeper. Subsequent calls are no-ops.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *MemoryStore) sweep(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired(time.Now())
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) evictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, ch := range s.items {
		if now.After(ch.ExpiresAt) {
			delete(s.items, token)
		}
	}
}
