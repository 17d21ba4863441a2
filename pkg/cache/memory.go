package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-process Store. Expired entries are removed lazily on
// read and, when a sweep interval is set, by a background sweeper.
type MemoryStore struct {
	items      map[string]memoryItem
	maxItems   int
	defaultTTL time.Duration
	now        func() time.Time
	mu         sync.RWMutex

	stop     chan struct{}
	stopOnce sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxItems bounds the store; the entry closest to expiry is evicted when
// full.
func WithMaxItems(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxItems = n }
}

// WithDefaultTTL sets the ttl used when Set receives ttl <= 0. Zero keeps
// such entries until removed.
func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.defaultTTL = ttl }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithSweepInterval starts a goroutine purging expired entries every d.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.stop = make(chan struct{})
			go s.sweep(d)
		}
	}
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) expired(item memoryItem, now time.Time) bool {
	return !item.expiresAt.IsZero() && !now.Before(item.expiresAt)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	item, exists := s.items[key]
	s.mu.RUnlock()
	if !exists {
		return nil, false, nil
	}

	if s.expired(item, s.now()) {
		s.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if current, ok := s.items[key]; ok && s.expired(current, s.now()) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	return item.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if _, exists := s.items[key]; !exists && s.maxItems > 0 && len(s.items) >= s.maxItems {
		s.evictOldest()
	}

	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]memoryItem)
	return nil
}

func (s *MemoryStore) RemoveByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.items {
		if strings.HasPrefix(key, prefix) {
			delete(s.items, key)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close stops the sweeper, if any.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
		}
	})
	return nil
}

func (s *MemoryStore) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range s.items {
		if item.expiresAt.IsZero() {
			continue
		}
		if oldestTime.IsZero() || item.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.expiresAt
		}
	}
	if oldestKey == "" {
		for key := range s.items {
			oldestKey = key
			break
		}
	}

	if oldestKey != "" {
		delete(s.items, oldestKey)
	}
}

// Purge removes every expired entry and returns how many were dropped.
func (s *MemoryStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, item := range s.items {
		if s.expired(item, now) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Purge()
		case <-s.stop:
			return
		}
	}
}
