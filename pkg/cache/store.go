// Package cache provides the byte-oriented cache stores and the interceptors
// that cache handler results by group.
package cache

import (
	"context"
	"sync"
	"time"
)

// Store is a TTL key/value cache. A ttl <= 0 means the store's default.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	RemoveByPrefix(ctx context.Context, prefix string) error
}

var (
	defaultOnce  sync.Once
	defaultStore *MemoryStore
)

// Default returns the process-wide memory store used when no Store bean is
// provided.
func Default() *MemoryStore {
	defaultOnce.Do(func() { defaultStore = NewMemoryStore() })
	return defaultStore
}

type storeKey struct{}

// WithStore attaches s to ctx for the cache interceptors.
func WithStore(ctx context.Context, s Store) context.Context {
	return context.WithValue(ctx, storeKey{}, s)
}

// StoreFrom returns the store attached to ctx, or Default().
func StoreFrom(ctx context.Context) Store {
	if s, ok := ctx.Value(storeKey{}).(Store); ok && s != nil {
		return s
	}
	return Default()
}
