package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
)

const redisDeleteBatch = 100

// RedisStore keeps entries in Redis under a namespace prefix so Clear only
// touches keys it owns.
type RedisStore struct {
	client     redis.UniversalClient
	namespace  string
	defaultTTL time.Duration
}

// NewRedisStore wraps client. namespace is prepended to every key.
func NewRedisStore(client redis.UniversalClient, namespace string, defaultTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, namespace: namespace, defaultTTL: defaultTTL}
}

func (s *RedisStore) key(k string) string { return s.namespace + k }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("redis get", err)
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailable("redis set", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return unavailable("redis del", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.RemoveByPrefix(ctx, "")
}

// RemoveByPrefix scans matching keys and deletes them in batches. It is not
// atomic with respect to concurrent writers.
func (s *RedisStore) RemoveByPrefix(ctx context.Context, prefix string) error {
	pattern := escapeGlob(s.key(prefix)) + "*"
	iter := s.client.Scan(ctx, 0, pattern, redisDeleteBatch).Iterator()

	batch := make([]string, 0, redisDeleteBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return unavailable("redis del", err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == redisDeleteBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return unavailable("redis scan", err)
	}
	return flush()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

func unavailable(op string, err error) error {
	return backendError(op, "", err)
}

func backendError(op, details string, err error) error {
	return apperrors.Unavailable("CACHE_UNAVAILABLE", "Cache backend unavailable").
		WithOperation(op).
		WithDetails(details).
		WithCause(err).
		Build()
}
