package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/interceptor"
)

// Option configures the cache interceptors.
type Option func(*options)

type options struct {
	store  Store
	logger *zap.Logger
}

// Using pins the interceptor to s instead of the store carried by the
// request context.
func Using(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the logger used for backend failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) storeFor(ctx context.Context) Store {
	if o.store != nil {
		return o.store
	}
	return StoreFrom(ctx)
}

// Cached returns an interceptor serving results from the store for ttl.
// Backend failures degrade to calling the handler.
func Cached(group string, ttl time.Duration, opts ...Option) interceptor.Interceptor {
	o := newOptions(opts)
	return interceptor.Func(func(ctx context.Context, ic *interceptor.Context, next interceptor.Next) (interface{}, error) {
		store := o.storeFor(ctx)
		key := Key(group, ic.Operation(), Digest(ic.Params, ic.Query))

		data, found, err := store.Get(ctx, key)
		if err != nil {
			o.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		if found {
			if v, ok := Decode(data, ic.ResultType); ok {
				return v, nil
			}
			if err := store.Remove(ctx, key); err != nil {
				o.logger.Warn("Failed to drop stale cache entry", zap.String("key", key), zap.Error(err))
			}
		}

		result, err := next(ctx)
		if err != nil {
			return result, err
		}
		if data, ok := Encode(result); ok {
			if err := store.Set(ctx, key, data, ttl); err != nil {
				o.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return result, nil
	})
}

// Invalidate returns an interceptor clearing every entry of group after the
// handler succeeds.
func Invalidate(group string, opts ...Option) interceptor.Interceptor {
	o := newOptions(opts)
	return interceptor.Func(func(ctx context.Context, ic *interceptor.Context, next interceptor.Next) (interface{}, error) {
		result, err := next(ctx)
		if err != nil {
			return result, err
		}
		if err := o.storeFor(ctx).RemoveByPrefix(ctx, group+":"); err != nil {
			o.logger.Error("Cache invalidation failed",
				zap.String("group", group),
				zap.String("operation", ic.Operation()),
				zap.Error(err))
		}
		return result, nil
	})
}
