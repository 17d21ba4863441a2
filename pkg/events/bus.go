// Package events is a type-keyed in-process event bus. Handlers run
// concurrently, bounded by a bus-wide permit count; emitting blocks while no
// permit is free.
package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// DefaultMaxConcurrent bounds in-flight handlers when no limit is given.
const DefaultMaxConcurrent = 1024

// Handler receives a shared pointer to the emitted event.
type Handler[E any] func(ctx context.Context, event *E) error

type subscription struct {
	id   uint64
	call func(ctx context.Context, event interface{}) error
}

// Bus dispatches events to subscribers of the event's type.
type Bus struct {
	mu   sync.RWMutex
	subs map[typelist.Fingerprint][]subscription

	sem      *semaphore.Weighted
	max      int64
	inUse    atomic.Int64
	nextID   atomic.Uint64
	inflight sync.WaitGroup
	logger   *zap.Logger
}

// NewBus creates a bus allowing maxConcurrent handlers at once.
func NewBus(maxConcurrent int, logger *zap.Logger) *Bus {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[typelist.Fingerprint][]subscription),
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		max:    int64(maxConcurrent),
		logger: logger,
	}
}

// MaxConcurrent returns the permit count.
func (b *Bus) MaxConcurrent() int { return int(b.max) }

// AvailablePermits returns the permits not held by running handlers.
func (b *Bus) AvailablePermits() int { return int(b.max - b.inUse.Load()) }

// Wait blocks until every spawned handler has returned.
func (b *Bus) Wait() { b.inflight.Wait() }

// Subscribe registers handler for events of type E. The returned function
// removes the subscription.
func Subscribe[E any](b *Bus, handler Handler[E]) (unsubscribe func()) {
	f := typelist.Of[E]()
	id := b.nextID.Add(1)
	sub := subscription{
		id: id,
		call: func(ctx context.Context, event interface{}) error {
			return handler(ctx, event.(*E))
		},
	}

	b.mu.Lock()
	b.subs[f] = append(b.subs[f], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[f]
			for i, s := range list {
				if s.id == id {
					b.subs[f] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribers returns how many handlers are registered for E.
func Subscribers[E any](b *Bus) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[typelist.Of[E]()])
}

func (b *Bus) snapshot(f typelist.Fingerprint) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]subscription(nil), b.subs[f]...)
}

// Emit spawns every handler for E and returns without waiting for them.
// It only fails when ctx ends while waiting for a permit.
func Emit[E any](ctx context.Context, b *Bus, event E) error {
	f := typelist.Of[E]()
	shared := &event
	for _, sub := range b.snapshot(f) {
		if err := b.acquire(ctx); err != nil {
			return err
		}
		b.inflight.Add(1)
		go func(sub subscription) {
			defer b.inflight.Done()
			defer b.release()
			_ = b.invoke(context.WithoutCancel(ctx), f, sub, shared)
		}(sub)
	}
	return nil
}

// EmitAndWait spawns every handler for E and waits for all of them. It
// returns the first handler error; every error is logged.
func EmitAndWait[E any](ctx context.Context, b *Bus, event E) error {
	f := typelist.Of[E]()
	shared := &event
	var g errgroup.Group
	for _, sub := range b.snapshot(f) {
		sub := sub
		if err := b.acquire(ctx); err != nil {
			_ = g.Wait()
			return err
		}
		b.inflight.Add(1)
		g.Go(func() error {
			defer b.inflight.Done()
			defer b.release()
			return b.invoke(ctx, f, sub, shared)
		})
	}
	return g.Wait()
}

func (b *Bus) acquire(ctx context.Context) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire event permit: %w", err)
	}
	b.inUse.Add(1)
	return nil
}

func (b *Bus) release() {
	b.inUse.Add(-1)
	b.sem.Release(1)
}

func (b *Bus) invoke(ctx context.Context, f typelist.Fingerprint, sub subscription, event interface{}) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("Event handler panicked",
				zap.String("event", typelist.Name(f)),
				zap.Any("panic", rec),
				zap.String("stack_trace", string(debug.Stack())))
			err = fmt.Errorf("event handler for %s panicked: %v", typelist.Name(f), rec)
		}
	}()

	if err := sub.call(ctx, event); err != nil {
		b.logger.Error("Event handler failed",
			zap.String("event", typelist.Name(f)),
			zap.Error(err))
		return err
	}
	return nil
}
