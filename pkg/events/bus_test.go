package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type userCreated struct {
	ID string `json:"id"`
}

type orderPlaced struct {
	Total int
}

func TestBus(t *testing.T) {
	t.Run("Should deliver only to subscribers of the event type", func(t *testing.T) {
		bus := NewBus(0, zap.NewNop())
		var users, orders int64
		Subscribe(bus, func(_ context.Context, e *userCreated) error {
			atomic.AddInt64(&users, 1)
			return nil
		})
		Subscribe(bus, func(_ context.Context, e *orderPlaced) error {
			atomic.AddInt64(&orders, 1)
			return nil
		})

		require.NoError(t, EmitAndWait(context.Background(), bus, userCreated{ID: "u1"}))

		assert.Equal(t, int64(1), atomic.LoadInt64(&users))
		assert.Equal(t, int64(0), atomic.LoadInt64(&orders))
		assert.Equal(t, DefaultMaxConcurrent, bus.MaxConcurrent())
	})

	t.Run("Should share one event pointer across handlers", func(t *testing.T) {
		bus := NewBus(4, nil)
		var mu sync.Mutex
		var seen []*userCreated
		for i := 0; i < 3; i++ {
			Subscribe(bus, func(_ context.Context, e *userCreated) error {
				mu.Lock()
				seen = append(seen, e)
				mu.Unlock()
				return nil
			})
		}

		require.NoError(t, EmitAndWait(context.Background(), bus, userCreated{ID: "u1"}))

		require.Len(t, seen, 3)
		assert.Same(t, seen[0], seen[1])
		assert.Same(t, seen[1], seen[2])
	})

	t.Run("Should fire and forget with Emit", func(t *testing.T) {
		bus := NewBus(2, nil)
		var calls int64
		Subscribe(bus, func(_ context.Context, e *userCreated) error {
			atomic.AddInt64(&calls, 1)
			return nil
		})

		require.NoError(t, Emit(context.Background(), bus, userCreated{ID: "u1"}))
		bus.Wait()

		assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
		assert.Equal(t, 2, bus.AvailablePermits())
	})

	t.Run("Should survive panicking handlers", func(t *testing.T) {
		bus := NewBus(2, nil)
		var calls int64
		Subscribe(bus, func(context.Context, *userCreated) error { panic("boom") })
		Subscribe(bus, func(context.Context, *userCreated) error {
			atomic.AddInt64(&calls, 1)
			return nil
		})

		err := EmitAndWait(context.Background(), bus, userCreated{})

		assert.Error(t, err)
		assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
		require.NoError(t, Emit(context.Background(), bus, userCreated{}))
		bus.Wait()
		assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
	})

	t.Run("Should return handler errors from EmitAndWait", func(t *testing.T) {
		bus := NewBus(2, nil)
		boom := errors.New("boom")
		Subscribe(bus, func(context.Context, *userCreated) error { return boom })

		assert.ErrorIs(t, EmitAndWait(context.Background(), bus, userCreated{}), boom)
	})

	t.Run("Should unsubscribe once", func(t *testing.T) {
		bus := NewBus(2, nil)
		unsubscribe := Subscribe(bus, func(context.Context, *userCreated) error { return nil })
		Subscribe(bus, func(context.Context, *userCreated) error { return nil })
		assert.Equal(t, 2, Subscribers[userCreated](bus))

		unsubscribe()
		unsubscribe()

		assert.Equal(t, 1, Subscribers[userCreated](bus))
	})
}

func TestBusBackpressure(t *testing.T) {
	bus := NewBus(1, nil)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	Subscribe(bus, func(context.Context, *userCreated) error {
		started <- struct{}{}
		<-release
		return nil
	})

	require.NoError(t, Emit(context.Background(), bus, userCreated{}))
	<-started
	assert.Equal(t, 0, bus.AvailablePermits())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := Emit(ctx, bus, userCreated{})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "emit blocks while no permit is free")

	close(release)
	bus.Wait()
	assert.Equal(t, 1, bus.AvailablePermits())
}

type mockEventBridge struct {
	mock.Mock
}

func (m *mockEventBridge) PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*eventbridge.PutEventsOutput)
	return out, args.Error(1)
}

func TestEventBridgeForwarder(t *testing.T) {
	t.Run("Should publish in batches of ten", func(t *testing.T) {
		client := new(mockEventBridge)
		client.On("PutEvents", mock.Anything, mock.MatchedBy(func(in *eventbridge.PutEventsInput) bool {
			return len(in.Entries) == 10
		})).Return(&eventbridge.PutEventsOutput{}, nil).Once()
		client.On("PutEvents", mock.Anything, mock.MatchedBy(func(in *eventbridge.PutEventsInput) bool {
			return len(in.Entries) == 2
		})).Return(&eventbridge.PutEventsOutput{}, nil).Once()

		f := NewEventBridgeForwarder(client, "bus", "r2e.demo", nil)
		events := make([]interface{}, 12)
		for i := range events {
			events[i] = userCreated{ID: "u"}
		}

		require.NoError(t, f.Publish(context.Background(), "userCreated", events...))
		client.AssertExpectations(t)
	})

	t.Run("Should forward emitted events as JSON", func(t *testing.T) {
		client := new(mockEventBridge)
		var detail string
		client.On("PutEvents", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			in := args.Get(1).(*eventbridge.PutEventsInput)
			detail = aws.ToString(in.Entries[0].Detail)
			assert.Equal(t, "events.userCreated", aws.ToString(in.Entries[0].DetailType))
			assert.Equal(t, "r2e.demo", aws.ToString(in.Entries[0].Source))
		}).Return(&eventbridge.PutEventsOutput{}, nil)

		bus := NewBus(1, nil)
		Forward[userCreated](bus, NewEventBridgeForwarder(client, "bus", "r2e.demo", nil))

		require.NoError(t, EmitAndWait(context.Background(), bus, userCreated{ID: "u1"}))

		var decoded userCreated
		require.NoError(t, json.Unmarshal([]byte(detail), &decoded))
		assert.Equal(t, "u1", decoded.ID)
	})

	t.Run("Should report failed entries", func(t *testing.T) {
		client := new(mockEventBridge)
		client.On("PutEvents", mock.Anything, mock.Anything).Return(&eventbridge.PutEventsOutput{
			FailedEntryCount: 1,
			Entries:          []types.PutEventsResultEntry{{ErrorCode: aws.String("InternalFailure")}},
		}, nil)

		err := NewEventBridgeForwarder(client, "bus", "src", nil).Publish(context.Background(), "t", userCreated{})

		assert.Error(t, err)
	})
}
