package scheduling

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/scheduler"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

func install(t *testing.T) (*scheduler.Token, plugin.DeferredAction) {
	t.Helper()
	registry := bean.NewRegistry()
	pc := plugin.NewPreContext(registry, nil, zap.NewNop(), plugin.NewData())
	require.NoError(t, New().Install(pc))

	beans, err := registry.Resolve(context.Background())
	require.NoError(t, err)
	token := bean.MustGet[*scheduler.Token](beans)
	_, err = bean.Get[*scheduler.Runner](beans)
	require.NoError(t, err)

	deferred := pc.Deferred()
	require.Len(t, deferred, 1)
	assert.Equal(t, "scheduler", deferred[0].Name)
	return token, deferred[0]
}

func TestPlugin(t *testing.T) {
	t.Run("Should provide the token and runner", func(t *testing.T) {
		p := New()
		assert.Equal(t, "scheduler", p.Name())
		assert.Equal(t, []typelist.Fingerprint{typelist.Of[*scheduler.Token](), typelist.Of[*scheduler.Runner]()}, p.Provisions())
		assert.Empty(t, p.Required())
	})

	t.Run("Should start tasks on serve and stop them on shutdown", func(t *testing.T) {
		token, action := install(t)
		var calls int64
		ticked := make(chan struct{}, 1)
		tasks := []scheduler.Task{{
			Name:     "counter",
			Schedule: scheduler.Interval(10 * time.Millisecond),
			Run: func(context.Context) error {
				atomic.AddInt64(&calls, 1)
				select {
				case ticked <- struct{}{}:
				default:
				}
				return nil
			},
		}}

		action.OnServe(tasks, token)
		select {
		case <-ticked:
		case <-time.After(time.Second):
			t.Fatal("task never ran")
		}

		action.OnShutdown()
		assert.True(t, token.Cancelled())

		stopped := atomic.LoadInt64(&calls)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, stopped, atomic.LoadInt64(&calls))
	})

	t.Run("Should wait for an in-flight task on shutdown", func(t *testing.T) {
		token, action := install(t)
		started := make(chan struct{})
		var finished int32
		tasks := []scheduler.Task{{
			Name:     "slow",
			Schedule: scheduler.Interval(time.Hour),
			Run: func(context.Context) error {
				close(started)
				time.Sleep(50 * time.Millisecond)
				atomic.StoreInt32(&finished, 1)
				return nil
			},
		}}

		action.OnServe(tasks, token)
		<-started
		action.OnShutdown()

		assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
	})
}
