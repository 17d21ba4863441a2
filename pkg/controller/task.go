package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/Plawn/r2e-sub001/pkg/events"
	"github.com/Plawn/r2e-sub001/pkg/scheduler"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// TaskFunc is a scheduled method of C.
type TaskFunc[C any] func(c *C, ctx context.Context) error

type taskDecl[C any] struct {
	name     string
	schedule scheduler.Schedule
	run      TaskFunc[C]
}

// Every runs fn every d. The first run happens d after serve, unlike
// scheduler.Interval which fires at once; use EveryNow for that.
func (c *Controller[S, C]) Every(name string, d time.Duration, fn TaskFunc[C]) *Controller[S, C] {
	return c.EveryAfter(name, d, d, fn)
}

// EveryNow runs fn when the application starts serving and then every d.
func (c *Controller[S, C]) EveryNow(name string, d time.Duration, fn TaskFunc[C]) *Controller[S, C] {
	return c.EveryAfter(name, d, 0, fn)
}

// EveryAfter runs fn every d, starting initial after serve.
func (c *Controller[S, C]) EveryAfter(name string, d, initial time.Duration, fn TaskFunc[C]) *Controller[S, C] {
	if d <= 0 {
		c.errs = append(c.errs, fmt.Errorf("task %s.%s: interval must be positive", c.name, name))
		return c
	}
	c.tasks = append(c.tasks, taskDecl[C]{name: name, schedule: scheduler.IntervalWithDelay(d, initial), run: fn})
	return c
}

// Cron runs fn on a standard five-field cron expression.
func (c *Controller[S, C]) Cron(name, expr string, fn TaskFunc[C]) *Controller[S, C] {
	schedule, err := scheduler.Cron(expr)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("task %s.%s: %w", c.name, name, err))
		return c
	}
	c.tasks = append(c.tasks, taskDecl[C]{name: name, schedule: schedule, run: fn})
	return c
}

type consumerDecl[C any] struct {
	event     typelist.Fingerprint
	subscribe func(bus *events.Bus, instance func() (*C, error)) func()
}

// Consume subscribes fn to events of type E on the application bus when the
// controller is mounted.
func Consume[S any, C any, E any](c *Controller[S, C], fn func(c *C, ctx context.Context, event *E) error) *Controller[S, C] {
	c.consumers = append(c.consumers, consumerDecl[C]{
		event: typelist.Of[E](),
		subscribe: func(bus *events.Bus, instance func() (*C, error)) func() {
			return events.Subscribe[E](bus, func(ctx context.Context, event *E) error {
				inst, err := instance()
				if err != nil {
					return err
				}
				return fn(inst, ctx, event)
			})
		},
	})
	return c
}
