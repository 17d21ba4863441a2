package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a named job bound to a schedule.
type Task struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
}

// Runner drives tasks until their token is cancelled. Task errors and
// panics are logged and never stop the loop.
type Runner struct {
	logger *zap.Logger
	now    func() time.Time

	loops sync.WaitGroup
	ticks sync.WaitGroup
}

// NewRunner creates a runner.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger, now: time.Now}
}

// Start launches one loop per task. Incomplete tasks and tasks with an
// invalid schedule are logged and skipped.
func (r *Runner) Start(tasks []Task, token *Token) {
	started := 0
	for _, task := range tasks {
		if task.Run == nil || task.Schedule == nil {
			r.logger.Warn("Skipping incomplete scheduled task", zap.String("task", task.Name))
			continue
		}
		if err := Validate(task.Schedule); err != nil {
			r.logger.Error("Skipping scheduled task", zap.String("task", task.Name), zap.Error(err))
			continue
		}
		started++
		r.loops.Add(1)
		go r.loop(task, token)
	}
	r.logger.Info("Scheduler started", zap.Int("tasks", started))
}

// Wait blocks until every loop has exited and in-flight ticks have
// returned.
func (r *Runner) Wait() {
	r.loops.Wait()
	r.ticks.Wait()
}

func (r *Runner) loop(task Task, token *Token) {
	defer r.loops.Done()

	next := task.Schedule.First(r.now())
	for {
		timer := time.NewTimer(next.Sub(r.now()))
		select {
		case <-token.Done():
			timer.Stop()
			r.logger.Debug("Scheduled task stopped", zap.String("task", task.Name))
			return
		case <-timer.C:
		}

		// Cancellation wins over a timer that fired at the same instant.
		if token.Cancelled() {
			return
		}

		r.ticks.Add(1)
		go r.tick(task, token.Context())

		now := r.now()
		next = task.Schedule.Next(next)
		if !next.After(now) {
			next = task.Schedule.Next(now)
		}
	}
}

func (r *Runner) tick(task Task, ctx context.Context) {
	defer r.ticks.Done()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Scheduled task panicked",
				zap.String("task", task.Name),
				zap.String("panic", fmt.Sprint(rec)),
				zap.String("stack_trace", string(debug.Stack())))
		}
	}()

	start := r.now()
	if err := task.Run(ctx); err != nil {
		r.logger.Error("Scheduled task failed", zap.String("task", task.Name), zap.Error(err))
		return
	}
	r.logger.Debug("Scheduled task completed",
		zap.String("task", task.Name),
		zap.Duration("duration", r.now().Sub(start)))
}
