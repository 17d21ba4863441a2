// Package scheduler runs background tasks on intervals or cron expressions
// until a shared cancellation token fires.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes fire times.
type Schedule interface {
	// First returns the first fire time for a loop started at now.
	First(now time.Time) time.Time
	// Next returns the fire time following prev.
	Next(prev time.Time) time.Time
	String() string
}

// ErrInvalidSchedule is returned by Validate for schedules that would never
// advance.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Validate rejects intervals whose period is not positive. Runner.Start
// skips tasks that fail it.
func Validate(s Schedule) error {
	if iv, ok := s.(interval); ok && iv.every <= 0 {
		return fmt.Errorf("%w: interval %s must be positive", ErrInvalidSchedule, iv.every)
	}
	return nil
}

type interval struct {
	every   time.Duration
	initial time.Duration
}

// Interval fires immediately and then every d. d must be positive.
func Interval(d time.Duration) Schedule {
	return interval{every: d}
}

// IntervalWithDelay fires after initial and then every d.
func IntervalWithDelay(d, initial time.Duration) Schedule {
	return interval{every: d, initial: initial}
}

func (s interval) First(now time.Time) time.Time { return now.Add(s.initial) }
func (s interval) Next(prev time.Time) time.Time { return prev.Add(s.every) }

func (s interval) String() string {
	if s.initial > 0 {
		return fmt.Sprintf("every %s after %s", s.every, s.initial)
	}
	return fmt.Sprintf("every %s", s.every)
}

type cronSchedule struct {
	expr  string
	sched cron.Schedule
}

// Cron parses a standard five-field expression or a descriptor such as
// "@hourly" or "@every 10s".
func Cron(expr string) (Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return cronSchedule{expr: expr, sched: sched}, nil
}

// MustCron is Cron for expressions known to be valid.
func MustCron(expr string) Schedule {
	s, err := Cron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s cronSchedule) First(now time.Time) time.Time { return s.sched.Next(now) }
func (s cronSchedule) Next(prev time.Time) time.Time { return s.sched.Next(prev) }
func (s cronSchedule) String() string                { return "cron " + s.expr }
