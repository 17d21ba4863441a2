// Package health serves liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/api"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

// Checker is a named health check. Beans implementing it are picked up
// automatically.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// ReadinessAffecting lets a checker opt out of readiness. Checkers that do
// not implement it affect readiness.
type ReadinessAffecting interface {
	AffectsReadiness() bool
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcChecker) Name() string                    { return c.name }
func (c funcChecker) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckFunc adapts fn to a Checker.
func CheckFunc(name string, fn func(ctx context.Context) error) Checker {
	return funcChecker{name: name, fn: fn}
}

// Result is the outcome of one check.
type Result struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report is the aggregated health document.
type Report struct {
	Status string   `json:"status"`
	Checks []Result `json:"checks"`
}

// Plugin mounts /health, /health/live and /health/ready.
type Plugin struct {
	// Advanced makes /health answer with the aggregated JSON report
	// instead of a plain "OK".
	Advanced bool
	// Timeout bounds each check. Zero means 5 seconds.
	Timeout time.Duration
	Checks  []Checker
}

// New returns a health plugin running checks alongside the checker beans.
func New(checks ...Checker) *Plugin {
	return &Plugin{Checks: checks}
}

func (p *Plugin) Name() string { return "health" }

func (p *Plugin) Install(pc *plugin.PostContext) error {
	checks := append([]Checker(nil), p.Checks...)
	if pc.Beans != nil {
		pc.Beans.Each(func(_ typelist.Fingerprint, instance interface{}) {
			if c, ok := instance.(Checker); ok {
				checks = append(checks, c)
			}
		})
	}
	h := &handler{checks: checks, timeout: p.Timeout, logger: pc.Logger}
	if h.timeout <= 0 {
		h.timeout = 5 * time.Second
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}

	pc.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if !p.Advanced {
			api.Text(w, http.StatusOK, "OK")
			return
		}
		h.report(w, r, false)
	})
	pc.Router.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		api.Text(w, http.StatusOK, "OK")
	})
	pc.Router.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		h.report(w, r, true)
	})
	return nil
}

type handler struct {
	checks  []Checker
	timeout time.Duration
	logger  *zap.Logger
}

// Run executes every check concurrently and returns the results in
// declaration order. With readinessOnly, checks opting out of readiness
// still run but do not fail the report.
func (h *handler) Run(ctx context.Context, readinessOnly bool) Report {
	results := make([]Result, len(h.checks))
	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = h.runOne(ctx, c)
		}(i, c)
	}
	wg.Wait()

	report := Report{Status: StatusUp, Checks: results}
	for i, res := range results {
		if res.Status == StatusUp {
			continue
		}
		if readinessOnly {
			if ra, ok := h.checks[i].(ReadinessAffecting); ok && !ra.AffectsReadiness() {
				continue
			}
		}
		report.Status = StatusDown
	}
	return report
}

func (h *handler) runOne(ctx context.Context, c Checker) (res Result) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	start := time.Now()
	res = Result{Name: c.Name(), Status: StatusUp}
	defer func() {
		if rec := recover(); rec != nil {
			res.Status, res.Reason = StatusDown, "check panicked"
		}
		res.DurationMs = time.Since(start).Milliseconds()
	}()
	if err := c.Check(ctx); err != nil {
		res.Status, res.Reason = StatusDown, err.Error()
		h.logger.Warn("Health check failed", zap.String("check", c.Name()), zap.Error(err))
	}
	return res
}

func (h *handler) report(w http.ResponseWriter, r *http.Request, readinessOnly bool) {
	report := h.Run(r.Context(), readinessOnly)
	status := http.StatusOK
	if report.Status != StatusUp {
		status = http.StatusServiceUnavailable
	}
	api.Success(w, status, report)
}
