// Package circuitbreaker sheds load with 503 once server errors pile up.
package circuitbreaker

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

var errServerFailure = errors.New("server error response")

// Config tunes the breaker.
type Config struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that trips the breaker once
	// MinRequests have been counted.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultConfig trips at 80% failures over at least 5 requests.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Breaker wraps a gobreaker circuit breaker as a layer.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewBreaker creates a breaker. 5xx responses count as failures.
func NewBreaker(cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Breaker{cb: cb, logger: logger}
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := b.cb.Execute(func() (interface{}, error) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() >= 500 {
				return nil, errServerFailure
			}
			return nil, nil
		})
		switch {
		case err == nil, errors.Is(err, errServerFailure):
		case errors.Is(err, gobreaker.ErrOpenState):
			apperrors.WriteHTTPError(w, apperrors.Unavailable("CIRCUIT_OPEN", "Service temporarily unavailable - too many failures").Build(), b.logger)
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			apperrors.WriteHTTPError(w, apperrors.Unavailable("CIRCUIT_HALF_OPEN", "Service temporarily unavailable - too many requests").Build(), b.logger)
		default:
			apperrors.WriteHTTPError(w, err, b.logger)
		}
	})
}

// Plugin adds one breaker in front of the whole router.
type Plugin struct {
	Config Config

	breaker *Breaker
}

func New() *Plugin { return &Plugin{Config: DefaultConfig("http")} }

func (*Plugin) Name() string { return "circuit-breaker" }

// Breaker returns the installed breaker.
func (p *Plugin) Breaker() *Breaker { return p.breaker }

func (p *Plugin) Install(pc *plugin.PostContext) error {
	p.breaker = NewBreaker(p.Config, pc.Logger)
	pc.AddLayer(p.breaker.Middleware)
	return nil
}
