// Package timeout bounds request handling time.
package timeout

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/config"
	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

// RequestTimeoutKey overrides Plugin.Timeout when set.
const RequestTimeoutKey = "r2e.server.request_timeout"

// Middleware sets a deadline on the request context. A handler that has
// written nothing by the time the deadline passes gets a 408.
func Middleware(d time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if errors.Is(ctx.Err(), context.DeadlineExceeded) && ww.Status() == 0 {
				apperrors.WriteHTTPError(w, apperrors.Timeout("REQUEST_TIMEOUT", "Request timed out").Build(), logger)
			}
		})
	}
}

// Plugin adds the timeout layer.
type Plugin struct {
	Timeout time.Duration
}

// New returns a plugin with a 30 second limit.
func New() *Plugin { return &Plugin{Timeout: 30 * time.Second} }

func (*Plugin) Name() string { return "timeout" }

func (p *Plugin) Install(pc *plugin.PostContext) error {
	d := p.Timeout
	if pc.Config != nil {
		configured, err := config.GetOr(pc.Config, RequestTimeoutKey, d)
		if err != nil {
			return err
		}
		d = configured
	}
	if d <= 0 {
		return errors.New("timeout must be positive")
	}
	pc.AddLayer(Middleware(d, pc.Logger))
	return nil
}
