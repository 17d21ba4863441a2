// Package requestid propagates or generates an X-Request-Id per request.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

// Header is the request and response header carrying the id.
const Header = "X-Request-Id"

type contextKey struct{}

// Middleware reuses the incoming X-Request-Id or generates a UUID, stores it
// in the request context and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(Header, requestID)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), requestID)))
	})
}

// WithID stores id in ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the request id, or "" outside a request.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// Plugin installs Middleware as a layer.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string { return "request-id" }

func (*Plugin) Install(pc *plugin.PostContext) error {
	pc.AddLayer(Middleware)
	return nil
}
