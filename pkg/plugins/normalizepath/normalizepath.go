// Package normalizepath routes "/users/" to "/users".
package normalizepath

import (
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

// Plugin strips trailing slashes before routing.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string { return "normalize-path" }

func (*Plugin) Install(pc *plugin.PostContext) error {
	pc.AddLayer(middleware.StripSlashes)
	return nil
}
