// Package cors answers preflight requests and decorates responses with
// the Access-Control headers.
package cors

import (
	"github.com/go-chi/cors"

	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/plugins/requestid"
)

// AllowedOriginsKey overrides Options.AllowedOrigins when set.
const AllowedOriginsKey = "r2e.cors.allowed_origins"

// DefaultOptions allows any origin without credentials.
func DefaultOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestid.Header},
		ExposedHeaders: []string{"Link", "Location", "Retry-After", requestid.Header},
		MaxAge:         300,
	}
}

// Plugin adds the CORS layer.
type Plugin struct {
	Options cors.Options
}

// New returns the permissive plugin.
func New() *Plugin { return &Plugin{Options: DefaultOptions()} }

// Permissive is New under the name the other plugins use.
func Permissive() *Plugin { return New() }

func (*Plugin) Name() string { return "cors" }

func (p *Plugin) Install(pc *plugin.PostContext) error {
	opts := p.Options
	if pc.Config != nil {
		origins, err := config.GetOr(pc.Config, AllowedOriginsKey, opts.AllowedOrigins)
		if err != nil {
			return err
		}
		opts.AllowedOrigins = origins
	}
	pc.AddLayer(cors.Handler(opts))
	return nil
}
