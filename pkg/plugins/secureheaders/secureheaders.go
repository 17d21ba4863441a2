// Package secureheaders adds defensive response headers.
package secureheaders

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

// Config selects the headers to send. Empty strings skip a header.
type Config struct {
	ContentTypeOptions string
	FrameOptions       string
	ReferrerPolicy     string
	// HSTSMaxAge enables Strict-Transport-Security when positive.
	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool
	ContentSecurityPolicy string
}

// DefaultConfig sends nosniff, DENY, strict-origin-when-cross-origin and a
// one year HSTS policy including subdomains.
func DefaultConfig() Config {
	return Config{
		ContentTypeOptions:    "nosniff",
		FrameOptions:          "DENY",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		HSTSMaxAge:            365 * 24 * time.Hour,
		HSTSIncludeSubdomains: true,
	}
}

func (c Config) headers() map[string]string {
	h := map[string]string{}
	if c.ContentTypeOptions != "" {
		h["X-Content-Type-Options"] = c.ContentTypeOptions
	}
	if c.FrameOptions != "" {
		h["X-Frame-Options"] = c.FrameOptions
	}
	if c.ReferrerPolicy != "" {
		h["Referrer-Policy"] = c.ReferrerPolicy
	}
	if c.ContentSecurityPolicy != "" {
		h["Content-Security-Policy"] = c.ContentSecurityPolicy
	}
	if c.HSTSMaxAge > 0 {
		v := fmt.Sprintf("max-age=%d", int64(c.HSTSMaxAge.Seconds()))
		if c.HSTSIncludeSubdomains {
			v += "; includeSubDomains"
		}
		h["Strict-Transport-Security"] = v
	}
	return h
}

// Middleware sets the configured headers before the handler runs.
func Middleware(c Config) func(http.Handler) http.Handler {
	headers := c.headers()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range headers {
				w.Header().Set(k, v)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Plugin installs Middleware as a layer.
type Plugin struct {
	Config Config
}

// New returns the plugin with DefaultConfig.
func New() *Plugin { return &Plugin{Config: DefaultConfig()} }

func (*Plugin) Name() string { return "secure-headers" }

func (p *Plugin) Install(pc *plugin.PostContext) error {
	pc.AddLayer(Middleware(p.Config))
	return nil
}
