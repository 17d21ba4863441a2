package ws

import (
	"net/http"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/identity"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// Plugin provides the *Hub and Broadcaster beans and mounts the upgrade
// endpoint at serve time.
type Plugin struct {
	// Path must contain {topic}. Defaults to /ws/{topic}.
	Path string
	// Authenticated requires a bearer token using the ClaimsValidator bean.
	Authenticated bool
	Handler       HandlerConfig
	// Broadcaster replaces the hub as the Broadcaster bean, e.g. a Gateway
	// when sockets are held by API Gateway. The hub still serves Path.
	Broadcaster Broadcaster
}

func New() *Plugin { return &Plugin{Path: "/ws/{" + TopicParam + "}"} }

func (*Plugin) Name() string { return "websocket" }

func (*Plugin) Provisions() []typelist.Fingerprint {
	return []typelist.Fingerprint{typelist.Of[*Hub](), typelist.Of[Broadcaster]()}
}

func (*Plugin) Required() []typelist.Fingerprint { return nil }

func (p *Plugin) Install(pc *plugin.PreContext) error {
	hub := NewHub(pc.Logger)
	bean.Provide(pc.Registry, hub)
	if p.Broadcaster != nil {
		bean.Provide(pc.Registry, p.Broadcaster)
	} else {
		bean.Provide[Broadcaster](pc.Registry, hub)
	}

	path := p.Path
	if path == "" {
		path = "/ws/{" + TopicParam + "}"
	}
	pc.Defer(plugin.DeferredAction{
		Name: "websocket",
		Install: func(dc *plugin.DeferredContext) error {
			cfg := p.Handler
			if p.Authenticated && cfg.Extractor == nil {
				v, err := bean.Get[identity.ClaimsValidator](dc.Beans)
				if err != nil {
					return err
				}
				cfg.Extractor = identity.NewExtractor(v)
			}
			hub.Start()
			dc.Router.Method(http.MethodGet, path, hub.Handler(cfg))
			return nil
		},
		OnShutdown: hub.Stop,
	})
	return nil
}
