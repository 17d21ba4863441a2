// Package devreload serves the endpoints a dev client polls to notice a
// restart, and optionally hot-reloads configuration files.
package devreload

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/api"
	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

// BasePath prefixes the dev endpoints.
const BasePath = "/__r2e_dev"

// Ping is the body of GET /__r2e_dev/ping. BootTime is in Unix
// milliseconds and changes on every restart.
type Ping struct {
	BootTime int64  `json:"boot_time"`
	Status   string `json:"status"`
}

// Plugin mounts the dev endpoints. With Watch set, the configuration store
// is reloaded from Watch.Dir while the application runs.
type Plugin struct {
	Watch *config.Options
	// OnReload runs after each successful configuration reload.
	OnReload func(*config.Store)

	bootTime time.Time
	watcher  *config.Watcher
}

func New() *Plugin { return &Plugin{} }

// WithWatch enables configuration hot reloading.
func (p *Plugin) WithWatch(opts config.Options) *Plugin {
	p.Watch = &opts
	return p
}

func (*Plugin) Name() string { return "dev-reload" }

func (p *Plugin) Install(pc *plugin.PostContext) error {
	p.bootTime = time.Now()
	logger := pc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pc.Router.Get(BasePath+"/status", func(w http.ResponseWriter, _ *http.Request) {
		api.Text(w, http.StatusOK, "dev")
	})
	pc.Router.Get(BasePath+"/ping", func(w http.ResponseWriter, _ *http.Request) {
		api.Success(w, http.StatusOK, Ping{BootTime: p.bootTime.UnixMilli(), Status: "ok"})
	})

	if p.Watch == nil || pc.Config == nil {
		return nil
	}
	pc.OnStart(func(context.Context) error {
		w, err := config.NewWatcher(pc.Config, *p.Watch, logger)
		if err != nil {
			return err
		}
		if p.OnReload != nil {
			w.OnChange(p.OnReload)
		}
		p.watcher = w
		return nil
	})
	pc.OnStop(func(context.Context) error {
		if p.watcher != nil {
			p.watcher.Stop()
		}
		return nil
	})
	return nil
}
