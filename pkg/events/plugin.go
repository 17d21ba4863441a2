package events

import (
	"time"

	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// MaxConcurrentKey overrides the permit count when Plugin.MaxConcurrent is 0.
const MaxConcurrentKey = "r2e.events.max_concurrent"

// Plugin provides a *Bus bean. On shutdown it waits up to DrainTimeout for
// in-flight handlers.
type Plugin struct {
	MaxConcurrent int
	DrainTimeout  time.Duration
}

func (p *Plugin) Name() string { return "events" }

func (p *Plugin) Provisions() []typelist.Fingerprint {
	return []typelist.Fingerprint{typelist.Of[*Bus]()}
}

func (p *Plugin) Required() []typelist.Fingerprint { return nil }

func (p *Plugin) Install(pc *plugin.PreContext) error {
	max := p.MaxConcurrent
	if max == 0 && pc.Config != nil {
		configured, err := config.GetOr(pc.Config, MaxConcurrentKey, DefaultMaxConcurrent)
		if err != nil {
			return err
		}
		max = configured
	}
	bus := NewBus(max, pc.Logger)
	bean.Provide(pc.Registry, bus)

	drain := p.DrainTimeout
	if drain == 0 {
		drain = 5 * time.Second
	}
	pc.Defer(plugin.DeferredAction{
		Name: "events",
		OnShutdown: func() {
			done := make(chan struct{})
			go func() {
				bus.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(drain):
				if pc.Logger != nil {
					pc.Logger.Warn("Event handlers still running at shutdown",
						zap.Int("in_flight", bus.MaxConcurrent()-bus.AvailablePermits()))
				}
			}
		},
	})
	return nil
}
