// Package scheduling installs the scheduler: it provides the shared
// cancellation token and starts controller tasks at serve time.
package scheduling

import (
	"context"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/scheduler"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// Plugin provides *scheduler.Token and *scheduler.Runner.
type Plugin struct{}

// New returns the scheduler plugin.
func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string { return "scheduler" }

func (*Plugin) Provisions() []typelist.Fingerprint {
	return []typelist.Fingerprint{typelist.Of[*scheduler.Token](), typelist.Of[*scheduler.Runner]()}
}

func (*Plugin) Required() []typelist.Fingerprint { return nil }

func (*Plugin) Install(pc *plugin.PreContext) error {
	token := scheduler.NewToken(context.Background())
	runner := scheduler.NewRunner(pc.Logger)
	bean.Provide(pc.Registry, token)
	bean.Provide(pc.Registry, runner)

	pc.Defer(plugin.DeferredAction{
		Name: "scheduler",
		OnServe: func(tasks []scheduler.Task, _ *scheduler.Token) {
			runner.Start(tasks, token)
		},
		OnShutdown: func() {
			token.Cancel()
			runner.Wait()
		},
	})
	return nil
}
