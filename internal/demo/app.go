package demo

import (
	"context"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/app"
	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/cache"
	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/events"
	"github.com/Plawn/r2e-sub001/pkg/oidc"
	"github.com/Plawn/r2e-sub001/pkg/plugins/circuitbreaker"
	"github.com/Plawn/r2e-sub001/pkg/plugins/cors"
	"github.com/Plawn/r2e-sub001/pkg/plugins/devreload"
	"github.com/Plawn/r2e-sub001/pkg/plugins/health"
	"github.com/Plawn/r2e-sub001/pkg/plugins/metrics"
	"github.com/Plawn/r2e-sub001/pkg/plugins/normalizepath"
	"github.com/Plawn/r2e-sub001/pkg/plugins/requestid"
	"github.com/Plawn/r2e-sub001/pkg/plugins/scheduling"
	"github.com/Plawn/r2e-sub001/pkg/plugins/secureheaders"
	"github.com/Plawn/r2e-sub001/pkg/plugins/timeout"
	"github.com/Plawn/r2e-sub001/pkg/plugins/tracing"
	"github.com/Plawn/r2e-sub001/pkg/ws"
)

// State is the application state handed to every controller.
type State struct {
	DB     *sqlx.DB
	Cache  cache.Store
	Bus    *events.Bus
	Logger *zap.Logger
}

// Deps are the infrastructure pieces built outside the framework.
type Deps struct {
	Config    *config.Store
	Logger    *zap.Logger
	Settings  Settings
	DB        *sqlx.DB
	Cache     cache.Store
	Users     *oidc.UserStore
	Clients   *oidc.ClientStore
	Forwarder *events.EventBridgeForwarder
	// Broadcaster, when set, replaces the in-process hub for broadcasts.
	Broadcaster ws.Broadcaster
	// CloudWatch, when set, pushes request metrics; used under Lambda.
	CloudWatch *metrics.CloudWatchSink
}

// NewApplication assembles the demo.
func NewApplication(ctx context.Context, deps Deps) (*app.App, error) {
	settings := deps.Settings

	b := app.New[State]().WithConfig(deps.Config).WithLogger(deps.Logger)
	app.Provide(b, deps.DB)
	app.Provide[State, cache.Store](b, deps.Cache)
	app.Provide(b, &Stats{})
	app.Provide(b, &DBCheck{DB: deps.DB})
	bean.Register[*UserRepo](b.Registry(), NewUserRepo)

	ps, err := b.
		Plugin(scheduling.New()).
		Plugin(&events.Plugin{DrainTimeout: 5 * time.Second}).
		Plugin(oidc.New(deps.Users, deps.Clients)).
		Plugin(&ws.Plugin{Path: "/ws/{topic}", Authenticated: true, Broadcaster: deps.Broadcaster}).
		Controller(UsersController(settings.CacheTTL)).
		Controller(SubmissionsController()).
		Controller(ActivityController(settings.HeartbeatEvery)).
		BuildState(ctx)
	if err != nil {
		return nil, err
	}

	if deps.Forwarder != nil {
		unsubscribe := events.Forward[UserCreated](ps.State().Bus, deps.Forwarder)
		ps.OnStop(func(context.Context) error {
			unsubscribe()
			return nil
		})
	}

	tracer := tracing.New("r2e-demo")
	if settings.OTLPEndpoint != "" {
		tracer.Export = &tracing.Config{Endpoint: settings.OTLPEndpoint, Environment: settings.Profile, Insecure: true}
	}

	mp := metrics.New()
	mp.CloudWatch = deps.CloudWatch

	hc := health.New()
	hc.Advanced = true

	ps.Plugin(normalizepath.New()).
		Plugin(timeout.New()).
		Plugin(circuitbreaker.New()).
		Plugin(mp).
		Plugin(tracer).
		Plugin(hc).
		Plugin(secureheaders.New()).
		Plugin(cors.New()).
		Plugin(requestid.New()).
		Layer(chimiddleware.RealIP)
	if settings.Profile == "dev" {
		ps.Plugin(devreload.New())
	}

	return ps.Build(ctx)
}
