package demo

import (
	"context"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/api"
	"github.com/Plawn/r2e-sub001/pkg/controller"
	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/events"
	"github.com/Plawn/r2e-sub001/pkg/guard"
	"github.com/Plawn/r2e-sub001/pkg/pipeline"
	"github.com/Plawn/r2e-sub001/pkg/ws"
)

// UsersGroup is the cache group of user listings.
const UsersGroup = "users"

// Users serves the directory.
type Users struct {
	Repo   *UserRepo   `inject:""`
	Bus    *events.Bus `inject:""`
	Logger *zap.Logger `inject:""`
}

func (u *Users) Get(ctx context.Context, req *pipeline.Request) (*User, error) {
	id, err := strconv.ParseInt(req.Param("id"), 10, 64)
	if err != nil {
		return nil, apperrors.BadRequest("INVALID_ID", "Invalid user id").Build()
	}
	return u.Repo.Get(ctx, id)
}

func (u *Users) List(ctx context.Context, _ *pipeline.Request) ([]User, error) {
	return u.Repo.List(ctx)
}

func (u *Users) Create(ctx context.Context, req *pipeline.Request) (*api.Response, error) {
	var body CreateUserRequest
	if err := req.Bind(&body); err != nil {
		return nil, err
	}
	tx, err := pipeline.ManagedAs[*sqlx.Tx](req, pipeline.TxName)
	if err != nil {
		return nil, err
	}
	created, err := u.Repo.Insert(ctx, tx, body)
	if err != nil {
		return nil, err
	}
	if err := events.Emit(ctx, u.Bus, UserCreated{ID: created.ID, Name: created.Name, Email: created.Email}); err != nil {
		u.Logger.Warn("Failed to emit UserCreated", zap.Int64("user_id", created.ID), zap.Error(err))
	}
	return api.Created(created).Header("Location", "/users/"+strconv.FormatInt(created.ID, 10)), nil
}

// UsersController declares the directory routes.
func UsersController(cacheTTL time.Duration) *controller.Controller[State, Users] {
	ctl := controller.New[State, Users]("Users")
	controller.GET(ctl, "/users/{id}", (*Users).Get, pipeline.RequireIdentity(), pipeline.Roles("admin"))
	controller.GET(ctl, "/cached-users", (*Users).List, pipeline.Cached(UsersGroup, cacheTTL))
	controller.POST(ctl, "/users", (*Users).Create,
		pipeline.RequireIdentity(),
		pipeline.Roles("admin"),
		pipeline.Transactional("DB"),
		pipeline.InvalidateCache(UsersGroup),
	)
	return ctl
}

// Submissions accepts anonymous submissions under a global rate limit.
type Submissions struct{}

func (*Submissions) Submit(context.Context, *pipeline.Request) (map[string]string, error) {
	return map[string]string{"status": "accepted"}, nil
}

func SubmissionsController() *controller.Controller[State, Submissions] {
	ctl := controller.New[State, Submissions]("Submissions")
	controller.POST(ctl, "/submit", (*Submissions).Submit,
		pipeline.RateLimited(pipeline.RateLimit{Max: 2, Window: time.Minute, Key: guard.KeyGlobal}))
	return ctl
}

// Activity runs the heartbeat, relays new users to websocket subscribers
// and reports counters.
type Activity struct {
	Stats       *Stats         `inject:""`
	Broadcaster ws.Broadcaster `inject:""`
	Logger      *zap.Logger    `inject:""`
}

func (a *Activity) Heartbeat(context.Context) error {
	a.Stats.heartbeats.Add(1)
	return nil
}

func (a *Activity) OnUserCreated(ctx context.Context, e *UserCreated) error {
	a.Stats.created.Add(1)
	return a.Broadcaster.Broadcast(ctx, UsersGroup, e)
}

func (a *Activity) Report(context.Context, *pipeline.Request) (map[string]int64, error) {
	return map[string]int64{
		"heartbeats":    a.Stats.Heartbeats(),
		"users_created": a.Stats.Created(),
	}, nil
}

func ActivityController(heartbeat time.Duration) *controller.Controller[State, Activity] {
	ctl := controller.New[State, Activity]("Activity")
	controller.GET(ctl, "/stats", (*Activity).Report)
	ctl.Every("heartbeat", heartbeat, (*Activity).Heartbeat)
	controller.Consume(ctl, (*Activity).OnUserCreated)
	return ctl
}
