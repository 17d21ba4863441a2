package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/config"
	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/events"
	"github.com/Plawn/r2e-sub001/pkg/identity"
	"github.com/Plawn/r2e-sub001/pkg/interceptor"
	"github.com/Plawn/r2e-sub001/pkg/pipeline"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

type appState struct {
	Name string
}

type userRepo struct {
	users map[string]string
}

type users struct {
	Repo     *userRepo         `inject:""`
	Greeting string            `config:"app.greeting"`
	Caller   identity.Identity `identity:"optional"`
}

func (u *users) Get(_ context.Context, req *pipeline.Request) (map[string]string, error) {
	name, ok := u.Repo.users[req.Param("id")]
	if !ok {
		return nil, apperrors.NotFound("USER_NOT_FOUND", "User not found").Build()
	}
	return map[string]string{"id": req.Param("id"), "name": name}, nil
}

func (u *users) Hello(context.Context, *pipeline.Request) (map[string]string, error) {
	who := "stranger"
	if u.Caller != nil {
		who = u.Caller.Sub()
	}
	return map[string]string{"message": u.Greeting + " " + who}, nil
}

type userCreated struct {
	ID string
}

type fixture struct {
	router *chi.Mux
	env    *Env
	store  *config.Store
	repo   *userRepo
	bus    *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := config.New()
	store.Set("app.greeting", "hello")
	repo := &userRepo{users: map[string]string{"1": "ada"}}
	bus := events.NewBus(8, zap.NewNop())

	registry := bean.NewRegistry()
	bean.Provide(registry, store)
	bean.Provide(registry, repo)
	bean.Provide(registry, bus)
	beans, err := registry.Resolve(context.Background())
	require.NoError(t, err)

	router := chi.NewRouter()
	return &fixture{
		router: router,
		store:  store,
		repo:   repo,
		bus:    bus,
		env: &Env{
			Router: router,
			Pipeline: &pipeline.Env{
				State: appState{Name: "test"},
				Extractor: identity.NewExtractor(identity.ValidatorFunc(func(_ context.Context, token string) (identity.Identity, error) {
					if token == "good" {
						return &identity.User{Subject: "u1", RoleNames: []string{"user"}}, nil
					}
					return nil, identity.ErrInvalidToken
				})),
				Logger: zap.NewNop(),
			},
			Beans:     beans,
			Config:    store,
			Lifecycle: plugin.NewLifecycle(),
			Logger:    zap.NewNop(),
		},
	}
}

func (f *fixture) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestControllerRoutes(t *testing.T) {
	f := newFixture(t)
	ctl := New[appState, users]("Users", Prefix("/users"))
	GET(ctl, "/{id}", (*users).Get)
	GET(ctl, "/hello", (*users).Hello)
	require.NoError(t, ctl.Mount(f.env))

	t.Run("Should inject beans and path params", func(t *testing.T) {
		w := f.do(http.MethodGet, "/users/1", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"id":"1","name":"ada"}`, w.Body.String())
	})

	t.Run("Should render handler errors", func(t *testing.T) {
		w := f.do(http.MethodGet, "/users/9", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"User not found"}`, w.Body.String())
	})

	t.Run("Should fill an optional identity field", func(t *testing.T) {
		assert.JSONEq(t, `{"message":"hello stranger"}`, f.do(http.MethodGet, "/users/hello", "").Body.String())
		assert.JSONEq(t, `{"message":"hello u1"}`, f.do(http.MethodGet, "/users/hello", "good").Body.String())
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/users/hello", "bad").Code)
	})

	t.Run("Should pick up configuration changes", func(t *testing.T) {
		f.store.Set("app.greeting", "bonjour")

		w := f.do(http.MethodGet, "/users/hello", "")

		assert.JSONEq(t, `{"message":"bonjour stranger"}`, w.Body.String())
	})
}

type account struct {
	Caller identity.Identity `identity:""`
}

func (a *account) Me(context.Context, *pipeline.Request) (map[string]string, error) {
	return map[string]string{"sub": a.Caller.Sub()}, nil
}

func TestControllerRequiredIdentity(t *testing.T) {
	f := newFixture(t)
	ctl := New[appState, account]("Account")
	GET(ctl, "/me", (*account).Me)
	require.NoError(t, ctl.Mount(f.env))

	t.Run("Should reject anonymous callers", func(t *testing.T) {
		w := f.do(http.MethodGet, "/me", "")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"Missing Authorization header"}`, w.Body.String())
	})

	t.Run("Should expose the caller", func(t *testing.T) {
		w := f.do(http.MethodGet, "/me", "good")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"sub":"u1"}`, w.Body.String())
	})

	t.Run("Should refuse background work", func(t *testing.T) {
		bg := New[appState, account]("Background")
		bg.Every("tick", time.Second, func(*account, context.Context) error { return nil })

		assert.Error(t, bg.Mount(newFixture(t).env))
	})
}

func TestControllerDecorators(t *testing.T) {
	f := newFixture(t)
	var order []string
	trace := func(name string) interceptor.Interceptor {
		return interceptor.Func(func(ctx context.Context, _ *interceptor.Context, next interceptor.Next) (interface{}, error) {
			order = append(order, name)
			return next(ctx)
		})
	}

	ctl := New[appState, users]("Users", Prefix("/users"), With(pipeline.Intercept(trace("controller"))))
	GET(ctl, "/{id}", (*users).Get, pipeline.Intercept(trace("route")), pipeline.OperationID("getUser"))
	require.NoError(t, ctl.Mount(f.env))

	w := f.do(http.MethodGet, "/users/1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"controller", "route"}, order)
}

func TestControllerTasksAndConsumers(t *testing.T) {
	f := newFixture(t)
	var seen []string
	ctl := New[appState, users]("Users")
	ctl.Every("refresh", time.Minute, func(u *users, _ context.Context) error {
		u.Repo.users["2"] = "grace"
		return nil
	})
	Consume(ctl, func(u *users, _ context.Context, e *userCreated) error {
		seen = append(seen, u.Repo.users[e.ID])
		return nil
	})
	require.NoError(t, ctl.Mount(f.env))

	tasks := f.env.Lifecycle.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "Users.refresh", tasks[0].Name)
	require.NoError(t, tasks[0].Run(context.Background()))
	assert.Equal(t, "grace", f.repo.users["2"])

	require.NoError(t, events.EmitAndWait(context.Background(), f.bus, userCreated{ID: "2"}))
	assert.Equal(t, []string{"grace"}, seen)
	assert.Equal(t, 1, events.Subscribers[userCreated](f.bus))

	for _, stop := range f.env.Lifecycle.StopHooks() {
		require.NoError(t, stop(context.Background()))
	}
	assert.Equal(t, 0, events.Subscribers[userCreated](f.bus))
}

func TestControllerTaskSchedules(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	noop := func(*users, context.Context) error { return nil }

	t.Run("Should delay Every by one period", func(t *testing.T) {
		f := newFixture(t)
		ctl := New[appState, users]("Users").Every("refresh", time.Minute, noop)
		require.NoError(t, ctl.Mount(f.env))

		tasks := f.env.Lifecycle.Tasks()
		require.Len(t, tasks, 1)
		assert.Equal(t, base.Add(time.Minute), tasks[0].Schedule.First(base))
		assert.Equal(t, "every 1m0s after 1m0s", ctl.Describe().Tasks[0].Schedule)
	})

	t.Run("Should fire EveryNow at once", func(t *testing.T) {
		f := newFixture(t)
		ctl := New[appState, users]("Users").EveryNow("warmup", time.Minute, noop)
		require.NoError(t, ctl.Mount(f.env))

		tasks := f.env.Lifecycle.Tasks()
		require.Len(t, tasks, 1)
		assert.Equal(t, base, tasks[0].Schedule.First(base))
		assert.Equal(t, base.Add(time.Minute), tasks[0].Schedule.Next(base))
		assert.Equal(t, "every 1m0s", ctl.Describe().Tasks[0].Schedule)
	})

	t.Run("Should reject a non-positive interval", func(t *testing.T) {
		assert.Error(t, New[appState, users]("Users").EveryNow("spin", 0, noop).Err())
		assert.Error(t, New[appState, users]("Users").Every("spin", -time.Second, noop).Err())
	})
}

func TestControllerDescribe(t *testing.T) {
	ctl := New[appState, users]("Users", Prefix("/users/"))
	GET(ctl, "/{id}", (*users).Get)
	DELETE(ctl, "/{id}", func(*users, context.Context, *pipeline.Request) (*struct{}, error) { return nil, nil })
	ctl.EveryAfter("refresh", time.Minute, 5*time.Second, func(*users, context.Context) error { return nil })
	Consume(ctl, func(*users, context.Context, *userCreated) error { return nil })

	d := ctl.Describe()

	assert.Equal(t, "Users", d.Name)
	assert.Equal(t, "optional", d.Identity)
	require.Len(t, d.Routes, 2)
	assert.Equal(t, "/users/{id}", d.Routes[0].Path)
	assert.Equal(t, "Get", d.Routes[0].Handler)
	assert.Equal(t, "Users.Get", d.Routes[0].OperationID)
	assert.Equal(t, "map[string]string", d.Routes[0].Result)
	assert.Equal(t, "delete_users_id", d.Routes[1].Handler)
	assert.Equal(t, []string{"app.greeting"}, d.ConfigKeys)
	assert.Equal(t, []TaskInfo{{Name: "refresh", Schedule: "every 1m0s after 5s"}}, d.Tasks)
	assert.Len(t, d.Consumers, 1)
	assert.Len(t, d.Dependencies, 1)
}

func TestControllerErrors(t *testing.T) {
	t.Run("Should reject a non-identity identity field", func(t *testing.T) {
		type bad struct {
			Caller string `identity:""`
		}
		assert.Error(t, New[appState, bad]("Bad").Err())
	})

	t.Run("Should reject an invalid cron expression", func(t *testing.T) {
		ctl := New[appState, users]("Users").Cron("nightly", "not a cron", func(*users, context.Context) error { return nil })
		assert.Error(t, ctl.Err())
	})

	t.Run("Should reject a mismatched state", func(t *testing.T) {
		f := newFixture(t)
		f.env.Pipeline.State = "other"
		assert.Error(t, New[appState, users]("Users").Mount(f.env))
	})

	t.Run("Should report a missing bean", func(t *testing.T) {
		type needsBus struct {
			Missing *time.Location `inject:""`
		}
		err := New[appState, needsBus]("Needs").Mount(newFixture(t).env)
		assert.ErrorIs(t, err, bean.ErrMissingDependency)
	})

	t.Run("Should reject roles without identity at mount", func(t *testing.T) {
		type open struct{}
		ctl := New[appState, open]("Open")
		GET(ctl, "/x", func(*open, context.Context, *pipeline.Request) (string, error) { return "", nil }, pipeline.Roles("admin"))
		assert.Error(t, ctl.Mount(newFixture(t).env))
	})
}
