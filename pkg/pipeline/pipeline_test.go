package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/api"
	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/guard"
	"github.com/Plawn/r2e-sub001/pkg/identity"
	"github.com/Plawn/r2e-sub001/pkg/interceptor"
	"github.com/Plawn/r2e-sub001/pkg/managed"
	"github.com/Plawn/r2e-sub001/pkg/ratelimit"
)

func testExtractor() *identity.Extractor {
	return identity.NewExtractor(identity.ValidatorFunc(func(_ context.Context, token string) (identity.Identity, error) {
		switch token {
		case "admin-token":
			return &identity.User{Subject: "u1", RoleNames: []string{"admin"}}, nil
		case "user-token":
			return &identity.User{Subject: "u2", RoleNames: []string{"user"}}, nil
		}
		return nil, identity.ErrInvalidToken
	}))
}

func testEnv() *Env {
	return &Env{
		State:      "state",
		Extractor:  testExtractor(),
		RateLimits: ratelimit.NewRegistry(),
		Logger:     zap.NewNop(),
	}
}

func serve(t *testing.T, spec RouteSpec, env *Env, target Target, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	h, err := Assemble(spec, env, target)
	require.NoError(t, err)
	router := chi.NewRouter()
	router.Method(spec.Method, spec.Path, h)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func newSpec(method, path string, decorators ...Decorator) RouteSpec {
	spec := RouteSpec{Method: method, Path: path, Controller: "Users", Handler: "get"}
	spec.Apply(decorators...)
	return spec
}

func okTarget(result interface{}) Target {
	return Target{Invoke: func(context.Context, *Request) (interface{}, error) { return result, nil }}
}

func TestPipelineOrder(t *testing.T) {
	var events []string
	record := func(name string) { events = append(events, name) }

	resource := func(name string) managed.Resource {
		return managed.Funcs{
			AcquireFunc: func(context.Context, interface{}) (interface{}, error) {
				record("acquire." + name)
				return name, nil
			},
			ReleaseFunc: func(_ context.Context, _ interface{}, success bool) error {
				record("release." + name)
				assert.True(t, success)
				return nil
			},
		}
	}
	around := func(name string) interceptor.Interceptor {
		return interceptor.Func(func(ctx context.Context, ic *interceptor.Context, next interceptor.Next) (interface{}, error) {
			record(name + ".before")
			v, err := next(ctx)
			record(name + ".after")
			return v, err
		})
	}

	spec := newSpec(http.MethodGet, "/users/{id}",
		PreGuard(guard.PreAuthFunc(func(context.Context, *guard.Context) error { record("pre.1"); return nil })),
		PreGuard(guard.PreAuthFunc(func(context.Context, *guard.Context) error { record("pre.2"); return nil })),
		RequireIdentity(),
		Guard(guard.Func(func(_ context.Context, gc *guard.Context) error {
			record("guard.1")
			assert.Equal(t, "u1", gc.Identity.Sub())
			return nil
		})),
		Guard(guard.Func(func(context.Context, *guard.Context) error { record("guard.2"); return nil })),
		Managed("a", resource("a")),
		Managed("b", resource("b")),
		Intercept(around("outer"), around("inner")),
	)
	target := Target{
		Construct: func(_ context.Context, req *Request) (interface{}, error) {
			record("identity:" + req.Identity().Sub())
			record("construct")
			return "controller", nil
		},
		Invoke: func(_ context.Context, req *Request) (interface{}, error) {
			record("handler")
			a, err := ManagedAs[string](req, "a")
			require.NoError(t, err)
			assert.Equal(t, "a", a)
			assert.Equal(t, "controller", req.Controller())
			return map[string]string{"id": req.Param("id")}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	w := serve(t, spec, testEnv(), target, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"42"}`, w.Body.String())
	assert.Equal(t, []string{
		"pre.1", "pre.2",
		"identity:u1", "construct",
		"guard.1", "guard.2",
		"acquire.a", "acquire.b",
		"outer.before", "inner.before", "handler", "inner.after", "outer.after",
		"release.b", "release.a",
	}, events)
}

func TestPipelineIdentity(t *testing.T) {
	target := Target{Invoke: func(_ context.Context, req *Request) (interface{}, error) {
		if req.Identity() == nil {
			return map[string]string{"user": "anonymous"}, nil
		}
		return map[string]string{"user": req.Identity().Sub()}, nil
	}}

	tests := []struct {
		name   string
		spec   RouteSpec
		header string
		status int
		body   string
	}{
		{name: "Should allow anonymous access on optional identity", spec: newSpec(http.MethodGet, "/me", OptionalIdentity()), status: 200, body: `{"user":"anonymous"}`},
		{name: "Should reject a bad token on optional identity", spec: newSpec(http.MethodGet, "/me", OptionalIdentity()), header: "Bearer junk", status: 401},
		{name: "Should extract a good token on optional identity", spec: newSpec(http.MethodGet, "/me", OptionalIdentity()), header: "Bearer user-token", status: 200, body: `{"user":"u2"}`},
		{name: "Should require the header on required identity", spec: newSpec(http.MethodGet, "/me", RequireIdentity()), status: 401, body: `{"error":"Missing Authorization header"}`},
		{name: "Should honor a controller-level identity", spec: RouteSpec{Method: http.MethodGet, Path: "/me", Controller: "C", Handler: "h", StructIdentity: IdentityRequired}, header: "Bearer admin-token", status: 200, body: `{"user":"u1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := serve(t, tt.spec, testEnv(), target, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestPipelineRoles(t *testing.T) {
	var userGuardRan bool
	spec := newSpec(http.MethodGet, "/users/{id}",
		RequireIdentity(),
		Guard(guard.Func(func(context.Context, *guard.Context) error { userGuardRan = true; return nil })),
		Roles("admin"),
	)

	t.Run("Should admit the admin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
		req.Header.Set("Authorization", "Bearer admin-token")

		w := serve(t, spec, testEnv(), okTarget(map[string]string{"id": "1"}), req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Should check roles before declared guards", func(t *testing.T) {
		userGuardRan = false
		req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
		req.Header.Set("Authorization", "Bearer user-token")

		w := serve(t, spec, testEnv(), okTarget(nil), req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.JSONEq(t, `{"error":"Insufficient roles"}`, w.Body.String())
		assert.False(t, userGuardRan)
	})
}

func TestPipelineRateLimit(t *testing.T) {
	spec := newSpec(http.MethodPost, "/submit", RateLimited(RateLimit{Max: 2, Window: 60 * time.Second, Key: guard.KeyGlobal}))
	h, err := Assemble(spec, testEnv(), okTarget(map[string]bool{"ok": true}))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/submit", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/submit", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	retry := w.Header().Get("Retry-After")
	require.NotEmpty(t, retry)
	assert.Contains(t, []string{"30", "31"}, retry)
}

func TestPipelineManagedFailures(t *testing.T) {
	t.Run("Should release acquired resources when a later acquire fails", func(t *testing.T) {
		var released []string
		var successes []bool
		ok := managed.Funcs{
			AcquireFunc: func(context.Context, interface{}) (interface{}, error) { return "ok", nil },
			ReleaseFunc: func(_ context.Context, _ interface{}, success bool) error {
				released = append(released, "ok")
				successes = append(successes, success)
				return nil
			},
		}
		broken := managed.Funcs{AcquireFunc: func(context.Context, interface{}) (interface{}, error) {
			return nil, apperrors.Unavailable("DOWN", "Lease unavailable").Build()
		}}
		handlerRan := false
		target := Target{Invoke: func(context.Context, *Request) (interface{}, error) { handlerRan = true; return nil, nil }}

		w := serve(t, newSpec(http.MethodGet, "/x", Managed("ok", ok), Managed("broken", broken)), testEnv(), target, httptest.NewRequest(http.MethodGet, "/x", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.False(t, handlerRan)
		assert.Equal(t, []string{"ok"}, released)
		assert.Equal(t, []bool{false}, successes)
	})

	t.Run("Should release with failure when the handler errors", func(t *testing.T) {
		var success *bool
		res := managed.Funcs{
			AcquireFunc: func(context.Context, interface{}) (interface{}, error) { return 1, nil },
			ReleaseFunc: func(_ context.Context, _ interface{}, s bool) error { success = &s; return nil },
		}
		target := Target{Invoke: func(context.Context, *Request) (interface{}, error) {
			return nil, apperrors.Conflict("DUP", "Already exists").Build()
		}}

		w := serve(t, newSpec(http.MethodPost, "/x", Managed("r", res)), testEnv(), target, httptest.NewRequest(http.MethodPost, "/x", nil))

		assert.Equal(t, http.StatusConflict, w.Code)
		require.NotNil(t, success)
		assert.False(t, *success)
	})

	t.Run("Should release with failure when the handler panics", func(t *testing.T) {
		var success *bool
		res := managed.Funcs{
			AcquireFunc: func(context.Context, interface{}) (interface{}, error) { return 1, nil },
			ReleaseFunc: func(_ context.Context, _ interface{}, s bool) error { success = &s; return nil },
		}
		target := Target{Invoke: func(context.Context, *Request) (interface{}, error) { panic("boom") }}
		h, err := Assemble(newSpec(http.MethodGet, "/x", Managed("r", res)), testEnv(), target)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		apperrors.Recovery(zap.NewNop())(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
		require.NotNil(t, success)
		assert.False(t, *success)
	})

	t.Run("Should surface release failures after a successful handler", func(t *testing.T) {
		res := managed.Funcs{
			AcquireFunc: func(context.Context, interface{}) (interface{}, error) { return 1, nil },
			ReleaseFunc: func(context.Context, interface{}, bool) error {
				return apperrors.Internal("COMMIT", "Transaction commit failed").Build()
			},
		}

		w := serve(t, newSpec(http.MethodGet, "/x", Managed("r", res)), testEnv(), okTarget("done"), httptest.NewRequest(http.MethodGet, "/x", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestPipelineResults(t *testing.T) {
	tests := []struct {
		name   string
		result interface{}
		status int
		body   string
		header string
	}{
		{name: "Should answer 204 for nil", result: nil, status: http.StatusNoContent},
		{name: "Should answer 204 for a typed nil", result: (*api.Response)(nil), status: http.StatusNoContent},
		{name: "Should answer 200 JSON for values", result: []int{1, 2}, status: http.StatusOK, body: `[1,2]`},
		{name: "Should let responders write themselves", result: api.Created(map[string]int{"id": 1}).Header("Location", "/users/1"), status: http.StatusCreated, body: `{"id":1}`, header: "/users/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, newSpec(http.MethodGet, "/r"), testEnv(), okTarget(tt.result), httptest.NewRequest(http.MethodGet, "/r", nil))

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
			if tt.header != "" {
				assert.Equal(t, tt.header, w.Header().Get("Location"))
			}
		})
	}
}

func TestPipelineTimeout(t *testing.T) {
	target := Target{Invoke: func(ctx context.Context, _ *Request) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "late", nil
		}
	}}

	w := serve(t, newSpec(http.MethodGet, "/slow", Timeout(20*time.Millisecond)), testEnv(), target, httptest.NewRequest(http.MethodGet, "/slow", nil))

	assert.Equal(t, http.StatusRequestTimeout, w.Code)
}

type createUser struct {
	Name  string `json:"name" validate:"required,min=2"`
	Email string `json:"email" validate:"required,email"`
}

func TestRequestBind(t *testing.T) {
	target := Target{Invoke: func(_ context.Context, req *Request) (interface{}, error) {
		var body createUser
		if err := req.Bind(&body); err != nil {
			return nil, err
		}
		return api.Created(body), nil
	}}
	spec := newSpec(http.MethodPost, "/users")

	tests := []struct {
		name   string
		body   string
		status int
		error  string
	}{
		{name: "Should accept a valid body", body: `{"name":"Ada","email":"ada@example.com"}`, status: http.StatusCreated},
		{name: "Should reject malformed JSON", body: `{"name":`, status: http.StatusBadRequest, error: "Invalid request body"},
		{name: "Should reject an empty body", body: ``, status: http.StatusBadRequest, error: "Request body is required"},
		{name: "Should report validation failures by JSON name", body: `{"name":"A","email":"nope"}`, status: http.StatusBadRequest, error: "name must be at least 2; email must be a valid email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(tt.body))

			w := serve(t, spec, testEnv(), target, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.error != "" {
				assert.JSONEq(t, `{"error":"`+tt.error+`"}`, w.Body.String())
			}
		})
	}
}

func TestRouteValidation(t *testing.T) {
	tests := []struct {
		name string
		spec RouteSpec
		ok   bool
	}{
		{name: "Should accept a plain route", spec: newSpec(http.MethodGet, "/a"), ok: true},
		{name: "Should reject two identity sources", spec: func() RouteSpec {
			s := newSpec(http.MethodGet, "/a", RequireIdentity())
			s.StructIdentity = IdentityOptional
			return s
		}()},
		{name: "Should reject unknown rate limit keys", spec: newSpec(http.MethodGet, "/a", RateLimited(RateLimit{Max: 1, Window: time.Second, Key: "tenant"}))},
		{name: "Should reject user rate limits without identity", spec: newSpec(http.MethodGet, "/a", RateLimited(RateLimit{Max: 1, Window: time.Second, Key: guard.KeyUser}))},
		{name: "Should reject roles without identity", spec: newSpec(http.MethodGet, "/a", Roles("admin"))},
		{name: "Should reject a managed tx alongside transactional", spec: newSpec(http.MethodGet, "/a", Managed(TxName, managed.Funcs{}), Transactional("DB"))},
		{name: "Should reject relative paths", spec: newSpec(http.MethodGet, "a")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	t.Run("Should refuse identity routes without a validator", func(t *testing.T) {
		_, err := Assemble(newSpec(http.MethodGet, "/a", RequireIdentity()), &Env{}, okTarget(nil))
		assert.Error(t, err)
	})

	t.Run("Should record decorator summaries", func(t *testing.T) {
		s := newSpec(http.MethodGet, "/a", RequireIdentity(), Roles("admin"), Cached("users", time.Minute))
		assert.Equal(t, []string{"identity", "roles(admin)", "cached(users,1m0s)"}, s.Decorators)
		assert.Equal(t, IdentityRequired, s.Identity())
	})
}

func TestManagedAs(t *testing.T) {
	req := NewRequest(httptest.NewRequest(http.MethodGet, "/", nil), nil, nil)
	req.managed["n"] = 3

	v, err := ManagedAs[int](req, "n")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = ManagedAs[string](req, "n")
	assert.Error(t, err)
	_, err = ManagedAs[int](req, "missing")
	assert.Error(t, err)
}

type dbState struct {
	DB *sqlx.DB
}

func TestPipelineTransactional(t *testing.T) {
	newState := func(t *testing.T) (*dbState, sqlmock.Sqlmock) {
		raw, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { raw.Close() })
		return &dbState{DB: sqlx.NewDb(raw, "sqlmock")}, mock
	}
	insert := func(fail bool) Target {
		return Target{Invoke: func(ctx context.Context, req *Request) (interface{}, error) {
			tx, err := ManagedAs[*sqlx.Tx](req, TxName)
			if err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO users (name) VALUES ($1)", "ada"); err != nil {
				return nil, err
			}
			if fail {
				return nil, apperrors.BadRequest("REJECTED", "Rejected").Build()
			}
			return api.Created(map[string]string{"name": "ada"}), nil
		}}
	}

	t.Run("Should commit when the handler succeeds", func(t *testing.T) {
		state, mock := newState(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WithArgs("ada").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		env := testEnv()
		env.State = state

		w := serve(t, newSpec(http.MethodPost, "/users", Transactional("DB")), env, insert(false), httptest.NewRequest(http.MethodPost, "/users", nil))

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should roll back when the handler fails", func(t *testing.T) {
		state, mock := newState(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WithArgs("ada").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectRollback()
		env := testEnv()
		env.State = state

		w := serve(t, newSpec(http.MethodPost, "/users", Transactional("DB")), env, insert(true), httptest.NewRequest(http.MethodPost, "/users", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
