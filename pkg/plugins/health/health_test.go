package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/bean"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

type dbCheck struct {
	err error
}

func (d *dbCheck) Name() string                { return "database" }
func (d *dbCheck) Check(context.Context) error { return d.err }

type optionalCheck struct{}

func (optionalCheck) Name() string                { return "mailer" }
func (optionalCheck) Check(context.Context) error { return errors.New("smtp down") }
func (optionalCheck) AffectsReadiness() bool      { return false }

func provide[T any](v T) func(*bean.Registry) {
	return func(r *bean.Registry) { bean.Provide(r, v) }
}

func install(t *testing.T, p *Plugin, beans ...func(*bean.Registry)) http.Handler {
	t.Helper()
	registry := bean.NewRegistry()
	for _, b := range beans {
		b(registry)
	}
	bc, err := registry.Resolve(context.Background())
	require.NoError(t, err)

	router := chi.NewRouter()
	lc := plugin.NewLifecycle()
	pc := plugin.NewPostContext(router, bc, nil, zap.NewNop(), plugin.NewData(), nil, lc)
	require.NoError(t, p.Install(pc))
	return lc.Apply(router)
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	t.Run("Should answer OK in simple mode", func(t *testing.T) {
		h := install(t, New())

		w := get(h, "/health")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
		assert.Equal(t, http.StatusOK, get(h, "/health/live").Code)
	})

	t.Run("Should report ready when every check passes", func(t *testing.T) {
		h := install(t, New(CheckFunc("cache", func(context.Context) error { return nil })), provide(&dbCheck{}))

		w := get(h, "/health/ready")

		require.Equal(t, http.StatusOK, w.Code)
		var report Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.Equal(t, StatusUp, report.Status)
		require.Len(t, report.Checks, 2)
		assert.Equal(t, "cache", report.Checks[0].Name)
		assert.Equal(t, "database", report.Checks[1].Name)
	})

	t.Run("Should answer 503 with the failing reason", func(t *testing.T) {
		h := install(t, New(), provide(&dbCheck{err: errors.New("connection refused")}))

		w := get(h, "/health/ready")

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		var report Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.Equal(t, StatusDown, report.Status)
		assert.Equal(t, "connection refused", report.Checks[0].Reason)
		assert.Equal(t, http.StatusOK, get(h, "/health/live").Code)
	})

	t.Run("Should ignore checks that do not affect readiness", func(t *testing.T) {
		h := install(t, &Plugin{Advanced: true, Checks: []Checker{optionalCheck{}}})

		assert.Equal(t, http.StatusOK, get(h, "/health/ready").Code)
		assert.Equal(t, http.StatusServiceUnavailable, get(h, "/health").Code)
	})

	t.Run("Should survive panicking checks", func(t *testing.T) {
		h := install(t, New(CheckFunc("boom", func(context.Context) error { panic("boom") })))

		w := get(h, "/health/ready")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "check panicked")
	})
}
