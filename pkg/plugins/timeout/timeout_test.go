package timeout

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

func TestMiddleware(t *testing.T) {
	h := Middleware(20*time.Millisecond, zap.NewNop())

	t.Run("Should answer 408 when the handler gives up", func(t *testing.T) {
		slow := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { <-r.Context().Done() })
		w := httptest.NewRecorder()

		h(slow).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusRequestTimeout, w.Code)
		assert.JSONEq(t, `{"error":"Request timed out"}`, w.Body.String())
	})

	t.Run("Should leave a written response alone", func(t *testing.T) {
		fast := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
		w := httptest.NewRecorder()

		h(fast).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusAccepted, w.Code)
	})
}

func TestPlugin(t *testing.T) {
	t.Run("Should read the limit from configuration", func(t *testing.T) {
		store := config.FromMap(map[string]interface{}{
			"r2e": map[string]interface{}{"server": map[string]interface{}{"request_timeout": "10ms"}},
		})
		router := chi.NewRouter()
		router.Get("/", func(_ http.ResponseWriter, r *http.Request) { <-r.Context().Done() })
		lc := plugin.NewLifecycle()
		require.NoError(t, New().Install(plugin.NewPostContext(router, nil, store, zap.NewNop(), plugin.NewData(), nil, lc)))

		w := httptest.NewRecorder()
		lc.Apply(router).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusRequestTimeout, w.Code)
	})

	t.Run("Should reject a non-positive limit", func(t *testing.T) {
		lc := plugin.NewLifecycle()
		err := (&Plugin{}).Install(plugin.NewPostContext(chi.NewRouter(), nil, nil, zap.NewNop(), plugin.NewData(), nil, lc))
		assert.Error(t, err)
	})
}
