package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

func install(t *testing.T, store *config.Store) http.Handler {
	t.Helper()
	router := chi.NewRouter()
	router.Get("/users", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	lc := plugin.NewLifecycle()
	require.NoError(t, New().Install(plugin.NewPostContext(router, nil, store, zap.NewNop(), plugin.NewData(), nil, lc)))
	return lc.Apply(router)
}

func TestPlugin(t *testing.T) {
	t.Run("Should answer preflight requests", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/users", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
		w := httptest.NewRecorder()

		install(t, nil).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "GET")
	})

	t.Run("Should restrict origins from configuration", func(t *testing.T) {
		store := config.FromMap(map[string]interface{}{
			"r2e": map[string]interface{}{"cors": map[string]interface{}{"allowed_origins": []interface{}{"https://ok.example.com"}}},
		})
		h := install(t, store)

		allowed := httptest.NewRequest(http.MethodGet, "/users", nil)
		allowed.Header.Set("Origin", "https://ok.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, allowed)
		assert.Equal(t, "https://ok.example.com", w.Header().Get("Access-Control-Allow-Origin"))

		denied := httptest.NewRequest(http.MethodGet, "/users", nil)
		denied.Header.Set("Origin", "https://evil.example.com")
		w = httptest.NewRecorder()
		h.ServeHTTP(w, denied)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}
