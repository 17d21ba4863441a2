package normalizepath

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

func TestPlugin(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/users", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	lc := plugin.NewLifecycle()
	require.NoError(t, New().Install(plugin.NewPostContext(router, nil, nil, zap.NewNop(), plugin.NewData(), nil, lc)))
	h := lc.Apply(router)

	for _, path := range []string{"/users", "/users/"} {
		t.Run("Should route "+path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
