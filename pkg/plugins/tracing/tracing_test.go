package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/plugins/requestid"
)

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestPlugin(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	router := chi.NewRouter()
	router.Get("/users/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/broken", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) })

	lc := plugin.NewLifecycle()
	p := &Plugin{ServiceName: "test", Provider: tp}
	require.NoError(t, p.Install(plugin.NewPostContext(router, nil, nil, zap.NewNop(), plugin.NewData(), nil, lc)))
	lc.AddLayer(requestid.Middleware)
	h := lc.Apply(router)

	t.Run("Should name spans after the route pattern", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/7", nil)
		req.Header.Set(requestid.Header, "req-1")
		w := httptest.NewRecorder()

		h.ServeHTTP(w, req)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "GET /users/{id}", spans[0].Name())
		status, ok := attr(spans[0], "http.status_code")
		require.True(t, ok)
		assert.Equal(t, int64(200), status.AsInt64())
		rid, ok := attr(spans[0], "http.request_id")
		require.True(t, ok)
		assert.Equal(t, "req-1", rid.AsString())
		assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
	})

	t.Run("Should mark server errors", func(t *testing.T) {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/broken", nil))

		spans := recorder.Ended()
		require.Len(t, spans, 2)
		assert.Equal(t, codes.Error, spans[1].Status().Code)
	})
}
