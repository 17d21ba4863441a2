package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/identity"
)

func serveHub(t *testing.T, cfg HandlerConfig) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	hub.Start()
	router := chi.NewRouter()
	router.Get("/ws/{topic}", hub.Handler(cfg))
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHub(t *testing.T) {
	hub, base := serveHub(t, HandlerConfig{})

	news, _, err := websocket.DefaultDialer.Dial(base+"/ws/news", nil)
	require.NoError(t, err)
	defer news.Close()
	sports, _, err := websocket.DefaultDialer.Dial(base+"/ws/sports", nil)
	require.NoError(t, err)
	defer sports.Close()

	assert.Equal(t, TypeConnected, readMessage(t, news).Type)
	assert.Equal(t, TypeConnected, readMessage(t, sports).Type)
	require.Eventually(t, func() bool { return hub.ConnectionCount("news") == 1 && hub.ConnectionCount("sports") == 1 }, time.Second, 10*time.Millisecond)

	t.Run("Should deliver to subscribers of the topic only", func(t *testing.T) {
		require.NoError(t, hub.Broadcast(context.Background(), "news", map[string]string{"headline": "hello"}))
		require.NoError(t, hub.Broadcast(context.Background(), "sports", map[string]int{"score": 3}))

		m := readMessage(t, news)
		assert.Equal(t, "news", m.Topic)
		assert.Equal(t, TypeEvent, m.Type)
		assert.JSONEq(t, `{"headline":"hello"}`, string(m.Data))

		m = readMessage(t, sports)
		assert.Equal(t, "sports", m.Topic)
		assert.JSONEq(t, `{"score":3}`, string(m.Data))
	})

	t.Run("Should count deliveries", func(t *testing.T) {
		require.Eventually(t, func() bool { return hub.Metrics().MessagesSent == 2 }, time.Second, 10*time.Millisecond)
		assert.Equal(t, int64(2), hub.Metrics().ActiveConnections)
	})

	t.Run("Should unsubscribe closed connections", func(t *testing.T) {
		require.NoError(t, sports.Close())
		require.Eventually(t, func() bool { return hub.ConnectionCount("sports") == 0 }, time.Second, 10*time.Millisecond)
	})

	t.Run("Should reject broadcasts without topic", func(t *testing.T) {
		assert.Error(t, hub.Broadcast(context.Background(), "", nil))
	})
}

func TestHubStop(t *testing.T) {
	t.Run("Should refuse broadcasts once stopped", func(t *testing.T) {
		hub := NewHub(nil)
		hub.Stop()
		hub.Stop()

		assert.ErrorIs(t, hub.Broadcast(context.Background(), "news", 1), ErrHubStopped)
	})

	t.Run("Should refuse every broadcast while the buffer has room", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			hub := NewHub(nil)
			hub.Start()
			hub.Stop()
			require.ErrorIs(t, hub.Broadcast(context.Background(), "news", i), ErrHubStopped)
		}
	})
}

func TestHandlerAuthentication(t *testing.T) {
	validator := identity.ValidatorFunc(func(_ context.Context, token string) (identity.Identity, error) {
		if token != "good" {
			return nil, identity.ErrInvalidToken
		}
		return &identity.User{Subject: "u1"}, nil
	})
	_, base := serveHub(t, HandlerConfig{Extractor: identity.NewExtractor(validator)})

	t.Run("Should reject connections without a token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/news", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Should accept a token query parameter", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/news?token=good", nil)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, TypeConnected, readMessage(t, conn).Type)
	})
}
