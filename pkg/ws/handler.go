package ws

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/identity"
)

// TopicParam is the route parameter naming the topic.
const TopicParam = "topic"

// HandlerConfig configures the upgrade endpoint.
type HandlerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	// Extractor, when set, authenticates the connection from the
	// Authorization header or a "token" query parameter.
	Extractor *identity.Extractor
	// MaxPerTopic caps subscribers per topic; zero means unlimited.
	MaxPerTopic int
}

// Handler upgrades requests on a route carrying {topic}.
func (h *Hub) Handler(cfg HandlerConfig) http.HandlerFunc {
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = 1024
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     cfg.CheckOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		topic := chi.URLParam(r, TopicParam)
		if topic == "" {
			topic = r.URL.Query().Get(TopicParam)
		}
		if topic == "" {
			apperrors.WriteHTTPError(w, apperrors.BadRequest("MISSING_TOPIC", "Missing topic").Build(), h.logger)
			return
		}

		var userID string
		if cfg.Extractor != nil {
			if token := r.URL.Query().Get("token"); token != "" && r.Header.Get("Authorization") == "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
			id, err := cfg.Extractor.Required(r)
			if err != nil {
				apperrors.WriteHTTPError(w, err, h.logger)
				return
			}
			userID = id.Sub()
		}

		if cfg.MaxPerTopic > 0 && h.ConnectionCount(topic) >= cfg.MaxPerTopic {
			apperrors.WriteHTTPError(w, apperrors.Unavailable("TOPIC_FULL", "Connection limit exceeded").Build(), h.logger)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("Failed to upgrade connection", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
			return
		}
		newClient(h, conn, topic, userID).start()
	}
}
