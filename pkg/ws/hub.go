// Package ws pushes server-side events to WebSocket subscribers grouped by
// topic.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrHubStopped is returned by Broadcast once the hub has stopped.
var ErrHubStopped = errors.New("websocket hub stopped")

// Broadcaster publishes a payload to every subscriber of a topic.
type Broadcaster interface {
	Broadcast(ctx context.Context, topic string, payload interface{}) error
}

// Message is the frame written to subscribers.
type Message struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

const (
	TypeConnected = "CONNECTION_ESTABLISHED"
	TypeEvent     = "EVENT"
	TypePing      = "PING"
)

// Metrics counts hub activity.
type Metrics struct {
	ActiveConnections int64
	MessagesSent      int64
	MessagesFailed    int64
}

// Hub tracks subscribers per topic and fans messages out to them.
type Hub struct {
	connections map[string]map[*Client]struct{}
	mu          sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running sync.Once
	logger  *zap.Logger

	metricsMu sync.Mutex
	metrics   Metrics

	pingInterval time.Duration
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		connections:  make(map[string]map[*Client]struct{}),
		register:     make(chan *Client, 100),
		unregister:   make(chan *Client, 100),
		broadcast:    make(chan *Message, 1000),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		logger:       logger,
		pingInterval: 30 * time.Second,
	}
}

// Start runs the event loop in the background. Later calls are no-ops.
func (h *Hub) Start() {
	h.running.Do(func() { go h.run() })
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case m := <-h.broadcast:
			h.fanOut(m)
		case <-ticker.C:
			h.ping()
		}
	}
}

// Stop closes every connection and ends the loop.
func (h *Hub) Stop() {
	h.cancel()
	h.running.Do(func() { close(h.done) })
	<-h.done
}

// Broadcast implements Broadcaster.
func (h *Hub) Broadcast(ctx context.Context, topic string, payload interface{}) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	m := &Message{Topic: topic, Type: TypeEvent, Data: data, Timestamp: time.Now().Unix()}

	if h.ctx.Err() != nil {
		return ErrHubStopped
	}
	select {
	case h.broadcast <- m:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connections[c.topic] == nil {
		h.connections[c.topic] = make(map[*Client]struct{})
	}
	h.connections[c.topic][c] = struct{}{}

	h.metricsMu.Lock()
	h.metrics.ActiveConnections++
	h.metricsMu.Unlock()

	h.logger.Info("Client subscribed",
		zap.String("topic", c.topic),
		zap.String("connection_id", c.id),
		zap.String("user_id", c.userID),
		zap.Int("topic_connections", len(h.connections[c.topic])),
	)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.connections[c.topic]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.connections, c.topic)
	}

	h.metricsMu.Lock()
	h.metrics.ActiveConnections--
	h.metricsMu.Unlock()

	h.logger.Info("Client unsubscribed",
		zap.String("topic", c.topic),
		zap.String("connection_id", c.id),
		zap.Int("remaining", len(clients)),
	)
}

func (h *Hub) fanOut(m *Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.connections[m.Topic]))
	for c := range h.connections[m.Topic] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	frame, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err), zap.String("topic", m.Topic))
		return
	}

	var sent, failed int64
	for _, c := range clients {
		select {
		case c.send <- frame:
			sent++
		default:
			failed++
			h.logger.Warn("Dropping slow client", zap.String("topic", c.topic), zap.String("connection_id", c.id))
			h.remove(c)
			c.conn.Close()
		}
	}

	h.metricsMu.Lock()
	h.metrics.MessagesSent += sent
	h.metrics.MessagesFailed += failed
	h.metricsMu.Unlock()
}

func (h *Hub) ping() {
	frame, _ := json.Marshal(Message{Type: TypePing, Timestamp: time.Now().Unix()})
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.connections {
		for c := range clients {
			select {
			case c.send <- frame:
			default:
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, clients := range h.connections {
		for c := range clients {
			close(c.send)
			c.conn.Close()
		}
		delete(h.connections, topic)
	}
	h.metricsMu.Lock()
	h.metrics.ActiveConnections = 0
	h.metricsMu.Unlock()
	h.logger.Info("All websocket connections closed")
}

// Metrics returns a snapshot of the counters.
func (h *Hub) Metrics() Metrics {
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return h.metrics
}

// ConnectionCount returns the subscribers of topic.
func (h *Hub) ConnectionCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[topic])
}
