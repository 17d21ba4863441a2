// Package demo is a small user directory built on the framework. It backs
// the r2e-demo command and exercises every standard plugin.
package demo

import (
	"time"

	"github.com/Plawn/r2e-sub001/pkg/config"
)

// SettingsKey is the config section holding Settings.
const SettingsKey = "demo"

// Settings configures the demo's infrastructure.
type Settings struct {
	DatabaseURL string `config:"database_url"`
	// CacheBackend is memory, redis or dynamodb.
	CacheBackend string `config:"cache_backend" validate:"oneof=memory redis dynamodb"`
	RedisAddr    string `config:"redis_addr" validate:"required_if=CacheBackend redis"`
	DynamoTable  string `config:"dynamo_table" validate:"required_if=CacheBackend dynamodb"`
	AWSRegion    string `config:"aws_region"`
	// EventBusName enables forwarding UserCreated to EventBridge.
	EventBusName string `config:"event_bus_name"`
	// ConnectionsTable and WebSocketEndpoint route broadcasts through an
	// API Gateway WebSocket API instead of the in-process hub.
	ConnectionsTable  string        `config:"connections_table"`
	WebSocketEndpoint string        `config:"websocket_endpoint"`
	OTLPEndpoint      string        `config:"otlp_endpoint"`
	HeartbeatEvery    time.Duration `config:"heartbeat_every"`
	CacheTTL          time.Duration `config:"cache_ttl"`
	AdminPassword     string        `config:"admin_password"`
	ReportingSecret   string        `config:"reporting_secret"`
	Profile           string        `config:"profile"`
}

// DefaultSettings uses the in-memory cache and a one minute heartbeat.
func DefaultSettings() Settings {
	return Settings{
		CacheBackend:   "memory",
		AWSRegion:      "us-east-1",
		HeartbeatEvery: time.Minute,
		CacheTTL:       30 * time.Second,
	}
}

// LoadSettings reads the demo section, filling unset fields with defaults.
func LoadSettings(store *config.Store) (Settings, error) {
	s, err := config.GetOr(store, SettingsKey, DefaultSettings())
	if err != nil {
		return Settings{}, err
	}
	d := DefaultSettings()
	if s.CacheBackend == "" {
		s.CacheBackend = d.CacheBackend
	}
	if s.AWSRegion == "" {
		s.AWSRegion = d.AWSRegion
	}
	if s.HeartbeatEvery <= 0 {
		s.HeartbeatEvery = d.HeartbeatEvery
	}
	if s.CacheTTL <= 0 {
		s.CacheTTL = d.CacheTTL
	}
	if s.Profile == "" {
		s.Profile, _ = config.GetOr(store, "r2e.profile", "")
	}
	if err := config.ValidateStruct(SettingsKey, s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
