// Package metrics exposes Prometheus HTTP metrics on /metrics and, for
// Lambda deployments, pushes them to CloudWatch.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Plawn/r2e-sub001/pkg/plugin"
)

// Collector holds the HTTP metrics and their registry.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	InFlight     prometheus.Gauge
}

// NewCollector creates the HTTP metrics in a fresh registry, alongside the
// Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),
	}
	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.InFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry served on /metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the Prometheus text exposition.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware records one observation per request, labelled with the chi
// route pattern. It runs outside the router, so it seeds the routing
// context the router then fills in.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rctx := chi.RouteContext(r.Context())
		if rctx == nil {
			rctx = chi.NewRouteContext()
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		}

		c.InFlight.Inc()
		defer c.InFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := rctx.RoutePattern()
		if route == "" {
			route = "unknown"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Plugin mounts Path and the metrics layer. The collector is published on
// the plugin data blackboard.
type Plugin struct {
	Namespace string
	Path      string
	// CloudWatch, when set, also pushes request metrics through the sink
	// and flushes it on shutdown.
	CloudWatch *CloudWatchSink

	collector *Collector
}

// New returns the plugin serving /metrics under the "r2e" namespace.
func New() *Plugin { return &Plugin{Namespace: "r2e", Path: "/metrics"} }

func (*Plugin) Name() string { return "metrics" }

// Collector returns the collector once installed.
func (p *Plugin) Collector() *Collector { return p.collector }

func (p *Plugin) Install(pc *plugin.PostContext) error {
	p.collector = NewCollector(p.Namespace)
	if err := plugin.Put(pc.Data, p.collector); err != nil {
		return err
	}
	path := p.Path
	if path == "" {
		path = "/metrics"
	}
	pc.Router.Method(http.MethodGet, path, p.collector.Handler())
	pc.AddLayer(p.collector.Middleware)
	if p.CloudWatch != nil {
		pc.AddLayer(p.CloudWatch.Middleware)
		pc.OnStop(p.CloudWatch.Flush)
	}
	return nil
}
