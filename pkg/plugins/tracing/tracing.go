// Package tracing starts an OpenTelemetry server span per request.
package tracing

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/identity"
	"github.com/Plawn/r2e-sub001/pkg/plugin"
	"github.com/Plawn/r2e-sub001/pkg/plugins/requestid"
)

// Config configures the OTLP exporter.
type Config struct {
	ServiceName string
	Environment string
	// Endpoint is the OTLP gRPC collector, default localhost:4317.
	Endpoint   string
	SampleRate float64
	Insecure   bool
}

// InitTracing installs a global tracer provider exporting over OTLP gRPC.
func InitTracing(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "r2e"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
		cfg.Insecure = true
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}

// Middleware starts a server span named "<METHOD> <route pattern>" and
// propagates the trace context in both directions.
func Middleware(tp trace.TracerProvider, serviceName string) func(http.Handler) http.Handler {
	tracer := tp.Tracer(serviceName)
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			rctx := chi.RouteContext(ctx)
			if rctx == nil {
				rctx = chi.NewRouteContext()
				ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
			}

			ctx, span := tracer.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
					attribute.String("http.host", r.Host),
					attribute.String("http.user_agent", r.UserAgent()),
				),
			)
			defer span.End()

			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			if sc := span.SpanContext(); sc.HasTraceID() {
				w.Header().Set("X-Trace-ID", sc.TraceID().String())
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(ctx)
			next.ServeHTTP(ww, r)

			route := rctx.RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			span.SetName(r.Method + " " + route)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
				attribute.Int("http.response_size", ww.BytesWritten()),
			)
			if id := requestid.FromContext(r.Context()); id != "" {
				span.SetAttributes(attribute.String("http.request_id", id))
			}
			if id, ok := identity.FromContext(r.Context()); ok {
				span.SetAttributes(attribute.String("user.id", id.Sub()))
			}
			if status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}

// Plugin adds the tracing layer. With Provider nil and Export set, it
// installs an OTLP exporter and flushes it on shutdown; otherwise it uses
// the global provider.
type Plugin struct {
	ServiceName string
	Provider    trace.TracerProvider
	Export      *Config
}

func New(serviceName string) *Plugin { return &Plugin{ServiceName: serviceName} }

func (*Plugin) Name() string { return "tracing" }

func (p *Plugin) Install(pc *plugin.PostContext) error {
	tp := p.Provider
	if tp == nil && p.Export != nil {
		cfg := *p.Export
		if cfg.ServiceName == "" {
			cfg.ServiceName = p.ServiceName
		}
		sdk, err := InitTracing(context.Background(), cfg)
		if err != nil {
			return err
		}
		pc.OnStop(func(ctx context.Context) error {
			if err := sdk.Shutdown(ctx); err != nil {
				pc.Logger.Warn("Tracer provider shutdown failed", zap.Error(err))
				return err
			}
			return nil
		})
		tp = sdk
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	pc.AddLayer(Middleware(tp, p.ServiceName))
	return nil
}
