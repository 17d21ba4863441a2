package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
)

// maxDatums is the PutMetricData limit per call.
const maxDatums = 1000

// CloudWatchAPI is the CloudWatch subset used by CloudWatchSink.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ CloudWatchAPI = (*cloudwatch.Client)(nil)

// CloudWatchSink pushes request metrics with PutMetricData. It is meant for
// Lambda deployments, where nothing can scrape /metrics.
//
// Each request yields a RequestLatency and a RequestCount datum with Method,
// Route and Status dimensions. Datums are buffered and sent once BatchSize
// requests have been recorded; the default of 1 sends after every request
// so nothing is lost when the function is frozen.
type CloudWatchSink struct {
	namespace string
	client    CloudWatchAPI
	logger    *zap.Logger

	BatchSize    int
	FlushTimeout time.Duration

	mu       sync.Mutex
	pending  []types.MetricDatum
	requests int
	now      func() time.Time
}

// NewCloudWatchSink creates a sink publishing under namespace.
func NewCloudWatchSink(client CloudWatchAPI, namespace string, logger *zap.Logger) *CloudWatchSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudWatchSink{
		namespace:    namespace,
		client:       client,
		logger:       logger,
		BatchSize:    1,
		FlushTimeout: 5 * time.Second,
		now:          time.Now,
	}
}

// Record buffers the datums of one request and reports whether a batch is
// ready to be flushed.
func (s *CloudWatchSink) Record(method, route string, status int, latency time.Duration) bool {
	dims := []types.Dimension{
		{Name: aws.String("Method"), Value: aws.String(method)},
		{Name: aws.String("Route"), Value: aws.String(route)},
		{Name: aws.String("Status"), Value: aws.String(strconv.Itoa(status))},
	}
	ts := aws.Time(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending,
		types.MetricDatum{
			MetricName: aws.String("RequestLatency"),
			Dimensions: dims,
			Value:      aws.Float64(float64(latency.Milliseconds())),
			Unit:       types.StandardUnitMilliseconds,
			Timestamp:  ts,
		},
		types.MetricDatum{
			MetricName: aws.String("RequestCount"),
			Dimensions: dims,
			Value:      aws.Float64(1),
			Unit:       types.StandardUnitCount,
			Timestamp:  ts,
		},
	)
	s.requests++
	batch := s.BatchSize
	if batch < 1 {
		batch = 1
	}
	return s.requests >= batch
}

// Pending returns the number of buffered datums.
func (s *CloudWatchSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush sends every buffered datum, in chunks of at most 1000. Chunks that
// fail are dropped and reported together.
func (s *CloudWatchSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	data := s.pending
	s.pending = nil
	s.requests = 0
	s.mu.Unlock()

	failures := apperrors.NewCollector("cloudwatch flush")
	for start := 0; start < len(data); start += maxDatums {
		end := start + maxDatums
		if end > len(data) {
			end = len(data)
		}
		_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(s.namespace),
			MetricData: data[start:end],
		})
		if err != nil {
			failures.Add(fmt.Errorf("failed to put %d datums: %w", end-start, err))
		}
	}
	return failures.Err()
}

// Middleware records every request and flushes once a batch is full. A
// failed flush is logged, never surfaced to the client.
func (s *CloudWatchSink) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rctx := chi.RouteContext(r.Context())
		if rctx == nil {
			rctx = chi.NewRouteContext()
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		}

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
		if !s.Record(r.Method, route, status, time.Since(start)) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.FlushTimeout)
		defer cancel()
		if err := s.Flush(ctx); err != nil {
			s.logger.Warn("Failed to send metrics", zap.Error(err))
		}
	})
}
