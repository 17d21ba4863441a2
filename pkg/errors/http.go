package errors

import (
	"fmt"
	"math"
	"net/http"
	"runtime/debug"

	"github.com/Plawn/r2e-sub001/pkg/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InternalMessage is the generic message sent for unexpected failures.
const InternalMessage = "Internal server error"

// HTTPStatus determines the HTTP status code for an error.
func HTTPStatus(err error) int {
	appErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch appErr.Type {
	case ErrorTypeBadRequest:
		return http.StatusBadRequest
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusRequestTimeout
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RetryAfterSeconds rounds a retry delay up to whole seconds, never below one.
func RetryAfterSeconds(err *AppError) int {
	secs := int(math.Ceil(err.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// WriteHTTPError writes the standard {"error": message} envelope.
// Errors outside the taxonomy are reported as 500 without leaking details.
func WriteHTTPError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	appErr, ok := As(err)
	if !ok {
		appErr = Internal("UNHANDLED_ERROR", InternalMessage).WithCause(err).Build()
	}

	statusCode := HTTPStatus(appErr)
	message := appErr.Message
	if statusCode == http.StatusInternalServerError && message == "" {
		message = InternalMessage
	}

	if appErr.Type == ErrorTypeRateLimit {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", RetryAfterSeconds(appErr)))
	}

	logger.Log(logLevel(appErr.Severity),
		"HTTP error response",
		zap.String("error_type", string(appErr.Type)),
		zap.String("error_code", appErr.Code),
		zap.String("message", appErr.Message),
		zap.Int("status_code", statusCode),
		zap.Error(appErr.Cause),
	)

	api.Error(w, statusCode, message)
}

// logLevel converts error severity to zap log level.
func logLevel(severity ErrorSeverity) zapcore.Level {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return zapcore.ErrorLevel
	case SeverityMedium:
		return zapcore.WarnLevel
	case SeverityLow:
		return zapcore.DebugLevel
	default:
		return zapcore.WarnLevel
	}
}

// Recovery catches panics from downstream handlers, logs the stack trace and
// answers with a generic 500.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("Panic recovered",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("panic", rec),
						zap.String("stack_trace", string(debug.Stack())),
					)
					appErr := Internal("PANIC_RECOVERED", InternalMessage).
						WithOperation(fmt.Sprintf("%s %s", r.Method, r.URL.Path)).
						WithSeverity(SeverityCritical).
						Build()
					WriteHTTPError(w, appErr, logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
