package interceptor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logged logs entry and exit of every call at level.
func Logged(logger *zap.Logger, level zapcore.Level) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Func(func(ctx context.Context, ic *Context, next Next) (interface{}, error) {
		logger.Log(level, "Entering handler", zap.String("operation", ic.Operation()))
		result, err := next(ctx)
		if err != nil {
			logger.Log(level, "Handler failed", zap.String("operation", ic.Operation()), zap.Error(err))
			return result, err
		}
		logger.Log(level, "Exiting handler", zap.String("operation", ic.Operation()))
		return result, nil
	})
}

// Timed logs the duration of every call. Calls slower than threshold are
// logged as warnings, others at debug. A zero threshold never warns.
func Timed(logger *zap.Logger, threshold time.Duration) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Func(func(ctx context.Context, ic *Context, next Next) (interface{}, error) {
		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		fields := []zap.Field{
			zap.String("operation", ic.Operation()),
			zap.Duration("duration", elapsed),
		}
		if threshold > 0 && elapsed > threshold {
			logger.Warn("Slow handler", append(fields, zap.Duration("threshold", threshold))...)
		} else {
			logger.Debug("Handler timing", fields...)
		}
		return result, err
	})
}
