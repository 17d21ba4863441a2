package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Plawn/r2e-sub001/pkg/config"
)

const (
	LogLevelKey        = "r2e.log.level"
	LogFormatKey       = "r2e.log.format"
	ServerAddrKey      = "r2e.server.addr"
	ShutdownTimeoutKey = "r2e.server.shutdown_timeout"
)

// NewLogger builds a zap logger. format is "json" (production encoder) or
// "console" (development encoder).
func NewLogger(level, format string) (*zap.Logger, error) {
	var zapConfig zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		zapConfig = zap.NewProductionConfig()
	case "console":
		zapConfig = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	switch strings.ToLower(level) {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return zapConfig.Build()
}

// LoggerFromConfig builds a logger from the r2e.log.level and r2e.log.format keys.
func LoggerFromConfig(store *config.Store) (*zap.Logger, error) {
	level, err := config.GetOr(store, LogLevelKey, "info")
	if err != nil {
		return nil, err
	}
	format, err := config.GetOr(store, LogFormatKey, "json")
	if err != nil {
		return nil, err
	}
	return NewLogger(level, format)
}
