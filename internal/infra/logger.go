// README: Process-wide zap logger; console output in development, JSON otherwise.
package infra

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger *zap.Logger

// InitLogger builds the global logger. Unknown levels keep the preset default.
func InitLogger(environment, level string) error {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if l, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(l)
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	globalLogger = l
	zap.ReplaceGlobals(l)
	return nil
}

// Logger returns the global logger, or a no-op one before InitLogger.
func Logger() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

func SyncLogger() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}
