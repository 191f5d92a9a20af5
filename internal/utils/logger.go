package utils

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Zlog is the process-wide structured logger. It is a no-op logger until
// InitLogger runs so packages can log safely from tests.
var Zlog = zap.NewNop()

// InitLogger builds Zlog for the given level and environment.
// Production environments log JSON; everything else logs to a console encoder.
func InitLogger(level, env string) error {
	var cfg zap.Config
	if strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	Zlog = logger
	return nil
}

// SyncLogger flushes buffered log entries.
func SyncLogger() {
	_ = Zlog.Sync()
}
