package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig controls how the process-wide zap logger is built
type LoggerConfig struct {
	Debug bool
}

// NewLogger builds a JSON production logger, lowered to debug level when requested
func NewLogger(cfg *LoggerConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg != nil && cfg.Debug {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		zapCfg.Development = true
	}

	return zapCfg.Build()
}
