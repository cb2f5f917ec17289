package kstock

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig logging configuration
type LogConfig struct {
	Level       string // "debug", "info", "warn", "error"
	OutputPath  string // output path, defaults to "stdout"
	Development bool   // development mode
}

// NewLogger creates a logger from config
func NewLogger(config LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch config.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      config.Development,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{config.OutputPath},
		ErrorOutputPaths: []string{"stderr"},
	}

	if config.OutputPath == "" {
		zapConfig.OutputPaths = []string{"stdout"}
	}
	zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	// JSON encoding outside of development mode
	if !config.Development {
		zapConfig.Encoding = "json"
		zapConfig.EncoderConfig = zap.NewProductionEncoderConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	return zapConfig.Build()
}

// NewDefaultLogger creates the default logger
func NewDefaultLogger() *zap.Logger {
	logger, err := NewLogger(LogConfig{
		Level:       "info",
		OutputPath:  "stdout",
		Development: false,
	})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
