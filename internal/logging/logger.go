package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/HanTheDev/beneficiary-center/internal/config"
)

// New builds the process logger: json output uses zap's production encoder,
// console output the development one.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "info", "":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("logging: unsupported level %q", cfg.Level)
	}

	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "json", "":
		zcfg = zap.NewProductionConfig()
	case "console", "text":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger.With(zap.String("service", "bdc")), nil
}
