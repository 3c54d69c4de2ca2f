// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ForPartition scopes a logger to one partition pass.
func ForPartition(logger *zap.Logger, p crawler.Partition) *zap.Logger {
	return logger.With(
		zap.String("run_id", p.RunID),
		zap.String("country", p.CountryCode),
		zap.String("keyword", p.Keyword),
	)
}

// Stage tags a log line with the pipeline stage that produced it.
func Stage(name string) zap.Field {
	return zap.String("stage", name)
}
