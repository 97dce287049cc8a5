package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger contains node logger configuration.
type Logger struct {
	LogEncoding  string `yaml:"LogEncoding"`
	LogLevel     string `yaml:"LogLevel"`
	LogPath      string `yaml:"LogPath"`
	LogTimestamp *bool  `yaml:"LogTimestamp,omitempty"`
}

// Validate returns an error if Logger configuration is not valid.
func (l Logger) Validate() error {
	if len(l.LogEncoding) > 0 && l.LogEncoding != "console" && l.LogEncoding != "json" {
		return fmt.Errorf("invalid LogEncoding: %s", l.LogEncoding)
	}
	return nil
}

// Build constructs a zap.Logger from this configuration, returning the
// AtomicLevel alongside it so a running process can raise or lower verbosity
// without a restart (the serve command does this on SIGHUP).
func (l Logger) Build() (*zap.Logger, *zap.AtomicLevel, error) {
	level := zapcore.InfoLevel
	if l.LogLevel != "" {
		var err error
		level, err = zapcore.ParseLevel(l.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("log setting: %w", err)
		}
	}
	encoding := "console"
	if l.LogEncoding != "" {
		encoding = l.LogEncoding
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.Encoding = encoding
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cc.Sampling = nil
	atom := zap.NewAtomicLevelAt(level)
	cc.Level = atom

	log, err := cc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, &atom, nil
}
