// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger flavor and the optional log file.
type Config struct {
	Development bool
	// File receives a copy of every log line; empty disables file output.
	File string
}

// New builds a zap.Logger that writes human-readable, timestamped lines to
// stderr and, when configured, to a log file. The returned cleanup closes the
// file and must run after the final Sync.
func New(cfg Config) (*zap.Logger, func(), error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Development {
		level.SetLevel(zapcore.DebugLevel)
	}

	consoleEnc := zapcore.NewConsoleEncoder(encoderConfig(cfg.Development))
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}
	cleanup := func() {}

	if cfg.File != "" {
		if dir := filepath.Dir(cfg.File); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		// #nosec G304 -- log path comes from operator configuration.
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		fileEnc := zapcore.NewConsoleEncoder(encoderConfig(false))
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(f), level))
		cleanup = func() {
			_ = f.Close()
		}
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), cleanup, nil
}

func encoderConfig(color bool) zapcore.EncoderConfig {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return enc
}
