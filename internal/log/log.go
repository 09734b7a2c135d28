package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Package log wraps a process-wide zap logger behind a small key-value
// surface so call sites stay uniform across the codebase:
//
//	log.Info("calendar updated", "today", n, "tomorrow", m)
//	log.Error("weather fetch failed", err, "path", path)

var (
	sugar      *zap.SugaredLogger
	level      zap.AtomicLevel
	loggerOnce sync.Once
)

func initLogger() {
	loggerOnce.Do(func() {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		base, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			base = zap.NewNop()
		}
		sugar = base.Sugar()
	})
}

// SetDebug switches the minimum level between DEBUG and INFO.
func SetDebug(debug bool) {
	initLogger()
	if debug {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

func Debug(msg string, kv ...any) {
	initLogger()
	sugar.Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	initLogger()
	sugar.Infow(msg, kv...)
}

// Error logs msg with err prepended to the key-value list.
func Error(msg string, err error, kv ...any) {
	initLogger()
	extended := append([]any{"err", err}, kv...)
	sugar.Errorw(msg, extended...)
}

// Sync flushes buffered log entries. Safe to call at shutdown.
func Sync() {
	initLogger()
	_ = sugar.Sync()
}
