// Package logging is the process-wide zap logger.
//
// Packages log through the helpers here (Info, Warn, ...) rather than
// holding their own logger. Until Init is called a console logger at info
// level is used.
package logging

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	current atomic.Pointer[zap.Logger]
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config selects level, encoding and destination.
type Config struct {
	Level      string // debug, info, warn, error; anything else means info
	Format     string // "json" or console
	OutputPath string // stdout, stderr or a file; empty means stderr
}

func build(cfg Config) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}
	return zc.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Init replaces the process logger.
func Init(cfg Config) error {
	level.SetLevel(parseLevel(cfg.Level))
	l, err := build(cfg)
	if err != nil {
		return err
	}
	current.Store(l)
	return nil
}

// SetLogger installs l as the process logger. Tests pass an observer core.
func SetLogger(l *zap.Logger) {
	current.Store(l.WithOptions(zap.AddCallerSkip(1)))
}

// SetLevel changes the level at runtime. Unknown names are ignored.
func SetLevel(name string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err == nil {
		level.SetLevel(l)
	}
}

func parseLevel(name string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// L returns the process logger.
func L() *zap.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	l, err := build(Config{})
	if err != nil {
		l = zap.NewNop()
	}
	if current.CompareAndSwap(nil, l) {
		return l
	}
	return current.Load()
}

// Sync flushes buffered entries.
func Sync() error {
	if l := current.Load(); l != nil {
		return l.Sync()
	}
	return nil
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func String(key, val string) zap.Field { return zap.String(key, val) }
func Int(key string, val int) zap.Field { return zap.Int(key, val) }
func Float64(key string, val float64) zap.Field { return zap.Float64(key, val) }
func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
func Err(err error) zap.Field { return zap.Error(err) }
