// Package logging adapts zap's structured logger to the module's
// printf-style LoggerInterface, so server, engine, and transport code
// share one logging call shape while the actual sink, level
// filtering, and encoding come from zap.
package logging

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brightgrid/modbusd/common"
)

// Logger implements common.LoggerInterface and common.LoggerInterfaceHexdump
// on top of a zap.Logger.
type Logger struct {
	mu     sync.Mutex
	level  common.LogLevel
	atom   zap.AtomicLevel
	base   *zap.Logger
	fields map[string]interface{}
}

// Option configures a Logger at construction time.
type Option func(*loggerConfig)

type loggerConfig struct {
	level   common.LogLevel
	writer  zapcore.WriteSyncer
	fields  map[string]interface{}
	console bool
}

// WithLevel sets the initial log level.
func WithLevel(level common.LogLevel) Option {
	return func(c *loggerConfig) { c.level = level }
}

// WithWriter directs log output at an arbitrary io.Writer-compatible
// sink (file, rotating writer, etc.) instead of stdout.
func WithWriter(w zapcore.WriteSyncer) Option {
	return func(c *loggerConfig) { c.writer = w; c.console = false }
}

// WithFields seeds the logger with structured fields carried on every
// subsequent call.
func WithFields(fields map[string]interface{}) Option {
	return func(c *loggerConfig) {
		if c.fields == nil {
			c.fields = make(map[string]interface{})
		}
		for k, v := range fields {
			c.fields[k] = v
		}
	}
}

func toZapLevel(l common.LogLevel) zapcore.Level {
	switch l {
	case common.LevelTrace, common.LevelDebug:
		return zapcore.DebugLevel
	case common.LevelInfo:
		return zapcore.InfoLevel
	case common.LevelWarn:
		return zapcore.WarnLevel
	case common.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.Level(99) // above Fatal: effectively disabled
	}
}

// NewLogger builds a Logger writing console-encoded, human-readable
// lines to stdout by default, with options overriding level,
// destination, or fields.
func NewLogger(options ...Option) *Logger {
	cfg := &loggerConfig{level: common.LevelInfo, console: true}
	for _, opt := range options {
		opt(cfg)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	sink := cfg.writer
	if sink == nil {
		sink = zapcore.AddSync(os.Stdout)
	}

	atom := zap.NewAtomicLevelAt(toZapLevel(cfg.level))
	core := zapcore.NewCore(encoder, sink, atom)
	base := zap.New(core)

	l := &Logger{level: cfg.level, atom: atom, base: base, fields: cfg.fields}
	if l.fields == nil {
		l.fields = make(map[string]interface{})
	}
	return l
}

func (l *Logger) zapFields() []zap.Field {
	fields := make([]zap.Field, 0, len(l.fields))
	for k, v := range l.fields {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

func (l *Logger) log(level zapcore.Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if ce := l.base.Check(level, msg); ce != nil {
		ce.Write(l.zapFields()...)
	}
}

// Trace logs at trace granularity, mapped onto zap's Debug level
// since zap has no dedicated trace tier.
func (l *Logger) Trace(_ context.Context, format string, args ...interface{}) {
	l.log(zapcore.DebugLevel, format, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(_ context.Context, format string, args ...interface{}) {
	l.log(zapcore.DebugLevel, format, args...)
}

// Info logs an info message.
func (l *Logger) Info(_ context.Context, format string, args ...interface{}) {
	l.log(zapcore.InfoLevel, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(_ context.Context, format string, args ...interface{}) {
	l.log(zapcore.WarnLevel, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(_ context.Context, format string, args ...interface{}) {
	l.log(zapcore.ErrorLevel, format, args...)
}

// WithFields returns a new logger sharing this one's sink and level
// but carrying additional structured fields.
func (l *Logger) WithFields(fields map[string]interface{}) common.LoggerInterface {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, atom: l.atom, base: l.base, fields: merged}
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() common.LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetLevel adjusts the level of every Logger sharing this atomic
// level, including those derived via WithFields.
func (l *Logger) SetLevel(level common.LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.atom.SetLevel(toZapLevel(level))
}

// Hexdump logs a hexdump of data at trace granularity, for wire-level
// protocol debugging.
func (l *Logger) Hexdump(_ context.Context, data []byte) {
	if ce := l.base.Check(zapcore.DebugLevel, "hexdump"); ce != nil {
		ce.Write(append(l.zapFields(), zap.Binary("data", data), zap.Int("length", len(data)))...)
	}
}

// Sync flushes any buffered log entries; callers should defer this
// after constructing the top-level logger.
func (l *Logger) Sync() error {
	return l.base.Sync()
}
