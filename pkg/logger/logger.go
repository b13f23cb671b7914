package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface used throughout this module. It mirrors
// the shape callers already expect from a structured logger: leveled
// methods plus a handful of With* helpers for attaching context.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Infof(format string, args ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Debugf(format string, args ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Warnf(format string, args ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(msg string, keysAndValues ...interface{})
	Fatalf(format string, args ...interface{})
	With(keysAndValues ...interface{}) Logger
	WithComponent(componentName string) Logger
	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewProduction builds a JSON-structured production logger.
func NewProduction() (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: z.Sugar()}, nil
}

// NewDevelopment builds a human-readable console logger for local runs.
func NewDevelopment() (Logger, error) {
	z, err := zap.NewDevelopment(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: z.Sugar()}, nil
}

func (l *zapLogger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Infof(f string, a ...interface{})    { l.sugar.Infof(f, a...) }
func (l *zapLogger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Debugf(f string, a ...interface{})   { l.sugar.Debugf(f, a...) }
func (l *zapLogger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Warnf(f string, a ...interface{})    { l.sugar.Warnf(f, a...) }
func (l *zapLogger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }
func (l *zapLogger) Errorf(f string, a ...interface{})   { l.sugar.Errorf(f, a...) }
func (l *zapLogger) Fatal(msg string, kv ...interface{}) { l.sugar.Fatalw(msg, kv...) }
func (l *zapLogger) Fatalf(f string, a ...interface{})   { l.sugar.Fatalf(f, a...) }

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(kv...)}
}

func (l *zapLogger) WithComponent(componentName string) Logger {
	return &zapLogger{sugar: l.sugar.With("component", componentName)}
}

func (l *zapLogger) Sync() error { return l.sugar.Sync() }

// NoOpLogger implements Logger with no-op methods. Useful in tests and as
// a default when an optional logger parameter is left nil.
type NoOpLogger struct{}

func (l *NoOpLogger) Info(msg string, kv ...interface{})  {}
func (l *NoOpLogger) Infof(f string, a ...interface{})    {}
func (l *NoOpLogger) Debug(msg string, kv ...interface{}) {}
func (l *NoOpLogger) Debugf(f string, a ...interface{})   {}
func (l *NoOpLogger) Warn(msg string, kv ...interface{})  {}
func (l *NoOpLogger) Warnf(f string, a ...interface{})    {}
func (l *NoOpLogger) Error(msg string, kv ...interface{}) {}
func (l *NoOpLogger) Errorf(f string, a ...interface{})   {}
func (l *NoOpLogger) Fatal(msg string, kv ...interface{}) {}
func (l *NoOpLogger) Fatalf(f string, a ...interface{})   {}
func (l *NoOpLogger) With(kv ...interface{}) Logger       { return l }
func (l *NoOpLogger) WithComponent(name string) Logger    { return l }
func (l *NoOpLogger) Sync() error                         { return nil }

// NewNoOpLogger creates a new no-op logger instance.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// EnsureLogger returns logger if not nil, otherwise a no-op logger. Safe
// way to handle optional logger parameters without nil checks at call sites.
func EnsureLogger(logger Logger) Logger {
	if logger == nil {
		return NewNoOpLogger()
	}
	return logger
}
