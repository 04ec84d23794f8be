// Package logging provides structured logging functionality using Zap and OpenTelemetry bridge
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pnl_monitor/internal/core"
)

// ZapLogger implements the ILogger interface using zap.Logger
type ZapLogger struct {
	logger *zap.Logger
}

// Options controls the sinks of a new logger.
type Options struct {
	// Level is the minimum level for all sinks: debug, info, warn, error.
	Level string
	// Quiet raises the console sink to warn; the file sink and the OTel
	// bridge keep the configured level.
	Quiet bool
	// FilePath, when set, tees entries into an append-only log file.
	FilePath string
	// Scope names the otelzap instrumentation scope.
	Scope string
}

// NewZapLogger creates a console-only logger at the given level.
func NewZapLogger(levelStr string) (*ZapLogger, error) {
	return New(Options{Level: levelStr, Scope: "pnl_monitor"})
}

// New creates a logger from Options.
func New(opts Options) (*ZapLogger, error) {
	zapLevel := parseZapLevel(opts.Level)

	consoleLevel := zapLevel
	if opts.Quiet && consoleLevel < zap.WarnLevel {
		consoleLevel = zap.WarnLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			consoleLevel,
		),
	}

	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(f),
			zapLevel,
		))
	}

	// Add OTel bridge
	scope := opts.Scope
	if scope == "" {
		scope = "pnl_monitor"
	}
	cores = append(cores, otelzap.NewCore(scope, otelzap.WithLoggerProvider(global.GetLoggerProvider())))

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))

	return &ZapLogger{
		logger: logger,
	}, nil
}

func parseZapLevel(levelStr string) zapcore.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return zap.DebugLevel
	case "INFO":
		return zap.InfoLevel
	case "WARN":
		return zap.WarnLevel
	case "ERROR":
		return zap.ErrorLevel
	case "FATAL":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

// Level represents log levels
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "INFO"
	}
}

// ParseLevel parses a log level string
func ParseLevel(level string) (Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DebugLevel, nil
	case "INFO":
		return InfoLevel, nil
	case "WARN":
		return WarnLevel, nil
	case "ERROR":
		return ErrorLevel, nil
	case "FATAL":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// convertToZapFields converts variadic interface fields to zap.Field
func (l *ZapLogger) convertToZapFields(fields []interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			key, ok := fields[i].(string)
			if !ok {
				key = fmt.Sprintf("%v", fields[i])
			}
			zapFields = append(zapFields, zap.Any(key, fields[i+1]))
		}
	}
	return zapFields
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debug(msg, l.convertToZapFields(fields)...)
}

func (l *ZapLogger) Info(msg string, fields ...interface{}) {
	l.logger.Info(msg, l.convertToZapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warn(msg, l.convertToZapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, fields ...interface{}) {
	l.logger.Error(msg, l.convertToZapFields(fields)...)
}

func (l *ZapLogger) Fatal(msg string, fields ...interface{}) {
	l.logger.Fatal(msg, l.convertToZapFields(fields)...)
}

func (l *ZapLogger) WithField(key string, value interface{}) core.ILogger {
	return &ZapLogger{
		logger: l.logger.With(zap.Any(key, value)),
	}
}

func (l *ZapLogger) WithFields(fields map[string]interface{}) core.ILogger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return &ZapLogger{
		logger: l.logger.With(zapFields...),
	}
}

// Sync flushes any buffered log entries
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// Global logger instance
var globalLogger core.ILogger

func init() {
	// Default logger if not initialized
	logger, _ := NewZapLogger("INFO")
	globalLogger = logger
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger core.ILogger) {
	globalLogger = logger
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() core.ILogger {
	return globalLogger
}

// Debug - Global convenience functions
func Debug(msg string, fields ...interface{}) { globalLogger.Debug(msg, fields...) }

// Info - Global convenience functions
func Info(msg string, fields ...interface{}) { globalLogger.Info(msg, fields...) }

// Warn - Global convenience functions
func Warn(msg string, fields ...interface{}) { globalLogger.Warn(msg, fields...) }

// Error - Global convenience functions
func Error(msg string, fields ...interface{}) { globalLogger.Error(msg, fields...) }

// Fatal - Global convenience functions
func Fatal(msg string, fields ...interface{}) { globalLogger.Fatal(msg, fields...) }
