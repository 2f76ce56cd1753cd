// Package log provides structured logging with retailer and run context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for the harvest hot path (structured fields)
//   - SugaredLogger: Printf-style logging for CLI/debug surfaces
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with run context. Every harvest
// log entry carries retailer and run_id fields so interleaved
// multi-retailer output stays attributable.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger provides printf-style logging for CLI and debug surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// encoderConfig is the shared console-free JSON layout. The format is
// timestamp - LEVEL - message with structured fields appended.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "timestamp",
		LevelKey:         "level",
		MessageKey:       "message",
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		ConsoleSeparator: " - ",
	}
}

// NewLogger creates a retailer-scoped logger writing to os.Stderr.
func NewLogger(retailer, runID string, level zapcore.Level) *Logger {
	return NewLoggerWithWriter(retailer, runID, level, os.Stderr)
}

// NewLoggerWithWriter creates a retailer-scoped logger writing to w.
// Used by the run manager to route a run's output into its per-run log
// file under data/{retailer}/logs/.
func NewLoggerWithWriter(retailer, runID string, level zapcore.Level, w io.Writer) *Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(w),
		level,
	)

	fields := []zap.Field{}
	if retailer != "" {
		fields = append(fields, zap.String("retailer", "["+retailer+"]"))
	}
	if runID != "" {
		fields = append(fields, zap.String("run_id", runID))
	}

	return &Logger{zap: zap.New(core).With(fields...)}
}

// Tee returns a logger that writes every entry to both this logger's
// core and the additional writer. Used to mirror run output into the
// process-wide rotating log.
func (l *Logger) Tee(w io.Writer, level zapcore.Level) *Logger {
	extra := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(w),
		level,
	)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, extra)
	}))}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, anyFields(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, anyFields(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, anyFields(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, anyFields(fields)...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.zap.Sync() }

func anyFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	return []zap.Field{zap.Any("fields", fields)}
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
