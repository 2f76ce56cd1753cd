package log

import (
	"sync"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// rotatingSinks tracks the rotating file sink per path so repeated
// Setup calls reuse the same handle instead of stacking duplicates.
var (
	setupMu       sync.Mutex
	rotatingSinks = map[string]*lumberjack.Logger{}
)

// Setup returns the process-wide rotating log sink for path, creating
// it on first call. Idempotent: calling Setup N times with the same
// path yields the same sink, so the root logger never accumulates
// duplicate file handlers even when concurrent runs initialize logging.
func Setup(path string) zapcore.WriteSyncer {
	setupMu.Lock()
	defer setupMu.Unlock()

	if sink, ok := rotatingSinks[path]; ok {
		return zapcore.AddSync(sink)
	}

	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
	}
	rotatingSinks[path] = sink
	return zapcore.AddSync(sink)
}

// SinkCount reports how many distinct rotating sinks exist. Exposed for
// the idempotency test only.
func SinkCount() int {
	setupMu.Lock()
	defer setupMu.Unlock()
	return len(rotatingSinks)
}

// ParseLevel maps the config LOG_LEVEL strings onto zap levels.
// Unknown values fall back to info.
func ParseLevel(s string) zapcore.Level {
	switch s {
	case "DEBUG", "debug":
		return zapcore.DebugLevel
	case "WARNING", "WARN", "warning", "warn":
		return zapcore.WarnLevel
	case "ERROR", "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
