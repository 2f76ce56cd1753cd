package log

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSetup_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.log")

	before := SinkCount()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Setup(path)
		}()
	}
	wg.Wait()

	if got := SinkCount() - before; got != 1 {
		t.Errorf("expected exactly 1 new rotating sink, got %d", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"DEBUG":   zapcore.DebugLevel,
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"ERROR":   zapcore.ErrorLevel,
		"INFO":    zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_RetailerPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("verizon", "verizon_20260314_092653_ab12", zapcore.InfoLevel, &buf)

	logger.Info("discovery complete", map[string]any{"urls": 42})
	_ = logger.Sync()

	out := buf.String()
	if !strings.Contains(out, "[verizon]") {
		t.Errorf("log line missing retailer prefix: %s", out)
	}
	if !strings.Contains(out, "INFO") {
		t.Errorf("log line missing level: %s", out)
	}
	if !strings.Contains(out, "discovery complete") {
		t.Errorf("log line missing message: %s", out)
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("att", "", zapcore.WarnLevel, &buf)

	logger.Info("should be filtered", nil)
	logger.Warn("should appear", nil)
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Error("info entry leaked through warn-level logger")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn entry missing")
	}
}
