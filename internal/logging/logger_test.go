package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, lvl zapcore.Level, cats map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(lvl)
	mu.Lock()
	categories = cats
	mu.Unlock()
	SetBase(zap.New(core))
	t.Cleanup(func() {
		mu.Lock()
		categories = nil
		mu.Unlock()
		SetBase(nil)
	})
	return logs
}

func TestCategoryLoggerNamesEntries(t *testing.T) {
	logs := observe(t, zap.DebugLevel, nil)

	Stream("connected to %s", "http://x")
	PipelineDebug("gen=%d", 3)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].LoggerName != "stream" || entries[0].Message != "connected to http://x" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].LoggerName != "pipeline" || entries[1].Level != zap.DebugLevel {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
}

func TestCategoryToggle(t *testing.T) {
	logs := observe(t, zap.DebugLevel, map[string]bool{"extract": false, "store": true})

	ExtractDebug("hidden")
	Store("shown")
	Audit("shown too, not in filter")

	if got := logs.Len(); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
	if IsCategoryEnabled(CategoryExtract) {
		t.Error("extract should be disabled")
	}
}

func TestNoBaseIsNoop(t *testing.T) {
	SetBase(nil)
	l := Get(CategoryStream)
	l.Info("nothing %d", 1)
	l.With("k", "v").Error("still nothing")
	if l.Zap() == nil {
		t.Fatal("Zap() must never be nil")
	}
}

func TestRequestLoggerCarriesID(t *testing.T) {
	logs := observe(t, zap.InfoLevel, nil)

	rl := WithRequestID(CategoryPipeline, "req-42").WithField("task", "bolt")
	rl.Info("started")
	rl.Debug("below level")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["req"] != "req-42" || ctx["task"] != "bolt" {
		t.Errorf("missing context fields: %v", ctx)
	}
	if rl.RequestID() != "req-42" {
		t.Errorf("RequestID() = %q", rl.RequestID())
	}
}

func TestTimerLogging(t *testing.T) {
	logs := observe(t, zap.DebugLevel, nil)

	timer := StartTimer(CategoryReconcile, "reconcile")
	time.Sleep(2 * time.Millisecond)
	if d := timer.StopWithThreshold(time.Nanosecond); d <= 0 {
		t.Fatalf("expected positive duration, got %v", d)
	}
	entries := logs.FilterLevelExact(zap.WarnLevel).All()
	if len(entries) != 1 || !strings.Contains(entries[0].Message, "reconcile took") {
		t.Errorf("expected a slow-operation warning, got %+v", logs.All())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"": zap.InfoLevel, "debug": zap.DebugLevel, "warning": zap.WarnLevel, "error": zap.ErrorLevel,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestInitializeWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procstream.log")
	t.Cleanup(func() {
		mu.Lock()
		categories = nil
		mu.Unlock()
		SetBase(nil)
	})

	if err := Initialize(Options{Level: "debug", JSONFormat: true, OutputPaths: []string{path}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Store("saved %s", "abc")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"logger":"store"`) || !strings.Contains(string(data), "saved abc") {
		t.Errorf("unexpected log contents: %s", data)
	}
}
