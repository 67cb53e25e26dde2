package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitLoggerDefault(t *testing.T) {
	logger = nil

	err := InitLogger("", "console", "")
	if err != nil {
		t.Fatalf("InitLogger() error = %v", err)
	}

	if logger == nil {
		t.Error("Logger should not be nil after initialization")
	}
}

func TestInitLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			logger = nil
			if err := InitLogger(level, "console", ""); err != nil {
				t.Fatalf("InitLogger(%s) error = %v", level, err)
			}
		})
	}
}

func TestInitLoggerJSONFormat(t *testing.T) {
	logger = nil

	if err := InitLogger("info", "json", ""); err != nil {
		t.Fatalf("InitLogger() error = %v", err)
	}

	// Should not panic
	Info("json format test")
	Infof("formatted %d", 42)
}

func TestInitLoggerWithFile(t *testing.T) {
	logger = nil

	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	if err := InitLogger("info", "console", logFile); err != nil {
		t.Fatalf("InitLogger() error = %v", err)
	}

	Info("file log test")
	Sync()

	info, err := os.Stat(logFile)
	if err != nil {
		t.Fatalf("Log file not created: %v", err)
	}
	if info.Size() == 0 {
		t.Error("Log file should not be empty")
	}
}

func TestInitLoggerBadFile(t *testing.T) {
	logger = nil

	err := InitLogger("info", "console", "/nonexistent-dir/test.log")
	if err == nil {
		t.Error("InitLogger should fail for unwritable log file")
	}
}

func TestLogFallback(t *testing.T) {
	logger = nil

	l := Log()
	if l == nil {
		t.Fatal("Log() should return a fallback logger when uninitialized")
	}

	// All level helpers should work without panicking
	Debug("d")
	Debugf("d %d", 1)
	Info("i")
	Infof("i %d", 1)
	Warn("w")
	Warnf("w %d", 1)
	Error("e")
	Errorf("e %d", 1)
}
