package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_VerboseEnablesDebug(t *testing.T) {
	logger, err := New(true, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("verbose logger does not emit debug")
	}

	quiet, err := New(false, "")
	if err != nil {
		t.Fatal(err)
	}
	defer quiet.Sync()
	if quiet.Core().Enabled(zapcore.DebugLevel) {
		t.Error("default logger emits debug")
	}
}

func TestNew_OutputPathRedirect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	logger, err := New(false, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello from the session")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from the session") {
		t.Errorf("log file missing entry: %s", data)
	}
}
