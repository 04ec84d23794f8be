package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pnl_monitor/pkg/telemetry"
)

func TestZapLogger_OTelBridge(t *testing.T) {
	// 1. Setup OTel
	tel, err := telemetry.Setup("test-logger")
	if err != nil {
		t.Fatalf("OTel setup failed: %v", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	// 2. Create Zap Logger
	logger, err := NewZapLogger("DEBUG")
	if err != nil {
		t.Fatalf("Zap logger creation failed: %v", err)
	}

	// 3. Log something
	logger.Info("Test OTel bridging", "key", "value")

	// Wait a bit for OTel batching (if any)
	time.Sleep(500 * time.Millisecond)

	// Since we are using stdoutlog, we just verify it doesn't crash
	// and produces output. In a full test we might capture stdout.
	logger.Debug("Debug message", "status", "testing")

	_ = logger.Sync() // Some writers don't support sync (like stdout in some envs), ignore error
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.log")

	logger, err := New(Options{Level: "INFO", FilePath: path})
	if err != nil {
		t.Fatalf("logger creation failed: %v", err)
	}

	logger.Info("fill appended", "transaction_id", "abc123")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "fill appended") {
		t.Errorf("log file missing entry, got: %s", data)
	}
	if !strings.Contains(string(data), "abc123") {
		t.Errorf("log file missing field, got: %s", data)
	}
}

func TestQuietSuppressesInfoOnFile(t *testing.T) {
	// Quiet only affects the console sink; the file keeps the full level.
	path := filepath.Join(t.TempDir(), "quiet.log")

	logger, err := New(Options{Level: "INFO", Quiet: true, FilePath: path})
	if err != nil {
		t.Fatalf("logger creation failed: %v", err)
	}

	logger.Info("tick complete", "rows", 3)
	logger.Warn("tick skipped", "reason", "overlap")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "tick complete") {
		t.Errorf("quiet mode dropped info from the file sink")
	}
	if !strings.Contains(string(data), "tick skipped") {
		t.Errorf("file sink missing warn entry")
	}
}

func TestWithFieldChaining(t *testing.T) {
	logger, err := NewZapLogger("DEBUG")
	if err != nil {
		t.Fatalf("logger creation failed: %v", err)
	}

	child := logger.WithField("component", "poller").WithField("venue", "ledger")
	child.Info("started")

	// Parent must be unaffected by child fields.
	if logger == nil {
		t.Fatal("parent logger nil")
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("warn"); err != nil || lvl != WarnLevel {
		t.Errorf("ParseLevel(warn) = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Errorf("invalid level accepted")
	}
}
