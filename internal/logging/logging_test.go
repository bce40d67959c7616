package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen_Stderr(t *testing.T) {
	sink, err := Open(Options{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if sink.Writer() != os.Stderr {
		t.Error("expected stderr writer when no file is configured")
	}
	if sink.File() != "" {
		t.Errorf("File() = %q, want empty", sink.File())
	}
	if err := sink.Rotate(); err != nil {
		t.Errorf("Rotate() on stderr = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close() on stderr = %v", err)
	}
}

func TestLogger_WritesPrefixedLinesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gantt.log")
	sink, err := Open(Options{File: path, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	sink.Logger("sync").Printf("synced %d tasks", 3)
	sink.Logger("server").Println("listening")

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "[sync] ") || !strings.Contains(out, "synced 3 tasks") {
		t.Errorf("log file missing sync line:\n%s", out)
	}
	if !strings.Contains(out, "[server] ") {
		t.Errorf("log file missing server line:\n%s", out)
	}
}

func TestRotate_StartsNewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gantt.log")
	sink, err := Open(Options{File: path, MaxBackups: 2})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer sink.Close()

	sink.Logger("test").Println("before")
	if err := sink.Rotate(); err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	sink.Logger("test").Println("after")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if len(entries) < 2 {
		t.Errorf("expected a rotated backup next to the log file, got %d entries", len(entries))
	}
}
