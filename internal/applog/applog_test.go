package applog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFormatsKeyValues(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Info("reconcile.load", "tabs", 3, "title", "Hello world")
	Error("remote.delete", errors.New("boom"), "tab", "7")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], " INFO reconcile.load tabs=3 title=\"Hello world\"") {
		t.Errorf("unexpected info line: %s", lines[0])
	}
	if !strings.Contains(lines[1], " ERROR remote.delete err=boom tab=7") {
		t.Errorf("unexpected error line: %s", lines[1])
	}
}

func TestNoOutputIsNoop(t *testing.T) {
	SetOutput(nil)
	Info("nothing", "k", "v") // must not panic
}

func TestInitRotatesLargeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, logName)
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), maxFileSize+1), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected rotated file: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("expected fresh log file, got %d bytes", info.Size())
	}
}

func TestQuoteTruncates(t *testing.T) {
	got := quote(strings.Repeat("a", maxValueLen+10))
	if !strings.HasSuffix(got, truncSuffix) {
		t.Errorf("expected truncation suffix, got %q", got)
	}
}
