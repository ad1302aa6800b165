package applog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	logName     = "tabsync.log"
	maxFileSize = 5 << 20 // 5 MB
	maxValueLen = 200
	truncSuffix = "…"
)

var (
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
)

// Init opens dir/tabsync.log for appending. Call once at startup.
// A file above 5 MB is rotated to .log.1 first.
// Until Init (or SetOutput) is called every log call is a no-op.
func Init(dir string) error {
	path := filepath.Join(dir, logName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil && info.Size() > maxFileSize {
		os.Rename(path, path+".1")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	mu.Lock()
	out = f
	closer = f
	mu.Unlock()
	return nil
}

// SetOutput routes log lines to w. Passing nil disables logging.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	closer = nil
	mu.Unlock()
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer.Close()
	}
	out = nil
	closer = nil
}

// Info logs a structured event line.
//
//	applog.Info("ws.connected", "remote", addr)
//	applog.Info("reconcile.load", "tabs", 12, "duplicates", 1)
func Info(event string, kv ...any) {
	write("INFO", event, nil, kv)
}

// Warn logs a recoverable anomaly, such as a remote call whose failure
// was repaired locally.
func Warn(event string, err error, kv ...any) {
	write("WARN", event, err, kv)
}

// Error logs an event with an error.
//
//	applog.Error("remote.delete", err, "tab", id)
func Error(event string, err error, kv ...any) {
	write("ERROR", event, err, kv)
}

func write(level, event string, err error, kv []any) {
	mu.Lock()
	w := out
	mu.Unlock()
	if w == nil {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(event)

	if err != nil {
		b.WriteString(" err=")
		b.WriteString(quote(err.Error()))
	}

	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprint(kv[i]))
		b.WriteByte('=')
		b.WriteString(quote(fmt.Sprint(kv[i+1])))
	}
	b.WriteByte('\n')

	mu.Lock()
	defer mu.Unlock()
	if out != nil {
		io.WriteString(out, b.String())
	}
}

func quote(s string) string {
	if len(s) > maxValueLen {
		s = s[:maxValueLen] + truncSuffix
	}
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\n\"=") {
		return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
	}
	return s
}
