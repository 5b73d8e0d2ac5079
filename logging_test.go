package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loghub/config"
)

func TestLogFileNameForDate(t *testing.T) {
	when := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
	if got := logFileNameForDate(when); got != "31-Aug-2026.log" {
		t.Fatalf("expected log filename to be 31-Aug-2026.log, got %q", got)
	}
}

func TestParseLogFileDate(t *testing.T) {
	parsed, ok := parseLogFileDate("31-Aug-2026.log")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if parsed.Year() != 2026 || parsed.Month() != time.August || parsed.Day() != 31 {
		t.Fatalf("unexpected parsed date: %s", parsed.Format(time.RFC3339))
	}
	if _, ok := parseLogFileDate("notes.txt"); ok {
		t.Fatalf("expected non-log file to be rejected")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"29-Aug-2026.log",
		"30-Aug-2026.log",
		"31-Aug-2026.log",
		"notes.txt",
	}
	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
	if err := cleanupOldLogs(dir, now, 2); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "29-Aug-2026.log")); err == nil {
		t.Fatalf("expected 29-Aug-2026.log to be removed")
	} else if !os.IsNotExist(err) {
		t.Fatalf("stat: %v", err)
	}
	for _, name := range []string{"30-Aug-2026.log", "31-Aug-2026.log", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

func TestFanoutWritesConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	fanout, err := setupLogging(config.LoggingConfig{
		Enabled:       true,
		Dir:           dir,
		RetentionDays: 7,
	}, &console)
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	defer fanout.Close()

	if _, err := fanout.Write([]byte("hello fanout\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(console.String(), "hello fanout") {
		t.Fatalf("console missing line: %q", console.String())
	}

	path := filepath.Join(dir, logFileNameForDate(time.Now().UTC()))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello fanout") {
		t.Fatalf("log file missing line: %q", string(data))
	}
}

func TestFanoutBuffersPartialLines(t *testing.T) {
	var console bytes.Buffer
	fanout := newLogFanout(&ioLineSink{w: &console}, nil)

	fanout.Write([]byte("partial"))
	if console.Len() != 0 {
		t.Fatalf("expected no output before newline, got %q", console.String())
	}
	fanout.Write([]byte(" line\n"))
	if got := console.String(); got != "partial line\n" {
		t.Fatalf("expected joined line, got %q", got)
	}
}

func TestDailyFileSinkRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyFileSink(dir, 7)
	if err != nil {
		t.Fatalf("newDailyFileSink: %v", err)
	}
	defer sink.Close()

	day1 := time.Date(2026, time.August, 30, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)
	sink.WriteLine("first", day1)
	sink.WriteLine("second", day2)

	for name, want := range map[string]string{
		"30-Aug-2026.log": "first",
		"31-Aug-2026.log": "second",
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !strings.Contains(string(data), want) {
			t.Fatalf("%s missing %q: %q", name, want, string(data))
		}
	}
}

func TestSetupLoggingDisabledSkipsFileSink(t *testing.T) {
	var console bytes.Buffer
	fanout, err := setupLogging(config.LoggingConfig{Enabled: false}, &console)
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	defer fanout.Close()
	if fanout.file != nil {
		t.Fatalf("expected no file sink when disabled")
	}
}
