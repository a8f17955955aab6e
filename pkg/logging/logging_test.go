package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogLevelString(t *testing.T) {
	cases := map[LogLevel]string{
		LevelError: "ERROR",
		LevelWarn:  "WARN",
		LevelInfo:  "INFO",
		LevelDebug: "DEBUG",
		LogLevel(99): "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestLoggerPrintfWritesTimestampedLine(t *testing.T) {
	l := New(true)
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Printf("hello %s", "world")

	if !strings.Contains(buf.String(), "hello world") {
		t.Errorf("Printf() output = %q, want it to contain %q", buf.String(), "hello world")
	}
}

func TestLoggerColorMethodsWriteMessage(t *testing.T) {
	l := New(true)
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Success("ok")
	l.Warning("careful")
	l.Error("broken")
	l.Debug("details")

	out := buf.String()
	for _, want := range []string{"ok", "careful", "broken", "details"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestWithPackageSetsNameAndVersion(t *testing.T) {
	var e LogEvent
	WithPackage("Firefox", "102.0")(&e)
	if e.Package != "Firefox" || e.Version != "102.0" {
		t.Errorf("WithPackage() = %+v, want Package=Firefox Version=102.0", e)
	}
}

func TestWithProgressSetsPointer(t *testing.T) {
	var e LogEvent
	WithProgress(42)(&e)
	if e.Progress == nil || *e.Progress != 42 {
		t.Errorf("WithProgress() = %v, want pointer to 42", e.Progress)
	}
}

func TestWithDurationSetsPointer(t *testing.T) {
	var e LogEvent
	WithDuration(5 * time.Second)(&e)
	if e.Duration == nil || *e.Duration != 5*time.Second {
		t.Errorf("WithDuration() = %v, want pointer to 5s", e.Duration)
	}
}

func TestWithErrorSkipsNil(t *testing.T) {
	var e LogEvent
	WithError(nil)(&e)
	if e.Error != "" {
		t.Errorf("WithError(nil) set Error = %q, want empty", e.Error)
	}

	WithError(errors.New("boom"))(&e)
	if e.Error != "boom" {
		t.Errorf("WithError() = %q, want boom", e.Error)
	}
}

func TestWithContextAddsKey(t *testing.T) {
	var e LogEvent
	WithContext("download_url", "https://example.com/pkg.pkg")(&e)
	if e.Context["download_url"] != "https://example.com/pkg.pkg" {
		t.Errorf("WithContext() = %v, want download_url set", e.Context)
	}
}

func TestWithLevelSetsLevel(t *testing.T) {
	var e LogEvent
	WithLevel("WARNING")(&e)
	if e.Level != "WARNING" {
		t.Errorf("WithLevel() = %q, want WARNING", e.Level)
	}
}

func TestGetCurrentLogDirAndSessionIDWithoutInitAreEmpty(t *testing.T) {
	if got := GetCurrentLogDir(); got != "" {
		t.Errorf("GetCurrentLogDir() = %q, want empty when uninitialized", got)
	}
	if got := GetSessionID(); got != "" {
		t.Errorf("GetSessionID() = %q, want empty when uninitialized", got)
	}
}
