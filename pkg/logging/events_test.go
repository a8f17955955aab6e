package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStructuredLogger(t *testing.T) *StructuredLogger {
	t.Helper()
	sl, err := NewStructuredLogger(t.TempDir(), RetentionConfig{EnableCleanup: false})
	if err != nil {
		t.Fatalf("NewStructuredLogger() error: %v", err)
	}
	return sl
}

func TestNewStructuredLoggerCreatesBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected %s to not exist yet", dir)
	}

	if _, err := NewStructuredLogger(dir, RetentionConfig{}); err != nil {
		t.Fatalf("NewStructuredLogger() error: %v", err)
	}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("expected %s to be created as a directory", dir)
	}
}

func TestStartSessionCreatesSessionAndEventsFiles(t *testing.T) {
	sl := newTestStructuredLogger(t)

	sessionID, err := sl.StartSession("manual", map[string]interface{}{"trigger": "test"})
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected a non-empty session ID")
	}

	sessionDir := filepath.Join(sl.baseDir, sessionID)
	if _, err := os.Stat(filepath.Join(sessionDir, "session.json")); err != nil {
		t.Errorf("expected session.json to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sessionDir, "events.jsonl")); err != nil {
		t.Errorf("expected events.jsonl to exist: %v", err)
	}
}

func TestLogEventWithoutActiveSessionFails(t *testing.T) {
	sl := newTestStructuredLogger(t)
	if err := sl.LogEvent(LogEvent{EventType: "install"}); err == nil {
		t.Error("expected an error logging an event with no active session")
	}
}

func TestLogEventFillsSessionIDAndTimestamp(t *testing.T) {
	sl := newTestStructuredLogger(t)
	sessionID, err := sl.StartSession("auto", nil)
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}

	event := LogEvent{EventType: "install", Action: "start", Status: "started", Message: "installing Firefox"}
	if err := sl.LogEvent(event); err != nil {
		t.Fatalf("LogEvent() error: %v", err)
	}

	events, err := sl.QueryEvents(sessionID, nil)
	if err != nil {
		t.Fatalf("QueryEvents() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].SessionID != sessionID {
		t.Errorf("SessionID = %q, want %q", events[0].SessionID, sessionID)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("expected Timestamp to be filled in")
	}
	if events[0].EventID == "" {
		t.Error("expected EventID to be generated")
	}
}

func TestEndSessionWritesFinalSummaryAndClosesFiles(t *testing.T) {
	sl := newTestStructuredLogger(t)
	start := time.Now()
	sessionID, err := sl.StartSession("auto", nil)
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}

	summary := SessionSummary{TotalActions: 2, Installs: 1, Successes: 1, PackagesHandled: []string{"Firefox"}}
	if err := sl.EndSession("completed", summary, start); err != nil {
		t.Fatalf("EndSession() error: %v", err)
	}

	if sl.sessionFile != nil || sl.eventsFile != nil || sl.currentSession != "" {
		t.Error("expected EndSession to clear session state")
	}

	data, err := os.ReadFile(filepath.Join(sl.baseDir, sessionID, "session.json"))
	if err != nil {
		t.Fatalf("reading session.json: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected session.json to contain final session data")
	}
}

func TestEndSessionWithoutActiveSessionFails(t *testing.T) {
	sl := newTestStructuredLogger(t)
	if err := sl.EndSession("completed", SessionSummary{}, time.Now()); err == nil {
		t.Error("expected an error ending a session that was never started")
	}
}

func TestQueryEventsAppliesFilters(t *testing.T) {
	sl := newTestStructuredLogger(t)
	sessionID, err := sl.StartSession("auto", nil)
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}

	if err := sl.LogEvent(LogEvent{EventType: "install", Package: "Firefox", Status: "completed", Level: "INFO"}); err != nil {
		t.Fatalf("LogEvent() error: %v", err)
	}
	if err := sl.LogEvent(LogEvent{EventType: "download", Package: "Chrome", Status: "failed", Level: "ERROR"}); err != nil {
		t.Fatalf("LogEvent() error: %v", err)
	}

	got, err := sl.QueryEvents(sessionID, map[string]interface{}{"event_type": "install"})
	if err != nil {
		t.Fatalf("QueryEvents() error: %v", err)
	}
	if len(got) != 1 || got[0].Package != "Firefox" {
		t.Errorf("QueryEvents(event_type=install) = %+v, want just the Firefox install event", got)
	}
}

func TestGetSessionDirsReturnsOnlyTimestampedDirs(t *testing.T) {
	sl := newTestStructuredLogger(t)
	if _, err := sl.StartSession("auto", nil); err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}
	if err := sl.EndSession("completed", SessionSummary{}, time.Now()); err != nil {
		t.Fatalf("EndSession() error: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(sl.baseDir, "not-a-session"), 0755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}

	dirs, err := sl.GetSessionDirs()
	if err != nil {
		t.Fatalf("GetSessionDirs() error: %v", err)
	}
	if len(dirs) != 1 {
		t.Fatalf("GetSessionDirs() = %v, want exactly one timestamped session dir", dirs)
	}
}

func TestMatchesFiltersChecksEachKey(t *testing.T) {
	sl := &StructuredLogger{}
	event := LogEvent{Level: "INFO", EventType: "install", Package: "Firefox", Status: "completed"}

	cases := []struct {
		name    string
		filters map[string]interface{}
		want    bool
	}{
		{"empty filters match", map[string]interface{}{}, true},
		{"matching level", map[string]interface{}{"level": "INFO"}, true},
		{"mismatched level", map[string]interface{}{"level": "ERROR"}, false},
		{"matching event_type", map[string]interface{}{"event_type": "install"}, true},
		{"mismatched package", map[string]interface{}{"package": "Chrome"}, false},
		{"matching status", map[string]interface{}{"status": "completed"}, true},
	}

	for _, tc := range cases {
		if got := sl.matchesFilters(event, tc.filters); got != tc.want {
			t.Errorf("%s: matchesFilters() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsDailyKeeperPicksEarliestSessionOfDay(t *testing.T) {
	sl := &StructuredLogger{}
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	earliest := day.Add(1 * time.Hour)
	later := day.Add(5 * time.Hour)

	entries := []os.DirEntry{
		fakeDirEntry{name: earliest.Format("20060102-150405")},
		fakeDirEntry{name: later.Format("20060102-150405")},
	}

	if !sl.isDailyKeeper(earliest, entries) {
		t.Error("expected the earliest session of the day to be the daily keeper")
	}
	if sl.isDailyKeeper(later, entries) {
		t.Error("expected a later session of the same day not to be the daily keeper")
	}
}

type fakeDirEntry struct{ name string }

func (f fakeDirEntry) Name() string               { return f.name }
func (f fakeDirEntry) IsDir() bool                { return true }
func (f fakeDirEntry) Type() os.FileMode           { return os.ModeDir }
func (f fakeDirEntry) Info() (os.FileInfo, error)  { return nil, nil }
