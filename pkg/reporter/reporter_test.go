package reporter

import "testing"

func TestStdoutReporterMajorStatusDedupes(t *testing.T) {
	r := NewStdoutReporter()
	r.MajorStatus("Installing Firefox")
	if r.lastMajor != "Installing Firefox" {
		t.Fatalf("lastMajor = %q, want %q", r.lastMajor, "Installing Firefox")
	}
	// A repeat of the same status should not panic and should leave
	// lastMajor unchanged.
	r.MajorStatus("Installing Firefox")
	if r.lastMajor != "Installing Firefox" {
		t.Errorf("lastMajor changed on a repeated identical status: %q", r.lastMajor)
	}
}

func TestStdoutReporterPercentDedupes(t *testing.T) {
	r := NewStdoutReporter()
	r.Percent(50)
	if r.lastPercent != 50 {
		t.Fatalf("lastPercent = %d, want 50", r.lastPercent)
	}
	r.Percent(50)
	if r.lastPercent != 50 {
		t.Errorf("lastPercent changed on a repeated identical value: %d", r.lastPercent)
	}
	r.Percent(100)
	if r.lastPercent != 100 {
		t.Errorf("lastPercent = %d, want 100", r.lastPercent)
	}
}

func TestNoOpReporterDoesNotPanic(t *testing.T) {
	r := NewNoOpReporter()
	r.Info("info")
	r.Detail("detail")
	r.Warning("warning")
	r.Error("error")
	r.Debug1("debug1")
	r.Debug2("debug2")
	r.MajorStatus("major")
	r.MinorStatus("minor")
	r.Percent(42)
}

func TestReportersImplementInterface(t *testing.T) {
	var _ Reporter = NewStdoutReporter()
	var _ Reporter = NewNoOpReporter()
}
