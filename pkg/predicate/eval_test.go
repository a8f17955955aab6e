package predicate

import (
	"testing"
	"time"
)

func TestEvalComparisons(t *testing.T) {
	facts := Facts{
		"os_vers":  "14.3.1",
		"arch":     "arm64",
		"hostname": "mac-1234",
		"catalogs": []string{"production", "testing"},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`arch == 'arm64'`, true},
		{`arch != 'arm64'`, false},
		{`os_vers >= '14.0'`, true},
		{`os_vers >= '15.0'`, false},
		{`os_vers < '14.4'`, true},
		{`hostname CONTAINS '1234'`, true},
		{`hostname BEGINSWITH 'mac-'`, true},
		{`hostname ENDSWITH '9999'`, false},
		{`arch IN {'arm64', 'x86_64'}`, true},
		{`arch IN {'x86_64', 'i386'}`, false},
		{`NOT (arch == 'x86_64')`, true},
		{`arch == 'arm64' AND os_vers >= '14.0'`, true},
		{`arch == 'x86_64' OR os_vers >= '14.0'`, true},
		{`arch == 'x86_64' OR os_vers >= '99.0'`, false},
		{`'production' IN catalogs`, true},
		{`'staging' IN catalogs`, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr, facts)
			if err != nil {
				t.Fatalf("Eval(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalUnknownFactIsError(t *testing.T) {
	_, err := Eval(`nonexistent_fact == 'x'`, Facts{})
	if err == nil {
		t.Fatal("expected an error for an unresolvable fact")
	}
}

func TestEvalDateFunction(t *testing.T) {
	facts := Facts{"date": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	got, err := Eval(`date() >= '2025-01-01T00:00:00Z'`, facts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatal("expected date() comparison to be true")
	}
}

func TestParseInvalidExpression(t *testing.T) {
	if _, err := Parse(`arch ==`); err == nil {
		t.Fatal("expected parse error for incomplete expression")
	}
}
