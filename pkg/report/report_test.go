package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetupdate/agent/pkg/resolver"
)

func TestRecordInstallInfo(t *testing.T) {
	r := New("site_default", map[string]interface{}{"os_vers": "14.3.1"})

	info := &resolver.InstallInfo{
		ManagedInstalls: []resolver.InstallItemProjection{{Name: "Firefox", VersionToInstall: "102.0"}},
		Removals:        []resolver.InstallItemProjection{{Name: "OldTool"}},
		ProblemItems:    []resolver.InstallItemProjection{{Name: "Broken", Note: "download failed"}},
	}
	r.RecordInstallInfo(info)

	if len(r.ItemsToInstall) != 1 || r.ItemsToInstall[0] != "Firefox-102.0" {
		t.Errorf("ItemsToInstall = %v, want [Firefox-102.0]", r.ItemsToInstall)
	}
	if len(r.ItemsToRemove) != 1 || r.ItemsToRemove[0] != "OldTool" {
		t.Errorf("ItemsToRemove = %v, want [OldTool]", r.ItemsToRemove)
	}
	if len(r.ProblemItems) != 1 || r.ProblemItems[0] != "Broken: download failed" {
		t.Errorf("ProblemItems = %v, want [Broken: download failed]", r.ProblemItems)
	}
}

func TestAddErrorAndWarning(t *testing.T) {
	r := New("site_default", nil)
	r.AddError("fetch failed")
	r.AddWarning("disk space low")

	if len(r.Errors) != 1 || r.Errors[0] != "fetch failed" {
		t.Errorf("Errors = %v, want [fetch failed]", r.Errors)
	}
	if len(r.Warnings) != 1 || r.Warnings[0] != "disk space low" {
		t.Errorf("Warnings = %v, want [disk space low]", r.Warnings)
	}
}

func TestFinishSetsEndTime(t *testing.T) {
	r := New("site_default", nil)
	if !r.EndTime.IsZero() {
		t.Fatal("expected EndTime to be zero before Finish()")
	}
	r.Finish()
	if r.EndTime.IsZero() {
		t.Error("expected EndTime to be set after Finish()")
	}
	if r.EndTime.Before(r.StartTime) {
		t.Error("expected EndTime to be at or after StartTime")
	}
}

func TestSaveWritesJSON(t *testing.T) {
	r := New("site_default", map[string]interface{}{"arch": "arm64"})
	r.AddError("example error")
	r.Finish()

	path := filepath.Join(t.TempDir(), "nested", "report.json")
	if err := r.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved report: %v", err)
	}
	var decoded Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshaling saved report: %v", err)
	}
	if decoded.ManifestName != "site_default" {
		t.Errorf("ManifestName = %q, want site_default", decoded.ManifestName)
	}
	if len(decoded.Errors) != 1 || decoded.Errors[0] != "example error" {
		t.Errorf("Errors = %v, want [example error]", decoded.Errors)
	}
}
