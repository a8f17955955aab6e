package hostfacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetupdate/agent/pkg/catalog"
)

const fixturePlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleIdentifier</key>
	<string>com.example.Firefox</string>
	<key>CFBundleShortVersionString</key>
	<string>102.0</string>
</dict>
</plist>`

func writeFixtureBundle(t *testing.T, appPath string) {
	t.Helper()
	contentsDir := filepath.Join(appPath, "Contents")
	if err := os.MkdirAll(contentsDir, 0o755); err != nil {
		t.Fatalf("creating fixture bundle: %v", err)
	}
	if err := os.WriteFile(filepath.Join(contentsDir, "Info.plist"), []byte(fixturePlist), 0o644); err != nil {
		t.Fatalf("writing fixture Info.plist: %v", err)
	}
}

func TestInstallItemVersionBundle(t *testing.T) {
	appPath := filepath.Join(t.TempDir(), "Firefox.app")
	writeFixtureBundle(t, appPath)

	f := &Facts{}
	item := catalog.InstallItem{Type: "bundle", Path: appPath}

	v, present := f.InstallItemVersion(item)
	if !present {
		t.Fatal("expected the bundle to be detected as present")
	}
	if v != "102.0" {
		t.Errorf("version = %q, want 102.0", v)
	}
}

func TestInstallItemVersionApplicationFallsBackToPathBundle(t *testing.T) {
	appPath := filepath.Join(t.TempDir(), "Firefox.app")
	writeFixtureBundle(t, appPath)

	f := &Facts{}
	item := catalog.InstallItem{Type: "application", Path: appPath}

	v, present := f.InstallItemVersion(item)
	if !present || v != "102.0" {
		t.Fatalf("InstallItemVersion() = (%q, %v), want (102.0, true)", v, present)
	}
}

func TestInstallItemVersionApplicationFallsBackToInventory(t *testing.T) {
	f := &Facts{
		Applications: []Application{
			{Name: "Firefox", Path: "/Applications/Firefox.app", BundleID: "com.example.Firefox", Version: "101.0"},
		},
	}
	item := catalog.InstallItem{Type: "application", Path: "/Applications/Firefox.app", CFBundleIdentifier: "com.example.Firefox"}

	v, present := f.InstallItemVersion(item)
	if !present || v != "101.0" {
		t.Fatalf("InstallItemVersion() = (%q, %v), want (101.0, true) via inventory lookup", v, present)
	}
}

func TestInstallItemVersionApplicationNotFound(t *testing.T) {
	f := &Facts{}
	item := catalog.InstallItem{Type: "application", Path: "/Applications/Missing.app"}

	if _, present := f.InstallItemVersion(item); present {
		t.Error("expected present=false for an application with no on-disk bundle and no inventory match")
	}
}

func TestInstallItemVersionPlist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Info.plist")
	if err := os.WriteFile(path, []byte(fixturePlist), 0o644); err != nil {
		t.Fatalf("writing fixture plist: %v", err)
	}

	f := &Facts{}
	item := catalog.InstallItem{Type: "plist", Path: path}

	v, present := f.InstallItemVersion(item)
	if !present || v != "102.0" {
		t.Fatalf("InstallItemVersion() = (%q, %v), want (102.0, true)", v, present)
	}
}

func TestInstallItemVersionFileExistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "somefile")
	if err := os.WriteFile(path, []byte("contents"), 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}

	f := &Facts{}
	item := catalog.InstallItem{Type: "file", Path: path}

	_, present := f.InstallItemVersion(item)
	if !present {
		t.Error("expected a bare file install item to be present when it exists with no checksum")
	}

	missing := catalog.InstallItem{Type: "file", Path: filepath.Join(t.TempDir(), "absent")}
	if _, present := f.InstallItemVersion(missing); present {
		t.Error("expected present=false for a nonexistent file")
	}
}

func TestInstallItemVersionFileChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "somefile")
	if err := os.WriteFile(path, []byte("contents"), 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}

	f := &Facts{}
	item := catalog.InstallItem{Type: "file", Path: path, MD5Checksum: "0000000000000000000000000000000"}

	if _, present := f.InstallItemVersion(item); present {
		t.Error("expected present=false when the md5 checksum does not match")
	}
}

func TestInstallItemVersionMinimumUpdateVersionGate(t *testing.T) {
	appPath := filepath.Join(t.TempDir(), "Firefox.app")
	writeFixtureBundle(t, appPath)

	f := &Facts{}
	item := catalog.InstallItem{Type: "bundle", Path: appPath, MinimumUpdateVersion: "110.0"}

	if _, present := f.InstallItemVersion(item); present {
		t.Error("expected the installed 102.0 to be gated out by a 110.0 minimum_update_version")
	}
}
