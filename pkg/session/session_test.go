package session

import (
	"os"
	"testing"

	"github.com/fleetupdate/agent/pkg/catalog"
	"github.com/fleetupdate/agent/pkg/config"
	"github.com/fleetupdate/agent/pkg/hostfacts"
	"github.com/fleetupdate/agent/pkg/report"
	"github.com/fleetupdate/agent/pkg/resolver"
	"github.com/fleetupdate/agent/pkg/sentinel"
)

func TestAutoDetectRepoURLUsesConfiguredValue(t *testing.T) {
	cfg := &config.Configuration{SoftwareRepoURL: "https://repo.example.com/repo"}
	url, err := AutoDetectRepoURL(cfg)
	if err != nil {
		t.Fatalf("AutoDetectRepoURL() error: %v", err)
	}
	if url != "https://repo.example.com/repo" {
		t.Errorf("url = %q, want the pre-configured value unchanged", url)
	}
}

func TestHostnameShort(t *testing.T) {
	f := &hostfacts.Facts{Hostname: "mac-1234.example.com"}
	if got := hostnameShort(f); got != "mac-1234" {
		t.Errorf("hostnameShort() = %q, want mac-1234", got)
	}

	bare := &hostfacts.Facts{Hostname: "mac-1234"}
	if got := hostnameShort(bare); got != "mac-1234" {
		t.Errorf("hostnameShort() = %q, want mac-1234 unchanged when there's no dot", got)
	}
}

func TestMachineFactsMap(t *testing.T) {
	f := &hostfacts.Facts{OSVersion: "14.3.1", Arch: "arm64", Hostname: "mac-1234"}
	out := machineFactsMap(f)
	if out["os_version"] != "14.3.1" || out["arch"] != "arm64" || out["hostname"] != "mac-1234" {
		t.Errorf("machineFactsMap() = %v, missing expected fields", out)
	}
}

func TestFactsHostAdaptsInstallItemVersion(t *testing.T) {
	facts := &hostfacts.Facts{
		OSVersion:         "14.3.1",
		InstalledPackages: map[string]string{"com.example.tool": "1.0"},
	}
	h := factsHost{facts: facts}

	if h.OSVersion() != "14.3.1" {
		t.Errorf("OSVersion() = %q, want 14.3.1", h.OSVersion())
	}
	if v, ok := h.InstalledPackages()["com.example.tool"]; !ok || v != "1.0" {
		t.Errorf("InstalledPackages()[com.example.tool] = (%q, %v), want (1.0, true)", v, ok)
	}
	if _, present := h.InstallItemVersion(catalog.InstallItem{Type: "file", Path: "/nonexistent"}); present {
		t.Error("expected a nonexistent file install item to report not present")
	}
}

func TestPartitionNoInstallerItem(t *testing.T) {
	info := &resolver.InstallInfo{
		ManagedInstalls: []resolver.InstallItemProjection{
			{Name: "Firefox", InstallerItem: "Firefox-102.0.pkg"},
			{Name: "BrokenTool", InstallerItem: ""},
			{Name: "AlreadyInstalled", InstallerItem: "", Installed: true},
		},
	}
	partitionNoInstallerItem(info)

	if len(info.ManagedInstalls) != 2 {
		t.Fatalf("ManagedInstalls = %v, want Firefox and AlreadyInstalled to remain", info.ManagedInstalls)
	}
	if len(info.ProblemItems) != 1 || info.ProblemItems[0].Name != "BrokenTool" {
		t.Fatalf("ProblemItems = %v, want one BrokenTool entry", info.ProblemItems)
	}
}

func TestSortStartOSInstallToEnd(t *testing.T) {
	info := &resolver.InstallInfo{
		ManagedInstalls: []resolver.InstallItemProjection{
			{Name: "MacOSUpgrade", InstallerType: "startosinstall"},
			{Name: "Firefox", InstallerType: "pkg"},
		},
	}
	sortStartOSInstallToEnd(info)

	if len(info.ManagedInstalls) != 2 {
		t.Fatalf("ManagedInstalls = %v, want 2 entries", info.ManagedInstalls)
	}
	if info.ManagedInstalls[0].Name != "Firefox" || info.ManagedInstalls[1].Name != "MacOSUpgrade" {
		t.Errorf("ManagedInstalls order = %v, want Firefox before MacOSUpgrade", info.ManagedInstalls)
	}
}

func TestCheckStopReflectsSentinel(t *testing.T) {
	os.Remove(sentinel.StopRequestedPath)
	t.Cleanup(func() { os.Remove(sentinel.StopRequestedPath) })

	rpt := report.New("site_default", nil)
	if checkStop(rpt) {
		t.Fatal("expected checkStop to be false with no stop sentinel present")
	}

	if err := sentinel.RequestStop(); err != nil {
		t.Fatalf("RequestStop() error: %v", err)
	}
	if !checkStop(rpt) {
		t.Error("expected checkStop to be true once the stop sentinel exists")
	}
	if len(rpt.Warnings) != 1 {
		t.Errorf("expected checkStop to record a warning on the report, got %v", rpt.Warnings)
	}
}
