package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetupdate/agent/pkg/predicate"
)

func TestSplitNameVersion(t *testing.T) {
	cases := []struct {
		in, name, version string
	}{
		{"Firefox-102.0", "Firefox", "102.0"},
		{"Firefox--102.0", "Firefox", "102.0"},
		{"Firefox", "Firefox", ""},
		{"Adobe-Reader-11.0", "Adobe-Reader", "11.0"},
	}
	for _, c := range cases {
		name, v := SplitNameVersion(c.in)
		if name != c.name || v != c.version {
			t.Errorf("SplitNameVersion(%q) = (%q, %q), want (%q, %q)", c.in, name, v, c.name, c.version)
		}
	}
}

func TestUpdateForList(t *testing.T) {
	p := &Pkginfo{UpdateFor: "Firefox"}
	if got := p.UpdateForList(); len(got) != 1 || got[0] != "Firefox" {
		t.Errorf("UpdateForList() = %v, want [Firefox]", got)
	}

	p2 := &Pkginfo{UpdateFor: []interface{}{"Firefox", "Chrome"}}
	got2 := p2.UpdateForList()
	if len(got2) != 2 || got2[0] != "Firefox" || got2[1] != "Chrome" {
		t.Errorf("UpdateForList() = %v, want [Firefox Chrome]", got2)
	}

	p3 := &Pkginfo{}
	if got := p3.UpdateForList(); got != nil {
		t.Errorf("UpdateForList() = %v, want nil", got)
	}
}

func TestItemDetailNewestVersionFirst(t *testing.T) {
	db := NewDB()
	db.catalogs["production"] = buildCatalog("production", []Pkginfo{
		{Name: "Firefox", Version: "101.0"},
		{Name: "Firefox", Version: "102.0"},
	})

	item := db.ItemDetail("Firefox", []string{"production"}, ItemDetailOptions{}, predicate.Facts{})
	if item == nil {
		t.Fatal("expected a match")
	}
	if item.Version != "102.0" {
		t.Errorf("Version = %q, want 102.0 (newest first)", item.Version)
	}
}

func TestItemDetailRequestedVersion(t *testing.T) {
	db := NewDB()
	db.catalogs["production"] = buildCatalog("production", []Pkginfo{
		{Name: "Firefox", Version: "101.0"},
		{Name: "Firefox", Version: "102.0"},
	})

	item := db.ItemDetail("Firefox-101.0", []string{"production"}, ItemDetailOptions{}, predicate.Facts{})
	if item == nil || item.Version != "101.0" {
		t.Fatalf("expected Firefox 101.0, got %v", item)
	}
}

func TestItemDetailMinimumOSVersionRejection(t *testing.T) {
	db := NewDB()
	db.catalogs["production"] = buildCatalog("production", []Pkginfo{
		{Name: "Tool", Version: "1.0", MinimumOSVersion: "14.0"},
	})

	facts := predicate.Facts{"os_vers": "13.0"}
	if item := db.ItemDetail("Tool", []string{"production"}, ItemDetailOptions{}, facts); item != nil {
		t.Errorf("expected nil for OS version below minimum, got %v", item)
	}

	facts["os_vers"] = "14.5"
	if item := db.ItemDetail("Tool", []string{"production"}, ItemDetailOptions{}, facts); item == nil {
		t.Errorf("expected a match once OS version satisfies the minimum")
	}
}

func TestItemDetailInstallableCondition(t *testing.T) {
	db := NewDB()
	db.catalogs["production"] = buildCatalog("production", []Pkginfo{
		{Name: "Tool", Version: "1.0", InstallableCondition: "arch == 'arm64'"},
	})

	if item := db.ItemDetail("Tool", []string{"production"}, ItemDetailOptions{}, predicate.Facts{"arch": "x86_64"}); item != nil {
		t.Errorf("expected nil, installable_condition is false")
	}
	if item := db.ItemDetail("Tool", []string{"production"}, ItemDetailOptions{}, predicate.Facts{"arch": "arm64"}); item == nil {
		t.Errorf("expected a match, installable_condition is true")
	}
}

func TestUpdatesFor(t *testing.T) {
	db := NewDB()
	db.catalogs["production"] = buildCatalog("production", []Pkginfo{
		{Name: "FirefoxPatch", Version: "1.0", UpdateFor: "Firefox"},
		{Name: "Unrelated", Version: "1.0"},
	})

	out := db.UpdatesFor("Firefox", []string{"production"})
	if len(out) != 1 || out[0] != "FirefoxPatch" {
		t.Errorf("UpdatesFor(Firefox) = %v, want [FirefoxPatch]", out)
	}
}

func TestAutoRemovalItems(t *testing.T) {
	db := NewDB()
	db.catalogs["production"] = buildCatalog("production", []Pkginfo{
		{Name: "OldTool", Version: "1.0", Autoremove: true},
		{Name: "KeptTool", Version: "1.0"},
	})

	out := db.AutoRemovalItems([]string{"production"})
	if len(out) != 1 || out[0] != "OldTool" {
		t.Errorf("AutoRemovalItems() = %v, want [OldTool]", out)
	}
}

func TestReceiptOwner(t *testing.T) {
	db := NewDB()
	db.catalogs["production"] = buildCatalog("production", []Pkginfo{
		{Name: "Tool", Version: "1.0", Receipts: []Receipt{{PackageID: "com.example.tool", Version: "1.0"}}},
	})

	owner := db.ReceiptOwner("com.example.tool", "1.0", []string{"production"})
	if owner == nil || owner.Name != "Tool" {
		t.Fatalf("ReceiptOwner() = %v, want Tool", owner)
	}

	if owner := db.ReceiptOwner("com.example.missing", "1.0", []string{"production"}); owner != nil {
		t.Errorf("expected nil for unknown receipt")
	}
}

func TestLoadAndLoadAll(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`
- name: Firefox
  version: "102.0"
  installer_type: pkg
`)
	if err := os.WriteFile(filepath.Join(dir, "production.yaml"), data, 0o644); err != nil {
		t.Fatalf("writing fixture catalog: %v", err)
	}

	db := NewDB()
	if err := db.LoadAll(dir, []string{"production"}); err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	item := db.ItemDetail("Firefox", []string{"production"}, ItemDetailOptions{}, predicate.Facts{})
	if item == nil || item.Version != "102.0" {
		t.Fatalf("ItemDetail() after LoadAll = %v", item)
	}
}
