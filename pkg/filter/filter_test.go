package filter

import "testing"

func TestFilterManifestItemsNoFilterReturnsAllUnchanged(t *testing.T) {
	f := NewItemFilter(nil)
	all := []string{"Firefox", "Chrome-102.0"}
	got := f.FilterManifestItems(all)
	if len(got) != 2 {
		t.Errorf("FilterManifestItems() = %v, want all entries unchanged", got)
	}
}

func TestFilterManifestItemsMatchesCaseInsensitively(t *testing.T) {
	f := NewItemFilter(nil)
	f.SetItems([]string{"firefox"})

	got := f.FilterManifestItems([]string{"Firefox-102.0", "Chrome"})
	if len(got) != 1 || got[0] != "Firefox-102.0" {
		t.Errorf("FilterManifestItems() = %v, want [Firefox-102.0]", got)
	}
}

func TestFilterManifestItemsNoMatchesReturnsEmpty(t *testing.T) {
	f := NewItemFilter(nil)
	f.SetItems([]string{"Nonexistent"})

	got := f.FilterManifestItems([]string{"Firefox", "Chrome"})
	if len(got) != 0 {
		t.Errorf("FilterManifestItems() = %v, want empty", got)
	}
}

func TestHasFilter(t *testing.T) {
	f := NewItemFilter(nil)
	if f.HasFilter() {
		t.Error("expected HasFilter() to be false with no items set")
	}
	f.SetItems([]string{"Firefox"})
	if !f.HasFilter() {
		t.Error("expected HasFilter() to be true once items are set")
	}
}

func TestShouldOverrideCheckOnlyMatchesHasFilter(t *testing.T) {
	f := NewItemFilter(nil)
	if f.ShouldOverrideCheckOnly() {
		t.Error("expected false with no filter")
	}
	f.SetItems([]string{"Firefox"})
	if !f.ShouldOverrideCheckOnly() {
		t.Error("expected true once a filter is set")
	}
}

func TestGetItemsReturnsWhatWasSet(t *testing.T) {
	f := NewItemFilter(nil)
	f.SetItems([]string{"Firefox", "Chrome"})
	got := f.GetItems()
	if len(got) != 2 || got[0] != "Firefox" || got[1] != "Chrome" {
		t.Errorf("GetItems() = %v, want [Firefox Chrome]", got)
	}
}
