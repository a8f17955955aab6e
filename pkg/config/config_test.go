package config

import "testing"

func TestGetDefaultConfigSetsBaselineFields(t *testing.T) {
	cfg := GetDefaultConfig()
	if cfg.LogLevel != "INFO" {
		t.Errorf("LogLevel = %q, want INFO", cfg.LogLevel)
	}
	if cfg.DaysBetweenNotifications != 1 {
		t.Errorf("DaysBetweenNotifications = %d, want 1", cfg.DaysBetweenNotifications)
	}
	if cfg.PreflightFailureAction != "abort" {
		t.Errorf("PreflightFailureAction = %q, want abort", cfg.PreflightFailureAction)
	}
	if cfg.PostflightFailureAction != "continue" {
		t.Errorf("PostflightFailureAction = %q, want continue", cfg.PostflightFailureAction)
	}
}

func TestMergeNonZeroOverridesStringsAndSlices(t *testing.T) {
	cfg := &Configuration{SoftwareRepoURL: "https://old.example.com"}
	overlay := &Configuration{SoftwareRepoURL: "https://new.example.com", Catalogs: []string{"testing"}}

	mergeNonZero(cfg, overlay)

	if cfg.SoftwareRepoURL != "https://new.example.com" {
		t.Errorf("SoftwareRepoURL = %q, want overlay value", cfg.SoftwareRepoURL)
	}
	if len(cfg.Catalogs) != 1 || cfg.Catalogs[0] != "testing" {
		t.Errorf("Catalogs = %v, want [testing]", cfg.Catalogs)
	}
}

func TestMergeNonZeroLeavesUnsetOverlayFieldsAlone(t *testing.T) {
	cfg := &Configuration{SoftwareRepoURL: "https://old.example.com", ClientIdentifier: "site_default"}
	overlay := &Configuration{}

	mergeNonZero(cfg, overlay)

	if cfg.SoftwareRepoURL != "https://old.example.com" {
		t.Errorf("SoftwareRepoURL = %q, want unchanged", cfg.SoftwareRepoURL)
	}
	if cfg.ClientIdentifier != "site_default" {
		t.Errorf("ClientIdentifier = %q, want unchanged", cfg.ClientIdentifier)
	}
}

func TestMergeNonZeroBoolsAreOneWayLatches(t *testing.T) {
	cfg := &Configuration{SuppressAutoInstall: true}
	overlay := &Configuration{SuppressAutoInstall: false}

	mergeNonZero(cfg, overlay)

	if !cfg.SuppressAutoInstall {
		t.Error("expected an overlay false to leave an already-true bool untouched (zero value never overrides)")
	}
}

func TestMergeNonZeroDaysBetweenNotifications(t *testing.T) {
	cfg := &Configuration{DaysBetweenNotifications: 1}
	overlay := &Configuration{DaysBetweenNotifications: 7}

	mergeNonZero(cfg, overlay)

	if cfg.DaysBetweenNotifications != 7 {
		t.Errorf("DaysBetweenNotifications = %d, want 7", cfg.DaysBetweenNotifications)
	}
}
