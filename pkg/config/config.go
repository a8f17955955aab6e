// Package config defines the agent's Configuration type and its
// YAML-file-plus-managed-preferences-overlay loading, in the style of
// the teacher's pkg/config: a single struct, a well-known path, and a
// secondary overlay source layered on top of defaults.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the primary configuration file location.
const ConfigPath = "/Library/Preferences/com.fleetupdate.agent/Config.yaml"

// ManagedPreferencesPath is an MDM-delivered overlay, applied on top of
// ConfigPath/defaults. Real managed preferences arrive as a
// configuration-profile plist; this client expects them pre-rendered
// to the same YAML shape (see DESIGN.md for the rationale) so a single
// Configuration decoder handles both sources.
const ManagedPreferencesPath = "/Library/Managed Preferences/com.fleetupdate.agent.yaml"

// Configuration holds every configurable option of the agent. Field
// names and YAML tags mirror spec.md §6's named preferences exactly so
// a deployed profile maps onto this struct without translation.
type Configuration struct {
	// Repository layout (spec.md §6 fetch URL layout).
	SoftwareRepoURL   string `yaml:"SoftwareRepoURL"`
	ManifestURL       string `yaml:"ManifestURL"`
	CatalogURL        string `yaml:"CatalogURL"`
	IconURL           string `yaml:"IconURL"`
	PackageURL        string `yaml:"PackageURL"`
	ClientResourceURL string `yaml:"ClientResourceURL"`
	LicenseInfoURL    string `yaml:"LicenseInfoURL"`

	ClientIdentifier  string   `yaml:"ClientIdentifier"`
	LocalOnlyManifest string   `yaml:"LocalOnlyManifest"`
	Catalogs          []string `yaml:"Catalogs"`

	InstallAppleSoftwareUpdates             bool `yaml:"InstallAppleSoftwareUpdates"`
	AppleSoftwareUpdatesOnly                bool `yaml:"AppleSoftwareUpdatesOnly"`
	SuppressAutoInstall                     bool `yaml:"SuppressAutoInstall"`
	SuppressLoginwindowInstall              bool `yaml:"SuppressLoginwindowInstall"`
	SuppressUserNotification                bool `yaml:"SuppressUserNotification"`
	DaysBetweenNotifications                int  `yaml:"DaysBetweenNotifications"`
	ShowOptionalInstallsForHigherOSVersions bool `yaml:"ShowOptionalInstallsForHigherOSVersions"`

	// Session bookkeeping, persisted back into the same file between runs.
	LastCheckDate     string `yaml:"LastCheckDate"`
	LastCheckResult   int    `yaml:"LastCheckResult"`
	LastNotifiedDate  string `yaml:"LastNotifiedDate"`
	PendingUpdateCount int   `yaml:"PendingUpdateCount"`
	OldestUpdateDays  int    `yaml:"OldestUpdateDays"`
	ForcedUpdateDueDate string `yaml:"ForcedUpdateDueDate"`

	// Local paths.
	RepoPath     string `yaml:"RepoPath"`
	CatalogsPath string `yaml:"CatalogsPath"`
	ManifestsPath string `yaml:"ManifestsPath"`
	CachePath    string `yaml:"CachePath"`

	// Ambient/operational.
	LogLevel                string `yaml:"LogLevel"`
	Debug                   bool   `yaml:"Debug"`
	Verbose                 bool   `yaml:"Verbose"`
	CheckOnly               bool   `yaml:"CheckOnly"`
	ForceBasicAuth          bool   `yaml:"ForceBasicAuth"`
	NoPreflight             bool   `yaml:"NoPreflight"`
	PreflightFailureAction  string `yaml:"PreflightFailureAction"`
	PostflightFailureAction string `yaml:"PostflightFailureAction"`
	InstallerTimeoutMinutes int    `yaml:"InstallerTimeoutMinutes"`

	// Internal, never persisted: skip self-service manifest processing
	// (used by tests and by --item filtering).
	SkipSelfService bool `yaml:"-"`
}

// LoadConfig loads the configuration from ConfigPath, layering a
// managed-preferences overlay on top when present. Falls back to
// GetDefaultConfig when neither source exists.
func LoadConfig() (*Configuration, error) {
	cfg := GetDefaultConfig()

	if data, err := os.ReadFile(ConfigPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", ConfigPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading %s: %w", ConfigPath, err)
	} else {
		log.Printf("config: %s does not exist, using defaults", ConfigPath)
	}

	if err := applyManagedPreferencesOverlay(cfg); err != nil {
		log.Printf("config: managed preferences overlay not applied: %v", err)
	}

	if cfg.CachePath == "" {
		cfg.CachePath = "/Library/Managed Installs/Cache"
	}
	if cfg.CatalogsPath == "" {
		cfg.CatalogsPath = "/Library/Managed Installs/catalogs"
	}
	if cfg.ManifestsPath == "" {
		cfg.ManifestsPath = "/Library/Managed Installs/manifests"
	}

	for _, path := range []string{cfg.CachePath, cfg.CatalogsPath, cfg.ManifestsPath} {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("config: creating directory %s: %w", path, err)
		}
	}

	return cfg, nil
}

// applyManagedPreferencesOverlay layers any keys set in
// ManagedPreferencesPath on top of cfg. Only non-zero values in the
// overlay take effect, matching the teacher's CSP-fallback idiom of
// "present and non-empty wins".
func applyManagedPreferencesOverlay(cfg *Configuration) error {
	data, err := os.ReadFile(ManagedPreferencesPath)
	if err != nil {
		return err
	}

	var overlay Configuration
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing managed preferences overlay: %w", err)
	}

	mergeNonZero(cfg, &overlay)
	return nil
}

// mergeNonZero copies every non-zero-valued field of overlay onto cfg.
func mergeNonZero(cfg, overlay *Configuration) {
	if overlay.SoftwareRepoURL != "" {
		cfg.SoftwareRepoURL = overlay.SoftwareRepoURL
	}
	if overlay.ManifestURL != "" {
		cfg.ManifestURL = overlay.ManifestURL
	}
	if overlay.CatalogURL != "" {
		cfg.CatalogURL = overlay.CatalogURL
	}
	if overlay.IconURL != "" {
		cfg.IconURL = overlay.IconURL
	}
	if overlay.PackageURL != "" {
		cfg.PackageURL = overlay.PackageURL
	}
	if overlay.ClientResourceURL != "" {
		cfg.ClientResourceURL = overlay.ClientResourceURL
	}
	if overlay.LicenseInfoURL != "" {
		cfg.LicenseInfoURL = overlay.LicenseInfoURL
	}
	if overlay.ClientIdentifier != "" {
		cfg.ClientIdentifier = overlay.ClientIdentifier
	}
	if overlay.LocalOnlyManifest != "" {
		cfg.LocalOnlyManifest = overlay.LocalOnlyManifest
	}
	if len(overlay.Catalogs) > 0 {
		cfg.Catalogs = overlay.Catalogs
	}
	if overlay.InstallAppleSoftwareUpdates {
		cfg.InstallAppleSoftwareUpdates = true
	}
	if overlay.AppleSoftwareUpdatesOnly {
		cfg.AppleSoftwareUpdatesOnly = true
	}
	if overlay.SuppressAutoInstall {
		cfg.SuppressAutoInstall = true
	}
	if overlay.SuppressLoginwindowInstall {
		cfg.SuppressLoginwindowInstall = true
	}
	if overlay.SuppressUserNotification {
		cfg.SuppressUserNotification = true
	}
	if overlay.DaysBetweenNotifications != 0 {
		cfg.DaysBetweenNotifications = overlay.DaysBetweenNotifications
	}
	if overlay.ShowOptionalInstallsForHigherOSVersions {
		cfg.ShowOptionalInstallsForHigherOSVersions = true
	}
}

// SaveConfig persists cfg back to ConfigPath, used to record
// LastCheckDate/LastCheckResult/PendingUpdateCount et al. at the end
// of a session.
func SaveConfig(cfg *Configuration) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: serializing: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ConfigPath), 0755); err != nil {
		return fmt.Errorf("config: creating config directory: %w", err)
	}
	if err := os.WriteFile(ConfigPath, data, 0644); err != nil {
		return fmt.Errorf("config: writing %s: %w", ConfigPath, err)
	}
	return nil
}

// GetDefaultConfig returns the built-in defaults used when no
// configuration file or managed-preferences overlay exists.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		LogLevel:                                 "INFO",
		RepoPath:                                 "/Library/Managed Installs/repo",
		CatalogsPath:                             "/Library/Managed Installs/catalogs",
		ManifestsPath:                             "/Library/Managed Installs/manifests",
		CachePath:                                 "/Library/Managed Installs/Cache",
		SoftwareRepoURL:                           "https://munki.example.com/repo",
		DaysBetweenNotifications:                 1,
		ShowOptionalInstallsForHigherOSVersions:   false,
		PreflightFailureAction:                    "abort",
		PostflightFailureAction:                   "continue",
		InstallerTimeoutMinutes:                   60,
	}
}
