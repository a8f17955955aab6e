// Package sentinel reads and writes the well-known flag files the
// session controller polls for cooperative cancellation and external
// triggers, per spec.md §6/§5.
package sentinel

import (
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// StopRequestedPath is checked between phases; its presence means
	// an external actor (GUI, signal handler) asked the session to
	// stop at the next checkpoint.
	StopRequestedPath = "/private/tmp/com.googlecode.munki.managedsoftwareupdate.stop_requested"

	// UpdateCheckTriggerPath, when present, requests a manual update
	// check; its payload carries SuppressAppleUpdateCheck.
	UpdateCheckTriggerPath = "/private/tmp/.com.googlecode.munki.updatecheck.launchd"

	// InstallNoLogoutTriggerPath requests an install-without-logout
	// run; its payload carries LaunchStagedOSInstaller.
	InstallNoLogoutTriggerPath = "/private/tmp/.com.googlecode.munki.managedinstall.launchd"

	// BootstrapModePath marks bootstrap-mode: install everything at
	// startup before handing off to the login window.
	BootstrapModePath = "/Users/Shared/.com.googlecode.munki.checkandinstallatstartup"
)

// StopRequested reports whether the stop-requested sentinel exists.
func StopRequested() bool {
	_, err := os.Stat(StopRequestedPath)
	return err == nil
}

// ClearStopRequest removes the stop-requested sentinel, called once
// the session controller has actually stopped.
func ClearStopRequest() error {
	err := os.Remove(StopRequestedPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RequestStop creates the stop-requested sentinel.
func RequestStop() error {
	return os.WriteFile(StopRequestedPath, nil, 0644)
}

// UpdateCheckTrigger is the payload of the manual-update-check trigger
// file.
type UpdateCheckTrigger struct {
	SuppressAppleUpdateCheck bool `yaml:"SuppressAppleUpdateCheck"`
}

// ReadUpdateCheckTrigger reads and parses the update-check trigger
// file, if present.
func ReadUpdateCheckTrigger() (*UpdateCheckTrigger, bool) {
	data, err := os.ReadFile(UpdateCheckTriggerPath)
	if err != nil {
		return nil, false
	}
	var t UpdateCheckTrigger
	if err := yaml.Unmarshal(data, &t); err != nil {
		return &UpdateCheckTrigger{}, true
	}
	return &t, true
}

// ClearUpdateCheckTrigger consumes the trigger file.
func ClearUpdateCheckTrigger() error {
	err := os.Remove(UpdateCheckTriggerPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// InstallNoLogoutTrigger is the payload of the install-without-logout
// trigger file.
type InstallNoLogoutTrigger struct {
	LaunchStagedOSInstaller bool `yaml:"LaunchStagedOSInstaller"`
}

// ReadInstallNoLogoutTrigger reads and parses the install-no-logout
// trigger file, if present.
func ReadInstallNoLogoutTrigger() (*InstallNoLogoutTrigger, bool) {
	data, err := os.ReadFile(InstallNoLogoutTriggerPath)
	if err != nil {
		return nil, false
	}
	var t InstallNoLogoutTrigger
	if err := yaml.Unmarshal(data, &t); err != nil {
		return &InstallNoLogoutTrigger{}, true
	}
	return &t, true
}

// ClearInstallNoLogoutTrigger consumes the trigger file.
func ClearInstallNoLogoutTrigger() error {
	err := os.Remove(InstallNoLogoutTriggerPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// BootstrapModeActive reports whether bootstrap mode is requested.
func BootstrapModeActive() bool {
	_, err := os.Stat(BootstrapModePath)
	return err == nil
}

// SetBootstrapMode creates or removes the bootstrap-mode sentinel.
func SetBootstrapMode(active bool) error {
	if active {
		return os.WriteFile(BootstrapModePath, nil, 0644)
	}
	err := os.Remove(BootstrapModePath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
