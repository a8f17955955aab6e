// Package installstate implements the Installation-State Evaluator
// (C6): given a pkginfo, it determines whether the item is installed,
// an older version is installed, or it is entirely absent, following
// a fixed precedence chain of detection methods.
package installstate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetupdate/agent/pkg/catalog"
	"github.com/fleetupdate/agent/pkg/logging"
	"github.com/fleetupdate/agent/pkg/script"
	"github.com/fleetupdate/agent/pkg/version"
)

// State is the three-way result of evaluating a pkginfo's installed
// state against the host.
type State int

const (
	ThisVersionNotInstalled State = iota
	ThisVersionInstalled
	NewerVersionInstalled
)

func (s State) String() string {
	switch s {
	case ThisVersionNotInstalled:
		return "thisVersionNotInstalled"
	case ThisVersionInstalled:
		return "thisVersionInstalled"
	case NewerVersionInstalled:
		return "newerVersionInstalled"
	default:
		return "unknown"
	}
}

// Host is the narrow view of host facts the evaluator needs: the
// installed-packages receipt map and a way to probe on-disk install
// items (applications, bundles, plists, files).
type Host interface {
	InstalledPackages() map[string]string // packageid -> version
	OSVersion() string
	InstallItemVersion(item catalog.InstallItem) (installedVersion string, present bool)
}

// Evaluate runs the full precedence chain from spec.md §4.6:
// OnDemand, installcheck_script, version_script, startosinstall/
// stage_os_installer OS-version compare, installs list, receipts list.
func Evaluate(pkg *catalog.Pkginfo, host Host) State {
	if pkg.OnDemand {
		return ThisVersionNotInstalled
	}

	if pkg.InstallCheckScript != "" {
		result, err := script.Run(script.KindInstallCheck, pkg.InstallCheckScript)
		if err != nil {
			logging.Warn("installcheck_script failed to run", "item", pkg.Name, "error", err)
		} else {
			// Exit code 0 means installation is needed, i.e. not installed.
			if result.ExitCode == 0 {
				return ThisVersionNotInstalled
			}
			return ThisVersionInstalled
		}
	}

	if pkg.VersionScript != "" {
		result, err := script.Run(script.KindVersion, pkg.VersionScript)
		if err != nil {
			logging.Warn("version_script failed to run", "item", pkg.Name, "error", err)
		} else {
			stdout := strings.TrimSpace(result.Stdout)
			if stdout == "" {
				// Conservative reading: no output means no evidence
				// this item is installed (Open Question decision #3).
				return ThisVersionNotInstalled
			}
			switch version.CompareInstalled(stdout, pkg.Version) {
			case version.NotPresent, version.Older:
				return ThisVersionNotInstalled
			case version.Newer:
				return NewerVersionInstalled
			default:
				return ThisVersionInstalled
			}
		}
	}

	if pkg.InstallerType == "startosinstall" || pkg.InstallerType == "stage_os_installer" {
		return evaluateOSInstaller(pkg, host)
	}

	anyNewer := false
	anyChecked := false

	for _, item := range pkg.Installs {
		installedVersion, present := host.InstallItemVersion(item)
		anyChecked = true
		if !present {
			return ThisVersionNotInstalled
		}
		cmp := version.CompareInstalled(installedVersion, pkg.Version)
		if cmp == version.Older {
			return ThisVersionNotInstalled
		}
		if cmp == version.Newer {
			anyNewer = true
		}
	}

	for _, r := range pkg.Receipts {
		if r.Optional {
			continue
		}
		anyChecked = true
		installedVersion, present := host.InstalledPackages()[r.PackageID]
		if !present {
			return ThisVersionNotInstalled
		}
		cmp := version.CompareInstalled(installedVersion, r.Version)
		if cmp == version.Older {
			return ThisVersionNotInstalled
		}
		if cmp == version.Newer {
			anyNewer = true
		}
	}

	if !anyChecked {
		return ThisVersionNotInstalled
	}
	if anyNewer {
		return NewerVersionInstalled
	}
	return ThisVersionInstalled
}

// evaluateOSInstaller compares the running OS version against the
// installer's major version: for major>=11, majors alone are
// compared; otherwise major.minor.
func evaluateOSInstaller(pkg *catalog.Pkginfo, host Host) State {
	running := host.OSVersion()
	cmp := compareOSMajorOrMinor(running, pkg.Version)
	switch {
	case cmp < 0:
		return ThisVersionNotInstalled
	case cmp > 0:
		return NewerVersionInstalled
	default:
		return ThisVersionInstalled
	}
}

func compareOSMajorOrMinor(a, b string) int {
	aMajor, aMinor := majorMinor(a)
	bMajor, bMinor := majorMinor(b)
	if aMajor != bMajor {
		return aMajor - bMajor
	}
	if bMajor >= 11 {
		return 0
	}
	return aMinor - bMinor
}

func majorMinor(v string) (major, minor int) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

// SomeVersionInstalled is the loosest check: true if any detectable
// evidence of any version of pkg exists on the host.
func SomeVersionInstalled(pkg *catalog.Pkginfo, host Host) bool {
	for _, item := range pkg.Installs {
		if _, present := host.InstallItemVersion(item); present {
			return true
		}
	}
	for _, r := range pkg.Receipts {
		if _, present := host.InstalledPackages()[r.PackageID]; present {
			return true
		}
	}
	return false
}

// EvidenceThisIsInstalled is used for removal planning: it prefers
// uninstallcheck_script when present, otherwise verifies installs and
// receipts footprints, except items whose uninstall_method is
// "removepackages", which fall back to receipts only (the install
// item paths may already be gone by the time removal runs).
func EvidenceThisIsInstalled(pkg *catalog.Pkginfo, host Host) bool {
	if pkg.UninstallCheckScript != "" {
		result, err := script.Run("uninstallcheck_script", pkg.UninstallCheckScript)
		if err != nil {
			logging.Warn("uninstallcheck_script failed to run", "item", pkg.Name, "error", err)
		} else {
			return result.ExitCode == 0
		}
	}

	if pkg.UninstallMethod == "removepackages" {
		for _, r := range pkg.Receipts {
			if _, present := host.InstalledPackages()[r.PackageID]; present {
				return true
			}
		}
		return false
	}

	for _, item := range pkg.Installs {
		if _, present := host.InstallItemVersion(item); present {
			return true
		}
	}
	for _, r := range pkg.Receipts {
		if _, present := host.InstalledPackages()[r.PackageID]; present {
			return true
		}
	}
	return false
}

// Describe gives a short human-readable explanation of a State, used
// in problem_items notes.
func Describe(s State, name string) string {
	return fmt.Sprintf("%s: %s", name, s.String())
}
