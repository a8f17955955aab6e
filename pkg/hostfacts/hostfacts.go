// Package hostfacts collects the session-stable host-facts info object
// that the predicate evaluator and installation-state evaluator
// consult: OS version, architecture, hostname, serial number, the
// installed-packages receipt map, and the enumerated application
// inventory.
package hostfacts

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/fleetupdate/agent/pkg/logging"
	"github.com/fleetupdate/agent/pkg/predicate"
)

// Application is one entry in the enumerated application inventory
// built once per session.
type Application struct {
	Name     string
	Path     string
	BundleID string
	Version  string
}

// Facts is the lazily populated, session-stable host-facts info
// object. It is built once via Collect and is safe to read from
// multiple goroutines afterward since nothing mutates it in place.
type Facts struct {
	OSVersion         string
	Arch              string
	X8664Capable      bool
	Hostname          string
	SerialNumber      string
	AgentVersion      string
	MachineModel      string
	Date              time.Time
	ConsoleUser       string
	IPv4Address       string
	Applications      []Application
	InstalledPackages map[string]string // receipt packageid -> installed version

	Catalogs []string
}

// A Provider supplies additional facts beyond the built-in set, merged
// in by ToPredicateFacts. Mirrors the teacher's FactsProvider
// extensibility point.
type Provider interface {
	GetFacts() (map[string]interface{}, error)
}

// ToPredicateFacts flattens Facts plus any custom/provider facts into
// the untyped map the predicate evaluator consumes.
func (f *Facts) ToPredicateFacts(custom predicate.Facts, providers []Provider) predicate.Facts {
	out := predicate.Facts{}
	out["os_vers"] = f.OSVersion
	out["arch"] = f.Arch
	out["x86_64_capable"] = f.X8664Capable
	out["hostname"] = f.Hostname
	out["serial_number"] = f.SerialNumber
	out["munki_version"] = f.AgentVersion
	out["machine_model"] = f.MachineModel
	out["date"] = f.Date
	out["console_user"] = f.ConsoleUser
	out["ipv4_address"] = f.IPv4Address
	out["catalogs"] = f.Catalogs

	for k, v := range custom {
		out[k] = v
	}
	for _, p := range providers {
		pf, err := p.GetFacts()
		if err != nil {
			logging.Warn("Failed to gather facts from provider", "error", err)
			continue
		}
		for k, v := range pf {
			out[k] = v
		}
	}
	return out
}

var (
	once      sync.Once
	collected *Facts
)

// Collect builds the Facts object once per process, caching the
// result for the remainder of the session.
func Collect(agentVersion string) *Facts {
	once.Do(func() {
		collected = collect(agentVersion)
	})
	return collected
}

// Reset clears the cached facts; only tests should call this.
func Reset() {
	once = sync.Once{}
	collected = nil
}

// SetCatalogs records the configured catalog list onto the already
// collected Facts, so "catalogs" is available to predicates that key
// off CatalogsContain-style conditions.
func (f *Facts) SetCatalogs(catalogs []string) {
	f.Catalogs = catalogs
}

func collect(agentVersion string) *Facts {
	f := &Facts{
		Arch:         runtime.GOARCH,
		AgentVersion: agentVersion,
		Date:         time.Now(),
	}

	if hostname, err := os.Hostname(); err == nil {
		f.Hostname = hostname
	}

	// Report Intel hosts under the "x86_64" name that pkginfo
	// supported_architectures and predicates use, not Go's "amd64".
	if f.Arch == "amd64" {
		f.Arch = "x86_64"
	}
	f.X8664Capable = f.Arch == "x86_64" || f.Arch == "arm64"

	if v, err := osVersion(); err == nil {
		f.OSVersion = v
	} else {
		logging.Warn("Failed to determine OS version", "error", err)
		if info, herr := host.Info(); herr == nil {
			f.OSVersion = info.PlatformVersion
		}
	}

	if serial, err := serialNumber(); err == nil {
		f.SerialNumber = serial
	} else {
		logging.Debug("Failed to determine hardware serial number", "error", err)
	}

	if model, err := machineModel(); err == nil {
		f.MachineModel = model
	}

	if cu, err := consoleUser(); err == nil {
		f.ConsoleUser = cu
	}

	f.IPv4Address = primaryIPv4()

	apps, err := enumerateApplications("/Applications")
	if err != nil {
		logging.Warn("Failed to enumerate /Applications", "error", err)
	}
	f.Applications = apps

	pkgs, err := installedPackages()
	if err != nil {
		logging.Warn("Failed to query installed packages via pkgutil", "error", err)
	}
	f.InstalledPackages = pkgs

	return f
}

// osVersion shells out to sw_vers, the standard way to obtain the
// macOS product version without linking CoreFoundation.
func osVersion() (string, error) {
	out, err := exec.Command("sw_vers", "-productVersion").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

var serialRe = regexp.MustCompile(`"IOPlatformSerialNumber" = "([^"]+)"`)

func serialNumber() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	m := serialRe.FindSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("hostfacts: IOPlatformSerialNumber not found in ioreg output")
	}
	return string(m[1]), nil
}

func machineModel() (string, error) {
	out, err := exec.Command("sysctl", "-n", "hw.model").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// consoleUser returns the owner of /dev/console, the standard way to
// determine the logged-in GUI user (root when nobody is logged in at
// the login window).
func consoleUser() (string, error) {
	info, err := os.Stat("/dev/console")
	if err != nil {
		return "", err
	}
	uid := fileOwnerUID(info)
	if uid < 0 {
		return "", fmt.Errorf("hostfacts: could not determine /dev/console owner")
	}
	u, err := user.LookupId(fmt.Sprintf("%d", uid))
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

func primaryIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}

// enumerateApplications walks the top level of dir for *.app bundles
// and reads each one's Info.plist for its bundle id and version. Used
// by the installation-state evaluator's "application" installs-check
// when no explicit path is given.
func enumerateApplications(dir string) ([]Application, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var apps []Application
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".app") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		plistPath := filepath.Join(path, "Contents", "Info.plist")
		bundleID, version, err := readAppInfoPlist(plistPath)
		if err != nil {
			logging.Debug("Skipping application without readable Info.plist", "path", path, "error", err)
			continue
		}
		apps = append(apps, Application{
			Name:     strings.TrimSuffix(e.Name(), ".app"),
			Path:     path,
			BundleID: bundleID,
			Version:  version,
		})
	}
	return apps, nil
}

// installedPackages asks the platform package database for every
// receipt and its installed version, keyed by package id. This backs
// the "receipts" branch of the installation-state evaluator.
func installedPackages() (map[string]string, error) {
	out, err := exec.Command("/usr/sbin/pkgutil", "--pkgs").Output()
	if err != nil {
		return nil, err
	}

	result := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		pkgid := strings.TrimSpace(scanner.Text())
		if pkgid == "" {
			continue
		}
		version, err := pkgVersion(pkgid)
		if err != nil {
			logging.Debug("Failed to read pkg-info for receipt", "pkgid", pkgid, "error", err)
			continue
		}
		result[pkgid] = version
	}
	return result, scanner.Err()
}

func pkgVersion(pkgid string) (string, error) {
	out, err := exec.Command("/usr/sbin/pkgutil", "--pkg-info-plist", pkgid).Output()
	if err != nil {
		return "", err
	}
	return parsePkgInfoPlistVersion(out)
}
