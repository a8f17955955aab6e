package hostfacts

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fleetupdate/agent/pkg/catalog"
	"github.com/fleetupdate/agent/pkg/version"
)

// InstallItemVersion implements spec.md §4.6 step 5's per-type
// installs-list comparison: application (by path, falling back to the
// enumerated application inventory by bundle id or name), bundle and
// plist (read Info.plist / the given path directly), file (existence
// plus optional md5). A minimum_update_version gate treats a found
// version older than that floor as not present at all.
func (f *Facts) InstallItemVersion(item catalog.InstallItem) (installedVersion string, present bool) {
	switch item.Type {
	case "application":
		installedVersion, present = f.applicationVersion(item)
	case "bundle":
		installedVersion, present = bundleVersion(item.Path)
	case "plist":
		installedVersion, present = plistVersion(item)
	case "file":
		installedVersion, present = fileVersion(item)
	default:
		installedVersion, present = fileVersion(item)
	}

	if !present {
		return "", false
	}
	if item.MinimumUpdateVersion != "" && version.IsOlder(installedVersion, item.MinimumUpdateVersion) {
		return "", false
	}
	return installedVersion, true
}

func (f *Facts) applicationVersion(item catalog.InstallItem) (string, bool) {
	if item.Path != "" {
		if v, ok := bundleVersion(item.Path); ok {
			return v, true
		}
	}

	name := strings.TrimSuffix(filepath.Base(item.Path), ".app")

	for _, app := range f.Applications {
		if item.CFBundleIdentifier != "" && app.BundleID == item.CFBundleIdentifier {
			return app.Version, true
		}
		if name != "" && app.Name == name {
			return app.Version, true
		}
	}
	return "", false
}

func bundleVersion(path string) (string, bool) {
	for _, sub := range []string{"Contents/Info.plist", "Resources/Info.plist"} {
		bundleID, v, err := readAppInfoPlist(filepath.Join(path, sub))
		if err == nil && (bundleID != "" || v != "") {
			return v, true
		}
	}
	return "", false
}

func plistVersion(item catalog.InstallItem) (string, bool) {
	data, err := os.ReadFile(item.Path)
	if err != nil {
		return "", false
	}
	key := item.VersionComparisonKey
	if key == "" {
		key = "CFBundleShortVersionString"
	}
	v, err := lookupPlistString(data, key)
	if err != nil {
		return "", false
	}
	return v, true
}

func fileVersion(item catalog.InstallItem) (string, bool) {
	info, err := os.Stat(item.Path)
	if err != nil {
		return "", false
	}
	if item.MD5Checksum == "" {
		return "0", true
	}
	if info.IsDir() {
		return "", false
	}
	sum, err := md5File(item.Path)
	if err != nil || sum != item.MD5Checksum {
		return "", false
	}
	return "0", true
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
