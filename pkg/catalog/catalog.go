// Package catalog implements the in-memory Catalog DB: it loads one or
// more catalog YAML files into a slice of Pkginfo records and builds
// the lookup indices (by name, by receipt packageid, by updater, by
// autoremove flag) that the dependency resolver queries throughout a
// session.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetupdate/agent/pkg/logging"
	"github.com/fleetupdate/agent/pkg/predicate"
	"github.com/fleetupdate/agent/pkg/version"
)

// Receipt describes one installed-package footprint a pkginfo can be
// detected by.
type Receipt struct {
	PackageID string `yaml:"packageid"`
	Version   string `yaml:"version"`
	Optional  bool   `yaml:"optional,omitempty"`
}

// InstallItem describes one on-disk artifact (an app bundle, a plist
// key, or a bare file) that evidences a pkginfo's installed version.
type InstallItem struct {
	Type                 string `yaml:"type"`
	Path                 string `yaml:"path"`
	CFBundleIdentifier   string `yaml:"CFBundleIdentifier,omitempty"`
	CFBundleVersion      string `yaml:"CFBundleShortVersionString,omitempty"`
	VersionComparisonKey string `yaml:"version_comparison_key,omitempty"`
	MD5Checksum          string `yaml:"md5checksum,omitempty"`
	MinimumUpdateVersion string `yaml:"minimum_update_version,omitempty"`
}

// UnusedSoftwareRemoval describes a pkginfo's self-serve reconciliation
// policy: remove it if unused for removal_days.
type UnusedSoftwareRemoval struct {
	RemovalDays int      `yaml:"removal_days"`
	BundleIDs   []string `yaml:"bundle_ids,omitempty"`
}

// Pkginfo is the atomic unit describing one installable software item.
// A catalog is an ordered list of these; the pair (Name, Version)
// identifies one.
type Pkginfo struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	DisplayName string `yaml:"display_name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Category    string `yaml:"category,omitempty"`
	Developer   string `yaml:"developer,omitempty"`
	IconName    string `yaml:"icon_name,omitempty"`
	IconHash    string `yaml:"icon_hash,omitempty"`
	Featured    bool   `yaml:"featured,omitempty"`

	InstallerType         string   `yaml:"installer_type"`
	InstallerItemLocation string   `yaml:"installer_item_location"`
	InstallerItemHash     string   `yaml:"installer_item_hash"`
	InstallerItemSize     int64    `yaml:"installer_item_size"`
	InstalledSize         int64    `yaml:"installed_size"`
	PackageURL            string   `yaml:"PackageURL,omitempty"`
	PackageCompleteURL    string   `yaml:"PackageCompleteURL,omitempty"`
	UninstallMethod       string   `yaml:"uninstall_method,omitempty"`
	Uninstallable         bool     `yaml:"uninstallable,omitempty"`
	BlockingApps          []string `yaml:"blocking_applications,omitempty"`

	Receipts []Receipt     `yaml:"receipts,omitempty"`
	Installs []InstallItem `yaml:"installs,omitempty"`

	Requires  []string    `yaml:"requires,omitempty"`
	UpdateFor interface{} `yaml:"update_for,omitempty"` // string or []string in source data

	MinimumOSVersion      string   `yaml:"minimum_os_version,omitempty"`
	MaximumOSVersion      string   `yaml:"maximum_os_version,omitempty"`
	SupportedArchitectures []string `yaml:"supported_architectures,omitempty"`
	MinimumAgentVersion   string   `yaml:"minimum_munki_version,omitempty"`
	InstallableCondition  string   `yaml:"installable_condition,omitempty"`

	UnattendedInstall     bool   `yaml:"unattended_install,omitempty"`
	UnattendedUninstall   bool   `yaml:"unattended_uninstall,omitempty"`
	ForceInstallAfterDate string `yaml:"force_install_after_date,omitempty"`
	RestartAction         string `yaml:"RestartAction,omitempty"`
	OnDemand              bool   `yaml:"OnDemand,omitempty"`
	AppleItem             *bool  `yaml:"apple_item,omitempty"`
	Precache              bool   `yaml:"precache,omitempty"`
	Autoremove            bool   `yaml:"autoremove,omitempty"`

	InstallCheckScript    string `yaml:"installcheck_script,omitempty"`
	UninstallCheckScript  string `yaml:"uninstallcheck_script,omitempty"`
	VersionScript         string `yaml:"version_script,omitempty"`
	PreinstallScript      string `yaml:"preinstall_script,omitempty"`
	PostinstallScript     string `yaml:"postinstall_script,omitempty"`
	PreuninstallScript    string `yaml:"preuninstall_script,omitempty"`
	PostuninstallScript   string `yaml:"postuninstall_script,omitempty"`

	UnusedSoftwareRemoval *UnusedSoftwareRemoval `yaml:"unused_software_removal_info,omitempty"`
}

// UpdateForList normalizes UpdateFor to a list regardless of whether
// the source YAML held a bare string or a sequence.
func (p *Pkginfo) UpdateForList() []string {
	switch v := p.UpdateFor.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

// Catalog is one parsed catalog's contents plus its derived indices.
type Catalog struct {
	Name  string
	Items []Pkginfo

	named           map[string]map[string][]int // name -> version -> indices
	receipts        map[string]map[string][]int // packageid -> version -> indices
	updaters        []int                        // indices of items with update_for set
	autoremoveItems map[string]bool
}

// DB is the in-memory Catalog DB: every loaded catalog, keyed by name,
// consulted in manifest-declared order.
type DB struct {
	catalogs map[string]*Catalog
}

// NewDB returns an empty Catalog DB.
func NewDB() *DB {
	return &DB{catalogs: make(map[string]*Catalog)}
}

// Load parses the catalog YAML file at path, indexes it, and records
// it under name. Built once per session and retained until session
// end, per the Catalog DB's stated lifetime.
func (db *DB) Load(name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("catalog: reading %s: %w", path, err)
	}

	var items []Pkginfo
	if err := yaml.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("catalog: parsing %s: %w", path, err)
	}

	db.catalogs[name] = buildCatalog(name, items)
	logging.Info("Loaded catalog", "name", name, "items", len(items))
	return nil
}

func buildCatalog(name string, items []Pkginfo) *Catalog {
	c := &Catalog{
		Name:            name,
		Items:           items,
		named:           make(map[string]map[string][]int),
		receipts:        make(map[string]map[string][]int),
		autoremoveItems: make(map[string]bool),
	}

	for i, it := range items {
		if c.named[it.Name] == nil {
			c.named[it.Name] = make(map[string][]int)
		}
		c.named[it.Name][it.Version] = append(c.named[it.Name][it.Version], i)

		for _, r := range it.Receipts {
			if c.receipts[r.PackageID] == nil {
				c.receipts[r.PackageID] = make(map[string][]int)
			}
			c.receipts[r.PackageID][r.Version] = append(c.receipts[r.PackageID][r.Version], i)
		}

		if len(it.UpdateForList()) > 0 {
			c.updaters = append(c.updaters, i)
		}

		if it.Autoremove {
			c.autoremoveItems[it.Name] = true
		}
	}

	return c
}

// catalogsInOrder returns the requested catalogs, skipping any not
// loaded, preserving manifest-declared order.
func (db *DB) catalogsInOrder(catalogList []string) []*Catalog {
	var out []*Catalog
	for _, name := range catalogList {
		if c, ok := db.catalogs[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// SplitNameVersion parses "name-version" or "name--version", splitting
// only on the last hyphen, preferring "--" when present.
func SplitNameVersion(ref string) (name, requestedVersion string) {
	if idx := strings.LastIndex(ref, "--"); idx >= 0 {
		return ref[:idx], ref[idx+2:]
	}
	if idx := strings.LastIndex(ref, "-"); idx >= 0 {
		return ref[:idx], ref[idx+1:]
	}
	return ref, ""
}

// ItemDetailOptions configures ItemDetail's applicability filtering.
type ItemDetailOptions struct {
	Version              string
	SkipMinimumOSCheck   bool
	SuppressWarnings     bool
}

// ItemDetail returns the single applicability-filtered pkginfo for
// nameRef (which may embed a version as "name-version"), searching
// catalogList in order and, within each catalog, newest-version-first.
func (db *DB) ItemDetail(nameRef string, catalogList []string, opts ItemDetailOptions, facts predicate.Facts) *Pkginfo {
	name, embeddedVersion := SplitNameVersion(nameRef)
	requestedVersion := opts.Version
	if requestedVersion == "" {
		requestedVersion = embeddedVersion
	}

	var rejections []string

	for _, c := range db.catalogsInOrder(catalogList) {
		versions, ok := c.named[name]
		if !ok {
			continue
		}

		candidateVersions := make([]string, 0, len(versions))
		for v := range versions {
			candidateVersions = append(candidateVersions, v)
		}
		sort.Slice(candidateVersions, func(i, j int) bool {
			return version.Compare(candidateVersions[i], candidateVersions[j]) > 0
		})

		for _, v := range candidateVersions {
			if requestedVersion != "" && v != requestedVersion {
				continue
			}
			for _, idx := range versions[v] {
				item := &c.Items[idx]
				if reason, ok := db.applicable(item, opts, facts); !ok {
					rejections = append(rejections, fmt.Sprintf("%s-%s: %s", item.Name, item.Version, reason))
					continue
				}
				return item
			}
		}
	}

	if !opts.SuppressWarnings && len(rejections) > 0 {
		logging.Warn("No applicable pkginfo found", "name", nameRef, "rejections", rejections)
	}
	return nil
}

// applicable runs the four-stage applicability filter: agent-version
// floor, OS-version bounds, supported architectures, and the
// installable_condition predicate.
func (db *DB) applicable(item *Pkginfo, opts ItemDetailOptions, facts predicate.Facts) (string, bool) {
	if item.MinimumAgentVersion != "" {
		agentVersion, _ := facts["munki_version"].(string)
		if version.Compare(agentVersion, item.MinimumAgentVersion) < 0 {
			return "requires newer agent version", false
		}
	}

	if !opts.SkipMinimumOSCheck {
		osVers, _ := facts["os_vers"].(string)
		if item.MinimumOSVersion != "" && version.Compare(osVers, item.MinimumOSVersion) < 0 {
			return "requires newer OS version", false
		}
		if item.MaximumOSVersion != "" && version.Compare(osVers, item.MaximumOSVersion) > 0 {
			return "requires older OS version", false
		}
	}

	if len(item.SupportedArchitectures) > 0 {
		arch, _ := facts["arch"].(string)
		x8664Capable, _ := facts["x86_64_capable"].(bool)
		matched := false
		for _, supported := range item.SupportedArchitectures {
			if supported == arch {
				matched = true
				break
			}
			// x86_64 matches a 64-bit-capable i386 host.
			if supported == "x86_64" && arch == "i386" && x8664Capable {
				matched = true
				break
			}
		}
		if !matched {
			return "unsupported architecture", false
		}
	}

	if item.InstallableCondition != "" {
		ok, err := predicate.Eval(item.InstallableCondition, facts)
		if err != nil {
			logging.Warn("installable_condition evaluation error, treating as false", "item", item.Name, "error", err)
			return "installable_condition evaluation error", false
		}
		if !ok {
			return "installable_condition is false", false
		}
	}

	return "", true
}

// AllItemsWithName returns every pkginfo named name across catalogList,
// sorted newest-version-first.
func (db *DB) AllItemsWithName(name string, catalogList []string) []*Pkginfo {
	var out []*Pkginfo
	for _, c := range db.catalogsInOrder(catalogList) {
		versions, ok := c.named[name]
		if !ok {
			continue
		}
		vs := make([]string, 0, len(versions))
		for v := range versions {
			vs = append(vs, v)
		}
		sort.Slice(vs, func(i, j int) bool { return version.Compare(vs[i], vs[j]) > 0 })
		for _, v := range vs {
			for _, idx := range versions[v] {
				out = append(out, &c.Items[idx])
			}
		}
	}
	return out
}

// AllItems returns every pkginfo across catalogList, regardless of
// name, for scans that must consider the whole set (reverse-dependency
// walks, receipt-ownership checks).
func (db *DB) AllItems(catalogList []string) []*Pkginfo {
	var out []*Pkginfo
	for _, c := range db.catalogsInOrder(catalogList) {
		for i := range c.Items {
			out = append(out, &c.Items[i])
		}
	}
	return out
}

// UpdatesFor scans the updaters list for pkginfos whose update_for
// contains itemRef, itemRef-version, or itemRef--version.
func (db *DB) UpdatesFor(itemRef string, catalogList []string) []string {
	name, requestedVersion := SplitNameVersion(itemRef)
	var out []string
	for _, c := range db.catalogsInOrder(catalogList) {
		for _, idx := range c.updaters {
			item := &c.Items[idx]
			for _, target := range item.UpdateForList() {
				targetName, targetVersion := SplitNameVersion(target)
				if targetName != name {
					if target == itemRef {
						out = append(out, item.Name)
					}
					continue
				}
				if targetVersion == "" || requestedVersion == "" || targetVersion == requestedVersion {
					out = append(out, item.Name)
				}
			}
		}
	}
	return out
}

// AutoRemovalItems returns the union of autoremove-flagged names across
// catalogList.
func (db *DB) AutoRemovalItems(catalogList []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range db.catalogsInOrder(catalogList) {
		for name := range c.autoremoveItems {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// ReceiptOwner returns the pkginfo whose receipts claim packageid at
// version, if any catalog in catalogList indexes it.
func (db *DB) ReceiptOwner(packageid, pkgVersion string, catalogList []string) *Pkginfo {
	for _, c := range db.catalogsInOrder(catalogList) {
		versions, ok := c.receipts[packageid]
		if !ok {
			continue
		}
		if indices, ok := versions[pkgVersion]; ok && len(indices) > 0 {
			return &c.Items[indices[0]]
		}
	}
	return nil
}

// LoadAll loads every catalog named in catalogList from dir/<name>.yaml.
func (db *DB) LoadAll(dir string, catalogList []string) error {
	for _, name := range catalogList {
		path := filepath.Join(dir, name+".yaml")
		if err := db.Load(name, path); err != nil {
			return err
		}
	}
	return nil
}
