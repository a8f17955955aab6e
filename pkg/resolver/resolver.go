// Package resolver implements the Dependency Resolver (C8): the five
// section-processors that walk a manifest's declared sections against
// the Catalog DB and the Installation-State Evaluator, building an
// InstallInfo action plan. This is the heart of the update-check
// pipeline — everything else (fetcher, catalog, installstate) exists
// to serve it.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fleetupdate/agent/pkg/catalog"
	"github.com/fleetupdate/agent/pkg/installstate"
	"github.com/fleetupdate/agent/pkg/logging"
	"github.com/fleetupdate/agent/pkg/predicate"
	"github.com/fleetupdate/agent/pkg/reporter"
	"github.com/fleetupdate/agent/pkg/version"
)

// deprecatedUninstallMethods can no longer be honored; processRemoval
// refuses them with a warning instead of attempting best-effort removal.
var deprecatedUninstallMethods = map[string]bool{
	"remove_app":     true,
	"remove_profile": true,
}

func isDeprecatedUninstallMethod(method string) bool {
	if deprecatedUninstallMethods[method] {
		return true
	}
	return strings.HasPrefix(method, "Adobe")
}

var supportedUninstallMethods = map[string]bool{
	"removepackages":      true,
	"remove_copied_items": true,
	"uninstall_script":    true,
	"uninstall_package":   true,
}

// InstallItemProjection is one entry of InstallInfo.managed_installs,
// InstallInfo.removals, InstallInfo.optional_installs, or
// InstallInfo.problem_items.
type InstallItemProjection struct {
	Name                 string `yaml:"name"`
	DisplayName          string `yaml:"display_name,omitempty"`
	Description          string `yaml:"description,omitempty"`
	VersionToInstall     string `yaml:"version_to_install,omitempty"`
	InstallerItem        string `yaml:"installer_item,omitempty"`
	InstallerItemSize    int64  `yaml:"installer_item_size,omitempty"`
	InstalledSize        int64  `yaml:"installed_size,omitempty"`
	Installed            bool   `yaml:"installed"`
	InstalledVersion     string `yaml:"installed_version,omitempty"`
	RestartAction        string `yaml:"RestartAction,omitempty"`
	UnattendedInstall    bool   `yaml:"unattended_install,omitempty"`
	UnattendedUninstall  bool   `yaml:"unattended_uninstall,omitempty"`
	InstallerType        string `yaml:"installer_type,omitempty"`
	UninstallerItem      string `yaml:"uninstaller_item,omitempty"`
	BlockingApplications []string `yaml:"blocking_applications,omitempty"`
	PreinstallScript     string `yaml:"preinstall_script,omitempty"`
	PostinstallScript    string `yaml:"postinstall_script,omitempty"`
	ForceInstallAfterDate string `yaml:"force_install_after_date,omitempty"`
	Note                 string `yaml:"note,omitempty"`
	DependenciesMet      bool   `yaml:"dependencies_met"`
	AppleItem            bool   `yaml:"apple_item,omitempty"`
	Featured             bool   `yaml:"featured,omitempty"`
	Category             string `yaml:"category,omitempty"`
	Developer            string `yaml:"developer,omitempty"`
	IconName             string `yaml:"icon_name,omitempty"`
	Precache             bool   `yaml:"precache,omitempty"`
	NeedsUpdate          bool   `yaml:"needs_update,omitempty"`
	UpdateAvailable      bool   `yaml:"update_available,omitempty"`
	LicensedSeatInfoAvailable bool `yaml:"licensed_seat_info_available,omitempty"`
	LicensedSeatsAvailable    bool `yaml:"licensed_seats_available,omitempty"`
}

// InstallInfo is the resolver's sole output contract with the
// installer stage.
type InstallInfo struct {
	ManagedInstalls    []InstallItemProjection `yaml:"managed_installs"`
	Removals           []InstallItemProjection `yaml:"removals"`
	OptionalInstalls   []InstallItemProjection `yaml:"optional_installs"`
	ManagedUpdates     []string                `yaml:"managed_updates"`
	FeaturedItems      []string                `yaml:"featured_items"`
	ProblemItems       []InstallItemProjection `yaml:"problem_items"`
	ProcessedInstalls  []string                `yaml:"processed_installs"`
	ProcessedUninstalls []string               `yaml:"processed_uninstalls"`
}

// Fetcher is the narrow slice of pkg/fetcher the resolver needs for
// package downloads; kept as an interface so tests can fake it.
type Fetcher interface {
	FetchPackage(pkg *catalog.Pkginfo) (didDownload bool, err error)
}

// Host is the narrow slice of host facts / installed-package state the
// resolver and C6 need.
type Host = installstate.Host

// Resolver walks manifest sections against a Catalog DB, producing an
// InstallInfo. One Resolver instance is scoped to a single session;
// processed_installs/processed_uninstalls live only as long as it does.
type Resolver struct {
	DB       *catalog.DB
	Host     Host
	Fetcher  Fetcher
	Facts    predicate.Facts
	Reporter reporter.Reporter

	ShowOptionalInstallsForHigherOSVersions bool

	installInfo      InstallInfo
	processedInstall map[string]bool // name (lowercased) -> true
	processedRemoval map[string]bool
	defaultInstalls  map[string]bool // names seeded via processDefaultInstall

	diskSpace DiskSpaceChecker
}

// DiskSpaceChecker abstracts the C9 disk-space feasibility check so
// the resolver doesn't need to know about the cache directory layout.
type DiskSpaceChecker interface {
	EnoughSpaceFor(pkg *catalog.Pkginfo, precaching bool) bool
}

// New creates a Resolver ready to process a manifest's sections.
func New(db *catalog.DB, host Host, f Fetcher, facts predicate.Facts, rep reporter.Reporter, disk DiskSpaceChecker) *Resolver {
	return &Resolver{
		DB:        db,
		Host:      host,
		Fetcher:   f,
		Facts:     facts,
		Reporter:  rep,
		diskSpace: disk,
		processedInstall: make(map[string]bool),
		processedRemoval: make(map[string]bool),
		defaultInstalls:  make(map[string]bool),
	}
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Result finalizes the processed-item memo lists into InstallInfo and
// returns the accumulated result.
func (r *Resolver) Result() *InstallInfo {
	r.installInfo.ProcessedInstalls = sortedKeys(r.processedInstall)
	r.installInfo.ProcessedUninstalls = sortedKeys(r.processedRemoval)
	return &r.installInfo
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ProcessManifestInstalls runs processInstall over every entry of a
// manifest's managed_installs section.
func (r *Resolver) ProcessManifestInstalls(items []string, catalogList []string) {
	for _, item := range items {
		r.processInstall(item, catalogList, false, false)
	}
}

// ProcessManifestRemovals runs processRemoval over every entry of a
// manifest's managed_uninstalls section.
func (r *Resolver) ProcessManifestRemovals(items []string, catalogList []string) {
	for _, item := range items {
		r.processRemoval(item, catalogList)
	}
}

// ProcessManagedUpdates runs processManagedUpdate over every entry of
// a manifest's managed_updates section.
func (r *Resolver) ProcessManagedUpdates(items []string, catalogList []string) {
	for _, item := range items {
		r.processManagedUpdate(item, catalogList)
	}
}

// ProcessOptionalInstalls runs processOptionalInstall over every entry
// of a manifest's optional_installs section, annotating FeaturedItems
// membership from the featured-items list.
func (r *Resolver) ProcessOptionalInstalls(items []string, catalogList []string, featured []string) {
	featuredSet := make(map[string]bool, len(featured))
	for _, f := range featured {
		name, _ := catalog.SplitNameVersion(f)
		featuredSet[key(name)] = true
	}
	for _, item := range items {
		r.processOptionalInstall(item, catalogList, featuredSet)
	}
	r.installInfo.FeaturedItems = featured
}

// ProcessDefaultInstalls runs processDefaultInstall over every entry
// of a manifest's default_installs section.
func (r *Resolver) ProcessDefaultInstalls(items []string, catalogList []string) {
	for _, item := range items {
		r.processDefaultInstall(item, catalogList)
	}
}

// ExpandAutoremoval runs autoRemovalItems and processRemoval's the
// remainder after installs/removals have already been processed.
func (r *Resolver) ExpandAutoremoval(catalogList []string) {
	for _, name := range r.DB.AutoRemovalItems(catalogList) {
		k := key(name)
		if r.processedInstall[k] || r.processedRemoval[k] {
			continue
		}
		if r.itemInProjections(r.installInfo.ManagedInstalls, name) {
			continue
		}
		r.processRemoval(name, catalogList)
	}
}

func (r *Resolver) itemInProjections(list []InstallItemProjection, name string) bool {
	for _, p := range list {
		if key(p.Name) == key(name) {
			return true
		}
	}
	return false
}

// itemInInstallInfo is the version-aware variant (Open Question #1
// decision): present with a version equal-or-higher than requested
// counts as already planned; a strictly older entry does not block a
// newer request from proceeding.
func (r *Resolver) itemInInstallInfo(name, requestedVersion string) bool {
	for _, p := range r.installInfo.ManagedInstalls {
		if key(p.Name) != key(name) {
			continue
		}
		if requestedVersion == "" {
			return true
		}
		if version.Compare(p.VersionToInstall, requestedVersion) >= 0 {
			return true
		}
	}
	return false
}

// processInstall implements spec.md §4.8's install-section processor.
func (r *Resolver) processInstall(manifestItem string, catalogList []string, isManagedUpdate, isOptionalInstall bool) bool {
	name, includedVersion := catalog.SplitNameVersion(manifestItem)
	k := key(name)

	if r.processedInstall[k] {
		return true
	}
	if r.processedRemoval[k] {
		logging.Warn("cannot install item already scheduled for removal", "item", name)
		return false
	}

	opts := catalog.ItemDetailOptions{Version: includedVersion}
	pkg := r.DB.ItemDetail(manifestItem, catalogList, opts, r.Facts)
	if pkg == nil {
		logging.Warn("no pkginfo found for manifest item", "item", manifestItem)
		r.Reporter.Warning(fmt.Sprintf("Could not find an applicable item for %s", manifestItem))
		return false
	}

	if r.itemInInstallInfo(pkg.Name, pkg.Version) {
		return true
	}

	dependenciesMet := true
	for _, req := range pkg.Requires {
		if !r.processInstall(req, catalogList, false, false) {
			dependenciesMet = false
		}
	}

	state := installstate.Evaluate(pkg, r.Host)
	inferAppleItem(pkg)

	switch state {
	case installstate.ThisVersionNotInstalled:
		if !dependenciesMet {
			r.installInfo.ProblemItems = append(r.installInfo.ProblemItems, InstallItemProjection{
				Name:             pkg.Name,
				DisplayName:      pkg.DisplayName,
				VersionToInstall: pkg.Version,
				Note:             "could not verify all other items it requires are or will be installed",
				DependenciesMet:  false,
			})
			return false
		}
		if r.diskSpace != nil && !r.diskSpace.EnoughSpaceFor(pkg, false) {
			r.installInfo.ProblemItems = append(r.installInfo.ProblemItems, InstallItemProjection{
				Name:             pkg.Name,
				DisplayName:      pkg.DisplayName,
				VersionToInstall: pkg.Version,
				Note:             "Insufficient disk space",
				DependenciesMet:  true,
			})
			return false
		}
		didDownload, err := r.Fetcher.FetchPackage(pkg)
		_ = didDownload
		if err != nil {
			r.installInfo.ProblemItems = append(r.installInfo.ProblemItems, InstallItemProjection{
				Name:             pkg.Name,
				DisplayName:      pkg.DisplayName,
				VersionToInstall: pkg.Version,
				Note:             fmt.Sprintf("download failed: %v", err),
				DependenciesMet:  true,
			})
			return false
		}
		proj := r.buildInstallProjection(pkg, dependenciesMet)
		proj.Installed = false
		r.installInfo.ManagedInstalls = append(r.installInfo.ManagedInstalls, proj)

	case installstate.ThisVersionInstalled, installstate.NewerVersionInstalled:
		proj := r.buildInstallProjection(pkg, dependenciesMet)
		proj.Installed = true
		proj.InstalledVersion = pkg.Version
		r.installInfo.ManagedInstalls = append(r.installInfo.ManagedInstalls, proj)
	}

	if pkg.UnattendedInstall && pkg.RestartAction != "" && pkg.RestartAction != "None" {
		logging.Warn("ignoring unattended_install: RestartAction is set", "item", pkg.Name, "restart_action", pkg.RestartAction)
	}

	for _, updater := range r.findUpdaters(pkg, state, catalogList) {
		r.processInstall(updater, catalogList, false, isOptionalInstall)
	}

	if !isManagedUpdate {
		r.processedInstall[k] = true
	}

	return true
}

func (r *Resolver) findUpdaters(pkg *catalog.Pkginfo, state installstate.State, catalogList []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(names []string) {
		for _, n := range names {
			nk := key(n)
			if !seen[nk] {
				seen[nk] = true
				out = append(out, n)
			}
		}
	}
	add(r.DB.UpdatesFor(pkg.Name, catalogList))
	ref := pkg.Name + "-" + pkg.Version
	add(r.DB.UpdatesFor(ref, catalogList))
	return out
}

func (r *Resolver) buildInstallProjection(pkg *catalog.Pkginfo, dependenciesMet bool) InstallItemProjection {
	return InstallItemProjection{
		Name:                  pkg.Name,
		DisplayName:           pkg.DisplayName,
		Description:           pkg.Description,
		VersionToInstall:      pkg.Version,
		InstallerItem:         pkg.InstallerItemLocation,
		InstallerItemSize:     pkg.InstallerItemSize,
		InstalledSize:         pkg.InstalledSize,
		RestartAction:         pkg.RestartAction,
		UnattendedInstall:     pkg.UnattendedInstall,
		InstallerType:         pkg.InstallerType,
		BlockingApplications:  pkg.BlockingApps,
		PreinstallScript:      pkg.PreinstallScript,
		PostinstallScript:     pkg.PostinstallScript,
		ForceInstallAfterDate: pkg.ForceInstallAfterDate,
		DependenciesMet:       dependenciesMet,
		AppleItem:             pkg.AppleItem != nil && *pkg.AppleItem,
	}
}

// inferAppleItem sets pkg.AppleItem when the admin left it unset, per
// spec.md §4.8's apple_item inference rule.
func inferAppleItem(pkg *catalog.Pkginfo) {
	if pkg.AppleItem != nil {
		return
	}
	apple := false
	for _, r := range pkg.Receipts {
		if strings.HasPrefix(r.PackageID, "com.apple.") {
			apple = true
			break
		}
	}
	if !apple {
		for _, item := range pkg.Installs {
			if strings.HasPrefix(item.CFBundleIdentifier, "com.apple.") {
				apple = true
				break
			}
		}
	}
	if !apple && pkg.InstallerType == "startosinstall" {
		apple = true
	}
	pkg.AppleItem = &apple
}

// processRemoval implements spec.md §4.8's removal-section processor.
func (r *Resolver) processRemoval(manifestItem string, catalogList []string) bool {
	name, requestedVersion := catalog.SplitNameVersion(manifestItem)
	k := key(name)

	if r.processedInstall[k] {
		logging.Warn("refusing to remove item already scheduled for install", "item", name)
		return false
	}
	if r.processedRemoval[k] {
		return true
	}
	r.processedRemoval[k] = true

	var candidates []*catalog.Pkginfo
	if requestedVersion != "" {
		opts := catalog.ItemDetailOptions{Version: requestedVersion, SuppressWarnings: true}
		if pkg := r.DB.ItemDetail(manifestItem, catalogList, opts, r.Facts); pkg != nil {
			candidates = []*catalog.Pkginfo{pkg}
		}
	} else {
		candidates = r.DB.AllItemsWithName(name, catalogList)
	}

	var target *catalog.Pkginfo
	for _, c := range candidates {
		if installstate.EvidenceThisIsInstalled(c, r.Host) {
			target = c
			break
		}
	}
	if target == nil {
		logging.Debug("no installed version found to remove", "item", name)
		return true
	}

	if !target.Uninstallable {
		logging.Warn("item is not marked uninstallable", "item", target.Name)
		r.installInfo.ProblemItems = append(r.installInfo.ProblemItems, InstallItemProjection{
			Name: target.Name,
			Note: "not uninstallable",
		})
		return false
	}

	method := target.UninstallMethod
	if isDeprecatedUninstallMethod(method) {
		logging.Warn("deprecated uninstall_method", "item", target.Name, "method", method)
		return false
	}
	if method != "" && !supportedUninstallMethods[method] && !strings.HasPrefix(method, "/") {
		logging.Warn("unsupported uninstall_method", "item", target.Name, "method", method)
		return false
	}

	for _, other := range r.DB.AllItems(catalogList) {
		if requires(other, target.Name) && installstate.EvidenceThisIsInstalled(other, r.Host) {
			if !r.processRemoval(other.Name, catalogList) {
				return false
			}
		}
	}

	if method == "removepackages" {
		owned := r.uniquelyOwnedReceipts(target, catalogList)
		if len(owned) == 0 {
			logging.Warn("refusing removal: no uniquely-owned receipts", "item", target.Name)
			return false
		}
	}

	var uninstallerItem string
	if method == "uninstall_package" {
		didDownload, err := r.Fetcher.FetchPackage(target)
		_ = didDownload
		if err != nil {
			logging.Warn("failed to fetch uninstaller payload", "item", target.Name, "error", err)
			return false
		}
		uninstallerItem = target.InstallerItemLocation
	}

	for _, updaterName := range r.DB.UpdatesFor(target.Name, catalogList) {
		r.processRemoval(updaterName, catalogList)
	}

	r.installInfo.Removals = append(r.installInfo.Removals, InstallItemProjection{
		Name:                target.Name,
		DisplayName:         target.DisplayName,
		VersionToInstall:    target.Version,
		UninstallerItem:     uninstallerItem,
		UnattendedUninstall: target.UnattendedUninstall,
		InstallerType:       target.InstallerType,
	})
	return true
}

func requires(pkg *catalog.Pkginfo, name string) bool {
	for _, req := range pkg.Requires {
		reqName, _ := catalog.SplitNameVersion(req)
		if key(reqName) == key(name) {
			return true
		}
	}
	return false
}

// uniquelyOwnedReceipts returns the receipts of target not shared by
// any other installed item's receipt list (analyzeInstalledPkgs).
func (r *Resolver) uniquelyOwnedReceipts(target *catalog.Pkginfo, catalogList []string) []catalog.Receipt {
	var owned []catalog.Receipt
	for _, recv := range target.Receipts {
		shared := false
		for _, other := range r.DB.AllItems(catalogList) {
			if key(other.Name) == key(target.Name) {
				continue
			}
			if !installstate.EvidenceThisIsInstalled(other, r.Host) {
				continue
			}
			for _, or := range other.Receipts {
				if or.PackageID == recv.PackageID {
					shared = true
					break
				}
			}
			if shared {
				break
			}
		}
		if !shared {
			owned = append(owned, recv)
		}
	}
	return owned
}

// processManagedUpdate implements spec.md §4.8's managed_updates
// processor: acts only if some version is already present.
func (r *Resolver) processManagedUpdate(manifestItem string, catalogList []string) {
	name, _ := catalog.SplitNameVersion(manifestItem)
	opts := catalog.ItemDetailOptions{SuppressWarnings: true}
	pkg := r.DB.ItemDetail(manifestItem, catalogList, opts, r.Facts)
	if pkg == nil {
		logging.Debug("managed_updates: no pkginfo found", "item", name)
		return
	}
	if !installstate.SomeVersionInstalled(pkg, r.Host) {
		logging.Debug("managed_updates: no version installed, skipping", "item", name)
		return
	}
	r.processInstall(manifestItem, catalogList, true, false)
}

// processOptionalInstall implements spec.md §4.8's optional-installs
// processor: a catalog-browser projection, never auto-added to
// managed_installs/removals.
func (r *Resolver) processOptionalInstall(manifestItem string, catalogList []string, featured map[string]bool) {
	name, _ := catalog.SplitNameVersion(manifestItem)
	opts := catalog.ItemDetailOptions{SuppressWarnings: true}
	pkg := r.DB.ItemDetail(manifestItem, catalogList, opts, r.Facts)

	note := ""
	updateAvailable := false
	if pkg == nil && r.ShowOptionalInstallsForHigherOSVersions {
		highOpts := catalog.ItemDetailOptions{SkipMinimumOSCheck: true, SuppressWarnings: true}
		if alt := r.DB.ItemDetail(manifestItem, catalogList, highOpts, r.Facts); alt != nil {
			pkg = alt
			note = fmt.Sprintf("Requires macOS version %s.", alt.MinimumOSVersion)
			updateAvailable = true
		}
	}
	if pkg == nil {
		logging.Warn("optional_installs: no applicable pkginfo", "item", name)
		return
	}

	needsUpdate := false
	if pkg.InstallerType == "stage_os_installer" {
		needsUpdate = installstate.Evaluate(pkg, r.Host) == installstate.ThisVersionNotInstalled
	} else {
		needsUpdate = installstate.Evaluate(pkg, r.Host) != installstate.ThisVersionInstalled
	}

	proj := InstallItemProjection{
		Name:                      pkg.Name,
		DisplayName:               pkg.DisplayName,
		Description:               pkg.Description,
		VersionToInstall:          pkg.Version,
		InstallerItemSize:         pkg.InstallerItemSize,
		InstalledSize:             pkg.InstalledSize,
		Category:                  pkg.Category,
		Developer:                 pkg.Developer,
		IconName:                  pkg.IconName,
		Featured:                  featured[key(pkg.Name)],
		Precache:                  pkg.Precache,
		NeedsUpdate:               needsUpdate,
		UpdateAvailable:           updateAvailable,
		Note:                      note,
		LicensedSeatInfoAvailable: false,
	}

	if r.diskSpace != nil && needsUpdate && !r.diskSpace.EnoughSpaceFor(pkg, pkg.Precache) {
		if proj.Note == "" {
			proj.Note = "Insufficient disk space"
		}
	}

	r.installInfo.OptionalInstalls = append(r.installInfo.OptionalInstalls, proj)
}

// processDefaultInstall implements spec.md §4.8's default-installs
// processor.
func (r *Resolver) processDefaultInstall(manifestItem string, catalogList []string) {
	name, _ := catalog.SplitNameVersion(manifestItem)
	k := key(name)
	if r.defaultInstalls[k] {
		return
	}
	r.defaultInstalls[k] = true

	if !r.itemInInstallInfo(name, "") {
		r.processInstall(manifestItem, catalogList, false, false)
	}
}
