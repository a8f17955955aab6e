// Package session implements the Session Controller (C10): the
// 13-step pipeline that drives one update-check run end to end,
// wiring together every other package the way the teacher's
// cmd/managedsoftwareupdate main loop wires its Windows equivalents.
package session

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetupdate/agent/pkg/cache"
	"github.com/fleetupdate/agent/pkg/catalog"
	"github.com/fleetupdate/agent/pkg/config"
	"github.com/fleetupdate/agent/pkg/fetcher"
	"github.com/fleetupdate/agent/pkg/filter"
	"github.com/fleetupdate/agent/pkg/hostfacts"
	"github.com/fleetupdate/agent/pkg/logging"
	"github.com/fleetupdate/agent/pkg/manifest"
	"github.com/fleetupdate/agent/pkg/notify"
	"github.com/fleetupdate/agent/pkg/predicate"
	"github.com/fleetupdate/agent/pkg/report"
	"github.com/fleetupdate/agent/pkg/reporter"
	"github.com/fleetupdate/agent/pkg/resolver"
	"github.com/fleetupdate/agent/pkg/selfservice"
	"github.com/fleetupdate/agent/pkg/sentinel"
)

// Controller drives one session. Construct with New, then call Run.
type Controller struct {
	Config   *config.Configuration
	Reporter reporter.Reporter
	Filter   *filter.ItemFilter // optional; restricts processing to --item names

	db       *catalog.DB
	fetch    *fetcher.Fetcher
	cacheMgr *cache.Manager
	notify   *notify.Center
}

// New assembles a Controller from configuration, building the
// fetcher and cache manager it will reuse across the run.
func New(cfg *config.Configuration, rep reporter.Reporter) (*Controller, error) {
	repoURL, err := AutoDetectRepoURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("session: resolving repo URL: %w", err)
	}
	cfg.SoftwareRepoURL = repoURL

	f := fetcher.New(repoURL)
	cacheMgr, err := cache.NewManager(cfg.CachePath, f, cfg.LicenseInfoURL)
	if err != nil {
		return nil, fmt.Errorf("session: creating cache manager: %w", err)
	}

	center, err := notify.NewCenter()
	if err != nil {
		logging.Warn("session: distributed-notification center unavailable", "error", err)
		center = nil
	}

	return &Controller{
		Config:   cfg,
		Reporter: rep,
		db:       catalog.NewDB(),
		fetch:    f,
		cacheMgr: cacheMgr,
		notify:   center,
	}, nil
}

func (c *Controller) post(msg notify.Message) {
	if c.notify != nil {
		c.notify.Post(msg)
	}
}

// AutoDetectRepoURL implements step 1: use the configured
// SoftwareRepoURL if set, otherwise probe https://munki.<search-domain>/repo
// and its http variant, falling back to the insecure default if
// neither the search domain nor a probe succeeds.
func AutoDetectRepoURL(cfg *config.Configuration) (string, error) {
	if cfg.SoftwareRepoURL != "" {
		return cfg.SoftwareRepoURL, nil
	}

	domain, err := searchDomain()
	if err == nil && domain != "" {
		for _, candidate := range []string{
			"https://munki." + domain + "/repo",
			"http://munki." + domain + "/repo",
		} {
			if probeRepoURL(candidate) {
				return candidate, nil
			}
		}
	}

	logging.Warn("session: could not auto-detect a repo URL, falling back to insecure default")
	return "http://munki/repo", nil
}

func searchDomain() (string, error) {
	out, err := exec.Command("/usr/sbin/scutil", "--dns").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "search domain") {
			if idx := strings.LastIndex(line, ":"); idx >= 0 {
				return strings.TrimSpace(line[idx+1:]), nil
			}
		}
	}
	return "", fmt.Errorf("session: no search domain found")
}

func probeRepoURL(base string) bool {
	url := strings.TrimRight(base, "/") + "/catalogs/"
	client := fetcherHTTPClient()
	resp, err := client.Head(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// factsHost adapts *hostfacts.Facts to the narrow installstate.Host /
// resolver.Host interface.
type factsHost struct{ facts *hostfacts.Facts }

func (h factsHost) InstalledPackages() map[string]string { return h.facts.InstalledPackages }
func (h factsHost) OSVersion() string                    { return h.facts.OSVersion }
func (h factsHost) InstallItemVersion(item catalog.InstallItem) (string, bool) {
	return h.facts.InstallItemVersion(item)
}

// Run executes the full 13-step pipeline and returns the resolved
// InstallInfo plus the session's Report.
func (c *Controller) Run() (*resolver.InstallInfo, *report.Report, error) {
	facts := hostfacts.Collect(fmt.Sprintf("%d", time.Now().Year()))
	facts.SetCatalogs(c.Config.Catalogs)

	rpt := report.New("", machineFactsMap(facts))
	defer rpt.Finish()

	c.post(notify.Message{Event: notify.EventStarted})
	defer func() {
		c.post(notify.Message{Event: notify.EventEnded})
		if c.notify != nil {
			c.notify.Close()
		}
	}()

	// Step 4 is woven through every step below via checkStop.
	if checkStop(rpt) {
		return nil, rpt, nil
	}

	// Step 3: retrieve the primary manifest.
	retriever := &manifest.Retriever{
		Fetcher:       c.fetch,
		LocalDir:      c.Config.ManifestsPath,
		HostnameFull:  hostnameFull(facts),
		HostnameShort: hostnameShort(facts),
		SerialNumber:  facts.SerialNumber,
		ExplicitName:  c.Config.ClientIdentifier,
	}
	primaryName, err := retriever.ResolvePrimaryName()
	if err != nil {
		rpt.AddError(err.Error())
		return nil, rpt, fmt.Errorf("session: resolving primary manifest: %w", err)
	}
	rpt.ManifestName = primaryName

	predicateFacts := facts.ToPredicateFacts(predicate.Facts{}, nil)
	mainManifest, err := retriever.Resolve(primaryName, predicateFacts)
	if err != nil {
		rpt.AddError(err.Error())
		return nil, rpt, fmt.Errorf("session: resolving manifest tree: %w", err)
	}

	if checkStop(rpt) {
		return nil, rpt, nil
	}

	// Step 5: stop any running precache agent before we touch the cache.
	stopPrecacheAgent()

	// Step 6: AC-only power assertion, held until Run returns.
	if release := acquirePowerAssertionIfOnAC(); release != nil {
		defer release()
	}

	catalogList := mainManifest.Catalogs
	if len(catalogList) == 0 {
		catalogList = c.Config.Catalogs
	}
	if err := c.loadCatalogs(catalogList); err != nil {
		rpt.AddError(err.Error())
		return nil, rpt, fmt.Errorf("session: loading catalogs: %w", err)
	}

	// Step 7: initialize an empty InstallInfo via the resolver.
	res := resolver.New(c.db, factsHost{facts: facts}, c.cacheMgr, predicateFacts, c.Reporter, c.cacheMgr)
	res.ShowOptionalInstallsForHigherOSVersions = c.Config.ShowOptionalInstallsForHigherOSVersions

	// Step 8: process manifest sections in order. A --item filter, if
	// set, narrows managed_installs/optional_installs to the named
	// items only (everything else still resolves normally so
	// dependency/update discovery for those items stays correct).
	managedInstalls := mainManifest.ManagedInstalls
	optionalInstalls := mainManifest.OptionalInstalls
	if c.Filter != nil && c.Filter.HasFilter() {
		managedInstalls = c.Filter.FilterManifestItems(managedInstalls)
		optionalInstalls = c.Filter.FilterManifestItems(optionalInstalls)
	}

	res.ProcessManifestInstalls(managedInstalls, catalogList)
	if checkStop(rpt) {
		return res.Result(), rpt, nil
	}

	res.ProcessManifestRemovals(mainManifest.ManagedUninstalls, catalogList)
	if checkStop(rpt) {
		return res.Result(), rpt, nil
	}

	res.ExpandAutoremoval(catalogList)

	res.ProcessManagedUpdates(mainManifest.ManagedUpdates, catalogList)
	if checkStop(rpt) {
		return res.Result(), rpt, nil
	}

	if c.Config.LocalOnlyManifest != "" {
		c.processLocalOnlyManifest(res, predicateFacts, catalogList)
	}

	res.ProcessOptionalInstalls(optionalInstalls, catalogList, mainManifest.FeaturedItems)
	if checkStop(rpt) {
		return res.Result(), rpt, nil
	}

	c.updateLicenseSeats(res.Result())

	c.fetchOptionalInstallIcons(res.Result())

	c.reconcileSelfServe(res, catalogList)

	res.ProcessDefaultInstalls(mainManifest.DefaultInstalls, catalogList)

	info := res.Result()

	// Step 9: partition managed_installs into actual work vs. problem
	// items (no installer_item means nothing to download/install).
	partitionNoInstallerItem(info)

	// Step 10: sort startosinstall items to the end, with a warning.
	sortStartOSInstallToEnd(info)

	rpt.RecordInstallInfo(info)

	// Step 11: write InstallInfo atomically, leaving the file untouched
	// when the new plan is byte-identical to the previous one.
	if err := c.writeInstallInfo(info); err != nil {
		logging.Warn("session: failed to write InstallInfo", "error", err)
	}

	// Step 12: clean up orphan cache entries.
	c.cleanupOrphans(info)

	// Step 13: start the precache agent back up.
	startPrecacheAgent()

	if len(info.ManagedInstalls)+len(info.Removals) > 0 {
		c.post(notify.Message{Event: notify.EventUpdatesChanged})
	}

	return info, rpt, nil
}

func checkStop(rpt *report.Report) bool {
	if sentinel.StopRequested() {
		rpt.AddWarning("stop requested, ending session early")
		logging.Info("session: stop requested, ending early")
		return true
	}
	return false
}

func (c *Controller) loadCatalogs(catalogList []string) error {
	for _, name := range catalogList {
		localPath := filepath.Join(c.Config.CatalogsPath, name+".yaml")
		url := c.fetch.URL(fetcher.KindCatalog, name)
		if _, err := c.fetch.Fetch(fetcher.KindCatalog, url, localPath, fmt.Sprintf("Fetching catalog %s", name), false, "", false); err != nil {
			return fmt.Errorf("fetching catalog %s: %w", name, err)
		}
		if err := c.db.Load(name, localPath); err != nil {
			return err
		}
	}
	return nil
}

// processLocalOnlyManifest folds an on-disk-only manifest's sections
// into the resolver's processing, for admin-managed items that never
// travel through the repo.
func (c *Controller) processLocalOnlyManifest(res *resolver.Resolver, facts predicate.Facts, catalogList []string) {
	data, err := manifestFromLocalPath(c.Config.LocalOnlyManifest)
	if err != nil {
		logging.Warn("session: could not read LocalOnlyManifest", "path", c.Config.LocalOnlyManifest, "error", err)
		return
	}
	res.ProcessManifestInstalls(data.ManagedInstalls, catalogList)
	res.ProcessManifestRemovals(data.ManagedUninstalls, catalogList)
}

func (c *Controller) updateLicenseSeats(info *resolver.InstallInfo) {
	if c.Config.LicenseInfoURL == "" {
		return
	}
	var names []string
	for _, item := range info.OptionalInstalls {
		if item.LicensedSeatInfoAvailable {
			names = append(names, item.Name)
		}
	}
	if len(names) == 0 {
		return
	}
	avail, err := c.cacheMgr.UpdateAvailableLicenseSeats(names)
	if err != nil {
		logging.Warn("session: license seat update failed", "error", err)
		return
	}
	for i := range info.OptionalInstalls {
		if seats, found := avail[info.OptionalInstalls[i].Name]; found {
			info.OptionalInstalls[i].LicensedSeatsAvailable = seats
		}
	}
}

// fetchOptionalInstallIcons populates the local icon cache for every
// item the self-serve catalog browser might display, so the browser
// never has to fetch on demand.
func (c *Controller) fetchOptionalInstallIcons(info *resolver.InstallInfo) {
	if len(info.OptionalInstalls) == 0 {
		return
	}
	available := c.cacheMgr.FetchIconHashes()
	requests := make([]cache.IconRequest, 0, len(info.OptionalInstalls))
	for _, item := range info.OptionalInstalls {
		requests = append(requests, cache.IconRequest{Name: item.Name, IconName: item.IconName})
	}
	c.cacheMgr.FetchIconsConcurrently(requests, available)
}

// reconcileSelfServe folds the user-writable self-service manifest's
// managed_installs/managed_uninstalls/default_installs into the
// resolver, the way a privileged validation step promotes user
// self-service choices into the session's plan.
func (c *Controller) reconcileSelfServe(res *resolver.Resolver, catalogList []string) {
	if c.Config.SkipSelfService {
		return
	}
	selfServe, err := selfservice.LoadSelfServiceManifest()
	if err != nil {
		logging.Warn("session: failed to load self-service manifest", "error", err)
		return
	}
	res.ProcessManifestInstalls(selfServe.ManagedInstalls, catalogList)
	res.ProcessManifestRemovals(selfServe.ManagedUninstalls, catalogList)
	res.ProcessDefaultInstalls(selfServe.DefaultInstalls, catalogList)
}

func partitionNoInstallerItem(info *resolver.InstallInfo) {
	var actual []resolver.InstallItemProjection
	for _, item := range info.ManagedInstalls {
		if item.InstallerItem == "" && !item.Installed {
			item.Note = "no installer item available"
			info.ProblemItems = append(info.ProblemItems, item)
			continue
		}
		actual = append(actual, item)
	}
	info.ManagedInstalls = actual
}

func sortStartOSInstallToEnd(info *resolver.InstallInfo) {
	var normal, osInstalls []resolver.InstallItemProjection
	for _, item := range info.ManagedInstalls {
		if item.InstallerType == "startosinstall" || item.InstallerType == "stage_os_installer" {
			logging.Warn("session: startosinstall/stage_os_installer items are unsupported in this core, deferring to end of plan", "name", item.Name)
			osInstalls = append(osInstalls, item)
			continue
		}
		normal = append(normal, item)
	}
	info.ManagedInstalls = append(normal, osInstalls...)
}

func (c *Controller) cleanupOrphans(info *resolver.InstallInfo) {
	var managedInstalls, removals, problemItems, precacheLocations []string
	for _, item := range info.ManagedInstalls {
		managedInstalls = append(managedInstalls, item.InstallerItem)
	}
	for _, item := range info.Removals {
		removals = append(removals, item.UninstallerItem)
	}
	for _, item := range info.ProblemItems {
		problemItems = append(problemItems, item.InstallerItem)
	}
	for _, item := range info.OptionalInstalls {
		if item.Precache {
			precacheLocations = append(precacheLocations, item.InstallerItem)
		}
	}
	keep := cache.NewReferencedSet(managedInstalls, removals, problemItems, precacheLocations)
	c.cacheMgr.CleanUpDownloadCache(keep)
}

// installInfoPath is the primary persisted artifact's location: the
// sole contract between the resolver and the (out-of-scope) installer
// stage.
const installInfoPath = "/Library/Managed Installs/InstallInfo.yaml"

// writeInstallInfo marshals info and writes it atomically (temp file
// plus rename) only when its bytes differ from what's already on
// disk, so an installer stage watching mtime doesn't see spurious
// no-op updates.
func (c *Controller) writeInstallInfo(info *resolver.InstallInfo) error {
	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshaling InstallInfo: %w", err)
	}

	if existing, err := os.ReadFile(installInfoPath); err == nil && bytes.Equal(existing, data) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(installInfoPath), 0755); err != nil {
		return fmt.Errorf("creating InstallInfo directory: %w", err)
	}
	tmp := installInfoPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp InstallInfo: %w", err)
	}
	return os.Rename(tmp, installInfoPath)
}

func hostnameFull(f *hostfacts.Facts) string { return f.Hostname }
func hostnameShort(f *hostfacts.Facts) string {
	if idx := strings.Index(f.Hostname, "."); idx >= 0 {
		return f.Hostname[:idx]
	}
	return f.Hostname
}

func machineFactsMap(f *hostfacts.Facts) map[string]interface{} {
	return map[string]interface{}{
		"os_version":    f.OSVersion,
		"arch":          f.Arch,
		"hostname":      f.Hostname,
		"serial_number": f.SerialNumber,
		"console_user":  f.ConsoleUser,
	}
}
