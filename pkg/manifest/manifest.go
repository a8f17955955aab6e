// Package manifest implements the Manifest Retriever (C7): primary-
// manifest resolution by hostname/short-hostname/serial/site_default,
// recursive included_manifests traversal with a visited set, and
// conditional_items merging against host facts.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/fleetupdate/agent/pkg/fetcher"
	"github.com/fleetupdate/agent/pkg/logging"
	"github.com/fleetupdate/agent/pkg/predicate"
)

// ConditionalItem is a nested sub-manifest gated by a predicate string,
// merged into the enclosing manifest in place when its condition
// evaluates true.
type ConditionalItem struct {
	Condition string `yaml:"condition"`
	Manifest  `yaml:",inline"`
}

// Manifest mirrors the section set spec.md §3 defines: each named-item
// list holds bare names or "name-version"/"name--version" entries.
type Manifest struct {
	Catalogs          []string          `yaml:"catalogs,omitempty"`
	IncludedManifests []string          `yaml:"included_manifests,omitempty"`
	ManagedInstalls   []string          `yaml:"managed_installs,omitempty"`
	ManagedUninstalls []string          `yaml:"managed_uninstalls,omitempty"`
	ManagedUpdates    []string          `yaml:"managed_updates,omitempty"`
	OptionalInstalls  []string          `yaml:"optional_installs,omitempty"`
	FeaturedItems     []string          `yaml:"featured_items,omitempty"`
	DefaultInstalls   []string          `yaml:"default_installs,omitempty"`
	ConditionalItems  []ConditionalItem `yaml:"conditional_items,omitempty"`
}

// Merge appends other's sections onto m in place, the way a true
// conditional_items branch's contents fold into the enclosing
// manifest. Named-item lists are concatenated (order matters: earlier
// entries win ties downstream); nested conditional_items are retained
// for later recursive evaluation.
func (m *Manifest) Merge(other Manifest) error {
	if err := mergo.Merge(m, other, mergo.WithAppendSlice); err != nil {
		return fmt.Errorf("manifest: merging conditional branch: %w", err)
	}
	return nil
}

// Retriever fetches and recursively resolves manifests.
type Retriever struct {
	Fetcher       *fetcher.Fetcher
	LocalDir      string
	HostnameFull  string
	HostnameShort string
	SerialNumber  string
	ExplicitName  string // ClientIdentifier override, if configured

	// cache holds each manifest's raw bytes keyed by name, populated the
	// first time it's fetched for the session so repeat lookups of the
	// same name (e.g. a manifest included from two different branches)
	// never re-fetch over the network.
	cache map[string][]byte
}

// ResolvePrimaryName determines the primary manifest's name: the
// configured ClientIdentifier if set, otherwise the first of
// hostname, short-hostname, serial number, "site_default" to fetch
// successfully. Intermediate 404s are silent.
func (r *Retriever) ResolvePrimaryName() (string, error) {
	if r.ExplicitName != "" {
		return r.ExplicitName, nil
	}

	var candidates []string
	if r.HostnameFull != "" {
		candidates = append(candidates, r.HostnameFull)
	}
	if r.HostnameShort != "" && r.HostnameShort != r.HostnameFull {
		candidates = append(candidates, r.HostnameShort)
	}
	if r.SerialNumber != "" {
		candidates = append(candidates, r.SerialNumber)
	}
	candidates = append(candidates, "site_default")

	var lastErr error
	for _, name := range candidates {
		dest := filepath.Join(r.LocalDir, name)
		url := r.Fetcher.URL(fetcher.KindManifest, name)
		_, err := r.Fetcher.Fetch(fetcher.KindManifest, url, dest, fmt.Sprintf("Probing manifest %s", name), false, "", false)
		if err == nil {
			return name, nil
		}
		if isNotFound(err) {
			logging.Debug("Primary manifest candidate not found, trying next", "name", name)
			lastErr = err
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("manifest: no primary manifest candidate resolved: %w", lastErr)
}

func isNotFound(err error) bool {
	var fe *fetcher.Error
	switch e := err.(type) {
	case *fetcher.Error:
		fe = e
	case fetcher.NonRetryable:
		fe = e.Error
	}
	return fe != nil && fe.Kind == fetcher.ErrHTTP && strings.Contains(fe.Err.Error(), "404")
}

// Resolve fetches name and every manifest it transitively includes,
// merging conditional_items along the way, and returns the fully
// merged result. A visited set guards against included_manifests
// cycles.
func (r *Retriever) Resolve(name string, facts predicate.Facts) (*Manifest, error) {
	visited := make(map[string]bool)
	return r.resolve(name, facts, visited)
}

func (r *Retriever) resolve(name string, facts predicate.Facts, visited map[string]bool) (*Manifest, error) {
	if visited[name] {
		logging.Debug("Skipping already-visited manifest", "name", name)
		return &Manifest{}, nil
	}
	visited[name] = true

	m, err := r.load(name)
	if err != nil {
		return nil, err
	}

	if err := r.applyConditionalItems(m, facts); err != nil {
		return nil, err
	}

	for _, included := range m.IncludedManifests {
		sub, err := r.resolve(included, facts, visited)
		if err != nil {
			return nil, fmt.Errorf("manifest: resolving included manifest %q: %w", included, err)
		}
		if err := m.Merge(*sub); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// applyConditionalItems evaluates each conditional_items predicate in
// order against facts and merges the branches whose condition is true
// into m, in place, before included_manifests recursion proceeds.
func (r *Retriever) applyConditionalItems(m *Manifest, facts predicate.Facts) error {
	// Index loop so that conditional_items appended by a merged branch
	// are evaluated too.
	for i := 0; i < len(m.ConditionalItems); i++ {
		cond := m.ConditionalItems[i]
		ok, err := predicate.Eval(cond.Condition, facts)
		if err != nil {
			logging.Warn("conditional_items predicate evaluation error, treating as false", "condition", cond.Condition, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := m.Merge(cond.Manifest); err != nil {
			return err
		}
	}
	return nil
}

// load fetches and parses one manifest YAML file by name, using the
// session-lifetime byte cache instead of the network on repeat calls.
func (r *Retriever) load(name string) (*Manifest, error) {
	data, err := r.fetchBytes(name)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parsing %q: %w", name, err)
	}
	return &m, nil
}

// fetchBytes returns name's raw manifest bytes, fetching over the
// network only the first time name is requested for the lifetime of
// the Retriever.
func (r *Retriever) fetchBytes(name string) ([]byte, error) {
	if r.cache == nil {
		r.cache = make(map[string][]byte)
	}
	if cached, ok := r.cache[name]; ok {
		logging.Debug("Using cached manifest, no network fetch", "name", name)
		return cached, nil
	}

	dest := filepath.Join(r.LocalDir, name)
	url := r.Fetcher.URL(fetcher.KindManifest, name)

	if _, err := r.Fetcher.Fetch(fetcher.KindManifest, url, dest, fmt.Sprintf("Fetching manifest %s", name), false, "", false); err != nil {
		return nil, fmt.Errorf("manifest: fetching %q: %w", name, err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %q: %w", dest, err)
	}

	r.cache[name] = data
	return data, nil
}

// SplitNameVersion parses "name-version" or "name--version", splitting
// only on the last hyphen, preferring "--" when present, matching the
// Catalog DB's own convention so manifest entries and catalog lookups
// agree.
func SplitNameVersion(ref string) (name, requestedVersion string) {
	if idx := strings.LastIndex(ref, "--"); idx >= 0 {
		return ref[:idx], ref[idx+2:]
	}
	if idx := strings.LastIndex(ref, "-"); idx >= 0 {
		return ref[:idx], ref[idx+1:]
	}
	return ref, ""
}
