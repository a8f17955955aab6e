// Package report implements the per-session Report record (spec.md
// §3): a session-scoped, append-only audit record owned by the
// session controller and persisted atomically at session end.
// Grounded on the teacher's LogSession/SessionSummary shape in
// pkg/logging/events.go, narrowed to the fields spec.md's Report
// actually names.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fleetupdate/agent/pkg/resolver"
)

// Report is the audit record for one update-check session.
type Report struct {
	StartTime    time.Time              `json:"start_time"`
	EndTime      time.Time              `json:"end_time,omitempty"`
	ManifestName string                 `json:"manifest_name"`
	MachineFacts map[string]interface{} `json:"machine_facts"`

	ItemsToInstall []string `json:"items_to_install"`
	ItemsToRemove  []string `json:"items_to_remove"`
	ProblemItems   []string `json:"problem_items"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// New starts a Report for a session whose primary manifest is
// manifestName.
func New(manifestName string, facts map[string]interface{}) *Report {
	return &Report{
		StartTime:    time.Now(),
		ManifestName: manifestName,
		MachineFacts: facts,
	}
}

// RecordInstallInfo copies the install/removal/problem names from the
// resolver's output into the report for display and audit.
func (r *Report) RecordInstallInfo(info *resolver.InstallInfo) {
	r.ItemsToInstall = nil
	for _, item := range info.ManagedInstalls {
		r.ItemsToInstall = append(r.ItemsToInstall, fmt.Sprintf("%s-%s", item.Name, item.VersionToInstall))
	}
	r.ItemsToRemove = nil
	for _, item := range info.Removals {
		r.ItemsToRemove = append(r.ItemsToRemove, item.Name)
	}
	r.ProblemItems = nil
	for _, item := range info.ProblemItems {
		r.ProblemItems = append(r.ProblemItems, fmt.Sprintf("%s: %s", item.Name, item.Note))
	}
}

// AddError appends an error string to the report.
func (r *Report) AddError(msg string) { r.Errors = append(r.Errors, msg) }

// AddWarning appends a warning string to the report.
func (r *Report) AddWarning(msg string) { r.Warnings = append(r.Warnings, msg) }

// Finish sets EndTime to now.
func (r *Report) Finish() { r.EndTime = time.Now() }

// Save writes the report as JSON to a temp file beside path and renames
// it into place, creating parent directories as needed. Session controllers typically call this once, at the end
// of the pipeline.
func (r *Report) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("report: creating directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshaling: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("report: writing: %w", err)
	}
	return os.Rename(tmp, path)
}
