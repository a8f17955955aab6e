package session

import (
	"os"
	"os/exec"

	"gopkg.in/yaml.v3"

	"github.com/fleetupdate/agent/pkg/logging"
	"github.com/fleetupdate/agent/pkg/manifest"
)

// precacheAgentLabel is the launchd service label for the separate
// precache process, per spec.md §5: it shares the cache directory with
// the session controller but only while the controller is not running.
const precacheAgentLabel = "com.fleetupdate.agent.precache"

func stopPrecacheAgent() {
	if err := exec.Command("/bin/launchctl", "stop", precacheAgentLabel).Run(); err != nil {
		logging.Debug("session: stop precache agent", "error", err)
	}
}

func startPrecacheAgent() {
	if err := exec.Command("/bin/launchctl", "start", precacheAgentLabel).Run(); err != nil {
		logging.Debug("session: start precache agent", "error", err)
	}
}

// manifestFromLocalPath reads a manifest YAML file straight off disk,
// for LocalOnlyManifest support: sections that never travel through
// the repo.
func manifestFromLocalPath(path string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
