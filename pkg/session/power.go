package session

import (
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fleetupdate/agent/pkg/logging"
)

func fetcherHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

// acquirePowerAssertionIfOnAC implements step 6: hold a no-idle-sleep
// assertion only while running on AC power, mirroring the platform's
// caffeinate(8) utility rather than reimplementing IOKit bindings.
// Returns nil (no assertion, nothing to release) when on battery.
func acquirePowerAssertionIfOnAC() func() {
	if !onACPower() {
		return nil
	}

	cmd := exec.Command("/usr/bin/caffeinate", "-s", "-w", strconv.Itoa(os.Getpid()))
	if err := cmd.Start(); err != nil {
		logging.Debug("session: failed to start power assertion", "error", err)
		return nil
	}
	logging.Debug("session: power assertion acquired", "pid", cmd.Process.Pid)
	return func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		cmd.Wait()
	}
}

func onACPower() bool {
	out, err := exec.Command("/usr/bin/pmset", "-g", "batt").Output()
	if err != nil {
		// No battery subsystem (desktop Mac): treat as always on AC.
		return true
	}
	return strings.Contains(string(out), "AC Power")
}
