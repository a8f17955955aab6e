// Package processlock implements the session controller's mutual-
// exclusion rule (spec.md §5): at most one session may run at a time.
// A pidfile records the running instance; a stale or over-long-running
// holder is killed rather than blocking the new invocation forever.
package processlock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/fleetupdate/agent/pkg/logging"
)

// HardKillCeiling is the maximum age a running instance may reach
// before a new invocation kills it instead of exiting.
const HardKillCeiling = 1800 * time.Second

const defaultPidfilePath = "/private/var/run/com.fleetupdate.agent.pid"

// Lock represents the acquired pidfile; call Release when the session
// ends.
type Lock struct {
	path string
}

// Acquire checks the pidfile for a live instance. One older than
// HardKillCeiling is killed and the check repeats; a younger one makes
// Acquire return an error. Once no live holder remains, Acquire writes
// its own pid and returns the Lock.
func Acquire() (*Lock, error) {
	return acquire(defaultPidfilePath)
}

func acquire(path string) (*Lock, error) {
	for {
		pid, startedAt, ok := readPidfile(path)
		if !ok {
			break
		}
		if !processAlive(pid) {
			logging.Debug("processlock: stale pidfile, ignoring", "pid", pid)
			break
		}

		age := time.Since(startedAt)
		if age > HardKillCeiling {
			logging.Warn("processlock: killing stuck instance past hard ceiling", "pid", pid, "age", age)
			syscall.Kill(pid, syscall.SIGKILL)
			time.Sleep(200 * time.Millisecond)
			continue
		}

		logging.Info("processlock: another instance is running, exiting", "pid", pid, "age", age)
		return nil, fmt.Errorf("processlock: instance %d already running (age %s)", pid, age)
	}

	if err := writePidfile(path); err != nil {
		return nil, err
	}
	return &Lock{path: path}, nil
}

// Release removes the pidfile, clearing the lock for the next
// invocation.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logging.Warn("processlock: failed to remove pidfile", "error", err)
	}
}

func readPidfile(path string) (pid int, startedAt time.Time, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, time.Time{}, false
	}
	pid, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, time.Time{}, false
	}
	unixSeconds, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return pid, time.Unix(unixSeconds, 0), true
}

func writePidfile(path string) error {
	contents := fmt.Sprintf("%d %d\n", os.Getpid(), time.Now().Unix())
	return os.WriteFile(path, []byte(contents), 0644)
}

func processAlive(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return exists
}
