// Package script runs the embedded scripts a pkginfo item can carry:
// installcheck_script, version_script, preinstall_script,
// postinstall_script, preuninstall_script, and postuninstall_script.
// Each is a shell script body embedded directly in the pkginfo YAML; it
// is written to a private temp file, made executable, run, and its
// output/exit status captured the way the teacher's runScript helper
// does for preflight/postflight.
package script

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fleetupdate/agent/pkg/logging"
)

// Kind names which embedded script is being run, used only for logging
// and temp-file naming.
type Kind string

const (
	KindInstallCheck    Kind = "installcheck_script"
	KindVersion         Kind = "version_script"
	KindPreInstall      Kind = "preinstall_script"
	KindPostInstall     Kind = "postinstall_script"
	KindPreUninstall    Kind = "preuninstall_script"
	KindPostUninstall   Kind = "postuninstall_script"
)

// Result carries everything the installation-state evaluator or
// resolver needs out of a script run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Run writes body to a private temp file, executes it with the given
// arguments, and returns its exit code and captured output. A
// non-zero exit is not itself returned as an error; callers interpret
// the exit code according to the script kind (installcheck_script:
// 0=install needed; version_script: stdout is parsed as a version).
// A script still running after one hour is killed. Nothing is written
// to the script's stdin.
func Run(kind Kind, body string, args ...string) (Result, error) {
	if strings.TrimSpace(body) == "" {
		return Result{}, fmt.Errorf("script: %s body is empty", kind)
	}

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("fleetupdate-%s-*.sh", kind))
	if err != nil {
		return Result{}, fmt.Errorf("script: creating temp file: %w", err)
	}
	path := tmpFile.Name()
	defer os.Remove(path)

	if _, err := tmpFile.WriteString(body); err != nil {
		tmpFile.Close()
		return Result{}, fmt.Errorf("script: writing %s: %w", kind, err)
	}
	if err := tmpFile.Close(); err != nil {
		return Result{}, fmt.Errorf("script: closing %s: %w", kind, err)
	}
	if err := os.Chmod(path, 0700); err != nil {
		return Result{}, fmt.Errorf("script: chmod %s: %w", kind, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = filepath.Dir(path)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fmt.Errorf("script: running %s: %w", kind, runErr)
		}
	}

	logging.Debug("Ran embedded script", "kind", string(kind), "exit_code", result.ExitCode, "duration", elapsed.String())
	return result, nil
}
