// Package reporter implements the display/log abstraction described in
// spec.md's design notes: a single Reporter interface injected into
// every component instead of ambient global logging/printing. The CLI
// wires a StdoutReporter; headless runs (precache agent, tests) use
// NoOpReporter.
package reporter

import (
	"fmt"
	"sync"

	"github.com/fleetupdate/agent/pkg/logging"
)

// Reporter is the display/log surface threaded through the resolver,
// fetcher, and session controller. Percent(-1) means indeterminate.
type Reporter interface {
	Info(txt string)
	Detail(txt string)
	Warning(txt string)
	Error(txt string)
	Debug1(txt string)
	Debug2(txt string)
	MajorStatus(txt string)
	MinorStatus(txt string)
	Percent(pct int)
}

// StdoutReporter prints major/minor status and forwards every level to
// the structured logger, matching the teacher's console-plus-log
// double-write pattern.
type StdoutReporter struct {
	mu          sync.Mutex
	lastMajor   string
	lastMinor   string
	lastPercent int
}

// NewStdoutReporter creates a Reporter suitable for CLI/cron runs.
func NewStdoutReporter() *StdoutReporter {
	return &StdoutReporter{lastPercent: -2}
}

func (r *StdoutReporter) Info(txt string) {
	fmt.Println(txt)
	logging.Info(txt)
}

func (r *StdoutReporter) Detail(txt string) {
	logging.Debug(txt)
}

func (r *StdoutReporter) Warning(txt string) {
	fmt.Println("WARNING:", txt)
	logging.Warn(txt)
}

func (r *StdoutReporter) Error(txt string) {
	fmt.Println("ERROR:", txt)
	logging.Error(txt)
}

func (r *StdoutReporter) Debug1(txt string) {
	logging.Debug(txt)
}

func (r *StdoutReporter) Debug2(txt string) {
	logging.Debug(txt)
}

func (r *StdoutReporter) MajorStatus(txt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if txt == r.lastMajor {
		return
	}
	r.lastMajor = txt
	fmt.Println(txt)
	logging.Info("major status", "status", txt)
}

func (r *StdoutReporter) MinorStatus(txt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if txt == r.lastMinor {
		return
	}
	r.lastMinor = txt
	fmt.Println("   " + txt)
	logging.Debug("minor status", "status", txt)
}

func (r *StdoutReporter) Percent(pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pct == r.lastPercent {
		return
	}
	r.lastPercent = pct
	if pct < 0 {
		return
	}
	fmt.Printf("\r   %3d%%", pct)
	if pct == 100 {
		fmt.Println()
	}
}

// NoOpReporter discards everything but still logs at Info/Warning/Error
// level, for headless agents (precache, tests) that want the structured
// log trail without console noise.
type NoOpReporter struct{}

func NewNoOpReporter() *NoOpReporter { return &NoOpReporter{} }

func (r *NoOpReporter) Info(txt string)        { logging.Info(txt) }
func (r *NoOpReporter) Detail(txt string)      { logging.Debug(txt) }
func (r *NoOpReporter) Warning(txt string)     { logging.Warn(txt) }
func (r *NoOpReporter) Error(txt string)       { logging.Error(txt) }
func (r *NoOpReporter) Debug1(txt string)      { logging.Debug(txt) }
func (r *NoOpReporter) Debug2(txt string)      { logging.Debug(txt) }
func (r *NoOpReporter) MajorStatus(txt string) { logging.Info("major status", "status", txt) }
func (r *NoOpReporter) MinorStatus(txt string) { logging.Debug("minor status", "status", txt) }
func (r *NoOpReporter) Percent(pct int)        {}
