// cmd/managedsoftwareupdate/main.go

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/fleetupdate/agent/pkg/catalog"
	"github.com/fleetupdate/agent/pkg/config"
	"github.com/fleetupdate/agent/pkg/depgraph"
	"github.com/fleetupdate/agent/pkg/filter"
	"github.com/fleetupdate/agent/pkg/logging"
	"github.com/fleetupdate/agent/pkg/processlock"
	"github.com/fleetupdate/agent/pkg/reporter"
	"github.com/fleetupdate/agent/pkg/sentinel"
	"github.com/fleetupdate/agent/pkg/session"
	"github.com/fleetupdate/agent/pkg/version"
)

func main() {
	showConfig := pflag.Bool("show-config", false, "Display the current configuration and exit.")
	checkOnly := pflag.Bool("checkonly", false, "Check for updates, but don't install them.")
	auto := pflag.Bool("auto", false, "Run in automatic mode, as launched by a scheduled trigger.")
	verbose := pflag.CountP("verbose", "v", "Increase output verbosity. May be given multiple times.")
	showVersion := pflag.Bool("version", false, "Print the version and exit.")
	clientID := pflag.String("id", "", "Override the manifest name (ClientIdentifier) for this run.")
	noPreflight := pflag.Bool("no-preflight", false, "Skip the preflight script.")
	bootstrap := pflag.Bool("set-bootstrap-mode", false, "Enable bootstrap mode and exit.")
	clearBootstrap := pflag.Bool("clear-bootstrap-mode", false, "Disable bootstrap mode and exit.")
	showGraph := pflag.Bool("graph", false, "Print the cached catalogs' requires/update_for graph in dot format and exit.")

	itemFilter := filter.NewItemFilter(logging.New(false))
	itemFilter.RegisterFlags()

	pflag.Parse()

	if *showVersion {
		version.PrintFull()
		return
	}

	if *bootstrap {
		exitOnErr(sentinel.SetBootstrapMode(true), "enabling bootstrap mode")
		return
	}
	if *clearBootstrap {
		exitOnErr(sentinel.SetBootstrapMode(false), "clearing bootstrap mode")
		return
	}

	cfg, err := config.LoadConfig()
	exitOnErr(err, "loading configuration")

	cfg.CheckOnly = *checkOnly || cfg.CheckOnly
	cfg.Verbose = *verbose > 0 || cfg.Verbose
	cfg.NoPreflight = *noPreflight || cfg.NoPreflight
	if *clientID != "" {
		cfg.ClientIdentifier = *clientID
	}

	if *showConfig {
		data, err := yaml.Marshal(cfg)
		exitOnErr(err, "serializing configuration")
		fmt.Print(string(data))
		return
	}

	if *showGraph {
		db := catalog.NewDB()
		exitOnErr(db.LoadAll(cfg.CatalogsPath, cfg.Catalogs), "loading cached catalogs")
		exitOnErr(depgraph.Write(os.Stdout, db, cfg.Catalogs), "rendering dependency graph")
		return
	}

	exitOnErr(logging.Init(cfg), "initializing logger")
	defer logging.CloseLogger()

	if !cfg.NoPreflight {
		if err := logging.RunPreflight(*verbose, func(format string, args ...interface{}) {
			logging.Error(fmt.Sprintf(format, args...))
		}); err != nil {
			logging.Error("preflight failed, aborting session", "error", err)
			os.Exit(-2)
		}
	}

	lock, err := processlock.Acquire()
	exitOnErr(err, "acquiring session lock")
	defer lock.Release()

	if *auto && sentinel.BootstrapModeActive() {
		logging.Info("bootstrap mode active, proceeding with automatic install")
	}

	rep := reporter.NewStdoutReporter()
	ctrl, err := session.New(cfg, rep)
	exitOnErr(err, "initializing session controller")
	ctrl.Filter = itemFilter

	info, rpt, err := ctrl.Run()
	if err != nil {
		logging.Error("session failed", "error", err)
		if saveErr := config.SaveConfig(cfg); saveErr != nil {
			logging.Warn("failed to persist configuration", "error", saveErr)
		}
		os.Exit(-1)
	}

	cfg.PendingUpdateCount = len(info.ManagedInstalls) + len(info.Removals)
	if err := config.SaveConfig(cfg); err != nil {
		logging.Warn("failed to persist configuration", "error", err)
	}

	if len(rpt.Errors) > 0 {
		os.Exit(-1)
	}

	logging.Info("session complete",
		"managed_installs", len(info.ManagedInstalls),
		"removals", len(info.Removals),
		"problem_items", len(info.ProblemItems),
	)

	if !cfg.NoPreflight {
		_ = logging.RunPostflight(*verbose, func(format string, args ...interface{}) {
			logging.Error(fmt.Sprintf(format, args...))
		})
	}
}

func exitOnErr(err error, what string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "managedsoftwareupdate: %s: %v\n", what, err)
		os.Exit(-1)
	}
}
