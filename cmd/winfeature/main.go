// cmd/winfeature/main.go

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/windows"
	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/winfeature/pkg/config"
	"github.com/windowsadmins/winfeature/pkg/feature"
	"github.com/windowsadmins/winfeature/pkg/logging"
	"github.com/windowsadmins/winfeature/pkg/planner"
	"github.com/windowsadmins/winfeature/pkg/platform"
	"github.com/windowsadmins/winfeature/pkg/powershell"
	"github.com/windowsadmins/winfeature/pkg/utils"
	"github.com/windowsadmins/winfeature/pkg/version"
)

// enableANSIConsole enables ANSI colors in the console.
func enableANSIConsole() {
	for _, stream := range []*os.File{os.Stdout, os.Stderr} {
		handle := windows.Handle(stream.Fd())
		var mode uint32
		if err := windows.GetConsoleMode(handle, &mode); err == nil {
			mode |= windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING
			_ = windows.SetConsoleMode(handle, mode)
		}
	}
}

func main() {
	utils.PatchWindowsArgs()
	enableANSIConsole()

	// Define command-line flags.
	action := pflag.String("action", "install", "Action to perform: install, remove, or delete.")
	features := pflag.StringSlice("features", nil, "Feature names to manage (repeatable or comma-separated).")
	source := pflag.String("source", "", "Alternate installation media path for removed features (Windows 2012+).")
	all := pflag.Bool("all", false, "Include all sub-features (install only).")
	managementTools := pflag.Bool("management-tools", false, "Include management tools (install only, Windows 2012+).")
	timeoutSeconds := pflag.Int("timeout", 0, "Command timeout in seconds (default 600).")
	checkOnly := pflag.Bool("checkonly", false, "Show what would change, but don't run anything.")
	showConfig := pflag.Bool("show-config", false, "Display the current configuration and exit.")
	writeConfig := pflag.Bool("write-config", false, "Write the effective configuration to the default path and exit.")
	versionFlag := pflag.Bool("version", false, "Print the version and exit.")

	// Count the number of -v flags.
	var verbosity int
	pflag.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (e.g. -v, -vv, -vvv)")
	pflag.Parse()

	// Load configuration; a machine without a config file or CSP policy
	// still works with defaults.
	cfg, err := config.LoadConfig()
	if err != nil {
		cfg = config.GetDefaultConfig()
	}

	// Raise the log level based on the number of -v flags.
	cfg.LogLevel = verboseLogLevel(cfg.LogLevel, verbosity)

	if err := logging.Init(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.CloseLogger()

	if *versionFlag {
		if verbosity > 0 {
			version.PrintFull()
		} else {
			version.Print()
		}
		os.Exit(0)
	}

	if *writeConfig {
		if err := config.SaveConfig(cfg); err != nil {
			logging.Error("Failed to write configuration", "path", config.ConfigPath, "error", err)
			os.Exit(1)
		}
		logging.Info("Wrote configuration", "path", config.ConfigPath)
		os.Exit(0)
	}

	if *showConfig {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			logging.Error("Failed to serialize configuration", "error", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		os.Exit(0)
	}

	req, err := buildRequest(cfg, *action, *features, *source, *all, *managementTools, *timeoutSeconds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		pflag.Usage()
		os.Exit(2)
	}

	shell := powershell.New()
	plat, err := platform.Current(shell)
	if err != nil {
		logging.Error("Failed to read platform facts", "error", err)
		os.Exit(1)
	}
	logging.Debug("Platform facts",
		"os_version", fmt.Sprintf("%.1f", plat.OSVersion),
		"powershell_major", plat.PowerShellMajor,
	)

	cache := feature.NewCache(shell, plat, req.Timeout)
	pl := planner.New(plat, cache, shell)

	if *checkOnly || cfg.CheckOnly {
		plan, err := pl.Plan(req)
		if err != nil {
			logging.Error("Planning failed", "error", err)
			os.Exit(1)
		}
		if plan.NoOp() {
			logging.Info("CheckOnly: all requested features already converged")
		} else {
			logging.Info("CheckOnly: would run command",
				"features", strings.Join(plan.Features, ","),
				"command", plan.Command,
			)
		}
		os.Exit(0)
	}

	plan, _, err := pl.Apply(req)
	if err != nil {
		var busy *planner.ServicingBusyError
		if errors.As(err, &busy) {
			logging.Warn("Servicing stack busy, not starting", "processes", strings.Join(busy.Processes, ","))
		} else {
			logging.Error("Feature action failed", "action", *action, "error", err)
		}
		os.Exit(1)
	}

	if !plan.NoOp() {
		logging.LogStructured(logging.LevelInfo, "Feature state changed", map[string]interface{}{
			"action":   string(plan.Action),
			"features": strings.Join(plan.Features, ","),
			"command":  plan.Command,
		})
	}
}

// verboseLogLevel maps -v counts onto a log level: one -v guarantees
// INFO, two or more guarantee DEBUG. It only ever raises the level, so
// a configuration already more verbose than the flags ask for is kept.
func verboseLogLevel(configured string, verbosity int) string {
	var floor string
	switch {
	case verbosity == 1:
		floor = "INFO"
	case verbosity >= 2:
		floor = "DEBUG"
	default:
		return configured
	}
	if levelRank(configured) >= levelRank(floor) {
		return configured
	}
	return floor
}

// levelRank orders level names from quietest to noisiest. Unknown names
// rank as INFO, matching how the logging package parses them.
func levelRank(name string) int {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ERROR":
		return 0
	case "WARN", "WARNING":
		return 1
	case "DEBUG":
		return 3
	default:
		return 2
	}
}

// buildRequest merges flags over configuration defaults and validates
// the action and feature list.
func buildRequest(cfg *config.Configuration, action string, features []string, source string, all, managementTools bool, timeoutSeconds int) (planner.Request, error) {
	names := feature.ParseNames(features...)
	if len(names) == 0 {
		return planner.Request{}, fmt.Errorf("at least one feature name is required (--features)")
	}

	var act planner.Action
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "install":
		act = planner.ActionInstall
	case "remove":
		act = planner.ActionRemove
	case "delete":
		act = planner.ActionDelete
	default:
		return planner.Request{}, fmt.Errorf("unknown action %q: expected install, remove, or delete", action)
	}

	if source == "" {
		source = cfg.Source
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = cfg.TimeoutSeconds
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = int(planner.DefaultTimeout / time.Second)
	}

	return planner.Request{
		Action:                 act,
		Features:               names,
		Source:                 source,
		IncludeAllSubFeatures:  all || cfg.IncludeAllSubFeatures,
		IncludeManagementTools: managementTools || cfg.IncludeManagementTools,
		Timeout:                time.Duration(timeoutSeconds) * time.Second,
	}, nil
}
