// pkg/planner/guard.go - servicing stack busy detection.

package planner

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/windowsadmins/winfeature/pkg/logging"
)

// Processes that indicate another servicing operation is in progress.
// Installing or removing a feature while one of these runs tends to fail
// with a locked component store.
var servicingProcesses = []string{
	"tiworker.exe",
	"wusa.exe",
	"dism.exe",
}

// runningServicingProcesses returns the servicing executables currently
// running, lowercased. An empty result means it is safe to proceed.
func runningServicingProcesses() []string {
	procs, err := process.Processes()
	if err != nil {
		logging.Warn("Failed to enumerate processes for servicing check", "error", err)
		return nil
	}

	var running []string
	seen := make(map[string]struct{})
	for _, proc := range procs {
		name, err := proc.Name()
		if err != nil {
			continue
		}
		name = strings.ToLower(name)
		for _, blocked := range servicingProcesses {
			if name == blocked {
				if _, ok := seen[name]; !ok {
					seen[name] = struct{}{}
					running = append(running, name)
				}
			}
		}
	}
	return running
}
