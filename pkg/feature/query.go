// pkg/feature/query.go - feature inventory discovery via Get-WindowsFeature.

package feature

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/windowsadmins/winfeature/pkg/logging"
	"github.com/windowsadmins/winfeature/pkg/platform"
	"github.com/windowsadmins/winfeature/pkg/powershell"
	"github.com/windowsadmins/winfeature/pkg/retry"
)

// InstallState values as serialized by ConvertTo-Json. The enum comes
// from Microsoft.Windows.ServerManager.Commands.
const (
	installStateAvailable = 0
	installStateInstalled = 1
	installStateRemoved   = 2
)

// windowsFeature mirrors one element of the inventory query output.
type windowsFeature struct {
	Name         string `json:"Name"`
	InstallState int    `json:"InstallState"`
}

// queryInventory runs the inventory command and classifies every feature
// into its bucket. Read-only, so transient failures are retried.
func queryInventory(shell powershell.Runner, plat *platform.Context, timeout time.Duration) (*Inventory, error) {
	command := plat.ListCmdlet() + " | Select-Object -Property Name,InstallState | ConvertTo-Json -Compress"

	var out string
	err := retry.Retry(retry.Config{MaxRetries: 3, InitialInterval: 2 * time.Second, Multiplier: 2}, func() error {
		var runErr error
		out, runErr = shell.Run(command, timeout)
		if errors.Is(runErr, powershell.ErrExecutableNotFound) {
			return &retry.PermanentError{Err: runErr}
		}
		return runErr
	})
	if err != nil {
		return nil, fmt.Errorf("querying Windows feature inventory: %w", err)
	}

	return parseInventory(out)
}

// parseInventory decodes the JSON feature list into the three buckets.
// ConvertTo-Json emits a bare object instead of an array when the list
// has a single element.
func parseInventory(raw string) (*Inventory, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("feature inventory query produced no output")
	}
	if strings.HasPrefix(raw, "{") {
		raw = "[" + raw + "]"
	}

	var features []windowsFeature
	if err := json.Unmarshal([]byte(raw), &features); err != nil {
		return nil, fmt.Errorf("parsing feature inventory output: %w", err)
	}

	inv := NewInventory()
	for _, f := range features {
		name := strings.ToLower(strings.TrimSpace(f.Name))
		if name == "" {
			continue
		}
		switch f.InstallState {
		case installStateInstalled:
			inv.Enabled[name] = struct{}{}
		case installStateAvailable:
			inv.Disabled[name] = struct{}{}
		case installStateRemoved:
			inv.Removed[name] = struct{}{}
		default:
			logging.Debug("Skipping feature with unknown install state",
				"feature", name, "state", f.InstallState)
		}
	}

	logging.Debug("Classified Windows feature inventory",
		"enabled", len(inv.Enabled),
		"disabled", len(inv.Disabled),
		"removed", len(inv.Removed),
	)
	return inv, nil
}
