// pkg/platform/platform.go - OS and PowerShell version facts that gate feature actions.

package platform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/yusufpapurcu/wmi"
	"golang.org/x/sys/windows/registry"

	"github.com/windowsadmins/winfeature/pkg/logging"
	"github.com/windowsadmins/winfeature/pkg/powershell"
)

// Windows Server 2012 / Windows 8. Older releases use the legacy
// ServerManager cmdlets and cannot honor -Source or feature deletion.
const minModernVersion = 6.2

// Registry location where the PowerShell engine records its version.
// Checked before shelling out, the same way a pre-gathered fact would be.
const powershellEngineKey = `SOFTWARE\Microsoft\PowerShell\3\PowerShellEngine`

// probeTimeout bounds the version probe; it is a trivial expression and
// should return immediately on any working install.
const probeTimeout = 60 * time.Second

// Context holds the platform facts read once per invocation.
type Context struct {
	// OSVersion is the Windows version as a major.minor float,
	// e.g. 6.1 for 2008R2, 6.3 for 2012R2, 10.0 for 2016 and later.
	OSVersion float64

	// PowerShellMajor is the effective PowerShell major version.
	// 0 means no PowerShell is installed at all.
	PowerShellMajor int
}

// ConfigurationError indicates the installed PowerShell is too old for
// the feature cmdlets this tool drives.
type ConfigurationError struct {
	Found int
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("powershell version 3.0 or later is required to manage Windows features, found major version %d", e.Found)
}

// UnsupportedActionError indicates the requested action does not exist on
// this Windows release.
type UnsupportedActionError struct {
	Action    string
	OSVersion float64
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("action %q is not supported on Windows releases before 2012 (platform version %.1f)", e.Action, e.OSVersion)
}

// Win32_OperatingSystem carries the fields we query over WMI.
type Win32_OperatingSystem struct {
	Version string `wmi:"Version"`
}

// wmiQuery and registryVersionHint are abstracted for testing
var (
	wmiQuery            = wmi.Query
	registryVersionHint = registryPowerShellVersion
)

// Current reads the platform facts for this invocation. The shell is only
// consulted when the registry holds no PowerShell version hint.
func Current(shell powershell.Runner) (*Context, error) {
	osVersion, err := queryOSVersion()
	if err != nil {
		return nil, err
	}
	return &Context{
		OSVersion:       osVersion,
		PowerShellMajor: effectivePowerShellVersion(shell),
	}, nil
}

// queryOSVersion reads the OS version string over WMI and reduces it to
// the major.minor float used for cmdlet gating.
func queryOSVersion() (float64, error) {
	var results []Win32_OperatingSystem
	if err := wmiQuery("SELECT Version FROM Win32_OperatingSystem", &results); err != nil {
		return 0, fmt.Errorf("querying operating system version: %w", err)
	}
	if len(results) == 0 || results[0].Version == "" {
		return 0, fmt.Errorf("no operating system version information available")
	}
	return MajorMinor(results[0].Version)
}

// MajorMinor parses a Windows version string like "6.3.9600" into the
// major.minor float used throughout this package.
func MajorMinor(raw string) (float64, error) {
	v, err := goversion.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing operating system version %q: %w", raw, err)
	}
	segments := v.Segments()
	if len(segments) < 2 {
		return float64(segments[0]), nil
	}
	// Windows minor versions are single digits (6.1, 6.3, 10.0).
	return float64(segments[0]) + float64(segments[1])/10.0, nil
}

// effectivePowerShellVersion determines the PowerShell major version.
// The registry hint is preferred; failing that, PowerShell itself is
// asked. A missing executable yields 0 (nothing installed); a shell that
// runs but prints nothing yields 1 (PowerShell 1.0 has no
// $PSVersionTable).
func effectivePowerShellVersion(shell powershell.Runner) int {
	if major, ok := registryVersionHint(); ok {
		logging.Debug("PowerShell version from registry", "major", major)
		return major
	}

	out, err := shell.Run("$PSVersionTable.psversion.major", probeTimeout)
	if err != nil {
		if errors.Is(err, powershell.ErrExecutableNotFound) {
			logging.Debug("No PowerShell executable found")
			return 0
		}
		logging.Warn("PowerShell version probe failed", "error", err)
		return 0
	}

	return parseMajor(out)
}

// registryPowerShellVersion reads the engine version the installer
// recorded, e.g. "5.1.19041.1".
func registryPowerShellVersion() (int, bool) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, powershellEngineKey, registry.QUERY_VALUE)
	if err != nil {
		return 0, false
	}
	defer k.Close()

	raw, _, err := k.GetStringValue("PowerShellVersion")
	if err != nil || raw == "" {
		return 0, false
	}
	major := parseMajor(raw)
	if major <= 1 {
		return 0, false
	}
	return major, true
}

// parseMajor extracts the leading integer from probe output. Empty output
// signals PowerShell 1.0.
func parseMajor(out string) int {
	out = strings.TrimSpace(out)
	if out == "" {
		return 1
	}
	if i := strings.IndexAny(out, ".\r\n"); i >= 0 {
		out = out[:i]
	}
	major, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		logging.Warn("Unparseable PowerShell version output", "output", out)
		return 1
	}
	return major
}

// RequirePowerShellAtLeast3 guards every feature action: the JSON-based
// inventory query and the feature cmdlets both need PowerShell 3.0.
func (c *Context) RequirePowerShellAtLeast3() error {
	if c.PowerShellMajor < 3 {
		return &ConfigurationError{Found: c.PowerShellMajor}
	}
	return nil
}

// RequireDeleteSupported rejects feature deletion on releases that lack
// Uninstall-WindowsFeature -Remove.
func (c *Context) RequireDeleteSupported() error {
	if !c.Modern() {
		return &UnsupportedActionError{Action: "delete", OSVersion: c.OSVersion}
	}
	return nil
}

// Modern reports whether this release is Windows 2012 or later.
func (c *Context) Modern() bool {
	return c.OSVersion >= minModernVersion
}

// InstallCmdlet returns the install command form for this release.
func (c *Context) InstallCmdlet() string {
	if c.Modern() {
		return "Install-WindowsFeature"
	}
	return "Import-Module ServerManager; Add-WindowsFeature"
}

// RemoveCmdlet returns the removal command form for this release.
func (c *Context) RemoveCmdlet() string {
	if c.Modern() {
		return "Uninstall-WindowsFeature"
	}
	return "Import-Module ServerManager; Remove-WindowsFeature"
}

// ListCmdlet returns the inventory query form for this release. Older
// releases must import ServerManager before Get-WindowsFeature exists.
func (c *Context) ListCmdlet() string {
	if c.Modern() {
		return "Get-WindowsFeature"
	}
	return "Import-Module ServerManager; Get-WindowsFeature"
}
