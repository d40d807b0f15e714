package planner

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/winfeature/pkg/feature"
	"github.com/windowsadmins/winfeature/pkg/platform"
	"github.com/windowsadmins/winfeature/pkg/powershell"
)

type stubRunner struct {
	out      string
	err      error
	commands []string
	timeouts []time.Duration
}

func (s *stubRunner) Run(command string, timeout time.Duration) (string, error) {
	s.commands = append(s.commands, command)
	s.timeouts = append(s.timeouts, timeout)
	return s.out, s.err
}

type fixture struct {
	planner *Planner
	shell   *stubRunner
	queries int
}

// newFixture builds a planner over a fixed inventory, with the registry
// policy and servicing guard stubbed quiet.
func newFixture(t *testing.T, osVersion float64, enabled, disabled, removed []string) *fixture {
	t.Helper()

	f := &fixture{shell: &stubRunner{}}
	cache := feature.NewCacheWithQuery(func() (*feature.Inventory, error) {
		f.queries++
		inv := feature.NewInventory()
		for _, name := range enabled {
			inv.Enabled[name] = struct{}{}
		}
		for _, name := range disabled {
			inv.Disabled[name] = struct{}{}
		}
		for _, name := range removed {
			inv.Removed[name] = struct{}{}
		}
		return inv, nil
	})

	plat := &platform.Context{OSVersion: osVersion, PowerShellMajor: 5}
	f.planner = New(plat, cache, f.shell)
	f.planner.localSourcePolicy = func() bool { return false }
	f.planner.servicingBusy = func() []string { return nil }
	return f
}

func TestPlanInstallIntersectsDisabled(t *testing.T) {
	f := newFixture(t, 10.0,
		[]string{"web-server"},
		[]string{"telnet-client", "snmp-service"},
		nil,
	)

	plan, err := f.planner.Plan(Request{
		Action:   ActionInstall,
		Features: []string{"web-server", "telnet-client", "snmp-service"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"telnet-client", "snmp-service"}, plan.Features)
	assert.Equal(t, "Install-WindowsFeature telnet-client,snmp-service", plan.Command)
}

func TestPlanInstallNoOpRunsNothing(t *testing.T) {
	f := newFixture(t, 10.0, []string{"web-server"}, nil, nil)

	plan, out, err := f.planner.Apply(Request{
		Action:   ActionInstall,
		Features: []string{"web-server"},
	})
	require.NoError(t, err)

	assert.True(t, plan.NoOp())
	assert.Empty(t, out)
	assert.Empty(t, f.shell.commands, "no-op must not execute a command")

	// No-op must not invalidate the cache either.
	_, err = f.planner.cache.Read()
	require.NoError(t, err)
	assert.Equal(t, 1, f.queries)
}

func TestPlanInstallUnavailableFeatures(t *testing.T) {
	f := newFixture(t, 10.0, []string{"web-server"}, []string{"dns"}, []string{"xps-viewer"})

	_, err := f.planner.Plan(Request{
		Action:   ActionInstall,
		Features: []string{"dns", "bogus-one", "web-server", "bogus-two"},
	})

	var unavailable *UnavailableFeatureError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []string{"bogus-one", "bogus-two"}, unavailable.Features)
	assert.Empty(t, f.shell.commands)
}

func TestPlanInstallRemovedFeatures(t *testing.T) {
	f := newFixture(t, 6.3, nil, []string{"dns"}, []string{"xps-viewer", "ink-handwriting"})

	_, err := f.planner.Plan(Request{
		Action:   ActionInstall,
		Features: []string{"dns", "xps-viewer", "ink-handwriting"},
	})

	var removed *RemovedFeatureError
	require.ErrorAs(t, err, &removed)
	assert.Equal(t, []string{"xps-viewer", "ink-handwriting"}, removed.Features)
}

func TestPlanInstallRemovedSkippedWithSource(t *testing.T) {
	f := newFixture(t, 6.3, nil, []string{"dns"}, []string{"xps-viewer"})

	plan, err := f.planner.Plan(Request{
		Action:   ActionInstall,
		Features: []string{"dns", "xps-viewer"},
		Source:   `D:\sources\sxs`,
	})
	require.NoError(t, err)

	// The removed feature still is not in the Disabled bucket, so only
	// dns is installed, but the batch is no longer rejected.
	assert.Equal(t, []string{"dns"}, plan.Features)
	assert.Equal(t, `Install-WindowsFeature dns -Source "D:\sources\sxs"`, plan.Command)
}

func TestPlanInstallRemovedSkippedWithPolicySource(t *testing.T) {
	f := newFixture(t, 6.3, nil, []string{"dns"}, []string{"xps-viewer"})
	f.planner.localSourcePolicy = func() bool { return true }

	plan, err := f.planner.Plan(Request{
		Action:   ActionInstall,
		Features: []string{"dns", "xps-viewer"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dns"}, plan.Features)
}

func TestPlanInstallPolicySourceIgnoredAt62(t *testing.T) {
	// The policy override only applies strictly above 6.2.
	f := newFixture(t, 6.2, nil, nil, []string{"xps-viewer"})
	f.planner.localSourcePolicy = func() bool { return true }

	_, err := f.planner.Plan(Request{
		Action:   ActionInstall,
		Features: []string{"xps-viewer"},
	})

	var removed *RemovedFeatureError
	require.ErrorAs(t, err, &removed)
}

func TestPlanInstallLegacyPlatformDropsSourceOptions(t *testing.T) {
	// Windows 2008R2: legacy cmdlet, -Source and -IncludeManagementTools
	// are silently dropped with a warning, but the install proceeds.
	f := newFixture(t, 6.1, nil, []string{"telnet-client"}, nil)

	plan, err := f.planner.Plan(Request{
		Action:                 ActionInstall,
		Features:               []string{"telnet-client"},
		Source:                 `D:\sources\sxs`,
		IncludeManagementTools: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Import-Module ServerManager; Add-WindowsFeature telnet-client", plan.Command)
	assert.NotContains(t, plan.Command, "-Source")
	assert.NotContains(t, plan.Command, "-IncludeManagementTools")
}

func TestPlanInstallModernPlatformFullOptions(t *testing.T) {
	f := newFixture(t, 6.3, nil, []string{"web-server", "web-mgmt-tools"}, nil)

	plan, err := f.planner.Plan(Request{
		Action:                 ActionInstall,
		Features:               []string{"web-server", "web-mgmt-tools"},
		IncludeManagementTools: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Install-WindowsFeature web-server,web-mgmt-tools -IncludeManagementTools", plan.Command)
}

func TestPlanInstallIncludeAllSubFeatures(t *testing.T) {
	f := newFixture(t, 10.0, nil, []string{"web-server"}, nil)

	plan, err := f.planner.Plan(Request{
		Action:                ActionInstall,
		Features:              []string{"web-server"},
		IncludeAllSubFeatures: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Install-WindowsFeature web-server -IncludeAllSubFeature", plan.Command)
}

func TestPlanRemoveIntersectsEnabled(t *testing.T) {
	f := newFixture(t, 10.0, []string{"web-server"}, []string{"dns"}, nil)

	plan, err := f.planner.Plan(Request{
		Action:   ActionRemove,
		Features: []string{"web-server", "dns", "never-heard-of-it"},
	})
	require.NoError(t, err)

	// Unknown and already-disabled features are simply no-ops for remove.
	assert.Equal(t, []string{"web-server"}, plan.Features)
	assert.Equal(t, "Uninstall-WindowsFeature web-server", plan.Command)
}

func TestPlanFoldsCaseAgainstInventory(t *testing.T) {
	f := newFixture(t, 10.0, []string{"web-server"}, []string{"telnet-client"}, nil)

	// Inventory keys are lowercase; mixed-case request names must still
	// diff against them instead of silently no-opping.
	plan, err := f.planner.Plan(Request{
		Action:   ActionInstall,
		Features: []string{"Telnet-Client"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Telnet-Client"}, plan.Features)
	assert.Equal(t, "Install-WindowsFeature Telnet-Client", plan.Command)

	plan, err = f.planner.Plan(Request{
		Action:   ActionRemove,
		Features: []string{"Web-Server"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Uninstall-WindowsFeature Web-Server", plan.Command)
}

func TestPlanRemoveLegacyCmdlet(t *testing.T) {
	f := newFixture(t, 6.1, []string{"telnet-client"}, nil, nil)

	plan, err := f.planner.Plan(Request{
		Action:   ActionRemove,
		Features: []string{"telnet-client"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Import-Module ServerManager; Remove-WindowsFeature telnet-client", plan.Command)
}

func TestPlanDeleteUnsupportedBefore2012(t *testing.T) {
	f := newFixture(t, 6.1, []string{"xps-viewer"}, nil, nil)

	_, err := f.planner.Plan(Request{
		Action:   ActionDelete,
		Features: []string{"xps-viewer"},
	})

	var unsupported *platform.UnsupportedActionError
	require.ErrorAs(t, err, &unsupported)
	assert.Empty(t, f.shell.commands, "no command may run when delete is unsupported")
	assert.Equal(t, 0, f.queries, "unsupported delete must fail before touching the inventory")
}

func TestPlanDeleteTargetsEnabledAndDisabled(t *testing.T) {
	f := newFixture(t, 6.3, []string{"web-server"}, []string{"xps-viewer"}, []string{"ink-handwriting"})

	plan, err := f.planner.Plan(Request{
		Action:   ActionDelete,
		Features: []string{"web-server", "xps-viewer", "ink-handwriting"},
	})
	require.NoError(t, err)

	// Already-removed features need no work; enabled and disabled ones do.
	assert.Equal(t, []string{"web-server", "xps-viewer"}, plan.Features)
	assert.Equal(t, "Uninstall-WindowsFeature web-server,xps-viewer -Remove", plan.Command)
}

func TestPlanDeleteUnavailableFeature(t *testing.T) {
	f := newFixture(t, 6.3, []string{"web-server"}, nil, nil)

	_, err := f.planner.Plan(Request{
		Action:   ActionDelete,
		Features: []string{"web-server", "bogus"},
	})

	var unavailable *UnavailableFeatureError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []string{"bogus"}, unavailable.Features)
}

func TestPlanRequiresPowerShell3(t *testing.T) {
	f := newFixture(t, 10.0, nil, []string{"dns"}, nil)
	f.planner.platform.PowerShellMajor = 2

	for _, action := range []Action{ActionInstall, ActionRemove, ActionDelete} {
		_, err := f.planner.Plan(Request{Action: action, Features: []string{"dns"}})
		var cfgErr *platform.ConfigurationError
		require.ErrorAs(t, err, &cfgErr, "action %s", action)
	}
	assert.Equal(t, 0, f.queries, "version gate must fire before the inventory query")
}

func TestApplyInvalidatesCacheOnSuccess(t *testing.T) {
	f := newFixture(t, 10.0, nil, []string{"dns"}, nil)
	f.shell.out = "Success Restart Needed Exit Code\n"

	_, out, err := f.planner.Apply(Request{
		Action:   ActionInstall,
		Features: []string{"dns"},
		Timeout:  30 * time.Second,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Success")
	require.Len(t, f.shell.commands, 1)
	assert.Equal(t, 30*time.Second, f.shell.timeouts[0])

	// Next read re-queries because the OS state changed.
	_, err = f.planner.cache.Read()
	require.NoError(t, err)
	assert.Equal(t, 2, f.queries)
}

func TestApplyKeepsCacheOnFailure(t *testing.T) {
	f := newFixture(t, 10.0, nil, []string{"dns"}, nil)
	f.shell.err = &powershell.ExecutionError{Command: "x", Stderr: "boom", Err: errors.New("exit status 1")}

	_, _, err := f.planner.Apply(Request{
		Action:   ActionInstall,
		Features: []string{"dns"},
	})
	require.Error(t, err)

	var execErr *powershell.ExecutionError
	assert.ErrorAs(t, err, &execErr)

	// Failure leaves the cache alone; nothing is known to have changed.
	_, readErr := f.planner.cache.Read()
	require.NoError(t, readErr)
	assert.Equal(t, 1, f.queries)
}

func TestApplyDefaultTimeout(t *testing.T) {
	f := newFixture(t, 10.0, nil, []string{"dns"}, nil)

	_, _, err := f.planner.Apply(Request{
		Action:   ActionInstall,
		Features: []string{"dns"},
	})
	require.NoError(t, err)
	require.Len(t, f.shell.timeouts, 1)
	assert.Equal(t, DefaultTimeout, f.shell.timeouts[0])
}

func TestApplyRefusesWhileServicingBusy(t *testing.T) {
	f := newFixture(t, 10.0, nil, []string{"dns"}, nil)
	f.planner.servicingBusy = func() []string { return []string{"tiworker.exe"} }

	_, _, err := f.planner.Apply(Request{
		Action:   ActionInstall,
		Features: []string{"dns"},
	})

	var busy *ServicingBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, []string{"tiworker.exe"}, busy.Processes)
	assert.Empty(t, f.shell.commands)
}

func TestApplyPropagatesTimeout(t *testing.T) {
	f := newFixture(t, 10.0, nil, []string{"dns"}, nil)
	f.shell.err = &powershell.TimeoutError{Command: "Install-WindowsFeature dns", Timeout: time.Second}

	_, _, err := f.planner.Apply(Request{
		Action:   ActionInstall,
		Features: []string{"dns"},
		Timeout:  time.Second,
	})

	var timeout *powershell.TimeoutError
	require.ErrorAs(t, err, &timeout)

	// Timed-out mutation must not invalidate the cache.
	_, readErr := f.planner.cache.Read()
	require.NoError(t, readErr)
	assert.Equal(t, 1, f.queries)
}

func TestPlanUnknownAction(t *testing.T) {
	f := newFixture(t, 10.0, nil, nil, nil)
	_, err := f.planner.Plan(Request{Action: Action("upgrade"), Features: []string{"dns"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestScenarioTelnetClientOn2008R2(t *testing.T) {
	// platform 6.1, install telnet-client with a source: the command uses
	// the legacy cmdlet and omits -Source.
	f := newFixture(t, 6.1, nil, []string{"telnet-client"}, nil)

	plan, _, err := f.planner.Apply(Request{
		Action:   ActionInstall,
		Features: []string{"telnet-client"},
		Source:   `D:\sources\sxs`,
	})
	require.NoError(t, err)
	require.Len(t, f.shell.commands, 1)
	assert.Equal(t, "Import-Module ServerManager; Add-WindowsFeature telnet-client", f.shell.commands[0])
	assert.Equal(t, []string{"telnet-client"}, plan.Features)
}

func TestScenarioWebServerOn2012R2(t *testing.T) {
	f := newFixture(t, 6.3, nil, []string{"web-server", "web-mgmt-tools"}, nil)

	_, _, err := f.planner.Apply(Request{
		Action:                 ActionInstall,
		Features:               []string{"web-server", "web-mgmt-tools"},
		IncludeManagementTools: true,
	})
	require.NoError(t, err)
	require.Len(t, f.shell.commands, 1)
	assert.Equal(t, "Install-WindowsFeature web-server,web-mgmt-tools -IncludeManagementTools", f.shell.commands[0])
}

func TestScenarioDeleteXPSViewerOn2008R2(t *testing.T) {
	f := newFixture(t, 6.1, []string{"xps-viewer"}, nil, nil)

	_, _, err := f.planner.Apply(Request{
		Action:   ActionDelete,
		Features: []string{"xps-viewer"},
	})

	var unsupported *platform.UnsupportedActionError
	require.ErrorAs(t, err, &unsupported)
	assert.Empty(t, f.shell.commands)
}

func TestErrorMessagesListFeatures(t *testing.T) {
	err := &UnavailableFeatureError{Features: []string{"a", "b"}}
	assert.Equal(t, "the Windows feature(s) a, b cannot be found on this version of Windows", err.Error())

	removed := &RemovedFeatureError{Features: []string{"xps-viewer"}}
	assert.Contains(t, removed.Error(), "xps-viewer")

	busy := &ServicingBusyError{Processes: []string{"tiworker.exe", "dism.exe"}}
	assert.Equal(t, fmt.Sprintf("the Windows servicing stack is busy (%s); try again once it finishes", "tiworker.exe, dism.exe"), busy.Error())
}
