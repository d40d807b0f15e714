// pkg/planner/planner.go - decides which requested features actually need work.
//
// Every action follows the same shape: validate preconditions, diff the
// request against the cached inventory, build the cmdlet invocation for
// the remainder, run it, and invalidate the cache. Precondition failures
// abort the whole batch before any command is built, so one bad feature
// name never partially applies a request.

package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/windowsadmins/winfeature/pkg/feature"
	"github.com/windowsadmins/winfeature/pkg/logging"
	"github.com/windowsadmins/winfeature/pkg/platform"
	"github.com/windowsadmins/winfeature/pkg/powershell"
)

// Action is the requested operation on a set of features.
type Action string

const (
	ActionInstall Action = "install"
	ActionRemove  Action = "remove"
	ActionDelete  Action = "delete"
)

// DefaultTimeout bounds feature commands when the request does not set one.
const DefaultTimeout = 600 * time.Second

// Request describes one invocation against a set of feature names.
// Features must already be normalized via feature.ParseNames.
type Request struct {
	Action                 Action
	Features               []string
	Source                 string
	IncludeAllSubFeatures  bool
	IncludeManagementTools bool
	Timeout                time.Duration
}

// Plan is the computed outcome of precondition checks and state diffing.
// An empty Command means the system is already converged and nothing runs.
type Plan struct {
	Action   Action
	Features []string
	Command  string
}

// NoOp reports whether the plan requires no command execution.
func (p *Plan) NoOp() bool { return p.Command == "" }

// Planner plans and applies feature actions against one platform context
// and one inventory cache.
type Planner struct {
	platform *platform.Context
	cache    *feature.Cache
	shell    powershell.Runner

	// localSourcePolicy and servicingBusy are abstracted for testing
	localSourcePolicy func() bool
	servicingBusy     func() []string
}

// New returns a Planner wired to the real registry and process table.
func New(plat *platform.Context, cache *feature.Cache, shell powershell.Runner) *Planner {
	return &Planner{
		platform:          plat,
		cache:             cache,
		shell:             shell,
		localSourcePolicy: feature.HasLocalSourceOverride,
		servicingBusy:     runningServicingProcesses,
	}
}

// Plan validates the request and computes the subset of features that
// actually needs work, without executing anything.
func (p *Planner) Plan(req Request) (*Plan, error) {
	if err := p.platform.RequirePowerShellAtLeast3(); err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionInstall:
		return p.planInstall(req)
	case ActionRemove:
		return p.planRemove(req)
	case ActionDelete:
		return p.planDelete(req)
	default:
		return nil, fmt.Errorf("unknown action: %s", req.Action)
	}
}

// Apply plans the request and, unless converged, runs the resulting
// command and invalidates the inventory cache. The cache is only
// invalidated after success; a failed command leaves it untouched since
// nothing is known to have changed.
func (p *Planner) Apply(req Request) (*Plan, string, error) {
	plan, err := p.Plan(req)
	if err != nil {
		return nil, "", err
	}

	if plan.NoOp() {
		logging.Info("All requested features already converged",
			"action", string(req.Action),
			"features", strings.Join(req.Features, ","),
		)
		return plan, "", nil
	}

	if busy := p.servicingBusy(); len(busy) > 0 {
		return plan, "", &ServicingBusyError{Processes: busy}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logging.Info("Running Windows feature command",
		"action", string(req.Action),
		"features", strings.Join(plan.Features, ","),
		"command", plan.Command,
		"timeout", timeout.String(),
	)

	out, err := p.shell.Run(plan.Command, timeout)
	if err != nil {
		return plan, out, err
	}

	logging.Info("Feature command completed", "output", strings.TrimSpace(out))
	p.cache.Invalidate()
	return plan, out, nil
}

func (p *Planner) planInstall(req Request) (*Plan, error) {
	inv, err := p.cache.Read()
	if err != nil {
		return nil, err
	}

	if err := requireAvailable(inv, req.Features); err != nil {
		return nil, err
	}

	// An explicit source, or a group-policy source path on releases
	// newer than 2012, lets removed features reinstall from media, so
	// the removed-state check is skipped entirely.
	sourceAvailable := req.Source != "" || (p.platform.OSVersion > 6.2 && p.localSourcePolicy())
	if !sourceAvailable {
		if err := requireNotRemoved(inv, req.Features); err != nil {
			return nil, err
		}
	}

	toInstall := intersect(req.Features, inv.Disabled)
	plan := &Plan{Action: ActionInstall, Features: toInstall}
	if len(toInstall) == 0 {
		return plan, nil
	}

	var b strings.Builder
	b.WriteString(p.platform.InstallCmdlet())
	b.WriteString(" ")
	b.WriteString(strings.Join(toInstall, ","))
	if req.IncludeAllSubFeatures {
		b.WriteString(" -IncludeAllSubFeature")
	}
	if p.platform.Modern() {
		if req.Source != "" {
			b.WriteString(` -Source "` + req.Source + `"`)
		}
		if req.IncludeManagementTools {
			b.WriteString(" -IncludeManagementTools")
		}
	} else if req.Source != "" || req.IncludeManagementTools {
		logging.Warn("The source and management tools options require Windows 2012 or later and will be ignored",
			"platform_version", fmt.Sprintf("%.1f", p.platform.OSVersion),
		)
	}

	plan.Command = b.String()
	return plan, nil
}

// planRemove needs no availability or removed-state checks: removing a
// feature the OS does not know about is simply a no-op.
func (p *Planner) planRemove(req Request) (*Plan, error) {
	inv, err := p.cache.Read()
	if err != nil {
		return nil, err
	}

	toRemove := intersect(req.Features, inv.Enabled)
	plan := &Plan{Action: ActionRemove, Features: toRemove}
	if len(toRemove) == 0 {
		return plan, nil
	}

	plan.Command = p.platform.RemoveCmdlet() + " " + strings.Join(toRemove, ",")
	return plan, nil
}

func (p *Planner) planDelete(req Request) (*Plan, error) {
	if err := p.platform.RequireDeleteSupported(); err != nil {
		return nil, err
	}

	inv, err := p.cache.Read()
	if err != nil {
		return nil, err
	}

	if err := requireAvailable(inv, req.Features); err != nil {
		return nil, err
	}

	toDelete := intersectFunc(req.Features, func(name string) bool {
		state := inv.State(name)
		return state == feature.StateEnabled || state == feature.StateDisabled
	})
	plan := &Plan{Action: ActionDelete, Features: toDelete}
	if len(toDelete) == 0 {
		return plan, nil
	}

	plan.Command = "Uninstall-WindowsFeature " + strings.Join(toDelete, ",") + " -Remove"
	return plan, nil
}

// requireAvailable fails when any requested feature is unknown to this
// image in every state.
func requireAvailable(inv *feature.Inventory, names []string) error {
	var missing []string
	for _, name := range names {
		if !inv.Known(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &UnavailableFeatureError{Features: missing}
	}
	return nil
}

// requireNotRemoved fails when any requested feature was stripped from
// the image.
func requireNotRemoved(inv *feature.Inventory, names []string) error {
	var removed []string
	for _, name := range names {
		if inv.State(name) == feature.StateRemoved {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		return &RemovedFeatureError{Features: removed}
	}
	return nil
}

// intersect keeps the names present in the bucket, preserving request
// order. Bucket keys are lowercase, so lookups fold case the same way
// Inventory.State does.
func intersect(names []string, bucket map[string]struct{}) []string {
	return intersectFunc(names, func(name string) bool {
		_, ok := bucket[strings.ToLower(name)]
		return ok
	})
}

func intersectFunc(names []string, keep func(string) bool) []string {
	var result []string
	for _, name := range names {
		if keep(name) {
			result = append(result, name)
		}
	}
	return result
}
