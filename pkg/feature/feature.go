// pkg/feature/feature.go - Windows optional feature states and name handling.

package feature

import "strings"

// State describes a feature's status on this OS image.
type State int

const (
	// StateUnavailable means the feature is unknown to this image and
	// cannot be installed at all.
	StateUnavailable State = iota
	// StateEnabled means the feature is installed.
	StateEnabled
	// StateDisabled means the feature is available but not installed.
	StateDisabled
	// StateRemoved means the payload was stripped from the image;
	// installing it requires alternate source media.
	StateRemoved
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateRemoved:
		return "removed"
	default:
		return "unavailable"
	}
}

// Inventory is a snapshot of every feature known to the OS, partitioned
// into the three installable states. The buckets are pairwise disjoint.
type Inventory struct {
	Enabled  map[string]struct{}
	Disabled map[string]struct{}
	Removed  map[string]struct{}
}

// NewInventory returns an empty inventory with all buckets allocated.
func NewInventory() *Inventory {
	return &Inventory{
		Enabled:  make(map[string]struct{}),
		Disabled: make(map[string]struct{}),
		Removed:  make(map[string]struct{}),
	}
}

// State classifies a single feature name.
func (inv *Inventory) State(name string) State {
	name = strings.ToLower(name)
	if _, ok := inv.Enabled[name]; ok {
		return StateEnabled
	}
	if _, ok := inv.Disabled[name]; ok {
		return StateDisabled
	}
	if _, ok := inv.Removed[name]; ok {
		return StateRemoved
	}
	return StateUnavailable
}

// Known reports whether the feature exists on this image in any state.
func (inv *Inventory) Known(name string) bool {
	return inv.State(name) != StateUnavailable
}

// ParseNames normalizes user-supplied feature names. Each value may be a
// single name or a comma-separated list. Names are lowercased, trimmed,
// and deduplicated while preserving first-seen order.
func ParseNames(values ...string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			name := strings.ToLower(strings.TrimSpace(part))
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}
