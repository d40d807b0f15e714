// pkg/planner/errors.go - precondition failures raised before any command runs.

package planner

import (
	"fmt"
	"strings"
)

// UnavailableFeatureError lists every requested feature unknown to this
// OS image in any state.
type UnavailableFeatureError struct {
	Features []string
}

func (e *UnavailableFeatureError) Error() string {
	return fmt.Sprintf("the Windows feature(s) %s cannot be found on this version of Windows",
		strings.Join(e.Features, ", "))
}

// RemovedFeatureError lists requested features whose payload was removed
// from the image and for which no alternate source is available.
type RemovedFeatureError struct {
	Features []string
}

func (e *RemovedFeatureError) Error() string {
	return fmt.Sprintf("the Windows feature(s) %s have been removed from this image and cannot be installed without a source",
		strings.Join(e.Features, ", "))
}

// ServicingBusyError indicates the Windows servicing stack is mid-flight
// and a mutating action would conflict with it.
type ServicingBusyError struct {
	Processes []string
}

func (e *ServicingBusyError) Error() string {
	return fmt.Sprintf("the Windows servicing stack is busy (%s); try again once it finishes",
		strings.Join(e.Processes, ", "))
}
