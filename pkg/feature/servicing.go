// pkg/feature/servicing.go - group policy probe for a configured local source path.

package feature

import (
	"golang.org/x/sys/windows/registry"

	"github.com/windowsadmins/winfeature/pkg/logging"
)

// Group policy "Specify settings for optional component installation"
// records an alternate source path here. When set, removed features can
// be installed without an explicit -Source argument.
const servicingPolicyKey = `SOFTWARE\Microsoft\Windows\CurrentVersion\Policies\Servicing`

// HasLocalSourceOverride reports whether group policy configured a local
// source path for feature payloads.
func HasLocalSourceOverride() bool {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, servicingPolicyKey, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer k.Close()

	path, _, err := k.GetStringValue("LocalSourcePath")
	if err != nil || path == "" {
		return false
	}
	logging.Debug("Group policy local source path configured", "path", path)
	return true
}
