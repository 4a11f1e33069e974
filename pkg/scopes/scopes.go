// Package scopes implements scope-based authorization for webhook handlers.
package scopes

import (
	"slices"

	"github.com/kiket-dev/kiket-go-sdk/pkg/consts"
)

// Missing returns every required scope absent from the granted list,
// preserving the order of required.  A wildcard grant authorizes everything.
func Missing(required, granted []string) []string {
	if slices.Contains(granted, consts.ScopeWildcard) {
		return nil
	}

	missing := []string{}
	for _, scope := range required {
		if !slices.Contains(granted, scope) {
			missing = append(missing, scope)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return missing
}

// Authorized reports whether granted satisfies every required scope.
func Authorized(required, granted []string) bool {
	return len(Missing(required, granted)) == 0
}
