// Package idempotency deduplicates command execution by
// (tenant, command, caller-supplied key). The pipeline consults Get before
// running side effects and calls Put exactly once with the final result; a
// lost Put race returns the winner's stored record so both callers observe
// the identical response.
package idempotency

import (
	"fmt"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// Key scopes one logical command execution. Tenant scoping means two tenants
// reusing the same human-chosen request key never collide.
type Key struct {
	TenantID   primitives.TenantID
	Command    string
	RequestKey string
}

// String renders the storage key.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.Command, k.RequestKey)
}

// Validate rejects incomplete keys.
func (k Key) Validate() error {
	if k.TenantID == "" || k.Command == "" || k.RequestKey == "" {
		return apperr.Validationf("idempotency key requires tenant, command, and request key")
	}
	return nil
}
