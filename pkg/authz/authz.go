// Package authz answers "may this principal perform this action" from a
// static role-to-action table. The table is default-deny: an unknown role,
// an unknown action, or an empty role list all answer no.
package authz

import (
	"sort"

	"github.com/portarium/core/pkg/primitives"
)

// Role names a coarse grant bundle attached to a principal.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleApprover Role = "approver"
	RoleAuditor  Role = "auditor"
)

// Action names one guarded operation.
type Action string

const (
	ActionRunStart          Action = "run:start"
	ActionApprovalCreate    Action = "approval:create"
	ActionApprovalSubmit    Action = "approval:submit"
	ActionWorkItemComplete  Action = "workitem:complete"
	ActionWorkspaceRegister Action = "workspace:register"
	ActionEvidenceRead      Action = "evidence:read"
)

// Table maps roles to the actions they may perform.
type Table map[Role]map[Action]bool

// DefaultTable returns the built-in grants. Admin holds every action;
// auditor is read-only.
func DefaultTable() Table {
	all := []Action{
		ActionRunStart,
		ActionApprovalCreate,
		ActionApprovalSubmit,
		ActionWorkItemComplete,
		ActionWorkspaceRegister,
		ActionEvidenceRead,
	}
	t := Table{
		RoleAdmin:    actionSet(all...),
		RoleOperator: actionSet(ActionRunStart, ActionApprovalCreate, ActionWorkItemComplete, ActionEvidenceRead),
		RoleApprover: actionSet(ActionApprovalSubmit, ActionEvidenceRead),
		RoleAuditor:  actionSet(ActionEvidenceRead),
	}
	return t
}

func actionSet(actions ...Action) map[Action]bool {
	set := make(map[Action]bool, len(actions))
	for _, a := range actions {
		set[a] = true
	}
	return set
}

// IsAllowed reports whether any of the principal's roles grants action.
// It is a pure function of its inputs and never errors; absence of a
// grant is simply false.
func (t Table) IsAllowed(roles []string, action Action) bool {
	for _, r := range roles {
		if t[Role(r)][action] {
			return true
		}
	}
	return false
}

// Allows reports whether the request context carries a role granting action.
func (t Table) Allows(actx primitives.AppContext, action Action) bool {
	return t.IsAllowed(actx.Roles(), action)
}

// ActionsFor lists the actions the given roles grant, sorted for stable
// output in logs and responses.
func (t Table) ActionsFor(roles []string) []Action {
	seen := map[Action]bool{}
	for _, r := range roles {
		for a, ok := range t[Role(r)] {
			if ok {
				seen[a] = true
			}
		}
	}
	out := make([]Action, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
