package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portarium/core/pkg/authz"
)

func TestDefaultDeny(t *testing.T) {
	table := authz.DefaultTable()

	assert.False(t, table.IsAllowed(nil, authz.ActionRunStart), "no roles grants nothing")
	assert.False(t, table.IsAllowed([]string{}, authz.ActionRunStart))
	assert.False(t, table.IsAllowed([]string{"intern"}, authz.ActionRunStart), "unknown role")
	assert.False(t, table.IsAllowed([]string{"operator"}, authz.Action("run:delete")), "unknown action")
}

func TestDefaultTableGrants(t *testing.T) {
	table := authz.DefaultTable()

	cases := []struct {
		role    string
		action  authz.Action
		allowed bool
	}{
		{"admin", authz.ActionRunStart, true},
		{"admin", authz.ActionApprovalSubmit, true},
		{"admin", authz.ActionWorkspaceRegister, true},
		{"operator", authz.ActionRunStart, true},
		{"operator", authz.ActionApprovalCreate, true},
		{"operator", authz.ActionWorkItemComplete, true},
		{"operator", authz.ActionApprovalSubmit, false},
		{"operator", authz.ActionWorkspaceRegister, false},
		{"approver", authz.ActionApprovalSubmit, true},
		{"approver", authz.ActionRunStart, false},
		{"auditor", authz.ActionEvidenceRead, true},
		{"auditor", authz.ActionRunStart, false},
		{"auditor", authz.ActionApprovalSubmit, false},
	}
	for _, tc := range cases {
		got := table.IsAllowed([]string{tc.role}, tc.action)
		assert.Equalf(t, tc.allowed, got, "%s / %s", tc.role, tc.action)
	}
}

func TestAnyRoleGrants(t *testing.T) {
	table := authz.DefaultTable()
	// auditor alone cannot start runs, but adding operator unlocks it
	assert.False(t, table.IsAllowed([]string{"auditor"}, authz.ActionRunStart))
	assert.True(t, table.IsAllowed([]string{"auditor", "operator"}, authz.ActionRunStart))
}

func TestActionsForSortedUnion(t *testing.T) {
	table := authz.DefaultTable()
	got := table.ActionsFor([]string{"approver", "auditor"})
	require.Equal(t, []authz.Action{authz.ActionApprovalSubmit, authz.ActionEvidenceRead}, got)
}

func TestParseTable(t *testing.T) {
	table, err := authz.ParseTable([]byte(`
roles:
  operator:
    - run:start
    - evidence:read
  breakglass:
    - workspace:register
`))
	require.NoError(t, err)

	assert.True(t, table.IsAllowed([]string{"operator"}, authz.ActionRunStart))
	assert.True(t, table.IsAllowed([]string{"breakglass"}, authz.ActionWorkspaceRegister))
	assert.False(t, table.IsAllowed([]string{"operator"}, authz.ActionWorkspaceRegister))
	// the loaded table replaces defaults entirely
	assert.False(t, table.IsAllowed([]string{"admin"}, authz.ActionRunStart))
}

func TestParseTableRejectsUnknownAction(t *testing.T) {
	_, err := authz.ParseTable([]byte(`
roles:
  operator:
    - run:launch
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run:launch")
}

func TestParseTableRejectsEmpty(t *testing.T) {
	_, err := authz.ParseTable([]byte(`roles: {}`))
	require.Error(t, err)
}
