package authz

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/portarium/core/pkg/apperr"
)

// tableFile is the on-disk shape of a role table.
//
//	roles:
//	  operator:
//	    - run:start
//	    - evidence:read
type tableFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// LoadTable reads a role table from a YAML file. The loaded table fully
// replaces the defaults; it is not merged with them.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses YAML role-table bytes. Unknown actions are rejected so
// a typo in a grant fails loudly instead of silently denying.
func ParseTable(data []byte) (Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperr.Validationf("parse role table: %v", err)
	}
	if len(file.Roles) == 0 {
		return nil, apperr.Validationf("role table defines no roles")
	}

	known := actionSet(
		ActionRunStart,
		ActionApprovalCreate,
		ActionApprovalSubmit,
		ActionWorkItemComplete,
		ActionWorkspaceRegister,
		ActionEvidenceRead,
	)
	t := make(Table, len(file.Roles))
	for role, actions := range file.Roles {
		if role == "" {
			return nil, apperr.Validationf("role table contains an empty role name")
		}
		set := make(map[Action]bool, len(actions))
		for _, a := range actions {
			action := Action(a)
			if !known[action] {
				return nil, apperr.Validationf("role %q grants unknown action %q", role, a)
			}
			set[action] = true
		}
		t[Role(role)] = set
	}
	return t, nil
}
