package workflows

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portarium/core/pkg/apperr"
)

func validDefinition() Definition {
	return Definition{
		WorkflowID:  "wf-1",
		TenantID:    "t1",
		WorkspaceID: "ws-1",
		Name:        "provision-account",
		Version:     "1.2.0",
		Tier:        TierStandard,
		Active:      true,
		Spec: map[string]any{
			"steps": []any{
				map[string]any{"name": "create", "operation": "crm.account.create"},
				map[string]any{"name": "notify", "operation": "email.send", "input": map[string]any{"template": "welcome"}},
			},
			"timeoutSeconds": 300,
		},
	}
}

func TestValidatorAcceptsValidDefinition(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.NoError(t, v.Validate(validDefinition()))
}

func TestValidatorRejectsBadVersion(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	def := validDefinition()
	def.Version = "latest"
	err = v.Validate(def)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestValidatorRejectsUnknownTier(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	def := validDefinition()
	def.Tier = "experimental"
	assert.True(t, apperr.Is(v.Validate(def), apperr.KindValidation))
}

func TestValidatorRejectsBadSpec(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	cases := map[string]map[string]any{
		"missing steps": {"timeoutSeconds": 10},
		"empty steps":   {"steps": []any{}},
		"step without operation": {"steps": []any{
			map[string]any{"name": "create"},
		}},
		"zero timeout": {
			"steps":          []any{map[string]any{"name": "a", "operation": "b"}},
			"timeoutSeconds": 0,
		},
	}
	for name, spec := range cases {
		def := validDefinition()
		def.Spec = spec
		assert.Truef(t, apperr.Is(v.Validate(def), apperr.KindValidation), "case %q", name)
	}
}

func TestValidatorRequiresIdentity(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	def := validDefinition()
	def.WorkspaceID = ""
	assert.True(t, apperr.Is(v.Validate(def), apperr.KindValidation))
}

func TestSatisfiesConstraint(t *testing.T) {
	def := validDefinition()

	ok, err := def.SatisfiesConstraint(">= 1.0.0, < 2.0.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = def.SatisfiesConstraint(">= 2.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = def.SatisfiesConstraint("not-a-constraint")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	def := validDefinition()

	require.NoError(t, s.Put(ctx, def))
	got, err := s.Get(ctx, "t1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)

	_, err = s.Get(ctx, "t2", "wf-1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "tenant isolation")
}

func TestMemoryStoreActiveByWorkspace(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	active := validDefinition()
	inactive := validDefinition()
	inactive.WorkflowID = "wf-2"
	inactive.Name = "archive-account"
	inactive.Active = false
	elsewhere := validDefinition()
	elsewhere.WorkflowID = "wf-3"
	elsewhere.WorkspaceID = "ws-other"

	for _, def := range []Definition{active, inactive, elsewhere} {
		require.NoError(t, s.Put(ctx, def))
	}

	defs, err := s.ActiveByWorkspace(ctx, "t1", "ws-1")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, active.WorkflowID, defs[0].WorkflowID)
}

func TestSQLStoreGetRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := validDefinition()
	spec, err := json.Marshal(def.Spec)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tenant_id, workflow_id, workspace_id, name, version, tier, active, spec`)).
		WithArgs("t1", "wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "workflow_id", "workspace_id", "name", "version", "tier", "active", "spec"}).
			AddRow("t1", "wf-1", "ws-1", def.Name, def.Version, "standard", true, spec))

	got, err := NewSQLStore(db).Get(context.Background(), "t1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)
	assert.Equal(t, TierStandard, got.Tier)
	require.NotNil(t, got.Spec["steps"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT tenant_id, workflow_id`)).
		WithArgs("t1", "absent").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "workflow_id", "workspace_id", "name", "version", "tier", "active", "spec"}))

	_, err = NewSQLStore(db).Get(context.Background(), "t1", "absent")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorePut(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO workflow_definitions`)).
		WithArgs("t1", "wf-1", "ws-1", "provision-account", "1.2.0", "standard", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewSQLStore(db).Put(context.Background(), validDefinition()))
	require.NoError(t, mock.ExpectationsWereMet())
}
