package workflows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// SQLStore persists definitions in PostgreSQL or SQLite; the statements
// stick to the placeholder and type surface both accept.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a database-backed definition store.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const workflowSchema = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
	tenant_id    TEXT NOT NULL,
	workflow_id  TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	name         TEXT NOT NULL,
	version      TEXT NOT NULL,
	tier         TEXT NOT NULL,
	active       BOOLEAN NOT NULL,
	spec         TEXT NOT NULL,
	PRIMARY KEY (tenant_id, workflow_id)
);
`

// Init creates the definitions table if missing.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, workflowSchema)
	return err
}

func (s *SQLStore) Put(ctx context.Context, def Definition) error {
	spec, err := json.Marshal(def.Spec)
	if err != nil {
		return apperr.Serializationf("marshal workflow spec: %v", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_definitions
		 (tenant_id, workflow_id, workspace_id, name, version, tier, active, spec)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tenant_id, workflow_id) DO UPDATE
		 SET workspace_id = EXCLUDED.workspace_id,
		     name = EXCLUDED.name,
		     version = EXCLUDED.version,
		     tier = EXCLUDED.tier,
		     active = EXCLUDED.active,
		     spec = EXCLUDED.spec`,
		def.TenantID.String(), def.WorkflowID.String(), def.WorkspaceID.String(),
		def.Name, def.Version, string(def.Tier), def.Active, spec,
	)
	if err != nil {
		return fmt.Errorf("put workflow definition: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, tenant primitives.TenantID, id primitives.WorkflowID) (Definition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, workflow_id, workspace_id, name, version, tier, active, spec
		 FROM workflow_definitions WHERE tenant_id = $1 AND workflow_id = $2`,
		tenant.String(), id.String())
	def, err := scanDefinition(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Definition{}, apperr.NotFoundf("workflow %s not found", id)
	}
	if err != nil {
		return Definition{}, fmt.Errorf("get workflow definition: %w", err)
	}
	return def, nil
}

func (s *SQLStore) ActiveByWorkspace(ctx context.Context, tenant primitives.TenantID, ws primitives.WorkspaceID) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, workflow_id, workspace_id, name, version, tier, active, spec
		 FROM workflow_definitions
		 WHERE tenant_id = $1 AND workspace_id = $2 AND active
		 ORDER BY name ASC`,
		tenant.String(), ws.String())
	if err != nil {
		return nil, fmt.Errorf("list workflow definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Definition
	for rows.Next() {
		def, err := scanDefinition(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list workflow definitions: %w", err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func scanDefinition(scan func(...any) error) (Definition, error) {
	var (
		def  Definition
		tier string
		spec []byte
	)
	if err := scan(&def.TenantID, &def.WorkflowID, &def.WorkspaceID,
		&def.Name, &def.Version, &tier, &def.Active, &spec); err != nil {
		return Definition{}, err
	}
	def.Tier = ExecutionTier(tier)
	if err := json.Unmarshal(spec, &def.Spec); err != nil {
		return Definition{}, fmt.Errorf("corrupt spec for workflow %s: %w", def.WorkflowID, err)
	}
	return def, nil
}
