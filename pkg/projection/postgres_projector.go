package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// PostgresProjector stores read models in PostgreSQL. The staleness guard
// lives in the upsert statement itself so replays are safe even with
// concurrent projector instances.
type PostgresProjector struct {
	db *sql.DB
}

// NewPostgresProjector creates a PostgreSQL-backed projector.
func NewPostgresProjector(db *sql.DB) *PostgresProjector {
	return &PostgresProjector{db: db}
}

const projectionSchema = `
CREATE TABLE IF NOT EXISTS run_views (
	tenant_id    TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	workflow_id  TEXT NOT NULL,
	status       TEXT NOT NULL,
	event_seq    BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, run_id)
);
CREATE TABLE IF NOT EXISTS workspace_views (
	tenant_id    TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	name         TEXT NOT NULL,
	vendor       TEXT NOT NULL,
	event_seq    BIGINT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, workspace_id)
);
`

// Init creates the read-model tables if missing.
func (p *PostgresProjector) Init(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, projectionSchema)
	return err
}

func (p *PostgresProjector) UpsertRun(ctx context.Context, view RunView) error {
	if err := view.validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO run_views (tenant_id, run_id, workspace_id, workflow_id, status, event_seq, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, run_id) DO UPDATE
		 SET workspace_id = EXCLUDED.workspace_id,
		     workflow_id = EXCLUDED.workflow_id,
		     status = EXCLUDED.status,
		     event_seq = EXCLUDED.event_seq,
		     updated_at = EXCLUDED.updated_at
		 WHERE run_views.event_seq < EXCLUDED.event_seq`,
		view.TenantID.String(), view.RunID.String(), view.WorkspaceID.String(),
		view.WorkflowID.String(), view.Status, view.EventSeq, view.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run view: %w", err)
	}
	return nil
}

func (p *PostgresProjector) UpsertWorkspace(ctx context.Context, view WorkspaceView) error {
	if err := view.validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO workspace_views (tenant_id, workspace_id, name, vendor, event_seq, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, workspace_id) DO UPDATE
		 SET name = EXCLUDED.name,
		     vendor = EXCLUDED.vendor,
		     event_seq = EXCLUDED.event_seq,
		     updated_at = EXCLUDED.updated_at
		 WHERE workspace_views.event_seq < EXCLUDED.event_seq`,
		view.TenantID.String(), view.WorkspaceID.String(), view.Name,
		view.Vendor, view.EventSeq, view.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert workspace view: %w", err)
	}
	return nil
}

func (p *PostgresProjector) GetRun(ctx context.Context, tenant primitives.TenantID, run primitives.RunID) (RunView, error) {
	var view RunView
	err := p.db.QueryRowContext(ctx,
		`SELECT tenant_id, run_id, workspace_id, workflow_id, status, event_seq, updated_at
		 FROM run_views WHERE tenant_id = $1 AND run_id = $2`,
		tenant.String(), run.String(),
	).Scan(&view.TenantID, &view.RunID, &view.WorkspaceID, &view.WorkflowID,
		&view.Status, &view.EventSeq, &view.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RunView{}, apperr.NotFoundf("run %s not found", run)
	}
	if err != nil {
		return RunView{}, fmt.Errorf("get run view: %w", err)
	}
	return view, nil
}

func (p *PostgresProjector) ListRuns(ctx context.Context, tenant primitives.TenantID) ([]RunView, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT tenant_id, run_id, workspace_id, workflow_id, status, event_seq, updated_at
		 FROM run_views WHERE tenant_id = $1
		 ORDER BY updated_at DESC, run_id ASC`,
		tenant.String())
	if err != nil {
		return nil, fmt.Errorf("list run views: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunView
	for rows.Next() {
		var view RunView
		if err := rows.Scan(&view.TenantID, &view.RunID, &view.WorkspaceID,
			&view.WorkflowID, &view.Status, &view.EventSeq, &view.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list run views: scan: %w", err)
		}
		out = append(out, view)
	}
	return out, rows.Err()
}

func (p *PostgresProjector) ListWorkspaces(ctx context.Context, tenant primitives.TenantID) ([]WorkspaceView, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT tenant_id, workspace_id, name, vendor, event_seq, updated_at
		 FROM workspace_views WHERE tenant_id = $1
		 ORDER BY name ASC`,
		tenant.String())
	if err != nil {
		return nil, fmt.Errorf("list workspace views: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []WorkspaceView
	for rows.Next() {
		var view WorkspaceView
		if err := rows.Scan(&view.TenantID, &view.WorkspaceID, &view.Name,
			&view.Vendor, &view.EventSeq, &view.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list workspace views: scan: %w", err)
		}
		out = append(out, view)
	}
	return out, rows.Err()
}
