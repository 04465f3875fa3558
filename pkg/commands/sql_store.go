package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// SQLStore persists aggregates as JSON documents keyed by tenant and id.
// One table per aggregate kind keeps tenant scoping in the primary key.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a database-backed aggregate store.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const aggregateSchema = `
CREATE TABLE IF NOT EXISTS runs (
	tenant_id TEXT NOT NULL,
	run_id    TEXT NOT NULL,
	document  TEXT NOT NULL,
	PRIMARY KEY (tenant_id, run_id)
);
CREATE TABLE IF NOT EXISTS approvals (
	tenant_id   TEXT NOT NULL,
	approval_id TEXT NOT NULL,
	document    TEXT NOT NULL,
	PRIMARY KEY (tenant_id, approval_id)
);
CREATE TABLE IF NOT EXISTS work_items (
	tenant_id    TEXT NOT NULL,
	work_item_id TEXT NOT NULL,
	document     TEXT NOT NULL,
	PRIMARY KEY (tenant_id, work_item_id)
);
CREATE TABLE IF NOT EXISTS workspaces (
	tenant_id    TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	document     TEXT NOT NULL,
	PRIMARY KEY (tenant_id, workspace_id)
);
`

// Init creates the aggregate tables if missing.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, aggregateSchema)
	return err
}

func (s *SQLStore) save(ctx context.Context, table, keyColumn string, tenant primitives.TenantID, id string, aggregate any) error {
	doc, err := json.Marshal(aggregate)
	if err != nil {
		return apperr.Serializationf("marshal %s: %v", table, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (tenant_id, `+keyColumn+`, document)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, `+keyColumn+`) DO UPDATE SET document = EXCLUDED.document`,
		tenant.String(), id, string(doc))
	if err != nil {
		return apperr.Dependencyf("save %s: %v", table, err)
	}
	return nil
}

func (s *SQLStore) load(ctx context.Context, table, keyColumn string, tenant primitives.TenantID, id string, out any) error {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM `+table+` WHERE tenant_id = $1 AND `+keyColumn+` = $2`,
		tenant.String(), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFoundf("%s %s not found", keyColumn, id)
	}
	if err != nil {
		return apperr.Dependencyf("load %s: %v", table, err)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return apperr.Serializationf("decode %s document: %v", table, err)
	}
	return nil
}

func (s *SQLStore) SaveRun(ctx context.Context, run Run) error {
	return s.save(ctx, "runs", "run_id", run.TenantID, run.RunID.String(), run)
}

func (s *SQLStore) GetRun(ctx context.Context, tenant primitives.TenantID, id primitives.RunID) (Run, error) {
	var run Run
	err := s.load(ctx, "runs", "run_id", tenant, id.String(), &run)
	return run, err
}

func (s *SQLStore) SaveApproval(ctx context.Context, approval Approval) error {
	return s.save(ctx, "approvals", "approval_id", approval.TenantID, approval.ApprovalID.String(), approval)
}

func (s *SQLStore) GetApproval(ctx context.Context, tenant primitives.TenantID, id primitives.ApprovalID) (Approval, error) {
	var approval Approval
	err := s.load(ctx, "approvals", "approval_id", tenant, id.String(), &approval)
	return approval, err
}

func (s *SQLStore) SaveWorkItem(ctx context.Context, item WorkItem) error {
	return s.save(ctx, "work_items", "work_item_id", item.TenantID, item.WorkItemID.String(), item)
}

func (s *SQLStore) GetWorkItem(ctx context.Context, tenant primitives.TenantID, id primitives.WorkItemID) (WorkItem, error) {
	var item WorkItem
	err := s.load(ctx, "work_items", "work_item_id", tenant, id.String(), &item)
	return item, err
}

func (s *SQLStore) SaveWorkspace(ctx context.Context, ws Workspace) error {
	return s.save(ctx, "workspaces", "workspace_id", ws.TenantID, ws.WorkspaceID.String(), ws)
}

func (s *SQLStore) GetWorkspace(ctx context.Context, tenant primitives.TenantID, id primitives.WorkspaceID) (Workspace, error) {
	var ws Workspace
	err := s.load(ctx, "workspaces", "workspace_id", tenant, id.String(), &ws)
	return ws, err
}
