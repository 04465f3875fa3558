package commands

import (
	"context"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/authz"
	"github.com/portarium/core/pkg/events"
	"github.com/portarium/core/pkg/evidence"
	"github.com/portarium/core/pkg/orchestrator"
	"github.com/portarium/core/pkg/primitives"
	"github.com/portarium/core/pkg/projection"
)

// Command names, used for idempotency scoping, rate-limit rules, and
// policy guard lookup.
const (
	CmdStartWorkflow     = "startWorkflow"
	CmdCreateApproval    = "createApproval"
	CmdSubmitApproval    = "submitApproval"
	CmdCompleteWorkItem  = "completeWorkItem"
	CmdRegisterWorkspace = "registerWorkspace"
)

// StartWorkflowInput requests a new run of a registered workflow.
type StartWorkflowInput struct {
	RequestKey  string
	WorkflowID  primitives.WorkflowID
	WorkspaceID primitives.WorkspaceID
	Parameters  map[string]any
}

// StartWorkflowOutput is the stored result of a run start.
type StartWorkflowOutput struct {
	RunID  primitives.RunID `json:"runId"`
	Status RunStatus        `json:"status"`
}

// StartWorkflow validates the workflow, persists a pending run, records
// evidence, publishes the run-started event, and hands the run to the
// orchestrator under a tenant-scoped idempotency key.
func (p *Pipeline) StartWorkflow(ctx context.Context, actx primitives.AppContext, in StartWorkflowInput) (StartWorkflowOutput, Result, error) {
	var out StartWorkflowOutput
	res, err := p.execute(ctx, actx, execution{
		command:    CmdStartWorkflow,
		action:     authz.ActionRunStart,
		requestKey: in.RequestKey,
		input: map[string]any{
			"workflowId":  in.WorkflowID.String(),
			"workspaceId": in.WorkspaceID.String(),
		},
		run: func(ctx context.Context) (effects, error) {
			return p.startWorkflow(ctx, actx, in)
		},
	})
	if err != nil {
		return StartWorkflowOutput{}, Result{}, err
	}
	if err := res.decode(&out); err != nil {
		return StartWorkflowOutput{}, Result{}, err
	}
	return out, res, nil
}

func (p *Pipeline) startWorkflow(ctx context.Context, actx primitives.AppContext, in StartWorkflowInput) (effects, error) {
	if in.WorkflowID == "" || in.WorkspaceID == "" {
		return effects{}, apperr.Validationf("startWorkflow requires workflowId and workspaceId")
	}
	if p.deps.Workflows == nil {
		return effects{}, apperr.Dependencyf("no workflow store configured")
	}
	def, err := p.deps.Workflows.Get(ctx, actx.TenantID(), in.WorkflowID)
	if err != nil {
		return effects{}, err
	}
	if def.WorkspaceID != in.WorkspaceID {
		return effects{}, apperr.Forbiddenf("workflow %s does not belong to workspace %s", in.WorkflowID, in.WorkspaceID)
	}
	if !def.Active {
		return effects{}, apperr.Validationf("workflow %s is not active", in.WorkflowID)
	}

	now := p.deps.Now()
	run := Run{
		TenantID:    actx.TenantID(),
		RunID:       primitives.RunID("run-" + p.deps.NewID()),
		WorkspaceID: in.WorkspaceID,
		WorkflowID:  in.WorkflowID,
		Status:      RunPending,
		Parameters:  in.Parameters,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.deps.Store.SaveRun(ctx, run); err != nil {
		return effects{}, apperr.Dependencyf("save run: %v", err)
	}

	return effects{
		result: StartWorkflowOutput{RunID: run.RunID, Status: run.Status},
		drafts: []evidence.Draft{{
			Category: evidence.CategoryAction,
			Actor:    actorFrom(actx),
			Summary:  "run started for workflow " + def.Name,
			Payload: map[string]any{
				"runId":       run.RunID.String(),
				"workflowId":  in.WorkflowID.String(),
				"workspaceId": in.WorkspaceID.String(),
				"version":     def.Version,
			},
			CorrelationID: actx.CorrelationID(),
		}},
		events: []events.NewEnvelopeParams{{
			Type:          "io.portarium.run.started",
			Subject:       run.RunID.String(),
			TenantID:      actx.TenantID(),
			CorrelationID: actx.CorrelationID(),
			RunID:         run.RunID,
			Data: map[string]any{
				"workflowId":  in.WorkflowID.String(),
				"workspaceId": in.WorkspaceID.String(),
			},
			Now: now,
		}},
		project: func(ctx context.Context, seq uint64) error {
			return p.deps.Projector.UpsertRun(ctx, projection.RunView{
				TenantID:    run.TenantID,
				RunID:       run.RunID,
				WorkspaceID: run.WorkspaceID,
				WorkflowID:  run.WorkflowID,
				Status:      string(run.Status),
				EventSeq:    seq,
				UpdatedAt:   now,
			})
		},
		invalidate: func(ctx context.Context) {
			p.deps.Invalidator.OnRunChanged(ctx, actx.TenantID())
		},
		handoff: func(ctx context.Context) error {
			if p.deps.Orchestrator == nil {
				return nil
			}
			_, err := p.deps.Orchestrator.StartRun(ctx, orchestrator.StartRunInput{
				TenantID:       actx.TenantID(),
				WorkspaceID:    in.WorkspaceID,
				WorkflowID:     in.WorkflowID,
				RunID:          run.RunID,
				IdempotencyKey: orchestrator.StartKey(actx.TenantID(), in.RequestKey),
				Parameters:     in.Parameters,
			})
			return err
		},
	}, nil
}

// CreateApprovalInput requests a pending approval on a run.
type CreateApprovalInput struct {
	RequestKey string
	RunID      primitives.RunID
	Summary    string
}

// CreateApprovalOutput is the stored result of an approval creation.
type CreateApprovalOutput struct {
	ApprovalID primitives.ApprovalID `json:"approvalId"`
	RunID      primitives.RunID      `json:"runId"`
	Status     ApprovalStatus        `json:"status"`
}

// CreateApproval attaches a pending approval to an existing run.
func (p *Pipeline) CreateApproval(ctx context.Context, actx primitives.AppContext, in CreateApprovalInput) (CreateApprovalOutput, Result, error) {
	var out CreateApprovalOutput
	res, err := p.execute(ctx, actx, execution{
		command:    CmdCreateApproval,
		action:     authz.ActionApprovalCreate,
		requestKey: in.RequestKey,
		input:      map[string]any{"runId": in.RunID.String()},
		run: func(ctx context.Context) (effects, error) {
			return p.createApproval(ctx, actx, in)
		},
	})
	if err != nil {
		return CreateApprovalOutput{}, Result{}, err
	}
	if err := res.decode(&out); err != nil {
		return CreateApprovalOutput{}, Result{}, err
	}
	return out, res, nil
}

func (p *Pipeline) createApproval(ctx context.Context, actx primitives.AppContext, in CreateApprovalInput) (effects, error) {
	if in.RunID == "" {
		return effects{}, apperr.Validationf("createApproval requires a runId")
	}
	if in.Summary == "" {
		return effects{}, apperr.Validationf("createApproval requires a summary")
	}
	run, err := p.deps.Store.GetRun(ctx, actx.TenantID(), in.RunID)
	if err != nil {
		return effects{}, err
	}

	now := p.deps.Now()
	approval := Approval{
		TenantID:    actx.TenantID(),
		ApprovalID:  primitives.ApprovalID("appr-" + p.deps.NewID()),
		RunID:       run.RunID,
		WorkspaceID: run.WorkspaceID,
		Summary:     in.Summary,
		Status:      ApprovalPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.deps.Store.SaveApproval(ctx, approval); err != nil {
		return effects{}, apperr.Dependencyf("save approval: %v", err)
	}

	return effects{
		result: CreateApprovalOutput{ApprovalID: approval.ApprovalID, RunID: run.RunID, Status: approval.Status},
		drafts: []evidence.Draft{{
			Category: evidence.CategoryApproval,
			Actor:    actorFrom(actx),
			Summary:  "approval requested: " + in.Summary,
			Payload: map[string]any{
				"approvalId": approval.ApprovalID.String(),
				"runId":      run.RunID.String(),
			},
			CorrelationID: actx.CorrelationID(),
		}},
		events: []events.NewEnvelopeParams{{
			Type:          "io.portarium.approval.created",
			Subject:       approval.ApprovalID.String(),
			TenantID:      actx.TenantID(),
			CorrelationID: actx.CorrelationID(),
			RunID:         run.RunID,
			Data:          map[string]any{"summary": in.Summary},
			Now:           now,
		}},
		invalidate: func(ctx context.Context) {
			p.deps.Invalidator.OnApprovalChanged(ctx, actx.TenantID())
		},
	}, nil
}

// SubmitApprovalInput decides a pending approval.
type SubmitApprovalInput struct {
	RequestKey  string
	ApprovalID  primitives.ApprovalID
	WorkspaceID primitives.WorkspaceID
	Approve     bool
}

// SubmitApprovalOutput is the stored result of an approval decision.
type SubmitApprovalOutput struct {
	ApprovalID primitives.ApprovalID `json:"approvalId"`
	Status     ApprovalStatus        `json:"status"`
}

// SubmitApproval records the decision and signals the waiting run. Only
// pending approvals in the caller's claimed workspace can be decided.
func (p *Pipeline) SubmitApproval(ctx context.Context, actx primitives.AppContext, in SubmitApprovalInput) (SubmitApprovalOutput, Result, error) {
	var out SubmitApprovalOutput
	res, err := p.execute(ctx, actx, execution{
		command:    CmdSubmitApproval,
		action:     authz.ActionApprovalSubmit,
		requestKey: in.RequestKey,
		input: map[string]any{
			"approvalId": in.ApprovalID.String(),
			"approve":    in.Approve,
		},
		run: func(ctx context.Context) (effects, error) {
			return p.submitApproval(ctx, actx, in)
		},
	})
	if err != nil {
		return SubmitApprovalOutput{}, Result{}, err
	}
	if err := res.decode(&out); err != nil {
		return SubmitApprovalOutput{}, Result{}, err
	}
	return out, res, nil
}

func (p *Pipeline) submitApproval(ctx context.Context, actx primitives.AppContext, in SubmitApprovalInput) (effects, error) {
	if in.ApprovalID == "" || in.WorkspaceID == "" {
		return effects{}, apperr.Validationf("submitApproval requires approvalId and workspaceId")
	}
	approval, err := p.deps.Store.GetApproval(ctx, actx.TenantID(), in.ApprovalID)
	if err != nil {
		return effects{}, err
	}
	if approval.WorkspaceID != in.WorkspaceID {
		return effects{}, apperr.Forbiddenf("approval %s does not belong to workspace %s", in.ApprovalID, in.WorkspaceID)
	}
	if approval.Status != ApprovalPending {
		return effects{}, apperr.Conflictf("approval %s is already %s", in.ApprovalID, approval.Status)
	}

	now := p.deps.Now()
	approval.Status = ApprovalRejected
	if in.Approve {
		approval.Status = ApprovalApproved
	}
	approval.DecidedBy = actx.PrincipalID()
	approval.UpdatedAt = now
	if err := p.deps.Store.SaveApproval(ctx, approval); err != nil {
		return effects{}, apperr.Dependencyf("save approval: %v", err)
	}

	return effects{
		result: SubmitApprovalOutput{ApprovalID: approval.ApprovalID, Status: approval.Status},
		drafts: []evidence.Draft{{
			Category: evidence.CategoryApproval,
			Actor:    actorFrom(actx),
			Summary:  "approval " + string(approval.Status),
			Payload: map[string]any{
				"approvalId": approval.ApprovalID.String(),
				"runId":      approval.RunID.String(),
				"decision":   string(approval.Status),
			},
			CorrelationID: actx.CorrelationID(),
		}},
		events: []events.NewEnvelopeParams{{
			Type:          "io.portarium.approval.submitted",
			Subject:       approval.ApprovalID.String(),
			TenantID:      actx.TenantID(),
			CorrelationID: actx.CorrelationID(),
			RunID:         approval.RunID,
			Data:          map[string]any{"decision": string(approval.Status)},
			Now:           now,
		}},
		invalidate: func(ctx context.Context) {
			p.deps.Invalidator.OnApprovalChanged(ctx, actx.TenantID())
		},
		handoff: func(ctx context.Context) error {
			if p.deps.Orchestrator == nil {
				return nil
			}
			return p.deps.Orchestrator.SignalApproval(ctx, actx.TenantID(), approval.RunID, in.Approve)
		},
	}, nil
}

// CompleteWorkItemInput finishes an open work item.
type CompleteWorkItemInput struct {
	RequestKey string
	WorkItemID primitives.WorkItemID
}

// CompleteWorkItemOutput is the stored result of a work item completion.
type CompleteWorkItemOutput struct {
	WorkItemID primitives.WorkItemID `json:"workItemId"`
	Status     WorkItemStatus        `json:"status"`
}

// CompleteWorkItem marks an open work item completed by the caller.
func (p *Pipeline) CompleteWorkItem(ctx context.Context, actx primitives.AppContext, in CompleteWorkItemInput) (CompleteWorkItemOutput, Result, error) {
	var out CompleteWorkItemOutput
	res, err := p.execute(ctx, actx, execution{
		command:    CmdCompleteWorkItem,
		action:     authz.ActionWorkItemComplete,
		requestKey: in.RequestKey,
		input:      map[string]any{"workItemId": in.WorkItemID.String()},
		run: func(ctx context.Context) (effects, error) {
			return p.completeWorkItem(ctx, actx, in)
		},
	})
	if err != nil {
		return CompleteWorkItemOutput{}, Result{}, err
	}
	if err := res.decode(&out); err != nil {
		return CompleteWorkItemOutput{}, Result{}, err
	}
	return out, res, nil
}

func (p *Pipeline) completeWorkItem(ctx context.Context, actx primitives.AppContext, in CompleteWorkItemInput) (effects, error) {
	if in.WorkItemID == "" {
		return effects{}, apperr.Validationf("completeWorkItem requires a workItemId")
	}
	item, err := p.deps.Store.GetWorkItem(ctx, actx.TenantID(), in.WorkItemID)
	if err != nil {
		return effects{}, err
	}
	if item.Status != WorkItemOpen {
		return effects{}, apperr.Conflictf("work item %s is already %s", in.WorkItemID, item.Status)
	}

	now := p.deps.Now()
	item.Status = WorkItemCompleted
	item.CompletedBy = actx.PrincipalID()
	item.UpdatedAt = now
	if err := p.deps.Store.SaveWorkItem(ctx, item); err != nil {
		return effects{}, apperr.Dependencyf("save work item: %v", err)
	}

	return effects{
		result: CompleteWorkItemOutput{WorkItemID: item.WorkItemID, Status: item.Status},
		drafts: []evidence.Draft{{
			Category: evidence.CategoryAction,
			Actor:    actorFrom(actx),
			Summary:  "work item completed: " + item.Title,
			Payload: map[string]any{
				"workItemId": item.WorkItemID.String(),
				"runId":      item.RunID.String(),
			},
			CorrelationID: actx.CorrelationID(),
		}},
		events: []events.NewEnvelopeParams{{
			Type:          "io.portarium.workitem.completed",
			Subject:       item.WorkItemID.String(),
			TenantID:      actx.TenantID(),
			CorrelationID: actx.CorrelationID(),
			RunID:         item.RunID,
			Data:          map[string]any{"title": item.Title},
			Now:           now,
		}},
		invalidate: func(ctx context.Context) {
			p.deps.Invalidator.OnRunChanged(ctx, actx.TenantID())
		},
	}, nil
}

// RegisterWorkspaceInput connects an external work system.
type RegisterWorkspaceInput struct {
	RequestKey  string
	WorkspaceID primitives.WorkspaceID
	Name        string
	Vendor      string
}

// RegisterWorkspaceOutput is the stored result of a workspace registration.
type RegisterWorkspaceOutput struct {
	WorkspaceID primitives.WorkspaceID `json:"workspaceId"`
}

// RegisterWorkspace creates a workspace. Registering an already-taken
// workspace ID is a Conflict.
func (p *Pipeline) RegisterWorkspace(ctx context.Context, actx primitives.AppContext, in RegisterWorkspaceInput) (RegisterWorkspaceOutput, Result, error) {
	var out RegisterWorkspaceOutput
	res, err := p.execute(ctx, actx, execution{
		command:    CmdRegisterWorkspace,
		action:     authz.ActionWorkspaceRegister,
		requestKey: in.RequestKey,
		input: map[string]any{
			"workspaceId": in.WorkspaceID.String(),
			"vendor":      in.Vendor,
		},
		run: func(ctx context.Context) (effects, error) {
			return p.registerWorkspace(ctx, actx, in)
		},
	})
	if err != nil {
		return RegisterWorkspaceOutput{}, Result{}, err
	}
	if err := res.decode(&out); err != nil {
		return RegisterWorkspaceOutput{}, Result{}, err
	}
	return out, res, nil
}

func (p *Pipeline) registerWorkspace(ctx context.Context, actx primitives.AppContext, in RegisterWorkspaceInput) (effects, error) {
	if in.WorkspaceID == "" || in.Name == "" || in.Vendor == "" {
		return effects{}, apperr.Validationf("registerWorkspace requires workspaceId, name, and vendor")
	}
	if _, err := p.deps.Store.GetWorkspace(ctx, actx.TenantID(), in.WorkspaceID); err == nil {
		return effects{}, apperr.Conflictf("workspace %s already registered", in.WorkspaceID)
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return effects{}, err
	}

	now := p.deps.Now()
	ws := Workspace{
		TenantID:    actx.TenantID(),
		WorkspaceID: in.WorkspaceID,
		Name:        in.Name,
		Vendor:      in.Vendor,
		CreatedAt:   now,
	}
	if err := p.deps.Store.SaveWorkspace(ctx, ws); err != nil {
		return effects{}, apperr.Dependencyf("save workspace: %v", err)
	}

	return effects{
		result: RegisterWorkspaceOutput{WorkspaceID: ws.WorkspaceID},
		drafts: []evidence.Draft{{
			Category: evidence.CategoryAction,
			Actor:    actorFrom(actx),
			Summary:  "workspace registered: " + in.Name,
			Payload: map[string]any{
				"workspaceId": in.WorkspaceID.String(),
				"vendor":      in.Vendor,
			},
			CorrelationID: actx.CorrelationID(),
		}},
		events: []events.NewEnvelopeParams{{
			Type:          "io.portarium.workspace.registered",
			Subject:       in.WorkspaceID.String(),
			TenantID:      actx.TenantID(),
			CorrelationID: actx.CorrelationID(),
			Data:          map[string]any{"name": in.Name, "vendor": in.Vendor},
			Now:           now,
		}},
		project: func(ctx context.Context, seq uint64) error {
			return p.deps.Projector.UpsertWorkspace(ctx, projection.WorkspaceView{
				TenantID:    ws.TenantID,
				WorkspaceID: ws.WorkspaceID,
				Name:        ws.Name,
				Vendor:      ws.Vendor,
				EventSeq:    seq,
				UpdatedAt:   now,
			})
		},
		invalidate: func(ctx context.Context) {
			p.deps.Invalidator.OnWorkspaceChanged(ctx, actx.TenantID())
		},
	}, nil
}
