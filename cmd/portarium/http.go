package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/auth"
	"github.com/portarium/core/pkg/commands"
	"github.com/portarium/core/pkg/primitives"
)

type handler struct {
	pipeline *commands.Pipeline
	queries  *commands.Queries
	auth     *auth.Authenticator
	logger   *slog.Logger
}

func newHandler(pipeline *commands.Pipeline, queries *commands.Queries, authenticator *auth.Authenticator, logger *slog.Logger) http.Handler {
	h := &handler{pipeline: pipeline, queries: queries, auth: authenticator, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("POST /v1/runs", h.startWorkflow)
	mux.HandleFunc("GET /v1/runs", h.listRuns)
	mux.HandleFunc("GET /v1/runs/{id}", h.getRun)
	mux.HandleFunc("POST /v1/approvals", h.createApproval)
	mux.HandleFunc("POST /v1/approvals/{id}/decision", h.submitApproval)
	mux.HandleFunc("POST /v1/work-items/{id}/complete", h.completeWorkItem)
	mux.HandleFunc("POST /v1/workspaces", h.registerWorkspace)
	mux.HandleFunc("GET /v1/workspaces", h.listWorkspaces)
	mux.HandleFunc("GET /v1/evidence", h.listEvidence)

	return mux
}

// authenticate resolves the caller's application context from the
// Authorization header.
func (h *handler) authenticate(w http.ResponseWriter, r *http.Request) (primitives.AppContext, bool) {
	actx, err := h.auth.AuthenticateBearerToken(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		h.writeError(w, err)
		return primitives.AppContext{}, false
	}
	return actx, true
}

func (h *handler) startWorkflow(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var body struct {
		RequestKey  string         `json:"requestKey"`
		WorkflowID  string         `json:"workflowId"`
		WorkspaceID string         `json:"workspaceId"`
		Parameters  map[string]any `json:"parameters"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	workflowID, err := primitives.ParseWorkflowID(body.WorkflowID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	workspaceID, err := primitives.ParseWorkspaceID(body.WorkspaceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out, res, err := h.pipeline.StartWorkflow(r.Context(), actx, commands.StartWorkflowInput{
		RequestKey:  body.RequestKey,
		WorkflowID:  workflowID,
		WorkspaceID: workspaceID,
		Parameters:  body.Parameters,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeResult(w, out, res, http.StatusCreated)
}

func (h *handler) createApproval(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var body struct {
		RequestKey string `json:"requestKey"`
		RunID      string `json:"runId"`
		Summary    string `json:"summary"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	runID, err := primitives.ParseRunID(body.RunID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out, res, err := h.pipeline.CreateApproval(r.Context(), actx, commands.CreateApprovalInput{
		RequestKey: body.RequestKey,
		RunID:      runID,
		Summary:    body.Summary,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeResult(w, out, res, http.StatusCreated)
}

func (h *handler) submitApproval(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var body struct {
		RequestKey  string `json:"requestKey"`
		WorkspaceID string `json:"workspaceId"`
		Approve     bool   `json:"approve"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	approvalID, err := primitives.ParseApprovalID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	workspaceID, err := primitives.ParseWorkspaceID(body.WorkspaceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out, res, err := h.pipeline.SubmitApproval(r.Context(), actx, commands.SubmitApprovalInput{
		RequestKey:  body.RequestKey,
		ApprovalID:  approvalID,
		WorkspaceID: workspaceID,
		Approve:     body.Approve,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeResult(w, out, res, http.StatusOK)
}

func (h *handler) completeWorkItem(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var body struct {
		RequestKey string `json:"requestKey"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	workItemID, err := primitives.ParseWorkItemID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out, res, err := h.pipeline.CompleteWorkItem(r.Context(), actx, commands.CompleteWorkItemInput{
		RequestKey: body.RequestKey,
		WorkItemID: workItemID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeResult(w, out, res, http.StatusOK)
}

func (h *handler) registerWorkspace(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var body struct {
		RequestKey  string `json:"requestKey"`
		WorkspaceID string `json:"workspaceId"`
		Name        string `json:"name"`
		Vendor      string `json:"vendor"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	workspaceID, err := primitives.ParseWorkspaceID(body.WorkspaceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out, res, err := h.pipeline.RegisterWorkspace(r.Context(), actx, commands.RegisterWorkspaceInput{
		RequestKey:  body.RequestKey,
		WorkspaceID: workspaceID,
		Name:        body.Name,
		Vendor:      body.Vendor,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeResult(w, out, res, http.StatusCreated)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	runID, err := primitives.ParseRunID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.queries.GetRun(r.Context(), actx, runID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	views, err := h.queries.ListRuns(r.Context(), actx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *handler) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	views, err := h.queries.ListWorkspaces(r.Context(), actx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *handler) listEvidence(w http.ResponseWriter, r *http.Request) {
	actx, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	entries, err := h.queries.ListEvidence(r.Context(), actx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		h.writeError(w, apperr.Validationf("decode request body: %v", err))
		return false
	}
	return true
}

func (h *handler) writeResult(w http.ResponseWriter, out any, res commands.Result, created int) {
	status := created
	if res.Replayed {
		// A replay returns the original result, not a second creation.
		status = http.StatusOK
	}
	h.writeJSON(w, status, out)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindSerialization:
		status = http.StatusBadRequest
	case apperr.KindUnauthorized:
		status = http.StatusUnauthorized
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindRateLimited:
		status = http.StatusTooManyRequests
	case apperr.KindDependencyFailure:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
