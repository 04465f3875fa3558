// Package workflows stores workflow definitions. A definition is the
// versioned template a run executes; its step layout is validated against
// a JSON Schema at registration so malformed specs never reach the
// orchestrator.
package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// ExecutionTier selects how a run is executed.
type ExecutionTier string

const (
	TierStandard ExecutionTier = "standard"
	TierCritical ExecutionTier = "critical"
)

// Definition is one registered workflow version.
type Definition struct {
	WorkflowID  primitives.WorkflowID  `json:"workflowId"`
	TenantID    primitives.TenantID    `json:"tenantId"`
	WorkspaceID primitives.WorkspaceID `json:"workspaceId"`
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Tier        ExecutionTier          `json:"tier"`
	Active      bool                   `json:"active"`
	Spec        map[string]any         `json:"spec"`
}

// definitionSchema constrains the spec document: at least one named step,
// each step naming an operation.
const definitionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["steps"],
	"properties": {
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "operation"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"operation": {"type": "string", "minLength": 1},
					"input": {"type": "object"}
				}
			}
		},
		"timeoutSeconds": {"type": "integer", "minimum": 1}
	}
}`

// Validator checks definitions before they are stored.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the definition schema once.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://portarium.schemas.local/workflow-spec.schema.json"
	if err := c.AddResource(url, strings.NewReader(definitionSchema)); err != nil {
		return nil, fmt.Errorf("load workflow schema: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks identity fields, the version string, and the spec shape.
func (v *Validator) Validate(def Definition) error {
	if def.WorkflowID == "" || def.TenantID == "" || def.WorkspaceID == "" {
		return apperr.Validationf("workflow definition requires workflowId, tenantId, and workspaceId")
	}
	if def.Name == "" {
		return apperr.Validationf("workflow definition requires a name")
	}
	if _, err := semver.NewVersion(def.Version); err != nil {
		return apperr.Validationf("workflow version %q is not semantic: %v", def.Version, err)
	}
	switch def.Tier {
	case TierStandard, TierCritical:
	default:
		return apperr.Validationf("unknown execution tier %q", def.Tier)
	}
	if def.Spec == nil {
		return apperr.Validationf("workflow definition requires a spec")
	}
	doc, err := normalizeSpec(def.Spec)
	if err != nil {
		return err
	}
	if err := v.schema.Validate(doc); err != nil {
		return apperr.Validationf("workflow spec invalid: %v", err)
	}
	return nil
}

// normalizeSpec round-trips the spec through JSON so the validator sees
// the same value shapes a decode would produce.
func normalizeSpec(m map[string]any) (any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, apperr.Serializationf("marshal workflow spec: %v", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Serializationf("normalize workflow spec: %v", err)
	}
	return doc, nil
}

// SatisfiesConstraint reports whether the definition's version matches a
// caller-supplied semver constraint like ">= 1.2.0, < 2".
func (d Definition) SatisfiesConstraint(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, apperr.Validationf("version constraint %q invalid: %v", constraint, err)
	}
	v, err := semver.NewVersion(d.Version)
	if err != nil {
		return false, apperr.Validationf("workflow version %q is not semantic: %v", d.Version, err)
	}
	return c.Check(v), nil
}

// Store persists workflow definitions.
type Store interface {
	// Put stores a definition, replacing any existing same-version entry.
	Put(ctx context.Context, def Definition) error
	// Get returns one definition by workflow ID.
	Get(ctx context.Context, tenant primitives.TenantID, id primitives.WorkflowID) (Definition, error)
	// ActiveByWorkspace lists active definitions for a workspace.
	ActiveByWorkspace(ctx context.Context, tenant primitives.TenantID, ws primitives.WorkspaceID) ([]Definition, error)
}
