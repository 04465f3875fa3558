package primitives

import (
	"context"
	"slices"

	"github.com/portarium/core/pkg/apperr"
)

// AppContext is the immutable per-request context produced by the external
// authentication boundary. It is constructed once and never mutated
// mid-pipeline.
type AppContext struct {
	tenantID      TenantID
	principalID   UserID
	roles         []string
	scopes        []string
	correlationID CorrelationID
}

// NewAppContext validates and builds an AppContext. Roles and scopes are
// copied so later mutation of the caller's slices cannot leak in.
func NewAppContext(tenantID TenantID, principalID UserID, roles, scopes []string, correlationID CorrelationID) (AppContext, error) {
	if tenantID == "" {
		return AppContext{}, apperr.Validationf("app context requires a tenantId")
	}
	if principalID == "" {
		return AppContext{}, apperr.Validationf("app context requires a principalId")
	}
	if correlationID == "" {
		return AppContext{}, apperr.Validationf("app context requires a correlationId")
	}
	return AppContext{
		tenantID:      tenantID,
		principalID:   principalID,
		roles:         slices.Clone(roles),
		scopes:        slices.Clone(scopes),
		correlationID: correlationID,
	}, nil
}

// TenantID returns the tenant the request executes under.
func (c AppContext) TenantID() TenantID { return c.tenantID }

// PrincipalID returns the authenticated caller.
func (c AppContext) PrincipalID() UserID { return c.principalID }

// CorrelationID returns the request correlation identifier.
func (c AppContext) CorrelationID() CorrelationID { return c.correlationID }

// Roles returns a copy of the caller's roles.
func (c AppContext) Roles() []string { return slices.Clone(c.roles) }

// Scopes returns a copy of the caller's OAuth scopes.
func (c AppContext) Scopes() []string { return slices.Clone(c.scopes) }

// HasRole reports whether the caller carries the given role.
func (c AppContext) HasRole(role string) bool {
	return slices.Contains(c.roles, role)
}

// HasScope reports whether the caller carries the given scope.
func (c AppContext) HasScope(scope string) bool {
	return slices.Contains(c.scopes, scope)
}

type ctxKey struct{}

// WithAppContext attaches an AppContext to a context.Context.
func WithAppContext(ctx context.Context, ac AppContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext retrieves the AppContext placed by the authentication boundary.
func FromContext(ctx context.Context) (AppContext, error) {
	ac, ok := ctx.Value(ctxKey{}).(AppContext)
	if !ok {
		return AppContext{}, apperr.Unauthorizedf("no app context attached to request")
	}
	return ac, nil
}
