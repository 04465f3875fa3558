// Package auth turns bearer tokens into request contexts. The core only
// consumes the resulting AppContext; token issuance and key distribution
// live outside.
package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// Claims are the token claims the control plane requires.
type Claims struct {
	jwt.RegisteredClaims
	TenantID      string   `json:"tenant_id"`
	Roles         []string `json:"roles"`
	Scopes        []string `json:"scopes,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// Authenticator validates bearer tokens and builds AppContexts.
type Authenticator struct {
	keyFunc jwt.Keyfunc
	methods []string
}

// NewHMACAuthenticator validates HS256 tokens signed with secret.
func NewHMACAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{
		keyFunc: func(*jwt.Token) (any, error) { return secret, nil },
		methods: []string{jwt.SigningMethodHS256.Alg()},
	}
}

// NewAuthenticator validates tokens against a caller-supplied key
// function, for deployments with rotating or asymmetric keys.
func NewAuthenticator(keyFunc jwt.Keyfunc, methods ...string) *Authenticator {
	return &Authenticator{keyFunc: keyFunc, methods: methods}
}

// AuthenticateBearerToken validates the Authorization header value and
// returns the request context. Every failure maps to Unauthorized; the
// caller learns nothing about which check rejected the token.
func (a *Authenticator) AuthenticateBearerToken(_ context.Context, header string) (primitives.AppContext, error) {
	raw, err := stripBearer(header)
	if err != nil {
		return primitives.AppContext{}, err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, a.keyFunc,
		jwt.WithValidMethods(a.methods),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return primitives.AppContext{}, apperr.Unauthorizedf("invalid or expired token")
	}
	if claims.Subject == "" {
		return primitives.AppContext{}, apperr.Unauthorizedf("token missing subject")
	}
	if claims.TenantID == "" {
		return primitives.AppContext{}, apperr.Unauthorizedf("token missing tenant binding")
	}

	tenant, err := primitives.ParseTenantID(claims.TenantID)
	if err != nil {
		return primitives.AppContext{}, apperr.Unauthorizedf("token tenant is malformed")
	}
	principal, err := primitives.ParseUserID(claims.Subject)
	if err != nil {
		return primitives.AppContext{}, apperr.Unauthorizedf("token subject is malformed")
	}
	correlation := claims.CorrelationID
	if correlation == "" {
		correlation = uuid.NewString()
	}
	corrID, err := primitives.ParseCorrelationID(correlation)
	if err != nil {
		return primitives.AppContext{}, apperr.Unauthorizedf("correlation id is malformed")
	}

	actx, err := primitives.NewAppContext(tenant, principal, claims.Roles, claims.Scopes, corrID)
	if err != nil {
		return primitives.AppContext{}, apperr.Unauthorizedf("token claims incomplete")
	}
	return actx, nil
}

func stripBearer(header string) (string, error) {
	if header == "" {
		return "", apperr.Unauthorizedf("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apperr.Unauthorizedf("authorization header is not a bearer token")
	}
	return strings.TrimSpace(parts[1]), nil
}
