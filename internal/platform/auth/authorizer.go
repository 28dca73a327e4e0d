package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrForbidden is returned when the caller lacks a capability.
var ErrForbidden = errors.New("auth: forbidden")

// RoleAuthorizer grants capabilities to callers holding one of the configured roles.
type RoleAuthorizer struct {
	grants map[string][]string
}

// NewRoleAuthorizer returns an authorizer without any grants.
func NewRoleAuthorizer() *RoleAuthorizer {
	return &RoleAuthorizer{grants: make(map[string][]string)}
}

// Grant allows callers holding any of roles to exercise capability.
func (a *RoleAuthorizer) Grant(capability string, roles ...string) *RoleAuthorizer {
	capability = strings.TrimSpace(capability)
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			a.grants[capability] = append(a.grants[capability], role)
		}
	}
	return a
}

// Authorize checks the identity stored in ctx against the grants for capability.
func (a *RoleAuthorizer) Authorize(ctx context.Context, capability string) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return ErrForbidden
	}
	if a == nil {
		return ErrForbidden
	}
	roles := a.grants[strings.TrimSpace(capability)]
	if len(roles) == 0 || !identity.HasAnyRole(roles...) {
		return ErrForbidden
	}
	return nil
}
