package guard

import (
	"context"
	"strings"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/identity"
)

// RolesGuard admits identities holding at least one of Required.
type RolesGuard struct {
	Required []string
}

// Roles returns a guard requiring any of the given roles.
func Roles(required ...string) *RolesGuard {
	return &RolesGuard{Required: required}
}

func (g *RolesGuard) Check(_ context.Context, gc *Context) error {
	if gc.Identity == nil || identity.IsNone(gc.Identity) {
		return apperrors.Unauthorized("AUTHENTICATION_REQUIRED", "Authentication required").
			WithOperation(gc.Operation()).
			Build()
	}
	if len(g.Required) == 0 || identity.HasAnyRole(gc.Identity, g.Required...) {
		return nil
	}
	return apperrors.Forbidden("INSUFFICIENT_ROLES", "Insufficient roles").
		WithOperation(gc.Operation()).
		WithDetails("requires one of " + strings.Join(g.Required, ", ")).
		Build()
}
