package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/tollgate-io/tollgate/pkg/permissions"
)

// Principal is the authenticated caller. Authentication itself is the
// transport layer's concern; the engine only consumes the outcome.
type Principal struct {
	UserID   string
	TenantID string
}

type contextKey string

// principalKey carries the Principal set by the transport boundary.
const principalKey contextKey = "tenancy_principal"

// WithPrincipal attaches the caller's identity to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the caller's identity from the context.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Guard is the single choke point for tenant checks. No internal code path
// may bypass it.
type Guard struct{}

// Authorize verifies that the context principal belongs to tenantID. It runs
// before any store access.
func (Guard) Authorize(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: empty tenant id", permissions.ErrValidation)
	}

	p, ok := PrincipalFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: no principal in context", permissions.ErrCrossTenant)
	}
	if p.TenantID != tenantID {
		return fmt.Errorf("%w: principal tenant %s, requested tenant %s",
			permissions.ErrCrossTenant, p.TenantID, tenantID)
	}
	return nil
}

// Mask converts the internally distinct cross-tenant rejection into the
// not-found condition external callers see. All other errors pass through.
func Mask(err error) error {
	if errors.Is(err, permissions.ErrCrossTenant) {
		return fmt.Errorf("%w", permissions.ErrNotFound)
	}
	return err
}
