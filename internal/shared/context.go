package shared

import (
	"context"

	"github.com/google/uuid"
)

// SystemActor is recorded for changes made by background jobs.
const SystemActor = "system:recurring"

// Principal identifies the tenant and actor behind a request.
type Principal struct {
	TenantID uuid.UUID
	Actor    string
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// RequirePrincipal returns the principal or ErrUnauthorized when absent.
func RequirePrincipal(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.TenantID == uuid.Nil || p.Actor == "" {
		return Principal{}, ErrUnauthorized
	}
	return p, nil
}
