package auth

import (
	"context"

	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/schema"
)

// Principal names set by the middleware when there is no username.
const (
	Anonymous       = "anonymous"
	APIKeyPrincipal = "apikey"
)

type principalKey struct{}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, principalKey{}, name)
}

// Principal returns the principal stored in ctx, or Anonymous.
func Principal(ctx context.Context) string {
	if name, ok := ctx.Value(principalKey{}).(string); ok && name != "" {
		return name
	}
	return Anonymous
}

// StaticPermissions resolves visibility predicates from the schema file. A
// principal without an entry gets the default predicate.
type StaticPermissions struct {
	permissions schema.Permissions
}

// NewStaticPermissions creates a provider backed by p.
func NewStaticPermissions(p schema.Permissions) *StaticPermissions {
	return &StaticPermissions{permissions: p}
}

// VisibilityPredicate returns the filters for the principal in ctx.
func (s *StaticPermissions) VisibilityPredicate(ctx context.Context) (domain.Filters, error) {
	if filters, ok := s.permissions.Principals[Principal(ctx)]; ok {
		return filters, nil
	}
	return s.permissions.Default, nil
}
