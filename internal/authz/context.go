package authz

import "context"

type principalKey struct{}

// WithPrincipal attaches the acting principal to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ActorFromContext returns the acting identity reference, or "".
func ActorFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.IdentityRef
}
