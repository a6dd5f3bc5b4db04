package middleware

import (
	"context"

	wardAuth "github.com/MrEthical07/wardAuth"
)

type principalContextKey struct{}

// WithPrincipal attaches an authenticated principal to ctx.
func WithPrincipal(ctx context.Context, p *wardAuth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal set by a guard.
func PrincipalFromContext(ctx context.Context) (*wardAuth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*wardAuth.Principal)
	return p, ok && p != nil
}
