package middleware

import "context"

// ScopesFromOK is ScopesFrom plus whether a scope list was stored at all.
// Unauthenticated dev callers have none, which is not the same as an empty
// list.
func ScopesFromOK(ctx context.Context) ([]string, bool) {
	s, ok := ctx.Value(ctxScopesKey).([]string)
	return s, ok
}

// Propagate copies the request-scoped values set by this package (tenant,
// scopes, request id, caller token) from src onto dst. Transports that build
// their own context per message use it to keep the HTTP request's identity.
func Propagate(dst, src context.Context) context.Context {
	if src.Value(ctxTenantKey{}) != nil {
		dst = ContextWithTenant(dst, TenantFrom(src))
	}
	if s, ok := ScopesFromOK(src); ok {
		dst = WithScopes(dst, s)
	}
	if id := RequestIDFrom(src); id != "" {
		dst = context.WithValue(dst, CtxKeyRequestID, id)
	}
	if jt := src.Value(jwtCtxKey{}); jt != nil {
		dst = context.WithValue(dst, jwtCtxKey{}, jt)
	}
	return dst
}
