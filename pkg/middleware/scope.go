// pkg/middleware/scope.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"grcbridge/pkg/problems"
)

// local context key type (unique to this file)
type scopeCtxKey string

const (
	ctxScopesKey scopeCtxKey = "scopes"
)

// WithScopes stores scopes slice in context.
func WithScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, ctxScopesKey, scopes)
}

// ScopesFrom extracts scopes slice from context.
func ScopesFrom(ctx context.Context) []string {
	if s, ok := ctx.Value(ctxScopesKey).([]string); ok {
		return s
	}
	return nil
}

// HasAnyScope returns true if context holds at least one of the required
// scopes. Callers that were never authenticated (dev pass-through) carry no
// scope list at all and are allowed.
func HasAnyScope(ctx context.Context, required []string) bool {
	if len(required) == 0 {
		return true
	}
	curr, ok := ctx.Value(ctxScopesKey).([]string)
	if !ok {
		return true
	}
	set := map[string]struct{}{}
	for _, s := range curr {
		set[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

// RequireAnyScope rejects requests whose token carries none of the scopes.
func RequireAnyScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasAnyScope(r.Context(), scopes) {
				problems.Write(w, problems.New(http.StatusForbidden, "insufficient-scope", "Insufficient scope", "requires one of: "+strings.Join(scopes, " ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
