// pkg/middleware/tenant.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"grcbridge/pkg/problems"
	"grcbridge/pkg/tenants"
)

type ctxTenantKey struct{}

// WithTenant resolves the calling tenant from X-Tenant-ID (id or slug) when
// present, else from the request host.
func WithTenant(prov tenants.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Allow health/metrics without tenant context
			switch r.URL.Path {
			case "/healthz", "/metrics":
				next.ServeHTTP(w, r)
				return
			}
			var t tenants.Tenant
			var err error
			if tid := strings.TrimSpace(r.Header.Get("X-Tenant-ID")); tid != "" {
				t, err = prov.ResolveTenantByID(r.Context(), tid)
			} else {
				host := r.Host
				if i := strings.Index(host, ":"); i > 0 {
					host = host[:i]
				}
				t, err = prov.ResolveTenantByHost(r.Context(), host)
			}
			if err != nil {
				problems.Write(w, problems.New(http.StatusNotFound, "unknown-tenant", "Unknown tenant", ""))
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithTenant(r.Context(), t)))
		})
	}
}

func ContextWithTenant(ctx context.Context, t tenants.Tenant) context.Context {
	return context.WithValue(ctx, ctxTenantKey{}, t)
}

func TenantFrom(ctx context.Context) tenants.Tenant {
	if v, ok := ctx.Value(ctxTenantKey{}).(tenants.Tenant); ok {
		return v
	}
	return tenants.Tenant{}
}
