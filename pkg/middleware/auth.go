// pkg/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"grcbridge/pkg/config"
	"grcbridge/pkg/problems"
)

type jwtCtxKey struct{}

// jwksCache caches JWKS sets per URL.
type jwksCache struct {
	mu   sync.RWMutex
	sets map[string]cachedJWKS
}

type cachedJWKS struct {
	set     jwk.Set
	expires time.Time
}

func (c *jwksCache) get(ctx context.Context, url string, ttl time.Duration) (jwk.Set, error) {
	c.mu.RLock()
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		c.mu.RUnlock()
		return e.set, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		c.sets = map[string]cachedJWKS{}
	}
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		return e.set, nil
	}
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.sets[url] = cachedJWKS{set: set, expires: time.Now().Add(ttl)}
	return set, nil
}

func unauthorized(w http.ResponseWriter, status int, slug, title string) {
	problems.Write(w, problems.New(status, slug, title, ""))
}

// JWTAuth validates caller access tokens against the tenant's issuer (or the
// global one) and stores the token and its scopes in the request context.
func JWTAuth(cfg config.Config) func(http.Handler) http.Handler {
	cache := &jwksCache{}
	jwksTTL := 6 * time.Hour
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/.well-known/") {
				next.ServeHTTP(w, r)
				return
			}

			tenant := TenantFrom(r.Context())
			issuer := strings.TrimRight(tenant.OAuthIssuer, "/")
			jwksURL := tenant.JWKSURL
			if issuer == "" {
				issuer = strings.TrimRight(cfg.Issuer, "/")
			}
			if jwksURL == "" {
				jwksURL = cfg.JWKSURL
			}
			// dev: unauthenticated callers pass through
			authz := r.Header.Get("Authorization")
			if cfg.Env == "dev" && strings.TrimSpace(authz) == "" {
				next.ServeHTTP(w, r)
				return
			}
			if issuer == "" || jwksURL == "" {
				problems.Write(w, problems.New(http.StatusInternalServerError, "auth-not-configured", "Caller authentication is not configured", ""))
				return
			}
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				unauthorized(w, http.StatusUnauthorized, "missing-bearer", "Missing bearer token")
				return
			}
			raw := strings.TrimSpace(authz[len("Bearer "):])

			set, err := cache.get(r.Context(), jwksURL, jwksTTL)
			if err != nil {
				problems.Write(w, problems.New(http.StatusBadGateway, "jwks-unavailable", "Signing keys unavailable", ""))
				return
			}

			parseOpts := []jwt.ParseOption{
				jwt.WithKeySet(set),
				jwt.WithIssuer(issuer),
				jwt.WithValidate(true),
				jwt.WithVerify(true),
				jwt.WithAcceptableSkew(cfg.JWTClockSkew),
			}
			accepted := tenant.AcceptedAudiences
			if len(accepted) == 0 && cfg.Audience != "" {
				accepted = []string{cfg.Audience}
			}
			if len(accepted) == 1 {
				parseOpts = append(parseOpts, jwt.WithAudience(accepted[0]))
			}
			jt, perr := jwt.Parse([]byte(raw), parseOpts...)
			if perr != nil {
				unauthorized(w, http.StatusUnauthorized, "invalid-token", "Invalid token")
				return
			}
			if len(accepted) > 1 && !slices.ContainsFunc(jt.Audience(), func(a string) bool { return slices.Contains(accepted, a) }) {
				unauthorized(w, http.StatusUnauthorized, "invalid-audience", "Token audience not accepted")
				return
			}
			// tid must match the resolved tenant when present
			if tid, ok := jt.Get("tid"); ok {
				if ts, _ := tid.(string); ts != "" && tenant.ID != "" && ts != tenant.ID {
					unauthorized(w, http.StatusForbidden, "tenant-mismatch", "Token issued for another tenant")
					return
				}
			}
			var scopes []string
			if sc, ok := jt.Get("scope"); ok {
				if s, _ := sc.(string); s != "" {
					scopes = strings.Fields(s)
				}
			}
			ctx := WithScopes(r.Context(), scopes)
			ctx = context.WithValue(ctx, jwtCtxKey{}, jt)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorSub returns the sub claim of the caller token, or "".
func ActorSub(ctx context.Context) string {
	if jt, ok := ctx.Value(jwtCtxKey{}).(jwt.Token); ok && jt != nil {
		return jt.Subject()
	}
	return ""
}
